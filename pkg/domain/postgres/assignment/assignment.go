package assignment

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/jackc/pgtype"
	"github.com/tracefab/tracefab/pkg/domain"
	kpgerr "github.com/tracefab/tracefab/pkg/domain/postgres/errors"
	kpgintr "github.com/tracefab/tracefab/pkg/domain/postgres/internal"
	kpool "github.com/tracefab/tracefab/pkg/domain/postgres/pool"
)

type pgAssignment struct {
	pool   kpool.Pool
	logger *log.Logger
	sink   domain.EventSink
}

type Option func(*pgAssignment) *pgAssignment

func WithLogger(l *log.Logger) Option {
	return func(a *pgAssignment) *pgAssignment {
		a.logger = l
		return a
	}
}

func WithEventSink(sink domain.EventSink) Option {
	return func(a *pgAssignment) *pgAssignment {
		a.sink = sink
		return a
	}
}

func New(pool kpool.Pool, options ...Option) *pgAssignment {
	a := &pgAssignment{
		pool:   pool,
		logger: log.Default(),
		sink:   domain.NullSink(),
	}
	for _, opt := range options {
		a = opt(a)
	}
	return a
}

var _ domain.AssignmentInterface = &pgAssignment{}

// scopeOf names the addressed scope in error messages.
func scopeOf(projectNameOrID string) string {
	if projectNameOrID == "" {
		return "globally"
	}
	return "in project " + projectNameOrID
}

// table and subject column per subject kind.
func subjectTable(kind domain.SubjectKind) (table string, column string, err error) {
	switch kind {
	case domain.SubjectUser:
		return "user_role_assignment", "user_id", nil
	case domain.SubjectTeam:
		return "team_role_assignment", "team_id", nil
	default:
		return "", "", fmt.Errorf("'%s' is not SubjectKind", kind)
	}
}

func (a *pgAssignment) resolve(
	ctx context.Context, conn kpool.Queryer,
	roleNameOrID string, subject domain.Subject, projectNameOrID string,
) (roleID uuid.UUID, subjectID uuid.UUID, projectID *uuid.UUID, err error) {
	roleID, err = kpgintr.ResolveNameOrID(ctx, conn, "role", roleNameOrID)
	if err != nil {
		return uuid.Nil, uuid.Nil, nil, err
	}

	subjectID, err = kpgintr.ResolveNameOrID(ctx, conn, string(subject.Kind), subject.NameOrID)
	if err != nil {
		return uuid.Nil, uuid.Nil, nil, err
	}

	if projectNameOrID != "" {
		pid, err := kpgintr.ResolveNameOrID(ctx, conn, "project", projectNameOrID)
		if err != nil {
			return uuid.Nil, uuid.Nil, nil, err
		}
		projectID = &pid
	}

	return roleID, subjectID, projectID, nil
}

func (a *pgAssignment) Assign(
	ctx context.Context, roleNameOrID string, subject domain.Subject, projectNameOrID string,
) error {
	table, column, err := subjectTable(subject.Kind)
	if err != nil {
		return err
	}

	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	roleID, subjectID, projectID, err := a.resolve(
		ctx, tx, roleNameOrID, subject, projectNameOrID,
	)
	if err != nil {
		return err
	}

	var exists bool
	if err := tx.QueryRow(
		ctx,
		fmt.Sprintf(
			`
			select exists (
				select 1 from %q
				where "role_id" = $1 and %q = $2
				  and "project_id" is not distinct from $3
			)
			`,
			table, column,
		),
		roleID.String(), subjectID.String(), kpgintr.UUIDParam(projectID),
	).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return kpgerr.Conflict{
			Table: table, Identity: subject.NameOrID,
			Reason: fmt.Sprintf(
				"role %s is already assigned to %s %s %s",
				roleNameOrID, subject.Kind, subject.NameOrID, scopeOf(projectNameOrID),
			),
		}
	}

	id := uuid.New()
	if _, err := tx.Exec(
		ctx,
		fmt.Sprintf(
			`insert into %q ("id", "role_id", %q, "project_id") values ($1, $2, $3, $4)`,
			table, column,
		),
		id.String(), roleID.String(), subjectID.String(), kpgintr.UUIDParam(projectID),
	); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	a.sink.Emit(domain.Event{Kind: domain.EventAssigned, Entity: table, ID: id})
	return nil
}

func (a *pgAssignment) Revoke(
	ctx context.Context, roleNameOrID string, subject domain.Subject, projectNameOrID string,
) error {
	table, column, err := subjectTable(subject.Kind)
	if err != nil {
		return err
	}

	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	roleID, subjectID, projectID, err := a.resolve(
		ctx, tx, roleNameOrID, subject, projectNameOrID,
	)
	if err != nil {
		return err
	}

	cmd, err := tx.Exec(
		ctx,
		fmt.Sprintf(
			`
			delete from %q
			where "role_id" = $1 and %q = $2
			  and "project_id" is not distinct from $3
			`,
			table, column,
		),
		roleID.String(), subjectID.String(), kpgintr.UUIDParam(projectID),
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return kpgerr.Missing{
			Table: table, Identity: subject.NameOrID,
			Reason: fmt.Sprintf(
				"role %s is not assigned to %s %s %s",
				roleNameOrID, subject.Kind, subject.NameOrID, scopeOf(projectNameOrID),
			),
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	a.sink.Emit(domain.Event{Kind: domain.EventRevoked, Entity: table, ID: roleID})
	return nil
}

func (a *pgAssignment) List(
	ctx context.Context, query domain.AssignmentQuery,
) ([]domain.RoleAssignment, error) {
	conn, err := a.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	var roleID, userID, teamID, projectID *uuid.UUID
	if query.Role != nil {
		id, err := kpgintr.ResolveNameOrID(ctx, conn, "role", *query.Role)
		if err != nil {
			return nil, err
		}
		roleID = &id
	}
	if query.User != nil {
		id, err := kpgintr.ResolveNameOrID(ctx, conn, "user", *query.User)
		if err != nil {
			return nil, err
		}
		userID = &id
	}
	if query.Team != nil {
		id, err := kpgintr.ResolveNameOrID(ctx, conn, "team", *query.Team)
		if err != nil {
			return nil, err
		}
		teamID = &id
	}
	if query.Project != nil {
		id, err := kpgintr.ResolveNameOrID(ctx, conn, "project", *query.Project)
		if err != nil {
			return nil, err
		}
		projectID = &id
	}

	assignments := []domain.RoleAssignment{}

	// a user filter excludes team assignments and vice versa.
	if teamID == nil {
		found, err := list(ctx, conn, "user_role_assignment", "user_id", roleID, userID, projectID)
		if err != nil {
			return nil, err
		}
		assignments = append(assignments, found...)
	}
	if userID == nil {
		found, err := list(ctx, conn, "team_role_assignment", "team_id", roleID, teamID, projectID)
		if err != nil {
			return nil, err
		}
		assignments = append(assignments, found...)
	}

	return assignments, nil
}

func list(
	ctx context.Context, conn kpool.Queryer,
	table string, column string,
	roleID *uuid.UUID, subjectID *uuid.UUID, projectID *uuid.UUID,
) ([]domain.RoleAssignment, error) {
	query := fmt.Sprintf(
		`select "id", "role_id", %q, "project_id", "created_at", "updated_at" from %q`,
		column, table,
	)
	args := []interface{}{}
	clauses := []string{}

	if roleID != nil {
		args = append(args, roleID.String())
		clauses = append(clauses, fmt.Sprintf(`"role_id" = $%d`, len(args)))
	}
	if subjectID != nil {
		args = append(args, subjectID.String())
		clauses = append(clauses, fmt.Sprintf(`%q = $%d`, column, len(args)))
	}
	if projectID != nil {
		args = append(args, projectID.String())
		clauses = append(clauses, fmt.Sprintf(`"project_id" = $%d`, len(args)))
	}
	for i, clause := range clauses {
		if i == 0 {
			query += ` where ` + clause
		} else {
			query += ` and ` + clause
		}
	}
	query += ` order by "created_at"`

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	assignments := []domain.RoleAssignment{}
	for rows.Next() {
		assignment := domain.RoleAssignment{}
		var aid, rid, sid, pid pgtype.UUID
		if err := rows.Scan(
			&aid, &rid, &sid, &pid, &assignment.Created, &assignment.Updated,
		); err != nil {
			return nil, err
		}
		assignment.ID = kpgintr.AsUUID(aid)
		assignment.RoleID = kpgintr.AsUUID(rid)
		switch column {
		case "user_id":
			assignment.UserID = kpgintr.AsNullableUUID(sid)
		case "team_id":
			assignment.TeamID = kpgintr.AsNullableUUID(sid)
		}
		assignment.ProjectID = kpgintr.AsNullableUUID(pid)
		assignments = append(assignments, assignment)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return assignments, nil
}
