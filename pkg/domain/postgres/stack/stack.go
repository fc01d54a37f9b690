package stack

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/tracefab/tracefab/pkg/domain"
	kpgerr "github.com/tracefab/tracefab/pkg/domain/postgres/errors"
	kpgintr "github.com/tracefab/tracefab/pkg/domain/postgres/internal"
	kpool "github.com/tracefab/tracefab/pkg/domain/postgres/pool"
	"github.com/tracefab/tracefab/pkg/utils/slices"
)

type pgStack struct {
	pool   kpool.Pool
	logger *log.Logger
	sink   domain.EventSink
}

type Option func(*pgStack) *pgStack

func WithLogger(l *log.Logger) Option {
	return func(s *pgStack) *pgStack {
		s.logger = l
		return s
	}
}

func WithEventSink(sink domain.EventSink) Option {
	return func(s *pgStack) *pgStack {
		s.sink = sink
		return s
	}
}

func New(pool kpool.Pool, options ...Option) *pgStack {
	s := &pgStack{
		pool:   pool,
		logger: log.Default(),
		sink:   domain.NullSink(),
	}
	for _, opt := range options {
		s = opt(s)
	}
	return s
}

var _ domain.StackInterface = &pgStack{}

func (s *pgStack) Create(ctx context.Context, stack domain.Stack) (domain.Stack, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Stack{}, err
	}
	defer tx.Rollback(ctx)

	if err := kpgintr.CheckExists(ctx, tx, "project", stack.ProjectID); err != nil {
		return domain.Stack{}, err
	}
	if err := kpgintr.CheckExists(ctx, tx, "user", stack.UserID); err != nil {
		return domain.Stack{}, err
	}

	if stack.ID == uuid.Nil {
		stack.ID = uuid.New()
	} else if err := kpgintr.CheckIDUnique(ctx, tx, "stack", stack.ID); err != nil {
		return domain.Stack{}, err
	}
	if err := kpgintr.CheckDomainUnique(ctx, tx, kpgintr.DomainKey{
		Table: "stack", Name: stack.Name,
		ProjectID: &stack.ProjectID, UserID: &stack.UserID,
	}); err != nil {
		return domain.Stack{}, err
	}
	if stack.IsShared {
		if err := kpgintr.CheckSharedUnique(ctx, tx, kpgintr.DomainKey{
			Table: "stack", Name: stack.Name, ProjectID: &stack.ProjectID,
		}); err != nil {
			return domain.Stack{}, err
		}
	}

	if err := verifyComponents(ctx, tx, stack.ComponentIDs()); err != nil {
		return domain.Stack{}, err
	}

	if err := tx.QueryRow(
		ctx,
		`
		insert into "stack" ("id", "name", "is_shared", "project_id", "user_id")
		values ($1, $2, $3, $4, $5)
		returning "created_at", "updated_at"
		`,
		stack.ID.String(), stack.Name, stack.IsShared,
		stack.ProjectID.String(), stack.UserID.String(),
	).Scan(&stack.Created, &stack.Updated); err != nil {
		return domain.Stack{}, err
	}

	if err := compose(ctx, tx, stack.ID, stack.ComponentIDs()); err != nil {
		return domain.Stack{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Stack{}, err
	}

	s.sink.Emit(domain.Event{Kind: domain.EventCreated, Entity: "stack", ID: stack.ID})
	return stack, nil
}

// verifyComponents fails with Missing naming every unknown component id.
func verifyComponents(ctx context.Context, conn kpool.Queryer, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}

	params := slices.Map(ids, func(id uuid.UUID) string { return id.String() })
	rows, err := conn.Query(
		ctx,
		`select "id" from "stack_component" where "id" = any($1)`,
		params,
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	known := map[uuid.UUID]struct{}{}
	for rows.Next() {
		var cid pgtype.UUID
		if err := rows.Scan(&cid); err != nil {
			return err
		}
		known[kpgintr.AsUUID(cid)] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	unknown := []string{}
	for _, id := range ids {
		if _, ok := known[id]; !ok {
			unknown = append(unknown, id.String())
		}
	}
	if 0 < len(unknown) {
		return kpgerr.Missing{
			Table:    "stack_component",
			Identity: strings.Join(unknown, ", "),
			Reason:   "some components in the stack do not exist",
		}
	}
	return nil
}

func compose(ctx context.Context, conn kpool.Queryer, stackID uuid.UUID, componentIDs []uuid.UUID) error {
	for _, cid := range componentIDs {
		if _, err := conn.Exec(
			ctx,
			`
			insert into "stack_composition" ("stack_id", "component_id") values ($1, $2)
			on conflict do nothing
			`,
			stackID.String(), cid.String(),
		); err != nil {
			return err
		}
	}
	return nil
}

func (s *pgStack) Get(ctx context.Context, nameOrID string, hydrate bool) (domain.Stack, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return domain.Stack{}, err
	}
	defer conn.Release()

	id, err := kpgintr.ResolveNameOrID(ctx, conn, "stack", nameOrID)
	if err != nil {
		return domain.Stack{}, err
	}

	stack, err := get(ctx, conn, id)
	if err != nil {
		return domain.Stack{}, err
	}

	if hydrate {
		project, err := kpgintr.GetProject(ctx, conn, stack.ProjectID)
		if err != nil {
			return domain.Stack{}, err
		}
		stack.Project = &project

		user, err := kpgintr.GetUser(ctx, conn, stack.UserID)
		if err != nil {
			return domain.Stack{}, err
		}
		stack.User = &user
	}

	return stack, nil
}

func get(ctx context.Context, conn kpool.Queryer, id uuid.UUID) (domain.Stack, error) {
	stack := domain.Stack{}
	var sid, pid, uid pgtype.UUID
	if err := conn.QueryRow(
		ctx,
		`
		select "id", "name", "is_shared", "project_id", "user_id",
		       "created_at", "updated_at"
		from "stack" where "id" = $1
		`,
		id.String(),
	).Scan(
		&sid, &stack.Name, &stack.IsShared, &pid, &uid,
		&stack.Created, &stack.Updated,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Stack{}, kpgerr.Missing{Table: "stack", Identity: id.String()}
		}
		return domain.Stack{}, err
	}
	stack.ID = kpgintr.AsUUID(sid)
	stack.ProjectID = kpgintr.AsUUID(pid)
	stack.UserID = kpgintr.AsUUID(uid)

	components, err := composition(ctx, conn, stack.ID)
	if err != nil {
		return domain.Stack{}, err
	}
	stack.Components = components

	return stack, nil
}

func composition(ctx context.Context, conn kpool.Queryer, stackID uuid.UUID) (map[domain.ComponentType][]uuid.UUID, error) {
	rows, err := conn.Query(
		ctx,
		`
		select "c"."type", "c"."id"
		from "stack_component" as "c"
		inner join "stack_composition" as "sc" on "sc"."component_id" = "c"."id"
		where "sc"."stack_id" = $1
		order by "c"."type", "c"."name"
		`,
		stackID.String(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	components := map[domain.ComponentType][]uuid.UUID{}
	for rows.Next() {
		var ctype string
		var cid pgtype.UUID
		if err := rows.Scan(&ctype, &cid); err != nil {
			return nil, err
		}
		t, err := domain.AsComponentType(ctype)
		if err != nil {
			return nil, err
		}
		components[t] = append(components[t], kpgintr.AsUUID(cid))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return components, nil
}

func (s *pgStack) List(ctx context.Context, filter domain.StackFilter) ([]domain.Stack, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	query := `
	select "id", "name", "is_shared", "project_id", "user_id",
	       "created_at", "updated_at"
	from "stack"
	`
	args := []interface{}{}
	clauses := []string{}

	if filter.Project != nil {
		id, err := kpgintr.ResolveNameOrID(ctx, conn, "project", *filter.Project)
		if err != nil {
			return nil, err
		}
		args = append(args, id.String())
		clauses = append(clauses, fmt.Sprintf(`"project_id" = $%d`, len(args)))
	}
	if filter.User != nil {
		id, err := kpgintr.ResolveNameOrID(ctx, conn, "user", *filter.User)
		if err != nil {
			return nil, err
		}
		args = append(args, id.String())
		clauses = append(clauses, fmt.Sprintf(`"user_id" = $%d`, len(args)))
	}
	if filter.Name != nil {
		args = append(args, *filter.Name)
		clauses = append(clauses, fmt.Sprintf(`"name" = $%d`, len(args)))
	}
	if filter.IsShared != nil {
		args = append(args, *filter.IsShared)
		clauses = append(clauses, fmt.Sprintf(`"is_shared" = $%d`, len(args)))
	}
	if filter.ComponentID != nil {
		args = append(args, filter.ComponentID.String())
		clauses = append(clauses, fmt.Sprintf(
			`"id" in (select "stack_id" from "stack_composition" where "component_id" = $%d)`,
			len(args),
		))
	}
	for i, clause := range clauses {
		if i == 0 {
			query += ` where ` + clause
		} else {
			query += ` and ` + clause
		}
	}
	query += ` order by "name"`

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	stacks := []domain.Stack{}
	for rows.Next() {
		stack := domain.Stack{}
		var sid, pid, uid pgtype.UUID
		if err := rows.Scan(
			&sid, &stack.Name, &stack.IsShared, &pid, &uid,
			&stack.Created, &stack.Updated,
		); err != nil {
			rows.Close()
			return nil, err
		}
		stack.ID = kpgintr.AsUUID(sid)
		stack.ProjectID = kpgintr.AsUUID(pid)
		stack.UserID = kpgintr.AsUUID(uid)
		stacks = append(stacks, stack)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range stacks {
		components, err := composition(ctx, conn, stacks[i].ID)
		if err != nil {
			return nil, err
		}
		stacks[i].Components = components
	}

	return stacks, nil
}

func (s *pgStack) Update(ctx context.Context, id uuid.UUID, patch domain.StackPatch) (domain.Stack, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Stack{}, err
	}
	defer tx.Rollback(ctx)

	stack, err := get(ctx, tx, id)
	if err != nil {
		return domain.Stack{}, err
	}
	if stack.Name == domain.DefaultStackName {
		return domain.Stack{}, kpgerr.Protected{
			Entity: "stack " + stack.Name,
			Reason: "the default stack cannot be modified",
		}
	}

	if patch.Name != nil && *patch.Name != stack.Name {
		if err := kpgintr.CheckDomainUnique(ctx, tx, kpgintr.DomainKey{
			Table: "stack", Name: *patch.Name,
			ProjectID: &stack.ProjectID, UserID: &stack.UserID,
		}); err != nil {
			return domain.Stack{}, err
		}
		stack.Name = *patch.Name
	}
	if patch.IsShared != nil && *patch.IsShared && !stack.IsShared {
		if err := kpgintr.CheckSharedUnique(ctx, tx, kpgintr.DomainKey{
			Table: "stack", Name: stack.Name, ProjectID: &stack.ProjectID,
		}); err != nil {
			return domain.Stack{}, err
		}
	}
	if patch.IsShared != nil {
		stack.IsShared = *patch.IsShared
	}

	if err := tx.QueryRow(
		ctx,
		`
		update "stack"
		set "name" = $2, "is_shared" = $3, "updated_at" = now()
		where "id" = $1
		returning "updated_at"
		`,
		stack.ID.String(), stack.Name, stack.IsShared,
	).Scan(&stack.Updated); err != nil {
		return domain.Stack{}, err
	}

	if patch.Components != nil {
		stack.Components = *patch.Components
		if err := verifyComponents(ctx, tx, stack.ComponentIDs()); err != nil {
			return domain.Stack{}, err
		}
		if _, err := tx.Exec(
			ctx,
			`delete from "stack_composition" where "stack_id" = $1`,
			stack.ID.String(),
		); err != nil {
			return domain.Stack{}, err
		}
		if err := compose(ctx, tx, stack.ID, stack.ComponentIDs()); err != nil {
			return domain.Stack{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Stack{}, err
	}

	s.sink.Emit(domain.Event{Kind: domain.EventUpdated, Entity: "stack", ID: stack.ID})
	return stack, nil
}

func (s *pgStack) Delete(ctx context.Context, id uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	stack, err := get(ctx, tx, id)
	if err != nil {
		return err
	}
	if stack.Name == domain.DefaultStackName {
		return kpgerr.Protected{
			Entity: "stack " + stack.Name,
			Reason: "the default stack cannot be deleted",
		}
	}

	if _, err := tx.Exec(
		ctx, `delete from "stack" where "id" = $1`, id.String(),
	); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	s.sink.Emit(domain.Event{Kind: domain.EventDeleted, Entity: "stack", ID: id})
	return nil
}
