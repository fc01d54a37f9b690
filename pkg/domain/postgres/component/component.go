package component

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/tracefab/tracefab/pkg/domain"
	kpgerr "github.com/tracefab/tracefab/pkg/domain/postgres/errors"
	kpgintr "github.com/tracefab/tracefab/pkg/domain/postgres/internal"
	kpool "github.com/tracefab/tracefab/pkg/domain/postgres/pool"
)

type pgComponent struct {
	pool   kpool.Pool
	logger *log.Logger
	sink   domain.EventSink
}

type Option func(*pgComponent) *pgComponent

func WithLogger(l *log.Logger) Option {
	return func(c *pgComponent) *pgComponent {
		c.logger = l
		return c
	}
}

func WithEventSink(sink domain.EventSink) Option {
	return func(c *pgComponent) *pgComponent {
		c.sink = sink
		return c
	}
}

func New(pool kpool.Pool, options ...Option) *pgComponent {
	c := &pgComponent{
		pool:   pool,
		logger: log.Default(),
		sink:   domain.NullSink(),
	}
	for _, opt := range options {
		c = opt(c)
	}
	return c
}

var _ domain.ComponentInterface = &pgComponent{}

// the default orchestrator and artifact store are registered at
// deployment time and cannot be modified nor deleted.
func isProtectedDefault(component domain.StackComponent) bool {
	if component.Name != domain.DefaultComponentName {
		return false
	}
	return component.Type == domain.OrchestratorType ||
		component.Type == domain.ArtifactStoreType
}

func (c *pgComponent) Create(ctx context.Context, component domain.StackComponent) (domain.StackComponent, error) {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return domain.StackComponent{}, err
	}
	defer tx.Rollback(ctx)

	if err := kpgintr.CheckExists(ctx, tx, "project", component.ProjectID); err != nil {
		return domain.StackComponent{}, err
	}
	if err := kpgintr.CheckExists(ctx, tx, "user", component.UserID); err != nil {
		return domain.StackComponent{}, err
	}

	if component.ID == uuid.Nil {
		component.ID = uuid.New()
	} else if err := kpgintr.CheckIDUnique(ctx, tx, "stack_component", component.ID); err != nil {
		return domain.StackComponent{}, err
	}
	if err := kpgintr.CheckDomainUnique(ctx, tx, kpgintr.DomainKey{
		Table: "stack_component", Name: component.Name,
		ProjectID: &component.ProjectID, UserID: &component.UserID,
		Type: component.Type.String(),
	}); err != nil {
		return domain.StackComponent{}, err
	}
	if component.IsShared {
		if err := kpgintr.CheckSharedUnique(ctx, tx, kpgintr.DomainKey{
			Table: "stack_component", Name: component.Name,
			ProjectID: &component.ProjectID,
			Type:      component.Type.String(),
		}); err != nil {
			return domain.StackComponent{}, err
		}
	}

	if err := tx.QueryRow(
		ctx,
		`
		insert into "stack_component"
		    ("id", "name", "type", "flavor", "configuration", "is_shared", "project_id", "user_id")
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		returning "created_at", "updated_at"
		`,
		component.ID.String(), component.Name, component.Type.String(),
		component.FlavorName, component.Configuration, component.IsShared,
		component.ProjectID.String(), component.UserID.String(),
	).Scan(&component.Created, &component.Updated); err != nil {
		return domain.StackComponent{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.StackComponent{}, err
	}

	c.sink.Emit(domain.Event{Kind: domain.EventCreated, Entity: "stack_component", ID: component.ID})
	return component, nil
}

func (c *pgComponent) Get(ctx context.Context, nameOrID string, hydrate bool) (domain.StackComponent, error) {
	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return domain.StackComponent{}, err
	}
	defer conn.Release()

	id, err := kpgintr.ResolveNameOrID(ctx, conn, "stack_component", nameOrID)
	if err != nil {
		return domain.StackComponent{}, err
	}

	component, err := Find(ctx, conn, id)
	if err != nil {
		return domain.StackComponent{}, err
	}

	if hydrate {
		project, err := kpgintr.GetProject(ctx, conn, component.ProjectID)
		if err != nil {
			return domain.StackComponent{}, err
		}
		component.Project = &project

		user, err := kpgintr.GetUser(ctx, conn, component.UserID)
		if err != nil {
			return domain.StackComponent{}, err
		}
		component.User = &user
	}

	return component, nil
}

// Find reads one component row by id. Exported for the stack store,
// which hydrates its composition.
func Find(ctx context.Context, conn kpool.Queryer, id uuid.UUID) (domain.StackComponent, error) {
	component := domain.StackComponent{}
	var cid, pid, uid pgtype.UUID
	var ctype string
	if err := conn.QueryRow(
		ctx,
		`
		select "id", "name", "type", "flavor", "configuration", "is_shared",
		       "project_id", "user_id", "created_at", "updated_at"
		from "stack_component" where "id" = $1
		`,
		id.String(),
	).Scan(
		&cid, &component.Name, &ctype, &component.FlavorName,
		&component.Configuration, &component.IsShared,
		&pid, &uid, &component.Created, &component.Updated,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.StackComponent{}, kpgerr.Missing{
				Table: "stack_component", Identity: id.String(),
			}
		}
		return domain.StackComponent{}, err
	}
	component.ID = kpgintr.AsUUID(cid)
	component.ProjectID = kpgintr.AsUUID(pid)
	component.UserID = kpgintr.AsUUID(uid)

	t, err := domain.AsComponentType(ctype)
	if err != nil {
		return domain.StackComponent{}, err
	}
	component.Type = t

	return component, nil
}

func (c *pgComponent) List(ctx context.Context, filter domain.ComponentFilter) ([]domain.StackComponent, error) {
	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	query := `
	select "id", "name", "type", "flavor", "configuration", "is_shared",
	       "project_id", "user_id", "created_at", "updated_at"
	from "stack_component"
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
	if filter.Type != nil {
		args = append(args, filter.Type.String())
		clauses = append(clauses, fmt.Sprintf(`"type" = $%d`, len(args)))
	}
	if filter.Name != nil {
		args = append(args, *filter.Name)
		clauses = append(clauses, fmt.Sprintf(`"name" = $%d`, len(args)))
	}
	if filter.FlavorName != nil {
		args = append(args, *filter.FlavorName)
		clauses = append(clauses, fmt.Sprintf(`"flavor" = $%d`, len(args)))
	}
	if filter.IsShared != nil {
		args = append(args, *filter.IsShared)
		clauses = append(clauses, fmt.Sprintf(`"is_shared" = $%d`, len(args)))
	}
	for i, clause := range clauses {
		if i == 0 {
			query += ` where ` + clause
		} else {
			query += ` and ` + clause
		}
	}
	query += ` order by "type", "name"`

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	components := []domain.StackComponent{}
	for rows.Next() {
		component := domain.StackComponent{}
		var cid, pid, uid pgtype.UUID
		var ctype string
		if err := rows.Scan(
			&cid, &component.Name, &ctype, &component.FlavorName,
			&component.Configuration, &component.IsShared,
			&pid, &uid, &component.Created, &component.Updated,
		); err != nil {
			return nil, err
		}
		component.ID = kpgintr.AsUUID(cid)
		component.ProjectID = kpgintr.AsUUID(pid)
		component.UserID = kpgintr.AsUUID(uid)

		t, err := domain.AsComponentType(ctype)
		if err != nil {
			return nil, err
		}
		component.Type = t

		components = append(components, component)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return components, nil
}

func (c *pgComponent) Update(ctx context.Context, id uuid.UUID, patch domain.ComponentPatch) (domain.StackComponent, error) {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return domain.StackComponent{}, err
	}
	defer tx.Rollback(ctx)

	component, err := Find(ctx, tx, id)
	if err != nil {
		return domain.StackComponent{}, err
	}
	if isProtectedDefault(component) {
		return domain.StackComponent{}, kpgerr.Protected{
			Entity: fmt.Sprintf("%s %s", component.Type, component.Name),
			Reason: "the default " + component.Type.String() + " cannot be modified",
		}
	}

	if patch.Name != nil && *patch.Name != component.Name {
		if err := kpgintr.CheckDomainUnique(ctx, tx, kpgintr.DomainKey{
			Table: "stack_component", Name: *patch.Name,
			ProjectID: &component.ProjectID, UserID: &component.UserID,
			Type: component.Type.String(),
		}); err != nil {
			return domain.StackComponent{}, err
		}
		component.Name = *patch.Name
	}
	if patch.FlavorName != nil {
		component.FlavorName = *patch.FlavorName
	}
	if patch.Configuration != nil {
		component.Configuration = *patch.Configuration
	}
	if patch.IsShared != nil && *patch.IsShared && !component.IsShared {
		if err := kpgintr.CheckSharedUnique(ctx, tx, kpgintr.DomainKey{
			Table: "stack_component", Name: component.Name,
			ProjectID: &component.ProjectID,
			Type:      component.Type.String(),
		}); err != nil {
			return domain.StackComponent{}, err
		}
	}
	if patch.IsShared != nil {
		component.IsShared = *patch.IsShared
	}

	if err := tx.QueryRow(
		ctx,
		`
		update "stack_component"
		set "name" = $2, "flavor" = $3, "configuration" = $4,
		    "is_shared" = $5, "updated_at" = now()
		where "id" = $1
		returning "updated_at"
		`,
		component.ID.String(), component.Name, component.FlavorName,
		component.Configuration, component.IsShared,
	).Scan(&component.Updated); err != nil {
		return domain.StackComponent{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.StackComponent{}, err
	}

	c.sink.Emit(domain.Event{Kind: domain.EventUpdated, Entity: "stack_component", ID: component.ID})
	return component, nil
}

func (c *pgComponent) Delete(ctx context.Context, id uuid.UUID) error {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	component, err := Find(ctx, tx, id)
	if err != nil {
		return err
	}
	if isProtectedDefault(component) {
		return kpgerr.Protected{
			Entity: fmt.Sprintf("%s %s", component.Type, component.Name),
			Reason: "the default " + component.Type.String() + " cannot be deleted",
		}
	}

	var stacks int
	if err := tx.QueryRow(
		ctx,
		`select count(*) from "stack_composition" where "component_id" = $1`,
		id.String(),
	).Scan(&stacks); err != nil {
		return err
	}
	if 0 < stacks {
		return kpgerr.Protected{
			Entity: fmt.Sprintf("%s %s", component.Type, component.Name),
			Reason: fmt.Sprintf(
				"the component is part of %d stacks; remove it from them first",
				stacks,
			),
		}
	}

	if _, err := tx.Exec(
		ctx, `delete from "stack_component" where "id" = $1`, id.String(),
	); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	c.sink.Emit(domain.Event{Kind: domain.EventDeleted, Entity: "stack_component", ID: id})
	return nil
}
