package flavor

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

type pgFlavor struct {
	pool   kpool.Pool
	logger *log.Logger
	sink   domain.EventSink
}

type Option func(*pgFlavor) *pgFlavor

func WithLogger(l *log.Logger) Option {
	return func(f *pgFlavor) *pgFlavor {
		f.logger = l
		return f
	}
}

func WithEventSink(sink domain.EventSink) Option {
	return func(f *pgFlavor) *pgFlavor {
		f.sink = sink
		return f
	}
}

func New(pool kpool.Pool, options ...Option) *pgFlavor {
	f := &pgFlavor{
		pool:   pool,
		logger: log.Default(),
		sink:   domain.NullSink(),
	}
	for _, opt := range options {
		f = opt(f)
	}
	return f
}

var _ domain.FlavorInterface = &pgFlavor{}

func (f *pgFlavor) Create(ctx context.Context, flavor domain.Flavor) (domain.Flavor, error) {
	tx, err := f.pool.Begin(ctx)
	if err != nil {
		return domain.Flavor{}, err
	}
	defer tx.Rollback(ctx)

	if err := kpgintr.CheckExists(ctx, tx, "project", flavor.ProjectID); err != nil {
		return domain.Flavor{}, err
	}
	if err := kpgintr.CheckExists(ctx, tx, "user", flavor.UserID); err != nil {
		return domain.Flavor{}, err
	}

	if flavor.ID == uuid.Nil {
		flavor.ID = uuid.New()
	} else if err := kpgintr.CheckIDUnique(ctx, tx, "flavor", flavor.ID); err != nil {
		return domain.Flavor{}, err
	}
	if err := kpgintr.CheckDomainUnique(ctx, tx, kpgintr.DomainKey{
		Table: "flavor", Name: flavor.Name,
		ProjectID: &flavor.ProjectID, UserID: &flavor.UserID,
		Type: flavor.Type.String(),
	}); err != nil {
		return domain.Flavor{}, err
	}

	if err := tx.QueryRow(
		ctx,
		`
		insert into "flavor" ("id", "name", "type", "source", "config_schema", "project_id", "user_id")
		values ($1, $2, $3, $4, $5, $6, $7)
		returning "created_at", "updated_at"
		`,
		flavor.ID.String(), flavor.Name, flavor.Type.String(),
		flavor.Source, flavor.ConfigSchema,
		flavor.ProjectID.String(), flavor.UserID.String(),
	).Scan(&flavor.Created, &flavor.Updated); err != nil {
		return domain.Flavor{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Flavor{}, err
	}

	f.sink.Emit(domain.Event{Kind: domain.EventCreated, Entity: "flavor", ID: flavor.ID})
	return flavor, nil
}

func (f *pgFlavor) Get(ctx context.Context, nameOrID string, hydrate bool) (domain.Flavor, error) {
	conn, err := f.pool.Acquire(ctx)
	if err != nil {
		return domain.Flavor{}, err
	}
	defer conn.Release()

	id, err := kpgintr.ResolveNameOrID(ctx, conn, "flavor", nameOrID)
	if err != nil {
		return domain.Flavor{}, err
	}

	flavor, err := get(ctx, conn, id)
	if err != nil {
		return domain.Flavor{}, err
	}

	if hydrate {
		project, err := kpgintr.GetProject(ctx, conn, flavor.ProjectID)
		if err != nil {
			return domain.Flavor{}, err
		}
		flavor.Project = &project

		user, err := kpgintr.GetUser(ctx, conn, flavor.UserID)
		if err != nil {
			return domain.Flavor{}, err
		}
		flavor.User = &user
	}

	return flavor, nil
}

func get(ctx context.Context, conn kpool.Queryer, id uuid.UUID) (domain.Flavor, error) {
	flavor := domain.Flavor{}
	var fid, pid, uid pgtype.UUID
	var ctype string
	if err := conn.QueryRow(
		ctx,
		`
		select "id", "name", "type", "source", "config_schema",
		       "project_id", "user_id", "created_at", "updated_at"
		from "flavor" where "id" = $1
		`,
		id.String(),
	).Scan(
		&fid, &flavor.Name, &ctype, &flavor.Source, &flavor.ConfigSchema,
		&pid, &uid, &flavor.Created, &flavor.Updated,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Flavor{}, kpgerr.Missing{Table: "flavor", Identity: id.String()}
		}
		return domain.Flavor{}, err
	}
	flavor.ID = kpgintr.AsUUID(fid)
	flavor.ProjectID = kpgintr.AsUUID(pid)
	flavor.UserID = kpgintr.AsUUID(uid)

	t, err := domain.AsComponentType(ctype)
	if err != nil {
		return domain.Flavor{}, err
	}
	flavor.Type = t

	return flavor, nil
}

func (f *pgFlavor) List(ctx context.Context, filter domain.FlavorFilter) ([]domain.Flavor, error) {
	conn, err := f.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	query := `
	select "id", "name", "type", "source", "config_schema",
	       "project_id", "user_id", "created_at", "updated_at"
	from "flavor"
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
	defer rows.Close()

	flavors := []domain.Flavor{}
	for rows.Next() {
		flavor := domain.Flavor{}
		var fid, pid, uid pgtype.UUID
		var ctype string
		if err := rows.Scan(
			&fid, &flavor.Name, &ctype, &flavor.Source, &flavor.ConfigSchema,
			&pid, &uid, &flavor.Created, &flavor.Updated,
		); err != nil {
			return nil, err
		}
		flavor.ID = kpgintr.AsUUID(fid)
		flavor.ProjectID = kpgintr.AsUUID(pid)
		flavor.UserID = kpgintr.AsUUID(uid)

		t, err := domain.AsComponentType(ctype)
		if err != nil {
			return nil, err
		}
		flavor.Type = t

		flavors = append(flavors, flavor)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return flavors, nil
}

func (f *pgFlavor) Update(ctx context.Context, id uuid.UUID, patch domain.FlavorPatch) (domain.Flavor, error) {
	tx, err := f.pool.Begin(ctx)
	if err != nil {
		return domain.Flavor{}, err
	}
	defer tx.Rollback(ctx)

	flavor, err := get(ctx, tx, id)
	if err != nil {
		return domain.Flavor{}, err
	}

	if patch.Name != nil && *patch.Name != flavor.Name {
		if err := kpgintr.CheckDomainUnique(ctx, tx, kpgintr.DomainKey{
			Table: "flavor", Name: *patch.Name,
			ProjectID: &flavor.ProjectID, UserID: &flavor.UserID,
			Type: flavor.Type.String(),
		}); err != nil {
			return domain.Flavor{}, err
		}
		flavor.Name = *patch.Name
	}
	if patch.Source != nil {
		flavor.Source = *patch.Source
	}
	if patch.ConfigSchema != nil {
		flavor.ConfigSchema = *patch.ConfigSchema
	}

	if err := tx.QueryRow(
		ctx,
		`
		update "flavor"
		set "name" = $2, "source" = $3, "config_schema" = $4, "updated_at" = now()
		where "id" = $1
		returning "updated_at"
		`,
		flavor.ID.String(), flavor.Name, flavor.Source, flavor.ConfigSchema,
	).Scan(&flavor.Updated); err != nil {
		return domain.Flavor{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Flavor{}, err
	}

	f.sink.Emit(domain.Event{Kind: domain.EventUpdated, Entity: "flavor", ID: flavor.ID})
	return flavor, nil
}

func (f *pgFlavor) Delete(ctx context.Context, id uuid.UUID) error {
	tx, err := f.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	flavor, err := get(ctx, tx, id)
	if err != nil {
		return err
	}

	// components reference flavors by name, not by id.
	var referenced int
	if err := tx.QueryRow(
		ctx,
		`select count(*) from "stack_component" where "flavor" = $1 and "type" = $2`,
		flavor.Name, flavor.Type.String(),
	).Scan(&referenced); err != nil {
		return err
	}
	if 0 < referenced {
		return kpgerr.Protected{
			Entity: "flavor " + flavor.Name,
			Reason: fmt.Sprintf(
				"%d stack components are built from this flavor; delete them first",
				referenced,
			),
		}
	}

	if _, err := tx.Exec(
		ctx, `delete from "flavor" where "id" = $1`, id.String(),
	); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	f.sink.Emit(domain.Event{Kind: domain.EventDeleted, Entity: "flavor", ID: id})
	return nil
}
