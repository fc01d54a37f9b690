package project

import (
	"context"
	"errors"
	"log"

	"github.com/google/uuid"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/tracefab/tracefab/pkg/domain"
	kpgerr "github.com/tracefab/tracefab/pkg/domain/postgres/errors"
	kpgintr "github.com/tracefab/tracefab/pkg/domain/postgres/internal"
	kpool "github.com/tracefab/tracefab/pkg/domain/postgres/pool"
)

type pgProject struct {
	pool   kpool.Pool
	logger *log.Logger
	sink   domain.EventSink
}

type Option func(*pgProject) *pgProject

func WithLogger(l *log.Logger) Option {
	return func(p *pgProject) *pgProject {
		p.logger = l
		return p
	}
}

func WithEventSink(sink domain.EventSink) Option {
	return func(p *pgProject) *pgProject {
		p.sink = sink
		return p
	}
}

func New(pool kpool.Pool, options ...Option) *pgProject {
	p := &pgProject{
		pool:   pool,
		logger: log.Default(),
		sink:   domain.NullSink(),
	}
	for _, opt := range options {
		p = opt(p)
	}
	return p
}

var _ domain.ProjectInterface = &pgProject{}

func (p *pgProject) Create(ctx context.Context, project domain.Project) (domain.Project, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback(ctx)

	if project.ID == uuid.Nil {
		project.ID = uuid.New()
	} else if err := kpgintr.CheckIDUnique(ctx, tx, "project", project.ID); err != nil {
		return domain.Project{}, err
	}
	if err := kpgintr.CheckDomainUnique(ctx, tx, kpgintr.DomainKey{
		Table: "project", Name: project.Name,
	}); err != nil {
		return domain.Project{}, err
	}

	if err := tx.QueryRow(
		ctx,
		`
		insert into "project" ("id", "name", "description")
		values ($1, $2, $3)
		returning "created_at", "updated_at"
		`,
		project.ID.String(), project.Name, project.Description,
	).Scan(&project.Created, &project.Updated); err != nil {
		return domain.Project{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Project{}, err
	}

	p.sink.Emit(domain.Event{Kind: domain.EventCreated, Entity: "project", ID: project.ID})
	return project, nil
}

func (p *pgProject) Get(ctx context.Context, nameOrID string) (domain.Project, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return domain.Project{}, err
	}
	defer conn.Release()

	id, err := kpgintr.ResolveNameOrID(ctx, conn, "project", nameOrID)
	if err != nil {
		return domain.Project{}, err
	}

	return get(ctx, conn, id)
}

func get(ctx context.Context, conn kpool.Queryer, id uuid.UUID) (domain.Project, error) {
	project := domain.Project{}
	var pid pgtype.UUID
	if err := conn.QueryRow(
		ctx,
		`
		select "id", "name", "description", "created_at", "updated_at"
		from "project" where "id" = $1
		`,
		id.String(),
	).Scan(
		&pid, &project.Name, &project.Description, &project.Created, &project.Updated,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Project{}, kpgerr.Missing{Table: "project", Identity: id.String()}
		}
		return domain.Project{}, err
	}
	project.ID = kpgintr.AsUUID(pid)
	return project, nil
}

func (p *pgProject) List(ctx context.Context) ([]domain.Project, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(
		ctx,
		`
		select "id", "name", "description", "created_at", "updated_at"
		from "project" order by "name"
		`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	projects := []domain.Project{}
	for rows.Next() {
		project := domain.Project{}
		var pid pgtype.UUID
		if err := rows.Scan(
			&pid, &project.Name, &project.Description,
			&project.Created, &project.Updated,
		); err != nil {
			return nil, err
		}
		project.ID = kpgintr.AsUUID(pid)
		projects = append(projects, project)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return projects, nil
}

func (p *pgProject) Update(ctx context.Context, id uuid.UUID, patch domain.ProjectPatch) (domain.Project, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback(ctx)

	project, err := get(ctx, tx, id)
	if err != nil {
		return domain.Project{}, err
	}

	if patch.Name != nil && *patch.Name != project.Name {
		if project.Name == domain.DefaultProjectName {
			return domain.Project{}, kpgerr.Protected{
				Entity: "project " + project.Name,
				Reason: "the default project cannot be renamed",
			}
		}
		if err := kpgintr.CheckDomainUnique(ctx, tx, kpgintr.DomainKey{
			Table: "project", Name: *patch.Name,
		}); err != nil {
			return domain.Project{}, err
		}
		project.Name = *patch.Name
	}
	if patch.Description != nil {
		project.Description = *patch.Description
	}

	if err := tx.QueryRow(
		ctx,
		`
		update "project"
		set "name" = $2, "description" = $3, "updated_at" = now()
		where "id" = $1
		returning "updated_at"
		`,
		project.ID.String(), project.Name, project.Description,
	).Scan(&project.Updated); err != nil {
		return domain.Project{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Project{}, err
	}

	p.sink.Emit(domain.Event{Kind: domain.EventUpdated, Entity: "project", ID: project.ID})
	return project, nil
}

func (p *pgProject) Delete(ctx context.Context, nameOrID string) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	id, err := kpgintr.ResolveNameOrID(ctx, tx, "project", nameOrID)
	if err != nil {
		return err
	}
	project, err := get(ctx, tx, id)
	if err != nil {
		return err
	}
	if project.Name == domain.DefaultProjectName {
		return kpgerr.Protected{
			Entity: "project " + project.Name,
			Reason: "the default project cannot be deleted",
		}
	}

	if _, err := tx.Exec(
		ctx, `delete from "project" where "id" = $1`, id.String(),
	); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	p.sink.Emit(domain.Event{Kind: domain.EventDeleted, Entity: "project", ID: id})
	return nil
}
