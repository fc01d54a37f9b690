package pipeline

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

type pgPipeline struct {
	pool   kpool.Pool
	logger *log.Logger
	sink   domain.EventSink
}

type Option func(*pgPipeline) *pgPipeline

func WithLogger(l *log.Logger) Option {
	return func(p *pgPipeline) *pgPipeline {
		p.logger = l
		return p
	}
}

func WithEventSink(sink domain.EventSink) Option {
	return func(p *pgPipeline) *pgPipeline {
		p.sink = sink
		return p
	}
}

func New(pool kpool.Pool, options ...Option) *pgPipeline {
	p := &pgPipeline{
		pool:   pool,
		logger: log.Default(),
		sink:   domain.NullSink(),
	}
	for _, opt := range options {
		p = opt(p)
	}
	return p
}

var _ domain.PipelineInterface = &pgPipeline{}

func (p *pgPipeline) Create(ctx context.Context, pipeline domain.Pipeline) (domain.Pipeline, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return domain.Pipeline{}, err
	}
	defer tx.Rollback(ctx)

	if err := kpgintr.CheckExists(ctx, tx, "project", pipeline.ProjectID); err != nil {
		return domain.Pipeline{}, err
	}
	if err := kpgintr.CheckExists(ctx, tx, "user", pipeline.UserID); err != nil {
		return domain.Pipeline{}, err
	}

	if pipeline.ID == uuid.Nil {
		pipeline.ID = uuid.New()
	} else if err := kpgintr.CheckIDUnique(ctx, tx, "pipeline", pipeline.ID); err != nil {
		return domain.Pipeline{}, err
	}

	// pipelines are scoped per project, not per owner.
	if err := kpgintr.CheckDomainUnique(ctx, tx, kpgintr.DomainKey{
		Table: "pipeline", Name: pipeline.Name, ProjectID: &pipeline.ProjectID,
	}); err != nil {
		return domain.Pipeline{}, err
	}

	if err := tx.QueryRow(
		ctx,
		`
		insert into "pipeline" ("id", "name", "docstring", "spec", "project_id", "user_id")
		values ($1, $2, $3, $4, $5, $6)
		returning "created_at", "updated_at"
		`,
		pipeline.ID.String(), pipeline.Name, pipeline.Docstring, pipeline.Spec,
		pipeline.ProjectID.String(), pipeline.UserID.String(),
	).Scan(&pipeline.Created, &pipeline.Updated); err != nil {
		return domain.Pipeline{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Pipeline{}, err
	}

	p.sink.Emit(domain.Event{Kind: domain.EventCreated, Entity: "pipeline", ID: pipeline.ID})
	return pipeline, nil
}

func (p *pgPipeline) Get(ctx context.Context, nameOrID string, hydrate bool) (domain.Pipeline, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return domain.Pipeline{}, err
	}
	defer conn.Release()

	id, err := kpgintr.ResolveNameOrID(ctx, conn, "pipeline", nameOrID)
	if err != nil {
		return domain.Pipeline{}, err
	}

	pipeline, err := get(ctx, conn, id)
	if err != nil {
		return domain.Pipeline{}, err
	}

	if hydrate {
		project, err := kpgintr.GetProject(ctx, conn, pipeline.ProjectID)
		if err != nil {
			return domain.Pipeline{}, err
		}
		pipeline.Project = &project

		user, err := kpgintr.GetUser(ctx, conn, pipeline.UserID)
		if err != nil {
			return domain.Pipeline{}, err
		}
		pipeline.User = &user
	}

	return pipeline, nil
}

func get(ctx context.Context, conn kpool.Queryer, id uuid.UUID) (domain.Pipeline, error) {
	pipeline := domain.Pipeline{}
	var plid, pid, uid pgtype.UUID
	if err := conn.QueryRow(
		ctx,
		`
		select "id", "name", "docstring", "spec", "project_id", "user_id",
		       "created_at", "updated_at"
		from "pipeline" where "id" = $1
		`,
		id.String(),
	).Scan(
		&plid, &pipeline.Name, &pipeline.Docstring, &pipeline.Spec,
		&pid, &uid, &pipeline.Created, &pipeline.Updated,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Pipeline{}, kpgerr.Missing{Table: "pipeline", Identity: id.String()}
		}
		return domain.Pipeline{}, err
	}
	pipeline.ID = kpgintr.AsUUID(plid)
	pipeline.ProjectID = kpgintr.AsUUID(pid)
	pipeline.UserID = kpgintr.AsUUID(uid)
	return pipeline, nil
}

func (p *pgPipeline) List(ctx context.Context, filter domain.PipelineFilter) ([]domain.Pipeline, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	query := `
	select "id", "name", "docstring", "spec", "project_id", "user_id",
	       "created_at", "updated_at"
	from "pipeline"
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

	pipelines := []domain.Pipeline{}
	for rows.Next() {
		pipeline := domain.Pipeline{}
		var plid, pid, uid pgtype.UUID
		if err := rows.Scan(
			&plid, &pipeline.Name, &pipeline.Docstring, &pipeline.Spec,
			&pid, &uid, &pipeline.Created, &pipeline.Updated,
		); err != nil {
			return nil, err
		}
		pipeline.ID = kpgintr.AsUUID(plid)
		pipeline.ProjectID = kpgintr.AsUUID(pid)
		pipeline.UserID = kpgintr.AsUUID(uid)
		pipelines = append(pipelines, pipeline)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return pipelines, nil
}

func (p *pgPipeline) Update(ctx context.Context, id uuid.UUID, patch domain.PipelinePatch) (domain.Pipeline, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return domain.Pipeline{}, err
	}
	defer tx.Rollback(ctx)

	pipeline, err := get(ctx, tx, id)
	if err != nil {
		return domain.Pipeline{}, err
	}

	if patch.Name != nil && *patch.Name != pipeline.Name {
		if err := kpgintr.CheckDomainUnique(ctx, tx, kpgintr.DomainKey{
			Table: "pipeline", Name: *patch.Name, ProjectID: &pipeline.ProjectID,
		}); err != nil {
			return domain.Pipeline{}, err
		}
		pipeline.Name = *patch.Name
	}
	if patch.Docstring != nil {
		pipeline.Docstring = *patch.Docstring
	}
	if patch.Spec != nil {
		pipeline.Spec = *patch.Spec
	}

	if err := tx.QueryRow(
		ctx,
		`
		update "pipeline"
		set "name" = $2, "docstring" = $3, "spec" = $4, "updated_at" = now()
		where "id" = $1
		returning "updated_at"
		`,
		pipeline.ID.String(), pipeline.Name, pipeline.Docstring, pipeline.Spec,
	).Scan(&pipeline.Updated); err != nil {
		return domain.Pipeline{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Pipeline{}, err
	}

	p.sink.Emit(domain.Event{Kind: domain.EventUpdated, Entity: "pipeline", ID: pipeline.ID})
	return pipeline, nil
}

func (p *pgPipeline) Delete(ctx context.Context, id uuid.UUID) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := get(ctx, tx, id); err != nil {
		return err
	}

	// runs keep their pipeline reference dangling-free by nulling it out.
	if _, err := tx.Exec(
		ctx,
		`update "pipeline_run" set "pipeline_id" = null where "pipeline_id" = $1`,
		id.String(),
	); err != nil {
		return err
	}

	if _, err := tx.Exec(
		ctx, `delete from "pipeline" where "id" = $1`, id.String(),
	); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	p.sink.Emit(domain.Event{Kind: domain.EventDeleted, Entity: "pipeline", ID: id})
	return nil
}
