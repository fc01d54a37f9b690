package run

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

type pgRun struct {
	pool   kpool.Pool
	logger *log.Logger
	sink   domain.EventSink
}

type Option func(*pgRun) *pgRun

func WithLogger(l *log.Logger) Option {
	return func(r *pgRun) *pgRun {
		r.logger = l
		return r
	}
}

func WithEventSink(sink domain.EventSink) Option {
	return func(r *pgRun) *pgRun {
		r.sink = sink
		return r
	}
}

func New(pool kpool.Pool, options ...Option) *pgRun {
	r := &pgRun{
		pool:   pool,
		logger: log.Default(),
		sink:   domain.NullSink(),
	}
	for _, opt := range options {
		r = opt(r)
	}
	return r
}

var _ domain.RunInterface = &pgRun{}

func (r *pgRun) Create(ctx context.Context, run domain.Run) (domain.Run, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.Run{}, err
	}
	defer tx.Rollback(ctx)

	if err := kpgintr.CheckExists(ctx, tx, "project", run.ProjectID); err != nil {
		return domain.Run{}, err
	}
	if err := kpgintr.CheckExists(ctx, tx, "user", run.UserID); err != nil {
		return domain.Run{}, err
	}

	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	} else if err := kpgintr.CheckIDUnique(ctx, tx, "pipeline_run", run.ID); err != nil {
		return domain.Run{}, err
	}
	if err := kpgintr.CheckDomainUnique(ctx, tx, kpgintr.DomainKey{
		Table: "pipeline_run", Name: run.Name,
	}); err != nil {
		return domain.Run{}, err
	}

	// a run reporting a stack or pipeline this store does not know is
	// recorded anyway; clients may run against unregistered setups.
	if run.StackID != nil {
		if err := kpgintr.CheckExists(ctx, tx, "stack", *run.StackID); err != nil {
			if !errors.Is(err, domain.ErrMissing) {
				return domain.Run{}, err
			}
			r.logger.Printf(
				"run %s refers to unknown stack %s; recording without it",
				run.Name, run.StackID,
			)
			run.StackID = nil
		}
	}
	if run.PipelineID != nil {
		if err := kpgintr.CheckExists(ctx, tx, "pipeline", *run.PipelineID); err != nil {
			if !errors.Is(err, domain.ErrMissing) {
				return domain.Run{}, err
			}
			r.logger.Printf(
				"run %s refers to unknown pipeline %s; recording as unlisted",
				run.Name, run.PipelineID,
			)
			run.PipelineID = nil
		}
	}

	if err := tx.QueryRow(
		ctx,
		`
		insert into "pipeline_run"
		    ("id", "name", "stack_id", "pipeline_id", "project_id", "user_id",
		     "status", "pipeline_configuration", "num_steps")
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		returning "created_at", "updated_at"
		`,
		run.ID.String(), run.Name,
		kpgintr.UUIDParam(run.StackID), kpgintr.UUIDParam(run.PipelineID),
		run.ProjectID.String(), run.UserID.String(),
		run.Status.String(), run.PipelineConfiguration, run.NumSteps,
	).Scan(&run.Created, &run.Updated); err != nil {
		return domain.Run{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Run{}, err
	}

	r.sink.Emit(domain.Event{Kind: domain.EventCreated, Entity: "pipeline_run", ID: run.ID})
	return run, nil
}

func (r *pgRun) Get(ctx context.Context, nameOrID string) (domain.Run, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return domain.Run{}, err
	}
	defer conn.Release()

	id, err := kpgintr.ResolveNameOrID(ctx, conn, "pipeline_run", nameOrID)
	if err != nil {
		return domain.Run{}, err
	}

	return get(ctx, conn, id)
}

func (r *pgRun) GetOrCreate(ctx context.Context, run domain.Run) (domain.Run, error) {
	created, err := r.Create(ctx, run)
	if err == nil {
		return created, nil
	}
	if !errors.Is(err, domain.ErrConflict) {
		return domain.Run{}, err
	}

	// lost the race. Fetch what the winner stored.
	if run.ID != uuid.Nil {
		if found, err := r.Get(ctx, run.ID.String()); err == nil {
			return found, nil
		} else if !errors.Is(err, domain.ErrMissing) {
			return domain.Run{}, err
		}
	}
	return r.Get(ctx, run.Name)
}

func get(ctx context.Context, conn kpool.Queryer, id uuid.UUID) (domain.Run, error) {
	run := domain.Run{}
	var rid, sid, plid, pid, uid pgtype.UUID
	var status string
	if err := conn.QueryRow(
		ctx,
		`
		select "id", "name", "stack_id", "pipeline_id", "project_id", "user_id",
		       "status", "pipeline_configuration", "num_steps",
		       "created_at", "updated_at"
		from "pipeline_run" where "id" = $1
		`,
		id.String(),
	).Scan(
		&rid, &run.Name, &sid, &plid, &pid, &uid,
		&status, &run.PipelineConfiguration, &run.NumSteps,
		&run.Created, &run.Updated,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Run{}, kpgerr.Missing{Table: "pipeline_run", Identity: id.String()}
		}
		return domain.Run{}, err
	}
	run.ID = kpgintr.AsUUID(rid)
	run.StackID = kpgintr.AsNullableUUID(sid)
	run.PipelineID = kpgintr.AsNullableUUID(plid)
	run.ProjectID = kpgintr.AsUUID(pid)
	run.UserID = kpgintr.AsUUID(uid)

	st, err := domain.AsExecutionStatus(status)
	if err != nil {
		return domain.Run{}, err
	}
	run.Status = st

	return run, nil
}

func (r *pgRun) List(ctx context.Context, filter domain.RunFilter) ([]domain.Run, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	query := `
	select "id", "name", "stack_id", "pipeline_id", "project_id", "user_id",
	       "status", "pipeline_configuration", "num_steps",
	       "created_at", "updated_at"
	from "pipeline_run"
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
	if filter.StackID != nil {
		args = append(args, filter.StackID.String())
		clauses = append(clauses, fmt.Sprintf(`"stack_id" = $%d`, len(args)))
	}
	if filter.ComponentID != nil {
		args = append(args, filter.ComponentID.String())
		clauses = append(clauses, fmt.Sprintf(
			`"stack_id" in (select "stack_id" from "stack_composition" where "component_id" = $%d)`,
			len(args),
		))
	}
	if filter.Name != nil {
		args = append(args, *filter.Name)
		clauses = append(clauses, fmt.Sprintf(`"name" = $%d`, len(args)))
	}
	if filter.Pipeline != nil {
		args = append(args, filter.Pipeline.String())
		clauses = append(clauses, fmt.Sprintf(`"pipeline_id" = $%d`, len(args)))
	} else if filter.Unlisted {
		clauses = append(clauses, `"pipeline_id" is null`)
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

	runs := []domain.Run{}
	for rows.Next() {
		run := domain.Run{}
		var rid, sid, plid, pid, uid pgtype.UUID
		var status string
		if err := rows.Scan(
			&rid, &run.Name, &sid, &plid, &pid, &uid,
			&status, &run.PipelineConfiguration, &run.NumSteps,
			&run.Created, &run.Updated,
		); err != nil {
			return nil, err
		}
		run.ID = kpgintr.AsUUID(rid)
		run.StackID = kpgintr.AsNullableUUID(sid)
		run.PipelineID = kpgintr.AsNullableUUID(plid)
		run.ProjectID = kpgintr.AsUUID(pid)
		run.UserID = kpgintr.AsUUID(uid)

		st, err := domain.AsExecutionStatus(status)
		if err != nil {
			return nil, err
		}
		run.Status = st

		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return runs, nil
}

func (r *pgRun) Update(ctx context.Context, id uuid.UUID, patch domain.RunPatch) (domain.Run, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.Run{}, err
	}
	defer tx.Rollback(ctx)

	run, err := get(ctx, tx, id)
	if err != nil {
		return domain.Run{}, err
	}

	if patch.Status != nil {
		run.Status = *patch.Status
	}
	if patch.NumSteps != nil {
		run.NumSteps = *patch.NumSteps
	}

	if err := tx.QueryRow(
		ctx,
		`
		update "pipeline_run"
		set "status" = $2, "num_steps" = $3, "updated_at" = now()
		where "id" = $1
		returning "updated_at"
		`,
		run.ID.String(), run.Status.String(), run.NumSteps,
	).Scan(&run.Updated); err != nil {
		return domain.Run{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Run{}, err
	}

	r.sink.Emit(domain.Event{Kind: domain.EventUpdated, Entity: "pipeline_run", ID: run.ID})
	return run, nil
}
