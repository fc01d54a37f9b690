package run

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/tracefab/tracefab/pkg/domain"
	kpgerr "github.com/tracefab/tracefab/pkg/domain/postgres/errors"
	kpgintr "github.com/tracefab/tracefab/pkg/domain/postgres/internal"
	kpool "github.com/tracefab/tracefab/pkg/domain/postgres/pool"
)

func (r *pgRun) CreateStep(ctx context.Context, step domain.Step) (domain.Step, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.Step{}, err
	}
	defer tx.Rollback(ctx)

	if err := kpgintr.CheckExists(ctx, tx, "pipeline_run", step.RunID); err != nil {
		return domain.Step{}, err
	}

	if step.ID == uuid.Nil {
		step.ID = uuid.New()
	} else if err := kpgintr.CheckIDUnique(ctx, tx, "step_run", step.ID); err != nil {
		return domain.Step{}, err
	}

	var taken bool
	if err := tx.QueryRow(
		ctx,
		`select exists (select 1 from "step_run" where "run_id" = $1 and "name" = $2)`,
		step.RunID.String(), step.Name,
	).Scan(&taken); err != nil {
		return domain.Step{}, err
	}
	if taken {
		return domain.Step{}, kpgerr.Conflict{
			Table: "step_run", Identity: step.Name,
			Reason: "the run already has a step with this name",
		}
	}

	if err := tx.QueryRow(
		ctx,
		`
		insert into "step_run"
		    ("id", "run_id", "name", "entrypoint_name", "parameters",
		     "configuration", "docstring", "status", "cache_key")
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		returning "created_at", "updated_at"
		`,
		step.ID.String(), step.RunID.String(), step.Name,
		step.EntrypointName, step.Parameters, step.Configuration,
		step.Docstring, step.Status.String(), step.CacheKey,
	).Scan(&step.Created, &step.Updated); err != nil {
		return domain.Step{}, err
	}

	for _, parent := range step.ParentIDs {
		if err := kpgintr.CheckExists(ctx, tx, "step_run", parent); err != nil {
			return domain.Step{}, err
		}
		if _, err := tx.Exec(
			ctx,
			`
			insert into "step_run_parent" ("parent_id", "child_id") values ($1, $2)
			on conflict do nothing
			`,
			parent.String(), step.ID.String(),
		); err != nil {
			return domain.Step{}, err
		}
	}
	for name, artifact := range step.InputArtifacts {
		if err := insertEdge(ctx, tx, "step_run_input_artifact", step.ID, name, artifact); err != nil {
			return domain.Step{}, err
		}
	}
	for name, artifact := range step.OutputArtifacts {
		if err := insertEdge(ctx, tx, "step_run_output_artifact", step.ID, name, artifact); err != nil {
			return domain.Step{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Step{}, err
	}

	r.sink.Emit(domain.Event{Kind: domain.EventCreated, Entity: "step_run", ID: step.ID})
	return step, nil
}

// insertEdge links a step to an artifact under a name, idempotently.
func insertEdge(
	ctx context.Context, conn kpool.Queryer,
	table string, stepID uuid.UUID, name string, artifactID uuid.UUID,
) error {
	if err := kpgintr.CheckExists(ctx, conn, "artifact", artifactID); err != nil {
		return err
	}
	if _, err := conn.Exec(
		ctx,
		fmt.Sprintf(
			`
			insert into %q ("step_run_id", "artifact_id", "name") values ($1, $2, $3)
			on conflict do nothing
			`,
			table,
		),
		stepID.String(), artifactID.String(), name,
	); err != nil {
		return err
	}
	return nil
}

func (r *pgRun) GetStep(ctx context.Context, id uuid.UUID) (domain.Step, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return domain.Step{}, err
	}
	defer conn.Release()

	return getStep(ctx, conn, id)
}

func getStep(ctx context.Context, conn kpool.Queryer, id uuid.UUID) (domain.Step, error) {
	step, err := scanStepRow(conn.QueryRow(
		ctx, stepColumns+` from "step_run" where "id" = $1`, id.String(),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Step{}, kpgerr.Missing{Table: "step_run", Identity: id.String()}
		}
		return domain.Step{}, err
	}

	if err := loadEdges(ctx, conn, &step); err != nil {
		return domain.Step{}, err
	}
	return step, nil
}

const stepColumns = `
	select "id", "run_id", "name", "entrypoint_name", "parameters",
	       "configuration", "docstring", "status", "cache_key",
	       "created_at", "updated_at"
`

func scanStepRow(row pgx.Row) (domain.Step, error) {
	step := domain.Step{}
	var sid, rid pgtype.UUID
	var status string
	if err := row.Scan(
		&sid, &rid, &step.Name, &step.EntrypointName, &step.Parameters,
		&step.Configuration, &step.Docstring, &status, &step.CacheKey,
		&step.Created, &step.Updated,
	); err != nil {
		return domain.Step{}, err
	}
	step.ID = kpgintr.AsUUID(sid)
	step.RunID = kpgintr.AsUUID(rid)

	st, err := domain.AsExecutionStatus(status)
	if err != nil {
		return domain.Step{}, err
	}
	step.Status = st

	return step, nil
}

func loadEdges(ctx context.Context, conn kpool.Queryer, step *domain.Step) error {
	parents, err := parentIDs(ctx, conn, step.ID)
	if err != nil {
		return err
	}
	step.ParentIDs = parents

	inputs, err := edges(ctx, conn, "step_run_input_artifact", step.ID)
	if err != nil {
		return err
	}
	step.InputArtifacts = inputs

	outputs, err := edges(ctx, conn, "step_run_output_artifact", step.ID)
	if err != nil {
		return err
	}
	step.OutputArtifacts = outputs

	return nil
}

func parentIDs(ctx context.Context, conn kpool.Queryer, stepID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := conn.Query(
		ctx,
		`select "parent_id" from "step_run_parent" where "child_id" = $1`,
		stepID.String(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	parents := []uuid.UUID{}
	for rows.Next() {
		var pid pgtype.UUID
		if err := rows.Scan(&pid); err != nil {
			return nil, err
		}
		parents = append(parents, kpgintr.AsUUID(pid))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return parents, nil
}

func edges(
	ctx context.Context, conn kpool.Queryer, table string, stepID uuid.UUID,
) (map[string]uuid.UUID, error) {
	rows, err := conn.Query(
		ctx,
		fmt.Sprintf(`select "name", "artifact_id" from %q where "step_run_id" = $1`, table),
		stepID.String(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	found := map[string]uuid.UUID{}
	for rows.Next() {
		var name string
		var aid pgtype.UUID
		if err := rows.Scan(&name, &aid); err != nil {
			return nil, err
		}
		found[name] = kpgintr.AsUUID(aid)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return found, nil
}

func (r *pgRun) ListSteps(ctx context.Context, filter domain.StepFilter) ([]domain.Step, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	query := stepColumns + ` from "step_run"`
	args := []interface{}{}
	clauses := []string{}

	if filter.RunID != nil {
		args = append(args, filter.RunID.String())
		clauses = append(clauses, fmt.Sprintf(`"run_id" = $%d`, len(args)))
	}
	if filter.Project != nil {
		id, err := kpgintr.ResolveNameOrID(ctx, conn, "project", *filter.Project)
		if err != nil {
			return nil, err
		}
		args = append(args, id.String())
		clauses = append(clauses, fmt.Sprintf(
			`"run_id" in (select "id" from "pipeline_run" where "project_id" = $%d)`,
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
	query += ` order by "created_at"`

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	steps := []domain.Step{}
	for rows.Next() {
		step, err := scanStepRow(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range steps {
		if err := loadEdges(ctx, conn, &steps[i]); err != nil {
			return nil, err
		}
	}

	return steps, nil
}

func (r *pgRun) UpdateStep(ctx context.Context, id uuid.UUID, patch domain.StepPatch) (domain.Step, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.Step{}, err
	}
	defer tx.Rollback(ctx)

	step, err := getStep(ctx, tx, id)
	if err != nil {
		return domain.Step{}, err
	}

	if patch.Status != nil {
		step.Status = *patch.Status
	}

	// only output edges may grow after creation. Parent and input
	// lists of an existing step are left as they were recorded.
	for name, artifact := range patch.OutputArtifacts {
		if err := insertEdge(ctx, tx, "step_run_output_artifact", step.ID, name, artifact); err != nil {
			return domain.Step{}, err
		}
		step.OutputArtifacts[name] = artifact
	}

	if err := tx.QueryRow(
		ctx,
		`update "step_run" set "status" = $2, "updated_at" = now() where "id" = $1 returning "updated_at"`,
		step.ID.String(), step.Status.String(),
	).Scan(&step.Updated); err != nil {
		return domain.Step{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Step{}, err
	}

	r.sink.Emit(domain.Event{Kind: domain.EventUpdated, Entity: "step_run", ID: step.ID})
	return step, nil
}

func (r *pgRun) ProducerStep(ctx context.Context, artifactID uuid.UUID) (domain.Step, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return domain.Step{}, err
	}
	defer conn.Release()

	step, err := scanStepRow(conn.QueryRow(
		ctx,
		`
		select "s"."id", "s"."run_id", "s"."name", "s"."entrypoint_name", "s"."parameters",
		       "s"."configuration", "s"."docstring", "s"."status", "s"."cache_key",
		       "s"."created_at", "s"."updated_at"
		from "step_run" as "s"
		inner join "step_run_output_artifact" as "o" on "o"."step_run_id" = "s"."id"
		where "o"."artifact_id" = $1 and "s"."status" <> $2
		order by "s"."created_at"
		limit 1
		`,
		artifactID.String(), domain.StatusCached.String(),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Step{}, kpgerr.Missing{
				Table: "step_run", Identity: artifactID.String(),
				Reason: "no step produced this artifact (cached replays do not count)",
			}
		}
		return domain.Step{}, err
	}

	if err := loadEdges(ctx, conn, &step); err != nil {
		return domain.Step{}, err
	}
	return step, nil
}
