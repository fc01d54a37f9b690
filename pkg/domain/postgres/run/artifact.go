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

func (r *pgRun) CreateArtifact(ctx context.Context, artifact domain.Artifact) (domain.Artifact, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.Artifact{}, err
	}
	defer tx.Rollback(ctx)

	if artifact.ID == uuid.Nil {
		artifact.ID = uuid.New()
	} else if err := kpgintr.CheckIDUnique(ctx, tx, "artifact", artifact.ID); err != nil {
		return domain.Artifact{}, err
	}

	if err := tx.QueryRow(
		ctx,
		`
		insert into "artifact" ("id", "name", "type", "uri", "materializer", "data_type")
		values ($1, $2, $3, $4, $5, $6)
		returning "created_at", "updated_at"
		`,
		artifact.ID.String(), artifact.Name, artifact.Type,
		artifact.URI, artifact.Materializer, artifact.DataType,
	).Scan(&artifact.Created, &artifact.Updated); err != nil {
		return domain.Artifact{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Artifact{}, err
	}

	r.sink.Emit(domain.Event{Kind: domain.EventCreated, Entity: "artifact", ID: artifact.ID})
	return artifact, nil
}

func (r *pgRun) GetArtifact(ctx context.Context, id uuid.UUID) (domain.Artifact, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return domain.Artifact{}, err
	}
	defer conn.Release()

	return getArtifact(ctx, conn, id)
}

func getArtifact(ctx context.Context, conn kpool.Queryer, id uuid.UUID) (domain.Artifact, error) {
	artifact, err := scanArtifactRow(conn.QueryRow(
		ctx,
		`
		select "id", "name", "type", "uri", "materializer", "data_type",
		       "created_at", "updated_at"
		from "artifact" where "id" = $1
		`,
		id.String(),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Artifact{}, kpgerr.Missing{Table: "artifact", Identity: id.String()}
		}
		return domain.Artifact{}, err
	}
	return artifact, nil
}

func scanArtifactRow(row pgx.Row) (domain.Artifact, error) {
	artifact := domain.Artifact{}
	var aid pgtype.UUID
	if err := row.Scan(
		&aid, &artifact.Name, &artifact.Type, &artifact.URI,
		&artifact.Materializer, &artifact.DataType,
		&artifact.Created, &artifact.Updated,
	); err != nil {
		return domain.Artifact{}, err
	}
	artifact.ID = kpgintr.AsUUID(aid)
	return artifact, nil
}

func (r *pgRun) ListArtifacts(ctx context.Context, filter domain.ArtifactFilter) ([]domain.Artifact, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	query := `
	select "id", "name", "type", "uri", "materializer", "data_type",
	       "created_at", "updated_at"
	from "artifact"
	`
	args := []interface{}{}
	clauses := []string{}

	if filter.Name != nil {
		args = append(args, *filter.Name)
		clauses = append(clauses, fmt.Sprintf(`"name" = $%d`, len(args)))
	}
	if filter.ProducerStepID != nil {
		args = append(args, filter.ProducerStepID.String())
		clauses = append(clauses, fmt.Sprintf(
			`"id" in (select "artifact_id" from "step_run_output_artifact" where "step_run_id" = $%d)`,
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
	defer rows.Close()

	artifacts := []domain.Artifact{}
	for rows.Next() {
		artifact, err := scanArtifactRow(rows)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, artifact)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return artifacts, nil
}

func (r *pgRun) InputArtifacts(ctx context.Context, stepID uuid.UUID) (map[string]domain.Artifact, error) {
	return r.artifactsOf(ctx, "step_run_input_artifact", stepID)
}

func (r *pgRun) OutputArtifacts(ctx context.Context, stepID uuid.UUID) (map[string]domain.Artifact, error) {
	return r.artifactsOf(ctx, "step_run_output_artifact", stepID)
}

func (r *pgRun) artifactsOf(
	ctx context.Context, table string, stepID uuid.UUID,
) (map[string]domain.Artifact, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	if err := kpgintr.CheckExists(ctx, conn, "step_run", stepID); err != nil {
		return nil, err
	}

	rows, err := conn.Query(
		ctx,
		fmt.Sprintf(
			`
			select "e"."name", "a"."id", "a"."name", "a"."type", "a"."uri",
			       "a"."materializer", "a"."data_type", "a"."created_at", "a"."updated_at"
			from "artifact" as "a"
			inner join %q as "e" on "e"."artifact_id" = "a"."id"
			where "e"."step_run_id" = $1
			`,
			table,
		),
		stepID.String(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	artifacts := map[string]domain.Artifact{}
	for rows.Next() {
		var edge string
		artifact := domain.Artifact{}
		var aid pgtype.UUID
		if err := rows.Scan(
			&edge, &aid, &artifact.Name, &artifact.Type, &artifact.URI,
			&artifact.Materializer, &artifact.DataType,
			&artifact.Created, &artifact.Updated,
		); err != nil {
			return nil, err
		}
		artifact.ID = kpgintr.AsUUID(aid)
		artifacts[edge] = artifact
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return artifacts, nil
}
