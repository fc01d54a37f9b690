package internal

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/tracefab/tracefab/pkg/domain"
	kpgerr "github.com/tracefab/tracefab/pkg/domain/postgres/errors"
	kpool "github.com/tracefab/tracefab/pkg/domain/postgres/pool"
)

// GetProject reads one project row. Shared by stores which hydrate
// their owning project.
func GetProject(ctx context.Context, conn kpool.Queryer, id uuid.UUID) (domain.Project, error) {
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
	project.ID = AsUUID(pid)
	return project, nil
}

// GetUser reads one user row. Shared by stores which hydrate their owner.
func GetUser(ctx context.Context, conn kpool.Queryer, id uuid.UUID) (domain.User, error) {
	user := domain.User{}
	var uid pgtype.UUID
	if err := conn.QueryRow(
		ctx,
		`
		select "id", "name", "full_name", "email", "email_opted_in", "active",
		       "created_at", "updated_at"
		from "user" where "id" = $1
		`,
		id.String(),
	).Scan(
		&uid, &user.Name, &user.FullName, &user.Email,
		&user.EmailOptedIn, &user.Active, &user.Created, &user.Updated,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, kpgerr.Missing{Table: "user", Identity: id.String()}
		}
		return domain.User{}, err
	}
	user.ID = AsUUID(uid)
	return user, nil
}

// CheckExists fails with Missing when no row in table has this id.
//
// Used to verify cross-references before inserting, so that callers get
// a typed error instead of a raw foreign key violation.
func CheckExists(ctx context.Context, conn kpool.Queryer, table string, id uuid.UUID) error {
	var exists bool
	if err := conn.QueryRow(
		ctx,
		fmt.Sprintf(`select exists (select 1 from %q where "id" = $1)`, table),
		id.String(),
	).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return kpgerr.Missing{Table: table, Identity: id.String()}
	}
	return nil
}
