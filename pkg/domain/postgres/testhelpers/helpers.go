package testhelpers

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/tracefab/tracefab/pkg/domain"
	kpool "github.com/tracefab/tracefab/pkg/domain/postgres/pool"
)

// get current timestamp in postgres.
func PGNow(ctx context.Context, conn kpool.Queryer) (time.Time, error) {
	var now time.Time
	err := conn.QueryRow(ctx, `select now()`).Scan(&now)
	if err != nil {
		return time.Time{}, err
	}
	return now, nil
}

// Fixture registers a project and a user to own test entities.
func Fixture(
	ctx context.Context, t *testing.T, pool kpool.Pool,
) (domain.Project, domain.User) {
	t.Helper()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Release()

	project := domain.Project{ID: uuid.New(), Name: "test-project"}
	if err := conn.QueryRow(
		ctx,
		`
		insert into "project" ("id", "name", "description") values ($1, $2, '')
		returning "created_at", "updated_at"
		`,
		project.ID.String(), project.Name,
	).Scan(&project.Created, &project.Updated); err != nil {
		t.Fatal(err)
	}

	user := domain.User{ID: uuid.New(), Name: "test-user", Active: true}
	if err := conn.QueryRow(
		ctx,
		`
		insert into "user" ("id", "name") values ($1, $2)
		returning "created_at", "updated_at"
		`,
		user.ID.String(), user.Name,
	).Scan(&user.Created, &user.Updated); err != nil {
		t.Fatal(err)
	}

	return project, user
}
