package internal

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	kpgerr "github.com/tracefab/tracefab/pkg/domain/postgres/errors"
	kpool "github.com/tracefab/tracefab/pkg/domain/postgres/pool"
)

// DomainKey is the tuple which must be unique for an entity kind.
//
// Optional scope fields which do not apply to the entity kind are left
// nil/empty; their clauses are omitted from the check, not defaulted.
type DomainKey struct {
	Table     string
	Name      string
	ProjectID *uuid.UUID
	UserID    *uuid.UUID
	Type      string
}

// CheckIDUnique fails with Conflict when a row with this id exists.
//
// Defends against client-supplied duplicate ids. Run inside the same
// transaction as the insert it protects.
func CheckIDUnique(
	ctx context.Context, conn kpool.Queryer, table string, id uuid.UUID,
) error {
	var exists bool
	if err := conn.QueryRow(
		ctx,
		fmt.Sprintf(`select exists (select 1 from %q where "id" = $1)`, table),
		id.String(),
	).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return kpgerr.Conflict{
			Table: table, Identity: id.String(),
			Reason: fmt.Sprintf("found an existing %s with the same id", table),
		}
	}
	return nil
}

// CheckDomainUnique fails with Conflict when a row with the identical
// domain key exists.
func CheckDomainUnique(ctx context.Context, conn kpool.Queryer, key DomainKey) error {
	query := fmt.Sprintf(`select exists (select 1 from %q where "name" = $1`, key.Table)
	args := []interface{}{key.Name}

	if key.ProjectID != nil {
		args = append(args, key.ProjectID.String())
		query += fmt.Sprintf(` and "project_id" = $%d`, len(args))
	}
	if key.UserID != nil {
		args = append(args, key.UserID.String())
		query += fmt.Sprintf(` and "user_id" = $%d`, len(args))
	}
	if key.Type != "" {
		args = append(args, key.Type)
		query += fmt.Sprintf(` and "type" = $%d`, len(args))
	}
	query += `)`

	var exists bool
	if err := conn.QueryRow(ctx, query, args...).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return kpgerr.Conflict{
			Table: key.Table, Identity: key.Name,
			Reason: fmt.Sprintf(
				"found an existing %s with the same name owned by the same user",
				key.Table,
			),
		}
	}
	return nil
}

// CheckSharedUnique fails with Conflict when another row with the same
// (name, project[, type]) is already shared, regardless of its owner.
//
// Only invoked when is_shared is being set true.
func CheckSharedUnique(ctx context.Context, conn kpool.Queryer, key DomainKey) error {
	query := fmt.Sprintf(
		`select exists (select 1 from %q where "name" = $1 and "project_id" = $2 and "is_shared"`,
		key.Table,
	)
	args := []interface{}{key.Name, key.ProjectID.String()}
	if key.Type != "" {
		args = append(args, key.Type)
		query += fmt.Sprintf(` and "type" = $%d`, len(args))
	}
	query += `)`

	var exists bool
	if err := conn.QueryRow(ctx, query, args...).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return kpgerr.Conflict{
			Table: key.Table, Identity: key.Name,
			Reason: fmt.Sprintf(
				"found an existing shared %s with the same name in the project",
				key.Table,
			),
		}
	}
	return nil
}
