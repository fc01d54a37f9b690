package internal

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	kpgerr "github.com/tracefab/tracefab/pkg/domain/postgres/errors"
	kpool "github.com/tracefab/tracefab/pkg/domain/postgres/pool"
)

// ResolveNameOrID finds the id of the row in table whose "id" or
// "name" column matches nameOrID.
//
// When nameOrID parses as a UUID it is looked up by id, otherwise by
// name. Name uniqueness is enforced at write time, so at most one row
// is expected per name; should that ever be violated, the first match
// wins.
func ResolveNameOrID(
	ctx context.Context, conn kpool.Queryer, table string, nameOrID string,
) (uuid.UUID, error) {
	var filter, reason string
	if _, err := uuid.Parse(nameOrID); err == nil {
		filter = `"id"`
		reason = fmt.Sprintf("no %s with this ID found", table)
	} else {
		filter = `"name"`
		reason = fmt.Sprintf(
			"'%s' is not a valid UUID and no %s with this name exists",
			nameOrID, table,
		)
	}

	var found pgtype.UUID
	if err := conn.QueryRow(
		ctx,
		fmt.Sprintf(`select "id" from %q where %s = $1`, table, filter),
		nameOrID,
	).Scan(&found); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, kpgerr.Missing{
				Table: table, Identity: nameOrID, Reason: reason,
			}
		}
		return uuid.Nil, err
	}

	return AsUUID(found), nil
}
