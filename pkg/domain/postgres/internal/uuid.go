package internal

import (
	"github.com/google/uuid"
	"github.com/jackc/pgtype"
)

// AsUUID converts a scanned non-null uuid column.
func AsUUID(v pgtype.UUID) uuid.UUID {
	return uuid.UUID(v.Bytes)
}

// AsNullableUUID converts a scanned nullable uuid column.
func AsNullableUUID(v pgtype.UUID) *uuid.UUID {
	if v.Status != pgtype.Present {
		return nil
	}
	id := uuid.UUID(v.Bytes)
	return &id
}

// UUIDParam renders a nullable uuid as a query parameter.
func UUIDParam(id *uuid.UUID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}
