package domain

import "errors"

var (
	// requested entity does not exist.
	ErrMissing = errors.New("missing")

	// an entity with the same id, domain key or shared name already exists.
	ErrConflict = errors.New("already exists")

	// the entity is built-in or referenced by others and must not be
	// mutated/deleted this way.
	ErrProtected = errors.New("illegal operation on protected entity")

	// encoded payload does not fit into its column.
	ErrTooLarge = errors.New("value too large")

	// store configuration is invalid. Fatal at startup.
	ErrMisconfigured = errors.New("store is misconfigured")
)
