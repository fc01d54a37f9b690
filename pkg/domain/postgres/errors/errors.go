package errors

import (
	"fmt"

	"github.com/tracefab/tracefab/pkg/domain"
)

// requested entity is missing.
type Missing struct {
	Table    string
	Identity string

	// optional precision, e.g. "'xyz' is not a valid UUID and no
	// project with this name exists".
	Reason string
}

var _ error = Missing{}

func (m Missing) Error() string {
	if m.Reason == "" {
		return fmt.Sprintf("%s is not found in %s", m.Identity, m.Table)
	}
	return fmt.Sprintf("%s is not found in %s: %s", m.Identity, m.Table, m.Reason)
}

func (m Missing) Unwrap() error {
	return domain.ErrMissing
}

// an entity collides with an existing one.
//
// Reason distinguishes an id collision from a domain-key collision
// from a shared-name collision.
type Conflict struct {
	Table    string
	Identity string
	Reason   string
}

var _ error = Conflict{}

func (c Conflict) Error() string {
	return fmt.Sprintf("unable to store %s in %s: %s", c.Identity, c.Table, c.Reason)
}

func (c Conflict) Unwrap() error {
	return domain.ErrConflict
}

// the operation is forbidden on this entity.
type Protected struct {
	Entity string
	Reason string
}

var _ error = Protected{}

func (p Protected) Error() string {
	return fmt.Sprintf("illegal operation on %s: %s", p.Entity, p.Reason)
}

func (p Protected) Unwrap() error {
	return domain.ErrProtected
}
