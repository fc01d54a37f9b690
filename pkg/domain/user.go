package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// name of the user account created at deployment time.
//
// Its name cannot be changed and the account cannot be deleted.
const DefaultUserName = "default"

type User struct {
	ID           uuid.UUID
	Name         string
	FullName     string
	Email        string
	EmailOptedIn bool
	Active       bool
	Created      time.Time
	Updated      time.Time
}

func (u *User) Equal(o *User) bool {
	if (u == nil) || (o == nil) {
		return (u == nil) && (o == nil)
	}
	return u.ID == o.ID &&
		u.Name == o.Name &&
		u.FullName == o.FullName &&
		u.Email == o.Email &&
		u.EmailOptedIn == o.EmailOptedIn &&
		u.Active == o.Active
}

// UserPatch is a partial update of a User.
//
// Only non-nil fields overwrite the stored values.
type UserPatch struct {
	Name         *string
	FullName     *string
	Email        *string
	EmailOptedIn *bool
	Active       *bool
}

type UserInterface interface {
	// Create registers a new user.
	//
	// When user.ID is the zero uuid, a fresh id is generated.
	//
	// Returns ErrConflict when a user with the same id or name exists.
	Create(ctx context.Context, user User) (User, error)

	// Get retrieves a user by name or id.
	Get(ctx context.Context, nameOrID string) (User, error)

	List(ctx context.Context) ([]User, error)

	// Update applies patch to the user with the given id.
	//
	// Renaming the default user returns ErrProtected.
	// Renaming to a taken name returns ErrConflict.
	Update(ctx context.Context, id uuid.UUID, patch UserPatch) (User, error)

	// Delete removes a user by name or id.
	//
	// Deleting the default user returns ErrProtected.
	Delete(ctx context.Context, nameOrID string) error
}
