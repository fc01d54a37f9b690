package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Team struct {
	ID      uuid.UUID
	Name    string
	Created time.Time
	Updated time.Time
}

type TeamPatch struct {
	Name *string
}

type TeamInterface interface {
	Create(ctx context.Context, team Team) (Team, error)
	Get(ctx context.Context, nameOrID string) (Team, error)
	List(ctx context.Context) ([]Team, error)
	Update(ctx context.Context, id uuid.UUID, patch TeamPatch) (Team, error)
	Delete(ctx context.Context, nameOrID string) error

	// AddUser puts the user into the team. Adding a member twice is a no-op.
	AddUser(ctx context.Context, teamNameOrID string, userNameOrID string) error

	// RemoveUser takes the user out of the team.
	//
	// Returns ErrMissing when the user is not a member.
	RemoveUser(ctx context.Context, teamNameOrID string, userNameOrID string) error

	// UsersFor lists the members of the team.
	UsersFor(ctx context.Context, teamNameOrID string) ([]User, error)

	// TeamsFor lists the teams the user belongs to.
	TeamsFor(ctx context.Context, userNameOrID string) ([]Team, error)
}
