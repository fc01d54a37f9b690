package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Flavor describes one implementation of a component type.
//
// Domain key: (name, type, project, owner).
type Flavor struct {
	ID           uuid.UUID
	Name         string
	Type         ComponentType
	Source       string
	ConfigSchema string
	ProjectID    uuid.UUID
	UserID       uuid.UUID

	// populated on hydrated reads only.
	Project *Project
	User    *User

	Created time.Time
	Updated time.Time
}

type FlavorPatch struct {
	Name         *string
	Source       *string
	ConfigSchema *string
}

type FlavorFilter struct {
	Project *string
	User    *string
	Type    *ComponentType
	Name    *string
}

type FlavorInterface interface {
	Create(ctx context.Context, flavor Flavor) (Flavor, error)
	Get(ctx context.Context, nameOrID string, hydrate bool) (Flavor, error)
	List(ctx context.Context, filter FlavorFilter) ([]Flavor, error)
	Update(ctx context.Context, id uuid.UUID, patch FlavorPatch) (Flavor, error)

	// Delete removes a flavor.
	//
	// Flavors referenced by name from any stack component return ErrProtected.
	Delete(ctx context.Context, id uuid.UUID) error
}
