package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// name of the stack registered at deployment time.
//
// The default stack cannot be modified nor deleted.
const DefaultStackName = "default"

// Stack is a named selection of stack components, grouped by type.
//
// Domain key: (name, project, owner).
type Stack struct {
	ID       uuid.UUID
	Name     string
	IsShared bool

	// component ids per component type. A type may hold several components.
	Components map[ComponentType][]uuid.UUID

	ProjectID uuid.UUID
	UserID    uuid.UUID

	// populated on hydrated reads only.
	Project *Project
	User    *User

	Created time.Time
	Updated time.Time
}

// ComponentIDs flattens the per-type buckets into one id list.
func (s *Stack) ComponentIDs() []uuid.UUID {
	ids := []uuid.UUID{}
	for _, perType := range s.Components {
		ids = append(ids, perType...)
	}
	return ids
}

type StackPatch struct {
	Name     *string
	IsShared *bool

	// replaces the whole composition when non-nil.
	Components *map[ComponentType][]uuid.UUID
}

type StackFilter struct {
	Project  *string
	User     *string
	Name     *string
	IsShared *bool

	// stacks containing this component.
	ComponentID *uuid.UUID
}

type StackInterface interface {
	// Create registers a stack after id-, domain- and (when shared)
	// shared-uniqueness checks, in that order.
	//
	// All referenced component ids are resolved in one batch;
	// ErrMissing names the unknown ids.
	Create(ctx context.Context, stack Stack) (Stack, error)

	Get(ctx context.Context, nameOrID string, hydrate bool) (Stack, error)

	List(ctx context.Context, filter StackFilter) ([]Stack, error)

	// Update applies patch. The default stack returns ErrProtected.
	Update(ctx context.Context, id uuid.UUID, patch StackPatch) (Stack, error)

	// Delete removes a stack. The default stack returns ErrProtected.
	Delete(ctx context.Context, id uuid.UUID) error
}
