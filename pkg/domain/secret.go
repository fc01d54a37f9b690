package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type SecretScope string

const (
	// visible wherever the owner is.
	SecretScopeGlobal SecretScope = "global"

	// visible within one project.
	SecretScopeProject SecretScope = "project"
)

func AsSecretScope(scope string) (SecretScope, error) {
	switch scope {
	case string(SecretScopeGlobal):
		return SecretScopeGlobal, nil
	case string(SecretScopeProject):
		return SecretScopeProject, nil
	default:
		return "", fmt.Errorf("'%s' is not SecretScope", scope)
	}
}

// Secret is the metadata record of a secret.
//
// The value blob lives in the same row but has its own lifecycle:
// it is written only via SetValues, never during Create/Update.
type Secret struct {
	ID        uuid.UUID
	Name      string
	Scope     SecretScope
	ProjectID uuid.UUID
	UserID    uuid.UUID

	// populated on hydrated reads only.
	Project *Project
	User    *User

	Created time.Time
	Updated time.Time
}

type SecretPatch struct {
	Name  *string
	Scope *SecretScope
}

type SecretFilter struct {
	Project *string
	User    *string
	Name    *string
	Scope   *SecretScope
}

type SecretInterface interface {
	// Create registers the metadata record. No values are stored.
	Create(ctx context.Context, secret Secret) (Secret, error)

	Get(ctx context.Context, nameOrID string, hydrate bool) (Secret, error)
	List(ctx context.Context, filter SecretFilter) ([]Secret, error)
	Update(ctx context.Context, id uuid.UUID, patch SecretPatch) (Secret, error)
	Delete(ctx context.Context, id uuid.UUID) error

	// SetValues encodes and stores the value payload of the secret.
	//
	// Returns ErrTooLarge when the encoded payload exceeds the column
	// capacity.
	SetValues(ctx context.Context, id uuid.UUID, values map[string]string) error

	// GetValues decodes the stored payload.
	//
	// Returns ErrMissing when no payload has ever been set.
	GetValues(ctx context.Context, id uuid.UUID) (map[string]string, error)
}
