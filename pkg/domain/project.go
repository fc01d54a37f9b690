package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// name of the project created at deployment time.
//
// Its name cannot be changed and the project cannot be deleted.
const DefaultProjectName = "default"

type Project struct {
	ID          uuid.UUID
	Name        string
	Description string
	Created     time.Time
	Updated     time.Time
}

type ProjectPatch struct {
	Name        *string
	Description *string
}

type ProjectInterface interface {
	Create(ctx context.Context, project Project) (Project, error)
	Get(ctx context.Context, nameOrID string) (Project, error)
	List(ctx context.Context) ([]Project, error)

	// Update applies patch. Renaming the default project returns ErrProtected.
	Update(ctx context.Context, id uuid.UUID, patch ProjectPatch) (Project, error)

	// Delete removes a project. The default project returns ErrProtected.
	Delete(ctx context.Context, nameOrID string) error
}
