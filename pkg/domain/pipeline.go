package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Pipeline is a registered pipeline definition.
//
// Domain key: (name, project).
type Pipeline struct {
	ID        uuid.UUID
	Name      string
	Docstring string
	Spec      string
	ProjectID uuid.UUID
	UserID    uuid.UUID

	// populated on hydrated reads only.
	Project *Project
	User    *User

	Created time.Time
	Updated time.Time
}

type PipelinePatch struct {
	Name      *string
	Docstring *string
	Spec      *string
}

type PipelineFilter struct {
	Project *string
	User    *string
	Name    *string
}

type PipelineInterface interface {
	Create(ctx context.Context, pipeline Pipeline) (Pipeline, error)
	Get(ctx context.Context, nameOrID string, hydrate bool) (Pipeline, error)
	List(ctx context.Context, filter PipelineFilter) ([]Pipeline, error)
	Update(ctx context.Context, id uuid.UUID, patch PipelinePatch) (Pipeline, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
