package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type ExecutionStatus string

const (
	// the step/run is still executing.
	StatusRunning ExecutionStatus = "running"

	// finished successfully.
	StatusCompleted ExecutionStatus = "completed"

	// finished with an error.
	StatusFailed ExecutionStatus = "failed"

	// the step was not executed; its outputs were replayed from a
	// previous execution. A cached step is never the producer of
	// its output artifacts.
	StatusCached ExecutionStatus = "cached"
)

func (es ExecutionStatus) String() string {
	return string(es)
}

func AsExecutionStatus(status string) (ExecutionStatus, error) {
	switch status {
	case string(StatusRunning):
		return StatusRunning, nil
	case string(StatusCompleted):
		return StatusCompleted, nil
	case string(StatusFailed):
		return StatusFailed, nil
	case string(StatusCached):
		return StatusCached, nil
	default:
		return "", fmt.Errorf("'%s' is not ExecutionStatus", status)
	}
}

func (es ExecutionStatus) Terminal() bool {
	switch es {
	case StatusCompleted, StatusFailed, StatusCached:
		return true
	default:
		return false
	}
}

// Run is one execution of a pipeline.
//
// Unique by id and, globally, by name. StackID and PipelineID may both
// be nil: such a run is "unlisted".
type Run struct {
	ID         uuid.UUID
	Name       string
	StackID    *uuid.UUID
	PipelineID *uuid.UUID
	ProjectID  uuid.UUID
	UserID     uuid.UUID
	Status     ExecutionStatus

	// serialized pipeline configuration the run was started with.
	PipelineConfiguration string
	NumSteps              int

	Created time.Time
	Updated time.Time
}

type RunPatch struct {
	Status   *ExecutionStatus
	NumSteps *int
}

type RunFilter struct {
	Project  *string
	User     *string
	StackID  *uuid.UUID
	Pipeline *uuid.UUID
	Name     *string

	// runs that used this component (via their stack).
	ComponentID *uuid.UUID

	// only runs without a pipeline. Ignored when Pipeline is set.
	Unlisted bool
}

// Step is one step execution within a run.
//
// Unique by (run, name). Parent and input edges are frozen once the
// step exists; output edges may be appended afterwards.
type Step struct {
	ID             uuid.UUID
	Name           string
	RunID          uuid.UUID
	EntrypointName string
	Parameters     string
	Configuration  string
	Docstring      string
	Status         ExecutionStatus
	CacheKey       string

	// ids of steps which must complete before this one.
	ParentIDs []uuid.UUID

	// input name -> artifact id. Names are unique within the step.
	InputArtifacts map[string]uuid.UUID

	// output name -> artifact id. Names are unique within the step.
	OutputArtifacts map[string]uuid.UUID

	Created time.Time
	Updated time.Time
}

// StepPatch updates a step.
//
// OutputArtifacts are merged in (idempotently); parent and input edges
// of an existing step are silently left untouched.
type StepPatch struct {
	Status          *ExecutionStatus
	OutputArtifacts map[string]uuid.UUID
}

type StepFilter struct {
	RunID   *uuid.UUID
	Project *string
}

type Artifact struct {
	ID           uuid.UUID
	Name         string
	Type         string
	URI          string
	Materializer string
	DataType     string
	Created      time.Time
	Updated      time.Time
}

type ArtifactFilter struct {
	Name *string

	// artifacts produced by this step.
	ProducerStepID *uuid.UUID
}

type RunInterface interface {
	// Create records a run.
	//
	// Returns ErrConflict when a run with the same id or name exists.
	// Stack or pipeline references pointing at no stored row are
	// dropped: the run is recorded stack-less/unlisted instead of
	// failing.
	Create(ctx context.Context, run Run) (Run, error)

	// Get retrieves a run by name or id.
	Get(ctx context.Context, nameOrID string) (Run, error)

	// GetOrCreate records the run, tolerating a concurrent creation of
	// the same logical run: on ErrConflict it falls back to get-by-id,
	// then get-by-name.
	GetOrCreate(ctx context.Context, run Run) (Run, error)

	List(ctx context.Context, filter RunFilter) ([]Run, error)

	Update(ctx context.Context, id uuid.UUID, patch RunPatch) (Run, error)

	// CreateStep records a step with all its parent and input/output
	// artifact edges in one transaction.
	//
	// The owning run must exist (ErrMissing), the step name must be
	// free within the run (ErrConflict), and every referenced parent
	// step and artifact must exist (ErrMissing naming the id).
	// Re-asserting an existing edge is a no-op.
	CreateStep(ctx context.Context, step Step) (Step, error)

	GetStep(ctx context.Context, id uuid.UUID) (Step, error)

	ListSteps(ctx context.Context, filter StepFilter) ([]Step, error)

	// UpdateStep applies patch. New output edges are inserted
	// idempotently; parent and input lists are never re-processed.
	UpdateStep(ctx context.Context, id uuid.UUID, patch StepPatch) (Step, error)

	// InputArtifacts maps input names to artifacts for the step.
	InputArtifacts(ctx context.Context, stepID uuid.UUID) (map[string]Artifact, error)

	// OutputArtifacts maps output names to artifacts for the step.
	OutputArtifacts(ctx context.Context, stepID uuid.UUID) (map[string]Artifact, error)

	// ProducerStep returns the step which produced the artifact as an
	// output, excluding cached steps. ErrMissing when no non-cached
	// producer exists.
	ProducerStep(ctx context.Context, artifactID uuid.UUID) (Step, error)

	CreateArtifact(ctx context.Context, artifact Artifact) (Artifact, error)
	GetArtifact(ctx context.Context, id uuid.UUID) (Artifact, error)
	ListArtifacts(ctx context.Context, filter ArtifactFilter) ([]Artifact, error)
}
