package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// name of the stack components registered at deployment time.
//
// The default orchestrator and the default artifact store cannot be
// modified nor deleted.
const DefaultComponentName = "default"

type ComponentType string

const (
	OrchestratorType      ComponentType = "orchestrator"
	ArtifactStoreType     ComponentType = "artifact_store"
	ContainerRegistryType ComponentType = "container_registry"
	SecretsManagerType    ComponentType = "secrets_manager"
	StepOperatorType      ComponentType = "step_operator"
	ModelDeployerType     ComponentType = "model_deployer"
	ExperimentTrackerType ComponentType = "experiment_tracker"
	AlerterType           ComponentType = "alerter"
	FeatureStoreType      ComponentType = "feature_store"
	DataValidatorType     ComponentType = "data_validator"
	AnnotatorType         ComponentType = "annotator"
)

func (ct ComponentType) String() string {
	return string(ct)
}

func AsComponentType(t string) (ComponentType, error) {
	switch t {
	case string(OrchestratorType):
		return OrchestratorType, nil
	case string(ArtifactStoreType):
		return ArtifactStoreType, nil
	case string(ContainerRegistryType):
		return ContainerRegistryType, nil
	case string(SecretsManagerType):
		return SecretsManagerType, nil
	case string(StepOperatorType):
		return StepOperatorType, nil
	case string(ModelDeployerType):
		return ModelDeployerType, nil
	case string(ExperimentTrackerType):
		return ExperimentTrackerType, nil
	case string(AlerterType):
		return AlerterType, nil
	case string(FeatureStoreType):
		return FeatureStoreType, nil
	case string(DataValidatorType):
		return DataValidatorType, nil
	case string(AnnotatorType):
		return AnnotatorType, nil
	default:
		return "", fmt.Errorf("'%s' is not ComponentType", t)
	}
}

// StackComponent is one registered piece of infrastructure.
//
// Domain key: (name, type, project, owner).
type StackComponent struct {
	ID            uuid.UUID
	Name          string
	Type          ComponentType
	FlavorName    string
	Configuration []byte
	IsShared      bool
	ProjectID     uuid.UUID
	UserID        uuid.UUID

	// populated on hydrated reads only.
	Project *Project
	User    *User

	Created time.Time
	Updated time.Time
}

type ComponentPatch struct {
	Name          *string
	FlavorName    *string
	Configuration *[]byte
	IsShared      *bool
}

// ComponentFilter narrows List results. Nil fields are not applied.
type ComponentFilter struct {
	Project  *string
	User     *string
	Type     *ComponentType
	Name     *string
	FlavorName *string
	IsShared *bool
}

type ComponentInterface interface {
	// Create registers a component after id-, domain- and (when shared)
	// shared-uniqueness checks, in that order.
	Create(ctx context.Context, component StackComponent) (StackComponent, error)

	// Get retrieves a component by name or id.
	//
	// With hydrate, the nested Project and User models are populated.
	Get(ctx context.Context, nameOrID string, hydrate bool) (StackComponent, error)

	List(ctx context.Context, filter ComponentFilter) ([]StackComponent, error)

	// Update applies patch.
	//
	// The default orchestrator/artifact store returns ErrProtected.
	// Renames re-run the domain-uniqueness check; a false→true shared
	// transition re-runs the shared-uniqueness check.
	Update(ctx context.Context, id uuid.UUID, patch ComponentPatch) (StackComponent, error)

	// Delete removes a component.
	//
	// Components that are part of at least one stack, and the default
	// orchestrator/artifact store, return ErrProtected.
	Delete(ctx context.Context, id uuid.UUID) error
}
