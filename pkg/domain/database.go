package domain

import "context"

// MetaStore is the root object of the metadata store.
//
// Each method exposes operations for one entity kind.
// Implementations are backed by a single relational database and
// perform each mutating operation in one transaction.
type MetaStore interface {
	Users() UserInterface
	Teams() TeamInterface
	Roles() RoleInterface
	Assignments() AssignmentInterface
	Projects() ProjectInterface
	Flavors() FlavorInterface
	Components() ComponentInterface
	Stacks() StackInterface
	Pipelines() PipelineInterface
	Runs() RunInterface
	Secrets() SecretInterface
	Schema() SchemaInterface

	// EnsureDefaults creates the default project, user, stack components
	// and stack when they do not exist yet.
	EnsureDefaults(ctx context.Context) error

	Close() error
}

// SchemaInterface manages the database schema.
type SchemaInterface interface {
	// CurrentRevisions returns the recorded schema revisions.
	//
	// An un-initialized database has no recorded revisions.
	CurrentRevisions(ctx context.Context) ([]string, error)

	// IsEmpty returns true when the database holds no tables at all.
	IsEmpty(ctx context.Context) (bool, error)

	// Stamp records revision as the current one without applying anything.
	Stamp(ctx context.Context, revision string) error

	// Upgrade applies all schema revisions newer than the recorded one.
	Upgrade(ctx context.Context) error

	// Init brings the database to the latest schema revision.
	//
	// - when revisions are recorded, upgrade to the latest
	// (more than one recorded revision is logged as a warning),
	//
	// - when the database is empty, upgrade from scratch,
	//
	// - otherwise the database predates the migration runner:
	// stamp the baseline revision, then upgrade.
	Init(ctx context.Context) error

	// Context derives a context which is cancelled when the schema
	// repository holds revisions newer than the database.
	Context(ctx context.Context) (context.Context, context.CancelFunc)
}
