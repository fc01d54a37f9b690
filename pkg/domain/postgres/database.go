package postgres

import (
	"context"
	"errors"
	"log"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/tracefab/tracefab/pkg/domain"
	kpgassign "github.com/tracefab/tracefab/pkg/domain/postgres/assignment"
	kpgcomp "github.com/tracefab/tracefab/pkg/domain/postgres/component"
	kpgflavor "github.com/tracefab/tracefab/pkg/domain/postgres/flavor"
	kpgpipeline "github.com/tracefab/tracefab/pkg/domain/postgres/pipeline"
	kpool "github.com/tracefab/tracefab/pkg/domain/postgres/pool"
	kpgproject "github.com/tracefab/tracefab/pkg/domain/postgres/project"
	kpgrole "github.com/tracefab/tracefab/pkg/domain/postgres/role"
	kpgrun "github.com/tracefab/tracefab/pkg/domain/postgres/run"
	kpgschema "github.com/tracefab/tracefab/pkg/domain/postgres/schema"
	kpgsecret "github.com/tracefab/tracefab/pkg/domain/postgres/secret"
	kpgstack "github.com/tracefab/tracefab/pkg/domain/postgres/stack"
	kpgteam "github.com/tracefab/tracefab/pkg/domain/postgres/team"
	kpguser "github.com/tracefab/tracefab/pkg/domain/postgres/user"
	kcodec "github.com/tracefab/tracefab/pkg/secret"
	"github.com/tracefab/tracefab/pkg/utils/pointer"
)

type metaStorePostgres struct {
	pool *pgxpool.Pool

	users       domain.UserInterface
	teams       domain.TeamInterface
	roles       domain.RoleInterface
	assignments domain.AssignmentInterface
	projects    domain.ProjectInterface
	flavors     domain.FlavorInterface
	components  domain.ComponentInterface
	stacks      domain.StackInterface
	pipelines   domain.PipelineInterface
	runs        domain.RunInterface
	secrets     domain.SecretInterface
	schema      domain.SchemaInterface
}

type Config struct {
	SchemaRepository string
	Logger           *log.Logger
	Sink             domain.EventSink
	SecretCodec      *kcodec.Codec
}

func DefaultConfig() Config {
	return Config{
		Logger:      log.Default(),
		Sink:        domain.NullSink(),
		SecretCodec: kcodec.New(),
	}
}

type Option func(*Config) *Config

func WithSchemaRepository(repository string) Option {
	return func(c *Config) *Config {
		c.SchemaRepository = repository
		return c
	}
}

func WithLogger(l *log.Logger) Option {
	return func(c *Config) *Config {
		c.Logger = l
		return c
	}
}

func WithEventSink(sink domain.EventSink) Option {
	return func(c *Config) *Config {
		c.Sink = sink
		return c
	}
}

func WithSecretCodec(codec *kcodec.Codec) Option {
	return func(c *Config) *Config {
		c.SecretCodec = codec
		return c
	}
}

func New(
	ctx context.Context,
	url string,
	options ...Option,
) (domain.MetaStore, error) {
	pool, err := pgxpool.Connect(ctx, url)
	if err != nil {
		return nil, err
	}

	c := DefaultConfig()
	for _, option := range options {
		c = *option(&c)
	}

	p := kpool.Wrap(pool)
	var schema domain.SchemaInterface = kpgschema.Null()
	if c.SchemaRepository != "" {
		schema = kpgschema.New(p, c.SchemaRepository, kpgschema.WithLogger(c.Logger))
	}

	return &metaStorePostgres{
		pool: pool,

		users:       kpguser.New(p, kpguser.WithLogger(c.Logger), kpguser.WithEventSink(c.Sink)),
		teams:       kpgteam.New(p, kpgteam.WithLogger(c.Logger), kpgteam.WithEventSink(c.Sink)),
		roles:       kpgrole.New(p, kpgrole.WithLogger(c.Logger), kpgrole.WithEventSink(c.Sink)),
		assignments: kpgassign.New(p, kpgassign.WithLogger(c.Logger), kpgassign.WithEventSink(c.Sink)),
		projects:    kpgproject.New(p, kpgproject.WithLogger(c.Logger), kpgproject.WithEventSink(c.Sink)),
		flavors:     kpgflavor.New(p, kpgflavor.WithLogger(c.Logger), kpgflavor.WithEventSink(c.Sink)),
		components:  kpgcomp.New(p, kpgcomp.WithLogger(c.Logger), kpgcomp.WithEventSink(c.Sink)),
		stacks:      kpgstack.New(p, kpgstack.WithLogger(c.Logger), kpgstack.WithEventSink(c.Sink)),
		pipelines:   kpgpipeline.New(p, kpgpipeline.WithLogger(c.Logger), kpgpipeline.WithEventSink(c.Sink)),
		runs:        kpgrun.New(p, kpgrun.WithLogger(c.Logger), kpgrun.WithEventSink(c.Sink)),
		secrets: kpgsecret.New(
			p,
			kpgsecret.WithLogger(c.Logger), kpgsecret.WithEventSink(c.Sink),
			kpgsecret.WithCodec(c.SecretCodec),
		),
		schema: schema,
	}, nil
}

func (m *metaStorePostgres) Users() domain.UserInterface             { return m.users }
func (m *metaStorePostgres) Teams() domain.TeamInterface             { return m.teams }
func (m *metaStorePostgres) Roles() domain.RoleInterface             { return m.roles }
func (m *metaStorePostgres) Assignments() domain.AssignmentInterface { return m.assignments }
func (m *metaStorePostgres) Projects() domain.ProjectInterface       { return m.projects }
func (m *metaStorePostgres) Flavors() domain.FlavorInterface         { return m.flavors }
func (m *metaStorePostgres) Components() domain.ComponentInterface   { return m.components }
func (m *metaStorePostgres) Stacks() domain.StackInterface           { return m.stacks }
func (m *metaStorePostgres) Pipelines() domain.PipelineInterface     { return m.pipelines }
func (m *metaStorePostgres) Runs() domain.RunInterface               { return m.runs }
func (m *metaStorePostgres) Secrets() domain.SecretInterface         { return m.secrets }
func (m *metaStorePostgres) Schema() domain.SchemaInterface          { return m.schema }

// EnsureDefaults registers the entities every deployment starts with:
// the default project and user, the built-in admin/guest roles, a local
// orchestrator and artifact store, and the default stack composed of
// the two. Safe to call repeatedly.
func (m *metaStorePostgres) EnsureDefaults(ctx context.Context) error {
	project, err := m.projects.Get(ctx, domain.DefaultProjectName)
	if errors.Is(err, domain.ErrMissing) {
		project, err = m.projects.Create(ctx, domain.Project{
			Name:        domain.DefaultProjectName,
			Description: "the default project",
		})
	}
	if err != nil {
		return err
	}

	user, err := m.users.Get(ctx, domain.DefaultUserName)
	if errors.Is(err, domain.ErrMissing) {
		user, err = m.users.Create(ctx, domain.User{
			Name:   domain.DefaultUserName,
			Active: true,
		})
	}
	if err != nil {
		return err
	}

	for _, role := range []domain.Role{
		{Name: domain.AdminRoleName, Permissions: []string{"read", "write", "me"}},
		{Name: domain.GuestRoleName, Permissions: []string{"read", "me"}},
	} {
		if _, err := m.roles.Get(ctx, role.Name); errors.Is(err, domain.ErrMissing) {
			if _, err := m.roles.Create(ctx, role); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}
	}

	stackComponents := map[domain.ComponentType][]domain.StackComponent{}
	for _, ctype := range []domain.ComponentType{
		domain.OrchestratorType, domain.ArtifactStoreType,
	} {
		found, err := m.components.List(ctx, domain.ComponentFilter{
			Project: pointer.Ref(project.ID.String()),
			Type:    &ctype,
			Name:    pointer.Ref(domain.DefaultComponentName),
		})
		if err != nil {
			return err
		}

		var component domain.StackComponent
		if len(found) == 0 {
			component, err = m.components.Create(ctx, domain.StackComponent{
				Name:          domain.DefaultComponentName,
				Type:          ctype,
				FlavorName:    "local",
				Configuration: []byte(`{}`),
				IsShared:      true,
				ProjectID:     project.ID,
				UserID:        user.ID,
			})
			if err != nil {
				return err
			}
		} else {
			component = found[0]
		}
		stackComponents[ctype] = append(stackComponents[ctype], component)
	}

	if _, err := m.stacks.Get(ctx, domain.DefaultStackName, false); errors.Is(err, domain.ErrMissing) {
		composition := map[domain.ComponentType][]uuid.UUID{}
		for ctype, comps := range stackComponents {
			for _, comp := range comps {
				composition[ctype] = append(composition[ctype], comp.ID)
			}
		}
		if _, err := m.stacks.Create(ctx, domain.Stack{
			Name:       domain.DefaultStackName,
			IsShared:   true,
			Components: composition,
			ProjectID:  project.ID,
			UserID:     user.ID,
		}); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	return nil
}

func (m *metaStorePostgres) Close() error {
	m.pool.Close()
	return nil
}
