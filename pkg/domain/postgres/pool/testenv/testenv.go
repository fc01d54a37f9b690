package testenv

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/jackc/pgx/v4/pgxpool"
	kpool "github.com/tracefab/tracefab/pkg/domain/postgres/pool"
	kpgschema "github.com/tracefab/tracefab/pkg/domain/postgres/schema"
)

// EnvDBURI names the environment variable holding the connection
// string of a scratch database. Tests needing a database are skipped
// when it is unset.
const EnvDBURI = "TRACEFAB_TEST_DBURI"

// PoolBroaker is an interface to get a pool.
type PoolBroaker interface {
	// GetPool returns a pool against the test database.
	//
	// The schema is brought up to date, and tables are cleaned up
	// before returning and after t.
	GetPool(ctx context.Context, t *testing.T) kpool.Pool
}

type pg struct {
	pool *pgxpool.Pool
}

func (p *pg) GetPool(ctx context.Context, t *testing.T) kpool.Pool {
	t.Cleanup(func() {
		t.Helper()
		ClearTables(ctx, p.pool, t)
	})

	ClearTables(ctx, p.pool, t)
	return kpool.Wrap(p.pool)
}

// NewPoolBroaker returns a PoolBroaker against the database named by
// TRACEFAB_TEST_DBURI, or skips t when the variable is unset.
func NewPoolBroaker(ctx context.Context, t *testing.T) PoolBroaker {
	t.Helper()

	dburi := os.Getenv(EnvDBURI)
	if dburi == "" {
		t.Skipf("no test database: set %s to run this test", EnvDBURI)
	}

	pool, err := pgxpool.Connect(ctx, dburi)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pool.Close)

	sch := kpgschema.New(kpool.Wrap(pool), SchemaRepository())
	if err := sch.Init(ctx); err != nil {
		t.Fatal(err)
	}

	return &pg{pool: pool}
}

// SchemaRepository locates the schema directory at the repository root.
func SchemaRepository() string {
	_, here, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(here), "..", "..", "..", "..", "..", "schema")
}

func ClearTables(ctx context.Context, p *pgxpool.Pool, t *testing.T) {
	t.Helper()

	conn, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("fail to clean-up tables.: %v", err)
	}
	defer conn.Release()

	for _, command := range []string{
		`truncate "pipeline_run" restart identity cascade`,
		`truncate "artifact" restart identity cascade`,
		`truncate "pipeline" restart identity cascade`,
		`truncate "stack" restart identity cascade`,
		`truncate "stack_component" restart identity cascade`,
		`truncate "flavor" restart identity cascade`,
		`truncate "secret" restart identity cascade`,
		`truncate "role" restart identity cascade`,
		`truncate "team" restart identity cascade`,
		`truncate "user" restart identity cascade`,
		`truncate "project" restart identity cascade`,
		// by cascade, membership, assignment and edge tables drain too.
	} {
		if _, err := conn.Exec(ctx, command); err != nil {
			t.Errorf("fail to clean-up tables.: %v", err)
		}
	}
}
