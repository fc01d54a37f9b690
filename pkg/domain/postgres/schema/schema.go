package schema

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/tracefab/tracefab/pkg/domain"
	kpool "github.com/tracefab/tracefab/pkg/domain/postgres/pool"
)

type pgSchema struct {
	pool             kpool.Pool
	schemaRepository string
	logger           *log.Logger
}

type Option func(*pgSchema) *pgSchema

func WithLogger(l *log.Logger) Option {
	return func(s *pgSchema) *pgSchema {
		s.logger = l
		return s
	}
}

// New creates a new Schema.
//
// # Args
//
// - schemaRepository: The path to the schema repository directory.
func New(pool kpool.Pool, schemaRepository string, options ...Option) *pgSchema {
	s := &pgSchema{
		pool:             pool,
		schemaRepository: schemaRepository,
		logger:           log.Default(),
	}
	for _, opt := range options {
		s = opt(s)
	}
	return s
}

var _ domain.SchemaInterface = &pgSchema{}

type revision struct {
	Revision int
	Root     string
}

func (r revision) Apply(ctx context.Context, conn kpool.Queryer) error {
	return filepath.WalkDir(r.Root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !strings.HasSuffix(path, ".sql") {
			return nil
		}

		query, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		if _, err := conn.Exec(ctx, string(query)); err != nil {
			return err
		}
		return nil
	})
}

func (s *pgSchema) CurrentRevisions(ctx context.Context) ([]string, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(
		ctx, `select "version" from "schema_version" order by "version"`,
	)
	if err != nil {
		if pgerr := new(pgconn.PgError); errors.As(err, &pgerr) {
			if pgerr.Code == pgerrcode.UndefinedTable {
				return nil, nil
			}
		}
		return nil, err
	}
	defer rows.Close()

	revisions := []string{}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		revisions = append(revisions, strconv.Itoa(v))
	}

	return revisions, nil
}

func (s *pgSchema) IsEmpty(ctx context.Context) (bool, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Release()

	var tables int
	if err := conn.QueryRow(
		ctx,
		`select count(*) from "information_schema"."tables" where "table_schema" = 'public'`,
	).Scan(&tables); err != nil {
		return false, err
	}

	return tables == 0, nil
}

func (s *pgSchema) Stamp(ctx context.Context, rev string) error {
	v, err := strconv.Atoi(rev)
	if err != nil {
		return fmt.Errorf("not a schema revision: %s", rev)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// the database may predate the revision tracking table.
	if _, err := tx.Exec(
		ctx, `create table if not exists "schema_version" ("version" int not null primary key)`,
	); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `delete from "schema_version"`); err != nil {
		return err
	}
	if _, err := tx.Exec(
		ctx, `insert into "schema_version" ("version") values ($1)`, v,
	); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *pgSchema) Upgrade(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	schemaRevisions, err := s.revisions()
	if err != nil {
		return err
	}

	current, err := s.currentRevision(ctx)
	if err != nil {
		return err
	}

	for _, r := range schemaRevisions {
		if r.Revision <= current {
			continue
		}
		if err := r.Apply(ctx, tx); err != nil {
			return err
		}
		if _, err := tx.Exec(
			ctx, `delete from "schema_version"`,
		); err != nil {
			return err
		}
		if _, err := tx.Exec(
			ctx,
			`insert into "schema_version" ("version") values ($1)`,
			r.Revision,
		); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	return nil
}

func (s *pgSchema) Init(ctx context.Context) error {
	recorded, err := s.CurrentRevisions(ctx)
	if err != nil {
		return err
	}

	if 0 < len(recorded) {
		if 1 < len(recorded) {
			s.logger.Printf(
				"schema_version holds %d revisions; upgrading from the latest",
				len(recorded),
			)
		}
		return s.Upgrade(ctx)
	}

	empty, err := s.IsEmpty(ctx)
	if err != nil {
		return err
	}
	if empty {
		return s.Upgrade(ctx)
	}

	// tables exist but no revision is recorded. The database was created
	// before revisions were tracked, so it is at the baseline schema.
	baseline, err := s.baseline()
	if err != nil {
		return err
	}
	if err := s.Stamp(ctx, strconv.Itoa(baseline)); err != nil {
		return err
	}
	return s.Upgrade(ctx)
}

func (s *pgSchema) Context(ctx context.Context) (context.Context, context.CancelFunc) {
	cctx, can := context.WithCancelCause(ctx)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		can(err)
		return cctx, func() {}
	}
	if err := w.Add(s.schemaRepository); err != nil {
		can(err)
		return cctx, func() {}
	}

	checkRevision := func() {
		rs, err := s.revisions()
		if err != nil {
			can(fmt.Errorf("failed to read schema repository: %w", err))
			return
		}

		current, err := s.currentRevision(ctx)
		if err != nil {
			can(fmt.Errorf("failed to get current schema revision: %w", err))
			return
		}

		for _, r := range rs {
			if current < r.Revision {
				can(fmt.Errorf(
					"schema is outdated: %d (in db) < %d (in repository)",
					current, r.Revision,
				))
				return
			}
		}
	}

	go func() {
		defer w.Close()

		for {
			select {
			case <-cctx.Done():
				return
			case ev := <-w.Events:
				if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) {
					continue
				}
				if s.schemaRepository != filepath.Dir(ev.Name) {
					continue
				}

				checkRevision()
			}
		}
	}()

	checkRevision()
	return cctx, func() { can(nil) }
}

// currentRevision is the latest recorded revision, or 0 when none is recorded.
func (s *pgSchema) currentRevision(ctx context.Context) (int, error) {
	recorded, err := s.CurrentRevisions(ctx)
	if err != nil {
		return -1, err
	}

	current := 0
	for _, r := range recorded {
		v, err := strconv.Atoi(r)
		if err != nil {
			return -1, fmt.Errorf("not a schema revision: %s", r)
		}
		if current < v {
			current = v
		}
	}
	return current, nil
}

// baseline is the oldest revision in the schema repository.
func (s *pgSchema) baseline() (int, error) {
	rs, err := s.revisions()
	if err != nil {
		return -1, err
	}
	if len(rs) == 0 {
		return -1, errors.New("schema repository holds no revisions")
	}
	return rs[0].Revision, nil
}

// revisions lookup the schema from the schema repository.
//
// # Returns
//
// - []revision: The list of schema revisions, sorted by revision number.
//
// - error: The error if any.
func (s *pgSchema) revisions() ([]revision, error) {
	dir, err := os.ReadDir(s.schemaRepository)
	if err != nil {
		return nil, err
	}

	schemaRevisions := make([]revision, 0, len(dir))
	for _, entry := range dir {
		if !entry.IsDir() {
			continue
		}

		v, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}

		schemaRevisions = append(schemaRevisions, revision{
			Revision: v,
			Root:     filepath.Join(s.schemaRepository, entry.Name()),
		})
	}
	slices.SortFunc(
		schemaRevisions,
		func(i, j revision) int { return cmp.Compare(i.Revision, j.Revision) },
	)

	return schemaRevisions, nil
}

func Null() *nullSchema {
	return &nullSchema{}
}

type nullSchema struct{}

var _ domain.SchemaInterface = nullSchema{}

func (nullSchema) CurrentRevisions(ctx context.Context) ([]string, error) {
	return nil, nil
}

func (nullSchema) IsEmpty(ctx context.Context) (bool, error) {
	return false, errors.New("no schema repository available")
}

func (nullSchema) Stamp(ctx context.Context, rev string) error {
	return errors.New("no schema repository available")
}

func (nullSchema) Upgrade(ctx context.Context) error {
	return errors.New("no schema repository available")
}

func (nullSchema) Init(ctx context.Context) error {
	return errors.New("no schema repository available")
}

func (nullSchema) Context(ctx context.Context) (context.Context, context.CancelFunc) {
	return ctx, func() {}
}
