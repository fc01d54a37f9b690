package secret

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/tracefab/tracefab/pkg/domain"
	kpgerr "github.com/tracefab/tracefab/pkg/domain/postgres/errors"
	kpgintr "github.com/tracefab/tracefab/pkg/domain/postgres/internal"
	kpool "github.com/tracefab/tracefab/pkg/domain/postgres/pool"
	kcodec "github.com/tracefab/tracefab/pkg/secret"
)

type pgSecret struct {
	pool   kpool.Pool
	codec  *kcodec.Codec
	logger *log.Logger
	sink   domain.EventSink
}

type Option func(*pgSecret) *pgSecret

func WithLogger(l *log.Logger) Option {
	return func(s *pgSecret) *pgSecret {
		s.logger = l
		return s
	}
}

func WithEventSink(sink domain.EventSink) Option {
	return func(s *pgSecret) *pgSecret {
		s.sink = sink
		return s
	}
}

// WithCodec replaces the default plain codec, e.g. with an encrypting one.
func WithCodec(codec *kcodec.Codec) Option {
	return func(s *pgSecret) *pgSecret {
		s.codec = codec
		return s
	}
}

func New(pool kpool.Pool, options ...Option) *pgSecret {
	s := &pgSecret{
		pool:   pool,
		codec:  kcodec.New(),
		logger: log.Default(),
		sink:   domain.NullSink(),
	}
	for _, opt := range options {
		s = opt(s)
	}
	return s
}

var _ domain.SecretInterface = &pgSecret{}

func (s *pgSecret) Create(ctx context.Context, secret domain.Secret) (domain.Secret, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Secret{}, err
	}
	defer tx.Rollback(ctx)

	if err := kpgintr.CheckExists(ctx, tx, "project", secret.ProjectID); err != nil {
		return domain.Secret{}, err
	}
	if err := kpgintr.CheckExists(ctx, tx, "user", secret.UserID); err != nil {
		return domain.Secret{}, err
	}

	if secret.ID == uuid.Nil {
		secret.ID = uuid.New()
	} else if err := kpgintr.CheckIDUnique(ctx, tx, "secret", secret.ID); err != nil {
		return domain.Secret{}, err
	}
	if err := kpgintr.CheckDomainUnique(ctx, tx, kpgintr.DomainKey{
		Table: "secret", Name: secret.Name, UserID: &secret.UserID,
	}); err != nil {
		return domain.Secret{}, err
	}

	if err := tx.QueryRow(
		ctx,
		`
		insert into "secret" ("id", "name", "scope", "project_id", "user_id")
		values ($1, $2, $3, $4, $5)
		returning "created_at", "updated_at"
		`,
		secret.ID.String(), secret.Name, string(secret.Scope),
		secret.ProjectID.String(), secret.UserID.String(),
	).Scan(&secret.Created, &secret.Updated); err != nil {
		return domain.Secret{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Secret{}, err
	}

	s.sink.Emit(domain.Event{Kind: domain.EventCreated, Entity: "secret", ID: secret.ID})
	return secret, nil
}

func (s *pgSecret) Get(ctx context.Context, nameOrID string, hydrate bool) (domain.Secret, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return domain.Secret{}, err
	}
	defer conn.Release()

	id, err := kpgintr.ResolveNameOrID(ctx, conn, "secret", nameOrID)
	if err != nil {
		return domain.Secret{}, err
	}

	secret, err := get(ctx, conn, id)
	if err != nil {
		return domain.Secret{}, err
	}

	if hydrate {
		project, err := kpgintr.GetProject(ctx, conn, secret.ProjectID)
		if err != nil {
			return domain.Secret{}, err
		}
		secret.Project = &project

		user, err := kpgintr.GetUser(ctx, conn, secret.UserID)
		if err != nil {
			return domain.Secret{}, err
		}
		secret.User = &user
	}

	return secret, nil
}

func get(ctx context.Context, conn kpool.Queryer, id uuid.UUID) (domain.Secret, error) {
	secret := domain.Secret{}
	var sid, pid, uid pgtype.UUID
	var scope string
	if err := conn.QueryRow(
		ctx,
		`
		select "id", "name", "scope", "project_id", "user_id",
		       "created_at", "updated_at"
		from "secret" where "id" = $1
		`,
		id.String(),
	).Scan(
		&sid, &secret.Name, &scope, &pid, &uid,
		&secret.Created, &secret.Updated,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Secret{}, kpgerr.Missing{Table: "secret", Identity: id.String()}
		}
		return domain.Secret{}, err
	}
	secret.ID = kpgintr.AsUUID(sid)
	secret.ProjectID = kpgintr.AsUUID(pid)
	secret.UserID = kpgintr.AsUUID(uid)

	sc, err := domain.AsSecretScope(scope)
	if err != nil {
		return domain.Secret{}, err
	}
	secret.Scope = sc

	return secret, nil
}

func (s *pgSecret) List(ctx context.Context, filter domain.SecretFilter) ([]domain.Secret, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	query := `
	select "id", "name", "scope", "project_id", "user_id",
	       "created_at", "updated_at"
	from "secret"
	`
	args := []interface{}{}
	clauses := []string{}

	if filter.Project != nil {
		id, err := kpgintr.ResolveNameOrID(ctx, conn, "project", *filter.Project)
		if err != nil {
			return nil, err
		}
		args = append(args, id.String())
		clauses = append(clauses, fmt.Sprintf(`"project_id" = $%d`, len(args)))
	}
	if filter.User != nil {
		id, err := kpgintr.ResolveNameOrID(ctx, conn, "user", *filter.User)
		if err != nil {
			return nil, err
		}
		args = append(args, id.String())
		clauses = append(clauses, fmt.Sprintf(`"user_id" = $%d`, len(args)))
	}
	if filter.Name != nil {
		args = append(args, *filter.Name)
		clauses = append(clauses, fmt.Sprintf(`"name" = $%d`, len(args)))
	}
	if filter.Scope != nil {
		args = append(args, string(*filter.Scope))
		clauses = append(clauses, fmt.Sprintf(`"scope" = $%d`, len(args)))
	}
	for i, clause := range clauses {
		if i == 0 {
			query += ` where ` + clause
		} else {
			query += ` and ` + clause
		}
	}
	query += ` order by "name"`

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	secrets := []domain.Secret{}
	for rows.Next() {
		secret := domain.Secret{}
		var sid, pid, uid pgtype.UUID
		var scope string
		if err := rows.Scan(
			&sid, &secret.Name, &scope, &pid, &uid,
			&secret.Created, &secret.Updated,
		); err != nil {
			return nil, err
		}
		secret.ID = kpgintr.AsUUID(sid)
		secret.ProjectID = kpgintr.AsUUID(pid)
		secret.UserID = kpgintr.AsUUID(uid)

		sc, err := domain.AsSecretScope(scope)
		if err != nil {
			return nil, err
		}
		secret.Scope = sc

		secrets = append(secrets, secret)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return secrets, nil
}

func (s *pgSecret) Update(ctx context.Context, id uuid.UUID, patch domain.SecretPatch) (domain.Secret, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Secret{}, err
	}
	defer tx.Rollback(ctx)

	secret, err := get(ctx, tx, id)
	if err != nil {
		return domain.Secret{}, err
	}

	if patch.Name != nil && *patch.Name != secret.Name {
		if err := kpgintr.CheckDomainUnique(ctx, tx, kpgintr.DomainKey{
			Table: "secret", Name: *patch.Name, UserID: &secret.UserID,
		}); err != nil {
			return domain.Secret{}, err
		}
		secret.Name = *patch.Name
	}
	if patch.Scope != nil {
		secret.Scope = *patch.Scope
	}

	if err := tx.QueryRow(
		ctx,
		`
		update "secret"
		set "name" = $2, "scope" = $3, "updated_at" = now()
		where "id" = $1
		returning "updated_at"
		`,
		secret.ID.String(), secret.Name, string(secret.Scope),
	).Scan(&secret.Updated); err != nil {
		return domain.Secret{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Secret{}, err
	}

	s.sink.Emit(domain.Event{Kind: domain.EventUpdated, Entity: "secret", ID: secret.ID})
	return secret, nil
}

func (s *pgSecret) Delete(ctx context.Context, id uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := get(ctx, tx, id); err != nil {
		return err
	}

	if _, err := tx.Exec(
		ctx, `delete from "secret" where "id" = $1`, id.String(),
	); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	s.sink.Emit(domain.Event{Kind: domain.EventDeleted, Entity: "secret", ID: id})
	return nil
}

func (s *pgSecret) SetValues(ctx context.Context, id uuid.UUID, values map[string]string) error {
	encoded, err := s.codec.Encode(values)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	cmd, err := tx.Exec(
		ctx,
		`update "secret" set "values" = $2, "updated_at" = now() where "id" = $1`,
		id.String(), encoded,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return kpgerr.Missing{Table: "secret", Identity: id.String()}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	s.sink.Emit(domain.Event{Kind: domain.EventUpdated, Entity: "secret", ID: id})
	return nil
}

func (s *pgSecret) GetValues(ctx context.Context, id uuid.UUID) (map[string]string, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	var encoded *string
	if err := conn.QueryRow(
		ctx, `select "values" from "secret" where "id" = $1`, id.String(),
	).Scan(&encoded); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, kpgerr.Missing{Table: "secret", Identity: id.String()}
		}
		return nil, err
	}
	if encoded == nil {
		return nil, kpgerr.Missing{
			Table: "secret", Identity: id.String(),
			Reason: "no values have been set for this secret",
		}
	}

	return s.codec.Decode(*encoded)
}
