package user

import (
	"context"
	"errors"
	"log"

	"github.com/google/uuid"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/tracefab/tracefab/pkg/domain"
	kpgerr "github.com/tracefab/tracefab/pkg/domain/postgres/errors"
	kpgintr "github.com/tracefab/tracefab/pkg/domain/postgres/internal"
	kpool "github.com/tracefab/tracefab/pkg/domain/postgres/pool"
)

type pgUser struct {
	pool   kpool.Pool
	logger *log.Logger
	sink   domain.EventSink
}

type Option func(*pgUser) *pgUser

func WithLogger(l *log.Logger) Option {
	return func(u *pgUser) *pgUser {
		u.logger = l
		return u
	}
}

func WithEventSink(sink domain.EventSink) Option {
	return func(u *pgUser) *pgUser {
		u.sink = sink
		return u
	}
}

func New(pool kpool.Pool, options ...Option) *pgUser {
	u := &pgUser{
		pool:   pool,
		logger: log.Default(),
		sink:   domain.NullSink(),
	}
	for _, opt := range options {
		u = opt(u)
	}
	return u
}

var _ domain.UserInterface = &pgUser{}

func (u *pgUser) Create(ctx context.Context, user domain.User) (domain.User, error) {
	tx, err := u.pool.Begin(ctx)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback(ctx)

	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	} else if err := kpgintr.CheckIDUnique(ctx, tx, "user", user.ID); err != nil {
		return domain.User{}, err
	}
	if err := kpgintr.CheckDomainUnique(ctx, tx, kpgintr.DomainKey{
		Table: "user", Name: user.Name,
	}); err != nil {
		return domain.User{}, err
	}

	if err := tx.QueryRow(
		ctx,
		`
		insert into "user" ("id", "name", "full_name", "email", "email_opted_in", "active")
		values ($1, $2, $3, $4, $5, $6)
		returning "created_at", "updated_at"
		`,
		user.ID.String(), user.Name, user.FullName,
		user.Email, user.EmailOptedIn, user.Active,
	).Scan(&user.Created, &user.Updated); err != nil {
		return domain.User{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.User{}, err
	}

	u.sink.Emit(domain.Event{Kind: domain.EventCreated, Entity: "user", ID: user.ID})
	return user, nil
}

func (u *pgUser) Get(ctx context.Context, nameOrID string) (domain.User, error) {
	conn, err := u.pool.Acquire(ctx)
	if err != nil {
		return domain.User{}, err
	}
	defer conn.Release()

	id, err := kpgintr.ResolveNameOrID(ctx, conn, "user", nameOrID)
	if err != nil {
		return domain.User{}, err
	}

	return get(ctx, conn, id)
}

func get(ctx context.Context, conn kpool.Queryer, id uuid.UUID) (domain.User, error) {
	user := domain.User{}
	var uid pgtype.UUID
	if err := conn.QueryRow(
		ctx,
		`
		select "id", "name", "full_name", "email", "email_opted_in", "active",
		       "created_at", "updated_at"
		from "user" where "id" = $1
		`,
		id.String(),
	).Scan(
		&uid, &user.Name, &user.FullName, &user.Email,
		&user.EmailOptedIn, &user.Active, &user.Created, &user.Updated,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, kpgerr.Missing{Table: "user", Identity: id.String()}
		}
		return domain.User{}, err
	}
	user.ID = kpgintr.AsUUID(uid)
	return user, nil
}

func (u *pgUser) List(ctx context.Context) ([]domain.User, error) {
	conn, err := u.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(
		ctx,
		`
		select "id", "name", "full_name", "email", "email_opted_in", "active",
		       "created_at", "updated_at"
		from "user" order by "name"
		`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []domain.User{}
	for rows.Next() {
		user := domain.User{}
		var uid pgtype.UUID
		if err := rows.Scan(
			&uid, &user.Name, &user.FullName, &user.Email,
			&user.EmailOptedIn, &user.Active, &user.Created, &user.Updated,
		); err != nil {
			return nil, err
		}
		user.ID = kpgintr.AsUUID(uid)
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return users, nil
}

func (u *pgUser) Update(ctx context.Context, id uuid.UUID, patch domain.UserPatch) (domain.User, error) {
	tx, err := u.pool.Begin(ctx)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback(ctx)

	user, err := get(ctx, tx, id)
	if err != nil {
		return domain.User{}, err
	}

	if patch.Name != nil && *patch.Name != user.Name {
		if user.Name == domain.DefaultUserName {
			return domain.User{}, kpgerr.Protected{
				Entity: "user " + user.Name,
				Reason: "the default user cannot be renamed",
			}
		}
		if err := kpgintr.CheckDomainUnique(ctx, tx, kpgintr.DomainKey{
			Table: "user", Name: *patch.Name,
		}); err != nil {
			return domain.User{}, err
		}
		user.Name = *patch.Name
	}
	if patch.FullName != nil {
		user.FullName = *patch.FullName
	}
	if patch.Email != nil {
		user.Email = *patch.Email
	}
	if patch.EmailOptedIn != nil {
		user.EmailOptedIn = *patch.EmailOptedIn
	}
	if patch.Active != nil {
		user.Active = *patch.Active
	}

	if err := tx.QueryRow(
		ctx,
		`
		update "user"
		set "name" = $2, "full_name" = $3, "email" = $4,
		    "email_opted_in" = $5, "active" = $6, "updated_at" = now()
		where "id" = $1
		returning "updated_at"
		`,
		user.ID.String(), user.Name, user.FullName,
		user.Email, user.EmailOptedIn, user.Active,
	).Scan(&user.Updated); err != nil {
		return domain.User{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.User{}, err
	}

	u.sink.Emit(domain.Event{Kind: domain.EventUpdated, Entity: "user", ID: user.ID})
	return user, nil
}

func (u *pgUser) Delete(ctx context.Context, nameOrID string) error {
	tx, err := u.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	id, err := kpgintr.ResolveNameOrID(ctx, tx, "user", nameOrID)
	if err != nil {
		return err
	}
	user, err := get(ctx, tx, id)
	if err != nil {
		return err
	}
	if user.Name == domain.DefaultUserName {
		return kpgerr.Protected{
			Entity: "user " + user.Name,
			Reason: "the default user cannot be deleted",
		}
	}

	if _, err := tx.Exec(
		ctx, `delete from "user" where "id" = $1`, id.String(),
	); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	u.sink.Emit(domain.Event{Kind: domain.EventDeleted, Entity: "user", ID: id})
	return nil
}
