package role

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
	"github.com/tracefab/tracefab/pkg/utils/slices"
)

type pgRole struct {
	pool   kpool.Pool
	logger *log.Logger
	sink   domain.EventSink
}

type Option func(*pgRole) *pgRole

func WithLogger(l *log.Logger) Option {
	return func(r *pgRole) *pgRole {
		r.logger = l
		return r
	}
}

func WithEventSink(sink domain.EventSink) Option {
	return func(r *pgRole) *pgRole {
		r.sink = sink
		return r
	}
}

func New(pool kpool.Pool, options ...Option) *pgRole {
	r := &pgRole{
		pool:   pool,
		logger: log.Default(),
		sink:   domain.NullSink(),
	}
	for _, opt := range options {
		r = opt(r)
	}
	return r
}

var _ domain.RoleInterface = &pgRole{}

func builtin(name string) bool {
	return name == domain.AdminRoleName || name == domain.GuestRoleName
}

func (r *pgRole) Create(ctx context.Context, role domain.Role) (domain.Role, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.Role{}, err
	}
	defer tx.Rollback(ctx)

	if role.ID == uuid.Nil {
		role.ID = uuid.New()
	} else if err := kpgintr.CheckIDUnique(ctx, tx, "role", role.ID); err != nil {
		return domain.Role{}, err
	}
	if err := kpgintr.CheckDomainUnique(ctx, tx, kpgintr.DomainKey{
		Table: "role", Name: role.Name,
	}); err != nil {
		return domain.Role{}, err
	}

	if err := tx.QueryRow(
		ctx,
		`insert into "role" ("id", "name") values ($1, $2) returning "created_at", "updated_at"`,
		role.ID.String(), role.Name,
	).Scan(&role.Created, &role.Updated); err != nil {
		return domain.Role{}, err
	}

	for _, perm := range role.Permissions {
		if _, err := tx.Exec(
			ctx,
			`insert into "role_permission" ("role_id", "name") values ($1, $2) on conflict do nothing`,
			role.ID.String(), perm,
		); err != nil {
			return domain.Role{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Role{}, err
	}

	r.sink.Emit(domain.Event{Kind: domain.EventCreated, Entity: "role", ID: role.ID})
	return role, nil
}

func (r *pgRole) Get(ctx context.Context, nameOrID string) (domain.Role, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return domain.Role{}, err
	}
	defer conn.Release()

	id, err := kpgintr.ResolveNameOrID(ctx, conn, "role", nameOrID)
	if err != nil {
		return domain.Role{}, err
	}

	return get(ctx, conn, id)
}

func get(ctx context.Context, conn kpool.Queryer, id uuid.UUID) (domain.Role, error) {
	role := domain.Role{}
	var rid pgtype.UUID
	if err := conn.QueryRow(
		ctx,
		`select "id", "name", "created_at", "updated_at" from "role" where "id" = $1`,
		id.String(),
	).Scan(&rid, &role.Name, &role.Created, &role.Updated); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Role{}, kpgerr.Missing{Table: "role", Identity: id.String()}
		}
		return domain.Role{}, err
	}
	role.ID = kpgintr.AsUUID(rid)

	perms, err := permissions(ctx, conn, role.ID)
	if err != nil {
		return domain.Role{}, err
	}
	role.Permissions = perms

	return role, nil
}

func permissions(ctx context.Context, conn kpool.Queryer, roleID uuid.UUID) ([]string, error) {
	rows, err := conn.Query(
		ctx,
		`select "name" from "role_permission" where "role_id" = $1 order by "name"`,
		roleID.String(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	perms := []string{}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}

func (r *pgRole) List(ctx context.Context) ([]domain.Role, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(
		ctx,
		`select "id", "name", "created_at", "updated_at" from "role" order by "name"`,
	)
	if err != nil {
		return nil, err
	}

	roles := []domain.Role{}
	for rows.Next() {
		role := domain.Role{}
		var rid pgtype.UUID
		if err := rows.Scan(&rid, &role.Name, &role.Created, &role.Updated); err != nil {
			rows.Close()
			return nil, err
		}
		role.ID = kpgintr.AsUUID(rid)
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range roles {
		perms, err := permissions(ctx, conn, roles[i].ID)
		if err != nil {
			return nil, err
		}
		roles[i].Permissions = perms
	}

	return roles, nil
}

func (r *pgRole) Update(ctx context.Context, id uuid.UUID, patch domain.RolePatch) (domain.Role, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.Role{}, err
	}
	defer tx.Rollback(ctx)

	role, err := get(ctx, tx, id)
	if err != nil {
		return domain.Role{}, err
	}
	if builtin(role.Name) {
		return domain.Role{}, kpgerr.Protected{
			Entity: "role " + role.Name,
			Reason: "built-in roles cannot be updated",
		}
	}

	if patch.Name != nil && *patch.Name != role.Name {
		if err := kpgintr.CheckDomainUnique(ctx, tx, kpgintr.DomainKey{
			Table: "role", Name: *patch.Name,
		}); err != nil {
			return domain.Role{}, err
		}
		role.Name = *patch.Name
	}

	if err := tx.QueryRow(
		ctx,
		`update "role" set "name" = $2, "updated_at" = now() where "id" = $1 returning "updated_at"`,
		role.ID.String(), role.Name,
	).Scan(&role.Updated); err != nil {
		return domain.Role{}, err
	}

	if patch.Permissions != nil {
		want := *patch.Permissions
		for _, perm := range role.Permissions {
			if slices.Contains(want, perm) {
				continue
			}
			if _, err := tx.Exec(
				ctx,
				`delete from "role_permission" where "role_id" = $1 and "name" = $2`,
				role.ID.String(), perm,
			); err != nil {
				return domain.Role{}, err
			}
		}
		for _, perm := range want {
			if slices.Contains(role.Permissions, perm) {
				continue
			}
			if _, err := tx.Exec(
				ctx,
				`insert into "role_permission" ("role_id", "name") values ($1, $2) on conflict do nothing`,
				role.ID.String(), perm,
			); err != nil {
				return domain.Role{}, err
			}
		}
		role.Permissions = want
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Role{}, err
	}

	r.sink.Emit(domain.Event{Kind: domain.EventUpdated, Entity: "role", ID: role.ID})
	return role, nil
}

func (r *pgRole) Delete(ctx context.Context, nameOrID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	id, err := kpgintr.ResolveNameOrID(ctx, tx, "role", nameOrID)
	if err != nil {
		return err
	}
	role, err := get(ctx, tx, id)
	if err != nil {
		return err
	}
	if builtin(role.Name) {
		return kpgerr.Protected{
			Entity: "role " + role.Name,
			Reason: "built-in roles cannot be deleted",
		}
	}

	var assigned int
	if err := tx.QueryRow(
		ctx,
		`
		select
			(select count(*) from "user_role_assignment" where "role_id" = $1)
			+ (select count(*) from "team_role_assignment" where "role_id" = $1)
		`,
		id.String(),
	).Scan(&assigned); err != nil {
		return err
	}
	if 0 < assigned {
		return kpgerr.Protected{
			Entity: "role " + role.Name,
			Reason: "the role is still assigned; revoke all assignments first",
		}
	}

	if _, err := tx.Exec(
		ctx, `delete from "role" where "id" = $1`, id.String(),
	); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	r.sink.Emit(domain.Event{Kind: domain.EventDeleted, Entity: "role", ID: id})
	return nil
}
