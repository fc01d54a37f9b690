package team

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

type pgTeam struct {
	pool   kpool.Pool
	logger *log.Logger
	sink   domain.EventSink
}

type Option func(*pgTeam) *pgTeam

func WithLogger(l *log.Logger) Option {
	return func(t *pgTeam) *pgTeam {
		t.logger = l
		return t
	}
}

func WithEventSink(sink domain.EventSink) Option {
	return func(t *pgTeam) *pgTeam {
		t.sink = sink
		return t
	}
}

func New(pool kpool.Pool, options ...Option) *pgTeam {
	t := &pgTeam{
		pool:   pool,
		logger: log.Default(),
		sink:   domain.NullSink(),
	}
	for _, opt := range options {
		t = opt(t)
	}
	return t
}

var _ domain.TeamInterface = &pgTeam{}

func (t *pgTeam) Create(ctx context.Context, team domain.Team) (domain.Team, error) {
	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return domain.Team{}, err
	}
	defer tx.Rollback(ctx)

	if team.ID == uuid.Nil {
		team.ID = uuid.New()
	} else if err := kpgintr.CheckIDUnique(ctx, tx, "team", team.ID); err != nil {
		return domain.Team{}, err
	}
	if err := kpgintr.CheckDomainUnique(ctx, tx, kpgintr.DomainKey{
		Table: "team", Name: team.Name,
	}); err != nil {
		return domain.Team{}, err
	}

	if err := tx.QueryRow(
		ctx,
		`insert into "team" ("id", "name") values ($1, $2) returning "created_at", "updated_at"`,
		team.ID.String(), team.Name,
	).Scan(&team.Created, &team.Updated); err != nil {
		return domain.Team{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Team{}, err
	}

	t.sink.Emit(domain.Event{Kind: domain.EventCreated, Entity: "team", ID: team.ID})
	return team, nil
}

func (t *pgTeam) Get(ctx context.Context, nameOrID string) (domain.Team, error) {
	conn, err := t.pool.Acquire(ctx)
	if err != nil {
		return domain.Team{}, err
	}
	defer conn.Release()

	id, err := kpgintr.ResolveNameOrID(ctx, conn, "team", nameOrID)
	if err != nil {
		return domain.Team{}, err
	}

	return get(ctx, conn, id)
}

func get(ctx context.Context, conn kpool.Queryer, id uuid.UUID) (domain.Team, error) {
	team := domain.Team{}
	var tid pgtype.UUID
	if err := conn.QueryRow(
		ctx,
		`select "id", "name", "created_at", "updated_at" from "team" where "id" = $1`,
		id.String(),
	).Scan(&tid, &team.Name, &team.Created, &team.Updated); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Team{}, kpgerr.Missing{Table: "team", Identity: id.String()}
		}
		return domain.Team{}, err
	}
	team.ID = kpgintr.AsUUID(tid)
	return team, nil
}

func (t *pgTeam) List(ctx context.Context) ([]domain.Team, error) {
	conn, err := t.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(
		ctx,
		`select "id", "name", "created_at", "updated_at" from "team" order by "name"`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTeams(rows)
}

func scanTeams(rows pgx.Rows) ([]domain.Team, error) {
	teams := []domain.Team{}
	for rows.Next() {
		team := domain.Team{}
		var tid pgtype.UUID
		if err := rows.Scan(&tid, &team.Name, &team.Created, &team.Updated); err != nil {
			return nil, err
		}
		team.ID = kpgintr.AsUUID(tid)
		teams = append(teams, team)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return teams, nil
}

func (t *pgTeam) Update(ctx context.Context, id uuid.UUID, patch domain.TeamPatch) (domain.Team, error) {
	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return domain.Team{}, err
	}
	defer tx.Rollback(ctx)

	team, err := get(ctx, tx, id)
	if err != nil {
		return domain.Team{}, err
	}

	if patch.Name != nil && *patch.Name != team.Name {
		if err := kpgintr.CheckDomainUnique(ctx, tx, kpgintr.DomainKey{
			Table: "team", Name: *patch.Name,
		}); err != nil {
			return domain.Team{}, err
		}
		team.Name = *patch.Name
	}

	if err := tx.QueryRow(
		ctx,
		`update "team" set "name" = $2, "updated_at" = now() where "id" = $1 returning "updated_at"`,
		team.ID.String(), team.Name,
	).Scan(&team.Updated); err != nil {
		return domain.Team{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Team{}, err
	}

	t.sink.Emit(domain.Event{Kind: domain.EventUpdated, Entity: "team", ID: team.ID})
	return team, nil
}

func (t *pgTeam) Delete(ctx context.Context, nameOrID string) error {
	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	id, err := kpgintr.ResolveNameOrID(ctx, tx, "team", nameOrID)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(
		ctx, `delete from "team" where "id" = $1`, id.String(),
	); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	t.sink.Emit(domain.Event{Kind: domain.EventDeleted, Entity: "team", ID: id})
	return nil
}

func (t *pgTeam) AddUser(ctx context.Context, teamNameOrID string, userNameOrID string) error {
	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	teamID, err := kpgintr.ResolveNameOrID(ctx, tx, "team", teamNameOrID)
	if err != nil {
		return err
	}
	userID, err := kpgintr.ResolveNameOrID(ctx, tx, "user", userNameOrID)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(
		ctx,
		`
		insert into "team_membership" ("team_id", "user_id") values ($1, $2)
		on conflict do nothing
		`,
		teamID.String(), userID.String(),
	); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	t.sink.Emit(domain.Event{Kind: domain.EventUpdated, Entity: "team", ID: teamID})
	return nil
}

func (t *pgTeam) RemoveUser(ctx context.Context, teamNameOrID string, userNameOrID string) error {
	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	teamID, err := kpgintr.ResolveNameOrID(ctx, tx, "team", teamNameOrID)
	if err != nil {
		return err
	}
	userID, err := kpgintr.ResolveNameOrID(ctx, tx, "user", userNameOrID)
	if err != nil {
		return err
	}

	cmd, err := tx.Exec(
		ctx,
		`delete from "team_membership" where "team_id" = $1 and "user_id" = $2`,
		teamID.String(), userID.String(),
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return kpgerr.Missing{
			Table: "team_membership", Identity: userNameOrID,
			Reason: "the user is not a member of the team",
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	t.sink.Emit(domain.Event{Kind: domain.EventUpdated, Entity: "team", ID: teamID})
	return nil
}

func (t *pgTeam) UsersFor(ctx context.Context, teamNameOrID string) ([]domain.User, error) {
	conn, err := t.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	teamID, err := kpgintr.ResolveNameOrID(ctx, conn, "team", teamNameOrID)
	if err != nil {
		return nil, err
	}

	rows, err := conn.Query(
		ctx,
		`
		select "u"."id", "u"."name", "u"."full_name", "u"."email",
		       "u"."email_opted_in", "u"."active", "u"."created_at", "u"."updated_at"
		from "user" as "u"
		inner join "team_membership" as "m" on "m"."user_id" = "u"."id"
		where "m"."team_id" = $1
		order by "u"."name"
		`,
		teamID.String(),
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

func (t *pgTeam) TeamsFor(ctx context.Context, userNameOrID string) ([]domain.Team, error) {
	conn, err := t.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	userID, err := kpgintr.ResolveNameOrID(ctx, conn, "user", userNameOrID)
	if err != nil {
		return nil, err
	}

	rows, err := conn.Query(
		ctx,
		`
		select "t"."id", "t"."name", "t"."created_at", "t"."updated_at"
		from "team" as "t"
		inner join "team_membership" as "m" on "m"."team_id" = "t"."id"
		where "m"."user_id" = $1
		order by "t"."name"
		`,
		userID.String(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTeams(rows)
}
