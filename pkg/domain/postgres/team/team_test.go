package team_test

import (
	"context"
	"errors"
	"testing"

	"github.com/tracefab/tracefab/pkg/domain"
	dbtestenv "github.com/tracefab/tracefab/pkg/domain/postgres/pool/testenv"
	"github.com/tracefab/tracefab/pkg/domain/postgres/team"
	"github.com/tracefab/tracefab/pkg/domain/postgres/user"
	"github.com/tracefab/tracefab/pkg/utils/cmp"
	"github.com/tracefab/tracefab/pkg/utils/slices"
	"github.com/tracefab/tracefab/pkg/utils/try"
)

func TestTeam_CRUD(t *testing.T) {
	ctx := context.Background()
	pool := dbtestenv.NewPoolBroaker(ctx, t).GetPool(ctx, t)
	testee := team.New(pool)

	t.Run("it registers and retrieves a team", func(t *testing.T) {
		created := try.To(testee.Create(ctx, domain.Team{Name: "ml-platform"})).OrFatal(t)

		got := try.To(testee.Get(ctx, "ml-platform")).OrFatal(t)
		if got.ID != created.ID {
			t.Errorf("get by name\n- got: %+v\n- want: %+v", got, created)
		}

		byID := try.To(testee.Get(ctx, created.ID.String())).OrFatal(t)
		if byID.ID != created.ID {
			t.Errorf("get by id\n- got: %+v\n- want: %+v", byID, created)
		}
	})

	t.Run("it rejects a duplicate name", func(t *testing.T) {
		if _, err := testee.Create(ctx, domain.Team{Name: "ml-platform"}); !errors.Is(err, domain.ErrConflict) {
			t.Errorf("expected ErrConflict, got: %v", err)
		}
	})

	t.Run("it lists teams sorted by name", func(t *testing.T) {
		try.To(testee.Create(ctx, domain.Team{Name: "data-eng"})).OrFatal(t)

		listed := try.To(testee.List(ctx)).OrFatal(t)
		names := slices.Map(listed, func(tm domain.Team) string { return tm.Name })
		if !cmp.SliceEq(names, []string{"data-eng", "ml-platform"}) {
			t.Errorf("unexpected listing: %v", names)
		}
	})

	t.Run("it removes a team", func(t *testing.T) {
		if err := testee.Delete(ctx, "data-eng"); err != nil {
			t.Fatal(err)
		}
		if _, err := testee.Get(ctx, "data-eng"); !errors.Is(err, domain.ErrMissing) {
			t.Errorf("expected ErrMissing, got: %v", err)
		}
	})
}

func TestTeam_Membership(t *testing.T) {
	ctx := context.Background()
	pool := dbtestenv.NewPoolBroaker(ctx, t).GetPool(ctx, t)
	testee := team.New(pool)
	users := user.New(pool)

	squad := try.To(testee.Create(ctx, domain.Team{Name: "squad"})).OrFatal(t)
	alice := try.To(users.Create(ctx, domain.User{Name: "alice", Active: true})).OrFatal(t)
	bob := try.To(users.Create(ctx, domain.User{Name: "bob", Active: true})).OrFatal(t)

	t.Run("it adds members and lists them", func(t *testing.T) {
		if err := testee.AddUser(ctx, "squad", "alice"); err != nil {
			t.Fatal(err)
		}
		if err := testee.AddUser(ctx, squad.ID.String(), bob.ID.String()); err != nil {
			t.Fatal(err)
		}

		members := try.To(testee.UsersFor(ctx, "squad")).OrFatal(t)
		names := slices.Map(members, func(u domain.User) string { return u.Name })
		if !cmp.SliceContentEq(names, []string{"alice", "bob"}) {
			t.Errorf("unexpected members: %v", names)
		}
	})

	t.Run("adding a member twice is a no-op", func(t *testing.T) {
		if err := testee.AddUser(ctx, "squad", "alice"); err != nil {
			t.Fatal(err)
		}

		members := try.To(testee.UsersFor(ctx, "squad")).OrFatal(t)
		if len(members) != 2 {
			t.Errorf("membership should not grow: %v", members)
		}
	})

	t.Run("it lists teams of a user", func(t *testing.T) {
		other := try.To(testee.Create(ctx, domain.Team{Name: "on-call"})).OrFatal(t)
		if err := testee.AddUser(ctx, other.ID.String(), alice.ID.String()); err != nil {
			t.Fatal(err)
		}

		teams := try.To(testee.TeamsFor(ctx, "alice")).OrFatal(t)
		names := slices.Map(teams, func(tm domain.Team) string { return tm.Name })
		if !cmp.SliceContentEq(names, []string{"squad", "on-call"}) {
			t.Errorf("unexpected teams: %v", names)
		}
	})

	t.Run("it removes a member", func(t *testing.T) {
		if err := testee.RemoveUser(ctx, "squad", "bob"); err != nil {
			t.Fatal(err)
		}

		members := try.To(testee.UsersFor(ctx, "squad")).OrFatal(t)
		names := slices.Map(members, func(u domain.User) string { return u.Name })
		if !cmp.SliceContentEq(names, []string{"alice"}) {
			t.Errorf("unexpected members: %v", names)
		}
	})

	t.Run("removing a non-member fails", func(t *testing.T) {
		if err := testee.RemoveUser(ctx, "squad", "bob"); !errors.Is(err, domain.ErrMissing) {
			t.Errorf("expected ErrMissing, got: %v", err)
		}
	})
}
