package role_test

import (
	"context"
	"errors"
	"testing"

	"github.com/tracefab/tracefab/pkg/domain"
	"github.com/tracefab/tracefab/pkg/domain/postgres/assignment"
	dbtestenv "github.com/tracefab/tracefab/pkg/domain/postgres/pool/testenv"
	"github.com/tracefab/tracefab/pkg/domain/postgres/role"
	"github.com/tracefab/tracefab/pkg/domain/postgres/user"
	"github.com/tracefab/tracefab/pkg/utils/cmp"
	"github.com/tracefab/tracefab/pkg/utils/pointer"
	"github.com/tracefab/tracefab/pkg/utils/try"
)

func TestRole_Create(t *testing.T) {
	ctx := context.Background()
	pool := dbtestenv.NewPoolBroaker(ctx, t).GetPool(ctx, t)
	testee := role.New(pool)

	t.Run("it registers a role with its permissions", func(t *testing.T) {
		created := try.To(testee.Create(ctx, domain.Role{
			Name: "operator", Permissions: []string{"read", "write"},
		})).OrFatal(t)

		got := try.To(testee.Get(ctx, "operator")).OrFatal(t)
		if got.ID != created.ID {
			t.Errorf("get by name\n- got: %+v\n- want: %+v", got, created)
		}
		if !cmp.SliceContentEq(got.Permissions, []string{"read", "write"}) {
			t.Errorf("unexpected permissions: %v", got.Permissions)
		}
	})

	t.Run("it rejects a duplicate name", func(t *testing.T) {
		if _, err := testee.Create(ctx, domain.Role{Name: "operator"}); !errors.Is(err, domain.ErrConflict) {
			t.Errorf("expected ErrConflict, got: %v", err)
		}
	})
}

func TestRole_Update(t *testing.T) {
	ctx := context.Background()
	pool := dbtestenv.NewPoolBroaker(ctx, t).GetPool(ctx, t)
	testee := role.New(pool)

	rl := try.To(testee.Create(ctx, domain.Role{
		Name: "operator", Permissions: []string{"read", "write"},
	})).OrFatal(t)
	admin := try.To(testee.Create(ctx, domain.Role{
		Name: domain.AdminRoleName, Permissions: []string{"read", "write", "me"},
	})).OrFatal(t)

	t.Run("it replaces the permission set", func(t *testing.T) {
		updated := try.To(testee.Update(ctx, rl.ID, domain.RolePatch{
			Permissions: pointer.Ref([]string{"read", "deploy"}),
		})).OrFatal(t)

		if !cmp.SliceContentEq(updated.Permissions, []string{"read", "deploy"}) {
			t.Errorf("unexpected permissions: %v", updated.Permissions)
		}

		got := try.To(testee.Get(ctx, "operator")).OrFatal(t)
		if !cmp.SliceContentEq(got.Permissions, []string{"read", "deploy"}) {
			t.Errorf("permissions not stored: %v", got.Permissions)
		}
	})

	t.Run("it renames a role", func(t *testing.T) {
		updated := try.To(testee.Update(ctx, rl.ID, domain.RolePatch{
			Name: pointer.Ref("maintainer"),
		})).OrFatal(t)
		if updated.Name != "maintainer" {
			t.Errorf("rename not applied: %+v", updated)
		}
	})

	t.Run("it protects built-in roles", func(t *testing.T) {
		if _, err := testee.Update(ctx, admin.ID, domain.RolePatch{
			Name: pointer.Ref("superuser"),
		}); !errors.Is(err, domain.ErrProtected) {
			t.Errorf("expected ErrProtected, got: %v", err)
		}
	})
}

func TestRole_Delete(t *testing.T) {
	ctx := context.Background()
	pool := dbtestenv.NewPoolBroaker(ctx, t).GetPool(ctx, t)
	testee := role.New(pool)
	assignments := assignment.New(pool)
	users := user.New(pool)

	try.To(testee.Create(ctx, domain.Role{Name: "operator", Permissions: []string{"read"}})).OrFatal(t)
	try.To(testee.Create(ctx, domain.Role{Name: domain.GuestRoleName, Permissions: []string{"read", "me"}})).OrFatal(t)
	try.To(users.Create(ctx, domain.User{Name: "alice", Active: true})).OrFatal(t)

	t.Run("it protects built-in roles", func(t *testing.T) {
		if err := testee.Delete(ctx, domain.GuestRoleName); !errors.Is(err, domain.ErrProtected) {
			t.Errorf("expected ErrProtected, got: %v", err)
		}
	})

	t.Run("it refuses to delete an assigned role", func(t *testing.T) {
		if err := assignments.Assign(ctx, "operator", domain.Subject{
			Kind: domain.SubjectUser, NameOrID: "alice",
		}, ""); err != nil {
			t.Fatal(err)
		}

		if err := testee.Delete(ctx, "operator"); !errors.Is(err, domain.ErrProtected) {
			t.Errorf("expected ErrProtected, got: %v", err)
		}
	})

	t.Run("it removes the role once all assignments are revoked", func(t *testing.T) {
		if err := assignments.Revoke(ctx, "operator", domain.Subject{
			Kind: domain.SubjectUser, NameOrID: "alice",
		}, ""); err != nil {
			t.Fatal(err)
		}

		if err := testee.Delete(ctx, "operator"); err != nil {
			t.Fatal(err)
		}
		if _, err := testee.Get(ctx, "operator"); !errors.Is(err, domain.ErrMissing) {
			t.Errorf("expected ErrMissing, got: %v", err)
		}
	})
}
