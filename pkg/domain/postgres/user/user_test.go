package user_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/tracefab/tracefab/pkg/domain"
	dbtestenv "github.com/tracefab/tracefab/pkg/domain/postgres/pool/testenv"
	"github.com/tracefab/tracefab/pkg/domain/postgres/user"
	"github.com/tracefab/tracefab/pkg/utils/pointer"
	"github.com/tracefab/tracefab/pkg/utils/try"
)

func TestUser_Create(t *testing.T) {
	ctx := context.Background()
	pool := dbtestenv.NewPoolBroaker(ctx, t).GetPool(ctx, t)
	testee := user.New(pool)

	t.Run("it registers a user and generates an id", func(t *testing.T) {
		created := try.To(testee.Create(ctx, domain.User{
			Name: "alice", FullName: "Alice Example", Email: "alice@example.com",
			Active: true,
		})).OrFatal(t)

		if created.ID == uuid.Nil {
			t.Error("no id was generated")
		}
		if created.Created.IsZero() || created.Updated.IsZero() {
			t.Error("timestamps are not set")
		}

		got := try.To(testee.Get(ctx, "alice")).OrFatal(t)
		if !got.Equal(&created) {
			t.Errorf("get by name\n- got: %+v\n- want: %+v", got, created)
		}

		byID := try.To(testee.Get(ctx, created.ID.String())).OrFatal(t)
		if !byID.Equal(&created) {
			t.Errorf("get by id\n- got: %+v\n- want: %+v", byID, created)
		}
	})

	t.Run("it rejects a duplicate name", func(t *testing.T) {
		if _, err := testee.Create(ctx, domain.User{Name: "alice"}); !errors.Is(err, domain.ErrConflict) {
			t.Errorf("expected ErrConflict, got: %v", err)
		}
	})

	t.Run("it rejects a duplicate id", func(t *testing.T) {
		existing := try.To(testee.Get(ctx, "alice")).OrFatal(t)
		if _, err := testee.Create(ctx, domain.User{
			ID: existing.ID, Name: "not-alice",
		}); !errors.Is(err, domain.ErrConflict) {
			t.Errorf("expected ErrConflict, got: %v", err)
		}
	})

	t.Run("it cannot find who is not registered", func(t *testing.T) {
		if _, err := testee.Get(ctx, "nobody"); !errors.Is(err, domain.ErrMissing) {
			t.Errorf("expected ErrMissing, got: %v", err)
		}
		if _, err := testee.Get(ctx, uuid.NewString()); !errors.Is(err, domain.ErrMissing) {
			t.Errorf("expected ErrMissing, got: %v", err)
		}
	})
}

func TestUser_Update(t *testing.T) {
	ctx := context.Background()
	pool := dbtestenv.NewPoolBroaker(ctx, t).GetPool(ctx, t)
	testee := user.New(pool)

	alice := try.To(testee.Create(ctx, domain.User{Name: "alice", Active: true})).OrFatal(t)
	try.To(testee.Create(ctx, domain.User{Name: "bob", Active: true})).OrFatal(t)

	t.Run("it patches only given fields", func(t *testing.T) {
		before := try.To(testee.Get(ctx, "alice")).OrFatal(t)
		time.Sleep(10 * time.Millisecond)

		updated := try.To(testee.Update(ctx, alice.ID, domain.UserPatch{
			FullName: pointer.Ref("Alice in Chains"),
			Active:   pointer.Ref(false),
		})).OrFatal(t)

		if updated.Name != "alice" {
			t.Errorf("name should be kept: %s", updated.Name)
		}
		if updated.FullName != "Alice in Chains" || updated.Active {
			t.Errorf("patch was not applied: %+v", updated)
		}
		if !before.Updated.Before(updated.Updated) {
			t.Error("updated_at should advance")
		}
	})

	t.Run("it rejects renaming to a taken name", func(t *testing.T) {
		if _, err := testee.Update(ctx, alice.ID, domain.UserPatch{
			Name: pointer.Ref("bob"),
		}); !errors.Is(err, domain.ErrConflict) {
			t.Errorf("expected ErrConflict, got: %v", err)
		}
	})

	t.Run("it protects the default user from renaming", func(t *testing.T) {
		dflt := try.To(testee.Create(ctx, domain.User{
			Name: domain.DefaultUserName, Active: true,
		})).OrFatal(t)

		if _, err := testee.Update(ctx, dflt.ID, domain.UserPatch{
			Name: pointer.Ref("renamed"),
		}); !errors.Is(err, domain.ErrProtected) {
			t.Errorf("expected ErrProtected, got: %v", err)
		}

		// non-name fields of the default user stay patchable.
		if _, err := testee.Update(ctx, dflt.ID, domain.UserPatch{
			Email: pointer.Ref("admin@example.com"),
		}); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestUser_Delete(t *testing.T) {
	ctx := context.Background()
	pool := dbtestenv.NewPoolBroaker(ctx, t).GetPool(ctx, t)
	testee := user.New(pool)

	try.To(testee.Create(ctx, domain.User{Name: "alice"})).OrFatal(t)
	try.To(testee.Create(ctx, domain.User{Name: domain.DefaultUserName})).OrFatal(t)

	t.Run("it removes a user by name", func(t *testing.T) {
		if err := testee.Delete(ctx, "alice"); err != nil {
			t.Fatal(err)
		}
		if _, err := testee.Get(ctx, "alice"); !errors.Is(err, domain.ErrMissing) {
			t.Errorf("expected ErrMissing, got: %v", err)
		}
	})

	t.Run("it protects the default user", func(t *testing.T) {
		if err := testee.Delete(ctx, domain.DefaultUserName); !errors.Is(err, domain.ErrProtected) {
			t.Errorf("expected ErrProtected, got: %v", err)
		}
	})

	t.Run("it fails for who is not registered", func(t *testing.T) {
		if err := testee.Delete(ctx, "nobody"); !errors.Is(err, domain.ErrMissing) {
			t.Errorf("expected ErrMissing, got: %v", err)
		}
	})
}
