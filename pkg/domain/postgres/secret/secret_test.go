package secret_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/tracefab/tracefab/pkg/domain"
	dbtestenv "github.com/tracefab/tracefab/pkg/domain/postgres/pool/testenv"
	"github.com/tracefab/tracefab/pkg/domain/postgres/secret"
	"github.com/tracefab/tracefab/pkg/domain/postgres/testhelpers"
	kcodec "github.com/tracefab/tracefab/pkg/secret"
	"github.com/tracefab/tracefab/pkg/utils/cmp"
	"github.com/tracefab/tracefab/pkg/utils/pointer"
	"github.com/tracefab/tracefab/pkg/utils/try"
)

func TestSecret_Create(t *testing.T) {
	ctx := context.Background()
	pool := dbtestenv.NewPoolBroaker(ctx, t).GetPool(ctx, t)
	prj, owner := testhelpers.Fixture(ctx, t, pool)
	testee := secret.New(pool)

	t.Run("it registers metadata without values", func(t *testing.T) {
		created := try.To(testee.Create(ctx, domain.Secret{
			Name: "s3-credentials", Scope: domain.SecretScopeProject,
			ProjectID: prj.ID, UserID: owner.ID,
		})).OrFatal(t)

		got := try.To(testee.Get(ctx, "s3-credentials", false)).OrFatal(t)
		if got.ID != created.ID || got.Scope != domain.SecretScopeProject {
			t.Errorf("get by name\n- got: %+v\n- want: %+v", got, created)
		}

		if _, err := testee.GetValues(ctx, created.ID); !errors.Is(err, domain.ErrMissing) {
			t.Errorf("a fresh secret should have no values: %v", err)
		}
	})

	t.Run("it rejects a duplicate name for the same owner", func(t *testing.T) {
		if _, err := testee.Create(ctx, domain.Secret{
			Name: "s3-credentials", Scope: domain.SecretScopeGlobal,
			ProjectID: prj.ID, UserID: owner.ID,
		}); !errors.Is(err, domain.ErrConflict) {
			t.Errorf("expected ErrConflict, got: %v", err)
		}
	})
}

func TestSecret_Values(t *testing.T) {
	ctx := context.Background()
	pool := dbtestenv.NewPoolBroaker(ctx, t).GetPool(ctx, t)
	prj, owner := testhelpers.Fixture(ctx, t, pool)

	engine := try.To(kcodec.NewAgeEngine("vault passphrase")).OrFatal(t)
	testee := secret.New(pool, secret.WithCodec(kcodec.New(kcodec.WithEngine(engine))))

	sec := try.To(testee.Create(ctx, domain.Secret{
		Name: "s3-credentials", Scope: domain.SecretScopeProject,
		ProjectID: prj.ID, UserID: owner.ID,
	})).OrFatal(t)

	t.Run("values roundtrip through the codec", func(t *testing.T) {
		values := map[string]string{
			"aws_access_key_id":     "AKIA000",
			"aws_secret_access_key": "deadbeef",
		}
		if err := testee.SetValues(ctx, sec.ID, values); err != nil {
			t.Fatal(err)
		}

		got := try.To(testee.GetValues(ctx, sec.ID)).OrFatal(t)
		if !cmp.MapEq(got, values) {
			t.Errorf("values\n- got: %v\n- want: %v", got, values)
		}
	})

	t.Run("setting again replaces the payload", func(t *testing.T) {
		rotated := map[string]string{"aws_access_key_id": "AKIA111"}
		if err := testee.SetValues(ctx, sec.ID, rotated); err != nil {
			t.Fatal(err)
		}

		got := try.To(testee.GetValues(ctx, sec.ID)).OrFatal(t)
		if !cmp.MapEq(got, rotated) {
			t.Errorf("values\n- got: %v\n- want: %v", got, rotated)
		}
	})

	t.Run("it fails for an unknown secret", func(t *testing.T) {
		if err := testee.SetValues(ctx, uuid.New(), map[string]string{"k": "v"}); !errors.Is(err, domain.ErrMissing) {
			t.Errorf("expected ErrMissing, got: %v", err)
		}
		if _, err := testee.GetValues(ctx, uuid.New()); !errors.Is(err, domain.ErrMissing) {
			t.Errorf("expected ErrMissing, got: %v", err)
		}
	})
}

func TestSecret_UpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	pool := dbtestenv.NewPoolBroaker(ctx, t).GetPool(ctx, t)
	prj, owner := testhelpers.Fixture(ctx, t, pool)
	testee := secret.New(pool)

	sec := try.To(testee.Create(ctx, domain.Secret{
		Name: "s3-credentials", Scope: domain.SecretScopeProject,
		ProjectID: prj.ID, UserID: owner.ID,
	})).OrFatal(t)
	try.To(testee.Create(ctx, domain.Secret{
		Name: "wandb-token", Scope: domain.SecretScopeGlobal,
		ProjectID: prj.ID, UserID: owner.ID,
	})).OrFatal(t)

	t.Run("it patches scope", func(t *testing.T) {
		updated := try.To(testee.Update(ctx, sec.ID, domain.SecretPatch{
			Scope: pointer.Ref(domain.SecretScopeGlobal),
		})).OrFatal(t)
		if updated.Scope != domain.SecretScopeGlobal || updated.Name != "s3-credentials" {
			t.Errorf("patch was not applied: %+v", updated)
		}
	})

	t.Run("it rejects renaming to a taken name", func(t *testing.T) {
		if _, err := testee.Update(ctx, sec.ID, domain.SecretPatch{
			Name: pointer.Ref("wandb-token"),
		}); !errors.Is(err, domain.ErrConflict) {
			t.Errorf("expected ErrConflict, got: %v", err)
		}
	})

	t.Run("it removes a secret", func(t *testing.T) {
		if err := testee.Delete(ctx, sec.ID); err != nil {
			t.Fatal(err)
		}
		if _, err := testee.Get(ctx, "s3-credentials", false); !errors.Is(err, domain.ErrMissing) {
			t.Errorf("expected ErrMissing, got: %v", err)
		}
	})
}
