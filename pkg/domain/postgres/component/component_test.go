package component_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/tracefab/tracefab/pkg/domain"
	"github.com/tracefab/tracefab/pkg/domain/postgres/component"
	dbtestenv "github.com/tracefab/tracefab/pkg/domain/postgres/pool/testenv"
	"github.com/tracefab/tracefab/pkg/domain/postgres/stack"
	"github.com/tracefab/tracefab/pkg/domain/postgres/testhelpers"
	"github.com/tracefab/tracefab/pkg/domain/postgres/user"
	"github.com/tracefab/tracefab/pkg/utils/pointer"
	"github.com/tracefab/tracefab/pkg/utils/try"
)

func TestComponent_Create(t *testing.T) {
	ctx := context.Background()
	pool := dbtestenv.NewPoolBroaker(ctx, t).GetPool(ctx, t)
	prj, owner := testhelpers.Fixture(ctx, t, pool)
	testee := component.New(pool)

	t.Run("it registers a component", func(t *testing.T) {
		created := try.To(testee.Create(ctx, domain.StackComponent{
			Name: "prod-orchestrator", Type: domain.OrchestratorType,
			FlavorName: "kubernetes", Configuration: []byte(`{"namespace":"ml"}`),
			ProjectID: prj.ID, UserID: owner.ID,
		})).OrFatal(t)

		got := try.To(testee.Get(ctx, "prod-orchestrator", false)).OrFatal(t)
		if got.ID != created.ID || got.FlavorName != "kubernetes" {
			t.Errorf("get by name\n- got: %+v\n- want: %+v", got, created)
		}
		if string(got.Configuration) != `{"namespace":"ml"}` {
			t.Errorf("configuration not stored: %s", got.Configuration)
		}
	})

	t.Run("the same name under another type is fine", func(t *testing.T) {
		if _, err := testee.Create(ctx, domain.StackComponent{
			Name: "prod-orchestrator", Type: domain.StepOperatorType,
			FlavorName: "kubernetes", Configuration: []byte(`{}`),
			ProjectID: prj.ID, UserID: owner.ID,
		}); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("it rejects a duplicate (name, type) for the same owner", func(t *testing.T) {
		if _, err := testee.Create(ctx, domain.StackComponent{
			Name: "prod-orchestrator", Type: domain.OrchestratorType,
			FlavorName: "airflow", Configuration: []byte(`{}`),
			ProjectID: prj.ID, UserID: owner.ID,
		}); !errors.Is(err, domain.ErrConflict) {
			t.Errorf("expected ErrConflict, got: %v", err)
		}
	})

	t.Run("a shared name must be free across owners", func(t *testing.T) {
		bob := try.To(user.New(pool).Create(ctx, domain.User{Name: "bob", Active: true})).OrFatal(t)

		try.To(testee.Create(ctx, domain.StackComponent{
			Name: "shared-store", Type: domain.ArtifactStoreType,
			FlavorName: "s3", Configuration: []byte(`{}`), IsShared: true,
			ProjectID: prj.ID, UserID: owner.ID,
		})).OrFatal(t)

		// another owner cannot share a second component under the same name.
		if _, err := testee.Create(ctx, domain.StackComponent{
			Name: "shared-store", Type: domain.ArtifactStoreType,
			FlavorName: "gcs", Configuration: []byte(`{}`), IsShared: true,
			ProjectID: prj.ID, UserID: bob.ID,
		}); !errors.Is(err, domain.ErrConflict) {
			t.Errorf("expected ErrConflict, got: %v", err)
		}

		// a private component under the same name is fine.
		if _, err := testee.Create(ctx, domain.StackComponent{
			Name: "shared-store", Type: domain.ArtifactStoreType,
			FlavorName: "gcs", Configuration: []byte(`{}`),
			ProjectID: prj.ID, UserID: bob.ID,
		}); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestComponent_Update(t *testing.T) {
	ctx := context.Background()
	pool := dbtestenv.NewPoolBroaker(ctx, t).GetPool(ctx, t)
	prj, owner := testhelpers.Fixture(ctx, t, pool)
	testee := component.New(pool)

	comp := try.To(testee.Create(ctx, domain.StackComponent{
		Name: "prod-orchestrator", Type: domain.OrchestratorType,
		FlavorName: "kubernetes", Configuration: []byte(`{}`),
		ProjectID: prj.ID, UserID: owner.ID,
	})).OrFatal(t)

	t.Run("it patches the configuration", func(t *testing.T) {
		updated := try.To(testee.Update(ctx, comp.ID, domain.ComponentPatch{
			Configuration: pointer.Ref([]byte(`{"namespace":"ml"}`)),
		})).OrFatal(t)

		if string(updated.Configuration) != `{"namespace":"ml"}` {
			t.Errorf("patch was not applied: %s", updated.Configuration)
		}
		if updated.Name != "prod-orchestrator" || updated.FlavorName != "kubernetes" {
			t.Errorf("untouched fields changed: %+v", updated)
		}
	})

	t.Run("sharing re-runs the shared-name check", func(t *testing.T) {
		bob := try.To(user.New(pool).Create(ctx, domain.User{Name: "bob", Active: true})).OrFatal(t)
		try.To(testee.Create(ctx, domain.StackComponent{
			Name: "prod-orchestrator", Type: domain.OrchestratorType,
			FlavorName: "airflow", Configuration: []byte(`{}`), IsShared: true,
			ProjectID: prj.ID, UserID: bob.ID,
		})).OrFatal(t)

		if _, err := testee.Update(ctx, comp.ID, domain.ComponentPatch{
			IsShared: pointer.Ref(true),
		}); !errors.Is(err, domain.ErrConflict) {
			t.Errorf("expected ErrConflict, got: %v", err)
		}
	})

	t.Run("it protects the default orchestrator", func(t *testing.T) {
		dflt := try.To(testee.Create(ctx, domain.StackComponent{
			Name: domain.DefaultComponentName, Type: domain.OrchestratorType,
			FlavorName: "local", Configuration: []byte(`{}`), IsShared: true,
			ProjectID: prj.ID, UserID: owner.ID,
		})).OrFatal(t)

		if _, err := testee.Update(ctx, dflt.ID, domain.ComponentPatch{
			Name: pointer.Ref("renamed"),
		}); !errors.Is(err, domain.ErrProtected) {
			t.Errorf("expected ErrProtected, got: %v", err)
		}
	})

	t.Run("a default-named component of another type is not special", func(t *testing.T) {
		alerter := try.To(testee.Create(ctx, domain.StackComponent{
			Name: domain.DefaultComponentName, Type: domain.AlerterType,
			FlavorName: "slack", Configuration: []byte(`{}`),
			ProjectID: prj.ID, UserID: owner.ID,
		})).OrFatal(t)

		if _, err := testee.Update(ctx, alerter.ID, domain.ComponentPatch{
			Name: pointer.Ref("pager"),
		}); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestComponent_Delete(t *testing.T) {
	ctx := context.Background()
	pool := dbtestenv.NewPoolBroaker(ctx, t).GetPool(ctx, t)
	prj, owner := testhelpers.Fixture(ctx, t, pool)
	testee := component.New(pool)

	comp := try.To(testee.Create(ctx, domain.StackComponent{
		Name: "prod-orchestrator", Type: domain.OrchestratorType,
		FlavorName: "kubernetes", Configuration: []byte(`{}`),
		ProjectID: prj.ID, UserID: owner.ID,
	})).OrFatal(t)

	t.Run("it refuses while the component is in a stack", func(t *testing.T) {
		stacks := stack.New(pool)
		st := try.To(stacks.Create(ctx, domain.Stack{
			Name: "prod",
			Components: map[domain.ComponentType][]uuid.UUID{
				domain.OrchestratorType: {comp.ID},
			},
			ProjectID: prj.ID, UserID: owner.ID,
		})).OrFatal(t)

		if err := testee.Delete(ctx, comp.ID); !errors.Is(err, domain.ErrProtected) {
			t.Errorf("expected ErrProtected, got: %v", err)
		}

		if err := stacks.Delete(ctx, st.ID); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("it removes a free component", func(t *testing.T) {
		if err := testee.Delete(ctx, comp.ID); err != nil {
			t.Fatal(err)
		}
		if _, err := testee.Get(ctx, comp.ID.String(), false); !errors.Is(err, domain.ErrMissing) {
			t.Errorf("expected ErrMissing, got: %v", err)
		}
	})

	t.Run("it protects the default artifact store", func(t *testing.T) {
		dflt := try.To(testee.Create(ctx, domain.StackComponent{
			Name: domain.DefaultComponentName, Type: domain.ArtifactStoreType,
			FlavorName: "local", Configuration: []byte(`{}`), IsShared: true,
			ProjectID: prj.ID, UserID: owner.ID,
		})).OrFatal(t)

		if err := testee.Delete(ctx, dflt.ID); !errors.Is(err, domain.ErrProtected) {
			t.Errorf("expected ErrProtected, got: %v", err)
		}
	})
}
