package flavor_test

import (
	"context"
	"errors"
	"testing"

	"github.com/tracefab/tracefab/pkg/domain"
	"github.com/tracefab/tracefab/pkg/domain/postgres/component"
	"github.com/tracefab/tracefab/pkg/domain/postgres/flavor"
	dbtestenv "github.com/tracefab/tracefab/pkg/domain/postgres/pool/testenv"
	"github.com/tracefab/tracefab/pkg/domain/postgres/testhelpers"
	"github.com/tracefab/tracefab/pkg/utils/pointer"
	"github.com/tracefab/tracefab/pkg/utils/slices"
	"github.com/tracefab/tracefab/pkg/utils/try"
)

func TestFlavor_Create(t *testing.T) {
	ctx := context.Background()
	pool := dbtestenv.NewPoolBroaker(ctx, t).GetPool(ctx, t)
	prj, owner := testhelpers.Fixture(ctx, t, pool)
	testee := flavor.New(pool)

	t.Run("it registers a flavor", func(t *testing.T) {
		created := try.To(testee.Create(ctx, domain.Flavor{
			Name: "kubernetes", Type: domain.OrchestratorType,
			Source: "orchestrators.kubernetes", ConfigSchema: `{"type":"object"}`,
			ProjectID: prj.ID, UserID: owner.ID,
		})).OrFatal(t)

		got := try.To(testee.Get(ctx, "kubernetes", false)).OrFatal(t)
		if got.ID != created.ID || got.Type != domain.OrchestratorType {
			t.Errorf("get by name\n- got: %+v\n- want: %+v", got, created)
		}
		if got.Project != nil || got.User != nil {
			t.Error("nested models should stay empty without hydrate")
		}
	})

	t.Run("it hydrates nested models on demand", func(t *testing.T) {
		got := try.To(testee.Get(ctx, "kubernetes", true)).OrFatal(t)
		if got.Project == nil || got.Project.ID != prj.ID {
			t.Errorf("project not hydrated: %+v", got.Project)
		}
		if got.User == nil || got.User.ID != owner.ID {
			t.Errorf("user not hydrated: %+v", got.User)
		}
	})

	t.Run("the same name under another type is fine", func(t *testing.T) {
		if _, err := testee.Create(ctx, domain.Flavor{
			Name: "kubernetes", Type: domain.StepOperatorType,
			ProjectID: prj.ID, UserID: owner.ID,
		}); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("it rejects a duplicate (name, type) for the same owner", func(t *testing.T) {
		if _, err := testee.Create(ctx, domain.Flavor{
			Name: "kubernetes", Type: domain.OrchestratorType,
			ProjectID: prj.ID, UserID: owner.ID,
		}); !errors.Is(err, domain.ErrConflict) {
			t.Errorf("expected ErrConflict, got: %v", err)
		}
	})

	t.Run("it fails for an unknown project", func(t *testing.T) {
		if _, err := testee.Create(ctx, domain.Flavor{
			Name: "orphan", Type: domain.OrchestratorType,
			ProjectID: owner.ID, UserID: owner.ID,
		}); !errors.Is(err, domain.ErrMissing) {
			t.Errorf("expected ErrMissing, got: %v", err)
		}
	})
}

func TestFlavor_List(t *testing.T) {
	ctx := context.Background()
	pool := dbtestenv.NewPoolBroaker(ctx, t).GetPool(ctx, t)
	prj, owner := testhelpers.Fixture(ctx, t, pool)
	testee := flavor.New(pool)

	for _, f := range []domain.Flavor{
		{Name: "kubernetes", Type: domain.OrchestratorType},
		{Name: "airflow", Type: domain.OrchestratorType},
		{Name: "s3", Type: domain.ArtifactStoreType},
	} {
		f.ProjectID = prj.ID
		f.UserID = owner.ID
		try.To(testee.Create(ctx, f)).OrFatal(t)
	}

	t.Run("it narrows by type", func(t *testing.T) {
		listed := try.To(testee.List(ctx, domain.FlavorFilter{
			Type: pointer.Ref(domain.OrchestratorType),
		})).OrFatal(t)

		names := slices.Map(listed, func(f domain.Flavor) string { return f.Name })
		if len(names) != 2 || slices.Contains(names, "s3") {
			t.Errorf("unexpected listing: %v", names)
		}
	})

	t.Run("it narrows by name", func(t *testing.T) {
		listed := try.To(testee.List(ctx, domain.FlavorFilter{
			Name: pointer.Ref("s3"),
		})).OrFatal(t)
		if len(listed) != 1 || listed[0].Name != "s3" {
			t.Errorf("unexpected listing: %+v", listed)
		}
	})
}

func TestFlavor_Delete(t *testing.T) {
	ctx := context.Background()
	pool := dbtestenv.NewPoolBroaker(ctx, t).GetPool(ctx, t)
	prj, owner := testhelpers.Fixture(ctx, t, pool)
	testee := flavor.New(pool)
	components := component.New(pool)

	k8s := try.To(testee.Create(ctx, domain.Flavor{
		Name: "kubernetes", Type: domain.OrchestratorType,
		ProjectID: prj.ID, UserID: owner.ID,
	})).OrFatal(t)

	t.Run("it refuses while components are built from the flavor", func(t *testing.T) {
		built := try.To(components.Create(ctx, domain.StackComponent{
			Name: "prod-orchestrator", Type: domain.OrchestratorType,
			FlavorName: "kubernetes", Configuration: []byte(`{}`),
			ProjectID: prj.ID, UserID: owner.ID,
		})).OrFatal(t)

		if err := testee.Delete(ctx, k8s.ID); !errors.Is(err, domain.ErrProtected) {
			t.Errorf("expected ErrProtected, got: %v", err)
		}

		if err := components.Delete(ctx, built.ID); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("a component of another type does not block", func(t *testing.T) {
		// same flavor name, but a step operator. The orchestrator
		// flavor is not its base.
		other := try.To(testee.Create(ctx, domain.Flavor{
			Name: "kubernetes", Type: domain.StepOperatorType,
			ProjectID: prj.ID, UserID: owner.ID,
		})).OrFatal(t)
		built := try.To(components.Create(ctx, domain.StackComponent{
			Name: "remote-steps", Type: domain.StepOperatorType,
			FlavorName: "kubernetes", Configuration: []byte(`{}`),
			ProjectID: prj.ID, UserID: owner.ID,
		})).OrFatal(t)

		if err := testee.Delete(ctx, k8s.ID); err != nil {
			t.Errorf("unexpected error: %v", err)
		}

		if err := components.Delete(ctx, built.ID); err != nil {
			t.Fatal(err)
		}
		if err := testee.Delete(ctx, other.ID); err != nil {
			t.Fatal(err)
		}
	})
}
