package assignment_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/tracefab/tracefab/pkg/domain"
	"github.com/tracefab/tracefab/pkg/domain/postgres/assignment"
	dbtestenv "github.com/tracefab/tracefab/pkg/domain/postgres/pool/testenv"
	"github.com/tracefab/tracefab/pkg/domain/postgres/project"
	"github.com/tracefab/tracefab/pkg/domain/postgres/role"
	"github.com/tracefab/tracefab/pkg/domain/postgres/team"
	"github.com/tracefab/tracefab/pkg/domain/postgres/user"
	"github.com/tracefab/tracefab/pkg/utils/pointer"
	"github.com/tracefab/tracefab/pkg/utils/try"
)

func TestAssignment_AssignAndRevoke(t *testing.T) {
	ctx := context.Background()
	pool := dbtestenv.NewPoolBroaker(ctx, t).GetPool(ctx, t)
	testee := assignment.New(pool)

	operator := try.To(role.New(pool).Create(ctx, domain.Role{
		Name: "operator", Permissions: []string{"read", "write"},
	})).OrFatal(t)
	alice := try.To(user.New(pool).Create(ctx, domain.User{Name: "alice", Active: true})).OrFatal(t)
	prj := try.To(project.New(pool).Create(ctx, domain.Project{Name: "fraud-detection"})).OrFatal(t)

	subject := domain.Subject{Kind: domain.SubjectUser, NameOrID: "alice"}

	t.Run("it assigns a role globally", func(t *testing.T) {
		if err := testee.Assign(ctx, "operator", subject, ""); err != nil {
			t.Fatal(err)
		}

		listed := try.To(testee.List(ctx, domain.AssignmentQuery{
			User: pointer.Ref("alice"),
		})).OrFatal(t)
		if len(listed) != 1 {
			t.Fatalf("unexpected assignments: %+v", listed)
		}
		got := listed[0]
		if got.RoleID != operator.ID || got.UserID == nil || *got.UserID != alice.ID {
			t.Errorf("unexpected binding: %+v", got)
		}
		if got.ProjectID != nil {
			t.Errorf("a global assignment should not be scoped: %+v", got)
		}
	})

	t.Run("the same binding in a project scope is distinct", func(t *testing.T) {
		if err := testee.Assign(ctx, "operator", subject, "fraud-detection"); err != nil {
			t.Fatal(err)
		}

		listed := try.To(testee.List(ctx, domain.AssignmentQuery{
			User: pointer.Ref("alice"), Project: pointer.Ref("fraud-detection"),
		})).OrFatal(t)
		if len(listed) != 1 {
			t.Fatalf("unexpected assignments: %+v", listed)
		}
		if listed[0].ProjectID == nil || *listed[0].ProjectID != prj.ID {
			t.Errorf("unexpected scope: %+v", listed[0])
		}
	})

	t.Run("it rejects a duplicate binding in the same scope", func(t *testing.T) {
		if err := testee.Assign(ctx, "operator", subject, ""); !errors.Is(err, domain.ErrConflict) {
			t.Errorf("expected ErrConflict, got: %v", err)
		}
		if err := testee.Assign(ctx, "operator", subject, "fraud-detection"); !errors.Is(err, domain.ErrConflict) {
			t.Errorf("expected ErrConflict, got: %v", err)
		}
	})

	t.Run("the database itself rejects a duplicate global binding", func(t *testing.T) {
		conn := try.To(pool.Acquire(ctx)).OrFatal(t)
		defer conn.Release()

		if _, err := conn.Exec(
			ctx,
			`
			insert into "user_role_assignment" ("id", "role_id", "user_id", "project_id")
			values ($1, $2, $3, null)
			`,
			uuid.New().String(), operator.ID.String(), alice.ID.String(),
		); err == nil {
			t.Error("the unique index should reject a second global binding")
		}
	})

	t.Run("revoking honors the scope", func(t *testing.T) {
		if err := testee.Revoke(ctx, "operator", subject, "fraud-detection"); err != nil {
			t.Fatal(err)
		}

		// the global binding stays.
		listed := try.To(testee.List(ctx, domain.AssignmentQuery{
			User: pointer.Ref("alice"),
		})).OrFatal(t)
		if len(listed) != 1 || listed[0].ProjectID != nil {
			t.Errorf("the global assignment should survive: %+v", listed)
		}
	})

	t.Run("revoking an absent binding names the subject and scope", func(t *testing.T) {
		err := testee.Revoke(ctx, "operator", subject, "fraud-detection")
		if !errors.Is(err, domain.ErrMissing) {
			t.Fatalf("expected ErrMissing, got: %v", err)
		}
		for _, frag := range []string{"user alice", "in project fraud-detection"} {
			if !strings.Contains(err.Error(), frag) {
				t.Errorf("the error should name %q: %v", frag, err)
			}
		}

		// a failed global revoke is reported as global.
		if err := testee.Revoke(ctx, "operator", subject, ""); err != nil {
			t.Fatal(err)
		}
		err = testee.Revoke(ctx, "operator", subject, "")
		if !errors.Is(err, domain.ErrMissing) {
			t.Fatalf("expected ErrMissing, got: %v", err)
		}
		if !strings.Contains(err.Error(), "user alice globally") {
			t.Errorf("the error should name the global scope: %v", err)
		}
	})

	t.Run("it fails for an unknown role or subject", func(t *testing.T) {
		if err := testee.Assign(ctx, "no-such-role", subject, ""); !errors.Is(err, domain.ErrMissing) {
			t.Errorf("expected ErrMissing, got: %v", err)
		}
		if err := testee.Assign(ctx, "operator", domain.Subject{
			Kind: domain.SubjectUser, NameOrID: "nobody",
		}, ""); !errors.Is(err, domain.ErrMissing) {
			t.Errorf("expected ErrMissing, got: %v", err)
		}
	})
}

func TestAssignment_List(t *testing.T) {
	ctx := context.Background()
	pool := dbtestenv.NewPoolBroaker(ctx, t).GetPool(ctx, t)
	testee := assignment.New(pool)

	roles := role.New(pool)
	operator := try.To(roles.Create(ctx, domain.Role{Name: "operator"})).OrFatal(t)
	try.To(roles.Create(ctx, domain.Role{Name: "viewer"})).OrFatal(t)

	squad := try.To(team.New(pool).Create(ctx, domain.Team{Name: "squad"})).OrFatal(t)
	try.To(user.New(pool).Create(ctx, domain.User{Name: "alice", Active: true})).OrFatal(t)

	aliceSubj := domain.Subject{Kind: domain.SubjectUser, NameOrID: "alice"}
	squadSubj := domain.Subject{Kind: domain.SubjectTeam, NameOrID: "squad"}

	for _, bind := range []struct {
		role    string
		subject domain.Subject
	}{
		{role: "operator", subject: aliceSubj},
		{role: "viewer", subject: aliceSubj},
		{role: "operator", subject: squadSubj},
	} {
		if err := testee.Assign(ctx, bind.role, bind.subject, ""); err != nil {
			t.Fatal(err)
		}
	}

	t.Run("without filters it lists user and team assignments", func(t *testing.T) {
		listed := try.To(testee.List(ctx, domain.AssignmentQuery{})).OrFatal(t)
		if len(listed) != 3 {
			t.Errorf("unexpected assignments: %+v", listed)
		}
	})

	t.Run("a role filter spans both subject kinds", func(t *testing.T) {
		listed := try.To(testee.List(ctx, domain.AssignmentQuery{
			Role: pointer.Ref("operator"),
		})).OrFatal(t)
		if len(listed) != 2 {
			t.Fatalf("unexpected assignments: %+v", listed)
		}
		for _, a := range listed {
			if a.RoleID != operator.ID {
				t.Errorf("unexpected role: %+v", a)
			}
		}
	})

	t.Run("a team filter excludes user assignments", func(t *testing.T) {
		listed := try.To(testee.List(ctx, domain.AssignmentQuery{
			Team: pointer.Ref("squad"),
		})).OrFatal(t)
		if len(listed) != 1 {
			t.Fatalf("unexpected assignments: %+v", listed)
		}
		if listed[0].TeamID == nil || *listed[0].TeamID != squad.ID || listed[0].UserID != nil {
			t.Errorf("unexpected binding: %+v", listed[0])
		}
	})

	t.Run("a user filter excludes team assignments", func(t *testing.T) {
		listed := try.To(testee.List(ctx, domain.AssignmentQuery{
			User: pointer.Ref("alice"),
		})).OrFatal(t)
		if len(listed) != 2 {
			t.Fatalf("unexpected assignments: %+v", listed)
		}
		for _, a := range listed {
			if a.TeamID != nil {
				t.Errorf("team assignments should be excluded: %+v", a)
			}
		}
	})
}
