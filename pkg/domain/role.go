package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// built-in roles. They cannot be updated nor deleted.
const (
	AdminRoleName = "admin"
	GuestRoleName = "guest"
)

type Role struct {
	ID          uuid.UUID
	Name        string
	Permissions []string
	Created     time.Time
	Updated     time.Time
}

type RolePatch struct {
	Name *string

	// replaces the whole permission set when non-nil.
	Permissions *[]string
}

type RoleInterface interface {
	Create(ctx context.Context, role Role) (Role, error)
	Get(ctx context.Context, nameOrID string) (Role, error)
	List(ctx context.Context) ([]Role, error)

	// Update applies patch. Built-in roles return ErrProtected.
	Update(ctx context.Context, id uuid.UUID, patch RolePatch) (Role, error)

	// Delete removes a role.
	//
	// Built-in roles and roles with assignments return ErrProtected.
	Delete(ctx context.Context, nameOrID string) error
}

type SubjectKind string

const (
	SubjectUser SubjectKind = "user"
	SubjectTeam SubjectKind = "team"
)

func AsSubjectKind(kind string) (SubjectKind, error) {
	switch kind {
	case string(SubjectUser):
		return SubjectUser, nil
	case string(SubjectTeam):
		return SubjectTeam, nil
	default:
		return "", fmt.Errorf("'%s' is not SubjectKind", kind)
	}
}

// Subject is a user or a team a role is assigned to.
type Subject struct {
	Kind     SubjectKind
	NameOrID string
}

// RoleAssignment binds a role to a user or team,
// either globally or scoped to one project.
type RoleAssignment struct {
	ID        uuid.UUID
	RoleID    uuid.UUID
	UserID    *uuid.UUID
	TeamID    *uuid.UUID
	ProjectID *uuid.UUID
	Created   time.Time
	Updated   time.Time
}

// AssignmentQuery filters assignment listings. Nil fields are not applied.
type AssignmentQuery struct {
	Project *string
	Role    *string
	User    *string
	Team    *string
}

type AssignmentInterface interface {
	// Assign binds the role to the subject.
	//
	// An empty project scopes the assignment globally.
	// Returns ErrConflict when the identical (role, subject, scope)
	// triple is already assigned.
	Assign(ctx context.Context, roleNameOrID string, subject Subject, projectNameOrID string) error

	// Revoke removes the binding.
	//
	// Returns ErrMissing when the role is not assigned to the subject
	// within the given scope.
	Revoke(ctx context.Context, roleNameOrID string, subject Subject, projectNameOrID string) error

	List(ctx context.Context, query AssignmentQuery) ([]RoleAssignment, error)
}
