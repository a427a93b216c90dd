// Package auth describes who is signed in. The cache only needs the role to
// pick between "my records" views and "records by id" views.
package auth

import (
	"context"

	"github.com/campus-hub/querysync/internal/domain/shared"
)

// Role of a signed-in user.
type Role string

const (
	RoleStudent Role = "STUDENT"
	RoleFaculty Role = "FACULTY"
	RoleAdmin   Role = "ADMIN"
)

// IsValid reports whether r is a known role.
func (r Role) IsValid() bool {
	switch r {
	case RoleStudent, RoleFaculty, RoleAdmin:
		return true
	}
	return false
}

// Actor is the signed-in user.
type Actor struct {
	ID   string
	Role Role
	// StudentID is the student profile id of a student actor.
	StudentID string
}

// IsStudent reports whether the actor reads its own records through the
// "my-*" views.
func (a Actor) IsStudent() bool { return a.Role == RoleStudent }

// Validate checks that the actor can be used for reads.
func (a Actor) Validate() error {
	if a.ID == "" {
		return shared.NewDomainError("auth", "Validate", shared.ErrUnauthorized, "actor id is empty")
	}
	if !a.Role.IsValid() {
		return shared.NewDomainError("auth", "Validate", shared.ErrUnauthorized, "unknown role "+string(a.Role))
	}
	return nil
}

type ctxKey struct{}

// WithActor attaches the actor to ctx.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, ctxKey{}, a)
}

// FromContext returns the actor attached to ctx.
func FromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(ctxKey{}).(Actor)
	return a, ok
}
