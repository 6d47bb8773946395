// Package auth authenticates API callers from OAuth2 bearer tokens.
package auth

import (
	"context"
	"errors"

	"github.com/badgeengine/badgeengine-core/pkg/scope"
)

// ErrUnauthenticated is returned when a request carries no usable credentials.
var ErrUnauthenticated = errors.New("authentication required")

// Authenticator resolves a bearer token to a user.
type Authenticator interface {
	Authenticate(ctx context.Context, bearer string) (*scope.User, error)
}

// Development user identity returned by DevAuthenticator.
const (
	DevUserID    = "00000000-0000-0000-0000-000000000001"
	DevUserEmail = "dev@badgeengine.local"
	DevUserName  = "Development User"
)

// DevAuthenticator accepts every request as the development user.
// It must only be used when no identity provider is configured.
type DevAuthenticator struct{}

// AllowsAnonymous reports that requests without a bearer token are accepted.
func (DevAuthenticator) AllowsAnonymous() bool { return true }

// Authenticate implements Authenticator.
func (DevAuthenticator) Authenticate(_ context.Context, _ string) (*scope.User, error) {
	return DevUser(), nil
}

// DevUser returns a fresh copy of the development user.
func DevUser() *scope.User {
	return &scope.User{
		ID:     DevUserID,
		Email:  DevUserEmail,
		Name:   DevUserName,
		Groups: []string{scope.GroupIssuers, scope.GroupBadgeAdmins},
		Claims: map[string]interface{}{},
	}
}

// anonymousAuthenticator is implemented by authenticators that do not need a token.
type anonymousAuthenticator interface {
	AllowsAnonymous() bool
}

type contextKey struct{}

// WithUser returns a context carrying user.
func WithUser(ctx context.Context, user *scope.User) context.Context {
	return context.WithValue(ctx, contextKey{}, user)
}

// UserFromContext returns the authenticated user stored by Middleware.
func UserFromContext(ctx context.Context) (*scope.User, bool) {
	user, ok := ctx.Value(contextKey{}).(*scope.User)
	return user, ok && user != nil
}
