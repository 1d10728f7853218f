package identity

import (
	"context"

	"github.com/rpggio/civicsync/internal/domain/user"
)

type userKey struct{}

// WithUser stores the authenticated user in ctx.
func WithUser(ctx context.Context, u user.User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// FromContext returns the authenticated user, if any.
func FromContext(ctx context.Context) (user.User, bool) {
	u, ok := ctx.Value(userKey{}).(user.User)
	return u, ok
}

// Context is a user.Identity reading the user placed by WithUser.
type Context struct{}

func (Context) CurrentUser(ctx context.Context) (*user.User, error) {
	u, ok := FromContext(ctx)
	if !ok {
		return nil, user.ErrNoUser
	}
	return &u, nil
}

// Static is a user.Identity that always returns the same user. It backs
// in-process sessions such as the stdio MCP server.
type Static struct {
	u *user.User
}

// NewStatic creates a static identity. A nil user means nobody is signed in.
func NewStatic(u *user.User) *Static {
	return &Static{u: u}
}

func (s *Static) CurrentUser(context.Context) (*user.User, error) {
	if s.u == nil {
		return nil, user.ErrNoUser
	}
	u := *s.u
	return &u, nil
}
