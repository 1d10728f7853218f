package mcp

import (
	"context"
	"fmt"
	"strings"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rpggio/civicsync/internal/domain/report"
	"github.com/rpggio/civicsync/internal/domain/user"
	"github.com/rpggio/civicsync/internal/identity"
)

// TokenVerifier validates a bearer token.
type TokenVerifier interface {
	Verify(token string) (*identity.Claims, error)
}

// UserResolver maps verified claims to a user.
type UserResolver interface {
	Resolve(ctx context.Context, claims *identity.Claims) (*user.User, error)
}

// callerFromContext returns the user making the MCP request.
func callerFromContext(ctx context.Context) (user.User, bool) {
	return identity.FromContext(ctx)
}

func isProtocolMethod(method string) bool {
	return method == "initialize" || method == "ping" || strings.HasPrefix(method, "notifications/")
}

// authMiddleware implements bearer token authentication as MCP middleware.
// Only employees get past it.
func authMiddleware(verifier TokenVerifier, resolver UserResolver) sdkmcp.Middleware {
	return func(next sdkmcp.MethodHandler) sdkmcp.MethodHandler {
		return func(ctx context.Context, method string, req sdkmcp.Request) (sdkmcp.Result, error) {
			if isProtocolMethod(method) {
				return next(ctx, method, req)
			}

			extra := req.GetExtra()
			if extra == nil || extra.Header == nil {
				return nil, fmt.Errorf("unauthorized: missing headers")
			}

			auth := extra.Header.Get("Authorization")
			token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
			if token == "" {
				return nil, fmt.Errorf("unauthorized: missing bearer token")
			}

			claims, err := verifier.Verify(token)
			if err != nil {
				return nil, fmt.Errorf("unauthorized: %w", err)
			}
			u, err := resolver.Resolve(ctx, claims)
			if err != nil {
				return nil, fmt.Errorf("unauthorized: %w", err)
			}
			if !u.IsEmployee() {
				return nil, fmt.Errorf("unauthorized: %w", report.ErrForbidden)
			}

			return next(identity.WithUser(ctx, *u), method, req)
		}
	}
}

// staticUserMiddleware acts as u on every request. Used for stdio, where
// the process owner is the operator.
func staticUserMiddleware(u user.User) sdkmcp.Middleware {
	return func(next sdkmcp.MethodHandler) sdkmcp.MethodHandler {
		return func(ctx context.Context, method string, req sdkmcp.Request) (sdkmcp.Result, error) {
			return next(identity.WithUser(ctx, u), method, req)
		}
	}
}
