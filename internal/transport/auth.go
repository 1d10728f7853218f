package transport

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/rpggio/civicsync/internal/domain/user"
	"github.com/rpggio/civicsync/internal/identity"
)

// TokenVerifier validates a bearer token.
type TokenVerifier interface {
	Verify(token string) (*identity.Claims, error)
}

// UserResolver turns verified claims into the acting user.
type UserResolver interface {
	Resolve(ctx context.Context, claims *identity.Claims) (*user.User, error)
}

// AuthMiddleware enforces bearer token authentication and stores the
// resolved user in the request context.
func AuthMiddleware(verifier TokenVerifier, resolver UserResolver, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeAPIError(w, http.StatusUnauthorized, &APIError{Code: CodeUnauthorized, Message: "missing bearer token"})
				return
			}

			claims, err := verifier.Verify(token)
			if err != nil {
				logger.Debug("rejected bearer token", "error", err)
				writeAPIError(w, http.StatusUnauthorized, &APIError{Code: CodeUnauthorized, Message: "invalid bearer token"})
				return
			}

			u, err := resolver.Resolve(r.Context(), claims)
			if err != nil {
				logger.Error("resolving user", "subject", claims.Subject, "error", err)
				writeAPIError(w, http.StatusUnauthorized, &APIError{Code: CodeUnauthorized, Message: "unknown user"})
				return
			}

			next.ServeHTTP(w, r.WithContext(identity.WithUser(r.Context(), *u)))
		})
	}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}
