package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/ai-workbench/backend/internal/model/user"
)

type identityKey struct{}

// TokenVerifier turns a bearer token into a verified identity.
type TokenVerifier interface {
	Verify(token string) (user.Identity, error)
}

// Authenticate resolves the caller from "Authorization: Bearer <token>", or from the token
// query parameter for websocket upgrades and event streams. Requests without a valid token continue with an
// empty identity; the services decide whether that is acceptable.
func Authenticate(verifier TokenVerifier, log *logrus.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			identity, err := verifier.Verify(token)
			if err != nil {
				log.WithError(err).Debug("rejected bearer token")
				next.ServeHTTP(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), identityKey{}, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentityFrom returns the identity Authenticate stored, or an empty one.
func IdentityFrom(ctx context.Context) user.Identity {
	identity, _ := ctx.Value(identityKey{}).(user.Identity)
	return identity
}

// WithIdentity is used by tests and tools that bypass token verification.
func WithIdentity(ctx context.Context, identity user.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	if websocketUpgrade(r) || eventStream(r) {
		return strings.TrimSpace(r.URL.Query().Get("token"))
	}
	return ""
}

func websocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func eventStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}
