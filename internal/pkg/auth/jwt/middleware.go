package jwt

import (
	"context"
	"net/http"
	"strings"

	"roomcast/internal/pkg/resp"
)

type contextKey string

// ContextIdentityKey stores the authenticated identity in a request Context.
const ContextIdentityKey contextKey = "identity"

// Authenticator resolves a raw bearer token to an identity.
type Authenticator interface {
	Authenticate(ctx context.Context, rawToken string) (string, error)
}

// ExtractToken returns the bearer token presented by the request.
// It checks, in order, the Authorization header, the "token" query parameter,
// and the Sec-WebSocket-Protocol header in the form "bearer, <token>" (browsers
// cannot set headers on WebSocket handshakes).
func ExtractToken(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}

	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token
	}

	protocols := websocketProtocols(r)
	for i := 0; i+1 < len(protocols); i++ {
		if strings.EqualFold(protocols[i], "bearer") {
			return protocols[i+1]
		}
	}

	return ""
}

func websocketProtocols(r *http.Request) []string {
	var protocols []string
	for _, header := range r.Header.Values("Sec-WebSocket-Protocol") {
		for _, p := range strings.Split(header, ",") {
			if p = strings.TrimSpace(p); p != "" {
				protocols = append(protocols, p)
			}
		}
	}
	return protocols
}

// RequireIdentity authenticates every request with auth and rejects failures with the
// error's status. The identity is injected into the request Context on success.
func RequireIdentity(auth Authenticator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := auth.Authenticate(r.Context(), ExtractToken(r))
			if err != nil {
				resp.RespondError(w, r, err)
				return
			}

			ctx := context.WithValue(r.Context(), ContextIdentityKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentityFromContext returns the identity injected by RequireIdentity.
func IdentityFromContext(ctx context.Context) (string, bool) {
	identity, ok := ctx.Value(ContextIdentityKey).(string)
	return identity, ok && identity != ""
}
