package session

import (
	"context"
	"time"

	"roomcast/internal/pkg/auth/jwt"
)

// Session is a durable login session as recorded by the identity provider.
type Session struct {
	ID        string
	Identity  string
	ExpiresAt time.Time
	Revoked   bool
}

// SessionLookup reads sessions by id.
type SessionLookup interface {
	LookupSession(ctx context.Context, sessionID string) (Session, bool, error)
}

// TokenResolver implements SessionStore for signed session tokens: the token must
// verify and its session id must name a live session of the same identity.
type TokenResolver struct {
	secret   string
	sessions SessionLookup
	now      func() time.Time
}

// NewTokenResolver builds a TokenResolver that verifies tokens with secret.
func NewTokenResolver(secret string, sessions SessionLookup) *TokenResolver {
	return &TokenResolver{secret: secret, sessions: sessions, now: time.Now}
}

// ResolveSessionToken implements SessionStore. A token that fails verification
// is reported as not found; only lookup faults return an error.
func (r *TokenResolver) ResolveSessionToken(ctx context.Context, token string) (string, bool, error) {
	payload, err := jwt.ParseToken(token, r.secret)
	if err != nil {
		return "", false, nil
	}

	sess, found, err := r.sessions.LookupSession(ctx, payload.SessionID())
	if err != nil {
		return "", false, err
	}
	if !found || sess.Revoked || !r.now().Before(sess.ExpiresAt) {
		return "", false, nil
	}
	if sess.Identity != payload.Identity() {
		return "", false, nil
	}

	return sess.Identity, true, nil
}
