/*
Package session admits connections: it turns a raw bearer token into a verified identity
before the WebSocket upgrade, so refused connections never reach the registry.
*/
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"roomcast/internal/pkg/errs"
	"roomcast/internal/pkg/logx"
)

// DefaultTimeout bounds Authenticate when the Gate is built without one.
const DefaultTimeout = 5 * time.Second

// Reason classifies a refused admission.
type Reason string

const (
	ReasonNoToken         Reason = "no_token"
	ReasonInvalidSession  Reason = "invalid_session"
	ReasonUnknownIdentity Reason = "unknown_identity"
	ReasonUnavailable     Reason = "unavailable"
)

var reasonCodes = map[Reason]int{
	ReasonNoToken:         errs.ErrNoToken,
	ReasonInvalidSession:  errs.ErrInvalidSession,
	ReasonUnknownIdentity: errs.ErrUnknownIdentity,
	ReasonUnavailable:     errs.ErrAuthUnavailable,
}

// AuthError is returned by Gate.Authenticate. It unwraps to the matching
// *errs.CustomError and, for Unavailable, to the underlying fault.
type AuthError struct {
	Reason Reason
	cause  error
}

func (e *AuthError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("session: %s: %v", e.Reason, e.cause)
	}
	return "session: " + string(e.Reason)
}

func (e *AuthError) Unwrap() []error {
	out := []error{errs.NewError(reasonCodes[e.Reason])}
	if e.cause != nil {
		out = append(out, e.cause)
	}
	return out
}

// SessionStore resolves a raw token to the identity of a live session.
type SessionStore interface {
	ResolveSessionToken(ctx context.Context, token string) (identity string, found bool, err error)
}

// UserStore confirms an identity still has a durable user record.
type UserStore interface {
	UserExists(ctx context.Context, identity string) (bool, error)
}

// Gate authenticates connection attempts. It never mutates state.
type Gate struct {
	sessions SessionStore
	users    UserStore
	timeout  time.Duration
	logger   zerolog.Logger
}

// NewGate constructs a Gate whose lookups are bounded by timeout.
func NewGate(sessions SessionStore, users UserStore, timeout time.Duration) *Gate {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Gate{
		sessions: sessions,
		users:    users,
		timeout:  timeout,
		logger:   logx.Component("session"),
	}
}

// Authenticate returns the identity behind rawToken or an *AuthError.
func (g *Gate) Authenticate(ctx context.Context, rawToken string) (string, error) {
	token := strings.TrimSpace(rawToken)
	if token == "" {
		return "", &AuthError{Reason: ReasonNoToken}
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	identity, found, err := g.sessions.ResolveSessionToken(ctx, token)
	if err != nil {
		g.logger.Warn().Err(err).Msg("Session lookup failed")
		return "", &AuthError{Reason: ReasonUnavailable, cause: err}
	}
	if !found || identity == "" {
		return "", &AuthError{Reason: ReasonInvalidSession}
	}

	exists, err := g.users.UserExists(ctx, identity)
	if err != nil {
		g.logger.Warn().Err(err).Str("identity", identity).Msg("User lookup failed")
		return "", &AuthError{Reason: ReasonUnavailable, cause: err}
	}
	if !exists {
		return "", &AuthError{Reason: ReasonUnknownIdentity}
	}

	return identity, nil
}

// ReasonOf returns the refusal reason carried by err, if any.
func ReasonOf(err error) (Reason, bool) {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Reason, true
	}
	return "", false
}
