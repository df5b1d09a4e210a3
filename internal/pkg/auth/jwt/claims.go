package jwt

import "github.com/golang-jwt/jwt"

// Payload defines the claims of a session token issued by the identity provider.
//
// Subject carries the stable identity (the external-provider user id) and Id (jti)
// carries the session id that is checked against the session store on every admission,
// so a revoked session is refused even while its token is still within its lifetime.
type Payload struct {
	jwt.StandardClaims

	// DisplayName is an optional hint from the identity provider. The durable profile wins.
	DisplayName string `json:"name,omitempty"`
}

// Identity returns the subject of the token.
func (p *Payload) Identity() string {
	return p.Subject
}

// SessionID returns the session id (jti) of the token.
func (p *Payload) SessionID() string {
	return p.Id
}
