package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt"
)

const (
	// SessionExpiration is the default lifetime of a session token minted by GenerateToken.
	SessionExpiration = 24 * time.Hour

	// TokenIssuer identifies the issuer of tokens minted by this service (used by tooling and tests).
	TokenIssuer = "roomcast"
)

var (
	// ErrMissingSubject means the token verified but names no identity.
	ErrMissingSubject = errors.New("token has no subject")

	// ErrMissingSessionID means the token verified but carries no session id.
	ErrMissingSessionID = errors.New("token has no session id")
)

// GenerateToken creates and signs a session token for identity/sessionID.
func GenerateToken(identity, sessionID, secretKey string, duration time.Duration) (string, error) {
	now := time.Now()

	payload := &Payload{
		StandardClaims: jwt.StandardClaims{
			Subject:   identity,
			Id:        sessionID,
			ExpiresAt: now.Add(duration).Unix(),
			IssuedAt:  now.Unix(),
			Issuer:    TokenIssuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, payload)

	return token.SignedString([]byte(secretKey))
}

// ParseToken parses and validates the token string using the provided secretKey.
// Expiry and not-before are enforced by the claims validation of the jwt library.
func ParseToken(tokenString string, secretKey string) (*Payload, error) {
	claims := &Payload{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secretKey), nil
	})

	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, errors.New("invalid or expired token")
	}

	if claims.Subject == "" {
		return nil, ErrMissingSubject
	}

	if claims.Id == "" {
		return nil, ErrMissingSessionID
	}

	return claims, nil
}
