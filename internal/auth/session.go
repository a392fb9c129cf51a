// session.go implements verification of admin session tokens (JWTs signed
// with a shared secret). The admin login flow that issues these tokens lives
// outside this service; the gate only needs to verify them when configured
// with the key-or-session strategy.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ExtractBearer pulls the token out of an Authorization header value.
// Returns empty when the header is absent or not a bearer scheme.
func ExtractBearer(header string) string {
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

// SessionClaims is the claims payload of an admin session token.
type SessionClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// SessionVerifier validates admin session JWTs against an injected secret.
// The secret is passed in by the caller (from configuration) rather than read
// from ambient process state, so tests and multi-tenant setups can construct
// independent verifiers.
type SessionVerifier struct {
	secret []byte
}

// NewSessionVerifier returns a verifier for the given shared secret.
// An empty secret yields a verifier that rejects every token, which is the
// correct behavior for deployments that never configured admin sessions.
func NewSessionVerifier(secret string) *SessionVerifier {
	return &SessionVerifier{secret: []byte(secret)}
}

// Verify parses and validates a session token, returning its claims.
func (v *SessionVerifier) Verify(tokenString string) (*SessionClaims, error) {
	if len(v.secret) == 0 {
		return nil, errors.New("session verification is not configured")
	}

	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid session token")
	}
	return claims, nil
}

// Issue creates a signed session token. Exposed for the admin login
// collaborator and for tests; expiresIn defaults to one hour.
func (v *SessionVerifier) Issue(email string, expiresIn time.Duration) (string, error) {
	if len(v.secret) == 0 {
		return "", errors.New("session signing is not configured")
	}
	if expiresIn == 0 {
		expiresIn = time.Hour
	}

	claims := &SessionClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "kumasi-data-api",
			Subject:   email,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
