// Package auth validates bearer credentials on inbound connections.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"live-quiz-service/internal/domain"
)

// ErrInvalidToken is returned for a credential that is present but not valid.
var ErrInvalidToken = errors.New("invalid token")

// Claims are the JWT claims issued by the identity provider.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// Gate verifies HMAC-signed JWTs. A missing credential is not an error: the
// connection proceeds anonymously with participant-only capabilities.
type Gate struct {
	secret []byte
}

func NewGate(secret string) *Gate {
	return &Gate{secret: []byte(secret)}
}

// Authenticate returns the identity for token, or nil for an empty token.
func (g *Gate) Authenticate(token string) (*domain.Identity, error) {
	if token == "" {
		return nil, nil
	}
	if len(g.secret) == 0 {
		return nil, fmt.Errorf("%w: authentication not configured", ErrInvalidToken)
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return g.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return &domain.Identity{ID: claims.Subject, Email: claims.Email, Role: claims.Role}, nil
}

// AuthenticateRequest reads the credential from the Authorization header or
// the token query parameter (browsers cannot set headers on websocket dials).
func (g *Gate) AuthenticateRequest(r *http.Request) (*domain.Identity, error) {
	return g.Authenticate(TokenFromRequest(r))
}

func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}

// Sign issues a token for identity. Used by tests and local tooling.
func (g *Gate) Sign(identity domain.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Email: identity.Email,
		Role:  identity.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
}
