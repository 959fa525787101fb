package auth

import (
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSource supplies the bearer token used against the remote backend.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenSource serves a fixed token from configuration.
//
// If the token is a JWT its exp claim is checked on every call, so an
// expired credential is reported before any request is made. The signature
// is not verified: the backend owns the signing key. Opaque tokens are
// returned as they are.
type StaticTokenSource struct {
	token string
	now   func() time.Time
}

// NewStaticTokenSource returns a TokenSource for token.
func NewStaticTokenSource(token string) *StaticTokenSource {
	return &StaticTokenSource{
		token: strings.TrimSpace(token),
		now:   time.Now,
	}
}

// Token returns the configured token, or ErrTokenMissing / ErrTokenExpired.
func (s *StaticTokenSource) Token(_ context.Context) (string, error) {
	if s == nil || s.token == "" {
		return "", ErrTokenMissing
	}

	exp, ok := tokenExpiry(s.token)
	if ok && !s.now().Before(exp) {
		return "", ErrTokenExpired
	}
	return s.token, nil
}

// tokenExpiry reads the exp claim of an unverified JWT.
func tokenExpiry(raw string) (time.Time, bool) {
	if strings.Count(raw, ".") != 2 { //nolint:mnd // header.payload.signature
		return time.Time{}, false
	}

	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
