package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestStaticTokenSource(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	jwtWithExpiry := func(exp time.Time) string {
		return signClaims(t, jwt.RegisteredClaims{
			Subject:   "client-1",
			ExpiresAt: jwt.NewNumericDate(exp),
		}, jwt.SigningMethodHS256, []byte("backend-key"))
	}

	valid := jwtWithExpiry(now.Add(time.Hour))
	expired := jwtWithExpiry(now.Add(-time.Second))

	tests := []struct {
		name    string
		token   string
		want    string
		wantErr error
	}{
		{"empty", "", "", ErrTokenMissing},
		{"whitespace", "   ", "", ErrTokenMissing},
		{"opaque", "opaque-api-key", "opaque-api-key", nil},
		{"valid jwt", valid, valid, nil},
		{"expired jwt", expired, "", ErrTokenExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := NewStaticTokenSource(tt.token)
			src.now = func() time.Time { return now }

			got, err := src.Token(ctx)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Token() error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Token() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStaticTokenSource_Nil(t *testing.T) {
	var src *StaticTokenSource
	if _, err := src.Token(context.Background()); !errors.Is(err, ErrTokenMissing) {
		t.Errorf("Token() error = %v, want ErrTokenMissing", err)
	}
}
