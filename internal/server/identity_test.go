package server

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.RegisteredClaims) string {
	t.Helper()

	signed, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return signed
}

func TestJWTResolver(t *testing.T) {
	resolver := NewJWTResolver(testJWTSecret, "pong-auth")
	valid := jwt.RegisteredClaims{
		Subject:   "alice",
		Issuer:    "pong-auth",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}

	tests := []struct {
		name    string
		header  string
		query   string
		want    string
		wantErr bool
	}{
		{
			name:   "bearer header",
			header: "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testJWTSecret), valid),
			want:   "alice",
		},
		{
			name:  "query parameter",
			query: signToken(t, jwt.SigningMethodHS256, []byte(testJWTSecret), valid),
			want:  "alice",
		},
		{
			name:    "missing token",
			wantErr: true,
		},
		{
			name:    "wrong secret",
			header:  "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte("other"), valid),
			wantErr: true,
		},
		{
			name:    "wrong algorithm",
			header:  "Bearer " + signToken(t, jwt.SigningMethodHS512, []byte(testJWTSecret), valid),
			wantErr: true,
		},
		{
			name: "expired",
			header: "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testJWTSecret), jwt.RegisteredClaims{
				Subject:   "alice",
				Issuer:    "pong-auth",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			}),
			wantErr: true,
		},
		{
			name: "no expiry",
			header: "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testJWTSecret), jwt.RegisteredClaims{
				Subject: "alice",
				Issuer:  "pong-auth",
			}),
			wantErr: true,
		},
		{
			name: "wrong issuer",
			header: "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testJWTSecret), jwt.RegisteredClaims{
				Subject:   "alice",
				Issuer:    "someone-else",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			}),
			wantErr: true,
		},
		{
			name: "no subject",
			header: "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testJWTSecret), jwt.RegisteredClaims{
				Issuer:    "pong-auth",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			}),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/websocket"
			if tt.query != "" {
				target += "?token=" + tt.query
			}
			r := httptest.NewRequest("GET", target, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}

			got, err := resolver.ResolveIdentity(r)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnauthorized)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
