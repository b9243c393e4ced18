package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danpat592/Yeettalk/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

var secret = []byte("test_secret_that_is_long_enough")

type users map[domain.UserID]domain.User

func (u users) GetUser(_ context.Context, id domain.UserID) (domain.User, error) {
	if id == "broken" {
		return domain.User{}, errors.New("store closed")
	}
	user, ok := u[id]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return user, nil
}

func sign(t *testing.T, method jwt.SigningMethod, key any, claims jwt.Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func TestJWTVerifier(t *testing.T) {
	dir := users{"A": {ID: "A", Username: "alice", Avatar: "a.png"}}
	v := NewJWTVerifier(secret, dir)
	future := jwt.NewNumericDate(time.Now().Add(time.Hour))

	t.Run("id claim", func(t *testing.T) {
		req := require.New(t)
		token := sign(t, jwt.SigningMethodHS256, secret, &Claims{UserID: "A", RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: future}})
		u, err := v.Verify(context.Background(), token)
		req.NoError(err)
		req.Equal(&domain.User{ID: "A", Username: "alice", Avatar: "a.png"}, u)
	})

	t.Run("sub claim", func(t *testing.T) {
		token := sign(t, jwt.SigningMethodHS256, secret, jwt.RegisteredClaims{Subject: "A"})
		u, err := v.Verify(context.Background(), token)
		require.NoError(t, err)
		require.Equal(t, domain.UserID("A"), u.ID)
	})

	cases := []struct {
		name  string
		token string
	}{
		{"garbage", "not.a.jwt"},
		{"wrong secret", sign(t, jwt.SigningMethodHS256, []byte("other"), &Claims{UserID: "A"})},
		{"wrong algorithm", sign(t, jwt.SigningMethodHS512, secret, &Claims{UserID: "A"})},
		{"expired", sign(t, jwt.SigningMethodHS256, secret, &Claims{UserID: "A", RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		}})},
		{"no subject", sign(t, jwt.SigningMethodHS256, secret, &Claims{})},
		{"unknown user", sign(t, jwt.SigningMethodHS256, secret, &Claims{UserID: "ghost"})},
		{"lookup failure", sign(t, jwt.SigningMethodHS256, secret, &Claims{UserID: "broken"})},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			u, err := v.Verify(context.Background(), tc.token)
			require.Nil(t, u)
			require.ErrorIs(t, err, domain.ErrAuth)
			require.Equal(t, domain.CodeAuth, domain.Code(err))
		})
	}

	t.Run("empty secret rejects everything", func(t *testing.T) {
		token := sign(t, jwt.SigningMethodHS256, secret, &Claims{UserID: "A"})
		_, err := NewJWTVerifier(nil, dir).Verify(context.Background(), token)
		require.ErrorIs(t, err, domain.ErrAuth)
	})
}
