// Package auth verifies bearer tokens issued by the account service.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danpat592/Yeettalk/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

// UserLookup resolves a verified user id to its display identity.
type UserLookup interface {
	GetUser(ctx context.Context, id domain.UserID) (domain.User, error)
}

// Claims carries the user id either in the "id" claim or in "sub".
type Claims struct {
	UserID string `json:"id,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) subject() domain.UserID {
	if c.UserID != "" {
		return domain.UserID(c.UserID)
	}
	return domain.UserID(c.Subject)
}

type JWTVerifier struct {
	secret []byte
	users  UserLookup
	parser *jwt.Parser
}

func NewJWTVerifier(secret []byte, users UserLookup) *JWTVerifier {
	return &JWTVerifier{
		secret: secret,
		users:  users,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithLeeway(5*time.Second),
		),
	}
}

// Verify checks the HS256 signature and expiry of credential and loads the
// user it names. Every failure wraps domain.ErrAuth.
func (v *JWTVerifier) Verify(ctx context.Context, credential string) (*domain.User, error) {
	if len(v.secret) == 0 {
		return nil, fmt.Errorf("%w: verifier has no secret", domain.ErrAuth)
	}
	claims := &Claims{}
	_, err := v.parser.ParseWithClaims(credential, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrAuth, err)
	}

	id := claims.subject()
	if err := id.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrAuth, err)
	}
	user, err := v.users.GetUser(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, fmt.Errorf("%w: user %s not found", domain.ErrAuth, id)
		}
		return nil, fmt.Errorf("%w: lookup %s: %w", domain.ErrAuth, id, err)
	}
	return &user, nil
}
