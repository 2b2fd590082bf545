// Package auth verifies bearer tokens and carries the caller identity in context.
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/digkill/storybook/internal/config"
)

var signingMethod = jwt.SigningMethodHS256

// Claims is the access token payload; sub holds the user id.
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// User is the authenticated caller.
type User struct {
	ID    uuid.UUID
	Email string
}

// ParseToken validates an HS256 access token and returns the caller.
func ParseToken(cfg config.AuthConfig, tokenString string) (User, error) {
	if cfg.JWTSecret == "" {
		return User{}, fmt.Errorf("jwt secret is required")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if token.Method != signingMethod {
			return nil, fmt.Errorf("unexpected signing method %s", token.Header["alg"])
		}
		return []byte(cfg.JWTSecret), nil
	}, opts...)
	if err != nil {
		return User{}, err
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return User{}, fmt.Errorf("subject is not a user id: %w", err)
	}
	return User{ID: id, Email: claims.Email}, nil
}

// MintToken signs a token for user; used by tooling and tests.
func MintToken(cfg config.AuthConfig, user User, now time.Time, ttl time.Duration) (string, error) {
	if cfg.JWTSecret == "" {
		return "", fmt.Errorf("jwt secret is required")
	}
	claims := Claims{
		Email: user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{cfg.Audience}
	}
	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString([]byte(cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}
	return signed, nil
}

type ctxKey struct{}

func WithUser(ctx context.Context, user User) context.Context {
	return context.WithValue(ctx, ctxKey{}, user)
}

// UserFromContext returns the authenticated caller, if any.
func UserFromContext(ctx context.Context) (User, bool) {
	if ctx == nil {
		return User{}, false
	}
	user, ok := ctx.Value(ctxKey{}).(User)
	if !ok || user.ID == uuid.Nil {
		return User{}, false
	}
	return user, true
}
