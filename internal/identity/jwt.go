package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTProvider validates HS256 tokens signed with a shared secret.
type JWTProvider struct {
	secret []byte
}

func NewJWTProvider(secret string) (*JWTProvider, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	return &JWTProvider{secret: []byte(secret)}, nil
}

// Verify returns the username claim, or the subject when no username is set.
func (p *JWTProvider) Verify(_ context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrMissingToken
	}
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return p.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if username, ok := claims["username"].(string); ok && username != "" {
		return username, nil
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("%w: no identity claim", ErrInvalidToken)
	}
	return sub, nil
}

// Sign issues a token for identity. It is used by tests and local tooling.
func (p *JWTProvider) Sign(identity string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"username": identity,
		"sub":      identity,
		"iat":      jwt.NewNumericDate(now),
		"exp":      jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
}
