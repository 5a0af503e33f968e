// Package auth resolves the caller identity from a bearer token. Issuing
// tokens for real users belongs to the external auth service; Issue exists
// for tooling and tests.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/ride-lifecycle/internal/models"
)

type Claims struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses an HS256 token into a Caller.
func (v *Verifier) Verify(token string) (models.Caller, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return models.Caller{}, fmt.Errorf("%w: %v", models.ErrUnauthorized, err)
	}
	if claims.UserID == "" {
		return models.Caller{}, fmt.Errorf("%w: missing user_id", models.ErrUnauthorized)
	}
	role, err := models.ParseRole(claims.Role)
	if err != nil {
		return models.Caller{}, fmt.Errorf("%w: %v", models.ErrUnauthorized, err)
	}
	return models.Caller{ID: claims.UserID, Name: claims.Name, Role: role}, nil
}

func (v *Verifier) Issue(c models.Caller, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: c.ID,
		Name:   c.Name,
		Role:   string(c.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   c.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

var errNoBearer = errors.New("missing bearer token")

// BearerToken extracts the token from an "Authorization: Bearer ..." header.
func BearerToken(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", fmt.Errorf("%w: %v", models.ErrUnauthorized, errNoBearer)
	}
	return strings.TrimSpace(parts[1]), nil
}

type contextKey string

const callerKey contextKey = "caller"

func WithCaller(ctx context.Context, c models.Caller) context.Context {
	return context.WithValue(ctx, callerKey, c)
}

func CallerFrom(ctx context.Context) (models.Caller, bool) {
	c, ok := ctx.Value(callerKey).(models.Caller)
	return c, ok
}
