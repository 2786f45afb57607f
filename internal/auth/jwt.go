// Package auth issues and validates the HS256 tokens that protect the admin API and
// the routing service between child and parent routers.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role is what a token allows its holder to do
type Role string

const (
	// RoleAdmin may use the admin API
	RoleAdmin Role = "admin"
	// RoleRouter may call the routing service as a child router
	RoleRouter Role = "router"
)

// DefaultTTL is the lifetime of issued tokens
const DefaultTTL = 24 * time.Hour

var (
	// ErrEmptySubject is returned when issuing a token without a subject
	ErrEmptySubject = errors.New("subject cannot be empty")
	// ErrEmptyToken is returned when validating an empty token
	ErrEmptyToken = errors.New("token cannot be empty")
	// ErrInvalidToken is returned when a token fails validation
	ErrInvalidToken = errors.New("invalid token")
	// ErrWrongRole is returned when a valid token lacks the required role
	ErrWrongRole = errors.New("token does not grant the required role")
)

// Claims are the claims carried by meshrouter tokens
type Claims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

// JWTAuth signs and validates tokens with one shared secret.
type JWTAuth struct {
	secretKey []byte
	ttl       time.Duration
	now       func() time.Time
}

// NewJWTAuth creates an authenticator for secretKey
func NewJWTAuth(secretKey string) *JWTAuth {
	return &JWTAuth{
		secretKey: []byte(secretKey),
		ttl:       DefaultTTL,
		now:       time.Now,
	}
}

// WithTTL sets the lifetime of issued tokens
func (j *JWTAuth) WithTTL(ttl time.Duration) *JWTAuth {
	j.ttl = ttl
	return j
}

// GenerateToken issues a token for subject with role. It returns the token and its expiry.
func (j *JWTAuth) GenerateToken(subject string, role Role) (string, time.Time, error) {
	if subject == "" {
		return "", time.Time{}, ErrEmptySubject
	}

	now := j.now()
	expiresAt := now.Add(j.ttl)
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(j.secretKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to create token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateToken parses token, with or without a "Bearer " prefix, and returns its claims.
func (j *JWTAuth) ValidateToken(token string) (*Claims, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return nil, ErrEmptyToken
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return j.secretKey, nil
	}, jwt.WithTimeFunc(j.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Authorize validates token and checks that it grants role.
func (j *JWTAuth) Authorize(token string, role Role) (*Claims, error) {
	claims, err := j.ValidateToken(token)
	if err != nil {
		return nil, err
	}
	if claims.Role != role {
		return nil, fmt.Errorf("%w: have %q, need %q", ErrWrongRole, claims.Role, role)
	}
	return claims, nil
}
