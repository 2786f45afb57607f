package auth

import (
	"errors"
	"testing"
	"time"
)

func TestJWTAuth_GenerateAndValidate(t *testing.T) {
	a := NewJWTAuth("test-secret")

	token, expiresAt, err := a.GenerateToken("leaf-1", RoleRouter)
	if err != nil {
		t.Fatalf("Expected no error generating token, got: %v", err)
	}
	if token == "" {
		t.Fatal("Expected non-empty token")
	}
	if time.Until(expiresAt) <= 0 {
		t.Errorf("Expected expiry in the future, got %v", expiresAt)
	}

	claims, err := a.ValidateToken("Bearer " + token)
	if err != nil {
		t.Fatalf("Expected valid token, got: %v", err)
	}
	if claims.Subject != "leaf-1" {
		t.Errorf("Expected subject leaf-1, got %q", claims.Subject)
	}
	if claims.Role != RoleRouter {
		t.Errorf("Expected role router, got %q", claims.Role)
	}
}

func TestJWTAuth_Rejects(t *testing.T) {
	a := NewJWTAuth("test-secret")
	token, _, err := a.GenerateToken("admin", RoleAdmin)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if _, err := a.ValidateToken(""); !errors.Is(err, ErrEmptyToken) {
		t.Errorf("Expected ErrEmptyToken, got: %v", err)
	}
	if _, err := a.ValidateToken("not-a-jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken, got: %v", err)
	}
	if _, err := NewJWTAuth("other-secret").ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken for a foreign secret, got: %v", err)
	}
	if _, err := a.Authorize(token, RoleRouter); !errors.Is(err, ErrWrongRole) {
		t.Errorf("Expected ErrWrongRole, got: %v", err)
	}
	if _, err := a.Authorize(token, RoleAdmin); err != nil {
		t.Errorf("Expected admin token to authorize admin, got: %v", err)
	}
	if _, _, err := a.GenerateToken("", RoleAdmin); !errors.Is(err, ErrEmptySubject) {
		t.Errorf("Expected ErrEmptySubject, got: %v", err)
	}
}

func TestJWTAuth_Expiry(t *testing.T) {
	a := NewJWTAuth("test-secret").WithTTL(time.Minute)
	issued := time.Now()
	a.now = func() time.Time { return issued }

	token, _, err := a.GenerateToken("leaf-1", RoleRouter)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	a.now = func() time.Time { return issued.Add(2 * time.Minute) }
	if _, err := a.ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Expected expired token to be invalid, got: %v", err)
	}
}
