package auth

import (
	"testing"

	"github.com/google/uuid"

	"github.com/vaani-market/backend/internal/models"
)

func testUser() *models.User {
	return &models.User{
		ID:                uuid.New(),
		Email:             "priya@example.com",
		Role:              models.RoleSeller,
		PreferredLanguage: "hi",
	}
}

func TestJWT_RoundTripCarriesIdentity(t *testing.T) {
	svc := NewJWTService("secret", 24)
	user := testUser()

	token, err := svc.Generate(user)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	claims, err := svc.Validate(token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.UserID != user.ID {
		t.Errorf("UserID = %s, want %s", claims.UserID, user.ID)
	}
	if claims.Role != string(models.RoleSeller) {
		t.Errorf("Role = %q, want seller", claims.Role)
	}
	if claims.PreferredLanguage != "hi" {
		t.Errorf("PreferredLanguage = %q, want hi", claims.PreferredLanguage)
	}
}

func TestJWT_WrongSecretRejected(t *testing.T) {
	token, err := NewJWTService("secret-a", 24).Generate(testUser())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, err := NewJWTService("secret-b", 24).Validate(token); err != ErrInvalidToken {
		t.Fatalf("Validate with wrong secret = %v, want ErrInvalidToken", err)
	}
}

func TestJWT_ExpiredTokenRejected(t *testing.T) {
	svc := NewJWTService("secret", -1)
	token, err := svc.Generate(testUser())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, err := svc.Validate(token); err != ErrInvalidToken {
		t.Fatalf("Validate expired token = %v, want ErrInvalidToken", err)
	}
}
