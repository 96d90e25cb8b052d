package auth_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/tableside/api/internal/auth"
)

func TestGenerateAndValidateToken(t *testing.T) {
	secret := "test-secret"
	userID := uuid.New()
	sessionID := uuid.New()

	token, err := auth.GenerateToken(secret, userID, sessionID, "ana@tableside.test", "owner")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	claims, err := auth.ValidateToken(secret, token)
	if err != nil {
		t.Fatalf("validate token: %v", err)
	}

	if claims.UserID != userID {
		t.Errorf("user ID: got %v, want %v", claims.UserID, userID)
	}
	if claims.SessionID != sessionID {
		t.Errorf("session ID: got %v, want %v", claims.SessionID, sessionID)
	}
	if claims.Role != "owner" {
		t.Errorf("role: got %v, want %v", claims.Role, "owner")
	}
	if claims.Email != "ana@tableside.test" {
		t.Errorf("email: got %v", claims.Email)
	}
}

func TestValidateTokenWithWrongSecret(t *testing.T) {
	token, err := auth.GenerateToken("secret-a", uuid.New(), uuid.New(), "a@b.c", "customer")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	_, err = auth.ValidateToken("secret-b", token)
	if err == nil {
		t.Fatal("expected error validating with wrong secret")
	}
}

func TestValidateTokenWithInvalidString(t *testing.T) {
	_, err := auth.ValidateToken("secret", "not-a-jwt")
	if err == nil {
		t.Fatal("expected error validating invalid token string")
	}
}

func TestRefreshTokenIsNotAnAccessToken(t *testing.T) {
	userID, sessionID := uuid.New(), uuid.New()
	refresh, err := auth.GenerateRefreshToken("secret", userID, sessionID)
	if err != nil {
		t.Fatalf("generate refresh token: %v", err)
	}

	if _, err := auth.ValidateToken("secret", refresh); err == nil {
		t.Fatal("refresh token accepted as access token")
	}

	gotUser, gotSession, err := auth.ValidateRefreshToken("secret", refresh)
	if err != nil {
		t.Fatalf("validate refresh token: %v", err)
	}
	if gotUser != userID || gotSession != sessionID {
		t.Errorf("refresh claims: got (%v, %v), want (%v, %v)", gotUser, gotSession, userID, sessionID)
	}
}

func TestAccessTokenIsNotARefreshToken(t *testing.T) {
	access, err := auth.GenerateToken("secret", uuid.New(), uuid.New(), "a@b.c", "customer")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	if _, _, err := auth.ValidateRefreshToken("secret", access); err == nil {
		t.Fatal("access token accepted as refresh token")
	}
}
