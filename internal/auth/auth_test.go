package auth

import (
	"errors"
	"testing"
	"time"
)

func TestPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !CheckPassword(hash, "correct horse") {
		t.Fatalf("expected password to match")
	}
	if CheckPassword(hash, "wrong") {
		t.Fatalf("expected mismatch")
	}
	if CheckPassword("", "correct horse") {
		t.Fatalf("empty hash must never match")
	}
}

func TestPinRoundTrip(t *testing.T) {
	hash, err := HashPin("4821")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !CheckPin(hash, "4821") || CheckPin(hash, "1111") {
		t.Fatalf("unexpected pin check result")
	}
}

func TestTokenRoundTrip(t *testing.T) {
	token, err := GenerateToken("secret", "user-1", time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	claims, err := ParseToken("secret", token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claims.UserID != "user-1" {
		t.Fatalf("expected user-1, got %s", claims.UserID)
	}
}

func TestTokenRejectsWrongSecretAndExpiry(t *testing.T) {
	token, _ := GenerateToken("secret", "user-1", time.Minute)
	if _, err := ParseToken("other", token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	expired, _ := GenerateToken("secret", "user-1", -time.Minute)
	if _, err := ParseToken("secret", expired); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}
