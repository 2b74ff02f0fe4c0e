package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestSignAndParse(t *testing.T) {
	secret := []byte("test-secret")
	userID := uuid.New()

	token, err := Sign(userID, "region-1", secret, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	claims, err := ParseJWT(token, secret)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != userID.String() {
		t.Fatalf("expected subject %s, got %s", userID, claims.Subject)
	}
	if claims.RegionID != "region-1" {
		t.Fatalf("expected region-1, got %s", claims.RegionID)
	}
}

func TestParseRejectsWrongSecret(t *testing.T) {
	token, err := Sign(uuid.New(), "region-1", []byte("a"), time.Hour, time.Now())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ParseJWT(token, []byte("b")); err == nil {
		t.Fatalf("expected error for wrong secret")
	}
}

func TestParseRejectsExpired(t *testing.T) {
	token, err := Sign(uuid.New(), "region-1", []byte("a"), time.Minute, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ParseJWT(token, []byte("a")); err == nil {
		t.Fatalf("expected error for expired token")
	}
}

func TestExtractBearer(t *testing.T) {
	if got := ExtractBearer("Bearer abc"); got != "abc" {
		t.Fatalf("expected abc, got %q", got)
	}
	if got := ExtractBearer("Basic abc"); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
	if got := ExtractBearer(""); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}
