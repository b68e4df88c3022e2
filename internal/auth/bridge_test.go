package auth

import (
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	b, err := NewBridge(0)
	if err != nil {
		t.Fatalf("NewBridge failed: %v", err)
	}

	token, err := b.CreateToken("Guardians")
	if err != nil {
		t.Fatalf("CreateToken failed: %v", err)
	}

	guild, err := b.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken failed: %v", err)
	}
	if guild != "Guardians" {
		t.Errorf("guild = %q, want %q", guild, "Guardians")
	}
}

func TestVerifyRejectsForeignToken(t *testing.T) {
	issuer, _ := NewBridge(0)
	verifier, _ := NewBridge(0)

	token, err := issuer.CreateToken("Guardians")
	if err != nil {
		t.Fatalf("CreateToken failed: %v", err)
	}

	if _, err := verifier.VerifyToken(token); err == nil {
		t.Fatal("expected verification to fail for a token signed with another key")
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	b, err := NewBridge(-time.Minute)
	if err != nil {
		t.Fatalf("NewBridge failed: %v", err)
	}

	token, err := b.CreateToken("Guardians")
	if err != nil {
		t.Fatalf("CreateToken failed: %v", err)
	}

	if _, err := b.VerifyToken(token); err == nil {
		t.Fatal("expected verification to fail for an expired token")
	}
}
