package auth

import (
	"testing"
	"time"
)

func TestSessionVerifier_RoundTrip(t *testing.T) {
	v := NewSessionVerifier("test-secret-at-least-32-characters!")

	token, err := v.Issue("admin@example.com", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Email != "admin@example.com" {
		t.Errorf("Email = %q, want admin@example.com", claims.Email)
	}
}

func TestSessionVerifier_WrongSecret(t *testing.T) {
	issuer := NewSessionVerifier("secret-one-0123456789-0123456789")
	verifier := NewSessionVerifier("secret-two-0123456789-0123456789")

	token, err := issuer.Issue("admin@example.com", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := verifier.Verify(token); err == nil {
		t.Error("token signed with a different secret verified")
	}
}

func TestSessionVerifier_Expired(t *testing.T) {
	v := NewSessionVerifier("test-secret-at-least-32-characters!")

	token, err := v.Issue("admin@example.com", -time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := v.Verify(token); err == nil {
		t.Error("expired token verified")
	}
}

func TestSessionVerifier_Unconfigured(t *testing.T) {
	v := NewSessionVerifier("")
	if _, err := v.Verify("whatever"); err == nil {
		t.Error("unconfigured verifier accepted a token")
	}
	if _, err := v.Issue("a@b.c", time.Hour); err == nil {
		t.Error("unconfigured verifier issued a token")
	}
}
