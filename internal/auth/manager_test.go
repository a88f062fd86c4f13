package auth

import (
	"strings"
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	mgr := NewManager("secret", time.Hour)
	token, err := mgr.IssueToken(Claims{UserUID: "user123abc", Nickname: "mina", ProfileImage: "https://img.example/p.png"})
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	claims, err := mgr.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.UserUID != "user123abc" {
		t.Fatalf("unexpected uid %s", claims.UserUID)
	}
	if claims.Nickname != "mina" {
		t.Fatalf("unexpected nickname %s", claims.Nickname)
	}
	if claims.ProfileImage != "https://img.example/p.png" {
		t.Fatalf("unexpected profile image %s", claims.ProfileImage)
	}
	if claims.ExpiresAt <= time.Now().Unix() {
		t.Fatalf("expected future expiry, got %d", claims.ExpiresAt)
	}
}

func TestExpiredToken(t *testing.T) {
	mgr := NewManager("secret", time.Hour)
	token, err := mgr.IssueToken(Claims{UserUID: "user123abc", ExpiresAt: time.Now().Add(-time.Minute).Unix()})
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if _, err := mgr.ValidateToken(token); err == nil {
		t.Fatalf("expected expiration error")
	}
}

func TestTamperedToken(t *testing.T) {
	mgr := NewManager("secret", time.Hour)
	token, err := mgr.IssueToken(Claims{UserUID: "user123abc"})
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	parts := strings.SplitN(token, ".", 2)
	forged := parts[0] + "x." + parts[1]
	if _, err := mgr.ValidateToken(forged); err == nil {
		t.Fatalf("expected signature error")
	}
}

func TestTokenFromDifferentSecret(t *testing.T) {
	issuer := NewManager("secret-a", time.Hour)
	verifier := NewManager("secret-b", time.Hour)
	token, err := issuer.IssueToken(Claims{UserUID: "user123abc"})
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if _, err := verifier.ValidateToken(token); err == nil {
		t.Fatalf("expected signature mismatch across secrets")
	}
}

func TestIssueTokenRequiresSubject(t *testing.T) {
	mgr := NewManager("secret", time.Hour)
	if _, err := mgr.IssueToken(Claims{}); err == nil {
		t.Fatalf("expected error for empty uid")
	}
}
