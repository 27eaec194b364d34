package security

import (
	"testing"
	"time"
)

func TestTokenProvider_IssueAndValidateAccess(t *testing.T) {
	p, err := NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	access, jti, exp, err := p.IssueAccess("s1", "u1")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if access == "" || jti == "" {
		t.Fatal("access token or jti empty")
	}
	if exp.Before(time.Now()) {
		t.Fatal("expires at in the past")
	}
	sid, uid, err := p.ValidateAccess(access)
	if err != nil {
		t.Fatalf("ValidateAccess: %v", err)
	}
	if sid != "s1" || uid != "u1" {
		t.Errorf("ValidateAccess: got sessionID=%q userID=%q", sid, uid)
	}
}

func TestTokenProvider_IssueAndValidatePendingLogin(t *testing.T) {
	p, err := NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	tok, exp, err := p.IssuePendingLogin("u1")
	if err != nil {
		t.Fatalf("IssuePendingLogin: %v", err)
	}
	if !exp.After(time.Now()) {
		t.Fatal("pending login token already expired")
	}
	uid, err := p.ValidatePendingLogin(tok)
	if err != nil {
		t.Fatalf("ValidatePendingLogin: %v", err)
	}
	if uid != "u1" {
		t.Errorf("userID = %q, want u1", uid)
	}
}

func TestTokenProvider_TypesAreNotInterchangeable(t *testing.T) {
	p, err := NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	access, _, _, _ := p.IssueAccess("s1", "u1")
	pending, _, _ := p.IssuePendingLogin("u1")

	if _, err := p.ValidatePendingLogin(access); err != ErrInvalidToken {
		t.Errorf("access token accepted as pending login: %v", err)
	}
	if _, _, err := p.ValidateAccess(pending); err != ErrInvalidToken {
		t.Errorf("pending login token accepted as access token: %v", err)
	}
}

func TestTokenProvider_Expired(t *testing.T) {
	p, err := NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	issuedAt := time.Now().UTC().Add(-time.Hour)
	p.nowF = func() time.Time { return issuedAt }
	tok, _, err := p.IssuePendingLogin("u1")
	if err != nil {
		t.Fatalf("IssuePendingLogin: %v", err)
	}
	p.nowF = func() time.Time { return time.Now().UTC() }
	if _, err := p.ValidatePendingLogin(tok); err != ErrInvalidToken {
		t.Errorf("expired token: want ErrInvalidToken, got %v", err)
	}
}

func TestTokenProvider_WrongAudience(t *testing.T) {
	p, err := NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	tok, _, _, _ := p.IssueAccess("s1", "u1")
	other := *p
	other.audience = "someone-else"
	if _, _, err := other.ValidateAccess(tok); err != ErrInvalidToken {
		t.Errorf("wrong audience: want ErrInvalidToken, got %v", err)
	}
}

func TestTokenProvider_ValidateInvalid(t *testing.T) {
	p, err := NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	if _, _, err := p.ValidateAccess("invalid-token"); err != ErrInvalidToken {
		t.Errorf("ValidateAccess invalid token: want ErrInvalidToken, got %v", err)
	}
	if _, err := p.ValidatePendingLogin(""); err != ErrInvalidToken {
		t.Errorf("ValidatePendingLogin empty token: want ErrInvalidToken, got %v", err)
	}
}
