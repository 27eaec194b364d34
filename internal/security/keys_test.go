package security

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadPEM_InlinePEM(t *testing.T) {
	pemBytes, err := LoadPEM(testPrivateKeyPEM)
	if err != nil {
		t.Fatalf("LoadPEM: %v", err)
	}
	if !strings.Contains(string(pemBytes), "-----BEGIN") {
		t.Error("LoadPEM did not return PEM content")
	}
}

func TestLoadPEM_LiteralNewlines(t *testing.T) {
	escaped := strings.ReplaceAll(testPrivateKeyPEM, "\n", `\n`)
	pemBytes, err := LoadPEM(escaped)
	if err != nil {
		t.Fatalf("LoadPEM: %v", err)
	}
	if strings.Contains(string(pemBytes), `\n`) {
		t.Error("literal \\n left in PEM")
	}
	if _, err := ParsePrivateKey(escaped); err != nil {
		t.Errorf("ParsePrivateKey on escaped PEM: %v", err)
	}
}

func TestLoadPEM_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.pem")
	if err := os.WriteFile(path, []byte(testPublicKeyPEM), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	pub, err := ParsePublicKey(path)
	if err != nil {
		t.Fatalf("ParsePublicKey(path): %v", err)
	}
	if KeyAlg(pub) != "RS256" {
		t.Errorf("KeyAlg = %q, want RS256", KeyAlg(pub))
	}
}

func TestLoadPEM_Empty(t *testing.T) {
	if _, err := LoadPEM("   "); err != ErrInvalidKey {
		t.Errorf("LoadPEM empty: want ErrInvalidKey, got %v", err)
	}
}

func TestLoadPEM_MissingFile(t *testing.T) {
	if _, err := LoadPEM(filepath.Join(t.TempDir(), "nope.pem")); err == nil {
		t.Error("LoadPEM should fail for a missing file")
	}
}

func TestParsePrivateKey_NotPEM(t *testing.T) {
	if _, err := ParsePrivateKey("-----BEGIN garbage"); err != ErrInvalidKey {
		t.Errorf("want ErrInvalidKey, got %v", err)
	}
}

func TestParsePublicKey_WrongBlockType(t *testing.T) {
	if _, err := ParsePublicKey(testPrivateKeyPEM); err != ErrInvalidKey {
		t.Errorf("private key parsed as public: want ErrInvalidKey, got %v", err)
	}
}

func TestLoadKeyPair(t *testing.T) {
	priv, pub, err := LoadKeyPair(testPrivateKeyPEM, testPublicKeyPEM)
	if err != nil {
		t.Fatalf("LoadKeyPair: %v", err)
	}
	if priv == nil || pub == nil {
		t.Fatal("LoadKeyPair returned nil key")
	}
	if _, _, err := LoadKeyPair(testPrivateKeyPEM, ""); err == nil {
		t.Error("LoadKeyPair should require the public key")
	}
}

func TestGenerateDevKeyPair_SignsTokens(t *testing.T) {
	priv, pub, err := GenerateDevKeyPair()
	if err != nil {
		t.Fatalf("GenerateDevKeyPair: %v", err)
	}
	if KeyAlg(pub) != "ES256" {
		t.Errorf("KeyAlg = %q, want ES256", KeyAlg(pub))
	}
	p := NewTokenProvider(priv, pub, "iss", "aud", 0, 0)
	p.pendingLoginTTL = time.Minute
	tok, _, err := p.IssuePendingLogin("u1")
	if err != nil {
		t.Fatalf("IssuePendingLogin: %v", err)
	}
	if uid, err := p.ValidatePendingLogin(tok); err != nil || uid != "u1" {
		t.Errorf("ValidatePendingLogin = %q, %v", uid, err)
	}
}

func TestKeyAlg_Unknown(t *testing.T) {
	if KeyAlg("not a key") != "" {
		t.Error("KeyAlg should be empty for unknown key types")
	}
}
