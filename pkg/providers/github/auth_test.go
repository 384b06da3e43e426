package github

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

func testKey(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	return key, string(pem.EncodeToMemory(block))
}

// TestAppJWTClaims checks the app JWT is RS256 signed with the app id as issuer.
func TestAppJWTClaims(t *testing.T) {
	key, pemKey := testKey(t)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	auth := newAppAuthenticator(AppConfig{AppID: 4242, PrivateKey: pemKey})
	auth.now = func() time.Time { return fixed }

	signed, err := auth.jwt()
	if err != nil {
		t.Fatalf("jwt: %v", err)
	}

	claims := &jwt.RegisteredClaims{}
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	token, err := parser.ParseWithClaims(signed, claims, func(token *jwt.Token) (interface{}, error) {
		return &key.PublicKey, nil
	})
	if err != nil || !token.Valid {
		t.Fatalf("parse: %v", err)
	}
	if token.Method.Alg() != "RS256" {
		t.Fatalf("expected RS256, got %s", token.Method.Alg())
	}
	if claims.Issuer != "4242" {
		t.Fatalf("expected issuer 4242, got %q", claims.Issuer)
	}
	if !claims.IssuedAt.Time.Equal(fixed.Add(-30 * time.Second)) {
		t.Fatalf("unexpected iat %v", claims.IssuedAt.Time)
	}
	if !claims.ExpiresAt.Time.Equal(fixed.Add(9 * time.Minute)) {
		t.Fatalf("unexpected exp %v", claims.ExpiresAt.Time)
	}
}

// TestAppPrivateKeyFromFile loads the key from disk when no inline PEM is set.
func TestAppPrivateKeyFromFile(t *testing.T) {
	_, pemKey := testKey(t)
	path := filepath.Join(t.TempDir(), "app.pem")
	if err := os.WriteFile(path, []byte(pemKey), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	auth := newAppAuthenticator(AppConfig{AppID: 1, PrivateKeyPath: path})
	if _, err := auth.jwt(); err != nil {
		t.Fatalf("jwt: %v", err)
	}
}

func TestAppPrivateKeyInvalid(t *testing.T) {
	auth := newAppAuthenticator(AppConfig{AppID: 1, PrivateKey: "not a key"})
	if _, err := auth.jwt(); err == nil {
		t.Fatalf("expected error for invalid key")
	}
}

func TestAppConfigEnabled(t *testing.T) {
	if (AppConfig{AppID: 1}).Enabled() {
		t.Fatalf("expected app without key to be disabled")
	}
	if !(AppConfig{AppID: 1, PrivateKeyPath: "/tmp/key.pem"}).Enabled() {
		t.Fatalf("expected app with key path to be enabled")
	}
}

func TestNormalizeBaseURL(t *testing.T) {
	if got := normalizeBaseURL(""); got != defaultBaseURL {
		t.Fatalf("expected default base url, got %q", got)
	}
	if got := normalizeBaseURL(" https://ghe.example.com/ "); got != "https://ghe.example.com" {
		t.Fatalf("unexpected base url %q", got)
	}
}
