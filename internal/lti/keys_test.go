package lti_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mind-engage/lti-tool/internal/lti"
)

func genKeyPEM(t *testing.T) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}))
}

func TestKeyManagerDeterministicKID(t *testing.T) {
	pemStr := genKeyPEM(t)

	km1, err := lti.NewKeyManager(lti.KeyConfig{PrivatePEM: pemStr})
	if err != nil {
		t.Fatalf("new key manager: %v", err)
	}
	km2, err := lti.NewKeyManager(lti.KeyConfig{PrivatePEM: pemStr})
	if err != nil {
		t.Fatalf("new key manager: %v", err)
	}

	if km1.KeyID() == "" || !strings.HasPrefix(km1.KeyID(), "rsa-") {
		t.Fatalf("unexpected kid %q", km1.KeyID())
	}
	if km1.KeyID() != km2.KeyID() {
		t.Fatalf("same key produced different kids: %q vs %q", km1.KeyID(), km2.KeyID())
	}
}

func TestKeyManagerExplicitKID(t *testing.T) {
	km, err := lti.NewKeyManager(lti.KeyConfig{PrivatePEM: genKeyPEM(t), KeyID: "my-key"})
	if err != nil {
		t.Fatalf("new key manager: %v", err)
	}
	if km.KeyID() != "my-key" {
		t.Fatalf("kid = %q, want my-key", km.KeyID())
	}
}

// A token signed by the manager must verify against the public key
// reconstructed from its own JWKS document.
func TestJWKSDocumentVerifiesSignature(t *testing.T) {
	km, err := lti.NewKeyManager(lti.KeyConfig{PrivatePEM: genKeyPEM(t)})
	if err != nil {
		t.Fatalf("new key manager: %v", err)
	}

	signed, err := km.Sign(jwt.MapClaims{"sub": "abc"}, nil)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	doc := km.JWKSDocument()
	if len(doc.Keys) != 1 {
		t.Fatalf("want 1 key, got %d", len(doc.Keys))
	}
	k := doc.Keys[0]
	if k.Kty != "RSA" || k.Alg != "RS256" || k.Use != "sig" || k.Kid != km.KeyID() {
		t.Fatalf("unexpected jwk metadata: %+v", k)
	}

	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		t.Fatalf("decode n: %v", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		t.Fatalf("decode e: %v", err)
	}
	pub := &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}

	tok, err := jwt.Parse(signed, func(t *jwt.Token) (any, error) { return pub, nil },
		jwt.WithValidMethods([]string{"RS256"}))
	if err != nil {
		t.Fatalf("verify with reconstructed key: %v", err)
	}
	if kid, _ := tok.Header["kid"].(string); kid != km.KeyID() {
		t.Fatalf("kid header = %q, want %q", kid, km.KeyID())
	}
}

func TestRefreshRotatesKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "key.pem")
	if err := os.WriteFile(path, []byte(genKeyPEM(t)), 0o600); err != nil {
		t.Fatal(err)
	}

	km, err := lti.NewKeyManager(lti.KeyConfig{PrivatePath: path})
	if err != nil {
		t.Fatalf("new key manager: %v", err)
	}
	oldKID := km.KeyID()

	if err := os.WriteFile(path, []byte(genKeyPEM(t)), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := km.Refresh(); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if km.KeyID() == oldKID {
		t.Fatal("kid unchanged after rotating the key file")
	}
}

func TestMissingKeyIsConfigurationError(t *testing.T) {
	_, err := lti.NewKeyManager(lti.KeyConfig{})
	var ce *lti.ConfigurationError
	if !errors.As(err, &ce) {
		t.Fatalf("want ConfigurationError, got %v", err)
	}
}

func TestMalformedPEMIsConfigurationError(t *testing.T) {
	_, err := lti.NewKeyManager(lti.KeyConfig{PrivatePEM: "not a pem"})
	var ce *lti.ConfigurationError
	if !errors.As(err, &ce) {
		t.Fatalf("want ConfigurationError, got %v", err)
	}
}
