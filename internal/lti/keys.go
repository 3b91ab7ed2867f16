// internal/lti/keys.go
package lti

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"sync"

	"github.com/golang-jwt/jwt/v5"
)

/*
KeyManager owns the tool's RSA signing key.

  • Loads a PEM private key from configuration (inline value or file path)
    and derives the public key unless one is configured separately.
  • Exposes the public key as a JWKS document (RFC 7517/7518) so platforms
    can verify our deep-linking responses and AGS client assertions.
  • Signs outgoing JWTs with RS256 and a stable kid.
  • Refresh re-reads the sources and atomically swaps the whole KeySet, so
    hot rotation never exposes a half-updated key.

The kid is operator-supplied or derived deterministically by hashing the
public modulus: the same key always yields the same kid, which platforms
need to match JWKS entries across launches.
*/

// KeyConfig names the key sources. Inline PEM wins over a file path.
type KeyConfig struct {
	PrivatePEM  string
	PrivatePath string
	PublicPEM   string
	PublicPath  string
	KeyID       string
}

// KeySet is immutable once loaded; Refresh swaps the whole value.
type KeySet struct {
	Private *rsa.PrivateKey
	Public  *rsa.PublicKey
	KeyID   string
}

// JWK is a single RSA verification key in JWKS form.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKS is { "keys": [ ... ] }.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

type KeyManager struct {
	cfg KeyConfig

	mu  sync.RWMutex
	cur *KeySet
}

// NewKeyManager loads the configured key immediately; a missing or
// malformed key is a ConfigurationError.
func NewKeyManager(cfg KeyConfig) (*KeyManager, error) {
	km := &KeyManager{cfg: cfg}
	ks, err := km.load()
	if err != nil {
		return nil, err
	}
	km.cur = ks
	return km, nil
}

func (km *KeyManager) load() (*KeySet, error) {
	pemBytes, err := readSource(km.cfg.PrivatePEM, km.cfg.PrivatePath)
	if err != nil {
		return nil, configErr("private key source", err)
	}
	if len(pemBytes) == 0 {
		return nil, configErr("no private key configured (set inline PEM or file path)", nil)
	}
	priv, err := parseRSAPrivatePEM(pemBytes)
	if err != nil {
		return nil, configErr("parse private key PEM", err)
	}

	pub := &priv.PublicKey
	if km.cfg.PublicPEM != "" || km.cfg.PublicPath != "" {
		pubBytes, err := readSource(km.cfg.PublicPEM, km.cfg.PublicPath)
		if err != nil {
			return nil, configErr("public key source", err)
		}
		pub, err = parseRSAPublicPEM(pubBytes)
		if err != nil {
			return nil, configErr("parse public key PEM", err)
		}
	}

	kid := km.cfg.KeyID
	if kid == "" {
		kid = deriveKID(pub)
	}
	return &KeySet{Private: priv, Public: pub, KeyID: kid}, nil
}

// Refresh re-reads the key sources and atomically replaces the held KeySet.
func (km *KeyManager) Refresh() error {
	ks, err := km.load()
	if err != nil {
		return err
	}
	km.mu.Lock()
	km.cur = ks
	km.mu.Unlock()
	return nil
}

func (km *KeyManager) keySet() *KeySet {
	km.mu.RLock()
	defer km.mu.RUnlock()
	return km.cur
}

// KeyID returns the stable identifier of the active key.
func (km *KeyManager) KeyID() string { return km.keySet().KeyID }

// PublicKey returns the active verification key.
func (km *KeyManager) PublicKey() *rsa.PublicKey { return km.keySet().Public }

// JWKSDocument returns the public key set with n/e base64url-encoded
// without padding, per RFC 7518.
func (km *KeyManager) JWKSDocument() JWKS {
	ks := km.keySet()
	return JWKS{Keys: []JWK{{
		Kty: "RSA",
		Use: "sig",
		Alg: "RS256",
		Kid: ks.KeyID,
		N:   bigIntToB64(ks.Public.N),
		E:   intToB64(ks.Public.E),
	}}}
}

// Sign RS256-signs the claim set. Extra headers (beyond alg/typ/kid) may be
// supplied; used for AGS client assertions and deep-link responses.
func (km *KeyManager) Sign(claims jwt.MapClaims, headers map[string]any) (string, error) {
	ks := km.keySet()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = ks.KeyID
	for k, v := range headers {
		tok.Header[k] = v
	}
	signed, err := tok.SignedString(ks.Private)
	if err != nil {
		return "", fmt.Errorf("lti: sign jwt: %w", err)
	}
	return signed, nil
}

/* ------------------------------ PEM parsing -------------------------------- */

func readSource(inline, path string) ([]byte, error) {
	if inline != "" {
		return []byte(inline), nil
	}
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func parseRSAPrivatePEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	if k, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return k, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rk, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA private key: %T", key)
	}
	return rk, nil
}

func parseRSAPublicPEM(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	if k, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return k, nil
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rk, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA public key: %T", key)
	}
	return rk, nil
}

/* ------------------------------ kid + JWK enc ------------------------------ */

// deriveKID hashes the public modulus and exponent; no random suffix so the
// same key always maps to the same kid.
func deriveKID(pub *rsa.PublicKey) string {
	h := sha256.New()
	h.Write(pub.N.Bytes())
	h.Write([]byte{byte(pub.E >> 24), byte(pub.E >> 16), byte(pub.E >> 8), byte(pub.E)})
	sum := h.Sum(nil)
	return "rsa-" + hex.EncodeToString(sum[:10])
}

func b64url(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

func bigIntToB64(n *big.Int) string {
	if n == nil {
		return ""
	}
	return b64url(n.FillBytes(make([]byte, (n.BitLen()+7)/8)))
}

func intToB64(e int) string {
	return b64url(big.NewInt(int64(e)).FillBytes(make([]byte, intByteLen(e))))
}

func intByteLen(v int) int {
	switch {
	case v <= 0xff:
		return 1
	case v <= 0xffff:
		return 2
	case v <= 0xffffff:
		return 3
	default:
		return 4
	}
}
