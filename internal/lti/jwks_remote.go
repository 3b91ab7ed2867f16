// internal/lti/jwks_remote.go
package lti

import (
	"context"
	"crypto/rsa"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// maxJWKSBytes bounds the JWKS response body read.
const maxJWKSBytes = 1 << 20

// RemoteJWKS fetches a platform's published key set and resolves the RSA
// verification key for a launch. Every failure here is a LoginError: an
// unparseable key must fail loudly, never fall back to opaque verification
// failures later.
type RemoteJWKS struct {
	HTTP *http.Client
}

func NewRemoteJWKS() *RemoteJWKS {
	return &RemoteJWKS{HTTP: &http.Client{Timeout: 10 * time.Second}}
}

// SigningKey fetches jwksURI and returns the RSA public key matching kid,
// or the first RSA key when kid is empty.
func (f *RemoteJWKS) SigningKey(ctx context.Context, jwksURI, kid string) (*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURI, nil)
	if err != nil {
		return nil, loginErr("", "", "build jwks request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient().Do(req)
	if err != nil {
		return nil, loginErr("", "", "fetch platform jwks", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, loginErr("", "", fmt.Sprintf("platform jwks returned %s", resp.Status), nil)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSBytes))
	if err != nil {
		return nil, loginErr("", "", "read platform jwks", err)
	}

	set, err := jwk.Parse(body)
	if err != nil {
		return nil, loginErr("", "", "unparseable signing key set", err)
	}

	key, err := pickRSAKey(set, kid)
	if err != nil {
		return nil, err
	}
	var pub rsa.PublicKey
	if err := key.Raw(&pub); err != nil {
		return nil, loginErr("", "", "unparseable signing key", err)
	}
	return &pub, nil
}

func pickRSAKey(set jwk.Set, kid string) (jwk.Key, error) {
	if kid != "" {
		key, ok := set.LookupKeyID(kid)
		if !ok {
			return nil, loginErr("", "", fmt.Sprintf("no key with kid %q in platform jwks", kid), nil)
		}
		if key.KeyType() != jwa.RSA {
			return nil, loginErr("", "", fmt.Sprintf("key %q is not RSA", kid), nil)
		}
		return key, nil
	}
	for i := 0; i < set.Len(); i++ {
		key, ok := set.Key(i)
		if ok && key.KeyType() == jwa.RSA {
			return key, nil
		}
	}
	return nil, loginErr("", "", "no RSA keys in platform jwks", nil)
}

func (f *RemoteJWKS) httpClient() *http.Client {
	if f.HTTP != nil {
		return f.HTTP
	}
	return &http.Client{Timeout: 10 * time.Second}
}
