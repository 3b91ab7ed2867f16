// internal/api/http/jwks_handler.go
package http

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/mind-engage/lti-tool/internal/lti"
)

/*
JWKS endpoint. Platforms fetch the tool's public keys here to verify
deep-linking response JWTs and AGS client assertions.

Served with an ETag and Cache-Control so platform-side caches (and the
periodic re-fetch most LMSes do) stay cheap. Conditional GET and HEAD are
both supported.
*/

const jwksCacheMaxAge = 10 * time.Minute

// JWKSHandler serves /.well-known/jwks.json from the key manager.
func JWKSHandler(km *lti.KeyManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, err := json.Marshal(km.JWKSDocument())
		if err != nil {
			writeErr(w, http.StatusInternalServerError, "jwks marshal error")
			return
		}
		sum := sha256.Sum256(payload)
		etag := `W/"` + base64.RawURLEncoding.EncodeToString(sum[:]) + `"`

		w.Header().Set("Content-Type", "application/jwk-set+json")
		w.Header().Set("Cache-Control", "public, max-age="+strconv.Itoa(int(jwksCacheMaxAge.Seconds())))
		w.Header().Set("ETag", etag)
		w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))

		if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(payload)
	}
}
