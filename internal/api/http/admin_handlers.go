// internal/api/http/admin_handlers.go
package http

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/mind-engage/lti-tool/internal/lti"
)

/*
Admin API for the platform registry, mounted under /admin:

  GET    /admin/platforms   — list registrations
  PUT    /admin/platforms   — upsert one registration (JSON body)
  DELETE /admin/platforms   — remove by ?issuer=...&client_id=...

Guarded by HTTP basic auth against a bcrypt hash. Registry changes are
mirrored to the persister when one is configured.
*/

// PlatformPersister mirrors registry changes to durable storage.
type PlatformPersister interface {
	Upsert(ctx context.Context, cfg lti.PlatformConfig) error
	Delete(ctx context.Context, issuer, clientID string) error
}

// AdminRoutes builds the registry admin subrouter. persister may be nil.
func AdminRoutes(reg *lti.PlatformRegistry, persister PlatformPersister, user, passHash string) chi.Router {
	r := chi.NewRouter()
	r.Use(basicAuth(user, passHash))

	r.Get("/platforms", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, reg.All())
	})

	r.Put("/platforms", func(w http.ResponseWriter, req *http.Request) {
		var cfg lti.PlatformConfig
		if err := json.NewDecoder(req.Body).Decode(&cfg); err != nil {
			writeErr(w, http.StatusBadRequest, "bad JSON body")
			return
		}
		if err := reg.Register(cfg); err != nil {
			writeErr(w, http.StatusBadRequest, err.Error())
			return
		}
		stored, err := reg.Get(cfg.Issuer, cfg.ClientID, false, "")
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err.Error())
			return
		}
		if persister != nil {
			if err := persister.Upsert(req.Context(), stored); err != nil {
				writeErr(w, http.StatusInternalServerError, "persist failed: "+err.Error())
				return
			}
		}
		writeJSON(w, http.StatusOK, stored)
	})

	r.Delete("/platforms", func(w http.ResponseWriter, req *http.Request) {
		issuer := req.URL.Query().Get("issuer")
		clientID := req.URL.Query().Get("client_id")
		if issuer == "" || clientID == "" {
			writeErr(w, http.StatusBadRequest, "issuer and client_id are required")
			return
		}
		reg.Delete(issuer, clientID)
		if persister != nil {
			if err := persister.Delete(req.Context(), issuer, clientID); err != nil {
				writeErr(w, http.StatusInternalServerError, "persist failed: "+err.Error())
				return
			}
		}
		w.WriteHeader(http.StatusNoContent)
	})

	return r
}

func basicAuth(user, passHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, p, ok := r.BasicAuth()
			if !ok || !verifyAdmin(u, p, user, passHash) {
				w.Header().Set("WWW-Authenticate", `Basic realm="admin"`)
				writeErr(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func verifyAdmin(gotUser, gotPass, wantUser, passHash string) bool {
	if passHash == "" {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(gotUser), []byte(wantUser)) == 1
	passOK := bcrypt.CompareHashAndPassword([]byte(passHash), []byte(gotPass)) == nil
	return userOK && passOK
}
