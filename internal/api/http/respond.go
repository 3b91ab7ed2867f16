// internal/api/http/respond.go
package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mind-engage/lti-tool/internal/lti"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errResp struct {
	Error string `json:"error"`
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errResp{Error: msg})
}

// writeLTIError maps the core error taxonomy onto HTTP statuses:
// LoginError/ScoreError 400, AuthorizationError 403, anything else 500.
func writeLTIError(w http.ResponseWriter, err error) {
	var le *lti.LoginError
	if errors.As(err, &le) {
		writeErr(w, http.StatusBadRequest, le.Error())
		return
	}
	var se *lti.ScoreError
	if errors.As(err, &se) {
		writeErr(w, http.StatusBadRequest, se.Error())
		return
	}
	var ae *lti.AuthorizationError
	if errors.As(err, &ae) {
		writeErr(w, http.StatusForbidden, ae.Error())
		return
	}
	writeErr(w, http.StatusInternalServerError, err.Error())
}
