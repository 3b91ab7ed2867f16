// internal/api/http/session_handlers.go
package http

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/mind-engage/lti-tool/internal/lti"
)

// sessionFromRequest resolves the launch session from the cookie or, for
// non-browser clients, an Authorization: Bearer <session-id> header.
func sessionFromRequest(r *http.Request, sessions *lti.SessionStore, cookieName string) (lti.Session, bool) {
	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		if sess, ok := sessions.Get(c.Value); ok {
			return sess, true
		}
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return sessions.Get(strings.TrimPrefix(auth, "Bearer "))
	}
	return lti.Session{}, false
}

// SessionInfoHandler returns the caller's session as JSON. The app frontend
// uses it to learn who launched and whether grade passback is available.
func SessionInfoHandler(sessions *lti.SessionStore, cookieName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := sessionFromRequest(r, sessions, cookieName)
		if !ok {
			writeErr(w, http.StatusUnauthorized, "no active session")
			return
		}
		writeJSON(w, http.StatusOK, sess)
	}
}

type scoreRequest struct {
	ScoreGiven       float64 `json:"scoreGiven"`
	ScoreMaximum     float64 `json:"scoreMaximum"`
	ActivityProgress string  `json:"activityProgress,omitempty"`
	GradingProgress  string  `json:"gradingProgress,omitempty"`
	Timestamp        string  `json:"timestamp,omitempty"`
	Comment          string  `json:"comment,omitempty"`
}

// ScoreHandler posts a grade back to the launching platform over AGS.
func ScoreHandler(sessions *lti.SessionStore, ags *lti.AGSClient, cookieName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := sessionFromRequest(r, sessions, cookieName)
		if !ok {
			writeErr(w, http.StatusUnauthorized, "no active session")
			return
		}
		var req scoreRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, http.StatusBadRequest, "bad JSON body")
			return
		}
		if req.ScoreMaximum <= 0 {
			writeErr(w, http.StatusBadRequest, "scoreMaximum must be positive")
			return
		}

		result, err := ags.PostScore(r.Context(), sess, lti.Score{
			ScoreGiven:       req.ScoreGiven,
			ScoreMaximum:     req.ScoreMaximum,
			ActivityProgress: req.ActivityProgress,
			GradingProgress:  req.GradingProgress,
			Timestamp:        req.Timestamp,
			Comment:          req.Comment,
		})
		if err != nil {
			writeLTIError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// LogoutHandler drops the session and clears the cookie.
func LogoutHandler(sessions *lti.SessionStore, cookies CookieConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie(cookies.Name); err == nil && c.Value != "" {
			sessions.Delete(c.Value)
		}
		http.SetCookie(w, &http.Cookie{
			Name:     cookies.Name,
			Value:    "",
			Path:     "/",
			Domain:   cookies.Domain,
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   cookies.Secure,
			SameSite: cookies.SameSite,
		})
		w.WriteHeader(http.StatusNoContent)
	}
}
