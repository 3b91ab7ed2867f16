// internal/lti/errors.go
package lti

import (
	"fmt"
	"strings"
)

/*
Error taxonomy for the LTI core.

  • ConfigurationError — fatal at startup (missing/invalid key material or
    malformed platform config). The service must refuse to start rather than
    serve with security disabled.
  • LoginError         — client-correctable launch failures (bad params,
    unknown platform, expired state, verification failure, nonce mismatch).
    Surfaces as 4xx.
  • AuthorizationError — the platform refused to grant an AGS access token.
    Surfaces as 403.
  • ScoreError         — no lineitem, ungranted scope, or the platform
    rejected the score POST. Surfaces as 400.

Messages carry issuer/client_id/status for operator diagnosis but never raw
tokens or key material.
*/

// ConfigurationError is fatal at startup.
type ConfigurationError struct {
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return "lti: configuration: " + e.Reason + ": " + e.Err.Error()
	}
	return "lti: configuration: " + e.Reason
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func configErr(reason string, err error) error {
	return &ConfigurationError{Reason: reason, Err: err}
}

// LoginError rejects an OIDC login or launch.
type LoginError struct {
	Issuer   string
	ClientID string
	Reason   string
	Err      error
}

func (e *LoginError) Error() string {
	var b strings.Builder
	b.WriteString("lti: login rejected: ")
	b.WriteString(e.Reason)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Issuer != "" || e.ClientID != "" {
		fmt.Fprintf(&b, " (issuer=%q client_id=%q)", e.Issuer, e.ClientID)
	}
	return b.String()
}

func (e *LoginError) Unwrap() error { return e.Err }

func loginErr(issuer, clientID, reason string, err error) error {
	return &LoginError{Issuer: issuer, ClientID: clientID, Reason: reason, Err: err}
}

// AuthorizationError reports a refused AGS token grant.
type AuthorizationError struct {
	Issuer   string
	ClientID string
	Status   int
	Body     string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("lti: token endpoint refused grant: status=%d issuer=%q client_id=%q body=%s",
		e.Status, e.Issuer, e.ClientID, truncate(e.Body, 256))
}

// ScoreError reports a failed score submission.
type ScoreError struct {
	Reason string
	Status int
	Body   string
}

func (e *ScoreError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("lti: score rejected: %s: status=%d body=%s", e.Reason, e.Status, truncate(e.Body, 256))
	}
	return "lti: score rejected: " + e.Reason
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
