// internal/lti/store.go
package lti

import (
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

/*
TTL-bound state stores: pending logins, launch sessions, deep-link contexts.

All three are intentionally ephemeral, process-local caches backed by
jellydator/ttlcache. No cleanup goroutines are started: expiry is enforced
at read time, so a record is either present-and-unexpired or absent.

  • LoginStateStore / DeepLinkStore — one-shot: Consume atomically removes
    the record (replay defense), touch-on-hit disabled.
  • SessionStore — sliding expiration: every successful Get extends the
    deadline by the full TTL; an expired record is gone for good.

Tokens carry 256 bits of crypto-random entropy, base64url-encoded. The
cache is the unit of mutual exclusion — each store locks independently so
login, session, and deep-link traffic never serialize on each other.
*/

const (
	DefaultLoginStateTTL = 10 * time.Minute
	DefaultSessionTTL    = 4 * time.Hour
	DefaultDeepLinkTTL   = 10 * time.Minute
)

// newToken returns an unguessable URL-safe token.
func newToken() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

// LoginState is a pending OIDC login, keyed by the opaque state token.
type LoginState struct {
	Issuer         string
	ClientID       string
	Nonce          string
	LoginHint      string
	MessageHint    string
	RedirectURI    string
	TargetLinkURI  string
	DeploymentHint string
	CreatedAt      time.Time
}

type LoginStateStore struct {
	cache *ttlcache.Cache[string, LoginState]
	ttl   time.Duration
}

func NewLoginStateStore(ttl time.Duration) *LoginStateStore {
	if ttl <= 0 {
		ttl = DefaultLoginStateTTL
	}
	return &LoginStateStore{
		cache: ttlcache.New(
			ttlcache.WithTTL[string, LoginState](ttl),
			ttlcache.WithDisableTouchOnHit[string, LoginState](),
		),
		ttl: ttl,
	}
}

// Create stores the pending login and returns its state token.
func (s *LoginStateStore) Create(st LoginState) string {
	st.CreatedAt = time.Now().UTC()
	token := newToken()
	s.cache.Set(token, st, s.ttl)
	return token
}

// Consume removes and returns the record. Absent when unknown, already
// consumed, or expired — even on first call.
func (s *LoginStateStore) Consume(token string) (LoginState, bool) {
	item, present := s.cache.GetAndDelete(token)
	if !present || item == nil || time.Now().After(item.ExpiresAt()) {
		return LoginState{}, false
	}
	return item.Value(), true
}

func (s *LoginStateStore) Len() int { return s.cache.Len() }

// Session is an authenticated launch, created only after full id_token
// verification.
type Session struct {
	ID           string         `json:"-"`
	Issuer       string         `json:"issuer"`
	ClientID     string         `json:"client_id"`
	DeploymentID string         `json:"deployment_id"`
	Subject      string         `json:"subject"`
	Name         string         `json:"name,omitempty"`
	Email        string         `json:"email,omitempty"`
	Roles        []string       `json:"roles"`
	Context      map[string]any `json:"context"`
	AGS          *AGSEndpoint   `json:"ags,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	ExpiresAt    time.Time      `json:"expires_at"`
}

type SessionStore struct {
	cache *ttlcache.Cache[string, Session]
	ttl   time.Duration
}

func NewSessionStore(ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	// Touch-on-hit stays enabled: that is the sliding expiration.
	return &SessionStore{
		cache: ttlcache.New(ttlcache.WithTTL[string, Session](ttl)),
		ttl:   ttl,
	}
}

// TTL reports the configured session lifetime (cookie max-age).
func (s *SessionStore) TTL() time.Duration { return s.ttl }

// Create assigns the session id and deadline and stores the record.
func (s *SessionStore) Create(sess Session) Session {
	now := time.Now().UTC()
	sess.ID = newToken()
	sess.CreatedAt = now
	sess.ExpiresAt = now.Add(s.ttl)
	s.cache.Set(sess.ID, sess, s.ttl)
	return sess
}

// Get returns the session and extends its deadline by the full TTL.
// An expired or unknown id is absent, and stays absent.
func (s *SessionStore) Get(id string) (Session, bool) {
	item := s.cache.Get(id)
	if item == nil {
		return Session{}, false
	}
	sess := item.Value()
	sess.ExpiresAt = item.ExpiresAt()
	return sess, true
}

// Delete invalidates a session (logout).
func (s *SessionStore) Delete(id string) { s.cache.Delete(id) }

func (s *SessionStore) Len() int { return s.cache.Len() }

// DeepLinkContext is a pending deep-linking request awaiting the
// instructor's selection submit. One-time use like LoginState.
type DeepLinkContext struct {
	RequestID      string
	Issuer         string
	ClientID       string
	DeploymentID   string
	ReturnURL      string
	Data           string
	AcceptMultiple bool
	Settings       map[string]any
	CreatedAt      time.Time
}

type DeepLinkStore struct {
	cache *ttlcache.Cache[string, DeepLinkContext]
	ttl   time.Duration
}

func NewDeepLinkStore(ttl time.Duration) *DeepLinkStore {
	if ttl <= 0 {
		ttl = DefaultDeepLinkTTL
	}
	return &DeepLinkStore{
		cache: ttlcache.New(
			ttlcache.WithTTL[string, DeepLinkContext](ttl),
			ttlcache.WithDisableTouchOnHit[string, DeepLinkContext](),
		),
		ttl: ttl,
	}
}

// Create stores the context and returns it with RequestID assigned.
func (s *DeepLinkStore) Create(dc DeepLinkContext) DeepLinkContext {
	dc.RequestID = newToken()
	dc.CreatedAt = time.Now().UTC()
	s.cache.Set(dc.RequestID, dc, s.ttl)
	return dc
}

// Consume removes and returns the context; absent when unknown or expired.
func (s *DeepLinkStore) Consume(requestID string) (DeepLinkContext, bool) {
	item, present := s.cache.GetAndDelete(requestID)
	if !present || item == nil || time.Now().After(item.ExpiresAt()) {
		return DeepLinkContext{}, false
	}
	return item.Value(), true
}

func (s *DeepLinkStore) Len() int { return s.cache.Len() }
