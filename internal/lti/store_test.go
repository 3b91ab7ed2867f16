package lti_test

import (
	"testing"
	"time"

	"github.com/mind-engage/lti-tool/internal/lti"
)

func TestLoginStateOneShotConsume(t *testing.T) {
	store := lti.NewLoginStateStore(time.Minute)
	state := store.Create(lti.LoginState{Issuer: "https://moodle.test", Nonce: "n1"})
	if state == "" {
		t.Fatal("empty state token")
	}

	got, ok := store.Consume(state)
	if !ok {
		t.Fatal("first consume failed")
	}
	if got.Issuer != "https://moodle.test" || got.Nonce != "n1" {
		t.Fatalf("wrong record: %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Fatal("CreatedAt not set")
	}

	if _, ok := store.Consume(state); ok {
		t.Fatal("state consumed twice")
	}
}

func TestLoginStateUnknownToken(t *testing.T) {
	store := lti.NewLoginStateStore(time.Minute)
	if _, ok := store.Consume("no-such-token"); ok {
		t.Fatal("unknown token consumed")
	}
}

func TestLoginStateExpiryEnforcedAtConsume(t *testing.T) {
	store := lti.NewLoginStateStore(50 * time.Millisecond)
	state := store.Create(lti.LoginState{Nonce: "n1"})

	time.Sleep(120 * time.Millisecond)
	if _, ok := store.Consume(state); ok {
		t.Fatal("expired state consumed")
	}
}

func TestLoginStateTokensAreUnique(t *testing.T) {
	store := lti.NewLoginStateStore(time.Minute)
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		tok := store.Create(lti.LoginState{})
		if seen[tok] {
			t.Fatalf("duplicate token after %d creates", i)
		}
		seen[tok] = true
	}
}

func TestSessionSlidingExpiration(t *testing.T) {
	store := lti.NewSessionStore(300 * time.Millisecond)
	sess := store.Create(lti.Session{Subject: "user-1"})
	if sess.ID == "" || sess.ExpiresAt.IsZero() {
		t.Fatalf("incomplete session: %+v", sess)
	}

	// Each Get inside the window extends the deadline by the full TTL, so
	// the session outlives its original expiry as long as it stays active.
	for i := 0; i < 3; i++ {
		time.Sleep(150 * time.Millisecond)
		got, ok := store.Get(sess.ID)
		if !ok {
			t.Fatalf("session lost on access %d", i)
		}
		if got.Subject != "user-1" {
			t.Fatalf("wrong session: %+v", got)
		}
	}

	// Idle past the TTL, the session is gone for good.
	time.Sleep(400 * time.Millisecond)
	if _, ok := store.Get(sess.ID); ok {
		t.Fatal("idle session survived past TTL")
	}
	if _, ok := store.Get(sess.ID); ok {
		t.Fatal("expired session came back")
	}
}

func TestSessionGetReportsExtendedDeadline(t *testing.T) {
	store := lti.NewSessionStore(time.Minute)
	sess := store.Create(lti.Session{Subject: "user-1"})

	time.Sleep(20 * time.Millisecond)
	got, ok := store.Get(sess.ID)
	if !ok {
		t.Fatal("session missing")
	}
	if !got.ExpiresAt.After(sess.ExpiresAt) {
		t.Fatalf("deadline not extended: %v then %v", sess.ExpiresAt, got.ExpiresAt)
	}
}

func TestSessionDelete(t *testing.T) {
	store := lti.NewSessionStore(time.Minute)
	sess := store.Create(lti.Session{Subject: "user-1"})
	store.Delete(sess.ID)
	if _, ok := store.Get(sess.ID); ok {
		t.Fatal("deleted session still present")
	}
}

func TestDeepLinkOneShotConsume(t *testing.T) {
	store := lti.NewDeepLinkStore(time.Minute)
	dc := store.Create(lti.DeepLinkContext{
		Issuer:    "https://moodle.test",
		ReturnURL: "https://moodle.test/return",
	})
	if dc.RequestID == "" {
		t.Fatal("no request id assigned")
	}

	got, ok := store.Consume(dc.RequestID)
	if !ok || got.ReturnURL != "https://moodle.test/return" {
		t.Fatalf("consume: ok=%v got=%+v", ok, got)
	}
	if _, ok := store.Consume(dc.RequestID); ok {
		t.Fatal("deep-link context consumed twice")
	}
}

func TestDeepLinkExpiry(t *testing.T) {
	store := lti.NewDeepLinkStore(50 * time.Millisecond)
	dc := store.Create(lti.DeepLinkContext{ReturnURL: "https://moodle.test/return"})

	time.Sleep(120 * time.Millisecond)
	if _, ok := store.Consume(dc.RequestID); ok {
		t.Fatal("expired context consumed")
	}
}

func TestStoreDefaultTTLs(t *testing.T) {
	// Zero or negative TTLs fall back to the defaults rather than making
	// records immortal or instantly dead.
	logins := lti.NewLoginStateStore(0)
	state := logins.Create(lti.LoginState{})
	if _, ok := logins.Consume(state); !ok {
		t.Fatal("record under default TTL not retrievable")
	}

	sessions := lti.NewSessionStore(-1)
	if sessions.TTL() != lti.DefaultSessionTTL {
		t.Fatalf("session TTL = %v, want default", sessions.TTL())
	}
}
