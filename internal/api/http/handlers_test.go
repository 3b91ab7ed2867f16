package http_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	api "github.com/mind-engage/lti-tool/internal/api/http"
	"github.com/mind-engage/lti-tool/internal/lti"
)

func testKeyManager(t *testing.T) *lti.KeyManager {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	pemStr := string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}))
	km, err := lti.NewKeyManager(lti.KeyConfig{PrivatePEM: pemStr})
	if err != nil {
		t.Fatal(err)
	}
	return km
}

/* --------------------------------- JWKS ------------------------------------ */

func TestJWKSHandlerServesKeySet(t *testing.T) {
	h := api.JWKSHandler(testKeyManager(t))

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/jwk-set+json" {
		t.Errorf("content type = %q", ct)
	}
	if !strings.HasPrefix(rec.Header().Get("ETag"), `W/"`) {
		t.Errorf("etag = %q", rec.Header().Get("ETag"))
	}
	var doc lti.JWKS
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("body not a jwks: %v", err)
	}
	if len(doc.Keys) != 1 || doc.Keys[0].Kty != "RSA" {
		t.Fatalf("keys = %+v", doc.Keys)
	}
}

func TestJWKSHandlerConditionalGet(t *testing.T) {
	h := api.JWKSHandler(testKeyManager(t))

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil))
	etag := rec.Header().Get("ETag")

	req := httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil)
	req.Header.Set("If-None-Match", etag)
	rec = httptest.NewRecorder()
	h(rec, req)

	if rec.Code != http.StatusNotModified {
		t.Fatalf("status = %d, want 304", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Fatal("304 must not carry a body")
	}
}

func TestJWKSHandlerHead(t *testing.T) {
	h := api.JWKSHandler(testKeyManager(t))

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodHead, "/.well-known/jwks.json", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Fatal("HEAD must not carry a body")
	}
}

/* --------------------------------- login ----------------------------------- */

func newLoginService(t *testing.T) *lti.LaunchService {
	t.Helper()
	reg := lti.NewPlatformRegistry(zerolog.Nop())
	return &lti.LaunchService{
		Keys:      testKeyManager(t),
		Platforms: reg,
		Logins:    lti.NewLoginStateStore(time.Minute),
		Sessions:  lti.NewSessionStore(time.Minute),
		DeepLinks: lti.NewDeepLinkStore(time.Minute),
		LaunchURL: "https://tool.test/lti/launch",
		Log:       zerolog.Nop(),
	}
}

func TestLoginHandlerRedirects(t *testing.T) {
	h := api.LoginHandler(newLoginService(t))

	form := url.Values{}
	form.Set("iss", "https://moodle.test")
	form.Set("client_id", "client-1")
	form.Set("login_hint", "user-7")
	req := httptest.NewRequest(http.MethodPost, "/lti/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatal(err)
	}
	if loc.Path != "/mod/lti/auth.php" {
		t.Errorf("redirect path = %q", loc.Path)
	}
	if loc.Query().Get("state") == "" || loc.Query().Get("nonce") == "" {
		t.Error("state or nonce missing from redirect")
	}
}

func TestLoginHandlerRejectsMissingIssuer(t *testing.T) {
	h := api.LoginHandler(newLoginService(t))

	req := httptest.NewRequest(http.MethodGet, "/lti/login?client_id=c", nil)
	rec := httptest.NewRecorder()
	h(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["error"] == "" {
		t.Fatalf("error body = %s", rec.Body.String())
	}
}

/* -------------------------------- session ---------------------------------- */

func TestSessionInfoHandler(t *testing.T) {
	sessions := lti.NewSessionStore(time.Minute)
	sess := sessions.Create(lti.Session{Subject: "user-7", Issuer: "https://moodle.test"})
	h := api.SessionInfoHandler(sessions, "lti_session")

	// No credentials.
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/lti/session", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anon status = %d", rec.Code)
	}

	// Cookie.
	req := httptest.NewRequest(http.MethodGet, "/lti/session", nil)
	req.AddCookie(&http.Cookie{Name: "lti_session", Value: sess.ID})
	rec = httptest.NewRecorder()
	h(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("cookie status = %d", rec.Code)
	}
	var got lti.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Subject != "user-7" {
		t.Fatalf("session body = %+v", got)
	}

	// Bearer fallback for non-browser clients.
	req = httptest.NewRequest(http.MethodGet, "/lti/session", nil)
	req.Header.Set("Authorization", "Bearer "+sess.ID)
	rec = httptest.NewRecorder()
	h(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("bearer status = %d", rec.Code)
	}
}

func TestLogoutHandler(t *testing.T) {
	sessions := lti.NewSessionStore(time.Minute)
	sess := sessions.Create(lti.Session{Subject: "user-7"})
	h := api.LogoutHandler(sessions, api.CookieConfig{Name: "lti_session", Secure: true, SameSite: http.SameSiteNoneMode})

	req := httptest.NewRequest(http.MethodPost, "/lti/logout", nil)
	req.AddCookie(&http.Cookie{Name: "lti_session", Value: sess.ID})
	rec := httptest.NewRecorder()
	h(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if _, ok := sessions.Get(sess.ID); ok {
		t.Fatal("session survived logout")
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge >= 0 || cookies[0].Value != "" {
		t.Fatalf("cookie not cleared: %+v", cookies)
	}
}

/* --------------------------------- admin ----------------------------------- */

func TestAdminRoutesAuth(t *testing.T) {
	reg := lti.NewPlatformRegistry(zerolog.Nop())
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(api.AdminRoutes(reg, nil, "admin", string(hash)))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/platforms")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anon status = %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/platforms", nil)
	req.SetBasicAuth("admin", "wrong")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad password status = %d", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/platforms", nil)
	req.SetBasicAuth("admin", "hunter2")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("auth status = %d", resp.StatusCode)
	}
}

func TestAdminPlatformLifecycle(t *testing.T) {
	reg := lti.NewPlatformRegistry(zerolog.Nop())
	hash, _ := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	srv := httptest.NewServer(api.AdminRoutes(reg, nil, "admin", string(hash)))
	defer srv.Close()

	put, _ := http.NewRequest(http.MethodPut, srv.URL+"/platforms",
		strings.NewReader(`{"issuer":"https://moodle.test","client_id":"c","deployment_ids":["dep-1"]}`))
	put.SetBasicAuth("admin", "hunter2")
	resp, err := http.DefaultClient.Do(put)
	if err != nil {
		t.Fatal(err)
	}
	var stored lti.PlatformConfig
	if err := json.NewDecoder(resp.Body).Decode(&stored); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("put status = %d", resp.StatusCode)
	}
	if stored.JWKSURI != "https://moodle.test/mod/lti/certs.php" {
		t.Fatalf("defaults not applied: %+v", stored)
	}

	del, _ := http.NewRequest(http.MethodDelete,
		srv.URL+"/platforms?issuer=https%3A%2F%2Fmoodle.test&client_id=c", nil)
	del.SetBasicAuth("admin", "hunter2")
	resp, err = http.DefaultClient.Do(del)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	if len(reg.All()) != 0 {
		t.Fatal("platform not removed")
	}
}
