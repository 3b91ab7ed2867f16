// internal/api/http/lti_handlers.go
package http

import (
	"context"
	"html/template"
	"net/http"
	"time"

	"github.com/mind-engage/lti-tool/internal/lti"
)

/*
LTI edge handlers.

  GET|POST /lti/login            — OIDC login initiation from the platform;
                                   302 to the platform's authorization endpoint.
  POST     /lti/launch           — form_post callback with id_token + state;
                                   resource links get a session cookie and an
                                   auto-redirect page, deep-linking requests
                                   get the selection form.
  POST     /lti/deep-link/submit — selection form post; answers the platform
                                   with an auto-submitting JWT page.
*/

// CookieConfig controls the launch session cookie.
type CookieConfig struct {
	Name     string
	Secure   bool
	SameSite http.SameSite
	Domain   string
}

// Activity is one piece of content the tool offers for deep linking.
type Activity struct {
	ID    string
	Title string
	URL   string
}

// ActivityCatalog supplies the content items offered on the selection page.
type ActivityCatalog interface {
	Activities(ctx context.Context) []Activity
}

// StaticCatalog is a fixed catalog (configuration-driven deployments).
type StaticCatalog []Activity

func (c StaticCatalog) Activities(context.Context) []Activity { return c }

// LoginHandler accepts the platform's third-party-initiated login.
func LoginHandler(svc *lti.LaunchService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeErr(w, http.StatusBadRequest, "bad form")
			return
		}
		redirect, _, err := svc.BuildLoginRedirect(
			r.Form.Get("iss"),
			r.Form.Get("client_id"),
			r.Form.Get("login_hint"),
			r.Form.Get("lti_message_hint"),
			r.Form.Get("target_link_uri"),
			r.Form.Get("lti_deployment_id"),
		)
		if err != nil {
			writeLTIError(w, err)
			return
		}
		http.Redirect(w, r, redirect, http.StatusFound)
	}
}

// LaunchHandler receives the id_token form_post and finishes the launch.
func LaunchHandler(svc *lti.LaunchService, cookies CookieConfig, appURL string, catalog ActivityCatalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeErr(w, http.StatusBadRequest, "bad form")
			return
		}
		idToken := r.PostFormValue("id_token")
		state := r.PostFormValue("state")
		if idToken == "" || state == "" {
			writeErr(w, http.StatusBadRequest, "missing id_token or state")
			return
		}

		claims, platform, err := svc.DecodeLaunch(r.Context(), idToken, state)
		if err != nil {
			writeLTIError(w, err)
			return
		}

		if claims.MessageType() == lti.MessageTypeDeepLinkRequest {
			dc, err := svc.CreateDeepLinkContext(claims, platform)
			if err != nil {
				writeLTIError(w, err)
				return
			}
			renderSelectPage(w, dc, catalog.Activities(r.Context()))
			return
		}

		sess, err := svc.CreateSessionFromClaims(claims, platform)
		if err != nil {
			writeLTIError(w, err)
			return
		}
		http.SetCookie(w, &http.Cookie{
			Name:     cookies.Name,
			Value:    sess.ID,
			Path:     "/",
			Domain:   cookies.Domain,
			MaxAge:   int(time.Until(sess.ExpiresAt).Seconds()),
			HttpOnly: true,
			Secure:   cookies.Secure,
			SameSite: cookies.SameSite,
		})
		renderLaunchPage(w, appURL)
	}
}

// DeepLinkSubmitHandler consumes the pending context and sends the signed
// response back to the platform via an auto-submitting form.
func DeepLinkSubmitHandler(svc *lti.LaunchService, catalog ActivityCatalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeErr(w, http.StatusBadRequest, "bad form")
			return
		}
		dc, ok := svc.ConsumeDeepLinkContext(r.PostFormValue("deep_link_id"))
		if !ok {
			writeErr(w, http.StatusBadRequest, "deep link request expired or unknown")
			return
		}

		var items []lti.ContentItem
		if r.PostFormValue("submit_action") != "cancel" {
			byID := map[string]Activity{}
			for _, a := range catalog.Activities(r.Context()) {
				byID[a.ID] = a
			}
			for _, id := range r.PostForm["activity"] {
				a, ok := byID[id]
				if !ok {
					continue
				}
				items = append(items, lti.ContentItem{
					Type:  "ltiResourceLink",
					Title: a.Title,
					URL:   a.URL,
				})
				if !dc.AcceptMultiple {
					break
				}
			}
		}

		signed, err := svc.GenerateDeepLinkResponse(dc, items)
		if err != nil {
			writeLTIError(w, err)
			return
		}
		renderAutoPostPage(w, dc.ReturnURL, signed)
	}
}

/* ------------------------------ HTML pages --------------------------------- */

var launchPageTmpl = template.Must(template.New("launch").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>Launching…</title></head>
<body onload="document.location.replace({{.AppURL}});">
<p>Launching… <a href="{{.AppURL}}">Continue</a></p>
</body></html>`))

var selectPageTmpl = template.Must(template.New("select").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>Select content</title></head>
<body>
<h1>Select content</h1>
<form method="post" action="/lti/deep-link/submit">
<input type="hidden" name="deep_link_id" value="{{.RequestID}}">
{{range .Activities}}<label><input type="{{$.InputType}}" name="activity" value="{{.ID}}"> {{.Title}}</label><br>
{{end}}<button type="submit" name="submit_action" value="submit">Add</button>
<button type="submit" name="submit_action" value="cancel">Cancel</button>
</form>
</body></html>`))

var autoPostTmpl = template.Must(template.New("autopost").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>Returning…</title></head>
<body onload="document.forms[0].submit();">
<form method="post" action="{{.Action}}">
<input type="hidden" name="JWT" value="{{.JWT}}">
<noscript><button type="submit">Continue</button></noscript>
</form>
</body></html>`))

func renderLaunchPage(w http.ResponseWriter, appURL string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = launchPageTmpl.Execute(w, struct{ AppURL string }{AppURL: appURL})
}

func renderSelectPage(w http.ResponseWriter, dc lti.DeepLinkContext, activities []Activity) {
	inputType := "radio"
	if dc.AcceptMultiple {
		inputType = "checkbox"
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = selectPageTmpl.Execute(w, struct {
		RequestID  string
		Activities []Activity
		InputType  string
	}{RequestID: dc.RequestID, Activities: activities, InputType: inputType})
}

func renderAutoPostPage(w http.ResponseWriter, action, jwt string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = autoPostTmpl.Execute(w, struct{ Action, JWT string }{Action: action, JWT: jwt})
}
