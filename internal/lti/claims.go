// internal/lti/claims.go
package lti

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// LTI claim URIs and message types used by this core.
const (
	MessageTypeResourceLink    = "LtiResourceLinkRequest"
	MessageTypeDeepLinkRequest = "LtiDeepLinkingRequest"
	MessageTypeDeepLinkReply   = "LtiDeepLinkingResponse"

	ClaimMessageType      = "https://purl.imsglobal.org/spec/lti/claim/message_type"
	ClaimVersion          = "https://purl.imsglobal.org/spec/lti/claim/version"
	ClaimDeploymentID     = "https://purl.imsglobal.org/spec/lti/claim/deployment_id"
	ClaimTargetLinkURI    = "https://purl.imsglobal.org/spec/lti/claim/target_link_uri"
	ClaimRoles            = "https://purl.imsglobal.org/spec/lti/claim/roles"
	ClaimContext          = "https://purl.imsglobal.org/spec/lti/claim/context"
	ClaimResourceLink     = "https://purl.imsglobal.org/spec/lti/claim/resource_link"
	ClaimAGSEndpoint      = "https://purl.imsglobal.org/spec/lti-ags/claim/endpoint"
	ClaimDeepLinkSettings = "https://purl.imsglobal.org/spec/lti-dl/claim/deep_linking_settings"
	ClaimContentItems     = "https://purl.imsglobal.org/spec/lti-dl/claim/content_items"
	ClaimData             = "https://purl.imsglobal.org/spec/lti-dl/claim/data"

	ScopeLineItem         = "https://purl.imsglobal.org/spec/lti-ags/scope/lineitem"
	ScopeLineItemReadonly = "https://purl.imsglobal.org/spec/lti-ags/scope/lineitem.readonly"
	ScopeScore            = "https://purl.imsglobal.org/spec/lti-ags/scope/score"
	ScopeResultReadonly   = "https://purl.imsglobal.org/spec/lti-ags/scope/result.readonly"
)

// LaunchClaims is a typed envelope over a verified id_token claim set.
// Named accessors cover the claims this core uses; Get is the escape hatch
// for anything else.
type LaunchClaims struct {
	raw jwt.MapClaims
}

func NewLaunchClaims(m jwt.MapClaims) LaunchClaims {
	if m == nil {
		m = jwt.MapClaims{}
	}
	return LaunchClaims{raw: m}
}

// Get returns an unrecognized claim by key.
func (c LaunchClaims) Get(key string) any { return c.raw[key] }

func (c LaunchClaims) Issuer() string  { return asString(c.raw["iss"]) }
func (c LaunchClaims) Subject() string { return asString(c.raw["sub"]) }
func (c LaunchClaims) Nonce() string   { return asString(c.raw["nonce"]) }

func (c LaunchClaims) MessageType() string  { return asString(c.raw[ClaimMessageType]) }
func (c LaunchClaims) DeploymentID() string { return asString(c.raw[ClaimDeploymentID]) }

// Name prefers the full-name claim, then given_name.
func (c LaunchClaims) Name() string {
	if n := asString(c.raw["name"]); n != "" {
		return n
	}
	return asString(c.raw["given_name"])
}

func (c LaunchClaims) Email() string { return asString(c.raw["email"]) }

// Roles coerces the roles claim to a list; a bare string becomes a
// single-element list.
func (c LaunchClaims) Roles() []string { return toStringList(c.raw[ClaimRoles]) }

// Context returns the course/org claim bag, defaulted to empty.
func (c LaunchClaims) Context() map[string]any {
	if m, ok := c.raw[ClaimContext].(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// AGSEndpoint carries the line-item URL and granted scopes from the launch.
// Scopes keeps the raw entries: platforms send either a list or a single
// space-delimited string.
type AGSEndpoint struct {
	LineItem  string   `json:"lineitem,omitempty"`
	LineItems string   `json:"lineitems,omitempty"`
	Scopes    []string `json:"scope,omitempty"`
}

// HasScope matches against list-form and space-joined string-form entries.
func (e *AGSEndpoint) HasScope(want string) bool {
	if e == nil {
		return false
	}
	for _, entry := range e.Scopes {
		for _, s := range strings.Fields(entry) {
			if s == want {
				return true
			}
		}
	}
	return false
}

// AGSEndpoint parses the AGS endpoint claim. Malformed shapes are treated
// as absent (nil) rather than erroring, since AGS is optional.
func (c LaunchClaims) AGSEndpoint() *AGSEndpoint {
	m, ok := c.raw[ClaimAGSEndpoint].(map[string]any)
	if !ok {
		return nil
	}
	ep := &AGSEndpoint{
		LineItem:  asString(m["lineitem"]),
		LineItems: asString(m["lineitems"]),
		Scopes:    toStringList(m["scope"]),
	}
	if ep.LineItem == "" && ep.LineItems == "" && len(ep.Scopes) == 0 {
		return nil
	}
	return ep
}

// DeepLinkSettings is the deep-linking settings claim. Settings keeps the
// full bag (title/text hints etc.) for the selection UI.
type DeepLinkSettings struct {
	ReturnURL      string
	Data           string
	AcceptMultiple bool
	AcceptTypes    []string
	Title          string
	Text           string
	Settings       map[string]any
}

// DeepLinkSettings returns nil when the claim is absent or not an object.
func (c LaunchClaims) DeepLinkSettings() *DeepLinkSettings {
	m, ok := c.raw[ClaimDeepLinkSettings].(map[string]any)
	if !ok {
		return nil
	}
	return &DeepLinkSettings{
		ReturnURL:      asString(m["deep_link_return_url"]),
		Data:           asString(m["data"]),
		AcceptMultiple: toBool(m["accept_multiple"]),
		AcceptTypes:    toStringList(m["accept_types"]),
		Title:          asString(m["title"]),
		Text:           asString(m["text"]),
		Settings:       m,
	}
}

/* --------------------------- claim coercions ------------------------------- */

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	}
	return ""
}

func toStringList(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []string:
		return append([]string(nil), t...)
	case []any:
		out := make([]string, 0, len(t))
		for _, el := range t {
			if s := asString(el); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func toBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t == "true" || t == "1"
	case float64:
		return t != 0
	}
	return false
}
