// internal/lti/deeplink.go
package lti

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

/*
Deep linking, tool side: a verified LtiDeepLinkingRequest becomes a pending
DeepLinkContext; once the instructor submits a selection, the context is
consumed and the chosen content items go back to the platform as a
tool-signed LtiDeepLinkingResponse JWT.
*/

// ContentItem is one selected item for the deep-linking response.
type ContentItem struct {
	Type     string            `json:"type"`
	Title    string            `json:"title,omitempty"`
	URL      string            `json:"url,omitempty"`
	Text     string            `json:"text,omitempty"`
	Custom   map[string]string `json:"custom,omitempty"`
	LineItem *LineItemHint     `json:"lineItem,omitempty"`
}

// LineItemHint asks the platform to create an AGS line item alongside the
// placement.
type LineItemHint struct {
	Label        string  `json:"label,omitempty"`
	ScoreMaximum float64 `json:"scoreMaximum,omitempty"`
	ResourceID   string  `json:"resourceId,omitempty"`
}

const deepLinkResponseTTL = 5 * 60 // seconds

// CreateDeepLinkContext stores a pending deep-linking request. The settings
// claim must carry a return URL; deployment ids are learned like launches.
func (s *LaunchService) CreateDeepLinkContext(claims LaunchClaims, platform PlatformConfig) (DeepLinkContext, error) {
	settings := claims.DeepLinkSettings()
	if settings == nil || settings.ReturnURL == "" {
		return DeepLinkContext{}, loginErr(platform.Issuer, platform.ClientID, "deep-linking settings missing deep_link_return_url", nil)
	}
	deploymentID := claims.DeploymentID()
	if deploymentID == "" {
		return DeepLinkContext{}, loginErr(platform.Issuer, platform.ClientID, "missing deployment_id", nil)
	}
	if !s.Platforms.AllowsDeployment(platform, deploymentID) {
		var err error
		platform, err = s.Platforms.LearnDeployment(platform.Issuer, platform.ClientID, deploymentID)
		if err != nil {
			return DeepLinkContext{}, err
		}
	}

	dc := s.DeepLinks.Create(DeepLinkContext{
		Issuer:         platform.Issuer,
		ClientID:       platform.ClientID,
		DeploymentID:   deploymentID,
		ReturnURL:      settings.ReturnURL,
		Data:           settings.Data,
		AcceptMultiple: settings.AcceptMultiple,
		Settings:       settings.Settings,
	})
	s.Log.Info().
		Str("issuer", dc.Issuer).
		Str("client_id", dc.ClientID).
		Str("deployment_id", dc.DeploymentID).
		Msg("deep-link context created")
	return dc, nil
}

// ConsumeDeepLinkContext removes and returns a pending context (one-shot).
func (s *LaunchService) ConsumeDeepLinkContext(requestID string) (DeepLinkContext, bool) {
	return s.DeepLinks.Consume(requestID)
}

// GenerateDeepLinkResponse signs an LtiDeepLinkingResponse for the selected
// items: iss is the tool's client id, aud the platform issuer, 5-minute
// expiry, fresh nonce, and the stored data passthrough when present.
func (s *LaunchService) GenerateDeepLinkResponse(dc DeepLinkContext, items []ContentItem) (string, error) {
	if items == nil {
		items = []ContentItem{}
	}
	now := s.now()
	claims := jwt.MapClaims{
		"iss":             dc.ClientID,
		"aud":             dc.Issuer,
		"iat":             now.Unix(),
		"exp":             now.Unix() + deepLinkResponseTTL,
		"nonce":           uuid.NewString(),
		ClaimMessageType:  MessageTypeDeepLinkReply,
		ClaimVersion:      "1.3.0",
		ClaimDeploymentID: dc.DeploymentID,
		ClaimContentItems: items,
	}
	if dc.Data != "" {
		claims[ClaimData] = dc.Data
	}
	return s.Keys.Sign(claims, nil)
}
