// internal/lti/ags.go
package lti

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

/*
AGS (Assignment and Grade Services) client.

Two-legged flow per IMS Security Framework: obtain a Bearer token with
grant_type=client_credentials authenticated by a private_key_jwt assertion
(iss = sub = client_id, aud = token endpoint, fresh jti, 5-minute expiry),
then POST the IMS score payload to {lineitem}/scores.

No call retries internally; a failed remote call surfaces as a typed error
and retry policy belongs to the caller.
*/

const clientAssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

// TokenResponse is the platform's token endpoint reply.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type,omitempty"`
	ExpiresIn   int64  `json:"expires_in,omitempty"`
	Scope       string `json:"scope,omitempty"`
}

// Score is the IMS score payload (per AGS 2.0, trimmed to what we post).
type Score struct {
	UserID           string  `json:"userId"`
	ScoreGiven       float64 `json:"scoreGiven"`
	ScoreMaximum     float64 `json:"scoreMaximum"`
	ActivityProgress string  `json:"activityProgress"`
	GradingProgress  string  `json:"gradingProgress"`
	Timestamp        string  `json:"timestamp"`
	Comment          string  `json:"comment,omitempty"`
}

type AGSClient struct {
	HTTP      *http.Client
	Keys      *KeyManager
	Platforms *PlatformRegistry

	Log zerolog.Logger
	Now func() time.Time
}

func (c *AGSClient) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now().UTC()
}

func (c *AGSClient) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return &http.Client{Timeout: 10 * time.Second}
}

// ObtainAccessToken POSTs a client-credentials grant with a signed JWT
// assertion to the platform's token endpoint.
func (c *AGSClient) ObtainAccessToken(ctx context.Context, platform PlatformConfig, scopes []string) (TokenResponse, error) {
	now := c.now()
	assertion, err := c.Keys.Sign(jwt.MapClaims{
		"iss": platform.ClientID,
		"sub": platform.ClientID,
		"aud": platform.TokenEndpoint,
		"iat": now.Unix(),
		"exp": now.Add(5 * time.Minute).Unix(),
		"jti": uuid.NewString(),
	}, nil)
	if err != nil {
		return TokenResponse{}, err
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_assertion_type", clientAssertionType)
	form.Set("client_assertion", assertion)
	form.Set("scope", strings.Join(scopes, " "))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, platform.TokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return TokenResponse{}, fmt.Errorf("lti: build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return TokenResponse{}, fmt.Errorf("lti: token endpoint: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxJWKSBytes))
	if resp.StatusCode/100 != 2 {
		return TokenResponse{}, &AuthorizationError{
			Issuer:   platform.Issuer,
			ClientID: platform.ClientID,
			Status:   resp.StatusCode,
			Body:     string(body),
		}
	}
	var tr TokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return TokenResponse{}, fmt.Errorf("lti: decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return TokenResponse{}, &AuthorizationError{
			Issuer:   platform.Issuer,
			ClientID: platform.ClientID,
			Status:   resp.StatusCode,
			Body:     "empty access_token in token response",
		}
	}
	return tr, nil
}

// PostScore reports a score against the session's granted line item.
// An empty platform response body is success with an empty result.
func (c *AGSClient) PostScore(ctx context.Context, sess Session, score Score) (map[string]any, error) {
	if sess.AGS == nil || sess.AGS.LineItem == "" {
		return nil, &ScoreError{Reason: "no lineitem granted"}
	}
	if !sess.AGS.HasScope(ScopeScore) {
		return nil, &ScoreError{Reason: "score scope not granted"}
	}

	platform, err := c.Platforms.Get(sess.Issuer, sess.ClientID, true, sess.DeploymentID)
	if err != nil {
		return nil, err
	}
	tok, err := c.ObtainAccessToken(ctx, platform, []string{ScopeScore})
	if err != nil {
		return nil, err
	}

	if score.UserID == "" {
		score.UserID = sess.Subject
	}
	if score.Timestamp == "" {
		score.Timestamp = c.now().Format(time.RFC3339)
	}
	if score.ActivityProgress == "" {
		score.ActivityProgress = "Completed"
	}
	if score.GradingProgress == "" {
		score.GradingProgress = "FullyGraded"
	}

	scoresURL, err := scoresEndpoint(sess.AGS.LineItem)
	if err != nil {
		return nil, &ScoreError{Reason: "invalid lineitem URL: " + err.Error()}
	}
	body, err := json.Marshal(score)
	if err != nil {
		return nil, fmt.Errorf("lti: marshal score: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, scoresURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("lti: build score request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	req.Header.Set("Content-Type", "application/vnd.ims.lis.v1.score+json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("lti: score endpoint: %w", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxJWKSBytes))
	if resp.StatusCode/100 != 2 {
		return nil, &ScoreError{
			Reason: "platform rejected score",
			Status: resp.StatusCode,
			Body:   string(respBody),
		}
	}

	c.Log.Info().
		Str("issuer", sess.Issuer).
		Str("subject", sess.Subject).
		Float64("score_given", score.ScoreGiven).
		Msg("score posted")

	result := map[string]any{}
	if len(bytes.TrimSpace(respBody)) == 0 {
		return result, nil
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		// Some platforms answer 200 with a non-JSON body; treat as success.
		return map[string]any{}, nil
	}
	return result, nil
}

// scoresEndpoint appends /scores to the line-item path, preserving any
// query string (Moodle puts type_id there).
func scoresEndpoint(lineItem string) (string, error) {
	u, err := url.Parse(lineItem)
	if err != nil {
		return "", err
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/scores"
	return u.String(), nil
}
