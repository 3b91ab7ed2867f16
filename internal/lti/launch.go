// internal/lti/launch.go
package lti

import (
	"context"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

/*
LaunchService orchestrates the OIDC third-party-initiated login:

  login request → BuildLoginRedirect (LoginState created, learner bounced to
  the platform's authorization endpoint) → platform form-posts id_token +
  state → DecodeLaunch (state consumed, platform JWKS fetched, signature and
  claims verified, nonce checked) → CreateSessionFromClaims for resource
  links, CreateDeepLinkContext for deep-linking requests.

DecodeLaunch consumes the LoginState before any other work: a client abort
after consumption forfeits the retry, which is the intended replay defense.
Stores are otherwise only mutated after remote calls complete.
*/

type LaunchService struct {
	Keys      *KeyManager
	Platforms *PlatformRegistry
	Logins    *LoginStateStore
	Sessions  *SessionStore
	DeepLinks *DeepLinkStore
	Remote    *RemoteJWKS

	// LaunchURL is the tool's configured redirect/launch endpoint. It wins
	// over the caller-supplied target_link_uri.
	LaunchURL string

	Log zerolog.Logger
	Now func() time.Time
}

func (s *LaunchService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// BuildLoginRedirect handles the platform's login initiation and returns
// the authorization URL to redirect the learner to, plus the state token.
func (s *LaunchService) BuildLoginRedirect(issuer, clientID, loginHint, messageHint, targetLinkURI, deploymentHint string) (string, string, error) {
	platform, err := s.Platforms.Get(issuer, clientID, true, deploymentHint)
	if err != nil {
		return "", "", err
	}

	redirectURI := s.LaunchURL
	if redirectURI == "" {
		redirectURI = targetLinkURI
	}
	if redirectURI == "" {
		return "", "", loginErr(issuer, clientID, "no redirect URI resolvable (configure a launch URL or pass target_link_uri)", nil)
	}

	nonce := uuid.NewString()
	state := s.Logins.Create(LoginState{
		Issuer:         platform.Issuer,
		ClientID:       platform.ClientID,
		Nonce:          nonce,
		LoginHint:      loginHint,
		MessageHint:    messageHint,
		RedirectURI:    redirectURI,
		TargetLinkURI:  targetLinkURI,
		DeploymentHint: deploymentHint,
	})

	u, err := url.Parse(platform.AuthorizationEndpoint)
	if err != nil {
		return "", "", loginErr(issuer, clientID, "invalid authorization endpoint", err)
	}
	q := u.Query()
	q.Set("response_type", "id_token")
	q.Set("response_mode", "form_post")
	q.Set("scope", "openid")
	q.Set("prompt", "none")
	q.Set("client_id", platform.ClientID)
	q.Set("redirect_uri", redirectURI)
	q.Set("state", state)
	q.Set("nonce", nonce)
	q.Set("login_hint", loginHint)
	if messageHint != "" {
		q.Set("lti_message_hint", messageHint)
	}
	u.RawQuery = q.Encode()

	s.Log.Debug().
		Str("issuer", platform.Issuer).
		Str("client_id", platform.ClientID).
		Msg("built login redirect")
	return u.String(), state, nil
}

// DecodeLaunch consumes the login state and verifies the posted id_token:
// RS256 signature against the platform's JWKS, iss/aud, expiry, and the
// nonce captured at login time.
func (s *LaunchService) DecodeLaunch(ctx context.Context, idToken, state string) (LaunchClaims, PlatformConfig, error) {
	st, ok := s.Logins.Consume(state)
	if !ok {
		return LaunchClaims{}, PlatformConfig{}, loginErr("", "", "login state expired or unknown", nil)
	}

	platform, err := s.Platforms.Get(st.Issuer, st.ClientID, true, st.DeploymentHint)
	if err != nil {
		return LaunchClaims{}, PlatformConfig{}, err
	}

	audience := platform.Audience
	if audience == "" {
		audience = platform.ClientID
	}

	keyfunc := func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		return s.remote().SigningKey(ctx, platform.JWKSURI, kid)
	}
	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(idToken, claims, keyfunc,
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuer(platform.Issuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(time.Minute),
	)
	if err != nil {
		return LaunchClaims{}, PlatformConfig{}, loginErr(platform.Issuer, platform.ClientID, "id_token verification failed", err)
	}

	lc := NewLaunchClaims(claims)
	if lc.Nonce() == "" || lc.Nonce() != st.Nonce {
		return LaunchClaims{}, PlatformConfig{}, loginErr(platform.Issuer, platform.ClientID, "nonce mismatch", nil)
	}
	return lc, platform, nil
}

// CreateSessionFromClaims turns a verified resource-link launch into a
// session. A deployment id not yet known to the platform config is learned
// rather than rejected; an empty one is fatal.
func (s *LaunchService) CreateSessionFromClaims(claims LaunchClaims, platform PlatformConfig) (Session, error) {
	if mt := claims.MessageType(); mt != MessageTypeResourceLink {
		return Session{}, loginErr(platform.Issuer, platform.ClientID, "unsupported message type: "+mt, nil)
	}
	deploymentID := claims.DeploymentID()
	if deploymentID == "" {
		return Session{}, loginErr(platform.Issuer, platform.ClientID, "missing deployment_id", nil)
	}
	if !s.Platforms.AllowsDeployment(platform, deploymentID) {
		var err error
		platform, err = s.Platforms.LearnDeployment(platform.Issuer, platform.ClientID, deploymentID)
		if err != nil {
			return Session{}, err
		}
	}
	subject := claims.Subject()
	if subject == "" {
		return Session{}, loginErr(platform.Issuer, platform.ClientID, "missing sub claim", nil)
	}

	sess := s.Sessions.Create(Session{
		Issuer:       platform.Issuer,
		ClientID:     platform.ClientID,
		DeploymentID: deploymentID,
		Subject:      subject,
		Name:         claims.Name(),
		Email:        claims.Email(),
		Roles:        claims.Roles(),
		Context:      claims.Context(),
		AGS:          claims.AGSEndpoint(),
	})
	s.Log.Info().
		Str("issuer", sess.Issuer).
		Str("client_id", sess.ClientID).
		Str("deployment_id", sess.DeploymentID).
		Str("subject", sess.Subject).
		Bool("ags", sess.AGS != nil).
		Msg("launch session created")
	return sess, nil
}

// ValidateLaunch is DecodeLaunch + CreateSessionFromClaims.
func (s *LaunchService) ValidateLaunch(ctx context.Context, idToken, state string) (Session, error) {
	claims, platform, err := s.DecodeLaunch(ctx, idToken, state)
	if err != nil {
		return Session{}, err
	}
	return s.CreateSessionFromClaims(claims, platform)
}

func (s *LaunchService) remote() *RemoteJWKS {
	if s.Remote != nil {
		return s.Remote
	}
	return NewRemoteJWKS()
}
