// internal/lti/registry.go
package lti

import (
	"encoding/json"
	"net/url"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

/*
PlatformRegistry maps (issuer, client_id) to platform metadata.

Records are treated as immutable: every mutation (auto-registration,
deployment learning, admin upsert) builds a fresh PlatformConfig and
replaces the map entry under the lock, so concurrent readers never observe
a half-updated record.

Auto-discovery synthesizes issuer-derived default endpoints. The defaults
are the Moodle paths; any other platform must be pre-registered with
explicit endpoints. Synthesis is logged, not an error — the launch is still
cryptographically verified against the platform's JWKS either way.
*/

// PlatformConfig describes one platform registration.
// deployment_ids is ordered, first = primary, and grows monotonically.
type PlatformConfig struct {
	Issuer                string   `json:"issuer"`
	ClientID              string   `json:"client_id"`
	AuthorizationEndpoint string   `json:"authorization_endpoint,omitempty"`
	TokenEndpoint         string   `json:"token_endpoint,omitempty"`
	JWKSURI               string   `json:"jwks_uri,omitempty"`
	DeploymentIDs         []string `json:"deployment_ids,omitempty"`
	Audience              string   `json:"audience,omitempty"`
}

func (p PlatformConfig) clone() PlatformConfig {
	cp := p
	cp.DeploymentIDs = append([]string(nil), p.DeploymentIDs...)
	return cp
}

type registryKey struct{ issuer, clientID string }

type PlatformRegistry struct {
	mu   sync.RWMutex
	byID map[registryKey]PlatformConfig

	log zerolog.Logger

	// learned, when set, is invoked (outside the lock) with the updated
	// record after auto-registration or deployment learning.
	learned func(PlatformConfig)
}

func NewPlatformRegistry(log zerolog.Logger) *PlatformRegistry {
	return &PlatformRegistry{
		byID: make(map[registryKey]PlatformConfig),
		log:  log,
	}
}

// OnLearned registers a hook for persisting auto-registered platforms and
// learned deployment ids. Call before serving traffic.
func (r *PlatformRegistry) OnLearned(fn func(PlatformConfig)) { r.learned = fn }

// Register validates, fills issuer-derived endpoint defaults, and stores a
// platform. Used by startup loaders and the admin API.
func (r *PlatformRegistry) Register(cfg PlatformConfig) error {
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)
	cfg.ClientID = strings.TrimSpace(cfg.ClientID)
	if cfg.Issuer == "" || cfg.ClientID == "" {
		return configErr("platform config requires issuer and client_id", nil)
	}
	if !isHTTPURL(cfg.Issuer) {
		return configErr("platform issuer must be an absolute http(s) URL: "+cfg.Issuer, nil)
	}
	fillDefaultEndpoints(&cfg)
	cfg = cfg.clone()

	r.mu.Lock()
	r.byID[registryKey{cfg.Issuer, cfg.ClientID}] = cfg
	r.mu.Unlock()
	return nil
}

// LoadJSON registers platforms from a JSON array of PlatformConfig.
func (r *PlatformRegistry) LoadJSON(data []byte) error {
	var cfgs []PlatformConfig
	if err := json.Unmarshal(data, &cfgs); err != nil {
		return configErr("parse platform registry JSON", err)
	}
	for _, cfg := range cfgs {
		if err := r.Register(cfg); err != nil {
			return err
		}
	}
	return nil
}

// Get resolves a platform. With auto-discovery, an unknown (issuer,
// client_id) is synthesized with default endpoints and registered; a second
// call for the same key returns the same record. A supplied deploymentHint
// not yet known is appended to the deployment list.
func (r *PlatformRegistry) Get(issuer, clientID string, autoDiscover bool, deploymentHint string) (PlatformConfig, error) {
	issuer = strings.TrimSpace(issuer)
	clientID = strings.TrimSpace(clientID)
	if issuer == "" || clientID == "" {
		return PlatformConfig{}, loginErr(issuer, clientID, "issuer and client_id are required", nil)
	}
	key := registryKey{issuer, clientID}

	r.mu.RLock()
	cfg, ok := r.byID[key]
	r.mu.RUnlock()

	if !ok {
		if !autoDiscover {
			return PlatformConfig{}, loginErr(issuer, clientID, "unknown platform", nil)
		}
		cfg = r.autoRegister(issuer, clientID)
	}

	if deploymentHint != "" && !r.AllowsDeployment(cfg, deploymentHint) {
		var err error
		cfg, err = r.LearnDeployment(issuer, clientID, deploymentHint)
		if err != nil {
			return PlatformConfig{}, err
		}
	}
	return cfg.clone(), nil
}

func (r *PlatformRegistry) autoRegister(issuer, clientID string) PlatformConfig {
	cfg := PlatformConfig{Issuer: issuer, ClientID: clientID}
	fillDefaultEndpoints(&cfg)

	r.mu.Lock()
	key := registryKey{issuer, clientID}
	if existing, ok := r.byID[key]; ok {
		// Lost the race to a concurrent auto-registration.
		r.mu.Unlock()
		return existing
	}
	r.byID[key] = cfg
	r.mu.Unlock()

	r.log.Info().
		Str("issuer", issuer).
		Str("client_id", clientID).
		Str("authorization_endpoint", cfg.AuthorizationEndpoint).
		Str("token_endpoint", cfg.TokenEndpoint).
		Str("jwks_uri", cfg.JWKSURI).
		Msg("auto-registered platform with issuer-derived endpoints")
	if r.learned != nil {
		r.learned(cfg.clone())
	}
	return cfg
}

// AllowsDeployment reports whether the deployment id is non-empty and
// present in the config's deployment list.
func (r *PlatformRegistry) AllowsDeployment(cfg PlatformConfig, deploymentID string) bool {
	if deploymentID == "" {
		return false
	}
	for _, d := range cfg.DeploymentIDs {
		if d == deploymentID {
			return true
		}
	}
	return false
}

// LearnDeployment appends a newly observed deployment id (copy-and-replace)
// and returns the updated record. Appended ids are never removed.
func (r *PlatformRegistry) LearnDeployment(issuer, clientID, deploymentID string) (PlatformConfig, error) {
	if deploymentID == "" {
		return PlatformConfig{}, loginErr(issuer, clientID, "empty deployment_id", nil)
	}

	r.mu.Lock()
	key := registryKey{issuer, clientID}
	cfg, ok := r.byID[key]
	if !ok {
		r.mu.Unlock()
		return PlatformConfig{}, loginErr(issuer, clientID, "unknown platform", nil)
	}
	for _, d := range cfg.DeploymentIDs {
		if d == deploymentID {
			r.mu.Unlock()
			return cfg.clone(), nil
		}
	}
	next := cfg.clone()
	next.DeploymentIDs = append(next.DeploymentIDs, deploymentID)
	r.byID[key] = next
	r.mu.Unlock()

	r.log.Info().
		Str("issuer", issuer).
		Str("client_id", clientID).
		Str("deployment_id", deploymentID).
		Msg("learned new deployment id")
	if r.learned != nil {
		r.learned(next.clone())
	}
	return next.clone(), nil
}

// All returns a snapshot of every registration.
func (r *PlatformRegistry) All() []PlatformConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]PlatformConfig, 0, len(r.byID))
	for _, cfg := range r.byID {
		out = append(out, cfg.clone())
	}
	return out
}

// Delete removes a registration (admin API).
func (r *PlatformRegistry) Delete(issuer, clientID string) {
	r.mu.Lock()
	delete(r.byID, registryKey{issuer, clientID})
	r.mu.Unlock()
}

// fillDefaultEndpoints derives missing endpoints from the issuer. The paths
// are Moodle's; non-Moodle platforms need explicit configuration.
func fillDefaultEndpoints(cfg *PlatformConfig) {
	base := strings.TrimSuffix(cfg.Issuer, "/")
	if cfg.AuthorizationEndpoint == "" {
		cfg.AuthorizationEndpoint = base + "/mod/lti/auth.php"
	}
	if cfg.TokenEndpoint == "" {
		cfg.TokenEndpoint = base + "/login/token.php"
	}
	if cfg.JWKSURI == "" {
		cfg.JWKSURI = base + "/mod/lti/certs.php"
	}
}

func isHTTPURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Host != ""
}
