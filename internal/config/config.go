package config

import (
	"context"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config is the full environment surface of the tool. All variables carry
// the LTI_TOOL_ prefix, e.g. LTI_TOOL_KEY_PRIVATE_PEM.
type Config struct {
	Server    Server    `env:",prefix=SERVER_"`
	Keys      Keys      `env:",prefix=KEY_"`
	Platforms Platforms `env:",prefix=PLATFORM_"`
	Session   Session   `env:",prefix=SESSION_"`
	Admin     Admin     `env:",prefix=ADMIN_"`
}

type Server struct {
	HTTPAddr  string `env:"HTTP_ADDR, default=:8080"`
	PublicURL string `env:"PUBLIC_URL"`
	// LaunchURL is the redirect_uri platforms post id_tokens to.
	// Defaults to PUBLIC_URL + /lti/launch.
	LaunchURL string `env:"LAUNCH_URL"`
	// AppURL is where learners land after a successful launch.
	// Defaults to PUBLIC_URL + /app.
	AppURL      string   `env:"APP_URL"`
	CORSOrigins []string `env:"CORS_ORIGINS"`
	LogLevel    string   `env:"LOG_LEVEL, default=info"`
}

type Keys struct {
	PrivatePEM  string `env:"PRIVATE_PEM"`
	PrivatePath string `env:"PRIVATE_PEM_FILE"`
	PublicPEM   string `env:"PUBLIC_PEM"`
	PublicPath  string `env:"PUBLIC_PEM_FILE"`
	KeyID       string `env:"ID"`
}

// Platforms names the registry sources, applied in order: file, inline
// JSON, single-platform env vars, SQL.
type Platforms struct {
	File string `env:"FILE"`
	JSON string `env:"JSON"`

	Issuer       string `env:"ISSUER"`
	ClientID     string `env:"CLIENT_ID"`
	AuthURL      string `env:"AUTH_URL"`
	TokenURL     string `env:"TOKEN_URL"`
	JWKSURL      string `env:"JWKS_URL"`
	DeploymentID string `env:"DEPLOYMENT_ID"`
	Audience     string `env:"AUDIENCE"`

	// DBDriver sqlite|postgres enables the SQL source; empty disables it.
	DBDriver string `env:"DB_DRIVER"`
	DBDSN    string `env:"DB_DSN"`
}

type Session struct {
	StateTTL    time.Duration `env:"STATE_TTL, default=10m"`
	SessionTTL  time.Duration `env:"TTL, default=4h"`
	DeepLinkTTL time.Duration `env:"DEEP_LINK_TTL, default=10m"`

	CookieName     string `env:"COOKIE_NAME, default=lti_session"`
	CookieSecure   bool   `env:"COOKIE_SECURE, default=true"`
	CookieSameSite string `env:"COOKIE_SAMESITE, default=none"`
	CookieDomain   string `env:"COOKIE_DOMAIN"`
}

// Admin guards the platform registry API. An empty PassHash disables it.
type Admin struct {
	User     string `env:"USER, default=admin"`
	PassHash string `env:"PASS_HASH"` // bcrypt
}

func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: envconfig.PrefixLookuper("LTI_TOOL_", envconfig.OsLookuper()),
	}); err != nil {
		return nil, err
	}

	pub := strings.TrimSuffix(cfg.Server.PublicURL, "/")
	if cfg.Server.LaunchURL == "" && pub != "" {
		cfg.Server.LaunchURL = pub + "/lti/launch"
	}
	if cfg.Server.AppURL == "" && pub != "" {
		cfg.Server.AppURL = pub + "/app"
	}
	return &cfg, nil
}
