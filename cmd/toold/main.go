package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	api "github.com/mind-engage/lti-tool/internal/api/http"
	"github.com/mind-engage/lti-tool/internal/config"
	"github.com/mind-engage/lti-tool/internal/db"
	"github.com/mind-engage/lti-tool/internal/lti"
	"github.com/mind-engage/lti-tool/internal/registrystore"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.Server.LogLevel); err == nil {
		log = log.Level(lvl)
	}

	keys, err := lti.NewKeyManager(lti.KeyConfig{
		PrivatePEM:  cfg.Keys.PrivatePEM,
		PrivatePath: cfg.Keys.PrivatePath,
		PublicPEM:   cfg.Keys.PublicPEM,
		PublicPath:  cfg.Keys.PublicPath,
		KeyID:       cfg.Keys.KeyID,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("load signing key")
	}

	registry := lti.NewPlatformRegistry(log)
	persister, err := loadPlatforms(ctx, registry, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("load platform registrations")
	}

	logins := lti.NewLoginStateStore(cfg.Session.StateTTL)
	sessions := lti.NewSessionStore(cfg.Session.SessionTTL)
	deepLinks := lti.NewDeepLinkStore(cfg.Session.DeepLinkTTL)

	launch := &lti.LaunchService{
		Keys:      keys,
		Platforms: registry,
		Logins:    logins,
		Sessions:  sessions,
		DeepLinks: deepLinks,
		Remote:    lti.NewRemoteJWKS(),
		LaunchURL: cfg.Server.LaunchURL,
		Log:       log,
	}
	ags := &lti.AGSClient{
		Keys:      keys,
		Platforms: registry,
		Log:       log,
	}

	cookies := api.CookieConfig{
		Name:     cfg.Session.CookieName,
		Secure:   cfg.Session.CookieSecure,
		SameSite: parseSameSite(cfg.Session.CookieSameSite),
		Domain:   cfg.Session.CookieDomain,
	}
	catalog := api.StaticCatalog{
		{ID: "app", Title: "Launch activity", URL: cfg.Server.AppURL},
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	if len(cfg.Server.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.Server.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			ExposedHeaders:   []string{"Content-Length"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/lti/login", api.LoginHandler(launch))
	r.Post("/lti/login", api.LoginHandler(launch))
	r.Post("/lti/launch", api.LaunchHandler(launch, cookies, cfg.Server.AppURL, catalog))
	r.Post("/lti/deep-link/submit", api.DeepLinkSubmitHandler(launch, catalog))
	r.Get("/lti/session", api.SessionInfoHandler(sessions, cookies.Name))
	r.Post("/lti/score", api.ScoreHandler(sessions, ags, cookies.Name))
	r.Post("/lti/logout", api.LogoutHandler(sessions, cookies))
	r.Get("/.well-known/jwks.json", api.JWKSHandler(keys))
	r.Head("/.well-known/jwks.json", api.JWKSHandler(keys))

	if cfg.Admin.PassHash != "" {
		r.Mount("/admin", api.AdminRoutes(registry, persister, cfg.Admin.User, cfg.Admin.PassHash))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Server.HTTPAddr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
}

// loadPlatforms applies the registry sources in order: file, inline JSON,
// single-platform env vars, SQL. Returns the persister when SQL is enabled.
func loadPlatforms(ctx context.Context, registry *lti.PlatformRegistry, cfg *config.Config, log zerolog.Logger) (api.PlatformPersister, error) {
	if cfg.Platforms.File != "" {
		data, err := os.ReadFile(cfg.Platforms.File)
		if err != nil {
			return nil, err
		}
		if err := registry.LoadJSON(data); err != nil {
			return nil, err
		}
	}
	if cfg.Platforms.JSON != "" {
		if err := registry.LoadJSON([]byte(cfg.Platforms.JSON)); err != nil {
			return nil, err
		}
	}
	if cfg.Platforms.Issuer != "" {
		pc := lti.PlatformConfig{
			Issuer:                cfg.Platforms.Issuer,
			ClientID:              cfg.Platforms.ClientID,
			AuthorizationEndpoint: cfg.Platforms.AuthURL,
			TokenEndpoint:         cfg.Platforms.TokenURL,
			JWKSURI:               cfg.Platforms.JWKSURL,
			Audience:              cfg.Platforms.Audience,
		}
		if cfg.Platforms.DeploymentID != "" {
			pc.DeploymentIDs = []string{cfg.Platforms.DeploymentID}
		}
		if err := registry.Register(pc); err != nil {
			return nil, err
		}
	}

	if cfg.Platforms.DBDriver == "" {
		return nil, nil
	}
	dbh, err := db.Open(ctx, db.Driver(cfg.Platforms.DBDriver), cfg.Platforms.DBDSN)
	if err != nil {
		return nil, err
	}
	store := registrystore.New(dbh)

	stored, err := store.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, pc := range stored {
		if err := registry.Register(pc); err != nil {
			return nil, err
		}
	}

	// Mirror auto-registrations and learned deployment ids back to SQL.
	registry.OnLearned(func(pc lti.PlatformConfig) {
		go func() {
			pctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := store.Upsert(pctx, pc); err != nil {
				log.Error().Err(err).
					Str("issuer", pc.Issuer).
					Str("client_id", pc.ClientID).
					Msg("persist learned platform")
			}
		}()
	})
	return store, nil
}

func parseSameSite(v string) http.SameSite {
	switch strings.ToLower(v) {
	case "lax":
		return http.SameSiteLaxMode
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteNoneMode
	}
}
