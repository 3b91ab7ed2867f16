// Package registrystore persists platform registrations so that
// auto-registered platforms and learned deployment ids survive restarts.
// The TTL state stores stay ephemeral; only the registry is durable.
package registrystore

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/mind-engage/lti-tool/internal/lti"
)

type SQLStore struct {
	db *sql.DB
}

func New(db *sql.DB) *SQLStore { return &SQLStore{db: db} }

// LoadAll returns every stored platform registration.
func (s *SQLStore) LoadAll(ctx context.Context) ([]lti.PlatformConfig, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT issuer, client_id, authorization_endpoint, token_endpoint, jwks_uri, audience, deployment_ids_json
FROM platforms`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []lti.PlatformConfig
	for rows.Next() {
		var cfg lti.PlatformConfig
		var depsJSON string
		if err := rows.Scan(&cfg.Issuer, &cfg.ClientID, &cfg.AuthorizationEndpoint,
			&cfg.TokenEndpoint, &cfg.JWKSURI, &cfg.Audience, &depsJSON); err != nil {
			return nil, err
		}
		if depsJSON != "" {
			if err := json.Unmarshal([]byte(depsJSON), &cfg.DeploymentIDs); err != nil {
				return nil, err
			}
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

// Upsert writes a full registration. Works on both sqlite and postgres.
func (s *SQLStore) Upsert(ctx context.Context, cfg lti.PlatformConfig) error {
	depsJSON, err := json.Marshal(cfg.DeploymentIDs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO platforms (issuer, client_id, authorization_endpoint, token_endpoint, jwks_uri, audience, deployment_ids_json, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (issuer, client_id) DO UPDATE SET
  authorization_endpoint = EXCLUDED.authorization_endpoint,
  token_endpoint = EXCLUDED.token_endpoint,
  jwks_uri = EXCLUDED.jwks_uri,
  audience = EXCLUDED.audience,
  deployment_ids_json = EXCLUDED.deployment_ids_json,
  updated_at = EXCLUDED.updated_at`,
		cfg.Issuer, cfg.ClientID, cfg.AuthorizationEndpoint, cfg.TokenEndpoint,
		cfg.JWKSURI, cfg.Audience, string(depsJSON), time.Now().Unix())
	return err
}

// Delete removes a registration.
func (s *SQLStore) Delete(ctx context.Context, issuer, clientID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM platforms WHERE issuer = $1 AND client_id = $2`, issuer, clientID)
	return err
}
