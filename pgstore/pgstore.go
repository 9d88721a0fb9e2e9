// Package pgstore implements the engine's persistence interfaces on
// PostgreSQL through a pgx connection pool.
//
// One *Store satisfies UserProvider, DeviceCredentialStore,
// LoginChallengeStore and TwoFactorStore. Call Migrate once at startup.
package pgstore

import (
	"context"
	"errors"
	"fmt"

	custodyauth "github.com/MrEthical07/goCustodyAuth"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

var (
	_ custodyauth.UserProvider          = (*Store)(nil)
	_ custodyauth.DeviceCredentialStore = (*Store)(nil)
	_ custodyauth.LoginChallengeStore   = (*Store)(nil)
	_ custodyauth.TwoFactorStore        = (*Store)(nil)
)

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id                 BIGSERIAL PRIMARY KEY,
	email              TEXT NOT NULL,
	password_hash      TEXT NOT NULL,
	two_factor_enabled BOOLEAN NOT NULL DEFAULT FALSE,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS users_email_lower_idx ON users (lower(email));

CREATE TABLE IF NOT EXISTS delegated_auth_states (
	user_id              BIGINT PRIMARY KEY REFERENCES users (id) ON DELETE CASCADE,
	private_key          TEXT NOT NULL,
	refresh_token        TEXT NOT NULL DEFAULT '',
	external_customer_id TEXT NOT NULL DEFAULT '',
	wallet_id            TEXT NOT NULL DEFAULT '',
	device_id            TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS device_credentials (
	device_id    TEXT PRIMARY KEY,
	user_id      BIGINT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
	public_key   JSONB NOT NULL,
	algorithm    TEXT NOT NULL,
	revoked_at   TIMESTAMPTZ,
	last_used_at TIMESTAMPTZ,
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS two_factor_configs (
	user_id          BIGINT PRIMARY KEY REFERENCES users (id) ON DELETE CASCADE,
	encrypted_secret TEXT NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS login_challenges (
	id         TEXT PRIMARY KEY,
	device_id  TEXT NOT NULL,
	challenge  TEXT NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	used_at    TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS login_challenges_expires_idx ON login_challenges (expires_at);
`

// Migrate installs the schema. It is safe to run repeatedly.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("pgstore migrate: %w", err)
	}
	return nil
}

// Ping reports whether the pool can reach the database.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// storeErr maps missing rows to notFound and wraps everything else with
// ErrStoreUnavailable.
func storeErr(op string, err error, notFound error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound
	}
	return fmt.Errorf("pgstore %s: %w: %w", op, custodyauth.ErrStoreUnavailable, err)
}
