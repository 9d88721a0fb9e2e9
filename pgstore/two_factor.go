package pgstore

import (
	"context"

	custodyauth "github.com/MrEthical07/goCustodyAuth"
	"github.com/jackc/pgx/v5"
)

func (s *Store) FindTwoFactor(ctx context.Context, userID int64) (*custodyauth.TwoFactorConfig, error) {
	cfg := &custodyauth.TwoFactorConfig{}
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, encrypted_secret, created_at FROM two_factor_configs WHERE user_id = $1`, userID,
	).Scan(&cfg.UserID, &cfg.EncryptedSecret, &cfg.CreatedAt)
	if err != nil {
		return nil, storeErr("find two-factor", err, custodyauth.ErrNotFound)
	}
	return cfg, nil
}

// ActivateTwoFactor inserts the config and raises the user flag in one
// transaction.
func (s *Store) ActivateTwoFactor(ctx context.Context, cfg custodyauth.TwoFactorConfig) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO two_factor_configs (user_id, encrypted_secret, created_at)
			VALUES ($1, $2, $3) ON CONFLICT (user_id) DO NOTHING`,
			cfg.UserID, cfg.EncryptedSecret, cfg.CreatedAt,
		)
		if err != nil {
			return storeErr("activate two-factor", err, custodyauth.ErrUserNotFound)
		}
		if tag.RowsAffected() == 0 {
			return custodyauth.ErrTwoFactorAlreadyEnabled
		}
		return setTwoFactorFlag(ctx, tx, cfg.UserID, true)
	})
}

// DisableTwoFactor deletes the config and clears the user flag in one
// transaction.
func (s *Store) DisableTwoFactor(ctx context.Context, userID int64) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM two_factor_configs WHERE user_id = $1`, userID)
		if err != nil {
			return storeErr("disable two-factor", err, custodyauth.ErrNotFound)
		}
		if tag.RowsAffected() == 0 {
			return custodyauth.ErrNotFound
		}
		return setTwoFactorFlag(ctx, tx, userID, false)
	})
}

func setTwoFactorFlag(ctx context.Context, tx pgx.Tx, userID int64, enabled bool) error {
	tag, err := tx.Exec(ctx, `UPDATE users SET two_factor_enabled = $2 WHERE id = $1`, userID, enabled)
	if err != nil {
		return storeErr("set two-factor flag", err, custodyauth.ErrUserNotFound)
	}
	if tag.RowsAffected() == 0 {
		return custodyauth.ErrUserNotFound
	}
	return nil
}
