package pgstore

import (
	"context"
	"encoding/json"
	"time"

	custodyauth "github.com/MrEthical07/goCustodyAuth"
)

// UpsertCredential keeps created_at and last_used_at of an existing row and
// clears its revocation.
func (s *Store) UpsertCredential(ctx context.Context, cred custodyauth.DeviceCredential) error {
	key, err := json.Marshal(cred.PublicKey)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO device_credentials (device_id, user_id, public_key, algorithm, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (device_id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			public_key = EXCLUDED.public_key,
			algorithm = EXCLUDED.algorithm,
			revoked_at = NULL,
			updated_at = EXCLUDED.updated_at`,
		cred.DeviceID, cred.UserID, key, cred.Algorithm, cred.CreatedAt, cred.UpdatedAt,
	)
	if err != nil {
		return storeErr("upsert credential", err, custodyauth.ErrUserNotFound)
	}
	return nil
}

func (s *Store) FindActiveCredential(ctx context.Context, deviceID string) (*custodyauth.DeviceCredential, error) {
	var (
		c   custodyauth.DeviceCredential
		key []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT device_id, user_id, public_key, algorithm, revoked_at, last_used_at, created_at, updated_at
		FROM device_credentials WHERE device_id = $1 AND revoked_at IS NULL`, deviceID,
	).Scan(&c.DeviceID, &c.UserID, &key, &c.Algorithm, &c.RevokedAt, &c.LastUsedAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, storeErr("find credential", err, custodyauth.ErrDeviceNotEnrolled)
	}
	if err := json.Unmarshal(key, &c.PublicKey); err != nil {
		return nil, storeErr("decode credential key", err, custodyauth.ErrDeviceNotEnrolled)
	}
	return &c, nil
}

func (s *Store) TouchCredential(ctx context.Context, deviceID string, at time.Time) error {
	return s.updateCredential(ctx, "touch credential",
		`UPDATE device_credentials SET last_used_at = $2 WHERE device_id = $1`, deviceID, at)
}

func (s *Store) RevokeCredential(ctx context.Context, deviceID string, at time.Time) error {
	return s.updateCredential(ctx, "revoke credential",
		`UPDATE device_credentials SET revoked_at = $2, updated_at = $2 WHERE device_id = $1 AND revoked_at IS NULL`, deviceID, at)
}

func (s *Store) updateCredential(ctx context.Context, op, q, deviceID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, q, deviceID, at)
	if err != nil {
		return storeErr(op, err, custodyauth.ErrDeviceNotEnrolled)
	}
	if tag.RowsAffected() == 0 {
		return custodyauth.ErrDeviceNotEnrolled
	}
	return nil
}
