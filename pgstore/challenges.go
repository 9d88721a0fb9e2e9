package pgstore

import (
	"context"
	"errors"
	"time"

	custodyauth "github.com/MrEthical07/goCustodyAuth"
	"github.com/jackc/pgx/v5/pgconn"
)

func (s *Store) CreateChallenge(ctx context.Context, c custodyauth.LoginChallenge) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO login_challenges (id, device_id, challenge, expires_at) VALUES ($1, $2, $3, $4)`,
		c.ChallengeID, c.DeviceID, c.Challenge, c.ExpiresAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return custodyauth.ErrConflict
		}
		return storeErr("create challenge", err, custodyauth.ErrNotFound)
	}
	return nil
}

func (s *Store) GetChallenge(ctx context.Context, challengeID string) (*custodyauth.LoginChallenge, error) {
	c := &custodyauth.LoginChallenge{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, device_id, challenge, expires_at, used_at FROM login_challenges WHERE id = $1`, challengeID,
	).Scan(&c.ChallengeID, &c.DeviceID, &c.Challenge, &c.ExpiresAt, &c.UsedAt)
	if err != nil {
		return nil, storeErr("get challenge", err, custodyauth.ErrNotFound)
	}
	return c, nil
}

// ConsumeChallenge claims the challenge with a single conditional update, so
// of concurrent callers at most one sees true.
func (s *Store) ConsumeChallenge(ctx context.Context, challengeID string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE login_challenges SET used_at = $2 WHERE id = $1 AND used_at IS NULL AND expires_at > $2`,
		challengeID, at,
	)
	if err != nil {
		return false, storeErr("consume challenge", err, custodyauth.ErrNotFound)
	}
	return tag.RowsAffected() == 1, nil
}

// PurgeExpiredChallenges deletes challenges that expired before cutoff and
// reports how many were removed.
func (s *Store) PurgeExpiredChallenges(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM login_challenges WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, storeErr("purge challenges", err, custodyauth.ErrNotFound)
	}
	return tag.RowsAffected(), nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
