package goCustodyAuth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goCustodyAuth/internal/stores"
)

// redisChallengeStore adapts the Redis record store to LoginChallengeStore.
type redisChallengeStore struct {
	store *stores.LoginChallengeStore
	now   func() time.Time
}

func newRedisChallengeStore(store *stores.LoginChallengeStore, now func() time.Time) *redisChallengeStore {
	if now == nil {
		now = time.Now
	}
	return &redisChallengeStore{store: store, now: now}
}

func (s *redisChallengeStore) CreateChallenge(ctx context.Context, challenge LoginChallenge) error {
	err := s.store.Create(ctx, challenge.ChallengeID, &stores.LoginChallenge{
		DeviceID:  challenge.DeviceID,
		Challenge: challenge.Challenge,
		ExpiresAt: challenge.ExpiresAt.UnixMilli(),
	}, s.now())
	return mapChallengeErr(err)
}

func (s *redisChallengeStore) GetChallenge(ctx context.Context, challengeID string) (*LoginChallenge, error) {
	rec, err := s.store.Get(ctx, challengeID)
	if err != nil {
		return nil, mapChallengeErr(err)
	}
	out := &LoginChallenge{
		ChallengeID: challengeID,
		DeviceID:    rec.DeviceID,
		Challenge:   rec.Challenge,
		ExpiresAt:   time.UnixMilli(rec.ExpiresAt),
	}
	if rec.UsedAt != 0 {
		usedAt := time.UnixMilli(rec.UsedAt)
		out.UsedAt = &usedAt
	}
	return out, nil
}

func (s *redisChallengeStore) ConsumeChallenge(ctx context.Context, challengeID string, at time.Time) (bool, error) {
	ok, err := s.store.Consume(ctx, challengeID, at)
	if errors.Is(err, stores.ErrLoginChallengeNotFound) {
		return false, nil
	}
	if err != nil {
		return false, mapChallengeErr(err)
	}
	return ok, nil
}

func mapChallengeErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, stores.ErrLoginChallengeNotFound):
		return fmt.Errorf("%w: login challenge", ErrNotFound)
	case errors.Is(err, stores.ErrLoginChallengeExists):
		return fmt.Errorf("%w: login challenge id", ErrConflict)
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}
