package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	loginChallengeRecordVersion1 = 1
	loginChallengeKeyPrefix      = "blc"
	consumeMaxRetries            = 4
)

var (
	ErrLoginChallengeNotFound  = errors.New("login challenge not found")
	ErrLoginChallengeExists    = errors.New("login challenge already exists")
	ErrLoginChallengeBackend   = errors.New("login challenge backend unavailable")
	ErrLoginChallengeContended = errors.New("login challenge update contended")
)

// LoginChallenge is the stored form of a biometric login challenge. Times are
// unix milliseconds; UsedAt is zero while the challenge is unused.
type LoginChallenge struct {
	DeviceID  string
	Challenge string
	ExpiresAt int64
	UsedAt    int64
}

// LoginChallengeStore keeps biometric challenges in Redis.
type LoginChallengeStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewLoginChallengeStore returns a store using prefix for its keys.
func NewLoginChallengeStore(redisClient redis.UniversalClient, prefix string) *LoginChallengeStore {
	if prefix == "" {
		prefix = loginChallengeKeyPrefix
	}
	return &LoginChallengeStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *LoginChallengeStore) key(challengeID string) string {
	return s.prefix + ":" + challengeID
}

// Create stores record under challengeID until its expiry. It fails with
// ErrLoginChallengeExists if the id is taken.
func (s *LoginChallengeStore) Create(ctx context.Context, challengeID string, record *LoginChallenge, now time.Time) error {
	ttl := time.UnixMilli(record.ExpiresAt).Sub(now)
	if ttl <= 0 {
		return errors.New("login challenge already expired")
	}
	encoded, err := encodeLoginChallenge(record)
	if err != nil {
		return err
	}
	ok, err := s.redis.SetNX(ctx, s.key(challengeID), encoded, ttl).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLoginChallengeBackend, err)
	}
	if !ok {
		return ErrLoginChallengeExists
	}
	return nil
}

// Get returns the stored record. Records past their TTL are not found.
func (s *LoginChallengeStore) Get(ctx context.Context, challengeID string) (*LoginChallenge, error) {
	data, err := s.redis.Get(ctx, s.key(challengeID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrLoginChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrLoginChallengeBackend, err)
	}
	return decodeLoginChallenge(data)
}

// Consume marks the challenge used at now if it is unused and unexpired.
// It reports whether this call performed the claim.
func (s *LoginChallengeStore) Consume(ctx context.Context, challengeID string, now time.Time) (bool, error) {
	key := s.key(challengeID)
	nowMillis := now.UnixMilli()

	for i := 0; i < consumeMaxRetries; i++ {
		var claimed bool
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			record, err := decodeLoginChallenge(data)
			if err != nil {
				return err
			}
			if record.UsedAt != 0 || nowMillis >= record.ExpiresAt {
				return nil
			}

			record.UsedAt = nowMillis
			updated, err := encodeLoginChallenge(record)
			if err != nil {
				return err
			}
			ttl := time.Duration(record.ExpiresAt-nowMillis) * time.Millisecond
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			if err != nil {
				return err
			}
			claimed = true
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return false, ErrLoginChallengeNotFound
			}
			return false, fmt.Errorf("%w: %v", ErrLoginChallengeBackend, err)
		}
		return claimed, nil
	}

	return false, ErrLoginChallengeContended
}

func encodeLoginChallenge(record *LoginChallenge) ([]byte, error) {
	if len(record.DeviceID) > 65535 || len(record.Challenge) > 65535 {
		return nil, errors.New("login challenge field length exceeded")
	}

	var buf bytes.Buffer
	buf.WriteByte(loginChallengeRecordVersion1)
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.UsedAt); err != nil {
		return nil, err
	}
	if err := writeString(&buf, record.DeviceID); err != nil {
		return nil, err
	}
	if err := writeString(&buf, record.Challenge); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeLoginChallenge(data []byte) (*LoginChallenge, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != loginChallengeRecordVersion1 {
		return nil, errors.New("invalid login challenge version")
	}

	record := &LoginChallenge{}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.UsedAt); err != nil {
		return nil, err
	}
	if record.DeviceID, err = readString(reader); err != nil {
		return nil, err
	}
	if record.Challenge, err = readString(reader); err != nil {
		return nil, err
	}
	return record, nil
}

func writeString(buf *bytes.Buffer, s string) error {
	if err := binary.Write(buf, binary.BigEndian, uint16(len(s))); err != nil {
		return err
	}
	buf.WriteString(s)
	return nil
}

func readString(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
