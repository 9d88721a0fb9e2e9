package rate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Scope selects a counter family.
type Scope uint8

const (
	ScopeLogin Scope = iota
	ScopeLoginIP
	ScopeTwoFactor
	ScopeBiometric
	scopeCount
)

var scopePrefixes = [scopeCount]string{
	ScopeLogin:     "cl",
	ScopeLoginIP:   "cli",
	ScopeTwoFactor: "c2f",
	ScopeBiometric: "cbd",
}

func (s Scope) String() string {
	switch s {
	case ScopeLogin:
		return "login"
	case ScopeLoginIP:
		return "login_ip"
	case ScopeTwoFactor:
		return "two_factor"
	case ScopeBiometric:
		return "biometric"
	default:
		return "unknown"
	}
}

// Policy is the attempt budget of one scope. A zero MaxAttempts disables it.
type Policy struct {
	MaxAttempts int
	Window      time.Duration
}

// Config holds a Policy per scope.
type Config struct {
	Login     Policy
	LoginIP   Policy
	TwoFactor Policy
	Biometric Policy
}

func (c Config) policy(s Scope) Policy {
	switch s {
	case ScopeLogin:
		return c.Login
	case ScopeLoginIP:
		return c.LoginIP
	case ScopeTwoFactor:
		return c.TwoFactor
	case ScopeBiometric:
		return c.Biometric
	default:
		return Policy{}
	}
}

// Limiter counts failed attempts in Redis.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New returns a Limiter backed by redisClient.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

// Check returns ErrRateLimited if subject has used up its budget in scope.
// Empty subjects are never limited.
func (l *Limiter) Check(ctx context.Context, scope Scope, subject string) error {
	if l == nil {
		return nil
	}
	p := l.config.policy(scope)
	if p.MaxAttempts <= 0 || subject == "" {
		return nil
	}

	count, err := l.redis.Get(ctx, key(scope, subject)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count >= int64(p.MaxAttempts) {
		return ErrRateLimited
	}
	return nil
}

// Fail records one failed attempt for subject in scope.
func (l *Limiter) Fail(ctx context.Context, scope Scope, subject string) error {
	if l == nil {
		return nil
	}
	p := l.config.policy(scope)
	if p.MaxAttempts <= 0 || subject == "" {
		return nil
	}

	k := key(scope, subject)
	count, err := l.redis.Incr(ctx, k).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, k, p.Window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	return nil
}

// Reset clears the counters of the given subjects in scope.
func (l *Limiter) Reset(ctx context.Context, scope Scope, subjects ...string) error {
	if l == nil {
		return nil
	}
	keys := make([]string, 0, len(subjects))
	for _, s := range subjects {
		if s != "" {
			keys = append(keys, key(scope, s))
		}
	}
	if len(keys) == 0 {
		return nil
	}
	if err := l.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Attempts returns the current counter for subject in scope.
func (l *Limiter) Attempts(ctx context.Context, scope Scope, subject string) (int, error) {
	count, err := l.redis.Get(ctx, key(scope, subject)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

func key(scope Scope, subject string) string {
	prefix := "cx"
	if scope < scopeCount {
		prefix = scopePrefixes[scope]
	}
	// Emails are case-insensitive identifiers.
	if scope == ScopeLogin {
		subject = strings.ToLower(strings.TrimSpace(subject))
	}
	return prefix + ":" + subject
}
