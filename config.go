package goCustodyAuth

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/goCustodyAuth/backoffice"
	"github.com/MrEthical07/goCustodyAuth/jwt"
	"github.com/MrEthical07/goCustodyAuth/totp"
)

const (
	// DefaultChallengeTTL is how long a biometric challenge stays claimable.
	DefaultChallengeTTL = 90 * time.Second
	// DefaultChallengeBytes is the entropy of a biometric challenge.
	DefaultChallengeBytes = 32
	// DefaultTOTPSkew is the number of adjacent TOTP steps accepted.
	DefaultTOTPSkew = totp.DefaultSkew
	// DefaultBackofficeTimeout bounds one backoffice request.
	DefaultBackofficeTimeout = backoffice.DefaultTimeout

	minSecretKeyBytes = 16
)

// Config holds every Engine setting. Build it from DefaultConfig and
// override fields as needed.
type Config struct {
	JWT        JWTConfig
	Password   PasswordConfig
	TOTP       TOTPConfig
	Biometric  BiometricConfig
	Backoffice BackofficeConfig
	Security   SecurityConfig
	Audit      AuditConfig
	Metrics    MetricsConfig

	// SecretKey derives the key that encrypts TOTP secrets at rest.
	SecretKey []byte
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures session and pending-token signing.
type JWTConfig struct {
	SessionTTL    time.Duration
	PendingTTL    time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration // clock-skew tolerance on exp/nbf; zero means none
	KeyID         string
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds Argon2id parameters.
//
// AllowLegacyPlaintext accepts stored values that are not PHC strings and
// compares them verbatim. With UpgradeOnLogin set, such values (and hashes
// with outdated parameters) are replaced after a successful login.
type PasswordConfig struct {
	Memory               uint32
	Time                 uint32
	Parallelism          uint8
	SaltLength           uint32
	KeyLength            uint32
	AllowLegacyPlaintext bool
	UpgradeOnLogin       bool
}

/*
====================================
SECOND FACTOR CONFIG
====================================
*/

// TOTPConfig tunes authenticator codes.
type TOTPConfig struct {
	Issuer string
	Skew   int
}

// BiometricConfig tunes device challenges.
type BiometricConfig struct {
	ChallengeTTL   time.Duration
	ChallengeBytes int
	// RedisPrefix namespaces challenge keys of the default Redis store.
	RedisPrefix string
}

/*
====================================
BACKOFFICE CONFIG
====================================
*/

// BackofficeConfig configures the default HTTP token broker. It is unused
// when a broker is injected with Builder.WithTokenBroker.
type BackofficeConfig struct {
	BaseURL        string
	EcommerceToken string
	ExtraLoginData json.RawMessage
	Timeout        time.Duration
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig holds failure budgets. A zero MaxAttempts disables a budget.
type SecurityConfig struct {
	MaxLoginAttempts     int
	LoginCooldown        time.Duration
	MaxLoginIPAttempts   int
	LoginIPCooldown      time.Duration
	MaxTwoFactorAttempts int
	TwoFactorCooldown    time.Duration
	MaxBiometricAttempts int
	BiometricCooldown    time.Duration
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns production defaults. JWT.PrivateKey, SecretKey and
// Backoffice.BaseURL have no default and must be set.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			SessionTTL:    jwt.DefaultSessionTTL,
			PendingTTL:    jwt.DefaultPendingTTL,
			SigningMethod: string(jwt.MethodHS256),
			Leeway:        0,
		},
		Password: PasswordConfig{
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			UpgradeOnLogin: true,
		},
		TOTP: TOTPConfig{
			Issuer: "Custody Bank",
			Skew:   DefaultTOTPSkew,
		},
		Biometric: BiometricConfig{
			ChallengeTTL:   DefaultChallengeTTL,
			ChallengeBytes: DefaultChallengeBytes,
			RedisPrefix:    "blc",
		},
		Backoffice: BackofficeConfig{
			Timeout: DefaultBackofficeTimeout,
		},
		Security: SecurityConfig{
			MaxLoginAttempts:     5,
			LoginCooldown:        15 * time.Minute,
			MaxLoginIPAttempts:   50,
			LoginIPCooldown:      15 * time.Minute,
			MaxTwoFactorAttempts: 5,
			TwoFactorCooldown:    5 * time.Minute,
			MaxBiometricAttempts: 10,
			BiometricCooldown:    15 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	out.SecretKey = cloneBytes(cfg.SecretKey)
	out.Backoffice.ExtraLoginData = cloneBytes(cfg.Backoffice.ExtraLoginData)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.SessionTTL <= 0 {
		return errors.New("JWT SessionTTL must be > 0")
	}
	if c.JWT.PendingTTL <= 0 {
		return errors.New("JWT PendingTTL must be > 0")
	}
	if c.JWT.PendingTTL > c.JWT.SessionTTL {
		return errors.New("JWT PendingTTL must not exceed SessionTTL")
	}
	switch jwt.SigningMethod(c.JWT.SigningMethod) {
	case jwt.MethodHS256, jwt.MethodEd25519:
	default:
		return errors.New("unsupported JWT signing method")
	}
	if len(c.JWT.PrivateKey) == 0 {
		return errors.New("JWT PrivateKey is required")
	}
	if jwt.SigningMethod(c.JWT.SigningMethod) == jwt.MethodHS256 && len(c.JWT.PrivateKey) < 32 {
		return errors.New("JWT PrivateKey must be at least 32 bytes for hs256")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}

	// Second factors
	if c.TOTP.Skew < 0 || c.TOTP.Skew > 10 {
		return errors.New("TOTP Skew must be between 0 and 10")
	}
	if strings.TrimSpace(c.TOTP.Issuer) == "" {
		return errors.New("TOTP Issuer is required")
	}
	if c.Biometric.ChallengeTTL <= 0 {
		return errors.New("Biometric ChallengeTTL must be > 0")
	}
	if c.Biometric.ChallengeBytes < 16 {
		return errors.New("Biometric ChallengeBytes must be >= 16")
	}

	// Backoffice
	if c.Backoffice.Timeout < 0 {
		return errors.New("Backoffice Timeout must be >= 0")
	}
	if len(c.Backoffice.ExtraLoginData) > 0 && !json.Valid(c.Backoffice.ExtraLoginData) {
		return errors.New("Backoffice ExtraLoginData must be valid JSON")
	}

	// Security
	budgets := []struct {
		name     string
		max      int
		cooldown time.Duration
	}{
		{"Login", c.Security.MaxLoginAttempts, c.Security.LoginCooldown},
		{"LoginIP", c.Security.MaxLoginIPAttempts, c.Security.LoginIPCooldown},
		{"TwoFactor", c.Security.MaxTwoFactorAttempts, c.Security.TwoFactorCooldown},
		{"Biometric", c.Security.MaxBiometricAttempts, c.Security.BiometricCooldown},
	}
	for _, b := range budgets {
		if b.max < 0 {
			return errors.New("Security Max" + b.name + "Attempts must be >= 0")
		}
		if b.max > 0 && b.cooldown <= 0 {
			return errors.New("Security " + b.name + "Cooldown must be > 0 when attempts are limited")
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	if len(c.SecretKey) < minSecretKeyBytes {
		return errors.New("SecretKey must be at least 16 bytes")
	}
	return nil
}
