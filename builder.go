package goCustodyAuth

import (
	"errors"
	"net/http"
	"time"

	"github.com/MrEthical07/goCustodyAuth/backoffice"
	internalaudit "github.com/MrEthical07/goCustodyAuth/internal/audit"
	"github.com/MrEthical07/goCustodyAuth/internal/rate"
	"github.com/MrEthical07/goCustodyAuth/internal/stores"
	"github.com/MrEthical07/goCustodyAuth/jwt"
	"github.com/MrEthical07/goCustodyAuth/password"
	"github.com/MrEthical07/goCustodyAuth/secretcodec"
	"github.com/MrEthical07/goCustodyAuth/totp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Builder assembles an Engine. It is single use: Build may succeed once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	userProvider UserProvider
	devices      DeviceCredentialStore
	challenges   LoginChallengeStore
	twoFactor    TwoFactorStore
	broker       TokenBroker
	httpClient   *http.Client
	auditSink    AuditSink
	log          zerolog.Logger
	now          func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
		log:    zerolog.Nop(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client used for login throttling and, unless
// WithChallengeStore is used, for biometric challenges.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithUserProvider(up UserProvider) *Builder {
	b.userProvider = up
	return b
}

func (b *Builder) WithDeviceStore(store DeviceCredentialStore) *Builder {
	b.devices = store
	return b
}

// WithChallengeStore overrides the Redis challenge store, e.g. with
// pgstore.ChallengeStore.
func (b *Builder) WithChallengeStore(store LoginChallengeStore) *Builder {
	b.challenges = store
	return b
}

func (b *Builder) WithTwoFactorStore(store TwoFactorStore) *Builder {
	b.twoFactor = store
	return b
}

// WithTokenBroker replaces the HTTP backoffice broker built from
// Config.Backoffice.
func (b *Builder) WithTokenBroker(broker TokenBroker) *Builder {
	b.broker = broker
	return b
}

// WithHTTPClient sets the transport of the default backoffice broker.
func (b *Builder) WithHTTPClient(client *http.Client) *Builder {
	b.httpClient = client
	return b
}

func (b *Builder) WithLogger(log zerolog.Logger) *Builder {
	b.log = log
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock overrides the time source. Intended for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and collaborators and returns an Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.userProvider == nil {
		return nil, errors.New("user provider required")
	}
	if b.devices == nil {
		return nil, errors.New("device credential store required")
	}
	if b.twoFactor == nil {
		return nil, errors.New("two-factor store required")
	}
	if b.challenges == nil && b.redis == nil {
		return nil, errors.New("redis client or challenge store required")
	}

	now := b.now
	if now == nil {
		now = time.Now
	}

	engine := &Engine{
		config:       cloneConfig(cfg),
		userProvider: b.userProvider,
		devices:      b.devices,
		challenges:   b.challenges,
		twoFactor:    b.twoFactor,
		log:          b.log.With().Str("component", "custodyauth").Logger(),
		now:          now,
	}

	if engine.challenges == nil {
		engine.challenges = newRedisChallengeStore(stores.NewLoginChallengeStore(b.redis, cfg.Biometric.RedisPrefix), now)
	}
	if b.redis != nil {
		engine.limiter = rate.New(b.redis, rate.Config{
			Login:     rate.Policy{MaxAttempts: cfg.Security.MaxLoginAttempts, Window: cfg.Security.LoginCooldown},
			LoginIP:   rate.Policy{MaxAttempts: cfg.Security.MaxLoginIPAttempts, Window: cfg.Security.LoginIPCooldown},
			TwoFactor: rate.Policy{MaxAttempts: cfg.Security.MaxTwoFactorAttempts, Window: cfg.Security.TwoFactorCooldown},
			Biometric: rate.Policy{MaxAttempts: cfg.Security.MaxBiometricAttempts, Window: cfg.Security.BiometricCooldown},
		})
	}

	broker := b.broker
	if broker == nil {
		client, err := backoffice.NewClient(backoffice.ClientConfig{
			BaseURL:        cfg.Backoffice.BaseURL,
			EcommerceToken: cfg.Backoffice.EcommerceToken,
			ExtraLoginData: cfg.Backoffice.ExtraLoginData,
			Timeout:        cfg.Backoffice.Timeout,
			HTTPClient:     b.httpClient,
		})
		if err != nil {
			return nil, err
		}
		broker = backoffice.NewBroker(client, engine.log)
	}
	engine.broker = broker

	ph, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	engine.passwords = password.NewChecker(ph, cfg.Password.AllowLegacyPlaintext)

	codec, err := secretcodec.New(cfg.SecretKey)
	if err != nil {
		return nil, err
	}
	engine.codec = codec

	engine.totp = totp.NewManager(totp.Config{
		Issuer: cfg.TOTP.Issuer,
		Skew:   cfg.TOTP.Skew,
	})

	jm, err := jwt.NewManager(jwt.Config{
		SessionTTL:    cfg.JWT.SessionTTL,
		PendingTTL:    cfg.JWT.PendingTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
	})
	if err != nil {
		return nil, err
	}
	engine.jwtManager = jm.WithClock(now)

	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)

	b.built = true

	return engine, nil
}
