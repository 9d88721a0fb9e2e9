package app

import (
	"encoding/json"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"

	custodyauth "github.com/MrEthical07/goCustodyAuth"
)

// Config is the daemon configuration read from the environment and an
// optional .env file.
type Config struct {
	AppEnv   string `env:"CUSTODYAUTH_APP_ENV" envDefault:"local"`
	LogLevel string `env:"CUSTODYAUTH_LOG_LEVEL" envDefault:"info"`

	HTTPHost     string `env:"CUSTODYAUTH_HTTP_HOST" envDefault:"0.0.0.0"`
	HTTPPort     string `env:"CUSTODYAUTH_HTTP_PORT" envDefault:"8080"`
	HTTPBasePath string `env:"CUSTODYAUTH_HTTP_BASE_PATH" envDefault:"/api/v1"`

	DatabaseURL string `env:"CUSTODYAUTH_DATABASE_URL,required"`
	// RedisAddr "memory" runs an in-process Redis for local development.
	RedisAddr     string `env:"CUSTODYAUTH_REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"CUSTODYAUTH_REDIS_PASSWORD"`
	RedisDB       int    `env:"CUSTODYAUTH_REDIS_DB" envDefault:"0"`
	// ChallengeStore selects "redis" or "postgres" for biometric challenges.
	ChallengeStore string `env:"CUSTODYAUTH_CHALLENGE_STORE" envDefault:"redis"`

	JWTSecret   string        `env:"CUSTODYAUTH_JWT_SECRET,required"`
	JWTIssuer   string        `env:"CUSTODYAUTH_JWT_ISSUER" envDefault:"custody-auth"`
	JWTAudience string        `env:"CUSTODYAUTH_JWT_AUDIENCE" envDefault:"custody-app"`
	SessionTTL  time.Duration `env:"CUSTODYAUTH_SESSION_TTL" envDefault:"24h"`
	PendingTTL  time.Duration `env:"CUSTODYAUTH_PENDING_TTL" envDefault:"5m"`

	SecretKey            string `env:"CUSTODYAUTH_SECRET_KEY,required"`
	TOTPIssuer           string `env:"CUSTODYAUTH_TOTP_ISSUER" envDefault:"Custody Bank"`
	AllowLegacyPlaintext bool   `env:"CUSTODYAUTH_ALLOW_LEGACY_PLAINTEXT" envDefault:"false"`

	BackofficeBaseURL        string        `env:"CUSTODYAUTH_BACKOFFICE_BASE_URL,required"`
	BackofficeEcommerceToken string        `env:"CUSTODYAUTH_BACKOFFICE_ECOMMERCE_TOKEN"`
	BackofficeExtraLoginData string        `env:"CUSTODYAUTH_BACKOFFICE_EXTRA_LOGIN_DATA" envDefault:"{}"`
	BackofficeTimeout        time.Duration `env:"CUSTODYAUTH_BACKOFFICE_TIMEOUT" envDefault:"15s"`

	AuditEnabled bool `env:"CUSTODYAUTH_AUDIT_ENABLED" envDefault:"true"`

	StartupTimeout time.Duration `env:"CUSTODYAUTH_STARTUP_TIMEOUT" envDefault:"30s"`
}

// LoadConfig reads .env when present, then the process environment.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// EngineConfig maps the daemon settings onto the engine configuration and
// validates the result.
func (c *Config) EngineConfig() (custodyauth.Config, error) {
	cfg := custodyauth.DefaultConfig()
	cfg.JWT.PrivateKey = []byte(c.JWTSecret)
	cfg.JWT.Issuer = c.JWTIssuer
	cfg.JWT.Audience = c.JWTAudience
	cfg.JWT.SessionTTL = c.SessionTTL
	cfg.JWT.PendingTTL = c.PendingTTL
	cfg.Password.AllowLegacyPlaintext = c.AllowLegacyPlaintext
	cfg.TOTP.Issuer = c.TOTPIssuer
	cfg.Backoffice.BaseURL = c.BackofficeBaseURL
	cfg.Backoffice.EcommerceToken = c.BackofficeEcommerceToken
	cfg.Backoffice.ExtraLoginData = json.RawMessage(c.BackofficeExtraLoginData)
	cfg.Backoffice.Timeout = c.BackofficeTimeout
	cfg.Audit.Enabled = c.AuditEnabled
	cfg.SecretKey = []byte(c.SecretKey)
	return cfg, cfg.Validate()
}

func (c *Config) addr() string {
	return c.HTTPHost + ":" + c.HTTPPort
}
