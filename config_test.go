package goCustodyAuth

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigNeedsKeys(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatalf("default config without keys must not validate")
	}
	valid := testConfig()
	if err := valid.Validate(); err != nil {
		t.Fatalf("test config: %v", err)
	}
}

func TestConfigValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"zero session ttl":       func(c *Config) { c.JWT.SessionTTL = 0 },
		"pending beyond session": func(c *Config) { c.JWT.PendingTTL = 48 * time.Hour },
		"signing method":         func(c *Config) { c.JWT.SigningMethod = "rs256" },
		"missing signing key":    func(c *Config) { c.JWT.PrivateKey = nil },
		"short hs256 key":        func(c *Config) { c.JWT.PrivateKey = []byte("short") },
		"weak argon memory":      func(c *Config) { c.Password.Memory = 1024 },
		"negative skew":          func(c *Config) { c.TOTP.Skew = -1 },
		"empty issuer":           func(c *Config) { c.TOTP.Issuer = " " },
		"challenge ttl":          func(c *Config) { c.Biometric.ChallengeTTL = 0 },
		"challenge bytes":        func(c *Config) { c.Biometric.ChallengeBytes = 8 },
		"extra login data":       func(c *Config) { c.Backoffice.ExtraLoginData = json.RawMessage("{") },
		"login cooldown":         func(c *Config) { c.Security.LoginCooldown = 0 },
		"negative attempts":      func(c *Config) { c.Security.MaxBiometricAttempts = -1 },
		"audit buffer":           func(c *Config) { c.Audit.Enabled = true; c.Audit.BufferSize = 0 },
		"short secret key":       func(c *Config) { c.SecretKey = []byte("short") },
	}
	for name, mutate := range cases {
		cfg := testConfig()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestConfigZeroBudgetDisablesLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Security.MaxLoginAttempts = 0
	cfg.Security.LoginCooldown = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled budget should validate: %v", err)
	}
}

func TestCloneConfigCopiesKeys(t *testing.T) {
	cfg := testConfig()
	clone := cloneConfig(cfg)
	clone.JWT.PrivateKey[0] = 'X'
	clone.SecretKey[0] = 'X'
	if cfg.JWT.PrivateKey[0] == 'X' || cfg.SecretKey[0] == 'X' {
		t.Fatalf("clone shares key memory")
	}
}

func TestBuildRequiresCollaborators(t *testing.T) {
	users := newMemUsers()
	cfg := testConfig()
	cfg.Backoffice.BaseURL = "http://backoffice.invalid"

	if _, err := New().WithConfig(cfg).Build(); err == nil || !strings.Contains(err.Error(), "user provider") {
		t.Fatalf("expected user provider error, got %v", err)
	}
	b := New().WithConfig(cfg).WithUserProvider(users).WithDeviceStore(newMemDevices()).WithTwoFactorStore(newMemTwoFactor(users))
	if _, err := b.Build(); err == nil || !strings.Contains(err.Error(), "redis") {
		t.Fatalf("expected redis error, got %v", err)
	}

	b = New().WithConfig(cfg).
		WithUserProvider(users).
		WithDeviceStore(newMemDevices()).
		WithTwoFactorStore(newMemTwoFactor(users)).
		WithChallengeStore(&nopChallengeStore{})
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer engine.Close()
	if _, err := b.Build(); err == nil {
		t.Fatalf("builder reuse must fail")
	}

	cfg.Backoffice.BaseURL = ""
	_, err = New().WithConfig(cfg).
		WithUserProvider(users).
		WithDeviceStore(newMemDevices()).
		WithTwoFactorStore(newMemTwoFactor(users)).
		WithChallengeStore(&nopChallengeStore{}).
		Build()
	if err == nil {
		t.Fatalf("missing backoffice URL without injected broker must fail")
	}
}
