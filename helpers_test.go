package goCustodyAuth

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/goCustodyAuth/secretcodec"
	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
)

var testHS256Key = []byte("0123456789abcdef0123456789abcdef")

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

/*
====================================
IN-MEMORY STORES
====================================
*/

type memUsers struct {
	mu          sync.Mutex
	users       map[int64]*UserRecord
	delegations map[int64]*DelegatedAuthState
}

func newMemUsers() *memUsers {
	return &memUsers{
		users:       map[int64]*UserRecord{},
		delegations: map[int64]*DelegatedAuthState{},
	}
}

func (m *memUsers) add(u UserRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := u
	m.users[u.UserID] = &cp
}

func (m *memUsers) addDelegation(d DelegatedAuthState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := d
	m.delegations[d.UserID] = &cp
}

func (m *memUsers) get(userID int64) UserRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.users[userID]
}

func (m *memUsers) FindUserByEmail(_ context.Context, email string) (*UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrUserNotFound
}

func (m *memUsers) FindUserByID(_ context.Context, userID int64) (*UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) FindDelegationByUserID(_ context.Context, userID int64) (*DelegatedAuthState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.delegations[userID]
	if !ok {
		return nil, ErrDelegationNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *memUsers) UpdatePasswordHash(_ context.Context, userID int64, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.PasswordHash = hash
	return nil
}

func (m *memUsers) setTwoFactorFlag(userID int64, enabled bool) {
	if u, ok := m.users[userID]; ok {
		u.TwoFactorEnabled = enabled
	}
}

type memDevices struct {
	mu    sync.Mutex
	creds map[string]DeviceCredential
}

func newMemDevices() *memDevices {
	return &memDevices{creds: map[string]DeviceCredential{}}
}

func (m *memDevices) get(deviceID string) (DeviceCredential, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[deviceID]
	return c, ok
}

func (m *memDevices) UpsertCredential(_ context.Context, cred DeviceCredential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.creds[cred.DeviceID]; ok {
		cred.CreatedAt = prev.CreatedAt
		cred.LastUsedAt = prev.LastUsedAt
	}
	cred.RevokedAt = nil
	m.creds[cred.DeviceID] = cred
	return nil
}

func (m *memDevices) FindActiveCredential(_ context.Context, deviceID string) (*DeviceCredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[deviceID]
	if !ok || c.RevokedAt != nil {
		return nil, ErrDeviceNotEnrolled
	}
	return &c, nil
}

func (m *memDevices) TouchCredential(_ context.Context, deviceID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[deviceID]
	if !ok {
		return ErrDeviceNotEnrolled
	}
	c.LastUsedAt = &at
	m.creds[deviceID] = c
	return nil
}

func (m *memDevices) RevokeCredential(_ context.Context, deviceID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[deviceID]
	if !ok || c.RevokedAt != nil {
		return ErrDeviceNotEnrolled
	}
	c.RevokedAt = &at
	m.creds[deviceID] = c
	return nil
}

// memTwoFactor couples config rows with the user flag under the users lock.
type memTwoFactor struct {
	users   *memUsers
	configs map[int64]TwoFactorConfig
}

func newMemTwoFactor(users *memUsers) *memTwoFactor {
	return &memTwoFactor{users: users, configs: map[int64]TwoFactorConfig{}}
}

func (m *memTwoFactor) FindTwoFactor(_ context.Context, userID int64) (*TwoFactorConfig, error) {
	m.users.mu.Lock()
	defer m.users.mu.Unlock()
	cfg, ok := m.configs[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &cfg, nil
}

func (m *memTwoFactor) ActivateTwoFactor(_ context.Context, cfg TwoFactorConfig) error {
	m.users.mu.Lock()
	defer m.users.mu.Unlock()
	if _, ok := m.configs[cfg.UserID]; ok {
		return ErrTwoFactorAlreadyEnabled
	}
	m.configs[cfg.UserID] = cfg
	m.users.setTwoFactorFlag(cfg.UserID, true)
	return nil
}

func (m *memTwoFactor) DisableTwoFactor(_ context.Context, userID int64) error {
	m.users.mu.Lock()
	defer m.users.mu.Unlock()
	if _, ok := m.configs[userID]; !ok {
		return ErrNotFound
	}
	delete(m.configs, userID)
	m.users.setTwoFactorFlag(userID, false)
	return nil
}

func (m *memTwoFactor) config(userID int64) (TwoFactorConfig, bool) {
	m.users.mu.Lock()
	defer m.users.mu.Unlock()
	cfg, ok := m.configs[userID]
	return cfg, ok
}

func (m *memTwoFactor) corrupt(userID int64) {
	m.users.mu.Lock()
	defer m.users.mu.Unlock()
	cfg := m.configs[userID]
	cfg.EncryptedSecret = "not:sealed"
	m.configs[userID] = cfg
}

/*
====================================
FAKE BACKOFFICE
====================================
*/

type fakeBackoffice struct {
	server        *httptest.Server
	primaryStatus atomic.Int32
	refreshStatus atomic.Int32
	primaryCalls  atomic.Int32
	refreshCalls  atomic.Int32
	tokenExpiry   time.Time

	mu       sync.Mutex
	requests []map[string]interface{}
}

func newFakeBackoffice(t *testing.T) *fakeBackoffice {
	t.Helper()
	fb := &fakeBackoffice{tokenExpiry: time.Now().Add(time.Hour).Truncate(time.Second)}
	fb.primaryStatus.Store(http.StatusOK)
	fb.refreshStatus.Store(http.StatusOK)

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/get-customer-connection-token", func(w http.ResponseWriter, r *http.Request) {
		fb.primaryCalls.Add(1)
		fb.serve(w, r, int(fb.primaryStatus.Load()), "oauth_token", "primary-access")
	})
	mux.HandleFunc("/oauth/v1/refresh-customer-token", func(w http.ResponseWriter, r *http.Request) {
		fb.refreshCalls.Add(1)
		fb.serve(w, r, int(fb.refreshStatus.Load()), "access_token", "refreshed-access")
	})
	fb.server = httptest.NewServer(mux)
	t.Cleanup(fb.server.Close)
	return fb
}

func (fb *fakeBackoffice) serve(w http.ResponseWriter, r *http.Request, status int, field, token string) {
	var body map[string]interface{}
	_ = json.NewDecoder(r.Body).Decode(&body)
	fb.mu.Lock()
	fb.requests = append(fb.requests, body)
	fb.mu.Unlock()

	if status != http.StatusOK {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"response": map[string]interface{}{
			field:                  token,
			"expiration_timestamp": fb.tokenExpiry.Unix(),
			"refresh_token":        "rotated-refresh",
			"client_state":         body["client_state"],
			"customer_id":          body["customer_id"],
		},
	})
}

func (fb *fakeBackoffice) totalCalls() int32 {
	return fb.primaryCalls.Load() + fb.refreshCalls.Load()
}

/*
====================================
ENGINE FIXTURE
====================================
*/

type testEnv struct {
	engine     *Engine
	users      *memUsers
	devices    *memDevices
	twoFactor  *memTwoFactor
	backoffice *fakeBackoffice
	redis      *miniredis.Miniredis
	clock      *testClock
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = testHS256Key
	cfg.SecretKey = []byte("test-secret-key-for-totp-seeds")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Password.AllowLegacyPlaintext = true
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	return cfg
}

func newTestEnv(t *testing.T, mutate ...func(*Config)) *testEnv {
	t.Helper()
	return buildTestEnv(t, nil, mutate...)
}

func newTestEnvWithSink(t *testing.T, sink AuditSink, mutate ...func(*Config)) *testEnv {
	t.Helper()
	mutate = append(mutate, func(cfg *Config) {
		cfg.Audit.Enabled = true
		cfg.Audit.BufferSize = 64
	})
	return buildTestEnv(t, sink, mutate...)
}

func buildTestEnv(t *testing.T, sink AuditSink, mutate ...func(*Config)) *testEnv {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	env := &testEnv{
		users:      newMemUsers(),
		devices:    newMemDevices(),
		backoffice: newFakeBackoffice(t),
		redis:      mr,
		clock:      newTestClock(),
	}
	env.twoFactor = newMemTwoFactor(env.users)

	cfg := testConfig()
	cfg.Backoffice.BaseURL = env.backoffice.server.URL
	for _, fn := range mutate {
		fn(&cfg)
	}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserProvider(env.users).
		WithDeviceStore(env.devices).
		WithTwoFactorStore(env.twoFactor).
		WithClock(env.clock.Now).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)
	env.engine = engine
	return env
}

// seedUser adds a user with plaintext password and a delegation.
func (env *testEnv) seedUser(userID int64, email, password string, twoFactor bool) {
	env.users.add(UserRecord{
		UserID:           userID,
		Email:            email,
		PasswordHash:     password,
		TwoFactorEnabled: twoFactor,
	})
	env.users.addDelegation(DelegatedAuthState{
		UserID:             userID,
		PrivateKey:         "delegation-private-key",
		RefreshToken:       "stored-refresh",
		ExternalCustomerID: fmt.Sprintf("cust-%d", userID),
		WalletID:           fmt.Sprintf("wallet-%d", userID),
		DeviceID:           "bo-device",
	})
}

// enableTwoFactor stores a sealed secret for userID and returns the secret.
func (env *testEnv) enableTwoFactor(t *testing.T, userID int64) string {
	t.Helper()
	secret, err := env.engine.totp.GenerateSecret("user")
	if err != nil {
		t.Fatalf("GenerateSecret: %v", err)
	}
	sealed, err := env.engine.codec.Encrypt(secret.Base32)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if err := env.twoFactor.ActivateTwoFactor(context.Background(), TwoFactorConfig{
		UserID:          userID,
		EncryptedSecret: sealed,
		CreatedAt:       env.clock.Now(),
	}); err != nil {
		t.Fatalf("ActivateTwoFactor: %v", err)
	}
	return secret.Base32
}

func (env *testEnv) code(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	code, err := env.engine.totp.Code(secret, at)
	if err != nil {
		t.Fatalf("Code: %v", err)
	}
	return code
}

type testDevice struct {
	key *ecdsa.PrivateKey
	jwk secretcodec.JWK
}

func newTestDevice(t *testing.T) *testDevice {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return &testDevice{
		key: key,
		jwk: secretcodec.JWK{
			Kty: "EC",
			Crv: "P-256",
			X:   base64.RawURLEncoding.EncodeToString(key.PublicKey.X.FillBytes(make([]byte, 32))),
			Y:   base64.RawURLEncoding.EncodeToString(key.PublicKey.Y.FillBytes(make([]byte, 32))),
		},
	}
}

func (d *testDevice) sign(t *testing.T, message string) string {
	t.Helper()
	sig, err := jwt.SigningMethodES256.Sign(message, d.key)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return base64.RawURLEncoding.EncodeToString(sig)
}

// decodePayload returns the JSON claims of a compact JWT without verifying it.
func decodePayload(t *testing.T, token string) map[string]interface{} {
	t.Helper()
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("token has %d segments", len(parts))
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	return out
}

type nopChallengeStore struct{}

func (*nopChallengeStore) CreateChallenge(context.Context, LoginChallenge) error { return nil }

func (*nopChallengeStore) GetChallenge(context.Context, string) (*LoginChallenge, error) {
	return nil, ErrNotFound
}

func (*nopChallengeStore) ConsumeChallenge(context.Context, string, time.Time) (bool, error) {
	return false, nil
}
