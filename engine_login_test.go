package goCustodyAuth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestLoginUser46IssuesSessionWithStoredCustomerID(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(46, "user46@example.com", "correctpw", false)

	res, err := env.engine.Login(context.Background(), "user46@example.com", "correctpw")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.TwoFactorRequired || res.PendingToken != "" {
		t.Fatalf("expected a session, got pending result %+v", res)
	}
	if res.SessionToken == "" || res.Delegation == nil {
		t.Fatalf("missing session or delegation: %+v", res)
	}

	claims, err := env.engine.VerifySession(res.SessionToken)
	if err != nil {
		t.Fatalf("VerifySession: %v", err)
	}
	if claims.UserID != 46 {
		t.Fatalf("expected user 46, got %d", claims.UserID)
	}
	if claims.Backoffice.ExternalCustomerID != "cust-46" {
		t.Fatalf("unexpected customer id %q", claims.Backoffice.ExternalCustomerID)
	}
	if claims.Backoffice.AccessToken != "primary-access" {
		t.Fatalf("unexpected access token %q", claims.Backoffice.AccessToken)
	}
	if !claims.Backoffice.AccessTokenExpiry.After(env.clock.Now()) {
		t.Fatalf("access token expiry should be in the future, got %v", claims.Backoffice.AccessTokenExpiry)
	}
	if claims.Backoffice.WalletID != "wallet-46" {
		t.Fatalf("unexpected wallet id %q", claims.Backoffice.WalletID)
	}

	payload := decodePayload(t, res.SessionToken)
	if uid, _ := payload["uid"].(float64); uid != 46 {
		t.Fatalf("payload uid = %v", payload["uid"])
	}
	bo, ok := payload["backoffice"].(map[string]interface{})
	if !ok || bo["customer_id"] != "cust-46" {
		t.Fatalf("payload backoffice = %v", payload["backoffice"])
	}

	if got := env.backoffice.primaryCalls.Load(); got != 1 {
		t.Fatalf("expected 1 primary call, got %d", got)
	}
	if got := env.backoffice.refreshCalls.Load(); got != 0 {
		t.Fatalf("expected no refresh call, got %d", got)
	}
}

func TestLoginSendsDelegatedCredentials(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(7, "seven@example.com", "password-7", false)

	if _, err := env.engine.Login(context.Background(), "seven@example.com", "password-7"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	env.backoffice.mu.Lock()
	defer env.backoffice.mu.Unlock()
	if len(env.backoffice.requests) != 1 {
		t.Fatalf("expected 1 backoffice request, got %d", len(env.backoffice.requests))
	}
	req := env.backoffice.requests[0]
	if req["customer_id"] != "cust-7" || req["customer_private_key"] != "delegation-private-key" ||
		req["customer_refresh_token"] != "stored-refresh" || req["device_id"] != "bo-device" {
		t.Fatalf("unexpected request body %v", req)
	}
	if s, _ := req["client_state"].(string); s == "" {
		t.Fatalf("client_state must be set")
	}
}

func TestLoginUpgradesLegacyPassword(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(46, "user46@example.com", "correctpw", false)

	if _, err := env.engine.Login(context.Background(), "user46@example.com", "correctpw"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	stored := env.users.get(46).PasswordHash
	if !strings.HasPrefix(stored, "$argon2id$") {
		t.Fatalf("expected upgraded hash, got %q", stored)
	}
	if got := env.engine.metrics.Value(MetricPasswordRehashed); got != 1 {
		t.Fatalf("expected one rehash, got %d", got)
	}

	// The upgraded hash keeps working.
	if _, err := env.engine.Login(context.Background(), "USER46@example.com ", "correctpw"); err != nil {
		t.Fatalf("Login after upgrade: %v", err)
	}
}

func TestLoginRejectsPlaintextWhenLegacyDisabled(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.Password.AllowLegacyPlaintext = false
	})
	env.seedUser(1, "a@example.com", "correctpw", false)

	_, err := env.engine.Login(context.Background(), "a@example.com", "correctpw")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLoginInvalidCredentialsDoNotRevealWhich(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(1, "a@example.com", "correctpw", false)

	_, unknown := env.engine.Login(context.Background(), "nobody@example.com", "correctpw")
	_, wrong := env.engine.Login(context.Background(), "a@example.com", "wrongpw")
	_, empty := env.engine.Login(context.Background(), "a@example.com", "")

	for name, err := range map[string]error{"unknown": unknown, "wrong": wrong, "empty": empty} {
		if err != ErrInvalidCredentials {
			t.Fatalf("%s: expected bare ErrInvalidCredentials, got %v", name, err)
		}
	}
	if env.backoffice.totalCalls() != 0 {
		t.Fatalf("backoffice must not be called on failed credentials")
	}
}

func TestLoginWithTwoFactorReturnsPendingToken(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(9, "nine@example.com", "correctpw", false)
	env.enableTwoFactor(t, 9)

	res, err := env.engine.Login(context.Background(), "nine@example.com", "correctpw")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !res.TwoFactorRequired || res.PendingToken == "" || res.SessionToken != "" || res.Delegation != nil {
		t.Fatalf("expected pending-only result, got %+v", res)
	}
	if env.backoffice.totalCalls() != 0 {
		t.Fatalf("backoffice must not be called before the second factor")
	}

	payload := decodePayload(t, res.PendingToken)
	if _, ok := payload["backoffice"]; ok {
		t.Fatalf("pending token must not carry a delegation: %v", payload)
	}
	if payload["purpose"] != "2fa-verification" {
		t.Fatalf("unexpected purpose %v", payload["purpose"])
	}

	if _, err := env.engine.VerifySession(res.PendingToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("pending token used as session: expected ErrTokenInvalid, got %v", err)
	}
	pending, err := env.engine.VerifyPendingTwoFactor(res.PendingToken)
	if err != nil {
		t.Fatalf("VerifyPendingTwoFactor: %v", err)
	}
	if pending.UserID != 9 || pending.Email != "nine@example.com" {
		t.Fatalf("unexpected pending claims %+v", pending)
	}
}

func TestLoginMissingDelegationIsProvisioningError(t *testing.T) {
	env := newTestEnv(t)
	env.users.add(UserRecord{UserID: 3, Email: "c@example.com", PasswordHash: "correctpw"})

	_, err := env.engine.Login(context.Background(), "c@example.com", "correctpw")
	if !errors.Is(err, ErrDelegationNotFound) || !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrDelegationNotFound, got %v", err)
	}
	if errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("provisioning gap must not look like a credential failure")
	}
	if HTTPStatus(err) != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", HTTPStatus(err))
	}
	if got := env.engine.metrics.Value(MetricDelegationMissing); got != 1 {
		t.Fatalf("expected delegation-missing metric, got %d", got)
	}
}

func TestLoginFallsBackToRefreshOnce(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(5, "e@example.com", "correctpw", false)
	env.backoffice.primaryStatus.Store(http.StatusUnauthorized)

	res, err := env.engine.Login(context.Background(), "e@example.com", "correctpw")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.Delegation.AccessToken != "refreshed-access" {
		t.Fatalf("expected refreshed token, got %q", res.Delegation.AccessToken)
	}
	if p, r := env.backoffice.primaryCalls.Load(), env.backoffice.refreshCalls.Load(); p != 1 || r != 1 {
		t.Fatalf("expected one call per endpoint, got primary=%d refresh=%d", p, r)
	}
	if got := env.engine.metrics.Value(MetricBackofficeRefreshFallback); got != 1 {
		t.Fatalf("expected fallback metric, got %d", got)
	}
}

func TestLoginUpstreamUnavailableAfterTwoCalls(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(5, "e@example.com", "correctpw", false)
	env.backoffice.primaryStatus.Store(http.StatusBadGateway)
	env.backoffice.refreshStatus.Store(http.StatusInternalServerError)

	_, err := env.engine.Login(context.Background(), "e@example.com", "correctpw")
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
	if HTTPStatus(err) != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", HTTPStatus(err))
	}
	if got := env.backoffice.totalCalls(); got != 2 {
		t.Fatalf("expected exactly 2 backoffice calls, got %d", got)
	}
	if ErrorCode(err) != "upstream_unavailable" {
		t.Fatalf("unexpected error code %q", ErrorCode(err))
	}
}

func TestLoginRateLimitedPerEmail(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.Security.MaxLoginAttempts = 3
	})
	env.seedUser(1, "a@example.com", "correctpw", false)
	ctx := WithClientIP(context.Background(), "203.0.113.7")

	for i := 0; i < 3; i++ {
		if _, err := env.engine.Login(ctx, "a@example.com", "nope"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i, err)
		}
	}
	_, err := env.engine.Login(ctx, "a@example.com", "correctpw")
	if !errors.Is(err, ErrLoginRateLimited) {
		t.Fatalf("expected ErrLoginRateLimited, got %v", err)
	}
	if HTTPStatus(err) != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", HTTPStatus(err))
	}

	env.redis.FastForward(16 * time.Minute)
	if _, err := env.engine.Login(ctx, "a@example.com", "correctpw"); err != nil {
		t.Fatalf("Login after cooldown: %v", err)
	}
}

func TestLoginSuccessResetsEmailBudget(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.Security.MaxLoginAttempts = 3
	})
	env.seedUser(1, "a@example.com", "correctpw", false)
	ctx := context.Background()

	for round := 0; round < 3; round++ {
		for i := 0; i < 2; i++ {
			_, _ = env.engine.Login(ctx, "a@example.com", "nope")
		}
		if _, err := env.engine.Login(ctx, "a@example.com", "correctpw"); err != nil {
			t.Fatalf("round %d: %v", round, err)
		}
	}
}

func TestLoginEmitsAuditEvents(t *testing.T) {
	sink := NewChannelSink(16)
	env := newTestEnvWithSink(t, sink)
	env.seedUser(46, "user46@example.com", "correctpw", false)

	ctx := WithUserAgent(WithClientIP(context.Background(), "198.51.100.1"), "test-agent")
	if _, err := env.engine.Login(ctx, "user46@example.com", "correctpw"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	env.engine.Close()

	seen := map[string]AuditEvent{}
	for len(sink.Events()) > 0 {
		ev := <-sink.Events()
		seen[ev.EventType] = ev
	}
	login, ok := seen[auditEventLoginSuccess]
	if !ok {
		t.Fatalf("missing login_success, saw %v", seen)
	}
	if login.UserID != "46" || login.IP != "198.51.100.1" || login.UserAgent != "test-agent" {
		t.Fatalf("unexpected event %+v", login)
	}
	if _, ok := seen[auditEventSessionIssued]; !ok {
		t.Fatalf("missing session_issued")
	}
}
