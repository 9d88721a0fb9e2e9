package goCustodyAuth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestVerifySessionExpiry(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(31, "s@example.com", "pw-31-secret", false)

	res, err := env.engine.Login(context.Background(), "s@example.com", "pw-31-secret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if want := env.clock.Now().Add(24 * time.Hour); !res.SessionExpiresAt.Equal(want) {
		t.Fatalf("session expiry %v, want %v", res.SessionExpiresAt, want)
	}

	env.clock.Advance(23 * time.Hour)
	if _, err := env.engine.VerifySession(res.SessionToken); err != nil {
		t.Fatalf("VerifySession before expiry: %v", err)
	}

	env.clock.Advance(2 * time.Hour)
	_, err = env.engine.VerifySession(res.SessionToken)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	if errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expired token must not also be invalid")
	}
}

func TestDefaultSessionRejectedAtExp(t *testing.T) {
	env := newTestEnv(t)
	if env.engine.config.JWT.Leeway != 0 {
		t.Fatalf("default leeway %v, want 0", env.engine.config.JWT.Leeway)
	}
	env.seedUser(32, "exp@example.com", "pw-32-secret", false)

	res, err := env.engine.Login(context.Background(), "exp@example.com", "pw-32-secret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	env.clock.Advance(24*time.Hour - time.Second)
	if _, err := env.engine.VerifySession(res.SessionToken); err != nil {
		t.Fatalf("VerifySession one second before exp: %v", err)
	}

	env.clock.Advance(time.Second)
	if _, err := env.engine.VerifySession(res.SessionToken); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired at exp, got %v", err)
	}
}

func TestVerifySessionIgnoresStaleDelegation(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(31, "s@example.com", "pw-31-secret", false)
	env.backoffice.tokenExpiry = time.Now().Add(-time.Hour).Truncate(time.Second)

	res, err := env.engine.Login(context.Background(), "s@example.com", "pw-31-secret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	claims, err := env.engine.VerifySession(res.SessionToken)
	if err != nil {
		t.Fatalf("VerifySession: %v", err)
	}
	if !claims.Backoffice.AccessTokenExpiry.Before(time.Now()) {
		t.Fatalf("expected stale backoffice expiry, got %v", claims.Backoffice.AccessTokenExpiry)
	}
}

func TestVerifySessionRejectsTampering(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(31, "s@example.com", "pw-31-secret", false)

	res, err := env.engine.Login(context.Background(), "s@example.com", "pw-31-secret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	tampered := res.SessionToken[:len(res.SessionToken)-2] + "xx"
	if _, err := env.engine.VerifySession(tampered); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
	if got := env.engine.metrics.Value(MetricSessionRejected); got != 1 {
		t.Fatalf("expected one rejected session, got %d", got)
	}
}

func TestNilEngineIsNotReady(t *testing.T) {
	var e *Engine
	if _, err := e.Login(context.Background(), "a", "b"); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("Login: expected ErrEngineNotReady, got %v", err)
	}
	if _, err := e.VerifySession("x"); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("VerifySession: expected ErrEngineNotReady, got %v", err)
	}
	e.Close()
	if e.AuditDropped() != 0 {
		t.Fatalf("nil engine reports drops")
	}
	if snap := e.MetricsSnapshot(); len(snap.Counters) != 0 {
		t.Fatalf("nil engine has counters")
	}
}

func TestSessionFromContext(t *testing.T) {
	claims := &SessionClaims{UserID: 4}
	ctx := WithSession(context.Background(), claims)
	got, ok := SessionFromContext(ctx)
	if !ok || got.UserID != 4 {
		t.Fatalf("unexpected %v %v", got, ok)
	}
	if _, ok := SessionFromContext(context.Background()); ok {
		t.Fatalf("empty context has a session")
	}
}
