package goCustodyAuth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/goCustodyAuth/internal/rate"
)

// Login authenticates email and password. When the user has a second factor
// the result carries a pending token and no session; otherwise a backoffice
// token is acquired and a session issued.
//
// Unknown emails and wrong passwords both fail with ErrInvalidCredentials.
func (e *Engine) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	if !e.ready() || e.passwords == nil {
		return nil, ErrEngineNotReady
	}
	email = normalizeEmail(email)
	ip := ClientIPFromContext(ctx)

	if err := e.checkBudget(ctx, rate.ScopeLogin, email); err != nil {
		return nil, e.loginRejected(ctx, err, email)
	}
	if err := e.checkBudget(ctx, rate.ScopeLoginIP, ip); err != nil {
		return nil, e.loginRejected(ctx, err, email)
	}

	if email == "" || password == "" {
		e.loginFailed(ctx, 0, email, ip, "empty_credentials")
		return nil, ErrInvalidCredentials
	}

	user, err := e.userProvider.FindUserByEmail(ctx, email)
	if err != nil || user == nil {
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: find user: %v", ErrStoreUnavailable, err)
		}
		e.loginFailed(ctx, 0, email, ip, "user_not_found")
		return nil, ErrInvalidCredentials
	}

	outcome, err := e.passwords.Check(password, user.PasswordHash)
	if err != nil {
		e.log.Warn().Err(err).Int64("user_id", user.UserID).Msg("stored password hash is unreadable")
	}
	if !outcome.Match {
		e.loginFailed(ctx, user.UserID, email, ip, "password_mismatch")
		return nil, ErrInvalidCredentials
	}

	e.resetBudget(ctx, rate.ScopeLogin, email)
	if outcome.Rehash && e.config.Password.UpgradeOnLogin {
		e.upgradePassword(ctx, user.UserID, password)
	}

	result, err := e.twoFactorGate(ctx, user, loginMethodPassword, "")
	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, user.UserID, "", err, func() map[string]string {
			return map[string]string{"method": loginMethodPassword, "reason": "session"}
		})
		return nil, err
	}
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, user.UserID, "", nil, func() map[string]string {
		return map[string]string{
			"method":             loginMethodPassword,
			"two_factor_pending": boolString(result.TwoFactorRequired),
		}
	})
	return result, nil
}

// twoFactorGate stops at a pending token for users with a second factor and
// completes the login for everyone else.
func (e *Engine) twoFactorGate(ctx context.Context, user *UserRecord, method, deviceID string) (*LoginResult, error) {
	if !user.TwoFactorEnabled {
		return e.completeLogin(ctx, user, method, deviceID)
	}

	token, expiresAt, err := e.jwtManager.IssuePendingTwoFactor(user.UserID, user.Email)
	if err != nil {
		return nil, fmt.Errorf("issue pending token: %w", err)
	}
	e.metricInc(MetricTwoFactorRequired)
	e.emitAudit(ctx, auditEventTwoFactorRequired, true, user.UserID, deviceID, nil, func() map[string]string {
		return map[string]string{"method": method}
	})
	return &LoginResult{
		UserID:            user.UserID,
		TwoFactorRequired: true,
		PendingToken:      token,
		PendingExpiresAt:  expiresAt,
	}, nil
}

func (e *Engine) upgradePassword(ctx context.Context, userID int64, password string) {
	hash, err := e.passwords.Hasher().Hash(password)
	if err != nil {
		e.log.Warn().Err(err).Int64("user_id", userID).Msg("password rehash failed")
		return
	}
	if err := e.userProvider.UpdatePasswordHash(ctx, userID, hash); err != nil {
		e.log.Warn().Err(err).Int64("user_id", userID).Msg("password hash update failed")
		return
	}
	e.metricInc(MetricPasswordRehashed)
	e.emitAudit(ctx, auditEventPasswordRehashed, true, userID, "", nil, nil)
}

func (e *Engine) loginFailed(ctx context.Context, userID int64, email, ip, reason string) {
	e.recordFailure(ctx, rate.ScopeLogin, email)
	e.recordFailure(ctx, rate.ScopeLoginIP, ip)
	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, auditEventLoginFailure, false, userID, "", ErrInvalidCredentials, func() map[string]string {
		return map[string]string{
			"method":     loginMethodPassword,
			"identifier": email,
			"reason":     reason,
		}
	})
}

func (e *Engine) loginRejected(ctx context.Context, err error, email string) error {
	if errors.Is(err, ErrLoginRateLimited) {
		e.emitAudit(ctx, auditEventLoginRateLimited, false, 0, "", err, func() map[string]string {
			return map[string]string{"identifier": email}
		})
	}
	return err
}

// checkBudget fails with ErrLoginRateLimited once subject has exhausted its
// attempts in scope. Limiter outages fail closed.
func (e *Engine) checkBudget(ctx context.Context, scope rate.Scope, subject string) error {
	if e.limiter == nil {
		return nil
	}
	err := e.limiter.Check(ctx, scope, subject)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, rate.ErrRateLimited):
		e.emitRateLimit(ctx, scope.String(), 0)
		return ErrLoginRateLimited
	default:
		e.log.Error().Err(err).Str("scope", scope.String()).Msg("rate limiter unavailable")
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}

func (e *Engine) recordFailure(ctx context.Context, scope rate.Scope, subject string) {
	if e.limiter == nil {
		return
	}
	if err := e.limiter.Fail(ctx, scope, subject); err != nil {
		e.log.Warn().Err(err).Str("scope", scope.String()).Msg("failed to record attempt")
	}
}

func (e *Engine) resetBudget(ctx context.Context, scope rate.Scope, subject string) {
	if e.limiter == nil {
		return
	}
	if err := e.limiter.Reset(ctx, scope, subject); err != nil {
		e.log.Warn().Err(err).Str("scope", scope.String()).Msg("failed to reset attempts")
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
