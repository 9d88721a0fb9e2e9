package goCustodyAuth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/MrEthical07/goCustodyAuth/internal/rate"
	"github.com/MrEthical07/goCustodyAuth/totp"
)

// SetupTwoFactor generates a fresh TOTP secret and its enrollment QR code for
// userID. Nothing is stored until ActivateTwoFactor confirms a code.
func (e *Engine) SetupTwoFactor(ctx context.Context, userID int64, email string) (*TwoFactorSetup, error) {
	if !e.ready() || e.totp == nil {
		return nil, ErrEngineNotReady
	}
	user, err := e.findUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.TwoFactorEnabled {
		return nil, ErrTwoFactorAlreadyEnabled
	}

	account := strings.TrimSpace(email)
	if account == "" {
		account = user.Email
	}
	secret, err := e.totp.GenerateSecret(account)
	if err != nil {
		return nil, err
	}
	qr, err := totp.RenderQRCode(secret.URI)
	if err != nil {
		return nil, err
	}

	e.emitAudit(ctx, auditEventTwoFactorSetup, true, userID, "", nil, nil)
	return &TwoFactorSetup{
		Secret: secret.Base32,
		URI:    secret.URI,
		QRCode: qr,
	}, nil
}

// ActivateTwoFactor confirms that the user's authenticator produces code for
// secret, then stores the encrypted secret and sets the user's flag.
func (e *Engine) ActivateTwoFactor(ctx context.Context, userID int64, secret, code string) error {
	if !e.ready() || e.totp == nil || e.twoFactor == nil {
		return ErrEngineNotReady
	}
	secret = strings.TrimSpace(secret)
	if secret == "" || code == "" {
		return fmt.Errorf("%w: secret and code are required", ErrInvalidRequest)
	}

	user, err := e.findUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.TwoFactorEnabled {
		return ErrTwoFactorAlreadyEnabled
	}

	subject := strconv.FormatInt(userID, 10)
	if err := e.checkBudget(ctx, rate.ScopeTwoFactor, subject); err != nil {
		return err
	}

	ok, err := e.totp.VerifyCode(secret, code, e.clock())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if !ok {
		e.twoFactorFailed(ctx, userID, "activate")
		return ErrUnauthorized
	}

	sealed, err := e.codec.Encrypt(secret)
	if err != nil {
		return err
	}
	err = e.twoFactor.ActivateTwoFactor(ctx, TwoFactorConfig{
		UserID:          userID,
		EncryptedSecret: sealed,
		CreatedAt:       e.clock(),
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return ErrTwoFactorAlreadyEnabled
		}
		return fmt.Errorf("%w: activate two-factor: %v", ErrStoreUnavailable, err)
	}

	e.resetBudget(ctx, rate.ScopeTwoFactor, subject)
	e.metricInc(MetricTwoFactorEnabled)
	e.emitAudit(ctx, auditEventTwoFactorEnabled, true, userID, "", nil, nil)
	return nil
}

// DisableTwoFactor removes the user's second factor after checking both the
// password and a current code. A wrong password or code fails with
// ErrUnauthorized without saying which.
func (e *Engine) DisableTwoFactor(ctx context.Context, userID int64, password, code string) error {
	if !e.ready() || e.totp == nil || e.twoFactor == nil || e.passwords == nil {
		return ErrEngineNotReady
	}
	user, err := e.findUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if !user.TwoFactorEnabled {
		return ErrTwoFactorNotEnabled
	}

	subject := strconv.FormatInt(userID, 10)
	if err := e.checkBudget(ctx, rate.ScopeTwoFactor, subject); err != nil {
		return err
	}

	outcome, err := e.passwords.Check(password, user.PasswordHash)
	if err != nil {
		e.log.Warn().Err(err).Int64("user_id", userID).Msg("stored password hash is unreadable")
	}
	if !outcome.Match {
		e.twoFactorFailed(ctx, userID, "disable")
		return ErrUnauthorized
	}

	secret, err := e.loadTwoFactorSecret(ctx, userID)
	if err != nil {
		return err
	}
	ok, err := e.totp.VerifyCode(secret, code, e.clock())
	if err != nil || !ok {
		e.twoFactorFailed(ctx, userID, "disable")
		return ErrUnauthorized
	}

	if err := e.twoFactor.DisableTwoFactor(ctx, userID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrTwoFactorNotEnabled
		}
		return fmt.Errorf("%w: disable two-factor: %v", ErrStoreUnavailable, err)
	}

	e.resetBudget(ctx, rate.ScopeTwoFactor, subject)
	e.metricInc(MetricTwoFactorDisabled)
	e.emitAudit(ctx, auditEventTwoFactorDisabled, true, userID, "", nil, nil)
	return nil
}

// VerifyTwoFactorLogin completes a login held at the second factor. A wrong
// code fails with ErrUnauthorized and leaves pendingToken usable until it
// expires.
func (e *Engine) VerifyTwoFactorLogin(ctx context.Context, pendingToken, code string) (*LoginResult, error) {
	if !e.ready() || e.totp == nil || e.twoFactor == nil {
		return nil, ErrEngineNotReady
	}
	claims, err := e.jwtManager.ParsePendingTwoFactor(pendingToken)
	if err != nil {
		e.metricInc(MetricTwoFactorFailure)
		return nil, err
	}

	subject := strconv.FormatInt(claims.UserID, 10)
	if err := e.checkBudget(ctx, rate.ScopeTwoFactor, subject); err != nil {
		return nil, err
	}

	user, err := e.findUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	if !user.TwoFactorEnabled {
		return nil, ErrTwoFactorNotEnabled
	}

	secret, err := e.loadTwoFactorSecret(ctx, user.UserID)
	if err != nil {
		return nil, err
	}
	ok, err := e.totp.VerifyCode(secret, code, e.clock())
	if err != nil || !ok {
		e.twoFactorFailed(ctx, user.UserID, "login")
		return nil, ErrUnauthorized
	}
	e.resetBudget(ctx, rate.ScopeTwoFactor, subject)
	e.metricInc(MetricTwoFactorSuccess)
	e.emitAudit(ctx, auditEventTwoFactorSuccess, true, user.UserID, "", nil, nil)

	result, err := e.completeLogin(ctx, user, loginMethodTwoFactor, "")
	if err != nil {
		e.metricInc(MetricLoginFailure)
		return nil, err
	}
	return result, nil
}

func (e *Engine) loadTwoFactorSecret(ctx context.Context, userID int64) (string, error) {
	cfg, err := e.twoFactor.FindTwoFactor(ctx, userID)
	if err != nil || cfg == nil {
		if err == nil || errors.Is(err, ErrNotFound) {
			return "", ErrTwoFactorNotEnabled
		}
		return "", fmt.Errorf("%w: find two-factor: %v", ErrStoreUnavailable, err)
	}
	secret, err := e.codec.Decrypt(cfg.EncryptedSecret)
	if err != nil {
		e.log.Error().Err(err).Int64("user_id", userID).Msg("stored totp secret cannot be decrypted")
		return "", ErrDecryption
	}
	return secret, nil
}

func (e *Engine) twoFactorFailed(ctx context.Context, userID int64, stage string) {
	e.recordFailure(ctx, rate.ScopeTwoFactor, strconv.FormatInt(userID, 10))
	e.metricInc(MetricTwoFactorFailure)
	e.emitAudit(ctx, auditEventTwoFactorFailure, false, userID, "", ErrUnauthorized, func() map[string]string {
		return map[string]string{"stage": stage}
	})
}
