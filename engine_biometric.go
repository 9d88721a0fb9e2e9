package goCustodyAuth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/goCustodyAuth/internal/rate"
	"github.com/MrEthical07/goCustodyAuth/secretcodec"
	"github.com/google/uuid"
)

const maxDeviceIDLength = 255

// EnrollDevice stores jwk as the active key of deviceID for userID. An
// existing credential for the device is replaced and any revocation cleared.
// An empty algorithm defaults to the algorithm of the key's curve.
func (e *Engine) EnrollDevice(ctx context.Context, userID int64, deviceID string, jwk secretcodec.JWK, algorithm string) error {
	if !e.ready() || e.devices == nil {
		return ErrEngineNotReady
	}
	deviceID = strings.TrimSpace(deviceID)
	if userID <= 0 || deviceID == "" || len(deviceID) > maxDeviceIDLength {
		return fmt.Errorf("%w: user and device id are required", ErrInvalidRequest)
	}

	key, err := secretcodec.ParseJWK(jwk)
	if err != nil {
		return fmt.Errorf("%w: public key: %v", ErrInvalidRequest, err)
	}
	if algorithm == "" {
		algorithm = key.Algorithm()
	}
	if err := secretcodec.CheckAlgorithm(jwk, algorithm); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	if _, err := e.findUserByID(ctx, userID); err != nil {
		return err
	}

	now := e.clock()
	err = e.devices.UpsertCredential(ctx, DeviceCredential{
		DeviceID:  deviceID,
		UserID:    userID,
		PublicKey: jwk,
		Algorithm: key.Algorithm(),
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return fmt.Errorf("%w: upsert credential: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricDeviceEnrolled)
	e.emitAudit(ctx, auditEventDeviceEnrolled, true, userID, deviceID, nil, func() map[string]string {
		return map[string]string{"algorithm": key.Algorithm()}
	})
	return nil
}

// CreateBiometricChallenge issues a single-use challenge for an enrolled
// device. It fails with ErrDeviceNotEnrolled when the device has no active
// credential.
func (e *Engine) CreateBiometricChallenge(ctx context.Context, deviceID string) (*BiometricChallenge, error) {
	if !e.ready() || e.devices == nil || e.challenges == nil {
		return nil, ErrEngineNotReady
	}
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return nil, fmt.Errorf("%w: device id is required", ErrInvalidRequest)
	}

	cred, err := e.devices.FindActiveCredential(ctx, deviceID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrDeviceNotEnrolled
		}
		return nil, fmt.Errorf("%w: find credential: %v", ErrStoreUnavailable, err)
	}
	if !cred.Active() {
		return nil, ErrDeviceNotEnrolled
	}

	value, err := secretcodec.RandomOpaqueToken(e.config.Biometric.ChallengeBytes)
	if err != nil {
		return nil, err
	}
	ttl := e.config.Biometric.ChallengeTTL
	challenge := LoginChallenge{
		ChallengeID: uuid.NewString(),
		DeviceID:    deviceID,
		Challenge:   value,
		ExpiresAt:   e.clock().Add(ttl),
	}
	if err := e.challenges.CreateChallenge(ctx, challenge); err != nil {
		return nil, err
	}

	e.metricInc(MetricChallengeIssued)
	e.emitAudit(ctx, auditEventChallengeIssued, true, cred.UserID, deviceID, nil, nil)

	return &BiometricChallenge{
		ChallengeID:      challenge.ChallengeID,
		Challenge:        challenge.Challenge,
		ExpiresAt:        challenge.ExpiresAt,
		ExpiresInSeconds: int(ttl.Seconds()),
	}, nil
}

// LoginBiometric verifies signature over a previously issued challenge and
// continues the login as the device's owner. Every rejection is reported as
// ErrUnauthorized: unknown or revoked device, unknown, foreign, used or
// expired challenge, and bad signature alike.
func (e *Engine) LoginBiometric(ctx context.Context, deviceID, challengeID, signature string) (*LoginResult, error) {
	if !e.ready() || e.devices == nil || e.challenges == nil {
		return nil, ErrEngineNotReady
	}
	deviceID = strings.TrimSpace(deviceID)
	ip := ClientIPFromContext(ctx)
	budget := biometricBudgetSubject(deviceID, ip)

	if err := e.checkBudget(ctx, rate.ScopeBiometric, budget); err != nil {
		return nil, err
	}
	if err := e.checkBudget(ctx, rate.ScopeLoginIP, ip); err != nil {
		return nil, err
	}

	reject := func(userID int64, reason string) error {
		e.recordFailure(ctx, rate.ScopeBiometric, budget)
		e.recordFailure(ctx, rate.ScopeLoginIP, ip)
		e.metricInc(MetricBiometricFailure)
		e.emitAudit(ctx, auditEventBiometricFailure, false, userID, deviceID, ErrUnauthorized, func() map[string]string {
			return map[string]string{"reason": reason}
		})
		return ErrUnauthorized
	}

	if deviceID == "" || challengeID == "" || signature == "" {
		return nil, reject(0, "missing_input")
	}

	cred, err := e.devices.FindActiveCredential(ctx, deviceID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, reject(0, "device_not_enrolled")
		}
		return nil, fmt.Errorf("%w: find credential: %v", ErrStoreUnavailable, err)
	}
	if !cred.Active() {
		return nil, reject(cred.UserID, "device_revoked")
	}

	challenge, err := e.challenges.GetChallenge(ctx, challengeID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, reject(cred.UserID, "challenge_not_found")
		}
		return nil, fmt.Errorf("%w: get challenge: %v", ErrStoreUnavailable, err)
	}

	now := e.clock()
	switch {
	case challenge.DeviceID != deviceID:
		return nil, reject(cred.UserID, "device_mismatch")
	case challenge.UsedAt != nil:
		return nil, reject(cred.UserID, "challenge_used")
	case !now.Before(challenge.ExpiresAt):
		return nil, reject(cred.UserID, "challenge_expired")
	}

	if err := secretcodec.VerifySignatureDetailed(cred.PublicKey, challenge.Challenge, signature); err != nil {
		e.log.Info().Err(err).Str("device_id", deviceID).Msg("biometric signature rejected")
		return nil, reject(cred.UserID, "bad_signature")
	}

	claimed, err := e.challenges.ConsumeChallenge(ctx, challengeID, now)
	if err != nil {
		return nil, fmt.Errorf("%w: consume challenge: %v", ErrStoreUnavailable, err)
	}
	if !claimed {
		return nil, reject(cred.UserID, "challenge_claimed")
	}

	if err := e.devices.TouchCredential(ctx, deviceID, now); err != nil {
		e.log.Warn().Err(err).Str("device_id", deviceID).Msg("failed to record device use")
	}

	user, err := e.findUserByID(ctx, cred.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, reject(cred.UserID, "owner_missing")
		}
		return nil, err
	}
	e.resetBudget(ctx, rate.ScopeBiometric, budget)

	result, err := e.twoFactorGate(ctx, user, loginMethodBiometric, deviceID)
	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, user.UserID, deviceID, err, func() map[string]string {
			return map[string]string{"method": loginMethodBiometric, "reason": "session"}
		})
		return nil, err
	}
	e.metricInc(MetricBiometricSuccess)
	e.emitAudit(ctx, auditEventBiometricSuccess, true, user.UserID, deviceID, nil, func() map[string]string {
		return map[string]string{"two_factor_pending": boolString(result.TwoFactorRequired)}
	})
	return result, nil
}

// RevokeDevice revokes the active credential of deviceID. Only the owning
// user may revoke it.
func (e *Engine) RevokeDevice(ctx context.Context, userID int64, deviceID string) error {
	if !e.ready() || e.devices == nil {
		return ErrEngineNotReady
	}
	deviceID = strings.TrimSpace(deviceID)
	if userID <= 0 || deviceID == "" {
		return fmt.Errorf("%w: user and device id are required", ErrInvalidRequest)
	}

	cred, err := e.devices.FindActiveCredential(ctx, deviceID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrDeviceNotEnrolled
		}
		return fmt.Errorf("%w: find credential: %v", ErrStoreUnavailable, err)
	}
	if cred.UserID != userID {
		return ErrForbidden
	}
	if err := e.devices.RevokeCredential(ctx, deviceID, e.clock()); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrDeviceNotEnrolled
		}
		return fmt.Errorf("%w: revoke credential: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricDeviceRevoked)
	e.emitAudit(ctx, auditEventDeviceRevoked, true, userID, deviceID, nil, nil)
	return nil
}

func (e *Engine) findUserByID(ctx context.Context, userID int64) (*UserRecord, error) {
	user, err := e.userProvider.FindUserByID(ctx, userID)
	if err != nil || user == nil {
		if err == nil || errors.Is(err, ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("%w: find user: %v", ErrStoreUnavailable, err)
	}
	return user, nil
}

// biometricBudgetSubject keys the device failure budget per client IP so that
// failures from one address cannot lock the device out for every other one.
func biometricBudgetSubject(deviceID, ip string) string {
	if deviceID == "" || ip == "" {
		return deviceID
	}
	return deviceID + "|" + ip
}
