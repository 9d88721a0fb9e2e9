package goCustodyAuth

import (
	"context"
	"errors"
	"strconv"
	"time"
)

const (
	auditEventLoginSuccess       = "login_success"
	auditEventLoginFailure       = "login_failure"
	auditEventLoginRateLimited   = "login_rate_limited"
	auditEventTwoFactorRequired  = "two_factor_required"
	auditEventTwoFactorSuccess   = "two_factor_success"
	auditEventTwoFactorFailure   = "two_factor_failure"
	auditEventTwoFactorSetup     = "two_factor_setup_requested"
	auditEventTwoFactorEnabled   = "two_factor_enabled"
	auditEventTwoFactorDisabled  = "two_factor_disabled"
	auditEventBiometricSuccess   = "biometric_login_success"
	auditEventBiometricFailure   = "biometric_login_failure"
	auditEventChallengeIssued    = "biometric_challenge_issued"
	auditEventDeviceEnrolled     = "device_enrolled"
	auditEventDeviceRevoked      = "device_revoked"
	auditEventDelegationFailure  = "delegation_failure"
	auditEventPasswordRehashed   = "password_rehashed"
	auditEventSessionIssued      = "session_issued"
	auditEventRateLimitTriggered = "rate_limit_triggered"
)

// AuditErrorCode is the stable error classification carried by audit events
// and returned by ErrorCode.
type AuditErrorCode string

const (
	auditErrInvalidCredentials  AuditErrorCode = "invalid_credentials"
	auditErrUnauthorized        AuditErrorCode = "unauthorized"
	auditErrForbidden           AuditErrorCode = "forbidden"
	auditErrRateLimited         AuditErrorCode = "rate_limited"
	auditErrTokenExpired        AuditErrorCode = "token_expired"
	auditErrInvalidToken        AuditErrorCode = "invalid_token"
	auditErrDeviceNotEnrolled   AuditErrorCode = "device_not_enrolled"
	auditErrDelegationNotFound  AuditErrorCode = "delegation_not_found"
	auditErrUserNotFound        AuditErrorCode = "user_not_found"
	auditErrNotFound            AuditErrorCode = "not_found"
	auditErrTwoFactorEnabled    AuditErrorCode = "two_factor_already_enabled"
	auditErrTwoFactorNotEnabled AuditErrorCode = "two_factor_not_enabled"
	auditErrConflict            AuditErrorCode = "conflict"
	auditErrInvalidRequest      AuditErrorCode = "invalid_request"
	auditErrUpstream            AuditErrorCode = "upstream_unavailable"
	auditErrDecryption          AuditErrorCode = "decryption_failed"
	auditErrUnavailable         AuditErrorCode = "backend_unavailable"
	auditErrNotReady            AuditErrorCode = "engine_not_ready"
	auditErrInternal            AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID int64,
	deviceID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		DeviceID:  deviceID,
		IP:        ClientIPFromContext(ctx),
		UserAgent: UserAgentFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if userID != 0 {
		event.UserID = strconv.FormatInt(userID, 10)
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(ctx context.Context, scope string, userID int64) {
	e.metricInc(MetricLoginRateLimited)
	e.emitAudit(ctx, auditEventRateLimitTriggered, false, userID, "", ErrLoginRateLimited, func() map[string]string {
		return map[string]string{"scope": scope}
	})
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	// Specific members of an error family are matched before the family.
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrUnauthorized):
		return auditErrUnauthorized
	case errors.Is(err, ErrForbidden):
		return auditErrForbidden
	case errors.Is(err, ErrLoginRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrTokenExpired):
		return auditErrTokenExpired
	case errors.Is(err, ErrTokenInvalid):
		return auditErrInvalidToken
	case errors.Is(err, ErrDeviceNotEnrolled):
		return auditErrDeviceNotEnrolled
	case errors.Is(err, ErrDelegationNotFound):
		return auditErrDelegationNotFound
	case errors.Is(err, ErrUserNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrNotFound):
		return auditErrNotFound
	case errors.Is(err, ErrTwoFactorAlreadyEnabled):
		return auditErrTwoFactorEnabled
	case errors.Is(err, ErrTwoFactorNotEnabled):
		return auditErrTwoFactorNotEnabled
	case errors.Is(err, ErrConflict):
		return auditErrConflict
	case errors.Is(err, ErrInvalidRequest):
		return auditErrInvalidRequest
	case errors.Is(err, ErrUpstreamUnavailable):
		return auditErrUpstream
	case errors.Is(err, ErrDecryption):
		return auditErrDecryption
	case errors.Is(err, ErrStoreUnavailable):
		return auditErrUnavailable
	case errors.Is(err, ErrEngineNotReady):
		return auditErrNotReady
	default:
		return auditErrInternal
	}
}
