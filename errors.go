package goCustodyAuth

import (
	"errors"
	"fmt"

	"github.com/MrEthical07/goCustodyAuth/backoffice"
	"github.com/MrEthical07/goCustodyAuth/jwt"
	"github.com/MrEthical07/goCustodyAuth/secretcodec"
)

var (
	// ErrInvalidCredentials is returned for an unknown email or a wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUnauthorized is returned for a rejected factor: wrong TOTP code,
	// failed biometric proof, or a missing or consumed challenge.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is returned when a caller acts on a resource it does not own.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound is the family of missing-resource errors.
	ErrNotFound = errors.New("not found")
	// ErrDeviceNotEnrolled is returned when no active credential exists for a device.
	ErrDeviceNotEnrolled = fmt.Errorf("%w: device not enrolled", ErrNotFound)
	// ErrDelegationNotFound signals an account provisioning gap: the user has
	// no delegated backoffice state.
	ErrDelegationNotFound = fmt.Errorf("%w: delegated auth state", ErrNotFound)
	// ErrUserNotFound is returned when a token or call names an unknown user.
	ErrUserNotFound = fmt.Errorf("%w: user", ErrNotFound)
	// ErrConflict is the family of state-conflict errors.
	ErrConflict = errors.New("conflict")
	// ErrTwoFactorAlreadyEnabled is returned when activating an active second factor.
	ErrTwoFactorAlreadyEnabled = fmt.Errorf("%w: two-factor already enabled", ErrConflict)
	// ErrTwoFactorNotEnabled is returned when disabling an inactive second factor.
	ErrTwoFactorNotEnabled = fmt.Errorf("%w: two-factor not enabled", ErrConflict)
	// ErrInvalidRequest is returned for malformed input.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrLoginRateLimited is returned once a subject exhausts its attempt budget.
	ErrLoginRateLimited = errors.New("login rate limited")
	// ErrEngineNotReady is returned by a nil or partially built Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrStoreUnavailable wraps persistence failures.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrUpstreamUnavailable is returned when the backoffice produced no token.
	ErrUpstreamUnavailable = backoffice.ErrUpstreamUnavailable
	// ErrDecryption is returned when a stored secret cannot be decrypted.
	ErrDecryption = secretcodec.ErrDecryption
	// ErrTokenExpired is returned for a valid token past its expiry.
	ErrTokenExpired = jwt.ErrTokenExpired
	// ErrTokenInvalid is returned for any other token verification failure.
	ErrTokenInvalid = jwt.ErrTokenInvalid
)
