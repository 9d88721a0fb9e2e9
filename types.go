package goCustodyAuth

import (
	"context"
	"time"

	"github.com/MrEthical07/goCustodyAuth/backoffice"
	internalaudit "github.com/MrEthical07/goCustodyAuth/internal/audit"
	"github.com/MrEthical07/goCustodyAuth/jwt"
	"github.com/MrEthical07/goCustodyAuth/secretcodec"
)

// UserRecord is a local user identity. PasswordHash holds an Argon2id PHC
// string, or a legacy plaintext value when Password.AllowLegacyPlaintext is on.
type UserRecord struct {
	UserID           int64
	Email            string
	PasswordHash     string
	TwoFactorEnabled bool
}

// TwoFactorConfig is the encrypted TOTP secret of a user. It exists exactly
// when the user's TwoFactorEnabled flag is set.
type TwoFactorConfig struct {
	UserID          int64
	EncryptedSecret string
	CreatedAt       time.Time
}

// DeviceCredential is a device public key enrolled for biometric login.
type DeviceCredential struct {
	DeviceID   string
	UserID     int64
	PublicKey  secretcodec.JWK
	Algorithm  string
	RevokedAt  *time.Time
	LastUsedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Active reports whether the credential has not been revoked.
func (c *DeviceCredential) Active() bool {
	return c != nil && c.RevokedAt == nil
}

// LoginChallenge is a one-time biometric challenge bound to a device.
type LoginChallenge struct {
	ChallengeID string
	DeviceID    string
	Challenge   string
	ExpiresAt   time.Time
	UsedAt      *time.Time
}

// DelegatedAuthState holds the long-lived credentials used to obtain
// backoffice tokens on a user's behalf.
type DelegatedAuthState struct {
	UserID             int64
	PrivateKey         string
	RefreshToken       string
	ExternalCustomerID string
	WalletID           string
	DeviceID           string
}

// BackofficeDelegation is the backoffice snapshot embedded in a session.
type BackofficeDelegation = jwt.Delegation

// SessionClaims is a verified session token.
type SessionClaims struct {
	UserID     int64
	Email      string
	Purpose    string
	Backoffice BackofficeDelegation
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

// PendingTwoFactorClaims is a verified pending second-factor token.
type PendingTwoFactorClaims struct {
	UserID    int64
	Email     string
	Purpose   string
	ExpiresAt time.Time
}

// LoginResult is the outcome of a login step. Exactly one of SessionToken
// and PendingToken is set.
type LoginResult struct {
	UserID int64

	SessionToken     string
	SessionExpiresAt time.Time
	Delegation       *BackofficeDelegation

	TwoFactorRequired bool
	PendingToken      string
	PendingExpiresAt  time.Time
}

// BiometricChallenge is returned to a device that wants to sign in.
type BiometricChallenge struct {
	ChallengeID      string
	Challenge        string
	ExpiresAt        time.Time
	ExpiresInSeconds int
}

// TwoFactorSetup carries a fresh TOTP secret for enrollment. Nothing is
// persisted until ActivateTwoFactor succeeds.
type TwoFactorSetup struct {
	Secret string
	URI    string
	QRCode string
}

// UserProvider resolves users and their delegated state. Missing records are
// reported with errors wrapping ErrNotFound.
type UserProvider interface {
	FindUserByEmail(ctx context.Context, email string) (*UserRecord, error)
	FindUserByID(ctx context.Context, userID int64) (*UserRecord, error)
	FindDelegationByUserID(ctx context.Context, userID int64) (*DelegatedAuthState, error)
	UpdatePasswordHash(ctx context.Context, userID int64, hash string) error
}

// DeviceCredentialStore persists enrolled device keys.
type DeviceCredentialStore interface {
	// UpsertCredential stores cred under its device id, replacing key and
	// algorithm of any earlier credential and clearing its revocation.
	UpsertCredential(ctx context.Context, cred DeviceCredential) error
	// FindActiveCredential returns ErrDeviceNotEnrolled when the device has
	// no unrevoked credential.
	FindActiveCredential(ctx context.Context, deviceID string) (*DeviceCredential, error)
	TouchCredential(ctx context.Context, deviceID string, at time.Time) error
	RevokeCredential(ctx context.Context, deviceID string, at time.Time) error
}

// LoginChallengeStore persists biometric challenges.
type LoginChallengeStore interface {
	CreateChallenge(ctx context.Context, challenge LoginChallenge) error
	GetChallenge(ctx context.Context, challengeID string) (*LoginChallenge, error)
	// ConsumeChallenge atomically marks the challenge used at `at` if it is
	// unused and unexpired, and reports whether this call claimed it.
	ConsumeChallenge(ctx context.Context, challengeID string, at time.Time) (bool, error)
}

// TwoFactorStore persists TOTP configuration together with the user's flag.
type TwoFactorStore interface {
	FindTwoFactor(ctx context.Context, userID int64) (*TwoFactorConfig, error)
	// ActivateTwoFactor stores cfg and sets the user's flag in one step. It
	// fails with ErrTwoFactorAlreadyEnabled if a config exists.
	ActivateTwoFactor(ctx context.Context, cfg TwoFactorConfig) error
	// DisableTwoFactor removes the config and clears the flag in one step.
	DisableTwoFactor(ctx context.Context, userID int64) error
}

// TokenBroker turns delegated credentials into a backoffice token.
type TokenBroker interface {
	Acquire(ctx context.Context, creds backoffice.Credentials) (*backoffice.Token, error)
}

// AuditEvent is an audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events.
type AuditSink = internalaudit.Sink

type (
	NoOpSink       = internalaudit.NoOpSink
	ChannelSink    = internalaudit.ChannelSink
	JSONWriterSink = internalaudit.JSONWriterSink
	ZerologSink    = internalaudit.ZerologSink
	MultiSink      = internalaudit.MultiSink
)

var (
	NewChannelSink    = internalaudit.NewChannelSink
	NewJSONWriterSink = internalaudit.NewJSONWriterSink
	NewZerologSink    = internalaudit.NewZerologSink
)
