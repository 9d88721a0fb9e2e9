package jwt

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// PurposeSession marks a fully authenticated session token.
	PurposeSession = "session"
	// PurposeTwoFactor marks a pending token awaiting a TOTP code.
	PurposeTwoFactor = "2fa-verification"
)

// Delegation is the backoffice credential snapshot embedded in a session.
type Delegation struct {
	AccessToken        string    `json:"access_token"`
	AccessTokenExpiry  time.Time `json:"access_token_expiry"`
	RefreshToken       string    `json:"refresh_token,omitempty"`
	RefreshExpiry      time.Time `json:"refresh_expiry,omitempty"`
	ClientState        string    `json:"client_state,omitempty"`
	ExternalCustomerID string    `json:"customer_id"`
	WalletID           string    `json:"wallet_id,omitempty"`
}

// SessionClaims is the payload of a session token.
type SessionClaims struct {
	UserID     int64      `json:"uid"`
	Email      string     `json:"email"`
	Purpose    string     `json:"purpose"`
	Backoffice Delegation `json:"backoffice"`
	jwt.RegisteredClaims
}

// PendingClaims is the payload of a pending second-factor token. It carries
// no delegation.
type PendingClaims struct {
	UserID  int64  `json:"uid"`
	Email   string `json:"email"`
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}
