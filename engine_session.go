package goCustodyAuth

import (
	"github.com/MrEthical07/goCustodyAuth/jwt"
)

// VerifySession checks a bearer session token. It fails with ErrTokenExpired
// for an expired token and ErrTokenInvalid for anything else, including a
// pending second-factor token. The embedded backoffice token is returned as
// is; its own expiry is not checked.
func (e *Engine) VerifySession(token string) (*SessionClaims, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	claims, err := e.jwtManager.ParseSession(token)
	if err != nil {
		e.metricInc(MetricSessionRejected)
		return nil, err
	}
	return sessionFromJWT(claims), nil
}

// VerifyPendingTwoFactor checks a pending token issued by a first factor.
func (e *Engine) VerifyPendingTwoFactor(token string) (*PendingTwoFactorClaims, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	claims, err := e.jwtManager.ParsePendingTwoFactor(token)
	if err != nil {
		return nil, err
	}
	out := &PendingTwoFactorClaims{
		UserID:  claims.UserID,
		Email:   claims.Email,
		Purpose: claims.Purpose,
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}

func sessionFromJWT(claims *jwt.SessionClaims) *SessionClaims {
	out := &SessionClaims{
		UserID:     claims.UserID,
		Email:      claims.Email,
		Purpose:    claims.Purpose,
		Backoffice: claims.Backoffice,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out
}
