package goCustodyAuth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goCustodyAuth/backoffice"
	"github.com/MrEthical07/goCustodyAuth/secretcodec"
)

const clientStateBytes = 16

const (
	loginMethodPassword  = "password"
	loginMethodTwoFactor = "two_factor"
	loginMethodBiometric = "biometric"
)

// completeLogin acquires a backoffice token for user and issues the session
// that carries it. Nothing local is written here, so a broker failure leaves
// no partial state behind.
func (e *Engine) completeLogin(ctx context.Context, user *UserRecord, method, deviceID string) (*LoginResult, error) {
	delegation, err := e.acquireDelegation(ctx, user.UserID)
	if err != nil {
		e.emitAudit(ctx, auditEventDelegationFailure, false, user.UserID, deviceID, err, func() map[string]string {
			return map[string]string{"method": method}
		})
		return nil, err
	}

	token, expiresAt, err := e.jwtManager.IssueSession(user.UserID, user.Email, *delegation)
	if err != nil {
		return nil, fmt.Errorf("issue session: %w", err)
	}
	e.metricInc(MetricSessionIssued)
	e.emitAudit(ctx, auditEventSessionIssued, true, user.UserID, deviceID, nil, func() map[string]string {
		return map[string]string{
			"method":      method,
			"customer_id": delegation.ExternalCustomerID,
		}
	})

	return &LoginResult{
		UserID:           user.UserID,
		SessionToken:     token,
		SessionExpiresAt: expiresAt,
		Delegation:       delegation,
	}, nil
}

func (e *Engine) acquireDelegation(ctx context.Context, userID int64) (*BackofficeDelegation, error) {
	state, err := e.userProvider.FindDelegationByUserID(ctx, userID)
	if err != nil || state == nil {
		if err == nil || errors.Is(err, ErrNotFound) {
			e.metricInc(MetricDelegationMissing)
			e.log.Error().Int64("user_id", userID).Msg("user has no delegated backoffice state")
			return nil, ErrDelegationNotFound
		}
		return nil, fmt.Errorf("%w: load delegation: %v", ErrStoreUnavailable, err)
	}

	clientState, err := secretcodec.RandomOpaqueToken(clientStateBytes)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	token, err := e.broker.Acquire(ctx, backoffice.Credentials{
		CustomerID:   state.ExternalCustomerID,
		PrivateKey:   state.PrivateKey,
		RefreshToken: state.RefreshToken,
		DeviceID:     state.DeviceID,
		ClientState:  clientState,
	})
	if e.metrics != nil {
		e.metrics.Observe(MetricBackofficeLatency, time.Since(start))
	}
	if err != nil {
		e.metricInc(MetricBackofficeUnavailable)
		if !errors.Is(err, ErrUpstreamUnavailable) {
			err = errors.Join(ErrUpstreamUnavailable, err)
		}
		return nil, err
	}
	if token == nil || token.AccessToken == "" {
		e.metricInc(MetricBackofficeUnavailable)
		return nil, fmt.Errorf("%w: broker returned no token", ErrUpstreamUnavailable)
	}

	if token.Kind == backoffice.KindRefresh {
		e.metricInc(MetricBackofficeRefreshFallback)
	} else {
		e.metricInc(MetricBackofficePrimarySuccess)
	}

	delegation := &BackofficeDelegation{
		AccessToken:        token.AccessToken,
		AccessTokenExpiry:  token.ExpiresAt,
		RefreshToken:       token.RefreshToken,
		RefreshExpiry:      token.RefreshExpiresAt,
		ClientState:        clientState,
		ExternalCustomerID: state.ExternalCustomerID,
		WalletID:           state.WalletID,
	}
	if token.ClientState != "" {
		delegation.ClientState = token.ClientState
	}
	if delegation.ExternalCustomerID == "" {
		delegation.ExternalCustomerID = token.CustomerID
	}
	return delegation, nil
}
