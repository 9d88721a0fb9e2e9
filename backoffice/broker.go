package backoffice

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// ErrUpstreamUnavailable is returned when neither endpoint produced a token.
var ErrUpstreamUnavailable = errors.New("backoffice unavailable")

// Broker applies the acquisition policy over a TokenSource.
type Broker struct {
	source TokenSource
	log    zerolog.Logger
}

// NewBroker returns a Broker over source.
func NewBroker(source TokenSource, log zerolog.Logger) *Broker {
	return &Broker{source: source, log: log}
}

// Acquire calls the connection endpoint once and, if it fails, the refresh
// endpoint once. A nil token or an empty access token counts as a failure.
// When both fail the result wraps ErrUpstreamUnavailable joined with both
// causes.
func (b *Broker) Acquire(ctx context.Context, creds Credentials) (*Token, error) {
	token, primaryErr := b.source.AcquireConnectionToken(ctx, creds)
	primaryErr = usable(token, primaryErr, KindConnection)
	if primaryErr == nil {
		return token, nil
	}
	b.log.Warn().
		Err(primaryErr).
		Str("customer_id", creds.CustomerID).
		Msg("backoffice connection token failed, falling back to refresh")

	token, refreshErr := b.source.RefreshConnectionToken(ctx, creds)
	refreshErr = usable(token, refreshErr, KindRefresh)
	if refreshErr == nil {
		return token, nil
	}
	b.log.Error().
		Err(refreshErr).
		Str("customer_id", creds.CustomerID).
		Msg("backoffice refresh token failed")

	return nil, errors.Join(ErrUpstreamUnavailable, primaryErr, refreshErr)
}

func usable(token *Token, err error, kind Kind) error {
	if err != nil {
		return err
	}
	if token == nil || strings.TrimSpace(token.AccessToken) == "" {
		return fmt.Errorf("%s: %w", kind, errMissingToken)
	}
	return nil
}
