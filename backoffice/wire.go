package backoffice

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind identifies which endpoint produced a Token.
type Kind uint8

const (
	// KindConnection is the get-customer-connection-token endpoint.
	KindConnection Kind = iota + 1
	// KindRefresh is the refresh-customer-token endpoint.
	KindRefresh
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindRefresh:
		return "refresh"
	default:
		return "unknown"
	}
}

const (
	connectionPath = "/oauth/v1/get-customer-connection-token"
	refreshPath    = "/oauth/v1/refresh-customer-token"
)

// endpoint binds a path to the response field that carries its token.
type endpoint struct {
	kind Kind
	path string
}

var (
	connectionEndpoint = endpoint{kind: KindConnection, path: connectionPath}
	refreshEndpoint    = endpoint{kind: KindRefresh, path: refreshPath}
)

type connectionRequest struct {
	ClientState          string          `json:"client_state"`
	CustomerID           string          `json:"customer_id"`
	CustomerPrivateKey   string          `json:"customer_private_key"`
	CustomerRefreshToken string          `json:"customer_refresh_token"`
	DeviceID             string          `json:"device_id"`
	EcommerceToken       string          `json:"ecommerce_token"`
	ExtraLoginData       json.RawMessage `json:"extra_login_data"`
}

type refreshRequest struct {
	ClientState          string `json:"client_state"`
	CustomerID           string `json:"customer_id"`
	CustomerRefreshToken string `json:"customer_refresh_token"`
	DeviceID             string `json:"device_id"`
	EcommerceToken       string `json:"ecommerce_token"`
}

type tokenEnvelope struct {
	Response *tokenBody `json:"response"`
}

type tokenBody struct {
	OAuthToken                 string    `json:"oauth_token"`
	AccessToken                string    `json:"access_token"`
	ExpirationTimestamp        Timestamp `json:"expiration_timestamp"`
	RefreshToken               string    `json:"refresh_token"`
	RefreshExpirationTimestamp Timestamp `json:"refresh_expiration_timestamp"`
	ClientState                string    `json:"client_state"`
	CustomerID                 string    `json:"customer_id"`
}

var errMissingToken = errors.New("backoffice response carries no token")

// adapt converts a decoded body into a Token, reading only the token field
// the endpoint is defined to return.
func (e endpoint) adapt(env tokenEnvelope) (*Token, error) {
	if env.Response == nil {
		return nil, fmt.Errorf("%s: %w", e.kind, errMissingToken)
	}
	body := env.Response

	var access string
	switch e.kind {
	case KindConnection:
		access = body.OAuthToken
	case KindRefresh:
		access = body.AccessToken
	}
	if strings.TrimSpace(access) == "" {
		return nil, fmt.Errorf("%s: %w", e.kind, errMissingToken)
	}

	return &Token{
		Kind:             e.kind,
		AccessToken:      access,
		ExpiresAt:        body.ExpirationTimestamp.Time(),
		RefreshToken:     body.RefreshToken,
		RefreshExpiresAt: body.RefreshExpirationTimestamp.Time(),
		ClientState:      body.ClientState,
		CustomerID:       body.CustomerID,
	}, nil
}

// Timestamp decodes the backoffice expiry fields, which arrive either as a unix
// epoch (number or numeric string, in seconds, milliseconds, microseconds or
// nanoseconds) or as RFC 3339 text. Values outside years 0-9999 are rejected.
type Timestamp time.Time

// epochScales maps a magnitude floor to the divisor that brings it to seconds.
var epochScales = []struct {
	floor   float64
	divisor float64
}{
	{1e17, 1e9},
	{1e14, 1e6},
	{1e12, 1e3},
}

var (
	minTimestamp = time.Date(0, time.January, 1, 0, 0, 0, 0, time.UTC)
	maxTimestamp = time.Date(10000, time.January, 1, 0, 0, 0, 0, time.UTC)
)

// Time returns the zero time when the field was absent.
func (ts Timestamp) Time() time.Time {
	return time.Time(ts)
}

// UnmarshalJSON implements json.Unmarshaler.
func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*ts = Timestamp{}
		return nil
	}

	raw := string(data)
	if data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			*ts = Timestamp{}
			return nil
		}
	}

	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		if secs < 0 {
			return fmt.Errorf("negative backoffice timestamp %q", raw)
		}
		for _, scale := range epochScales {
			if secs >= scale.floor {
				secs /= scale.divisor
				break
			}
		}
		// Beyond year 9999 in seconds; int64 conversion would overflow.
		if secs >= float64(maxTimestamp.Unix()) {
			return fmt.Errorf("backoffice timestamp %q out of range", raw)
		}
		whole := int64(secs)
		*ts = Timestamp(time.Unix(whole, int64((secs-float64(whole))*1e9)).UTC())
		return nil
	}

	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return fmt.Errorf("invalid backoffice timestamp %q", raw)
	}
	parsed = parsed.UTC()
	if parsed.Before(minTimestamp) || !parsed.Before(maxTimestamp) {
		return fmt.Errorf("backoffice timestamp %q out of range", raw)
	}
	*ts = Timestamp(parsed)
	return nil
}
