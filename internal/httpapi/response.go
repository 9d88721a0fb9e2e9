package httpapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	custodyauth "github.com/MrEthical07/goCustodyAuth"
	"github.com/MrEthical07/goCustodyAuth/middleware"
)

type response struct {
	Data any `json:"data,omitempty"`
}

func respond(c echo.Context, status int, data any) error {
	if data == nil {
		return c.NoContent(status)
	}
	return c.JSON(status, response{Data: data})
}

func respondError(c echo.Context, err error) error {
	status, body := middleware.NewErrorBody(err)
	return c.JSON(status, body)
}

// errorHandler renders echo's own errors (unknown route, bad method) in the
// same envelope as engine errors.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		var body middleware.ErrorBody
		body.Error.Code = "http_error"
		body.Error.Message = http.StatusText(he.Code)
		_ = c.JSON(he.Code, body)
		return
	}
	_ = respondError(c, err)
}

type loginResponse struct {
	UserID            int64                             `json:"user_id"`
	TwoFactorRequired bool                              `json:"two_factor_required"`
	SessionToken      string                            `json:"session_token,omitempty"`
	SessionExpiresAt  *int64                            `json:"session_expires_at,omitempty"`
	Backoffice        *custodyauth.BackofficeDelegation `json:"backoffice,omitempty"`
	PendingToken      string                            `json:"pending_token,omitempty"`
	PendingExpiresAt  *int64                            `json:"pending_expires_at,omitempty"`
}

func newLoginResponse(res *custodyauth.LoginResult) loginResponse {
	out := loginResponse{
		UserID:            res.UserID,
		TwoFactorRequired: res.TwoFactorRequired,
		SessionToken:      res.SessionToken,
		Backoffice:        res.Delegation,
		PendingToken:      res.PendingToken,
	}
	if !res.SessionExpiresAt.IsZero() {
		ts := res.SessionExpiresAt.Unix()
		out.SessionExpiresAt = &ts
	}
	if !res.PendingExpiresAt.IsZero() {
		ts := res.PendingExpiresAt.Unix()
		out.PendingExpiresAt = &ts
	}
	return out
}
