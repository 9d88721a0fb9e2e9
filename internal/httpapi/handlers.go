package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	custodyauth "github.com/MrEthical07/goCustodyAuth"
	"github.com/MrEthical07/goCustodyAuth/secretcodec"
)

// Handler exposes the engine operations over JSON.
type Handler struct {
	engine *custodyauth.Engine
}

func NewHandler(engine *custodyauth.Engine) *Handler {
	return &Handler{engine: engine}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type twoFactorLoginRequest struct {
	PendingToken string `json:"pending_token"`
	Code         string `json:"code"`
}

type challengeRequest struct {
	DeviceID string `json:"device_id"`
}

type biometricLoginRequest struct {
	DeviceID    string `json:"device_id"`
	ChallengeID string `json:"challenge_id"`
	Signature   string `json:"signature"`
}

type enrollRequest struct {
	DeviceID  string          `json:"device_id"`
	PublicKey secretcodec.JWK `json:"public_key"`
	Algorithm string          `json:"algorithm"`
}

type activateRequest struct {
	Secret string `json:"secret"`
	Code   string `json:"code"`
}

type disableRequest struct {
	Password string `json:"password"`
	Code     string `json:"code"`
}

func bind(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		return custodyauth.ErrInvalidRequest
	}
	return nil
}

func (h *Handler) Login(c echo.Context) error {
	var req loginRequest
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	res, err := h.engine.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return respondError(c, err)
	}
	return respond(c, http.StatusOK, newLoginResponse(res))
}

func (h *Handler) VerifyTwoFactor(c echo.Context) error {
	var req twoFactorLoginRequest
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	res, err := h.engine.VerifyTwoFactorLogin(c.Request().Context(), req.PendingToken, req.Code)
	if err != nil {
		return respondError(c, err)
	}
	return respond(c, http.StatusOK, newLoginResponse(res))
}

func (h *Handler) BiometricChallenge(c echo.Context) error {
	var req challengeRequest
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	ch, err := h.engine.CreateBiometricChallenge(c.Request().Context(), req.DeviceID)
	if err != nil {
		return respondError(c, err)
	}
	return respond(c, http.StatusOK, map[string]any{
		"challenge_id": ch.ChallengeID,
		"challenge":    ch.Challenge,
		"expires_in":   ch.ExpiresInSeconds,
	})
}

func (h *Handler) BiometricLogin(c echo.Context) error {
	var req biometricLoginRequest
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	res, err := h.engine.LoginBiometric(c.Request().Context(), req.DeviceID, req.ChallengeID, req.Signature)
	if err != nil {
		return respondError(c, err)
	}
	return respond(c, http.StatusOK, newLoginResponse(res))
}

func (h *Handler) Me(c echo.Context) error {
	claims, ok := custodyauth.SessionFromContext(c.Request().Context())
	if !ok {
		return respondError(c, custodyauth.ErrUnauthorized)
	}
	return respond(c, http.StatusOK, map[string]any{
		"user_id":     claims.UserID,
		"email":       claims.Email,
		"customer_id": claims.Backoffice.ExternalCustomerID,
		"wallet_id":   claims.Backoffice.WalletID,
		"expires_at":  claims.ExpiresAt.Unix(),
	})
}

func (h *Handler) EnrollDevice(c echo.Context) error {
	claims, ok := custodyauth.SessionFromContext(c.Request().Context())
	if !ok {
		return respondError(c, custodyauth.ErrUnauthorized)
	}
	var req enrollRequest
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	if err := h.engine.EnrollDevice(c.Request().Context(), claims.UserID, req.DeviceID, req.PublicKey, req.Algorithm); err != nil {
		return respondError(c, err)
	}
	return respond(c, http.StatusNoContent, nil)
}

func (h *Handler) RevokeDevice(c echo.Context) error {
	claims, ok := custodyauth.SessionFromContext(c.Request().Context())
	if !ok {
		return respondError(c, custodyauth.ErrUnauthorized)
	}
	if err := h.engine.RevokeDevice(c.Request().Context(), claims.UserID, c.Param("deviceID")); err != nil {
		return respondError(c, err)
	}
	return respond(c, http.StatusNoContent, nil)
}

func (h *Handler) SetupTwoFactor(c echo.Context) error {
	claims, ok := custodyauth.SessionFromContext(c.Request().Context())
	if !ok {
		return respondError(c, custodyauth.ErrUnauthorized)
	}
	setup, err := h.engine.SetupTwoFactor(c.Request().Context(), claims.UserID, claims.Email)
	if err != nil {
		return respondError(c, err)
	}
	return respond(c, http.StatusOK, map[string]string{
		"secret":  setup.Secret,
		"uri":     setup.URI,
		"qr_code": setup.QRCode,
	})
}

func (h *Handler) ActivateTwoFactor(c echo.Context) error {
	claims, ok := custodyauth.SessionFromContext(c.Request().Context())
	if !ok {
		return respondError(c, custodyauth.ErrUnauthorized)
	}
	var req activateRequest
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	if err := h.engine.ActivateTwoFactor(c.Request().Context(), claims.UserID, req.Secret, req.Code); err != nil {
		return respondError(c, err)
	}
	return respond(c, http.StatusNoContent, nil)
}

func (h *Handler) DisableTwoFactor(c echo.Context) error {
	claims, ok := custodyauth.SessionFromContext(c.Request().Context())
	if !ok {
		return respondError(c, custodyauth.ErrUnauthorized)
	}
	var req disableRequest
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	if err := h.engine.DisableTwoFactor(c.Request().Context(), claims.UserID, req.Password, req.Code); err != nil {
		return respondError(c, err)
	}
	return respond(c, http.StatusNoContent, nil)
}
