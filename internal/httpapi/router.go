// Package httpapi is the JSON boundary of the custody auth daemon.
package httpapi

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	custodyauth "github.com/MrEthical07/goCustodyAuth"
	"github.com/MrEthical07/goCustodyAuth/metrics/export/prometheus"
	"github.com/MrEthical07/goCustodyAuth/middleware"
)

// Options configures NewServer.
type Options struct {
	BasePath string
	// Health is called by GET /healthz. Nil always reports healthy.
	Health func(context.Context) error
}

// NewServer returns an echo instance with every route mounted.
func NewServer(engine *custodyauth.Engine, opts Options) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(echo.WrapMiddleware(middleware.ClientMeta))

	e.GET("/healthz", func(c echo.Context) error {
		if opts.Health != nil {
			if err := opts.Health(c.Request().Context()); err != nil {
				return respondError(c, custodyauth.ErrStoreUnavailable)
			}
		}
		return c.NoContent(http.StatusNoContent)
	})
	e.GET("/metrics", echo.WrapHandler(prometheus.New(engine).Handler()))

	h := NewHandler(engine)
	api := e.Group(opts.BasePath)

	auth := api.Group("/auth")
	auth.POST("/login", h.Login)
	auth.POST("/2fa/verify", h.VerifyTwoFactor)
	auth.POST("/biometric/challenge", h.BiometricChallenge)
	auth.POST("/biometric/login", h.BiometricLogin)

	// Per-route so unknown paths stay 404 instead of hitting the guard.
	session := echo.WrapMiddleware(middleware.RequireSession(engine))
	api.GET("/me", h.Me, session)
	api.POST("/devices", h.EnrollDevice, session)
	api.DELETE("/devices/:deviceID", h.RevokeDevice, session)
	api.POST("/2fa/setup", h.SetupTwoFactor, session)
	api.POST("/2fa/activate", h.ActivateTwoFactor, session)
	api.POST("/2fa/disable", h.DisableTwoFactor, session)

	return e
}
