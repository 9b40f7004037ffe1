package admin

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/elisfeed/internal/platform/auth"
	"github.com/ehr/elisfeed/internal/platform/metrics"
	"github.com/ehr/elisfeed/internal/platform/middleware"
)

// Options configures the admin server.
type Options struct {
	// JWTSecret signs admin API tokens. When empty and Dev is set, requests
	// are let through unauthenticated.
	JWTSecret []byte
	Dev       bool
	// DBHealth serves /health/db when set.
	DBHealth echo.HandlerFunc
}

// NewServer builds the admin echo server: probes, /metrics, and the
// /api/v1 operations behind bearer auth.
func NewServer(h *Handler, opts Options, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))

	if opts.Dev && len(opts.JWTSecret) == 0 {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			SigningKey: opts.JWTSecret,
			Skipper:    auth.AuthSkipper,
		}))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.DBHealth != nil {
		e.GET("/health/db", opts.DBHealth)
	}
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	h.RegisterRoutes(e.Group("/api/v1"))
	return e
}
