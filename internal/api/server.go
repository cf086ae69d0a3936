package api

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"golang.org/x/time/rate"
)

// NewServer wires middleware, the API routes and the artifact directory
// under /data (the chart fetches data/countries/<code>.json).
func NewServer(h *Handler, logger *log.Logger, rps float64, staticDir string) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	if logger != nil {
		e.Logger = logger
	}
	e.Use(middleware.CORS())
	e.Use(middleware.Recover())
	e.Use(middleware.Logger())
	if rps > 0 {
		e.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(rate.Limit(rps))))
	}

	h.RegisterRoutes(e)
	if staticDir != "" {
		e.Static("/data", staticDir)
	}
	return e
}
