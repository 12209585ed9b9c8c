// Package routes assembles the operational HTTP surface: run control,
// configuration, match review, health and metrics.
package routes

import (
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/Ramsey-B/sorrel/pkg/events"
	"github.com/Ramsey-B/sorrel/pkg/middleware"
	"github.com/Ramsey-B/sorrel/pkg/routes/health"
	"github.com/Ramsey-B/sorrel/pkg/routes/matchconfig"
	"github.com/Ramsey-B/sorrel/pkg/routes/matches"
	"github.com/Ramsey-B/sorrel/pkg/routes/runs"
)

type Dependencies struct {
	ServiceName string
	Runner      runs.Runner
	Configs     matchconfig.Provider
	Matches     matches.Store
	Listener    events.Listener
	Health      *health.Checker
}

// New builds the echo server with middleware and every route registered
func New(deps Dependencies, logger ectologger.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(logger)

	e.Use(echomiddleware.Recover())
	if deps.ServiceName != "" {
		e.Use(otelecho.Middleware(deps.ServiceName))
	}
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))

	if deps.Health != nil {
		deps.Health.RegisterRoutes(e)
	}
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := e.Group("/api/v1")
	runs.NewHandler(deps.Runner, logger).Register(v1.Group("/runs"))
	matchconfig.NewHandler(deps.Configs, logger).Register(v1.Group("/config"))
	matches.NewHandler(deps.Matches, deps.Listener, logger).Register(v1.Group("/matches"))

	return e
}
