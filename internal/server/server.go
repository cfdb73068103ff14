package server

import (
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shift6/quotewatch/internal/store"
)

// Deps carries the wired dependencies the HTTP API serves.
type Deps struct {
	Store    *store.Store
	Embedder Embedder
	Scanner  ScanRunner
	// NotifyLag reports dispatch-group lag; nil when notifications are off.
	NotifyLag LagReader
	// Registry backs /metrics when telemetry is enabled; nil falls back to
	// the default prometheus handler.
	Registry *prometheus.Registry
	Logger   *log.Logger
}

// New builds the echo instance with all routes registered. The caller owns
// startup and shutdown.
func New(deps Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	baseLogger := deps.Logger
	if baseLogger == nil {
		baseLogger = log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	}
	// Unified HTTP error handler with structured JSON and logging
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	if deps.Registry != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})))
	} else {
		e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	}

	api := e.Group("/api")

	hh := &HitsHandler{Store: deps.Store}
	hh.Register(api, e)

	qh := &QuotesHandler{Store: deps.Store, Embedder: deps.Embedder}
	qh.Register(api)

	oh := &OpsHandler{Scanner: deps.Scanner, NotifyLag: deps.NotifyLag}
	oh.Register(api)

	return e
}
