package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/shift6/quotewatch/internal/queue/streams"
)

// ScanRunner triggers one batch of the monitoring loop on demand.
type ScanRunner interface {
	RunNow(ctx context.Context, limit int) (int, error)
}

// LagReader reports consumer-group lag on the hit event stream.
type LagReader func(ctx context.Context) (streams.LagMetrics, error)

// OpsHandler exposes operational endpoints.
type OpsHandler struct {
	Scanner   ScanRunner
	NotifyLag LagReader
}

func (h *OpsHandler) Register(api *echo.Group) {
	api.POST("/ops/scan", h.scan)
	api.GET("/ops/notify-lag", h.notifyLag)
}

func (h *OpsHandler) scan(c echo.Context) error {
	if h.Scanner == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "scheduler not running")
	}
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		limit = n
	}
	processed, err := h.Scanner.RunNow(c.Request().Context(), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]int{"processed": processed})
}

func (h *OpsHandler) notifyLag(c echo.Context) error {
	if h.NotifyLag == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "notification dispatch not running")
	}
	metrics, err := h.NotifyLag(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"pending":        metrics.Pending,
		"lag":            metrics.Lag,
		"consumers":      metrics.Consumers,
		"oldest_idle_ms": metrics.OldestIdle.Milliseconds(),
	})
}
