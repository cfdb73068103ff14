package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/shift6/quotewatch/internal/store"
	"github.com/shift6/quotewatch/models"
)

// HitsHandler serves the hit inbox: listing, read tracking and the
// click-through redirect.
type HitsHandler struct {
	Store *store.Store
}

func (h *HitsHandler) Register(api *echo.Group, e *echo.Echo) {
	g := api.Group("/hits")
	g.GET("", h.list)
	g.GET("/:id", h.get)
	g.GET("/:id/summary", h.summary)
	g.POST("/read-all", h.readAll)
	// Click-through lives outside /api so emails and chat messages can link
	// to it directly.
	e.GET("/r/:id", h.redirect)
}

func (h *HitsHandler) list(c echo.Context) error {
	filter := store.HitFilter{
		ClientLabel: c.QueryParam("client"),
		QuoteID:     c.QueryParam("quote_id"),
		UnreadOnly:  c.QueryParam("unread") == "true",
	}
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		filter.Limit = n
	}
	hits, err := h.Store.ListHits(c.Request().Context(), filter)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if hits == nil {
		hits = []store.HitWithRead{}
	}
	return c.JSON(http.StatusOK, hits)
}

func (h *HitsHandler) get(c echo.Context) error {
	hit, err := h.Store.GetHit(c.Request().Context(), c.Param("id"))
	if errors.Is(err, models.ErrHitNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "hit not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, hit)
}

func (h *HitsHandler) summary(c echo.Context) error {
	hit, err := h.Store.GetHit(c.Request().Context(), c.Param("id"))
	if errors.Is(err, models.ErrHitNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "hit not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if hit.SummaryMD == "" {
		return echo.NewHTTPError(http.StatusNotFound, "summary not available yet")
	}
	return c.Blob(http.StatusOK, "text/markdown; charset=utf-8", []byte(hit.SummaryMD))
}

func (h *HitsHandler) readAll(c echo.Context) error {
	n, err := h.Store.MarkAllRead(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]int64{"marked": n})
}

// redirect marks the hit read and forwards to the source article. Marking
// is best effort; a broken read marker must not break the link.
func (h *HitsHandler) redirect(c echo.Context) error {
	ctx := c.Request().Context()
	hit, err := h.Store.GetHit(ctx, c.Param("id"))
	if errors.Is(err, models.ErrHitNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "hit not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if err := h.Store.MarkRead(ctx, hit.ID); err != nil {
		c.Logger().Warnf("mark read %s: %v", hit.ID, err)
	}
	return c.Redirect(http.StatusTemporaryRedirect, hit.URL)
}
