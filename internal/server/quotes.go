package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/shift6/quotewatch/internal/store"
	"github.com/shift6/quotewatch/models"
)

// Embedder backfills embeddings for freshly ingested quotes.
type Embedder interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// QuotesHandler serves tracked-quote ingestion and management.
type QuotesHandler struct {
	Store    *store.Store
	Embedder Embedder
}

func (h *QuotesHandler) Register(api *echo.Group) {
	g := api.Group("/quotes")
	g.GET("", h.list)
	g.DELETE("/:id", h.remove)
	api.POST("/ingest/quotes", h.ingest)
}

// IngestQuote is one row from the upstream tracking sheet.
type IngestQuote struct {
	SourceRowID string `json:"source_row_id"`
	ClientLabel string `json:"client_label"`
	QuoteText   string `json:"quote_text"`
}

func (h *QuotesHandler) list(c echo.Context) error {
	quotes, err := h.Store.ListQuotes(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if quotes == nil {
		quotes = []models.TrackedQuote{}
	}
	return c.JSON(http.StatusOK, quotes)
}

func (h *QuotesHandler) remove(c echo.Context) error {
	err := h.Store.DeleteQuote(c.Request().Context(), c.Param("id"))
	if errors.Is(err, models.ErrQuoteNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "quote not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// ingest upserts rows from the tracking sheet. Re-sending a row updates its
// label and text without touching the quote's schedule. Embedding backfill
// is best effort; a quote without a vector still matches on the exact and
// lexical tiers.
func (h *QuotesHandler) ingest(c echo.Context) error {
	var rows []IngestQuote
	if err := c.Bind(&rows); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(rows) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "at least one quote required")
	}

	ctx := c.Request().Context()
	out := make([]models.TrackedQuote, 0, len(rows))
	for _, row := range rows {
		if strings.TrimSpace(row.SourceRowID) == "" || strings.TrimSpace(row.QuoteText) == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "source_row_id and quote_text are required")
		}
		quote, err := h.Store.UpsertTrackedQuote(ctx, row.SourceRowID, row.ClientLabel, row.QuoteText)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		if len(quote.Embedding) == 0 && h.Embedder != nil {
			if vectors, err := h.Embedder.CreateEmbedding(ctx, []string{quote.Text}); err != nil {
				c.Logger().Warnf("embed quote %s: %v", quote.ID, err)
			} else if len(vectors) > 0 {
				if err := h.Store.SetQuoteEmbedding(ctx, quote.ID, vectors[0]); err != nil {
					c.Logger().Warnf("persist embedding for quote %s: %v", quote.ID, err)
				} else {
					quote.Embedding = vectors[0]
				}
			}
		}
		out = append(out, quote)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"ingested": len(out),
		"quotes":   out,
	})
}
