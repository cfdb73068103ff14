package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"

	"github.com/shift6/quotewatch/models"
)

const quoteCols = `id, source_row_id, client_label, quote_text, embedding::text, state, added_at, first_hit_at, last_hit_at, last_checked_at, next_due_at, hit_count, days_without_hit, daily_hit_streak`

type stubEmbedder struct {
	calls int
	err   error
}

func (s *stubEmbedder) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return [][]float32{{0.1, 0.2}}, nil
}

func TestQuotesIngest(t *testing.T) {
	st, mock, cleanup := setupStore(t)
	defer cleanup()

	now := time.Now()
	upsert := regexp.QuoteMeta(`
INSERT INTO tracked_quotes (source_row_id, client_label, quote_text)
VALUES ($1,$2,$3)
ON CONFLICT (source_row_id) DO UPDATE SET
  client_label = EXCLUDED.client_label,
  quote_text   = EXCLUDED.quote_text
RETURNING ` + quoteCols + `
`)
	rows := sqlmock.NewRows([]string{
		"id", "source_row_id", "client_label", "quote_text", "embedding", "state",
		"added_at", "first_hit_at", "last_hit_at", "last_checked_at", "next_due_at",
		"hit_count", "days_without_hit", "daily_hit_streak",
	}).AddRow("q-1", "row-7", "Acme Corp", "we will double output", nil, "ACTIVE_HOURLY",
		now, nil, nil, nil, now, 0, 0, 0)
	mock.ExpectQuery(upsert).WithArgs("row-7", "Acme Corp", "we will double output").WillReturnRows(rows)

	embed := regexp.QuoteMeta(`UPDATE tracked_quotes SET embedding=$2::vector WHERE id=$1`)
	mock.ExpectExec(embed).WithArgs("q-1", "[0.1,0.2]").WillReturnResult(sqlmock.NewResult(0, 1))

	embedder := &stubEmbedder{}
	handler := &QuotesHandler{Store: st, Embedder: embedder}
	e := echo.New()
	body := `[{"source_row_id":"row-7","client_label":"Acme Corp","quote_text":"we will double output"}]`
	req := httptest.NewRequest(http.MethodPost, "/api/ingest/quotes", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	if err := handler.ingest(ctx); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if embedder.calls != 1 {
		t.Fatalf("expected embedding backfill, got %d calls", embedder.calls)
	}
	var payload struct {
		Ingested int                   `json:"ingested"`
		Quotes   []models.TrackedQuote `json:"quotes"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload.Ingested != 1 || len(payload.Quotes) != 1 || payload.Quotes[0].ID != "q-1" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestQuotesIngestRejectsEmptyRow(t *testing.T) {
	st, _, cleanup := setupStore(t)
	defer cleanup()

	handler := &QuotesHandler{Store: st}
	e := echo.New()
	body := `[{"source_row_id":"","quote_text":""}]`
	req := httptest.NewRequest(http.MethodPost, "/api/ingest/quotes", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	err := handler.ingest(ctx)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestQuotesIngestEmbeddingFailureIsNonFatal(t *testing.T) {
	st, mock, cleanup := setupStore(t)
	defer cleanup()

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "source_row_id", "client_label", "quote_text", "embedding", "state",
		"added_at", "first_hit_at", "last_hit_at", "last_checked_at", "next_due_at",
		"hit_count", "days_without_hit", "daily_hit_streak",
	}).AddRow("q-1", "row-7", "Acme Corp", "we will double output", nil, "ACTIVE_HOURLY",
		now, nil, nil, nil, now, 0, 0, 0)
	mock.ExpectQuery("INSERT INTO tracked_quotes").WillReturnRows(rows)

	embedder := &stubEmbedder{err: context.DeadlineExceeded}
	handler := &QuotesHandler{Store: st, Embedder: embedder}
	e := echo.New()
	body := `[{"source_row_id":"row-7","client_label":"Acme Corp","quote_text":"we will double output"}]`
	req := httptest.NewRequest(http.MethodPost, "/api/ingest/quotes", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	if err := handler.ingest(ctx); err != nil {
		t.Fatalf("ingest should tolerate embedding failure: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestQuotesDeleteNotFound(t *testing.T) {
	st, mock, cleanup := setupStore(t)
	defer cleanup()

	query := regexp.QuoteMeta(`DELETE FROM tracked_quotes WHERE id=$1`)
	mock.ExpectExec(query).WithArgs("missing").WillReturnResult(sqlmock.NewResult(0, 0))

	handler := &QuotesHandler{Store: st}
	e := echo.New()
	req := httptest.NewRequest(http.MethodDelete, "/api/quotes/missing", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("id")
	ctx.SetParamValues("missing")

	err := handler.remove(ctx)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}

func TestQuotesList(t *testing.T) {
	st, mock, cleanup := setupStore(t)
	defer cleanup()

	now := time.Now()
	query := regexp.QuoteMeta(`SELECT ` + quoteCols + ` FROM tracked_quotes ORDER BY added_at DESC`)
	rows := sqlmock.NewRows([]string{
		"id", "source_row_id", "client_label", "quote_text", "embedding", "state",
		"added_at", "first_hit_at", "last_hit_at", "last_checked_at", "next_due_at",
		"hit_count", "days_without_hit", "daily_hit_streak",
	}).AddRow("q-1", "row-7", "Acme Corp", "we will double output", nil, "ACTIVE_DAILY",
		now, nil, nil, nil, now, 2, 0, 1)
	mock.ExpectQuery(query).WillReturnRows(rows)

	handler := &QuotesHandler{Store: st}
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/quotes", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	if err := handler.list(ctx); err != nil {
		t.Fatalf("list: %v", err)
	}
	var payload []models.TrackedQuote
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(payload) != 1 || payload[0].State != models.StateActiveDaily {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
