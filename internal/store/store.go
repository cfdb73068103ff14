package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/shift6/quotewatch/internal/cadence"
	"github.com/shift6/quotewatch/models"
)

type Store struct {
	DB *sql.DB
}

// DefaultEmbeddingDimensions indicates the expected length of semantic vectors stored in pgvector columns.
const DefaultEmbeddingDimensions = 1536

func New(ctx context.Context) (*Store, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		host := getenvDefault("POSTGRES_HOST", "localhost")
		port := getenvDefault("POSTGRES_PORT", "5432")
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		db := os.Getenv("POSTGRES_DB")
		ssl := getenvDefault("POSTGRES_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, ssl)
	}
	return NewWithDSN(ctx, dsn)
}

// NewWithDSN constructs the Store using an explicit Postgres DSN
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

// quoteColumns is the select list every tracked_quotes scan uses. The
// embedding is cast to text so it survives the driver round-trip.
const quoteColumns = `id, source_row_id, client_label, quote_text, embedding::text, state, added_at, first_hit_at, last_hit_at, last_checked_at, next_due_at, hit_count, days_without_hit, daily_hit_streak`

func scanQuote(row interface{ Scan(...interface{}) error }) (models.TrackedQuote, error) {
	var q models.TrackedQuote
	var embedding sql.NullString
	var state string
	err := row.Scan(&q.ID, &q.SourceRowID, &q.ClientLabel, &q.Text, &embedding, &state,
		&q.AddedAt, &q.FirstHitAt, &q.LastHitAt, &q.LastCheckedAt, &q.NextDueAt,
		&q.HitCount, &q.DaysWithoutHit, &q.DailyHitStreak)
	if err != nil {
		return models.TrackedQuote{}, err
	}
	q.State = models.QuoteState(state)
	if embedding.Valid && embedding.String != "" {
		vec, err := decodeVectorLiteral(embedding.String)
		if err != nil {
			return models.TrackedQuote{}, err
		}
		q.Embedding = vec
	}
	return q, nil
}

// UpsertTrackedQuote inserts a quote row keyed by its upstream source row id.
// On conflict only the label and text are refreshed; cadence state, counters
// and timestamps belong to the scheduler and are never overwritten here.
func (s *Store) UpsertTrackedQuote(ctx context.Context, sourceRowID, clientLabel, text string) (models.TrackedQuote, error) {
	if strings.TrimSpace(sourceRowID) == "" {
		return models.TrackedQuote{}, fmt.Errorf("source_row_id required")
	}
	if strings.TrimSpace(text) == "" {
		return models.TrackedQuote{}, fmt.Errorf("quote text required")
	}
	row := s.DB.QueryRowContext(ctx, `
INSERT INTO tracked_quotes (source_row_id, client_label, quote_text)
VALUES ($1,$2,$3)
ON CONFLICT (source_row_id) DO UPDATE SET
  client_label = EXCLUDED.client_label,
  quote_text   = EXCLUDED.quote_text
RETURNING `+quoteColumns+`
`, sourceRowID, clientLabel, text)
	return scanQuote(row)
}

// SetQuoteEmbedding stores the semantic vector for a quote.
func (s *Store) SetQuoteEmbedding(ctx context.Context, quoteID string, vector []float32) error {
	if len(vector) == 0 {
		return fmt.Errorf("embedding vector required")
	}
	vectorLiteral, err := encodeVectorLiteral(vector)
	if err != nil {
		return err
	}
	res, err := s.DB.ExecContext(ctx, `UPDATE tracked_quotes SET embedding=$2::vector WHERE id=$1`, quoteID, vectorLiteral)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrQuoteNotFound
	}
	return nil
}

func (s *Store) GetQuote(ctx context.Context, id string) (models.TrackedQuote, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+quoteColumns+` FROM tracked_quotes WHERE id=$1`, id)
	q, err := scanQuote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.TrackedQuote{}, models.ErrQuoteNotFound
	}
	return q, err
}

func (s *Store) ListQuotes(ctx context.Context) ([]models.TrackedQuote, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+quoteColumns+` FROM tracked_quotes ORDER BY added_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.TrackedQuote
	for rows.Next() {
		q, err := scanQuote(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// DueQuotes returns quotes whose next check time has arrived, oldest first.
func (s *Store) DueQuotes(ctx context.Context, now time.Time, limit int) ([]models.TrackedQuote, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT `+quoteColumns+` FROM tracked_quotes
WHERE next_due_at <= $1
ORDER BY next_due_at ASC
LIMIT $2
`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.TrackedQuote
	for rows.Next() {
		q, err := scanQuote(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// ApplyCycle persists the result of one completed check cycle in a single
// UPDATE so state, schedule and counters always move together.
func (s *Store) ApplyCycle(ctx context.Context, quoteID string, res cadence.Result, checkedAt time.Time, matched bool) error {
	result, err := s.DB.ExecContext(ctx, `
UPDATE tracked_quotes SET
  state            = $2,
  next_due_at      = $3,
  days_without_hit = $4,
  daily_hit_streak = $5,
  last_checked_at  = $6,
  first_hit_at     = CASE WHEN $7 THEN COALESCE(first_hit_at, $6) ELSE first_hit_at END,
  last_hit_at      = CASE WHEN $8 THEN $6 ELSE last_hit_at END,
  hit_count        = hit_count + CASE WHEN $8 THEN 1 ELSE 0 END
WHERE id = $1
`, quoteID, string(res.State), res.NextDueAt, res.DaysWithoutHit, res.DailyHitStreak, checkedAt, res.SetFirstHit, matched)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrQuoteNotFound
	}
	return nil
}

// DeferQuote pushes a quote's next check out without touching its cadence,
// used when a cycle fails transiently.
func (s *Store) DeferQuote(ctx context.Context, quoteID string, until time.Time) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE tracked_quotes SET next_due_at=$2, last_checked_at=NOW() WHERE id=$1`, quoteID, until)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrQuoteNotFound
	}
	return nil
}

func (s *Store) DeleteQuote(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM tracked_quotes WHERE id=$1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrQuoteNotFound
	}
	return nil
}

// InsertHit records a confirmed appearance. The canonical-URL fingerprint is
// globally unique, so replaying the same article is a no-op: the existing hit
// comes back with created=false.
func (s *Store) InsertHit(ctx context.Context, h models.Hit) (models.Hit, bool, error) {
	if h.URLFingerprint == "" {
		return models.Hit{}, false, fmt.Errorf("url_fingerprint required")
	}
	row := s.DB.QueryRowContext(ctx, `
INSERT INTO hits (quote_id, client_label, url, url_fingerprint, domain, title, snippet, published_at, match_kind, confidence, summary_md)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (url_fingerprint) DO NOTHING
RETURNING id, created_at
`, h.QuoteID, h.ClientLabel, h.URL, h.URLFingerprint, h.Domain, h.Title, h.Snippet, h.PublishedAt, string(h.MatchKind), h.Confidence, h.SummaryMD)
	err := row.Scan(&h.ID, &h.CreatedAt)
	if err == nil {
		return h, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Hit{}, false, err
	}
	existing, _, err := s.getHitWhere(ctx, `url_fingerprint=$1`, h.URLFingerprint)
	if err != nil {
		return models.Hit{}, false, err
	}
	return existing, false, nil
}

const hitColumns = `h.id, h.quote_id, h.client_label, h.url, h.url_fingerprint, h.domain, h.title, h.snippet, h.published_at, h.match_kind, h.confidence, h.summary_md, h.created_at`

// HitWithRead pairs a hit with its read marker state.
type HitWithRead struct {
	models.Hit
	Read   bool       `json:"read"`
	ReadAt *time.Time `json:"read_at,omitempty"`
}

// HitFilter constrains ListHits queries.
type HitFilter struct {
	ClientLabel string
	QuoteID     string
	UnreadOnly  bool
	Limit       int
}

func scanHit(row interface{ Scan(...interface{}) error }, withRead bool) (HitWithRead, error) {
	var h HitWithRead
	var kind string
	dest := []interface{}{&h.ID, &h.QuoteID, &h.ClientLabel, &h.URL, &h.URLFingerprint, &h.Domain,
		&h.Title, &h.Snippet, &h.PublishedAt, &kind, &h.Confidence, &h.SummaryMD, &h.CreatedAt}
	if withRead {
		dest = append(dest, &h.ReadAt)
	}
	if err := row.Scan(dest...); err != nil {
		return HitWithRead{}, err
	}
	h.MatchKind = models.MatchKind(kind)
	h.Read = h.ReadAt != nil
	return h, nil
}

func (s *Store) ListHits(ctx context.Context, filter HitFilter) ([]HitWithRead, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	query := `
SELECT ` + hitColumns + `, r.read_at
FROM hits h
LEFT JOIN hit_reads r ON r.hit_id = h.id
WHERE ($1 = '' OR h.client_label = $1)
  AND ($2 = '' OR h.quote_id::text = $2)
  AND (NOT $3 OR r.hit_id IS NULL)
ORDER BY h.created_at DESC
LIMIT $4
`
	rows, err := s.DB.QueryContext(ctx, query, filter.ClientLabel, filter.QuoteID, filter.UnreadOnly, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []HitWithRead
	for rows.Next() {
		h, err := scanHit(rows, true)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *Store) GetHit(ctx context.Context, id string) (HitWithRead, error) {
	h, _, err := s.getHitWhere(ctx, `h.id=$1`, id)
	if err != nil {
		return HitWithRead{}, err
	}
	var readAt sql.NullTime
	err = s.DB.QueryRowContext(ctx, `SELECT read_at FROM hit_reads WHERE hit_id=$1`, id).Scan(&readAt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return HitWithRead{}, err
	}
	out := HitWithRead{Hit: h}
	if readAt.Valid {
		t := readAt.Time
		out.Read = true
		out.ReadAt = &t
	}
	return out, nil
}

func (s *Store) getHitWhere(ctx context.Context, where string, arg interface{}) (models.Hit, bool, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+hitColumns+` FROM hits h WHERE `+where, arg)
	var h models.Hit
	var kind string
	err := row.Scan(&h.ID, &h.QuoteID, &h.ClientLabel, &h.URL, &h.URLFingerprint, &h.Domain,
		&h.Title, &h.Snippet, &h.PublishedAt, &kind, &h.Confidence, &h.SummaryMD, &h.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Hit{}, false, models.ErrHitNotFound
	}
	if err != nil {
		return models.Hit{}, false, err
	}
	h.MatchKind = models.MatchKind(kind)
	return h, true, nil
}

// MarkRead records that a hit was seen. Idempotent.
func (s *Store) MarkRead(ctx context.Context, hitID string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO hit_reads (hit_id) VALUES ($1) ON CONFLICT (hit_id) DO NOTHING`, hitID)
	return err
}

// MarkAllRead marks every unread hit as read and reports how many changed.
func (s *Store) MarkAllRead(ctx context.Context) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `INSERT INTO hit_reads (hit_id) SELECT id FROM hits ON CONFLICT (hit_id) DO NOTHING`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func encodeVectorLiteral(vec []float32) (string, error) {
	if len(vec) == 0 {
		return "", fmt.Errorf("vector must not be empty")
	}
	var builder strings.Builder
	builder.WriteByte('[')
	for i, f := range vec {
		if i > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	builder.WriteByte(']')
	return builder.String(), nil
}

func decodeVectorLiteral(lit string) ([]float32, error) {
	lit = strings.TrimSpace(lit)
	if lit == "" {
		return nil, fmt.Errorf("empty vector literal")
	}
	lit = strings.TrimPrefix(lit, "[")
	lit = strings.TrimSuffix(lit, "]")
	parts := strings.Split(lit, ",")
	vec := make([]float32, 0, len(parts))
	for _, part := range parts {
		value := strings.TrimSpace(part)
		if value == "" {
			continue
		}
		f, err := strconv.ParseFloat(value, 32)
		if err != nil {
			return nil, fmt.Errorf("parse vector value %q: %w", value, err)
		}
		vec = append(vec, float32(f))
	}
	return vec, nil
}
