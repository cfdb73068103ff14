package models

import (
	"errors"
	"time"
)

// ErrQuoteNotFound is returned when a tracked quote is not found
var ErrQuoteNotFound = errors.New("tracked quote not found")

// ErrHitNotFound is returned when a hit is not found
var ErrHitNotFound = errors.New("hit not found")

// QuoteState is the polling cadence a tracked quote is currently in.
type QuoteState string

const (
	StateActiveHourly    QuoteState = "ACTIVE_HOURLY"
	StateActiveDaily     QuoteState = "ACTIVE_DAILY"
	StateActiveQuarterly QuoteState = "ACTIVE_QUARTERLY"
	StateExpiredWeekly   QuoteState = "EXPIRED_WEEKLY"
)

// Valid reports whether s is one of the known cadence states.
func (s QuoteState) Valid() bool {
	switch s {
	case StateActiveHourly, StateActiveDaily, StateActiveQuarterly, StateExpiredWeekly:
		return true
	}
	return false
}

// MatchKind classifies how a candidate document matched a quote.
type MatchKind string

const (
	MatchExact      MatchKind = "exact"
	MatchPartial    MatchKind = "partial"
	MatchParaphrase MatchKind = "paraphrase"
)

// TrackedQuote is a text fragment being monitored for public appearance.
// State fields (state, next_due_at, counters, timestamps other than added_at)
// are owned by the scheduler; the upstream feed may only create rows or
// update text/client_label.
type TrackedQuote struct {
	ID             string     `json:"id"`
	SourceRowID    string     `json:"source_row_id"`
	ClientLabel    string     `json:"client_label"`
	Text           string     `json:"text"`
	Embedding      []float32  `json:"-"`
	State          QuoteState `json:"state"`
	AddedAt        time.Time  `json:"added_at"`
	FirstHitAt     *time.Time `json:"first_hit_at,omitempty"`
	LastHitAt      *time.Time `json:"last_hit_at,omitempty"`
	LastCheckedAt  *time.Time `json:"last_checked_at,omitempty"`
	NextDueAt      time.Time  `json:"next_due_at"`
	HitCount       int        `json:"hit_count"`
	DaysWithoutHit int        `json:"days_without_hit"`
	DailyHitStreak int        `json:"daily_hit_streak"`
}

// Hit is a confirmed, stored appearance of a tracked quote. Append-only.
type Hit struct {
	ID             string     `json:"id"`
	QuoteID        string     `json:"quote_id"`
	ClientLabel    string     `json:"client_label"`
	URL            string     `json:"url"`
	URLFingerprint string     `json:"-"`
	Domain         string     `json:"domain"`
	Title          string     `json:"title"`
	Snippet        string     `json:"snippet"`
	PublishedAt    *time.Time `json:"published_at,omitempty"`
	MatchKind      MatchKind  `json:"match_kind"`
	Confidence     float64    `json:"confidence"`
	SummaryMD      string     `json:"summary_md,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// ReadMarker records that a hit has been seen.
type ReadMarker struct {
	HitID  string    `json:"hit_id"`
	ReadAt time.Time `json:"read_at"`
}

// ErrAdjudicatorUnavailable marks transient adjudication failures
// (timeouts, rate limits). The quote's cycle is retried after a short
// backoff without touching its cadence.
var ErrAdjudicatorUnavailable = errors.New("adjudicator unavailable")

// Verdict is the adjudicator's structured answer for a tentative match.
type Verdict struct {
	Match       bool    `json:"match"`
	Confidence  float64 `json:"confidence"`
	MatchedText string  `json:"matched_text"`
}

// HitSummaryInput carries the fields the summarizer turns into per-hit
// markdown.
type HitSummaryInput struct {
	ClientLabel string
	URL         string
	Domain      string
	Title       string
	Body        string
	QuoteText   string
	MatchKind   MatchKind
}
