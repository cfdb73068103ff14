// Package scheduler runs the monitoring loop: it selects due quotes,
// searches for candidate coverage, evaluates matches, records hits and
// advances each quote's cadence.
package scheduler

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/shift6/quotewatch/internal/cadence"
	"github.com/shift6/quotewatch/internal/helpers"
	"github.com/shift6/quotewatch/internal/match"
	"github.com/shift6/quotewatch/models"
	searchmodels "github.com/shift6/quotewatch/tools/web_search/models"
)

// Defaults for zero-valued Config fields.
const (
	DefaultTickInterval = 5 * time.Minute
	DefaultBatchLimit   = 100
	DefaultMaxWorkers   = 4
	DefaultQuoteTimeout = 2 * time.Minute
	DefaultLeaseTTL     = 10 * time.Minute
	DefaultDeferBackoff = 15 * time.Minute
	DefaultSearchK      = 10

	// deferWriteTimeout bounds the backoff write issued after a cycle
	// failure, independently of the per-quote deadline.
	deferWriteTimeout = 10 * time.Second
)

// Store captures the persistence methods the scheduler needs.
type Store interface {
	DueQuotes(ctx context.Context, now time.Time, limit int) ([]models.TrackedQuote, error)
	ApplyCycle(ctx context.Context, quoteID string, res cadence.Result, checkedAt time.Time, matched bool) error
	DeferQuote(ctx context.Context, quoteID string, until time.Time) error
	SetQuoteEmbedding(ctx context.Context, quoteID string, vector []float32) error
	InsertHit(ctx context.Context, h models.Hit) (models.Hit, bool, error)
}

// Searcher produces candidate documents for a quote.
type Searcher interface {
	TieredSearch(ctx context.Context, quote models.TrackedQuote, k int) ([]searchmodels.Document, error)
}

// Matcher decides whether a candidate document contains the quote.
type Matcher interface {
	Evaluate(ctx context.Context, quote models.TrackedQuote, doc searchmodels.Document) (match.Evaluation, error)
}

// Embedder backfills quote embeddings for the semantic tier.
type Embedder interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// Summarizer produces the per-hit markdown brief.
type Summarizer interface {
	Summarize(ctx context.Context, in models.HitSummaryInput) (string, error)
}

// HitPublisher announces newly created hits. Publishing is best effort and
// must never fail a cycle.
type HitPublisher interface {
	HitCreated(ctx context.Context, hit models.Hit)
}

// Config controls the loop's timing and concurrency.
type Config struct {
	TickInterval time.Duration
	BatchLimit   int
	MaxWorkers   int
	QuoteTimeout time.Duration
	LeaseTTL     time.Duration
	DeferBackoff time.Duration
	SearchK      int
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.BatchLimit <= 0 {
		c.BatchLimit = DefaultBatchLimit
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = DefaultMaxWorkers
	}
	if c.QuoteTimeout <= 0 {
		c.QuoteTimeout = DefaultQuoteTimeout
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = DefaultLeaseTTL
	}
	if c.DeferBackoff <= 0 {
		c.DeferBackoff = DefaultDeferBackoff
	}
	if c.SearchK <= 0 {
		c.SearchK = DefaultSearchK
	}
	return c
}

// Scheduler owns the monitoring loop.
type Scheduler struct {
	store      Store
	searcher   Searcher
	matcher    Matcher
	embedder   Embedder
	summarizer Summarizer
	notifier   HitPublisher
	cfg        Config
	logger     *log.Logger

	mu     sync.Mutex
	leases map[string]time.Time

	now func() time.Time

	cycleCounter otelmetric.Int64Counter
	hitCounter   otelmetric.Int64Counter
	deferCounter otelmetric.Int64Counter
}

// New constructs a Scheduler. embedder, summarizer and notifier may be nil;
// the corresponding steps are then skipped.
func New(st Store, searcher Searcher, matcher Matcher, embedder Embedder, summarizer Summarizer, notifier HitPublisher, cfg Config, logger *log.Logger, meter otelmetric.Meter) *Scheduler {
	if logger == nil {
		logger = log.Default()
	}
	s := &Scheduler{
		store:      st,
		searcher:   searcher,
		matcher:    matcher,
		embedder:   embedder,
		summarizer: summarizer,
		notifier:   notifier,
		cfg:        cfg.withDefaults(),
		logger:     logger,
		leases:     make(map[string]time.Time),
		now:        time.Now,
	}
	if meter != nil {
		var err error
		s.cycleCounter, err = meter.Int64Counter("quote_cycles_processed")
		if err != nil {
			logger.Printf("[SCHED] warn: create cycle counter failed: %v", err)
		}
		s.hitCounter, err = meter.Int64Counter("quote_hits_recorded")
		if err != nil {
			logger.Printf("[SCHED] warn: create hit counter failed: %v", err)
		}
		s.deferCounter, err = meter.Int64Counter("quote_cycles_deferred")
		if err != nil {
			logger.Printf("[SCHED] warn: create defer counter failed: %v", err)
		}
	}
	return s
}

// Start blocks, running a batch immediately and then on every tick until
// the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Printf("[SCHED] starting; tick %s, batch %d, workers %d", s.cfg.TickInterval, s.cfg.BatchLimit, s.cfg.MaxWorkers)
	if _, err := s.runBatch(ctx, s.cfg.BatchLimit); err != nil {
		s.logger.Printf("[SCHED] batch failed: %v", err)
	}

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Printf("[SCHED] stopping: %v", ctx.Err())
			return nil
		case <-ticker.C:
			if _, err := s.runBatch(ctx, s.cfg.BatchLimit); err != nil {
				s.logger.Printf("[SCHED] batch failed: %v", err)
			}
		}
	}
}

// RunNow processes one batch of due quotes on the caller's goroutine and
// returns how many quotes were processed. It shares the loop's lease map,
// so quotes already in flight are skipped.
func (s *Scheduler) RunNow(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = s.cfg.BatchLimit
	}
	return s.runBatch(ctx, limit)
}

func (s *Scheduler) runBatch(ctx context.Context, limit int) (int, error) {
	now := s.now()
	quotes, err := s.store.DueQuotes(ctx, now, limit)
	if err != nil {
		return 0, err
	}
	if len(quotes) == 0 {
		return 0, nil
	}

	sem := make(chan struct{}, s.cfg.MaxWorkers)
	var wg sync.WaitGroup
	processed := 0
	for _, q := range quotes {
		if !s.claim(q.ID) {
			continue
		}
		processed++
		wg.Add(1)
		sem <- struct{}{}
		go func(quote models.TrackedQuote) {
			defer wg.Done()
			defer func() { <-sem }()
			defer s.release(quote.ID)
			s.processQuote(ctx, quote)
		}(q)
	}
	wg.Wait()
	return processed, nil
}

// claim takes an in-memory lease on a quote so overlapping batches never
// process it twice. Expired leases from crashed cycles are reclaimed.
func (s *Scheduler) claim(quoteID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if expiry, ok := s.leases[quoteID]; ok && now.Before(expiry) {
		return false
	}
	s.leases[quoteID] = now.Add(s.cfg.LeaseTTL)
	return true
}

func (s *Scheduler) release(quoteID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.leases, quoteID)
}

func (s *Scheduler) processQuote(ctx context.Context, quote models.TrackedQuote) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.QuoteTimeout)
	defer cancel()

	now := s.now()
	s.ensureEmbedding(ctx, &quote)

	docs, err := s.searcher.TieredSearch(ctx, quote, s.cfg.SearchK)
	if err != nil {
		s.deferQuote(ctx, quote.ID, now, "search failed", err)
		return
	}

	matched := false
	for _, doc := range docs {
		ev, err := s.matcher.Evaluate(ctx, quote, doc)
		if err != nil {
			var perm *match.PermanentDocumentError
			if errors.As(err, &perm) {
				continue
			}
			// Adjudicator outages and timeouts are transient; retry the
			// whole cycle later without advancing the cadence.
			s.deferQuote(ctx, quote.ID, now, "evaluate failed", err)
			return
		}
		if !ev.Accept {
			continue
		}
		switch s.recordHit(ctx, quote, doc, ev, now) {
		case hitRecorded, hitDuplicate:
			matched = true
		case hitRetry:
			return
		case hitSkipped:
			continue
		}
		if matched {
			break
		}
	}

	outcome := cadence.OutcomeNoMatch
	if matched {
		outcome = cadence.OutcomeMatched
	}
	res, err := cadence.Next(cadence.Input{
		State:          quote.State,
		Outcome:        outcome,
		Now:            now,
		AddedAt:        quote.AddedAt,
		FirstHitSet:    quote.FirstHitAt != nil,
		DaysWithoutHit: quote.DaysWithoutHit,
		DailyHitStreak: quote.DailyHitStreak,
	})
	if err != nil {
		s.deferQuote(ctx, quote.ID, now, "cadence transition failed", err)
		return
	}
	if err := s.store.ApplyCycle(ctx, quote.ID, res, now, matched); err != nil {
		s.logger.Printf("[SCHED] apply cycle for quote %s: %v", quote.ID, err)
		return
	}
	if s.cycleCounter != nil {
		s.cycleCounter.Add(ctx, 1)
	}
}

// ensureEmbedding backfills the quote's embedding so the semantic tier can
// run. Failure is non-fatal; the exact and lexical tiers still apply.
func (s *Scheduler) ensureEmbedding(ctx context.Context, quote *models.TrackedQuote) {
	if len(quote.Embedding) > 0 || s.embedder == nil {
		return
	}
	vectors, err := s.embedder.CreateEmbedding(ctx, []string{quote.Text})
	if err != nil || len(vectors) == 0 {
		s.logger.Printf("[SCHED] embed quote %s failed: %v", quote.ID, err)
		return
	}
	if err := s.store.SetQuoteEmbedding(ctx, quote.ID, vectors[0]); err != nil {
		s.logger.Printf("[SCHED] persist embedding for quote %s: %v", quote.ID, err)
		return
	}
	quote.Embedding = vectors[0]
}

type hitOutcome int

const (
	hitRecorded hitOutcome = iota
	hitDuplicate
	hitRetry
	hitSkipped
)

// recordHit persists an accepted match. hitRetry means the cycle must be
// retried later; hitSkipped means the candidate was unusable and the next
// one should be tried.
func (s *Scheduler) recordHit(ctx context.Context, quote models.TrackedQuote, doc searchmodels.Document, ev match.Evaluation, now time.Time) hitOutcome {
	canonical, err := helpers.CanonicalURL(doc.URL)
	if err != nil {
		s.logger.Printf("[SCHED] canonicalize %q: %v", doc.URL, err)
		return hitSkipped
	}
	fingerprint, err := helpers.URLFingerprint(doc.URL)
	if err != nil {
		s.logger.Printf("[SCHED] fingerprint %q: %v", doc.URL, err)
		return hitSkipped
	}

	hit := models.Hit{
		QuoteID:        quote.ID,
		ClientLabel:    quote.ClientLabel,
		URL:            canonical,
		URLFingerprint: fingerprint,
		Domain:         helpers.Domain(canonical),
		Title:          doc.Title,
		Snippet:        match.Snippet(ev.Span, doc.Text()),
		PublishedAt:    doc.PublishedAt,
		MatchKind:      ev.Kind,
		Confidence:     ev.Confidence,
	}

	// Hits are append-only, so the summary has to be in the row at insert
	// time. A failed summary leaves it empty rather than failing the cycle.
	if s.summarizer != nil {
		summary, err := s.summarizer.Summarize(ctx, models.HitSummaryInput{
			ClientLabel: quote.ClientLabel,
			URL:         hit.URL,
			Domain:      hit.Domain,
			Title:       hit.Title,
			Body:        doc.Text(),
			QuoteText:   quote.Text,
			MatchKind:   hit.MatchKind,
		})
		if err != nil {
			s.logger.Printf("[SCHED] summarize hit for quote %s: %v", quote.ID, err)
		} else {
			hit.SummaryMD = summary
		}
	}

	stored, created, err := s.store.InsertHit(ctx, hit)
	if err != nil {
		s.deferQuote(ctx, quote.ID, now, "insert hit", err)
		return hitRetry
	}
	if !created {
		s.logger.Printf("[SCHED] hit for quote %s at %s already recorded as %s", quote.ID, hit.Domain, stored.ID)
		return hitDuplicate
	}

	s.logger.Printf("[SCHED] new %s hit for quote %s: %s (confidence %.2f)", stored.MatchKind, quote.ID, stored.URL, stored.Confidence)
	if s.hitCounter != nil {
		s.hitCounter.Add(ctx, 1)
	}

	if s.notifier != nil {
		s.notifier.HitCreated(ctx, stored)
	}
	return hitRecorded
}

func (s *Scheduler) deferQuote(ctx context.Context, quoteID string, now time.Time, reason string, cause error) {
	until := now.Add(s.cfg.DeferBackoff)
	s.logger.Printf("[SCHED] defer quote %s until %s: %s: %v", quoteID, until.Format(time.RFC3339), reason, cause)
	// The usual cause is the per-quote deadline itself expiring, so the
	// backoff write needs a context that outlives it or next_due_at never
	// moves and the quote is re-selected every tick.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deferWriteTimeout)
	defer cancel()
	if err := s.store.DeferQuote(writeCtx, quoteID, until); err != nil {
		s.logger.Printf("[SCHED] defer quote %s: %v", quoteID, err)
	}
	if s.deferCounter != nil {
		s.deferCounter.Add(writeCtx, 1)
	}
}
