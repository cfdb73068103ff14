package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/shift6/quotewatch/internal/cadence"
	"github.com/shift6/quotewatch/internal/helpers"
	"github.com/shift6/quotewatch/internal/match"
	"github.com/shift6/quotewatch/models"
	searchmodels "github.com/shift6/quotewatch/tools/web_search/models"
)

type fakeStore struct {
	mu sync.Mutex

	due       []models.TrackedQuote
	dueErr    error
	insertErr error

	existing map[string]models.Hit

	applied      []cadence.Result
	appliedIDs   []string
	matched      []bool
	deferred     []string
	deferUntil   []time.Time
	deferCtxErrs []error
	hits         []models.Hit
	embeddings   map[string][]float32
}

func newFakeStore(due ...models.TrackedQuote) *fakeStore {
	return &fakeStore{
		due:        due,
		existing:   make(map[string]models.Hit),
		embeddings: make(map[string][]float32),
	}
}

func (f *fakeStore) DueQuotes(ctx context.Context, now time.Time, limit int) ([]models.TrackedQuote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dueErr != nil {
		return nil, f.dueErr
	}
	if limit < len(f.due) {
		return f.due[:limit], nil
	}
	return f.due, nil
}

func (f *fakeStore) ApplyCycle(ctx context.Context, quoteID string, res cadence.Result, checkedAt time.Time, matched bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, res)
	f.appliedIDs = append(f.appliedIDs, quoteID)
	f.matched = append(f.matched, matched)
	return nil
}

func (f *fakeStore) DeferQuote(ctx context.Context, quoteID string, until time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deferred = append(f.deferred, quoteID)
	f.deferUntil = append(f.deferUntil, until)
	f.deferCtxErrs = append(f.deferCtxErrs, ctx.Err())
	return nil
}

func (f *fakeStore) SetQuoteEmbedding(ctx context.Context, quoteID string, vector []float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.embeddings[quoteID] = vector
	return nil
}

func (f *fakeStore) InsertHit(ctx context.Context, h models.Hit) (models.Hit, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return models.Hit{}, false, f.insertErr
	}
	if existing, ok := f.existing[h.URLFingerprint]; ok {
		return existing, false, nil
	}
	h.ID = fmt.Sprintf("hit-%d", len(f.hits)+1)
	h.CreatedAt = time.Now()
	f.hits = append(f.hits, h)
	f.existing[h.URLFingerprint] = h
	return h, true, nil
}

type fakeSearcher struct {
	docs []searchmodels.Document
	err  error
}

func (f *fakeSearcher) TieredSearch(ctx context.Context, quote models.TrackedQuote, k int) ([]searchmodels.Document, error) {
	return f.docs, f.err
}

type fakeMatcher struct {
	evals map[string]match.Evaluation
	errs  map[string]error
}

func (f *fakeMatcher) Evaluate(ctx context.Context, quote models.TrackedQuote, doc searchmodels.Document) (match.Evaluation, error) {
	if err, ok := f.errs[doc.URL]; ok {
		return match.Evaluation{}, err
	}
	return f.evals[doc.URL], nil
}

type fakeEmbedder struct {
	calls int
	err   error
}

func (f *fakeEmbedder) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}

type fakeSummarizer struct {
	err error
}

func (f *fakeSummarizer) Summarize(ctx context.Context, in models.HitSummaryInput) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "## Coverage for " + in.ClientLabel, nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	hits []models.Hit
}

func (f *fakeNotifier) HitCreated(ctx context.Context, hit models.Hit) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hits = append(f.hits, hit)
}

func testQuote() models.TrackedQuote {
	return models.TrackedQuote{
		ID:          "q-1",
		SourceRowID: "row-1",
		ClientLabel: "Acme Corp",
		Text:        "We will double our output by the end of the year",
		Embedding:   []float32{0.5, 0.5},
		State:       models.StateActiveHourly,
		AddedAt:     time.Now().Add(-24 * time.Hour),
		NextDueAt:   time.Now().Add(-time.Minute),
	}
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newTestScheduler(st *fakeStore, searcher Searcher, matcher Matcher, notifier HitPublisher) *Scheduler {
	return New(st, searcher, matcher, &fakeEmbedder{}, &fakeSummarizer{}, notifier, Config{MaxWorkers: 1}, quietLogger(), nil)
}

func TestRunNowRecordsHit(t *testing.T) {
	st := newFakeStore(testQuote())
	searcher := &fakeSearcher{docs: []searchmodels.Document{{
		URL:   "https://news.example.com/story?utm_source=feed",
		Title: "Acme doubles down",
		Body:  "Acme said it will double output.",
	}}}
	matcher := &fakeMatcher{evals: map[string]match.Evaluation{
		"https://news.example.com/story?utm_source=feed": {Accept: true, Kind: models.MatchExact, Confidence: 1.0, Span: "double output"},
	}}
	notifier := &fakeNotifier{}
	s := newTestScheduler(st, searcher, matcher, notifier)

	n, err := s.RunNow(context.Background(), 10)
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 processed, got %d", n)
	}
	if len(st.hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(st.hits))
	}
	hit := st.hits[0]
	if hit.URL != "https://news.example.com/story" {
		t.Fatalf("expected canonical url, got %q", hit.URL)
	}
	if hit.URLFingerprint == "" || hit.Domain != "news.example.com" {
		t.Fatalf("unexpected hit fields: %+v", hit)
	}
	if len(st.applied) != 1 || !st.matched[0] {
		t.Fatalf("expected one matched cycle, got applied=%d matched=%v", len(st.applied), st.matched)
	}
	if st.applied[0].State != models.StateActiveDaily {
		t.Fatalf("expected hourly quote to move to daily after a hit, got %s", st.applied[0].State)
	}
	if len(notifier.hits) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(notifier.hits))
	}
	if hit.SummaryMD == "" {
		t.Fatalf("expected the summary to be part of the inserted hit")
	}
	if notifier.hits[0].SummaryMD != hit.SummaryMD {
		t.Fatalf("notification should carry the stored summary")
	}
}

func TestSummaryFailureStillRecordsHit(t *testing.T) {
	st := newFakeStore(testQuote())
	searcher := &fakeSearcher{docs: []searchmodels.Document{{URL: "https://a.example.com/x", Body: "text"}}}
	matcher := &fakeMatcher{evals: map[string]match.Evaluation{
		"https://a.example.com/x": {Accept: true, Kind: models.MatchExact, Confidence: 1.0},
	}}
	s := New(st, searcher, matcher, &fakeEmbedder{}, &fakeSummarizer{err: errors.New("llm down")}, nil, Config{MaxWorkers: 1}, quietLogger(), nil)

	if _, err := s.RunNow(context.Background(), 10); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if len(st.hits) != 1 {
		t.Fatalf("expected hit despite summary failure, got %d", len(st.hits))
	}
	if st.hits[0].SummaryMD != "" {
		t.Fatalf("failed summary must leave the hit's summary empty, got %q", st.hits[0].SummaryMD)
	}
	if len(st.deferred) != 0 {
		t.Fatalf("summary failure must not defer the cycle")
	}
}

func TestNoMatchAdvancesCadenceUnmatched(t *testing.T) {
	st := newFakeStore(testQuote())
	searcher := &fakeSearcher{docs: []searchmodels.Document{{URL: "https://a.example.com/x", Body: "unrelated"}}}
	matcher := &fakeMatcher{}
	s := newTestScheduler(st, searcher, matcher, nil)

	if _, err := s.RunNow(context.Background(), 10); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if len(st.hits) != 0 {
		t.Fatalf("expected no hits, got %d", len(st.hits))
	}
	if len(st.applied) != 1 || st.matched[0] {
		t.Fatalf("expected one unmatched cycle, got applied=%d matched=%v", len(st.applied), st.matched)
	}
}

func TestSearchFailureDefersWithoutCadenceChange(t *testing.T) {
	st := newFakeStore(testQuote())
	searcher := &fakeSearcher{err: searchmodels.ErrRateLimited}
	s := newTestScheduler(st, searcher, &fakeMatcher{}, nil)

	if _, err := s.RunNow(context.Background(), 10); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if len(st.deferred) != 1 || st.deferred[0] != "q-1" {
		t.Fatalf("expected quote deferred, got %v", st.deferred)
	}
	if len(st.applied) != 0 {
		t.Fatalf("cadence must not advance on transient failure")
	}
	if !st.deferUntil[0].After(time.Now()) {
		t.Fatalf("defer time must be in the future, got %s", st.deferUntil[0])
	}
}

type blockingSearcher struct{}

func (blockingSearcher) TieredSearch(ctx context.Context, quote models.TrackedQuote, k int) ([]searchmodels.Document, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestQuoteTimeoutStillPersistsBackoff(t *testing.T) {
	st := newFakeStore(testQuote())
	s := New(st, blockingSearcher{}, &fakeMatcher{}, nil, nil, nil, Config{MaxWorkers: 1, QuoteTimeout: 20 * time.Millisecond}, quietLogger(), nil)

	if _, err := s.RunNow(context.Background(), 10); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if len(st.deferred) != 1 || st.deferred[0] != "q-1" {
		t.Fatalf("expected timed-out quote deferred, got %v", st.deferred)
	}
	if st.deferCtxErrs[0] != nil {
		t.Fatalf("backoff write must not ride the expired per-quote deadline, ctx err: %v", st.deferCtxErrs[0])
	}
	if len(st.applied) != 0 {
		t.Fatalf("cadence must not advance on a timed-out cycle")
	}
	if !st.deferUntil[0].After(time.Now()) {
		t.Fatalf("defer time must be in the future, got %s", st.deferUntil[0])
	}
}

func TestAdjudicatorOutageDefers(t *testing.T) {
	st := newFakeStore(testQuote())
	searcher := &fakeSearcher{docs: []searchmodels.Document{{URL: "https://a.example.com/x", Body: "text"}}}
	matcher := &fakeMatcher{errs: map[string]error{
		"https://a.example.com/x": fmt.Errorf("adjudicate: %w", models.ErrAdjudicatorUnavailable),
	}}
	s := newTestScheduler(st, searcher, matcher, nil)

	if _, err := s.RunNow(context.Background(), 10); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if len(st.deferred) != 1 {
		t.Fatalf("expected quote deferred, got %v", st.deferred)
	}
	if len(st.applied) != 0 {
		t.Fatalf("cadence must not advance while the adjudicator is down")
	}
}

func TestUnusableCandidateSkippedNotFatal(t *testing.T) {
	st := newFakeStore(testQuote())
	searcher := &fakeSearcher{docs: []searchmodels.Document{
		{URL: "https://broken.example.com/x"},
		{URL: "https://good.example.com/y", Body: "the quote appears here"},
	}}
	matcher := &fakeMatcher{
		errs: map[string]error{
			"https://broken.example.com/x": &match.PermanentDocumentError{Reason: "empty text"},
		},
		evals: map[string]match.Evaluation{
			"https://good.example.com/y": {Accept: true, Kind: models.MatchParaphrase, Confidence: 0.92, Span: "the quote"},
		},
	}
	s := newTestScheduler(st, searcher, matcher, nil)

	if _, err := s.RunNow(context.Background(), 10); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if len(st.deferred) != 0 {
		t.Fatalf("permanent document errors must not defer the cycle")
	}
	if len(st.hits) != 1 || st.hits[0].URL != "https://good.example.com/y" {
		t.Fatalf("expected hit from the second candidate, got %+v", st.hits)
	}
}

func TestDuplicateHitStillCountsAsMatched(t *testing.T) {
	quote := testQuote()
	st := newFakeStore(quote)
	existing := models.Hit{ID: "hit-old", QuoteID: quote.ID, URL: "https://a.example.com/x"}
	fp := mustFingerprint(t, "https://a.example.com/x")
	st.existing[fp] = existing

	searcher := &fakeSearcher{docs: []searchmodels.Document{{URL: "https://a.example.com/x", Body: "text"}}}
	matcher := &fakeMatcher{evals: map[string]match.Evaluation{
		"https://a.example.com/x": {Accept: true, Kind: models.MatchExact, Confidence: 1.0},
	}}
	notifier := &fakeNotifier{}
	s := newTestScheduler(st, searcher, matcher, notifier)

	if _, err := s.RunNow(context.Background(), 10); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if len(st.hits) != 0 {
		t.Fatalf("duplicate must not create a new hit")
	}
	if len(notifier.hits) != 0 {
		t.Fatalf("duplicate must not notify")
	}
	if len(st.matched) != 1 || !st.matched[0] {
		t.Fatalf("duplicate hit still counts as a matched cycle")
	}
}

func TestLeaseSkipsInFlightQuote(t *testing.T) {
	st := newFakeStore(testQuote())
	searcher := &fakeSearcher{}
	s := newTestScheduler(st, searcher, &fakeMatcher{}, nil)

	if !s.claim("q-1") {
		t.Fatalf("first claim should succeed")
	}
	n, err := s.RunNow(context.Background(), 10)
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if n != 0 {
		t.Fatalf("leased quote must be skipped, processed %d", n)
	}

	s.release("q-1")
	n, err = s.RunNow(context.Background(), 10)
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if n != 1 {
		t.Fatalf("released quote should be processed, got %d", n)
	}
}

func TestExpiredLeaseIsReclaimed(t *testing.T) {
	s := newTestScheduler(newFakeStore(), &fakeSearcher{}, &fakeMatcher{}, nil)
	base := time.Now()
	s.now = func() time.Time { return base }

	if !s.claim("q-1") {
		t.Fatalf("first claim should succeed")
	}
	if s.claim("q-1") {
		t.Fatalf("active lease must block a second claim")
	}
	s.now = func() time.Time { return base.Add(s.cfg.LeaseTTL + time.Second) }
	if !s.claim("q-1") {
		t.Fatalf("expired lease should be reclaimable")
	}
}

func TestEmbeddingBackfilled(t *testing.T) {
	quote := testQuote()
	quote.Embedding = nil
	st := newFakeStore(quote)
	embedder := &fakeEmbedder{}
	s := New(st, &fakeSearcher{}, &fakeMatcher{}, embedder, nil, nil, Config{MaxWorkers: 1}, quietLogger(), nil)

	if _, err := s.RunNow(context.Background(), 10); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if embedder.calls != 1 {
		t.Fatalf("expected one embedding call, got %d", embedder.calls)
	}
	if len(st.embeddings["q-1"]) == 0 {
		t.Fatalf("expected embedding persisted for q-1")
	}
}

func TestEmbeddingFailureIsNonFatal(t *testing.T) {
	quote := testQuote()
	quote.Embedding = nil
	st := newFakeStore(quote)
	embedder := &fakeEmbedder{err: errors.New("embedding api down")}
	s := New(st, &fakeSearcher{}, &fakeMatcher{}, embedder, nil, nil, Config{MaxWorkers: 1}, quietLogger(), nil)

	if _, err := s.RunNow(context.Background(), 10); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if len(st.applied) != 1 {
		t.Fatalf("cycle should still complete without an embedding")
	}
}

func mustFingerprint(t *testing.T, raw string) string {
	t.Helper()
	fp, err := helpers.URLFingerprint(raw)
	if err != nil {
		t.Fatalf("fingerprint %q: %v", raw, err)
	}
	return fp
}
