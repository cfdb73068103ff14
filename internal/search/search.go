// Package search turns a tracked quote into search queries and runs them
// against the live channel with the cached pool as fallback.
package search

import (
	"context"
	"log"
	"strings"

	"github.com/shift6/quotewatch/internal/similarity"
	"github.com/shift6/quotewatch/models"
	"github.com/shift6/quotewatch/tools/web_search"
	searchmodels "github.com/shift6/quotewatch/tools/web_search/models"
)

const (
	shingleSize     = 8
	maxShingleTiers = 3
)

// Query is one search attempt. RecencyDays of 0 means unbounded.
type Query struct {
	Text        string
	RecencyDays int
}

// CachedSearcher is the feedcache capability the orchestrator falls back to.
type CachedSearcher interface {
	SearchCached(ctx context.Context, q string, k int) []searchmodels.Document
}

// BuildQueries produces the tiers for one quote, most precise first:
// the full quoted text with the client label, a few overlapping word
// shingles with the label, and finally the label alone bounded to the
// last day.
func BuildQueries(quote models.TrackedQuote) []Query {
	label := strings.TrimSpace(quote.ClientLabel)
	text := strings.TrimSpace(quote.Text)

	var out []Query
	if text != "" {
		out = append(out, Query{Text: quoted(text) + " " + quoted(label)})
	}

	words := similarity.Tokenize(text)
	if len(words) > shingleSize {
		shingles := similarity.Shingles(words, shingleSize)
		for _, i := range spreadOffsets(len(shingles), maxShingleTiers) {
			out = append(out, Query{Text: quoted(shingles[i]) + " " + quoted(label)})
		}
	}

	if label != "" {
		out = append(out, Query{Text: quoted(label), RecencyDays: 1})
	}
	return out
}

// spreadOffsets picks up to n indexes spread across [0, total).
func spreadOffsets(total, n int) []int {
	if total <= 0 {
		return nil
	}
	if total <= n {
		out := make([]int, total)
		for i := range out {
			out[i] = i
		}
		return out
	}
	out := make([]int, 0, n)
	seen := map[int]struct{}{}
	for i := 0; i < n; i++ {
		idx := i * (total - 1) / (n - 1)
		if _, ok := seen[idx]; ok {
			continue
		}
		seen[idx] = struct{}{}
		out = append(out, idx)
	}
	return out
}

func quoted(s string) string {
	if s == "" {
		return ""
	}
	return `"` + s + `"`
}

// Searcher orchestrates the tiers for a quote's check cycle.
type Searcher struct {
	web     web_search.WebSearcher
	cache   CachedSearcher
	domains []string
	logger  *log.Logger
}

// NewSearcher wires the live channel and the cache. Either may be nil;
// with both nil every search comes back empty.
func NewSearcher(web web_search.WebSearcher, cache CachedSearcher, domains []string, logger *log.Logger) *Searcher {
	if logger == nil {
		logger = log.Default()
	}
	return &Searcher{web: web, cache: cache, domains: domains, logger: logger}
}

// TieredSearch runs the quote's query tiers in order and stops at the first
// tier that yields candidates. A dead or rate-limited live channel, or one
// that finds nothing at all, falls back to the cached pool. Quotes in the
// expired state never touch the live channel.
func (s *Searcher) TieredSearch(ctx context.Context, quote models.TrackedQuote, k int) ([]searchmodels.Document, error) {
	if k <= 0 {
		k = 10
	}
	if quote.State == models.StateExpiredWeekly || s.web == nil {
		return s.fromCache(ctx, quote, k), nil
	}

	for _, q := range BuildQueries(quote) {
		docs, err := s.web.Search(ctx, q.Text, k, s.domains, q.RecencyDays)
		if err != nil {
			s.logger.Printf("[SEARCH] live channel failed (%v), using cache", err)
			return s.fromCache(ctx, quote, k), nil
		}
		if len(docs) > 0 {
			return web_search.DedupeByURL(docs), nil
		}
	}
	return s.fromCache(ctx, quote, k), nil
}

func (s *Searcher) fromCache(ctx context.Context, quote models.TrackedQuote, k int) []searchmodels.Document {
	if s.cache == nil {
		return nil
	}
	q := quoted(quote.ClientLabel)
	if q == "" {
		q = quoted(firstWords(quote.Text, shingleSize))
	}
	return web_search.DedupeByURL(s.cache.SearchCached(ctx, q, k))
}

func firstWords(text string, n int) string {
	words := similarity.Tokenize(text)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}
