// Package feedcache keeps a locally searchable pool of recent articles from
// configured outlets. It is the fallback channel: when the live search
// providers are down, rate limited or empty, cycles search this pool
// instead, and expired quotes use it exclusively.
package feedcache

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/blevesearch/bleve"
	"github.com/gorhill/cronexpr"

	"github.com/shift6/quotewatch/internal/helpers"
	"github.com/shift6/quotewatch/news/newsapi"
	"github.com/shift6/quotewatch/repository"
	searchmodels "github.com/shift6/quotewatch/tools/web_search/models"
)

const (
	DefaultTTL      = 48 * time.Hour
	DefaultSchedule = "@hourly"
	fetchWindow     = 48 * time.Hour
)

// Fetcher is the slice of the NewsAPI client the cache needs.
type Fetcher interface {
	FetchDomains(ctx context.Context, domains []string, since time.Time, pageSize int) ([]newsapi.Article, error)
}

// indexedDoc is the shape stored in the bleve index.
type indexedDoc struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

type Cache struct {
	fetcher  Fetcher
	repo     repository.DocumentRepository
	domains  []string
	schedule string
	ttl      time.Duration
	logger   *log.Logger

	mu          sync.RWMutex
	index       bleve.Index
	meta        map[string]searchmodels.Document
	lastRefresh *time.Time
}

// New builds the cache. repo may be nil (no persistence across restarts);
// fetcher may be nil (cache serves only what the repo holds).
func New(fetcher Fetcher, repo repository.DocumentRepository, domains []string, schedule string, ttl time.Duration, logger *log.Logger) *Cache {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Cache{
		fetcher:  fetcher,
		repo:     repo,
		domains:  domains,
		schedule: schedule,
		ttl:      ttl,
		logger:   logger,
		meta:     map[string]searchmodels.Document{},
	}
}

// Warm loads whatever the repository still holds, so the cache is usable
// before the first refresh completes.
func (c *Cache) Warm(ctx context.Context) {
	if c.repo == nil {
		return
	}
	docs, err := c.repo.GetAllDocuments(ctx)
	if err != nil {
		c.logger.Printf("[FEED] warm from repository failed: %v", err)
		return
	}
	if len(docs) == 0 {
		return
	}
	if err := c.rebuild(docs); err != nil {
		c.logger.Printf("[FEED] rebuild index: %v", err)
	}
}

// Start runs the refresh loop until ctx is done. Refreshes fire when the
// configured schedule says one is due.
func (c *Cache) Start(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		c.mu.RLock()
		last := c.lastRefresh
		c.mu.RUnlock()
		if isDue(c.schedule, last) {
			if err := c.Refresh(ctx); err != nil {
				c.logger.Printf("[FEED] refresh failed: %v", err)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Refresh pulls fresh articles, persists them per domain and rebuilds the
// in-memory index.
func (c *Cache) Refresh(ctx context.Context) error {
	if c.fetcher == nil || len(c.domains) == 0 {
		return nil
	}
	now := time.Now()
	articles, err := c.fetcher.FetchDomains(ctx, c.domains, now.Add(-fetchWindow), 100)
	if err != nil {
		return err
	}

	byDomain := map[string][]searchmodels.Document{}
	var all []searchmodels.Document
	for _, a := range articles {
		if a.URL == "" {
			continue
		}
		published := a.PublishedAt
		doc := searchmodels.Document{
			URL:     a.URL,
			Title:   a.Title,
			Snippet: a.Description,
			Body:    a.Content,
			Source:  "feedcache",
		}
		if !published.IsZero() {
			p := published
			doc.PublishedAt = &p
		}
		domain := helpers.Domain(a.URL)
		byDomain[domain] = append(byDomain[domain], doc)
		all = append(all, doc)
	}

	if c.repo != nil {
		for domain, docs := range byDomain {
			if err := c.repo.SaveDocuments(ctx, domain, docs, c.ttl); err != nil {
				// Persistence is best effort; the in-memory index still refreshes.
				c.logger.Printf("[FEED] save %s documents: %v", domain, err)
			}
		}
	}

	if err := c.rebuild(all); err != nil {
		return err
	}
	c.mu.Lock()
	c.lastRefresh = &now
	c.mu.Unlock()
	c.logger.Printf("[FEED] refreshed %d documents from %d domains", len(all), len(byDomain))
	return nil
}

func (c *Cache) rebuild(docs []searchmodels.Document) error {
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return err
	}
	meta := make(map[string]searchmodels.Document, len(docs))
	for _, doc := range docs {
		id, err := helpers.URLFingerprint(doc.URL)
		if err != nil {
			continue
		}
		if _, seen := meta[id]; seen {
			continue
		}
		meta[id] = doc
		if err := index.Index(id, indexedDoc{Title: doc.Title, Text: doc.Title + "\n" + doc.Snippet + "\n" + doc.Body}); err != nil {
			return err
		}
	}
	c.mu.Lock()
	old := c.index
	c.index = index
	c.meta = meta
	c.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return nil
}

// SearchCached runs a query-string search over the cached pool. It never
// fails a cycle: on any problem it returns no documents.
func (c *Cache) SearchCached(ctx context.Context, q string, k int) []searchmodels.Document {
	if k <= 0 {
		k = 10
	}
	c.mu.RLock()
	index := c.index
	c.mu.RUnlock()
	if index == nil {
		return nil
	}

	query := bleve.NewQueryStringQuery(q)
	searchReq := bleve.NewSearchRequestOptions(query, k, 0, false)
	res, err := index.SearchInContext(ctx, searchReq)
	if err != nil {
		c.logger.Printf("[FEED] cached search failed: %v", err)
		return nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []searchmodels.Document
	for _, hit := range res.Hits {
		doc, ok := c.meta[hit.ID]
		if !ok {
			continue
		}
		out = append(out, doc)
		if len(out) >= k {
			break
		}
	}
	return out
}

// isDue determines whether a refresh with cronSpec should run now based on
// the last refresh time. Supports "@daily", "@hourly", and standard
// 5-field cron expressions.
func isDue(cronSpec string, last *time.Time) bool {
	now := time.Now()
	switch cronSpec {
	case "@daily":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= 24*time.Hour
	case "@hourly":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= time.Hour
	default:
		expr, err := cronexpr.Parse(cronSpec)
		if err != nil {
			// Fallback: treat as @daily if invalid
			if last == nil {
				return true
			}
			return now.Sub(*last) >= 24*time.Hour
		}
		if last == nil {
			return true
		}
		next := expr.Next(*last)
		return !next.After(now)
	}
}
