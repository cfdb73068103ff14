package web_search

import (
	"context"

	"github.com/shift6/quotewatch/internal/helpers"
	"github.com/shift6/quotewatch/tools/web_search/exa"
	"github.com/shift6/quotewatch/tools/web_search/models"
	"github.com/shift6/quotewatch/tools/web_search/serper"
)

// WebSearcher is the primary search channel. k caps the number of results,
// domains optionally restricts to an allowlist, recencyDays restricts to
// recently published documents (0 = no restriction).
type WebSearcher interface {
	Search(ctx context.Context, q string, k int, domains []string, recencyDays int) ([]models.Document, error)
}

type Provider string

const (
	ExaProvider    Provider = "exa"
	SerperProvider Provider = "serper"
)

type Error struct {
	Msg string
}

func (e *Error) Error() string { return "web_search: " + e.Msg }

var ErrUnsupportedProvider = &Error{"unsupported provider"}

func NewWebSearcher(provider Provider, apiKey string) (WebSearcher, error) {
	switch provider {
	case ExaProvider:
		return dedupingSearcher{next: exa.Search{APIKey: apiKey}}, nil
	case SerperProvider:
		return dedupingSearcher{next: serper.Search{APIKey: apiKey}}, nil
	default:
		return nil, ErrUnsupportedProvider
	}
}

// dedupingSearcher drops candidates whose canonical URL repeats within one
// response. Every constructed searcher is wrapped so callers never see
// duplicates from a single channel.
type dedupingSearcher struct {
	next WebSearcher
}

func (d dedupingSearcher) Search(ctx context.Context, q string, k int, domains []string, recencyDays int) ([]models.Document, error) {
	docs, err := d.next.Search(ctx, q, k, domains, recencyDays)
	if err != nil {
		return nil, err
	}
	return DedupeByURL(docs), nil
}

// DedupeByURL keeps the first document per canonical URL, preserving order.
// Unparseable URLs are kept keyed on the raw string.
func DedupeByURL(docs []models.Document) []models.Document {
	seen := make(map[string]struct{}, len(docs))
	out := make([]models.Document, 0, len(docs))
	for _, doc := range docs {
		key := doc.URL
		if fp, err := helpers.URLFingerprint(doc.URL); err == nil {
			key = fp
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, doc)
	}
	return out
}
