package web_fetch

import (
	"context"
	"time"

	"github.com/shift6/quotewatch/tools/web_fetch/chromedp"
	"github.com/shift6/quotewatch/tools/web_fetch/httpget"
	"github.com/shift6/quotewatch/tools/web_fetch/models"
)

const (
	DefaultTimeout  = 15 * time.Second
	MaxCharsDefault = 20000
)

// WebFetcher retrieves a page and extracts readable article text. Used when
// a search channel returns a candidate without body text.
type WebFetcher interface {
	Exec(ctx context.Context, url string) (models.Result, error)
}

type FetcherType string

const (
	HTTPFetcherType     FetcherType = "http"
	ChromedpFetcherType FetcherType = "chromedp"
)

type Error struct {
	Msg string
}

func (e *Error) Error() string { return "web_fetch: " + e.Msg }

// ParseFetcherType maps a config value to a FetcherType. An empty value
// selects the plain HTTP fetcher.
func ParseFetcherType(s string) (FetcherType, error) {
	switch s {
	case "", "http":
		return HTTPFetcherType, nil
	case "chromedp":
		return ChromedpFetcherType, nil
	default:
		return "", &Error{"unknown fetcher type: " + s}
	}
}

func NewWebFetcher(fetcherType FetcherType, timeout time.Duration, maxChars int) (WebFetcher, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxChars <= 0 {
		maxChars = MaxCharsDefault
	}

	switch fetcherType {
	case HTTPFetcherType:
		return &httpget.Fetch{Timeout: timeout, MaxChars: maxChars}, nil
	case ChromedpFetcherType:
		return &chromedp.Fetch{Timeout: timeout, MaxChars: maxChars}, nil
	default:
		return nil, &Error{"unsupported fetcher type"}
	}
}
