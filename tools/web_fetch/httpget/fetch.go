package httpget

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
	"github.com/shift6/quotewatch/internal/helpers"
	"github.com/shift6/quotewatch/tools/web_fetch/models"
)

// Fetch retrieves pages with a plain HTTP GET and extracts article text
// with readability. Cheap default; pages that require rendering go through
// the chromedp fetcher instead.
type Fetch struct {
	Timeout  time.Duration
	MaxChars int
}

func (f Fetch) Exec(ctx context.Context, raw string) (models.Result, error) {
	if strings.TrimSpace(raw) == "" {
		return models.Result{}, errors.New("invalid url")
	}

	ctx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()
	t0 := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		return models.Result{}, err
	}
	req.Header.Set("User-Agent", "quotewatch/1.0 (+coverage monitor)")
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return models.Result{URL: raw, Status: 599, RenderMS: sinceMS(t0)}, nil
	}
	body, err := helpers.ReadAllAndClose(resp.Body)
	if err != nil || resp.StatusCode != http.StatusOK {
		return models.Result{URL: raw, Status: resp.StatusCode, RenderMS: sinceMS(t0)}, nil
	}

	html := string(body)
	article, err := readability.FromReader(strings.NewReader(html), parseOrEmpty(raw))
	if err != nil {
		return models.Result{URL: raw, Status: resp.StatusCode, RenderMS: sinceMS(t0)}, nil
	}
	text := article.TextContent
	if len(text) > f.MaxChars {
		text = text[:f.MaxChars]
	}

	sum := sha1.Sum(body)

	return models.Result{
		URL:      raw,
		Title:    strings.TrimSpace(article.Title),
		Byline:   strings.TrimSpace(article.Byline),
		Text:     strings.TrimSpace(text),
		HTMLHash: hex.EncodeToString(sum[:]),
		Status:   resp.StatusCode,
		RenderMS: sinceMS(t0),
	}, nil
}

func sinceMS(t0 time.Time) int {
	return int(time.Since(t0) / time.Millisecond)
}

func parseOrEmpty(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		return &url.URL{}
	}
	return u
}
