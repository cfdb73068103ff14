package serper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/shift6/quotewatch/tools/web_search/models"
)

const endpoint = "https://google.serper.dev/search"

// Search queries the Serper API. Serper only returns snippets, so callers
// needing full article text fetch it separately.
// https://serper.dev/ docs
type Search struct {
	APIKey string
}

func (s Search) Search(ctx context.Context, q string, k int, domains []string, recencyDays int) ([]models.Document, error) {
	if k <= 0 {
		k = 5
	}
	payload := map[string]any{"q": q, "num": k}
	if len(domains) > 0 {
		sites := make([]string, len(domains))
		for i, d := range domains {
			sites[i] = "site:" + d
		}
		payload["q"] = q + " (" + strings.Join(sites, " OR ") + ")"
	}
	if recencyDays > 0 {
		unit := "d"
		n := recencyDays
		if recencyDays%7 == 0 {
			unit, n = "w", recencyDays/7
		}
		payload["tbs"] = fmt.Sprintf("qdr:%s%d", unit, n)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("serper: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("serper: build request: %w", err)
	}
	req.Header.Set("X-API-KEY", s.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("serper: %w: %v", models.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("serper: %w", models.ErrRateLimited)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("serper: %w: status %d", models.ErrUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("serper: unexpected status %d", resp.StatusCode)
	}

	var raw struct {
		Organic []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"organic"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("serper: decode response: %w", err)
	}

	out := make([]models.Document, 0, len(raw.Organic))
	for i, r := range raw.Organic {
		if i >= k {
			break
		}
		if r.Link == "" {
			continue
		}
		out = append(out, models.Document{
			URL:     r.Link,
			Title:   r.Title,
			Snippet: r.Snippet,
			Source:  "serper",
		})
	}
	return out, nil
}
