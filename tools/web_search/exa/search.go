package exa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shift6/quotewatch/tools/web_search/models"
)

const endpoint = "https://api.exa.ai/search"

// Search queries the Exa search API with full text contents enabled.
// https://docs.exa.ai/reference/search
type Search struct {
	APIKey string
}

func (s Search) Search(ctx context.Context, q string, k int, domains []string, recencyDays int) ([]models.Document, error) {
	if k <= 0 {
		k = 5
	}
	payload := map[string]any{
		"query":         q,
		"numResults":    k,
		"useAutoprompt": false,
		"contents":      map[string]any{"text": true},
	}
	if len(domains) > 0 {
		payload["includeDomains"] = domains
	}
	if recencyDays > 0 {
		start := time.Now().UTC().AddDate(0, 0, -recencyDays)
		payload["startPublishedDate"] = start.Format(time.RFC3339)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("exa: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("exa: build request: %w", err)
	}
	req.Header.Set("x-api-key", s.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("exa: %w: %v", models.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("exa: %w", models.ErrRateLimited)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("exa: %w: status %d", models.ErrUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("exa: unexpected status %d", resp.StatusCode)
	}

	var raw struct {
		Results []struct {
			Title         string `json:"title"`
			URL           string `json:"url"`
			ID            string `json:"id"`
			Text          string `json:"text"`
			Summary       string `json:"summary"`
			PublishedDate string `json:"publishedDate"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("exa: decode response: %w", err)
	}

	out := make([]models.Document, 0, len(raw.Results))
	for i, r := range raw.Results {
		if i >= k {
			break
		}
		u := r.URL
		if u == "" {
			u = r.ID
		}
		if u == "" {
			continue
		}
		doc := models.Document{
			URL:     u,
			Title:   r.Title,
			Snippet: r.Summary,
			Body:    r.Text,
			Source:  "exa",
		}
		if r.PublishedDate != "" {
			if ts, err := time.Parse(time.RFC3339, r.PublishedDate); err == nil {
				doc.PublishedAt = &ts
			}
		}
		out = append(out, doc)
	}
	return out, nil
}
