package models

import (
	"errors"
	"time"
)

// Transient channel failures. Callers retry on a later cycle or fall back
// to the cached channel; they never advance a quote's cadence.
var (
	ErrRateLimited = errors.New("web search rate limited")
	ErrUnavailable = errors.New("web search provider unavailable")
)

// Document is one candidate web document returned by a search channel.
// Body may be empty when the channel only returns snippets; callers that
// need full text fetch it separately.
type Document struct {
	URL         string
	Title       string
	Snippet     string
	Body        string
	PublishedAt *time.Time
	Source      string
}

// Text returns the best available text for matching: the full body when
// present, otherwise the snippet.
func (d Document) Text() string {
	if d.Body != "" {
		return d.Body
	}
	return d.Snippet
}
