// Package match decides whether a candidate web document actually contains
// a tracked quote. Candidates go through three tiers: exact substring,
// lexical overlap, then semantic similarity; anything short of exact is
// confirmed by the adjudicator before it counts as a hit.
package match

import (
	"context"
	"fmt"
	"log"
	"strings"
	"unicode/utf8"

	"github.com/shift6/quotewatch/internal/similarity"
	"github.com/shift6/quotewatch/models"
	"github.com/shift6/quotewatch/tools/web_fetch"
	searchmodels "github.com/shift6/quotewatch/tools/web_search/models"
)

const (
	DefaultJaccardThreshold = 0.6
	DefaultCosineThreshold  = 0.78
	DefaultAcceptConfidence = 0.7
	DefaultPartialBelow     = 0.9
	SnippetMaxChars         = 400
)

// Provider is the slice of the LLM capability the engine needs.
type Provider interface {
	Adjudicate(ctx context.Context, quoteText, span, clientLabel string) (models.Verdict, error)
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// PermanentDocumentError marks a candidate that can never be evaluated
// (no URL, no text). The caller skips it without retrying.
type PermanentDocumentError struct {
	Reason string
}

func (e *PermanentDocumentError) Error() string { return "unusable document: " + e.Reason }

// Evaluation is the engine's decision for one quote/document pair.
type Evaluation struct {
	Accept     bool
	Kind       models.MatchKind
	Confidence float64
	Span       string
}

// Config holds the tier thresholds. Zero values fall back to defaults.
type Config struct {
	JaccardThreshold float64
	CosineThreshold  float64
	AcceptConfidence float64
	PartialBelow     float64
}

func (c Config) withDefaults() Config {
	if c.JaccardThreshold <= 0 {
		c.JaccardThreshold = DefaultJaccardThreshold
	}
	if c.CosineThreshold <= 0 {
		c.CosineThreshold = DefaultCosineThreshold
	}
	if c.AcceptConfidence <= 0 {
		c.AcceptConfidence = DefaultAcceptConfidence
	}
	if c.PartialBelow <= 0 {
		c.PartialBelow = DefaultPartialBelow
	}
	return c
}

type Engine struct {
	provider Provider
	fetcher  web_fetch.WebFetcher
	cfg      Config
	logger   *log.Logger
}

// NewEngine builds a matching engine. fetcher may be nil; snippet-only
// candidates are then evaluated on their snippet alone.
func NewEngine(provider Provider, fetcher web_fetch.WebFetcher, cfg Config, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{provider: provider, fetcher: fetcher, cfg: cfg.withDefaults(), logger: logger}
}

// Evaluate runs the tiers for one candidate. A nil error with Accept=false
// means a clean rejection; transient adjudicator failures come back as
// errors wrapping models.ErrAdjudicatorUnavailable so the cycle can back off.
func (e *Engine) Evaluate(ctx context.Context, quote models.TrackedQuote, doc searchmodels.Document) (Evaluation, error) {
	if strings.TrimSpace(doc.URL) == "" {
		return Evaluation{}, &PermanentDocumentError{Reason: "missing url"}
	}

	text := doc.Text()
	if strings.TrimSpace(text) == "" && e.fetcher != nil {
		res, err := e.fetcher.Exec(ctx, doc.URL)
		if err != nil {
			e.logger.Printf("[MATCH] fetch %s failed: %v", doc.URL, err)
		} else {
			text = res.Text
			if doc.Title == "" {
				doc.Title = res.Title
			}
		}
	}
	if strings.TrimSpace(text) == "" {
		return Evaluation{}, &PermanentDocumentError{Reason: "no text"}
	}

	// Hard filter: the client must be named somewhere in the document.
	haystack := strings.ToLower(doc.Title + "\n" + text)
	if quote.ClientLabel != "" && !strings.Contains(haystack, strings.ToLower(quote.ClientLabel)) {
		return Evaluation{}, nil
	}

	// Tier 1: exact substring after whitespace normalization.
	normQuote := similarity.NormalizeSpace(quote.Text)
	if normQuote != "" && strings.Contains(similarity.NormalizeSpace(text), normQuote) {
		return Evaluation{Accept: true, Kind: models.MatchExact, Confidence: 1, Span: quote.Text}, nil
	}

	// Tier 2: best sentence by lexical overlap.
	bestSpan, bestJaccard := bestSentence(quote.Text, text)
	tentative := bestJaccard >= e.cfg.JaccardThreshold

	// Tier 3: semantic similarity of the best span, only when lexical
	// overlap was not enough and we have a quote embedding to compare to.
	if !tentative && len(quote.Embedding) > 0 && bestSpan != "" {
		vecs, err := e.provider.CreateEmbedding(ctx, []string{bestSpan})
		if err != nil || len(vecs) != 1 {
			e.logger.Printf("[MATCH] embedding for span failed, lexical only: %v", err)
		} else if similarity.Cosine(quote.Embedding, vecs[0]) >= e.cfg.CosineThreshold {
			tentative = true
		}
	}

	if !tentative {
		return Evaluation{}, nil
	}

	verdict, err := e.provider.Adjudicate(ctx, quote.Text, bestSpan, quote.ClientLabel)
	if err != nil {
		return Evaluation{}, fmt.Errorf("adjudicate: %w", err)
	}
	if !verdict.Match || verdict.Confidence < e.cfg.AcceptConfidence {
		return Evaluation{}, nil
	}

	kind := models.MatchParaphrase
	if verdict.Confidence < e.cfg.PartialBelow {
		kind = models.MatchPartial
	}
	span := verdict.MatchedText
	if span == "" {
		span = bestSpan
	}
	return Evaluation{Accept: true, Kind: kind, Confidence: verdict.Confidence, Span: span}, nil
}

// bestSentence returns the document sentence most lexically similar to the
// quote, with its Jaccard score.
func bestSentence(quoteText, docText string) (string, float64) {
	var best string
	var bestScore float64
	for _, sent := range similarity.Sentences(docText) {
		score := similarity.Jaccard(quoteText, sent)
		if score > bestScore || best == "" {
			best = sent
			bestScore = score
		}
	}
	return best, bestScore
}

// Snippet builds the stored excerpt around the matched span, capped so hit
// rows stay small.
func Snippet(span, text string) string {
	s := strings.TrimSpace(span)
	if s == "" {
		s = strings.TrimSpace(text)
	}
	if len(s) > SnippetMaxChars {
		cut := SnippetMaxChars
		// back up to a rune boundary so the excerpt stays valid UTF-8
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}
	return s
}
