package openai_provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shift6/quotewatch/models"
)

const (
	chatCompletionsURL = "https://api.openai.com/v1/chat/completions"
	embeddingsURL      = "https://api.openai.com/v1/embeddings"
)

// client implements provider.Provider using OpenAI's API
type client struct {
	apiKey          string
	completionModel string
	embeddingModel  string
	temperature     float64
	maxTokens       int
	httpClient      *http.Client
}

// Message represents a message in a conversation
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// request represents a request to the OpenAI API
type request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// response represents a response from the OpenAI API
type response struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// NewClient creates a new OpenAI client
func NewClient(apiKey, completionModel, embeddingModel string, temperature float64, maxTokens int, timeout time.Duration) *client {
	return &client{
		apiKey:          apiKey,
		completionModel: completionModel,
		embeddingModel:  embeddingModel,
		temperature:     temperature,
		maxTokens:       maxTokens,
		httpClient:      &http.Client{Timeout: timeout},
	}
}

// CreateEmbedding generates an embedding for the given texts using OpenAI's API
func (c *client) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	requestBody := map[string]interface{}{
		"model": c.embeddingModel,
		"input": texts,
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", embeddingsURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status: %d", resp.StatusCode)
	}

	var openaiResp struct {
		Data []struct {
			Object    string    `json:"object"`
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&openaiResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	vecs := make([][]float32, len(openaiResp.Data))
	for i, d := range openaiResp.Data {
		vecs[i] = d.Embedding
	}
	return vecs, nil
}

// Adjudicate asks the model whether the candidate span actually uses or
// closely paraphrases the quote. The model answers with a strict JSON
// verdict; anything else is treated as a parse failure.
func (c *client) Adjudicate(ctx context.Context, quoteText, span, clientLabel string) (models.Verdict, error) {
	systemPrompt := `
You are a press coverage analyst. You decide whether a passage from a news
article quotes or closely paraphrases a specific statement attributed to a
named client.

RULES:
1. A match requires that the passage conveys the same statement, not merely
   the same topic.
2. Truncated or lightly edited quotations still count as matches.
3. Coverage about the client that does not reference the statement is NOT a match.

RESPONSE FORMAT:
Respond ONLY with valid JSON in the following format:
{
  "match": true_or_false,
  "confidence": number_between_0_and_1,
  "matched_text": "the exact passage that matches, or empty string"
}
Do not include any other text or explanation.
`
	userPrompt := fmt.Sprintf(`
CLIENT: "%s"

TRACKED STATEMENT:
"%s"

ARTICLE PASSAGE:
"%s"
`, clientLabel, quoteText, span)

	messages := []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userPrompt},
	}

	responseStr, err := c.sendRequest(ctx, messages)
	if err != nil {
		return models.Verdict{}, err
	}

	var verdict struct {
		Match       bool    `json:"match"`
		Confidence  float64 `json:"confidence"`
		MatchedText string  `json:"matched_text"`
	}
	if err := json.Unmarshal([]byte(extractJSON(responseStr)), &verdict); err != nil {
		return models.Verdict{}, fmt.Errorf("failed to parse verdict: %w", err)
	}
	if verdict.Confidence < 0 || verdict.Confidence > 1 {
		return models.Verdict{}, fmt.Errorf("verdict confidence out of range: %f", verdict.Confidence)
	}

	return models.Verdict{
		Match:       verdict.Match,
		Confidence:  verdict.Confidence,
		MatchedText: verdict.MatchedText,
	}, nil
}

// Summarize generates a short markdown brief for a recorded hit
func (c *client) Summarize(ctx context.Context, in models.HitSummaryInput) (string, error) {
	prompt := fmt.Sprintf(`You are a helpful assistant. Write a short brief, in Markdown format, about the following press coverage of a quote by "%s". Mention where the quote appeared, how it was used (%s), and the surrounding context. Keep it under 150 words.

Outlet: %s
URL: %s
Headline: %s

Tracked quote:
"%s"

Article text:
%s

Respond with a Markdown brief only.`, in.ClientLabel, in.MatchKind, in.Domain, in.URL, in.Title, in.QuoteText, truncate(in.Body, 6000))

	messages := []Message{
		{Role: "user", Content: prompt},
	}

	responseStr, err := c.sendRequest(ctx, messages)
	if err != nil {
		return "", err
	}
	return responseStr, nil
}

// sendRequest sends a request to the OpenAI API
func (c *client) sendRequest(ctx context.Context, messages []Message) (string, error) {
	requestBody := request{
		Model:       c.completionModel,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", chatCompletionsURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrAdjudicatorUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return "", fmt.Errorf("%w: API returned status %d", models.ErrAdjudicatorUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API returned status: %d", resp.StatusCode)
	}

	var openaiResp response
	if err := json.NewDecoder(resp.Body).Decode(&openaiResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	if len(openaiResp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	return openaiResp.Choices[0].Message.Content, nil
}

// extractJSON strips markdown code fences some models wrap around JSON output
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
	}
	return strings.TrimSpace(s)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	// never cut a multi-byte rune in half
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
