package embedding

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"

	"document-ingest/internal/config"
)

// DefaultMaxChars is the truncation ceiling applied before submission,
// sized to stay under the upstream model's token budget (roughly one
// token per four characters).
const DefaultMaxChars = 30000

var (
	// ErrServiceUnavailable is returned when the embedding endpoint is
	// unreachable or the call exceeds the caller's deadline.
	ErrServiceUnavailable = errors.New("embedding service unavailable")

	// ErrRequestRejected is returned when the endpoint is reachable but
	// answers with an application error.
	ErrRequestRejected = errors.New("embedding request rejected")
)

// Result carries the embedding vector for one piece of text. Truncated
// reports whether the submitted text was cut down to the ceiling; the
// caller decides how to record that.
type Result struct {
	Vector    []float32
	Truncated bool
}

// Client generates embeddings through an OpenAI-compatible endpoint.
// One call is a single request/response round trip with no retries;
// concurrent calls are independent.
type Client struct {
	embedder *embeddings.EmbedderImpl
	maxChars int
}

// NewClient creates a new embedding client
func NewClient(cfg *config.EmbeddingConfig) (*Client, error) {
	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(strings.TrimPrefix(cfg.APIKey, "Bearer ")),
		openai.WithModel(cfg.Model),
		openai.WithEmbeddingModel(cfg.Model),
	)
	if err != nil {
		return nil, err
	}
	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, err
	}

	maxChars := cfg.MaxChars
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &Client{embedder: embedder, maxChars: maxChars}, nil
}

// Embed returns the embedding vector for text. Text longer than the
// configured ceiling is truncated before submission; what the caller
// stores is unaffected. The returned vector's length is whatever the
// model produced; no dimension check is made here.
func (c *Client) Embed(ctx context.Context, text string) (Result, error) {
	cleaned := strings.TrimSpace(text)
	truncated := false
	if len(cleaned) > c.maxChars {
		cleaned = truncate(cleaned, c.maxChars)
		truncated = true
	}

	vector, err := c.embedder.EmbedQuery(ctx, cleaned)
	if err != nil {
		return Result{}, classify(err)
	}
	return Result{Vector: vector, Truncated: truncated}, nil
}

// truncate cuts s to at most max bytes without splitting a rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// classify maps transport-level failures, including deadline expiry, to
// ErrServiceUnavailable and everything else to ErrRequestRejected.
func classify(err error) error {
	var urlErr *url.Error
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.As(err, &urlErr),
		errors.As(err, &netErr):
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	default:
		return fmt.Errorf("%w: %v", ErrRequestRejected, err)
	}
}
