// Package embed is the client for the embedding service: texts go in,
// fixed-dimensionality vectors come out. It also owns the binary codec the
// stores use to persist vectors.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"interject"
)

// Dims is the dimensionality every vector must have; the semantic index and
// the stored blobs both assume it.
const Dims = 768

// DefaultBaseURL is the embedding service address when none is configured.
const DefaultBaseURL = "http://127.0.0.1:5000"

// Client calls the embedding service: POST {base}/embed with
// {"texts": [...]}, answered by {"embedding": [[...], ...]}.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client (e.g. for timeouts or proxies).
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.client = c }
}

// WithLogger sets a structured logger. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// New creates a Client for the service at baseURL, or DefaultBaseURL when
// empty. Timeouts come from the caller's context, not the HTTP client.
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: baseURL,
		client:  &http.Client{},
		logger:  nopLogger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type embedRequest struct {
	Texts []string `json:"texts"`
}

type embedResponse struct {
	Embedding [][]float32 `json:"embedding"`
}

// EmbedBatch embeds texts in order. The response must carry exactly one
// vector per text, each with Dims dimensions; anything else is an error and
// no vector from the batch should be used.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	start := time.Now()

	payload, err := json.Marshal(embedRequest{Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embed", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &interject.ErrHTTP{Status: resp.StatusCode, Body: string(body)}
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(out.Embedding) != len(texts) {
		return nil, fmt.Errorf("embed response has %d vectors for %d texts", len(out.Embedding), len(texts))
	}
	for _, vec := range out.Embedding {
		if len(vec) != Dims {
			return nil, &interject.ErrDims{Want: Dims, Got: len(vec)}
		}
	}

	c.logger.Debug("embedded batch", "texts", len(texts), "duration", time.Since(start))
	return out.Embedding, nil
}

// Embed embeds a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// Compile-time interface check.
var _ interject.Embedder = (*Client)(nil)

// nopLogger discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
