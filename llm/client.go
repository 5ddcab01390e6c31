// Package llm is the serialized client for the OpenAI responses API. One
// background worker consumes a FIFO of submitted requests, so requests
// complete in submission order and the endpoint never sees two in flight.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"interject"
)

// DefaultURL is the responses endpoint when none is configured.
const DefaultURL = "https://api.openai.com/v1/responses"

// Client dispatches requests to the responses endpoint through a single
// worker goroutine. Submit never blocks on the network; it enqueues and
// returns a channel that receives exactly one response.
type Client struct {
	url    string
	apiKey string
	client *http.Client
	logger *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []pending
	closed  bool
	drained chan struct{}
}

// pending is one queued request with its result channel (1-buffered, so the
// worker never blocks resolving it).
type pending struct {
	id   string
	req  interject.LLMRequest
	done chan interject.LLMResponse
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.client = c }
}

// WithLogger sets a structured logger. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// WithURL overrides the responses endpoint.
func WithURL(url string) Option {
	return func(cl *Client) { cl.url = url }
}

// New creates a Client and starts its worker.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		url:     DefaultURL,
		apiKey:  apiKey,
		client:  &http.Client{},
		logger:  nopLogger,
		drained: make(chan struct{}),
	}
	c.cond = sync.NewCond(&c.mu)
	for _, opt := range opts {
		opt(c)
	}
	go c.worker()
	return c
}

// Submit enqueues one request. The returned channel receives exactly one
// response: the endpoint's answer, a transport failure, or ErrClosed when
// the client shut down first.
func (c *Client) Submit(req interject.LLMRequest) <-chan interject.LLMResponse {
	p := pending{
		id:   uuid.Must(uuid.NewV7()).String(),
		req:  req,
		done: make(chan interject.LLMResponse, 1),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		p.done <- interject.LLMResponse{Err: interject.ErrClosed}
		return p.done
	}
	c.queue = append(c.queue, p)
	c.mu.Unlock()
	c.cond.Signal()

	c.logger.Debug("request queued", "id", p.id, "model", req.Model)
	return p.done
}

// Close stops intake, resolves every still-queued request with ErrClosed,
// and joins the worker.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	c.cond.Signal()
	<-c.drained
	return nil
}

// worker consumes the queue one request at a time. On shutdown it drains
// whatever is left, resolving each entry, then exits.
func (c *Client) worker() {
	for {
		c.mu.Lock()
		for len(c.queue) == 0 && !c.closed {
			c.cond.Wait()
		}
		if c.closed {
			rest := c.queue
			c.queue = nil
			c.mu.Unlock()
			for _, p := range rest {
				p.done <- interject.LLMResponse{Err: interject.ErrClosed}
			}
			close(c.drained)
			return
		}
		p := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()

		start := time.Now()
		resp := c.dispatch(p.req)
		c.logger.Debug("request completed",
			"id", p.id,
			"model", p.req.Model,
			"status", resp.Status,
			"http", resp.HTTPStatus,
			"ok", resp.OK(),
			"duration", time.Since(start))
		p.done <- resp
	}
}

// dispatch performs one round-trip. Every failure mode still yields a
// response; the worker never panics and never skips a resolution.
func (c *Client) dispatch(req interject.LLMRequest) interject.LLMResponse {
	payload, err := json.Marshal(buildBody(req))
	if err != nil {
		return interject.LLMResponse{Err: fmt.Errorf("marshal request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(context.Background(), http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return interject.LLMResponse{Err: fmt.Errorf("create request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return interject.LLMResponse{Err: fmt.Errorf("post: %w", err)}
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return interject.LLMResponse{HTTPStatus: httpResp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	// Error bodies are parsed best-effort: a non-2xx answer often still
	// carries a well-formed error object worth surfacing.
	resp, perr := parseResponse(body, c.logger)
	resp.HTTPStatus = httpResp.StatusCode
	if perr != nil {
		resp.Err = fmt.Errorf("decode response: %w", perr)
		if httpResp.StatusCode != http.StatusOK {
			resp.Err = &interject.ErrHTTP{Status: httpResp.StatusCode, Body: string(body)}
		}
	}
	return resp
}

// Compile-time interface check.
var _ interject.LLM = (*Client)(nil)

// nopLogger discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
