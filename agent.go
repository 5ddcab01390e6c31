package interject

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"
)

// Conversation tuning. prefilterContext and relevantContext size the two
// prompt stages; the remaining constants drive startup backfill.
const (
	prefilterContext = 50 // recent continuous messages shown to the pre-filter
	relevantContext  = 50 // semantic hits requested for generation
	longTermTarget   = 500
	firstFetch       = 5
	pageFetch        = 50

	fetchTimeout      = 10 * time.Second
	queryEmbedTimeout = 30 * time.Second
)

// Default models for generation and pre-filtering.
const (
	DefaultModel     = "chatgpt-4o-latest"
	DefaultFastModel = "gpt-4o-mini"
)

// Default standing instructions. Deployments override both via the profile.
const (
	DefaultInstructions = "You are a regular member of this chat. Reply in the " +
		"voice of a casual participant: brief, informal, on topic. Use the " +
		"conversation and any recalled past messages for context. Reply with " +
		"only the message text."

	DefaultPrefilterInstructions = "You watch a chat conversation and decide " +
		"whether the bot should join in. Reply with a single word: yes if a " +
		"reply is clearly warranted, otherwise no."
)

// Agent is the conversation pipeline: it records every incoming message,
// asks a fast model whether a reply is warranted, and when it is, generates
// one augmented with semantically similar archived messages. It also runs
// the startup backfill that pages channel history into the archive.
//
// The agent owns its LLM client exclusively and closes it on Close.
type Agent struct {
	gw       Gateway
	arch     *Archiver
	llm      LLM
	embedder Embedder
	index    Index
	logger   *slog.Logger

	model        string
	fastModel    string
	instructions string
	prefilter    string

	target          int
	pageFirst       int
	pageRest        int
	fetchTimeout    time.Duration
	shutdownTimeout time.Duration

	// backfilled is touched only from the Run event loop.
	backfilled map[Snowflake]bool

	tasks    sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once
}

// AgentOption configures an Agent.
type AgentOption func(*Agent)

// WithLogger sets the structured logger. Default: discard.
func WithLogger(l *slog.Logger) AgentOption {
	return func(a *Agent) { a.logger = l }
}

// WithModels overrides the generation and pre-filter models.
func WithModels(model, fastModel string) AgentOption {
	return func(a *Agent) { a.model, a.fastModel = model, fastModel }
}

// WithInstructions overrides the persona and pre-filter instructions.
func WithInstructions(persona, prefilter string) AgentOption {
	return func(a *Agent) { a.instructions, a.prefilter = persona, prefilter }
}

// WithBackfillTarget overrides how many continuous messages per channel the
// startup backfill aims to have archived.
func WithBackfillTarget(n int) AgentOption {
	return func(a *Agent) { a.target = n }
}

// WithFetchTimeout overrides the per-page history fetch timeout.
func WithFetchTimeout(d time.Duration) AgentOption {
	return func(a *Agent) { a.fetchTimeout = d }
}

// WithShutdownTimeout bounds how long Close waits for backfill workers.
func WithShutdownTimeout(d time.Duration) AgentOption {
	return func(a *Agent) { a.shutdownTimeout = d }
}

// NewAgent wires the pipeline. The LLM client passes into the agent's
// exclusive ownership; nothing else may submit to or close it.
func NewAgent(gw Gateway, arch *Archiver, llmClient LLM, embedder Embedder, index Index, opts ...AgentOption) *Agent {
	a := &Agent{
		gw:              gw,
		arch:            arch,
		llm:             llmClient,
		embedder:        embedder,
		index:           index,
		logger:          nopLogger,
		model:           DefaultModel,
		fastModel:       DefaultFastModel,
		instructions:    DefaultInstructions,
		prefilter:       DefaultPrefilterInstructions,
		target:          longTermTarget,
		pageFirst:       firstFetch,
		pageRest:        pageFetch,
		fetchTimeout:    fetchTimeout,
		shutdownTimeout: 30 * time.Second,
		backfilled:      make(map[Snowflake]bool),
		stop:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run consumes gateway events until ctx is cancelled, Close is called, or
// the gateway closes its event stream. Each message is handled on its own
// task so one pending model call never stalls archival of the next arrival;
// the LLM queue serializes generation and the per-server store lock
// serializes persistence.
func (a *Agent) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-a.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	events := a.gw.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch {
			case ev.Ready != nil:
				a.startBackfill(ctx, ev.Ready)
			case ev.Message != nil:
				inc := *ev.Message
				a.tasks.Add(1)
				go func() {
					defer a.tasks.Done()
					a.handleMessage(ctx, inc)
				}()
			}
		}
	}
}

// Close stops the agent: message handlers and backfill workers are
// cancelled and joined, bounded by the shutdown timeout, then the LLM
// client drains its queue.
func (a *Agent) Close() error {
	a.stopOnce.Do(func() { close(a.stop) })
	done := make(chan struct{})
	go func() {
		a.tasks.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(a.shutdownTimeout):
		a.logger.Warn("backfill workers still running at shutdown", "timeout", a.shutdownTimeout)
	}
	return a.llm.Close()
}

// handleMessage runs the record, guard, pre-filter, retrieve, generate,
// send pipeline for one live message.
func (a *Agent) handleMessage(ctx context.Context, inc Incoming) {
	stored, err := a.arch.RecordLive(ctx, inc)
	if err != nil {
		a.logger.Error("record failed", "channel", inc.ChannelID, "message", inc.ID, "error", err)
		return
	}
	a.feedIndex(inc.ServerID, inc.ChannelID, stored)

	// Own messages are archived, never replied to.
	if inc.AuthorID == a.gw.Self() {
		return
	}

	window, err := a.arch.RecentMessages(ctx, inc.ServerID, inc.ChannelID, inc.ID, prefilterContext)
	if err != nil {
		a.logger.Error("context fetch failed", "channel", inc.ChannelID, "error", err)
		return
	}
	slices.Reverse(window) // newest-first from the store, oldest-first for the prompt
	history, tail := PartitionHistory(window, a.gw.Self())
	if tail == "" {
		return
	}

	verdict, ok := a.await(ctx, a.llm.Submit(LLMRequest{
		Model:        a.fastModel,
		Instructions: a.prefilter,
		History:      history,
		Input:        tail,
	}))
	if !ok {
		return
	}
	if !verdict.OK() {
		a.logger.Warn("pre-filter failed",
			"channel", inc.ChannelID,
			"status", verdict.Status,
			"code", verdict.FailureCode,
			"reason", verdict.FailureReason,
			"error", verdict.Err)
		return
	}
	if !saysYes(verdict) {
		return
	}

	relevant := a.retrieveRelevant(ctx, inc)
	reply, ok := a.await(ctx, a.llm.Submit(LLMRequest{
		Model:        a.model,
		Instructions: a.instructions,
		History:      history,
		Input:        AugmentInput(tail, relevant),
	}))
	if !ok {
		return
	}
	if !reply.OK() {
		a.logger.Warn("generation failed",
			"channel", inc.ChannelID,
			"status", reply.Status,
			"code", reply.FailureCode,
			"reason", reply.FailureReason,
			"error", reply.Err)
		return
	}
	for _, out := range reply.Outputs {
		if out.Type != "message" {
			continue
		}
		if out.Refused {
			a.logger.Warn("model refused", "channel", inc.ChannelID, "reason", out.RefusalReason)
			continue
		}
		if out.Text == "" {
			continue
		}
		if err := a.gw.Send(ctx, inc.ChannelID, out.Text); err != nil {
			a.logger.Error("send failed", "channel", inc.ChannelID, "error", err)
		}
	}
}

// retrieveRelevant embeds the live message and resolves its nearest
// archived neighbours. Any failure degrades to no augmentation.
func (a *Agent) retrieveRelevant(ctx context.Context, inc Incoming) []MessageRecord {
	ectx, cancel := context.WithTimeout(ctx, queryEmbedTimeout)
	vec, err := a.embedder.Embed(ectx, inc.Content)
	cancel()
	if err != nil {
		a.logger.Warn("query embed failed", "channel", inc.ChannelID, "error", err)
		return nil
	}
	ids, err := a.index.Search(ctx, inc.ServerID, inc.ChannelID, vec, relevantContext)
	if err != nil {
		a.logger.Warn("semantic search failed", "channel", inc.ChannelID, "error", err)
		return nil
	}
	out := make([]MessageRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := a.arch.Message(ctx, inc.ServerID, inc.ChannelID, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			a.logger.Warn("hit resolution failed", "message", id, "error", err)
			continue
		}
		out = append(out, rec)
	}
	return out
}

// feedIndex hands freshly persisted embeddings to the semantic index in
// arrival order.
func (a *Agent) feedIndex(serverID, channelID Snowflake, stored []StoredEmbedding) {
	for _, se := range stored {
		if err := a.index.Add(serverID, channelID, se.ID, se.Vector); err != nil {
			a.logger.Warn("index add failed", "channel", channelID, "message", se.ID, "error", err)
		}
	}
}

// await blocks on a pending LLM response, honouring cancellation.
func (a *Agent) await(ctx context.Context, ch <-chan LLMResponse) (LLMResponse, bool) {
	select {
	case resp := <-ch:
		return resp, true
	case <-ctx.Done():
		return LLMResponse{}, false
	}
}

// startBackfill spawns one worker per text channel for servers not yet
// backfilled this session. Runs on the event loop goroutine.
func (a *Agent) startBackfill(ctx context.Context, servers []Snowflake) {
	for _, server := range servers {
		if a.backfilled[server] {
			continue
		}
		cctx, cancel := context.WithTimeout(ctx, a.fetchTimeout)
		channels, err := a.gw.TextChannels(cctx, server)
		cancel()
		if err != nil {
			a.logger.Warn("channel listing failed, server skipped", "server", server, "error", err)
			continue
		}
		a.backfilled[server] = true
		a.logger.Info("backfill starting", "server", server, "channels", len(channels))
		for _, ch := range channels {
			a.tasks.Add(1)
			go a.backfillChannel(ctx, server, ch)
		}
	}
}

// backfillChannel pages history backward until the continuity span at the
// anchor reaches the target or the channel start is hit. Pages after the
// first are fetched below oldest+1 so each one re-includes the boundary id
// and the continuity ranges merge without an adjacency hint.
func (a *Agent) backfillChannel(ctx context.Context, serverID, channelID Snowflake) {
	defer a.tasks.Done()

	page, err := a.fetchPage(ctx, channelID, SnowflakeFromTime(time.Now()), a.pageFirst)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			a.logger.Warn("backfill aborted", "channel", channelID, "error", err)
		}
		return
	}
	if len(page) == 0 {
		return
	}
	anchor := page[0].ID
	for _, m := range page {
		if m.ID > anchor {
			anchor = m.ID
		}
	}

	requested := a.pageFirst
	for {
		stored, err := a.arch.RecordBatch(ctx, serverID, channelID, page)
		if err != nil {
			a.logger.Error("backfill record failed", "channel", channelID, "error", err)
			return
		}
		a.feedIndex(serverID, channelID, stored)

		count, err := a.arch.CountContinuousFrom(ctx, serverID, channelID, anchor)
		if err != nil {
			a.logger.Error("continuity count failed", "channel", channelID, "error", err)
			return
		}
		if count >= a.target {
			a.logger.Info("backfill complete", "channel", channelID, "messages", count)
			return
		}
		if len(page) < requested {
			a.logger.Info("backfill reached channel start", "channel", channelID, "messages", count)
			return
		}

		oldest, err := a.arch.OldestContinuousFrom(ctx, serverID, channelID, anchor)
		if err != nil {
			a.logger.Error("continuity lookup failed", "channel", channelID, "error", err)
			return
		}
		requested = a.pageRest
		page, err = a.fetchPage(ctx, channelID, oldest+1, requested)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				a.logger.Warn("backfill aborted", "channel", channelID, "error", err)
			}
			return
		}
	}
}

// fetchPage wraps one history fetch with the per-page timeout. A timed-out
// page is retried; any other failure aborts the channel.
func (a *Agent) fetchPage(ctx context.Context, channelID, before Snowflake, limit int) ([]MessageRecord, error) {
	for {
		cctx, cancel := context.WithTimeout(ctx, a.fetchTimeout)
		page, err := a.gw.FetchMessagesBefore(cctx, channelID, before, limit)
		cancel()
		switch {
		case err == nil:
			return page, nil
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			a.logger.Warn("history fetch timed out, retrying", "channel", channelID, "before", before)
		default:
			return nil, err
		}
	}
}

// saysYes reports whether the pre-filter's first message output affirms.
func saysYes(resp LLMResponse) bool {
	out, ok := resp.FirstMessage()
	if !ok {
		return false
	}
	return startsWithYes(out.Text)
}

// startsWithYes skips leading non-alphanumeric runes and then requires the
// word "yes" at a word boundary, case-insensitively. "Yes," and "- yes!"
// pass; "yesterday" does not.
func startsWithYes(s string) bool {
	i := 0
	for i < len(s) {
		r, size := utf8.DecodeRuneInString(s[i:])
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			break
		}
		i += size
	}
	rest := s[i:]
	if len(rest) < 3 || !strings.EqualFold(rest[:3], "yes") {
		return false
	}
	r, _ := utf8.DecodeRuneInString(rest[3:])
	return !unicode.IsLetter(r)
}

// nopLogger discards all output. Components default to it so logging is
// strictly opt-in.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
