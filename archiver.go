package interject

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Archival tuning. minEmbedLen gates which messages are embedded;
// embedBatchTimeout bounds the embedding call for one recorded batch.
const (
	minEmbedLen       = 10 // content bytes below this are never embedded
	embedBatchTimeout = 120 * time.Second
)

// Archiver records messages into per-server stores, maintains continuity
// ranges, and keeps embeddings current for every message long enough to
// embed. Stores open lazily, one per server; operations on a server
// serialize on that server's lock, never on a global one.
type Archiver struct {
	open     OpenStore
	embedder Embedder
	logger   *slog.Logger

	mu      sync.Mutex // guards servers
	servers map[Snowflake]*serverStore

	latestMu sync.Mutex
	latest   map[Snowflake]Snowflake // channel id -> newest live id known persisted
}

// serverStore pairs one server's persistence with the lock serializing it.
type serverStore struct {
	mu sync.Mutex
	st Store
}

// ArchiverOption configures an Archiver.
type ArchiverOption func(*Archiver)

// ArchiverLogger sets the structured logger. Default: discard.
func ArchiverLogger(l *slog.Logger) ArchiverOption {
	return func(a *Archiver) { a.logger = l }
}

// NewArchiver creates an Archiver over a store factory and an embedder.
func NewArchiver(open OpenStore, embedder Embedder, opts ...ArchiverOption) *Archiver {
	a := &Archiver{
		open:     open,
		embedder: embedder,
		logger:   nopLogger,
		servers:  make(map[Snowflake]*serverStore),
		latest:   make(map[Snowflake]Snowflake),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// serverEntry returns a server's store entry, opening the store on first
// use. Only the registry lookup holds the registry lock; store operations
// take the entry lock.
func (a *Archiver) serverEntry(serverID Snowflake) (*serverStore, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if e, ok := a.servers[serverID]; ok {
		return e, nil
	}
	st, err := a.open(serverID)
	if err != nil {
		return nil, fmt.Errorf("open store for server %s: %w", serverID, err)
	}
	e := &serverStore{st: st}
	a.servers[serverID] = e
	return e, nil
}

// liveTail returns the newest live id known persisted for a channel.
func (a *Archiver) liveTail(channelID Snowflake) Snowflake {
	a.latestMu.Lock()
	defer a.latestMu.Unlock()
	return a.latest[channelID]
}

// advanceLatest advances a channel's live tail to include id. Only called
// after the batch holding id has been persisted: a tail that ran ahead of
// a failed write would let the next arrival merge a continuity range
// certifying a message that was never archived.
func (a *Archiver) advanceLatest(channelID, id Snowflake) {
	a.latestMu.Lock()
	defer a.latestMu.Unlock()
	if id > a.latest[channelID] {
		a.latest[channelID] = id
	}
}

// RecordLive archives one message from the live event stream. The previous
// channel tail serves as the adjacency hint so an in-order arrival extends
// the tail range instead of opening a new one. Returns the embeddings
// persisted for the batch.
func (a *Archiver) RecordLive(ctx context.Context, inc Incoming) ([]StoredEmbedding, error) {
	return a.record(ctx, inc.ServerID, inc.ChannelID, []MessageRecord{inc.MessageRecord}, inc.ID)
}

// RecordBatch archives a fetched history page. No adjacency hint: backfill
// pages establish contiguity by straddling already-known ids.
func (a *Archiver) RecordBatch(ctx context.Context, serverID, channelID Snowflake, msgs []MessageRecord) ([]StoredEmbedding, error) {
	return a.record(ctx, serverID, channelID, msgs, 0)
}

// record persists one batch. live, when non-zero, marks a live arrival: the
// channel tail is read as the adjacency hint and advanced to live, both
// under the server lock and only once the batch is durably stored.
func (a *Archiver) record(ctx context.Context, serverID, channelID Snowflake, msgs []MessageRecord, live Snowflake) ([]StoredEmbedding, error) {
	if len(msgs) == 0 {
		return nil, nil
	}
	entry, err := a.serverEntry(serverID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	entry.mu.Lock()
	var hint Snowflake
	if live != 0 {
		hint = a.liveTail(channelID)
	}
	texts, pending, err := a.persistBatch(ctx, entry.st, channelID, msgs, hint)
	if err == nil && live != 0 {
		a.advanceLatest(channelID, live)
	}
	entry.mu.Unlock()
	if err != nil {
		return nil, err
	}
	a.logger.Debug("batch recorded",
		"server", serverID,
		"channel", channelID,
		"messages", len(msgs),
		"to_embed", len(pending),
		"duration", time.Since(start))
	if len(texts) == 0 {
		return nil, nil
	}

	// The server lock is not held across the embedding call.
	ectx, cancel := context.WithTimeout(ctx, embedBatchTimeout)
	vecs, err := a.embedder.EmbedBatch(ectx, texts)
	cancel()
	if err != nil {
		a.logger.Warn("embed batch failed, skipping persistence",
			"channel", channelID, "texts", len(texts), "error", err)
		return nil, nil
	}
	if len(vecs) != len(texts) {
		a.logger.Warn("embed batch size mismatch, skipping persistence",
			"channel", channelID, "want", len(texts), "got", len(vecs))
		return nil, nil
	}

	stored := make([]StoredEmbedding, 0, len(vecs))
	entry.mu.Lock()
	defer entry.mu.Unlock()
	for i, id := range pending {
		if err := entry.st.InsertEmbedding(ctx, channelID, id, vecs[i]); err != nil {
			return stored, fmt.Errorf("insert embedding %s: %w", id, err)
		}
		stored = append(stored, StoredEmbedding{ID: id, Vector: vecs[i]})
	}
	return stored, nil
}

// persistBatch runs the storage half of record under the server lock:
// table setup, message insert, continuity merge, and selection of the
// messages still lacking embeddings.
func (a *Archiver) persistBatch(ctx context.Context, st Store, channelID Snowflake, msgs []MessageRecord, hint Snowflake) (texts []string, pending []Snowflake, err error) {
	if err := st.EnsureChannel(ctx, channelID); err != nil {
		return nil, nil, fmt.Errorf("ensure channel %s: %w", channelID, err)
	}
	if err := st.InsertMessages(ctx, channelID, msgs); err != nil {
		return nil, nil, fmt.Errorf("insert messages: %w", err)
	}
	ids := make([]Snowflake, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	if _, err := RecordContiguous(ctx, st, channelID, ids, hint); err != nil {
		return nil, nil, err
	}

	long := make([]Snowflake, 0, len(msgs))
	byID := make(map[Snowflake]MessageRecord, len(msgs))
	for _, m := range msgs {
		if len(m.Content) < minEmbedLen {
			continue
		}
		long = append(long, m.ID)
		byID[m.ID] = m
	}
	if len(long) == 0 {
		return nil, nil, nil
	}
	pending, err = st.MissingEmbeddings(ctx, channelID, long)
	if err != nil {
		return nil, nil, fmt.Errorf("missing embeddings: %w", err)
	}
	texts = make([]string, len(pending))
	for i, id := range pending {
		texts[i] = EmbedText(byID[id])
	}
	return texts, pending, nil
}

// CountContinuousFrom reports the length of the gap-free span ending at
// since for a channel.
func (a *Archiver) CountContinuousFrom(ctx context.Context, serverID, channelID, since Snowflake) (int, error) {
	entry, err := a.serverEntry(serverID)
	if err != nil {
		return 0, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return CountContinuousFrom(ctx, entry.st, channelID, since)
}

// OldestContinuousFrom reports the oldest id reachable from since without
// a gap.
func (a *Archiver) OldestContinuousFrom(ctx context.Context, serverID, channelID, since Snowflake) (Snowflake, error) {
	entry, err := a.serverEntry(serverID)
	if err != nil {
		return 0, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return OldestContinuousFrom(ctx, entry.st, channelID, since)
}

// RecentMessages returns up to limit messages from the continuity range
// containing anchor, newest first.
func (a *Archiver) RecentMessages(ctx context.Context, serverID, channelID, anchor Snowflake, limit int) ([]MessageRecord, error) {
	entry, err := a.serverEntry(serverID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.st.RecentMessages(ctx, channelID, anchor, limit)
}

// Message returns one archived record, or ErrNotFound.
func (a *Archiver) Message(ctx context.Context, serverID, channelID, id Snowflake) (MessageRecord, error) {
	entry, err := a.serverEntry(serverID)
	if err != nil {
		return MessageRecord{}, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.st.Message(ctx, channelID, id)
}

// ChannelEmbeddings returns a channel's persisted embeddings ascending by
// id. It is the hydration source for the semantic index.
func (a *Archiver) ChannelEmbeddings(ctx context.Context, serverID, channelID Snowflake) ([]StoredEmbedding, error) {
	entry, err := a.serverEntry(serverID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.st.AllEmbeddings(ctx, channelID)
}

// Close closes every opened store.
func (a *Archiver) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var err error
	for id, e := range a.servers {
		e.mu.Lock()
		cerr := e.st.Close()
		e.mu.Unlock()
		if cerr != nil {
			err = errors.Join(err, fmt.Errorf("server %s: %w", id, cerr))
		}
	}
	a.servers = make(map[Snowflake]*serverStore)
	return err
}
