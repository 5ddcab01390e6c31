// Package semindex keeps one approximate-nearest-neighbour index per
// channel over the archived embeddings. Indexes hydrate lazily: the first
// search on a channel loads every persisted vector, later embeddings are
// appended as they arrive.
package semindex

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	usearch "github.com/unum-cloud/usearch/golang"

	"interject"
)

// Index geometry. Vectors are 768-dimensional; the HNSW graph uses out-degree
// 64 and search breadth 500.
const (
	Dims            = 768
	connectivity    = 64
	expansionSearch = 500
)

// reserveChunk is how many extra slots each capacity grow adds, so post-build
// appends do not re-reserve per vector.
const reserveChunk = 1024

// Hydrator loads a channel's persisted embeddings, ascending by message id.
// The archiver's ChannelEmbeddings satisfies it.
type Hydrator func(ctx context.Context, serverID, channelID interject.Snowflake) ([]interject.StoredEmbedding, error)

// Manager owns the per-channel indexes.
type Manager struct {
	hydrate Hydrator
	logger  *slog.Logger

	mu       sync.Mutex
	channels map[channelKey]*channelIndex
}

type channelKey struct {
	server  interject.Snowflake
	channel interject.Snowflake
}

// channelIndex is one channel's HNSW graph plus the ordinal mapping that
// ties index keys back to message ids. Identity lives in idByOrdinal, never
// in the index's internal ordering.
type channelIndex struct {
	mu          sync.Mutex
	index       *usearch.Index
	idByOrdinal []interject.Snowflake
	present     map[interject.Snowflake]struct{}
	capacity    uint
	hydrated    bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets a structured logger. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// New creates a Manager that hydrates channel indexes through hydrate.
func New(hydrate Hydrator, opts ...Option) *Manager {
	m := &Manager{
		hydrate:  hydrate,
		logger:   nopLogger,
		channels: make(map[channelKey]*channelIndex),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// channel returns the per-channel entry, creating an empty one on first
// reference. Only the registry lookup holds the manager lock.
func (m *Manager) channel(serverID, channelID interject.Snowflake) *channelIndex {
	key := channelKey{server: serverID, channel: channelID}
	m.mu.Lock()
	defer m.mu.Unlock()
	ci, ok := m.channels[key]
	if !ok {
		ci = &channelIndex{}
		m.channels[key] = ci
	}
	return ci
}

// Add appends one freshly persisted embedding to a channel's index. Before
// the channel hydrates this is a no-op: hydration reads the store, which
// already holds the vector. An id the index already carries is also a
// no-op, so an Add racing a hydration that loaded the same vector from the
// store cannot create a second ordinal for the same message.
func (m *Manager) Add(serverID, channelID, id interject.Snowflake, vec []float32) error {
	if len(vec) != Dims {
		return &interject.ErrDims{Want: Dims, Got: len(vec)}
	}
	ci := m.channel(serverID, channelID)
	ci.mu.Lock()
	defer ci.mu.Unlock()
	if !ci.hydrated {
		return nil
	}
	if _, ok := ci.present[id]; ok {
		return nil
	}
	if err := ci.push(vec, id); err != nil {
		return fmt.Errorf("index add for channel %s: %w", channelID, err)
	}
	return nil
}

// Search returns the ids of the k archived messages nearest to query, best
// first. The first search on a channel builds its index from the store.
func (m *Manager) Search(ctx context.Context, serverID, channelID interject.Snowflake, query []float32, k int) ([]interject.Snowflake, error) {
	if len(query) != Dims {
		return nil, &interject.ErrDims{Want: Dims, Got: len(query)}
	}
	ci := m.channel(serverID, channelID)
	ci.mu.Lock()
	defer ci.mu.Unlock()

	if !ci.hydrated {
		if err := m.hydrateChannel(ctx, ci, serverID, channelID); err != nil {
			return nil, err
		}
	}
	if len(ci.idByOrdinal) == 0 {
		return nil, nil
	}

	keys, _, err := ci.index.Search(query, uint(k))
	if err != nil {
		return nil, fmt.Errorf("index search for channel %s: %w", channelID, err)
	}
	ids := make([]interject.Snowflake, 0, len(keys))
	for _, key := range keys {
		if key >= usearch.Key(len(ci.idByOrdinal)) {
			// Ordinal with no mapping; cannot happen by construction.
			m.logger.Warn("unmapped ordinal dropped", "channel", channelID, "ordinal", key)
			continue
		}
		ids = append(ids, ci.idByOrdinal[key])
	}
	return ids, nil
}

// hydrateChannel builds a channel's index from its persisted embeddings,
// ascending by message id. Called with the channel lock held.
func (m *Manager) hydrateChannel(ctx context.Context, ci *channelIndex, serverID, channelID interject.Snowflake) error {
	start := time.Now()
	stored, err := m.hydrate(ctx, serverID, channelID)
	if err != nil {
		return fmt.Errorf("hydrate channel %s: %w", channelID, err)
	}

	conf := usearch.DefaultConfig(Dims)
	conf.Metric = usearch.InnerProduct
	conf.Connectivity = connectivity
	conf.ExpansionSearch = expansionSearch
	conf.Quantization = usearch.F32
	index, err := usearch.NewIndex(conf)
	if err != nil {
		return fmt.Errorf("create index for channel %s: %w", channelID, err)
	}

	ci.index = index
	ci.capacity = 0
	ci.idByOrdinal = make([]interject.Snowflake, 0, len(stored))
	ci.present = make(map[interject.Snowflake]struct{}, len(stored))
	for _, se := range stored {
		if len(se.Vector) != Dims {
			m.logger.Warn("stored embedding with wrong dimensionality skipped",
				"channel", channelID, "message", se.ID, "dims", len(se.Vector))
			continue
		}
		if err := ci.push(se.Vector, se.ID); err != nil {
			ci.reset()
			return fmt.Errorf("build index for channel %s: %w", channelID, err)
		}
	}
	ci.hydrated = true
	m.logger.Debug("channel index hydrated",
		"server", serverID,
		"channel", channelID,
		"vectors", len(ci.idByOrdinal),
		"duration", time.Since(start))
	return nil
}

// push appends one vector under the next ordinal, growing the reserved
// capacity in chunks. Called with the channel lock held.
func (ci *channelIndex) push(vec []float32, id interject.Snowflake) error {
	ordinal := uint(len(ci.idByOrdinal))
	if ordinal >= ci.capacity {
		ci.capacity += reserveChunk
		if err := ci.index.Reserve(ci.capacity); err != nil {
			return fmt.Errorf("reserve %d: %w", ci.capacity, err)
		}
	}
	if err := ci.index.Add(usearch.Key(ordinal), vec); err != nil {
		return err
	}
	ci.idByOrdinal = append(ci.idByOrdinal, id)
	ci.present[id] = struct{}{}
	return nil
}

// reset discards a partially built index. Called with the channel lock held.
func (ci *channelIndex) reset() {
	if ci.index != nil {
		_ = ci.index.Destroy()
	}
	ci.index = nil
	ci.idByOrdinal = nil
	ci.present = nil
	ci.capacity = 0
	ci.hydrated = false
}

// Close destroys every hydrated index.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ci := range m.channels {
		ci.mu.Lock()
		ci.reset()
		ci.mu.Unlock()
	}
	m.channels = make(map[channelKey]*channelIndex)
	return nil
}

// Compile-time interface check.
var _ interject.Index = (*Manager)(nil)

// nopLogger discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
