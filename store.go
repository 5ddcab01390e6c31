package interject

import "context"

// Store is one server's archive persistence: messages, continuity ranges,
// and embedding blobs, each in a table per channel. Implementations do not
// synchronize; the Archiver serializes access per server.
type Store interface {
	// EnsureChannel creates the per-channel tables when absent. Idempotent.
	EnsureChannel(ctx context.Context, channelID Snowflake) error
	// Channels lists the channel ids recovered from existing tables.
	Channels(ctx context.Context) ([]Snowflake, error)

	// --- Messages ---

	// InsertMessages writes a batch in one transaction, ignoring ids
	// already present.
	InsertMessages(ctx context.Context, channelID Snowflake, msgs []MessageRecord) error
	// Message returns one record, or ErrNotFound.
	Message(ctx context.Context, channelID, id Snowflake) (MessageRecord, error)
	// CountMessagesInRange counts archived rows with lo <= id <= hi.
	CountMessagesInRange(ctx context.Context, channelID, lo, hi Snowflake) (int, error)
	// RecentMessages returns up to limit messages from the continuity
	// range containing anchor, newest first, ending at anchor. Empty when
	// no range contains anchor.
	RecentMessages(ctx context.Context, channelID, anchor Snowflake, limit int) ([]MessageRecord, error)

	// --- Continuity ranges ---

	// MergeContinuity folds the span [lo, hi] into the stored ranges:
	// every range it overlaps or touches is absorbed into one row, in a
	// single transaction. Returns the merged range.
	MergeContinuity(ctx context.Context, channelID, lo, hi Snowflake) (ContinuityRange, error)
	// ContinuityContaining returns the range holding id, or ErrNotFound.
	ContinuityContaining(ctx context.Context, channelID, id Snowflake) (ContinuityRange, error)
	// ContinuityRanges returns all ranges for a channel, ascending.
	ContinuityRanges(ctx context.Context, channelID Snowflake) ([]ContinuityRange, error)

	// --- Embeddings ---

	// MissingEmbeddings filters ids down to those with no stored vector.
	MissingEmbeddings(ctx context.Context, channelID Snowflake, ids []Snowflake) ([]Snowflake, error)
	// InsertEmbedding stores one vector, replacing any previous value.
	InsertEmbedding(ctx context.Context, channelID, id Snowflake, vec []float32) error
	// AllEmbeddings returns every stored vector, ascending by id.
	AllEmbeddings(ctx context.Context, channelID Snowflake) ([]StoredEmbedding, error)

	Close() error
}

// OpenStore creates or opens the persistence for one server. The Archiver
// calls it once per server, under its registry lock.
type OpenStore func(serverID Snowflake) (Store, error)

// --- Collaborator contracts used by the agent ---

// LLM is the serialized language-model client. Submit never blocks on the
// network; the returned channel receives exactly one response, including
// when the client closes first.
type LLM interface {
	Submit(req LLMRequest) <-chan LLMResponse
	Close() error
}

// Embedder turns text into fixed-dimensionality vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Index is the per-channel semantic index over archived embeddings.
type Index interface {
	// Add feeds one vector to a channel's index. Before the channel is
	// hydrated the call is a no-op; hydration reads the store.
	Add(serverID, channelID, id Snowflake, vec []float32) error
	// Search returns the ids of the k nearest stored messages. The first
	// search on a channel hydrates its index.
	Search(ctx context.Context, serverID, channelID Snowflake, query []float32, k int) ([]Snowflake, error)
	Close() error
}
