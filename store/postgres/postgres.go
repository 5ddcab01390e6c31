// Package postgres implements the per-server archive store on PostgreSQL.
// Each server gets its own schema (srv_<id>); within it the layout mirrors
// the SQLite backend: three tables per channel named by the channel's
// decimal id, embeddings as raw little-endian float32 blobs.
//
// The Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"interject"
	"interject/embed"
)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets a structured logger for the store.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store is one server's archive inside a PostgreSQL schema.
type Store struct {
	pool   *pgxpool.Pool
	schema string
	logger *slog.Logger

	ensured map[interject.Snowflake]bool
}

var _ interject.Store = (*Store)(nil)

// nopLogger discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store for one server on an existing pool and creates the
// server's schema when absent. The schema name is derived from the decimal
// server id only.
func New(ctx context.Context, pool *pgxpool.Pool, serverID interject.Snowflake, opts ...Option) (*Store, error) {
	s := &Store{
		pool:    pool,
		schema:  "srv_" + serverID.String(),
		logger:  nopLogger,
		ensured: make(map[interject.Snowflake]bool),
	}
	for _, o := range opts {
		o(s)
	}
	if _, err := pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+s.schema); err != nil {
		return nil, fmt.Errorf("create schema %s: %w", s.schema, err)
	}
	return s, nil
}

func (s *Store) messagesTable(ch interject.Snowflake) string {
	return s.schema + ".messages_" + ch.String()
}

func (s *Store) continuityTable(ch interject.Snowflake) string {
	return s.schema + ".continuity_" + ch.String()
}

func (s *Store) embeddingsTable(ch interject.Snowflake) string {
	return s.schema + ".embeddings_" + ch.String()
}

// EnsureChannel creates the channel's three tables when absent. Idempotent.
func (s *Store) EnsureChannel(ctx context.Context, channelID interject.Snowflake) error {
	if s.ensured[channelID] {
		return nil
	}
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS ` + s.messagesTable(channelID) + ` (
			snowflake BIGINT PRIMARY KEY,
			channelsnowflake BIGINT,
			authorUserName TEXT,
			authorGlobalName TEXT,
			authorId BIGINT,
			timeStampUnixMs BIGINT,
			timeStampFriendly TEXT,
			message TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS ` + s.continuityTable(channelID) + ` (
			snowflakeBegin BIGINT PRIMARY KEY,
			snowflakeEnd BIGINT
		)`,
		`CREATE TABLE IF NOT EXISTS ` + s.embeddingsTable(channelID) + ` (
			snowflake BIGINT PRIMARY KEY,
			embedding BYTEA
		)`,
	}
	for _, stmt := range ddl {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create channel tables: %w", err)
		}
	}
	s.ensured[channelID] = true
	return nil
}

// Channels recovers the archived channel ids from existing table names.
func (s *Store) Channels(ctx context.Context) ([]interject.Snowflake, error) {
	rows, err := s.pool.Query(ctx, `SELECT table_name FROM information_schema.tables
		WHERE table_schema = $1 AND table_name LIKE 'messages_%'`, s.schema)
	if err != nil {
		return nil, fmt.Errorf("list channel tables: %w", err)
	}
	defer rows.Close()

	var channels []interject.Snowflake
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		id, err := interject.ParseSnowflake(strings.TrimPrefix(name, "messages_"))
		if err != nil {
			continue
		}
		channels = append(channels, id)
	}
	return channels, rows.Err()
}

// InsertMessages writes a batch in one transaction, ignoring ids already
// present.
func (s *Store) InsertMessages(ctx context.Context, channelID interject.Snowflake, msgs []interject.MessageRecord) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, m := range msgs {
		if _, err := tx.Exec(ctx, `INSERT INTO `+s.messagesTable(channelID)+`
			(snowflake, channelsnowflake, authorUserName, authorGlobalName, authorId,
			 timeStampUnixMs, timeStampFriendly, message)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (snowflake) DO NOTHING`,
			int64(m.ID), int64(m.ChannelID), m.AuthorUserName, m.AuthorGlobalName,
			int64(m.AuthorID), m.TimestampUnixMs, m.TimestampFriendly, m.Content,
		); err != nil {
			return fmt.Errorf("insert message %s: %w", m.ID, err)
		}
	}
	return tx.Commit(ctx)
}

// Message returns one record, or ErrNotFound.
func (s *Store) Message(ctx context.Context, channelID, id interject.Snowflake) (interject.MessageRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT snowflake, channelsnowflake, authorUserName,
		authorGlobalName, authorId, timeStampUnixMs, timeStampFriendly, message
		FROM `+s.messagesTable(channelID)+` WHERE snowflake = $1`, int64(id))
	return scanMessage(row)
}

func scanMessage(row pgx.Row) (interject.MessageRecord, error) {
	var m interject.MessageRecord
	var id, ch, author int64
	err := row.Scan(&id, &ch, &m.AuthorUserName, &m.AuthorGlobalName, &author,
		&m.TimestampUnixMs, &m.TimestampFriendly, &m.Content)
	if errors.Is(err, pgx.ErrNoRows) {
		return interject.MessageRecord{}, interject.ErrNotFound
	}
	if err != nil {
		return interject.MessageRecord{}, fmt.Errorf("scan message: %w", err)
	}
	m.ID = interject.Snowflake(id)
	m.ChannelID = interject.Snowflake(ch)
	m.AuthorID = interject.Snowflake(author)
	return m, nil
}

// CountMessagesInRange counts archived rows with lo <= id <= hi.
func (s *Store) CountMessagesInRange(ctx context.Context, channelID, lo, hi interject.Snowflake) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM `+s.messagesTable(channelID)+`
		WHERE snowflake >= $1 AND snowflake <= $2`, int64(lo), int64(hi)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

// RecentMessages returns up to limit messages from the continuity range
// containing anchor, newest first, ending at anchor.
func (s *Store) RecentMessages(ctx context.Context, channelID, anchor interject.Snowflake, limit int) ([]interject.MessageRecord, error) {
	r, err := s.ContinuityContaining(ctx, channelID, anchor)
	if errors.Is(err, interject.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `SELECT snowflake, channelsnowflake, authorUserName,
		authorGlobalName, authorId, timeStampUnixMs, timeStampFriendly, message
		FROM `+s.messagesTable(channelID)+`
		WHERE snowflake >= $1 AND snowflake <= $2
		ORDER BY snowflake DESC LIMIT $3`, int64(r.Begin), int64(anchor), limit)
	if err != nil {
		return nil, fmt.Errorf("query recent messages: %w", err)
	}
	defer rows.Close()

	var msgs []interject.MessageRecord
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MergeContinuity folds [lo, hi] into the stored ranges in one transaction,
// touch-inclusively.
func (s *Store) MergeContinuity(ctx context.Context, channelID, lo, hi interject.Snowflake) (interject.ContinuityRange, error) {
	touchLo := lo
	if touchLo > 0 {
		touchLo--
	}
	touchHi := hi + 1

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return interject.ContinuityRange{}, fmt.Errorf("begin merge: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `SELECT snowflakeBegin, snowflakeEnd
		FROM `+s.continuityTable(channelID)+`
		WHERE snowflakeBegin <= $1 AND snowflakeEnd >= $2`, int64(touchHi), int64(touchLo))
	if err != nil {
		return interject.ContinuityRange{}, fmt.Errorf("query overlapping ranges: %w", err)
	}
	var absorbed []interject.ContinuityRange
	for rows.Next() {
		var begin, end int64
		if err := rows.Scan(&begin, &end); err != nil {
			rows.Close()
			return interject.ContinuityRange{}, fmt.Errorf("scan range: %w", err)
		}
		absorbed = append(absorbed, interject.ContinuityRange{
			Begin: interject.Snowflake(begin),
			End:   interject.Snowflake(end),
		})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return interject.ContinuityRange{}, fmt.Errorf("iterate ranges: %w", err)
	}

	merged := interject.ContinuityRange{Begin: lo, End: hi}
	for _, r := range absorbed {
		if r.Begin < merged.Begin {
			merged.Begin = r.Begin
		}
		if r.End > merged.End {
			merged.End = r.End
		}
		if _, err := tx.Exec(ctx, `DELETE FROM `+s.continuityTable(channelID)+`
			WHERE snowflakeBegin = $1`, int64(r.Begin)); err != nil {
			return interject.ContinuityRange{}, fmt.Errorf("delete range: %w", err)
		}
	}
	if _, err := tx.Exec(ctx, `INSERT INTO `+s.continuityTable(channelID)+`
		(snowflakeBegin, snowflakeEnd) VALUES ($1, $2)`, int64(merged.Begin), int64(merged.End)); err != nil {
		return interject.ContinuityRange{}, fmt.Errorf("insert merged range: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return interject.ContinuityRange{}, fmt.Errorf("commit merge: %w", err)
	}
	return merged, nil
}

// ContinuityContaining returns the range holding id, or ErrNotFound.
func (s *Store) ContinuityContaining(ctx context.Context, channelID, id interject.Snowflake) (interject.ContinuityRange, error) {
	var begin, end int64
	err := s.pool.QueryRow(ctx, `SELECT snowflakeBegin, snowflakeEnd
		FROM `+s.continuityTable(channelID)+`
		WHERE snowflakeBegin <= $1 AND snowflakeEnd >= $1`, int64(id)).Scan(&begin, &end)
	if errors.Is(err, pgx.ErrNoRows) {
		return interject.ContinuityRange{}, interject.ErrNotFound
	}
	if err != nil {
		return interject.ContinuityRange{}, fmt.Errorf("query containing range: %w", err)
	}
	return interject.ContinuityRange{Begin: interject.Snowflake(begin), End: interject.Snowflake(end)}, nil
}

// ContinuityRanges returns all ranges for a channel, ascending.
func (s *Store) ContinuityRanges(ctx context.Context, channelID interject.Snowflake) ([]interject.ContinuityRange, error) {
	rows, err := s.pool.Query(ctx, `SELECT snowflakeBegin, snowflakeEnd
		FROM `+s.continuityTable(channelID)+` ORDER BY snowflakeBegin`)
	if err != nil {
		return nil, fmt.Errorf("query ranges: %w", err)
	}
	defer rows.Close()

	var ranges []interject.ContinuityRange
	for rows.Next() {
		var begin, end int64
		if err := rows.Scan(&begin, &end); err != nil {
			return nil, fmt.Errorf("scan range: %w", err)
		}
		ranges = append(ranges, interject.ContinuityRange{
			Begin: interject.Snowflake(begin),
			End:   interject.Snowflake(end),
		})
	}
	return ranges, rows.Err()
}

// MissingEmbeddings filters ids down to those with no stored vector,
// preserving input order.
func (s *Store) MissingEmbeddings(ctx context.Context, channelID interject.Snowflake, ids []interject.Snowflake) ([]interject.Snowflake, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	raw := make([]int64, len(ids))
	for i, id := range ids {
		raw[i] = int64(id)
	}
	rows, err := s.pool.Query(ctx, `SELECT snowflake FROM `+s.embeddingsTable(channelID)+`
		WHERE snowflake = ANY($1)`, raw)
	if err != nil {
		return nil, fmt.Errorf("query embeddings: %w", err)
	}
	defer rows.Close()

	have := make(map[interject.Snowflake]bool, len(ids))
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan embedding id: %w", err)
		}
		have[interject.Snowflake(id)] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var missing []interject.Snowflake
	for _, id := range ids {
		if !have[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// InsertEmbedding stores one vector as a raw little-endian float32 blob,
// replacing any previous value.
func (s *Store) InsertEmbedding(ctx context.Context, channelID, id interject.Snowflake, vec []float32) error {
	blob, err := embed.Vector(vec).MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode embedding: %w", err)
	}
	if _, err := s.pool.Exec(ctx, `INSERT INTO `+s.embeddingsTable(channelID)+`
		(snowflake, embedding) VALUES ($1, $2)
		ON CONFLICT (snowflake) DO UPDATE SET embedding = EXCLUDED.embedding`,
		int64(id), blob); err != nil {
		return fmt.Errorf("insert embedding: %w", err)
	}
	return nil
}

// AllEmbeddings returns every stored vector, ascending by id.
func (s *Store) AllEmbeddings(ctx context.Context, channelID interject.Snowflake) ([]interject.StoredEmbedding, error) {
	rows, err := s.pool.Query(ctx, `SELECT snowflake, embedding
		FROM `+s.embeddingsTable(channelID)+` ORDER BY snowflake`)
	if err != nil {
		return nil, fmt.Errorf("query embeddings: %w", err)
	}
	defer rows.Close()

	var all []interject.StoredEmbedding
	for rows.Next() {
		var id int64
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		var vec embed.Vector
		if err := vec.UnmarshalBinary(blob); err != nil {
			return nil, fmt.Errorf("decode embedding %d: %w", id, err)
		}
		all = append(all, interject.StoredEmbedding{ID: interject.Snowflake(id), Vector: vec})
	}
	return all, rows.Err()
}

// Close is a no-op: the pool is owned by the caller and shared between
// server stores.
func (s *Store) Close() error {
	return nil
}
