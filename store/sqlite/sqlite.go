// Package sqlite implements the per-server archive store on pure-Go SQLite.
// One database file holds one server: three tables per channel (messages,
// continuity ranges, embedding blobs), named by the channel's decimal id.
// Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"interject"
	"interject/embed"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets a structured logger for the store. When set, the store
// emits debug logs for every operation including timing and row counts.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store is one server's archive in a local SQLite file.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	// ensured caches which channels already have their tables, so the DDL
	// runs once per channel per process.
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

// Open creates or opens the database file at path, creating parent
// directories as needed. The pool is capped at one connection so all
// goroutines serialize through it, which eliminates SQLITE_BUSY from
// concurrent writers.
func Open(path string, opts ...Option) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{
		db:      db,
		logger:  nopLogger,
		ensured: make(map[interject.Snowflake]bool),
	}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", path)
	return s, nil
}

// Table names carry the channel id as suffix. Snowflake.String renders only
// decimal digits, so the names are safe to splice; every value still binds
// as a parameter.
func messagesTable(ch interject.Snowflake) string   { return "messages_" + ch.String() }
func continuityTable(ch interject.Snowflake) string { return "continuity_" + ch.String() }
func embeddingsTable(ch interject.Snowflake) string { return "embeddings_" + ch.String() }

// EnsureChannel creates the channel's three tables when absent. Idempotent;
// cached per channel after the first call.
func (s *Store) EnsureChannel(ctx context.Context, channelID interject.Snowflake) error {
	if s.ensured[channelID] {
		return nil
	}
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS ` + messagesTable(channelID) + ` (
			snowflake INTEGER PRIMARY KEY,
			channelsnowflake INTEGER,
			authorUserName TEXT,
			authorGlobalName TEXT,
			authorId INTEGER,
			timeStampUnixMs INTEGER,
			timeStampFriendly TEXT,
			message TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS ` + continuityTable(channelID) + ` (
			snowflakeBegin INTEGER PRIMARY KEY,
			snowflakeEnd INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS ` + embeddingsTable(channelID) + ` (
			snowflake INTEGER PRIMARY KEY,
			embedding BLOB
		)`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create channel tables: %w", err)
		}
	}
	s.ensured[channelID] = true
	s.logger.Debug("sqlite: channel tables ensured", "channel", channelID)
	return nil
}

// Channels recovers the archived channel ids from existing table names.
func (s *Store) Channels(ctx context.Context) ([]interject.Snowflake, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name LIKE 'messages_%'`)
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
	start := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO `+messagesTable(channelID)+`
		(snowflake, channelsnowflake, authorUserName, authorGlobalName, authorId,
		 timeStampUnixMs, timeStampFriendly, message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, m := range msgs {
		if _, err := stmt.ExecContext(ctx,
			int64(m.ID), int64(m.ChannelID), m.AuthorUserName, m.AuthorGlobalName,
			int64(m.AuthorID), m.TimestampUnixMs, m.TimestampFriendly, m.Content,
		); err != nil {
			return fmt.Errorf("insert message %s: %w", m.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert: %w", err)
	}

	s.logger.Debug("sqlite: messages inserted",
		"channel", channelID, "count", len(msgs), "duration", time.Since(start))
	return nil
}

// Message returns one record, or ErrNotFound.
func (s *Store) Message(ctx context.Context, channelID, id interject.Snowflake) (interject.MessageRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT snowflake, channelsnowflake, authorUserName,
		authorGlobalName, authorId, timeStampUnixMs, timeStampFriendly, message
		FROM `+messagesTable(channelID)+` WHERE snowflake = ?`, int64(id))
	return scanMessage(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (interject.MessageRecord, error) {
	var m interject.MessageRecord
	var id, ch, author int64
	err := row.Scan(&id, &ch, &m.AuthorUserName, &m.AuthorGlobalName, &author,
		&m.TimestampUnixMs, &m.TimestampFriendly, &m.Content)
	if errors.Is(err, sql.ErrNoRows) {
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
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+messagesTable(channelID)+`
		WHERE snowflake >= ? AND snowflake <= ?`, int64(lo), int64(hi)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

// RecentMessages returns up to limit messages from the continuity range
// containing anchor, newest first, ending at anchor. Empty when no range
// contains anchor.
func (s *Store) RecentMessages(ctx context.Context, channelID, anchor interject.Snowflake, limit int) ([]interject.MessageRecord, error) {
	r, err := s.ContinuityContaining(ctx, channelID, anchor)
	if errors.Is(err, interject.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT snowflake, channelsnowflake, authorUserName,
		authorGlobalName, authorId, timeStampUnixMs, timeStampFriendly, message
		FROM `+messagesTable(channelID)+`
		WHERE snowflake >= ? AND snowflake <= ?
		ORDER BY snowflake DESC LIMIT ?`, int64(r.Begin), int64(anchor), limit)
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

// MergeContinuity folds [lo, hi] into the stored ranges in one transaction.
// The overlap predicate is touch-inclusive, so a span that merely abuts a
// stored range (hi+1 == begin, or lo-1 == end) absorbs it too.
func (s *Store) MergeContinuity(ctx context.Context, channelID, lo, hi interject.Snowflake) (interject.ContinuityRange, error) {
	start := time.Now()

	touchLo := lo
	if touchLo > 0 {
		touchLo--
	}
	touchHi := hi + 1

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return interject.ContinuityRange{}, fmt.Errorf("begin merge: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT snowflakeBegin, snowflakeEnd
		FROM `+continuityTable(channelID)+`
		WHERE snowflakeBegin <= ? AND snowflakeEnd >= ?`, int64(touchHi), int64(touchLo))
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
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+continuityTable(channelID)+`
			WHERE snowflakeBegin = ?`, int64(r.Begin)); err != nil {
			return interject.ContinuityRange{}, fmt.Errorf("delete range: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO `+continuityTable(channelID)+`
		(snowflakeBegin, snowflakeEnd) VALUES (?, ?)`, int64(merged.Begin), int64(merged.End)); err != nil {
		return interject.ContinuityRange{}, fmt.Errorf("insert merged range: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return interject.ContinuityRange{}, fmt.Errorf("commit merge: %w", err)
	}

	s.logger.Debug("sqlite: continuity merged",
		"channel", channelID,
		"lo", lo, "hi", hi,
		"absorbed", len(absorbed),
		"begin", merged.Begin, "end", merged.End,
		"duration", time.Since(start))
	return merged, nil
}

// ContinuityContaining returns the range holding id, or ErrNotFound.
func (s *Store) ContinuityContaining(ctx context.Context, channelID, id interject.Snowflake) (interject.ContinuityRange, error) {
	var begin, end int64
	err := s.db.QueryRowContext(ctx, `SELECT snowflakeBegin, snowflakeEnd
		FROM `+continuityTable(channelID)+`
		WHERE snowflakeBegin <= ? AND snowflakeEnd >= ?`, int64(id), int64(id)).Scan(&begin, &end)
	if errors.Is(err, sql.ErrNoRows) {
		return interject.ContinuityRange{}, interject.ErrNotFound
	}
	if err != nil {
		return interject.ContinuityRange{}, fmt.Errorf("query containing range: %w", err)
	}
	return interject.ContinuityRange{Begin: interject.Snowflake(begin), End: interject.Snowflake(end)}, nil
}

// ContinuityRanges returns all ranges for a channel, ascending.
func (s *Store) ContinuityRanges(ctx context.Context, channelID interject.Snowflake) ([]interject.ContinuityRange, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT snowflakeBegin, snowflakeEnd
		FROM `+continuityTable(channelID)+` ORDER BY snowflakeBegin`)
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
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = int64(id)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT snowflake FROM `+embeddingsTable(channelID)+`
		WHERE snowflake IN (`+placeholders+`)`, args...)
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
	if _, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO `+embeddingsTable(channelID)+`
		(snowflake, embedding) VALUES (?, ?)`, int64(id), blob); err != nil {
		return fmt.Errorf("insert embedding: %w", err)
	}
	return nil
}

// AllEmbeddings returns every stored vector, ascending by id.
func (s *Store) AllEmbeddings(ctx context.Context, channelID interject.Snowflake) ([]interject.StoredEmbedding, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, `SELECT snowflake, embedding
		FROM `+embeddingsTable(channelID)+` ORDER BY snowflake`)
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
	if err := rows.Err(); err != nil {
		return nil, err
	}
	s.logger.Debug("sqlite: embeddings loaded",
		"channel", channelID, "count", len(all), "duration", time.Since(start))
	return all, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
