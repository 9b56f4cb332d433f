// Package sqlog is a SQLite-backed event log: an append-only record log
// plus a compacted latest-value-per-key table. The log section is trimmed
// once it grows past a high-water mark, down to a low-water mark, while the
// compacted table preserves the most recent value per compaction key beyond
// the trimmed tail.
//
// Replay returns the compacted snapshot rows in offset order followed by the
// log rows past the compaction boundary, so no event is replayed twice and
// none is skipped.
package sqlog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/multierr"

	"github.com/edgefleet/statemux"
	"github.com/edgefleet/statemux/codec"
)

const (
	createLog = `CREATE TABLE IF NOT EXISTS log (
		offset INTEGER PRIMARY KEY,
		key TEXT,
		value BLOB
	)`
	createCompacted = `CREATE TABLE IF NOT EXISTS compacted (
		key TEXT PRIMARY KEY ON CONFLICT REPLACE,
		offset INTEGER,
		value BLOB
	)`

	insertLog        = `INSERT INTO log (key, value) VALUES (?, ?)`
	compactTail      = `INSERT INTO compacted (key, offset, value) SELECT key, offset, value FROM log WHERE offset > ? ORDER BY offset`
	compactAll       = `INSERT INTO compacted (key, offset, value) SELECT key, offset, value FROM log ORDER BY offset`
	trimLog          = `DELETE FROM log WHERE offset < ?`
	selectLogAll     = `SELECT value FROM log ORDER BY offset`
	selectCompacted  = `SELECT value FROM compacted ORDER BY offset`
	selectTrimmed    = `SELECT value FROM compacted WHERE offset < ? ORDER BY offset`
	queryLogOffsets  = `SELECT MIN(offset), MAX(offset) FROM log`
	queryCompactedAt = `SELECT MAX(offset) FROM compacted`
)

// DefaultLowWater and DefaultHighWater bound the size of the un-compacted
// log section.
const (
	DefaultLowWater  = 64
	DefaultHighWater = 256
)

// Option configures a Log.
type Option func(*settings)

type settings struct {
	lowWater  int
	highWater int
	logger    *slog.Logger
}

// WithWaterMarks sets the low and high water marks for log trimming. The
// log is compacted and trimmed down to low once it grows past high.
var WithWaterMarks = func(low, high int) Option {
	return func(s *settings) {
		s.lowWater = low
		s.highWater = high
	}
}

// WithLogger sets the logger.
var WithLogger = func(log *slog.Logger) Option {
	return func(s *settings) {
		s.logger = log
	}
}

// Log is a durable event log for events of type E. It implements both
// statemux.Adapter (append one event) and statemux.Feed (replay history), so
// it plugs into a machine as its event log. Backend and serialization
// failures are reported as errors wrapping statemux.ErrChannelClosed.
type Log[E any] struct {
	mu    sync.Mutex
	db    *sql.DB
	codec codec.Codec[E]
	key   codec.Key[E]

	logStart  int64 // offset of the first retained log row
	logEnd    int64 // one past the last log row, 0 when empty
	compacted int64 // highest offset copied to the compacted table, -1 if none

	lowWater  int
	highWater int
	logger    *slog.Logger
}

// Open creates or opens the log database at path.
func Open[E any](path string, c codec.Codec[E], key codec.Key[E], opts ...Option) (*Log[E], error) {
	cfg := settings{lowWater: DefaultLowWater, highWater: DefaultHighWater, logger: statemux.NullLogger()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.lowWater < 1 {
		cfg.lowWater = 1
	}
	if cfg.highWater < cfg.lowWater+2 {
		cfg.highWater = cfg.lowWater + 2
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sqlog: open %s: %w", path, err)
	}
	for _, stmt := range []string{createLog, createCompacted} {
		if _, err := db.Exec(stmt); err != nil {
			return nil, multierr.Append(fmt.Errorf("sqlog: create tables: %w", err), db.Close())
		}
	}

	l := &Log[E]{
		db:        db,
		codec:     c,
		key:       key,
		compacted: -1,
		lowWater:  cfg.lowWater,
		highWater: cfg.highWater,
		logger:    cfg.logger,
	}
	if err := l.loadOffsets(); err != nil {
		return nil, multierr.Append(err, db.Close())
	}
	return l, nil
}

func (l *Log[E]) loadOffsets() error {
	var start, last sql.NullInt64
	if err := l.db.QueryRow(queryLogOffsets).Scan(&start, &last); err != nil {
		return fmt.Errorf("sqlog: query log offsets: %w", err)
	}
	if start.Valid {
		l.logStart = start.Int64
		l.logEnd = last.Int64 + 1
	}
	var compacted sql.NullInt64
	if err := l.db.QueryRow(queryCompactedAt).Scan(&compacted); err != nil {
		return fmt.Errorf("sqlog: query compaction boundary: %w", err)
	}
	if compacted.Valid {
		l.compacted = compacted.Int64
	}
	return nil
}

// Notify appends one event durably, compacting and trimming once the log
// section grows past the high-water mark.
func (l *Log[E]) Notify(_ context.Context, item E) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	value, err := l.codec.Encode(item)
	if err != nil {
		return fmt.Errorf("sqlog: encode: %w (%w)", err, statemux.ErrChannelClosed)
	}
	res, err := l.db.Exec(insertLog, l.key(item), value)
	if err != nil {
		return fmt.Errorf("sqlog: append: %w (%w)", err, statemux.ErrChannelClosed)
	}
	offset, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlog: append offset: %w (%w)", err, statemux.ErrChannelClosed)
	}

	if l.logEnd == 0 {
		l.logStart = offset
	}
	l.logEnd = offset + 1

	if l.logEnd-l.logStart > int64(l.highWater) {
		if err := l.compact(); err != nil {
			return fmt.Errorf("%w (%w)", err, statemux.ErrChannelClosed)
		}
	}
	return nil
}

// compact copies the latest value per key into the compacted table up to the
// current end of the log, then trims the log section down to the low-water
// mark if it is past the high-water mark. Callers hold l.mu.
func (l *Log[E]) compact() error {
	if l.logEnd == 0 {
		return nil
	}
	boundary := l.logEnd - 1
	if l.compacted >= 0 {
		if boundary > l.compacted {
			if _, err := l.db.Exec(compactTail, l.compacted); err != nil {
				return fmt.Errorf("sqlog: compact: %w", err)
			}
			l.compacted = boundary
		}
	} else {
		if _, err := l.db.Exec(compactAll); err != nil {
			return fmt.Errorf("sqlog: compact: %w", err)
		}
		l.compacted = boundary
	}

	if l.logEnd-l.logStart > int64(l.highWater) {
		preserve := l.logEnd - int64(l.lowWater)
		if _, err := l.db.Exec(trimLog, preserve); err != nil {
			return fmt.Errorf("sqlog: trim: %w", err)
		}
		l.logger.Debug("trimmed log", "from", l.logStart, "to", preserve)
		l.logStart = preserve
	}
	return nil
}

// Feed replays the retained history, in commit order, into sink: first the
// compacted rows standing in for the trimmed tail — those whose offset falls
// before the first retained log row — then every retained log row. A
// compacted row whose event is still in the log is excluded, so no event is
// replayed twice and none is skipped.
func (l *Log[E]) Feed(ctx context.Context, sink statemux.Adapter[E]) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.compact(); err != nil {
		return fmt.Errorf("%w (%w)", err, statemux.ErrChannelClosed)
	}

	if l.logEnd == 0 {
		return l.replay(ctx, selectCompacted, sink)
	}
	if err := l.replay(ctx, selectTrimmed, sink, l.logStart); err != nil {
		return err
	}
	return l.replay(ctx, selectLogAll, sink)
}

func (l *Log[E]) replay(ctx context.Context, query string, sink statemux.Adapter[E], args ...any) error {
	rows, err := l.db.Query(query, args...)
	if err != nil {
		return fmt.Errorf("sqlog: history: %w (%w)", err, statemux.ErrChannelClosed)
	}
	defer rows.Close()
	for rows.Next() {
		var value []byte
		if err := rows.Scan(&value); err != nil {
			return fmt.Errorf("sqlog: history: %w (%w)", err, statemux.ErrChannelClosed)
		}
		item, err := l.codec.Decode(value)
		if err != nil {
			// An undecodable record is unrecoverable; skip it.
			l.logger.Warn("skipping undecodable record", "error", err)
			continue
		}
		if err := sink.Notify(ctx, item); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("sqlog: history: %w (%w)", err, statemux.ErrChannelClosed)
	}
	return nil
}

// Compact forces a compaction and trim cycle.
func (l *Log[E]) Compact() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.compact()
}

// Close closes the database.
func (l *Log[E]) Close() error {
	return l.db.Close()
}
