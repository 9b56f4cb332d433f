// Package pebblelog is a pebble-backed event log with the same contract as
// sqlog: an append-only record section plus a compacted latest-value-per-key
// section, trimmed between a high and a low water mark. It suits machines
// that want an embedded store without SQL.
//
// Keyspace: `l/<offset>` for log records, `c/<compaction key>` for the
// compacted section, `m/` for bookkeeping. Offsets are fixed-width decimals
// so byte order matches numeric order.
package pebblelog

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"github.com/cockroachdb/pebble"
	"go.uber.org/multierr"

	"github.com/edgefleet/statemux"
	"github.com/edgefleet/statemux/codec"
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
}

// WithWaterMarks sets the low and high water marks for log trimming.
var WithWaterMarks = func(low, high int) Option {
	return func(s *settings) {
		s.lowWater = low
		s.highWater = high
	}
}

// Log is a durable event log for events of type E, implementing
// statemux.Adapter and statemux.Feed. Backend failures are reported as
// errors wrapping statemux.ErrChannelClosed.
type Log[E any] struct {
	mu    sync.Mutex
	db    *pebble.DB
	codec codec.Codec[E]
	key   codec.Key[E]

	logStart  int64
	logEnd    int64
	compacted int64

	lowWater  int
	highWater int
}

// Open creates or opens the log at dir.
func Open[E any](dir string, c codec.Codec[E], key codec.Key[E], opts ...Option) (*Log[E], error) {
	cfg := settings{lowWater: DefaultLowWater, highWater: DefaultHighWater}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.lowWater < 1 {
		cfg.lowWater = 1
	}
	if cfg.highWater < cfg.lowWater+2 {
		cfg.highWater = cfg.lowWater + 2
	}

	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("pebblelog: open %s: %w", dir, err)
	}
	l := &Log[E]{
		db:        db,
		codec:     c,
		key:       key,
		compacted: -1,
		lowWater:  cfg.lowWater,
		highWater: cfg.highWater,
	}
	if err := l.loadOffsets(); err != nil {
		return nil, multierr.Append(err, db.Close())
	}
	return l, nil
}

func logKey(offset int64) []byte {
	return []byte(fmt.Sprintf("l/%020d", offset))
}

func parseLogKey(k []byte) (int64, error) {
	var offset int64
	if _, err := fmt.Sscanf(string(k), "l/%d", &offset); err != nil {
		return 0, fmt.Errorf("pebblelog: bad log key %q: %w", k, err)
	}
	return offset, nil
}

var (
	logLow       = []byte("l/")
	logHigh      = []byte("l0") // '0' is the byte after '/'
	compactLow   = []byte("c/")
	compactHigh  = []byte("c0")
	compactedKey = []byte("m/compacted")
)

// record is klen(u32 BE) || key || payload in the log section; the
// compacted section stores offset(u64 BE) || payload instead.
func encodeRecord(key string, payload []byte) []byte {
	buf := make([]byte, 4+len(key)+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(key)))
	copy(buf[4:], key)
	copy(buf[4+len(key):], payload)
	return buf
}

func decodeRecord(data []byte) (key string, payload []byte, err error) {
	if len(data) < 4 {
		return "", nil, fmt.Errorf("pebblelog: short record")
	}
	n := int(binary.BigEndian.Uint32(data))
	if len(data) < 4+n {
		return "", nil, fmt.Errorf("pebblelog: short record")
	}
	return string(data[4 : 4+n]), data[4+n:], nil
}

func (l *Log[E]) loadOffsets() error {
	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: logLow, UpperBound: logHigh})
	if err != nil {
		return fmt.Errorf("pebblelog: iterate log: %w", err)
	}
	defer iter.Close()
	if iter.First() {
		start, err := parseLogKey(iter.Key())
		if err != nil {
			return err
		}
		l.logStart = start
		if !iter.Last() {
			return fmt.Errorf("pebblelog: log vanished during open")
		}
		last, err := parseLogKey(iter.Key())
		if err != nil {
			return err
		}
		l.logEnd = last + 1
	}

	boundary, closer, err := l.db.Get(compactedKey)
	switch {
	case err == nil:
		if len(boundary) == 8 {
			l.compacted = int64(binary.BigEndian.Uint64(boundary))
		}
		return closer.Close()
	case err == pebble.ErrNotFound:
		return nil
	default:
		return fmt.Errorf("pebblelog: read compaction boundary: %w", err)
	}
}

// Notify appends one event, compacting and trimming once the log section
// grows past the high-water mark.
func (l *Log[E]) Notify(_ context.Context, item E) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	payload, err := l.codec.Encode(item)
	if err != nil {
		return fmt.Errorf("pebblelog: encode: %w (%w)", err, statemux.ErrChannelClosed)
	}
	offset := l.logEnd
	if l.compacted >= 0 && offset <= l.compacted {
		// Never reuse an offset already claimed by the compacted section.
		offset = l.compacted + 1
	}
	if err := l.db.Set(logKey(offset), encodeRecord(l.key(item), payload), pebble.NoSync); err != nil {
		return fmt.Errorf("pebblelog: append: %w (%w)", err, statemux.ErrChannelClosed)
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

// compact copies the latest value per key into the compacted section up to
// the current end of the log, then trims the log section down to the
// low-water mark if it is past the high-water mark. Callers hold l.mu.
func (l *Log[E]) compact() error {
	if l.logEnd == 0 {
		return nil
	}
	from := l.logStart
	if l.compacted >= 0 && l.compacted+1 > from {
		from = l.compacted + 1
	}
	boundary := l.logEnd - 1

	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: logKey(from), UpperBound: logHigh})
	if err != nil {
		return fmt.Errorf("pebblelog: compact: %w", err)
	}
	for valid := iter.First(); valid; valid = iter.Next() {
		offset, err := parseLogKey(iter.Key())
		if err != nil {
			iter.Close()
			return err
		}
		key, payload, err := decodeRecord(iter.Value())
		if err != nil {
			iter.Close()
			return err
		}
		value := make([]byte, 8+len(payload))
		binary.BigEndian.PutUint64(value, uint64(offset))
		copy(value[8:], payload)
		if err := l.db.Set(append([]byte("c/"), key...), value, pebble.NoSync); err != nil {
			iter.Close()
			return fmt.Errorf("pebblelog: compact: %w", err)
		}
	}
	if err := iter.Close(); err != nil {
		return fmt.Errorf("pebblelog: compact: %w", err)
	}

	bound := make([]byte, 8)
	binary.BigEndian.PutUint64(bound, uint64(boundary))
	if err := l.db.Set(compactedKey, bound, pebble.NoSync); err != nil {
		return fmt.Errorf("pebblelog: compact: %w", err)
	}
	l.compacted = boundary

	if l.logEnd-l.logStart > int64(l.highWater) {
		preserve := l.logEnd - int64(l.lowWater)
		if err := l.db.DeleteRange(logKey(l.logStart), logKey(preserve), pebble.NoSync); err != nil {
			return fmt.Errorf("pebblelog: trim: %w", err)
		}
		l.logStart = preserve
	}
	return nil
}

// Feed replays the retained history in commit order: compacted rows standing
// in for the trimmed tail first, then every retained log record.
func (l *Log[E]) Feed(ctx context.Context, sink statemux.Adapter[E]) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.compact(); err != nil {
		return fmt.Errorf("%w (%w)", err, statemux.ErrChannelClosed)
	}

	type row struct {
		offset  int64
		payload []byte
	}
	var snapshot []row

	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: compactLow, UpperBound: compactHigh})
	if err != nil {
		return fmt.Errorf("pebblelog: history: %w (%w)", err, statemux.ErrChannelClosed)
	}
	for valid := iter.First(); valid; valid = iter.Next() {
		value := iter.Value()
		if len(value) < 8 {
			continue
		}
		offset := int64(binary.BigEndian.Uint64(value))
		if l.logEnd != 0 && offset >= l.logStart {
			// Still present in the log section.
			continue
		}
		payload := make([]byte, len(value)-8)
		copy(payload, value[8:])
		snapshot = append(snapshot, row{offset: offset, payload: payload})
	}
	if err := iter.Close(); err != nil {
		return fmt.Errorf("pebblelog: history: %w (%w)", err, statemux.ErrChannelClosed)
	}

	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].offset < snapshot[j].offset })
	for _, r := range snapshot {
		if err := l.feedPayload(ctx, r.payload, sink); err != nil {
			return err
		}
	}

	iter, err = l.db.NewIter(&pebble.IterOptions{LowerBound: logLow, UpperBound: logHigh})
	if err != nil {
		return fmt.Errorf("pebblelog: history: %w (%w)", err, statemux.ErrChannelClosed)
	}
	for valid := iter.First(); valid; valid = iter.Next() {
		_, payload, err := decodeRecord(iter.Value())
		if err != nil {
			iter.Close()
			return err
		}
		if err := l.feedPayload(ctx, payload, sink); err != nil {
			iter.Close()
			return err
		}
	}
	if err := iter.Close(); err != nil {
		return fmt.Errorf("pebblelog: history: %w (%w)", err, statemux.ErrChannelClosed)
	}
	return nil
}

func (l *Log[E]) feedPayload(ctx context.Context, payload []byte, sink statemux.Adapter[E]) error {
	item, err := l.codec.Decode(payload)
	if err != nil {
		// An undecodable record is unrecoverable; skip it.
		return nil
	}
	return sink.Notify(ctx, item)
}

// Compact forces a compaction and trim cycle.
func (l *Log[E]) Compact() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.compact()
}

// Close flushes and closes the store.
func (l *Log[E]) Close() error {
	return multierr.Append(l.db.Flush(), l.db.Close())
}
