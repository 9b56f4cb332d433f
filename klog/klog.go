// Package klog adapts a Kafka-style commit log as a machine event log. Each
// event is produced to one topic with its compaction key as the record key,
// so topic compaction retains at least the latest event per key; history is
// everything the topic retains, in commit order, up to the end offset
// captured when the feed starts.
package klog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/edgefleet/statemux"
	"github.com/edgefleet/statemux/codec"
)

// Option configures a Log.
type Option func(*settings)

type settings struct {
	logger *slog.Logger
}

// WithLogger sets the logger.
var WithLogger = func(log *slog.Logger) Option {
	return func(s *settings) {
		s.logger = log
	}
}

// Log is a commit-log event log for events of type E, implementing
// statemux.Adapter and statemux.Feed. Producer and broker failures are
// reported as errors wrapping statemux.ErrChannelClosed; an event that
// cannot be encoded is a hard producer error, while a history record that
// cannot be decoded is silently skipped.
type Log[E any] struct {
	client  *kgo.Client
	brokers []string
	topic   string
	codec   codec.Codec[E]
	key     codec.Key[E]
	logger  *slog.Logger
}

// New connects a producer to the given brokers and topic.
func New[E any](brokers []string, topic string, c codec.Codec[E], key codec.Key[E], opts ...Option) (*Log[E], error) {
	cfg := settings{logger: statemux.NullLogger()}
	for _, opt := range opts {
		opt(&cfg)
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
	)
	if err != nil {
		return nil, fmt.Errorf("klog: connect: %w", err)
	}
	return &Log[E]{
		client:  client,
		brokers: brokers,
		topic:   topic,
		codec:   c,
		key:     key,
		logger:  cfg.logger,
	}, nil
}

// Notify produces one event, blocking until the broker has accepted it.
func (l *Log[E]) Notify(ctx context.Context, item E) error {
	value, err := l.codec.Encode(item)
	if err != nil {
		return fmt.Errorf("klog: encode: %w (%w)", err, statemux.ErrChannelClosed)
	}
	record := &kgo.Record{
		Topic: l.topic,
		Key:   []byte(l.key(item)),
		Value: value,
	}
	if err := l.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("klog: produce: %w (%w)", err, statemux.ErrChannelClosed)
	}
	return nil
}

// Feed replays the topic from its start up to the end offsets captured at
// call time, in commit order per partition, then returns.
func (l *Log[E]) Feed(ctx context.Context, sink statemux.Adapter[E]) error {
	admin := kadm.NewClient(l.client)
	ends, err := admin.ListEndOffsets(ctx, l.topic)
	if err != nil {
		return fmt.Errorf("klog: list end offsets: %w (%w)", err, statemux.ErrChannelClosed)
	}

	// Exclusive end offset per partition with anything to replay.
	remaining := map[int32]int64{}
	ends.Each(func(lo kadm.ListedOffset) {
		if lo.Offset > 0 {
			remaining[lo.Partition] = lo.Offset
		}
	})
	if len(remaining) == 0 {
		return nil
	}

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(l.brokers...),
		kgo.ConsumeTopics(l.topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	if err != nil {
		return fmt.Errorf("klog: connect consumer: %w (%w)", err, statemux.ErrChannelClosed)
	}
	defer consumer.Close()

	replayed := 0
	for len(remaining) > 0 {
		fetches := consumer.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return fmt.Errorf("klog: history: %w", statemux.ErrChannelClosed)
		}
		for _, fetchError := range fetches.Errors() {
			if errors.Is(fetchError.Err, context.Canceled) || errors.Is(fetchError.Err, context.DeadlineExceeded) {
				return fetchError.Err
			}
			return fmt.Errorf("klog: fetch %s/%d: %w (%w)", fetchError.Topic, fetchError.Partition, fetchError.Err, statemux.ErrChannelClosed)
		}

		var notifyErr error
		fetches.EachRecord(func(r *kgo.Record) {
			if notifyErr != nil {
				return
			}
			end, wanted := remaining[r.Partition]
			if !wanted || r.Offset >= end {
				return
			}
			if item, err := l.codec.Decode(r.Value); err != nil {
				l.logger.Warn("skipping undecodable record", "topic", r.Topic, "partition", r.Partition, "offset", r.Offset, "error", err)
			} else {
				notifyErr = sink.Notify(ctx, item)
				replayed++
			}
			if r.Offset == end-1 {
				delete(remaining, r.Partition)
			}
		})
		if notifyErr != nil {
			return notifyErr
		}
	}
	l.logger.Debug("replayed history", "topic", l.topic, "records", replayed)
	return nil
}

// Close flushes outstanding produce requests and closes the client.
func (l *Log[E]) Close() error {
	err := l.client.Flush(context.Background())
	l.client.Close()
	return err
}
