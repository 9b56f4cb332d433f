// Package codec defines the encoding used by the durable event-log
// backends.
package codec

import (
	json "github.com/goccy/go-json"
)

// Codec encodes and decodes one event type for a persistent log.
type Codec[A any] interface {
	Encode(item A) ([]byte, error)
	Decode(data []byte) (A, error)
}

type jsonCodec[A any] struct{}

// JSON is a Codec that stores events as JSON.
func JSON[A any]() Codec[A] {
	return jsonCodec[A]{}
}

func (jsonCodec[A]) Encode(item A) ([]byte, error) {
	return json.Marshal(item)
}

func (jsonCodec[A]) Decode(data []byte) (A, error) {
	var item A
	err := json.Unmarshal(data, &item)
	return item, err
}

// Key derives a compaction key for an event. Events sharing a key compact
// down to the latest one; a constant key keeps only the latest event
// overall.
type Key[A any] func(item A) string
