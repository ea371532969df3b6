package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/smile-crm/sales-funnel/internal/pkg/logger"
)

// LogSink writes events to the structured log. It is the default sink when
// no Redis address is configured.
type LogSink struct{}

// Emit logs the event.
func (LogSink) Emit(ctx context.Context, e Event) error {
	payload, _ := json.Marshal(e.Fields)
	logger.Info("event emitted", "event_type", e.Type, "payload", string(payload))
	return nil
}

// RedisSink appends events to a Redis stream. Consumers read the stream
// with XREAD/consumer groups; the pipeline never waits on them.
type RedisSink struct {
	client *redis.Client
	stream string
}

// NewRedisSink builds a sink over the given stream name.
func NewRedisSink(client *redis.Client, stream string) *RedisSink {
	return &RedisSink{client: client, stream: stream}
}

// Emit appends one entry to the stream.
func (s *RedisSink) Emit(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e.Fields)
	if err != nil {
		return fmt.Errorf("marshaling event fields: %w", err)
	}
	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"type":      e.Type,
			"timestamp": e.Timestamp,
			"payload":   string(payload),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("appending event to stream %s: %w", s.stream, err)
	}
	return nil
}

// Fanout emits to several sinks, logging failures and reporting none. Used
// to pair the log sink with the stream sink.
type Fanout []Sink

// Emit delivers the event to every sink.
func (f Fanout) Emit(ctx context.Context, e Event) error {
	for _, s := range f {
		if err := s.Emit(ctx, e); err != nil {
			logger.Warn("event sink failed", "event_type", e.Type, "error", err.Error())
		}
	}
	return nil
}
