package events

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisSinkAppendsToStream(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sink := NewRedisSink(client, "funnel-events")
	ctx := context.Background()

	e := New(TypeTaskAutoApproved, map[string]any{
		"task_id":    "t-1",
		"confidence": 0.9,
	})
	require.NoError(t, sink.Emit(ctx, e))
	require.NoError(t, sink.Emit(ctx, New(TypeProcessingCompleted, map[string]any{"status": "processed"})))

	entries, err := client.XRange(ctx, "funnel-events", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, TypeTaskAutoApproved, entries[0].Values["type"])
	assert.Contains(t, entries[0].Values["payload"], "t-1")
	assert.NotEmpty(t, entries[0].Values["timestamp"])
	assert.Equal(t, TypeProcessingCompleted, entries[1].Values["type"])
}

func TestFanoutSwallowsSinkFailures(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	good := NewRedisSink(client, "s")
	// a sink pointed at a dead server fails, but fanout must not
	dead := NewRedisSink(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}), "s")

	f := Fanout{dead, good, LogSink{}}
	assert.NoError(t, f.Emit(context.Background(), New(TypeDealsRequireReview, map[string]any{"count": 2})))

	entries, err := client.XRange(context.Background(), "s", "-", "+").Result()
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
