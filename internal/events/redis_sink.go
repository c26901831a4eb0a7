package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bozzfozz/harmony/internal/log"
)

// RedisSink publishes events onto a Redis stream for external log shippers
// to tail: log shippers are an explicit external collaborator, and this is
// the bounded interface the core offers them. Publish failures are logged
// and otherwise swallowed — a down log shipper must never affect job
// execution.
type RedisSink struct {
	Client     *redis.Client
	Stream     string
	MaxLen     int64
	PublishTTL time.Duration
}

// NewRedisSink returns a RedisSink with reasonable defaults for stream name
// and bounded length.
func NewRedisSink(client *redis.Client, stream string) *RedisSink {
	if stream == "" {
		stream = "harmony:events"
	}
	return &RedisSink{Client: client, Stream: stream, MaxLen: 10_000, PublishTTL: 2 * time.Second}
}

func (s *RedisSink) Emit(ctx context.Context, e Event) {
	if s == nil || s.Client == nil {
		return
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return
	}

	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.PublishTTL)
	defer cancel()

	err = s.Client.XAdd(publishCtx, &redis.XAddArgs{
		Stream: s.Stream,
		MaxLen: s.MaxLen,
		Approx: true,
		Values: map[string]any{"payload": payload},
	}).Err()
	if err != nil {
		log.L().Warn().Err(err).Str("stream", s.Stream).Msg("events: redis publish failed")
	}
}
