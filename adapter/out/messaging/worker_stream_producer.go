// Package messaging publishes and consumes Redis Streams.
package messaging

import (
	"context"
	"fmt"

	"jobsync_worker/core/domain"
	"jobsync_worker/core/port/out"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// Stream names
const (
	StreamSyncTrigger = "sync:trigger"
	StreamJobEvents   = "job:events"
)

// streamMaxLen caps each stream; XADD trims approximately.
const streamMaxLen = 10000

// RedisProducer implements out.EventPublisher using Redis Streams.
type RedisProducer struct {
	client redis.Cmdable
}

func NewRedisProducer(client redis.Cmdable) *RedisProducer {
	return &RedisProducer{client: client}
}

// PublishJobEvent announces a pending item or an applied job.
func (p *RedisProducer) PublishJobEvent(ctx context.Context, event *domain.JobEvent) error {
	return p.publish(ctx, StreamJobEvents, event)
}

// PublishSyncTrigger enqueues a run for the worker.
func (p *RedisProducer) PublishSyncTrigger(ctx context.Context, req *domain.RunRequest) error {
	return p.publish(ctx, StreamSyncTrigger, req)
}

func (p *RedisProducer) publish(ctx context.Context, stream string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: streamMaxLen,
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", stream, err)
	}
	return nil
}

var _ out.EventPublisher = (*RedisProducer)(nil)
