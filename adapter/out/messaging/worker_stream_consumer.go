package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Handler processes the payload of one stream entry.
type Handler func(ctx context.Context, stream string, data []byte) error

// Consumer reads Redis Streams through a consumer group. Entries are acked
// only after the handler succeeds; entries idle too long are reclaimed and
// retried, and moved to dlq:<stream> after MaxRetries deliveries.
type Consumer struct {
	client   redis.Cmdable
	group    string
	consumer string
	streams  []string
	handler  Handler
	log      zerolog.Logger

	reclaimInterval time.Duration
	minIdle         time.Duration
	maxRetries      int64
	block           time.Duration
}

// ConsumerConfig holds consumer configuration.
type ConsumerConfig struct {
	Group    string
	Consumer string
	Streams  []string
	Handler  Handler
	Logger   zerolog.Logger

	ReclaimInterval time.Duration
	MinIdle         time.Duration
	MaxRetries      int
	Block           time.Duration
}

func NewConsumer(client redis.Cmdable, cfg *ConsumerConfig) *Consumer {
	c := &Consumer{
		client:          client,
		group:           cfg.Group,
		consumer:        cfg.Consumer,
		streams:         cfg.Streams,
		handler:         cfg.Handler,
		log:             cfg.Logger,
		reclaimInterval: cfg.ReclaimInterval,
		minIdle:         cfg.MinIdle,
		maxRetries:      int64(cfg.MaxRetries),
		block:           cfg.Block,
	}
	if c.reclaimInterval <= 0 {
		c.reclaimInterval = 30 * time.Second
	}
	if c.minIdle <= 0 {
		c.minIdle = 2 * time.Minute
	}
	if c.maxRetries <= 0 {
		c.maxRetries = 3
	}
	if c.block <= 0 {
		c.block = 5 * time.Second
	}
	return c
}

// Run blocks until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Info().
		Str("group", c.group).
		Str("consumer", c.consumer).
		Strs("streams", c.streams).
		Msg("starting consumer")

	for _, stream := range c.streams {
		if err := c.ensureGroup(ctx, stream); err != nil {
			return err
		}
	}

	go c.reclaimLoop(ctx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		streams, err := c.read(ctx)
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			c.log.Error().Err(err).Msg("error reading from streams")
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}

		for _, s := range streams {
			for _, msg := range s.Messages {
				c.handle(ctx, s.Stream, msg)
			}
		}
	}
}

func (c *Consumer) ensureGroup(ctx context.Context, stream string) error {
	err := c.client.XGroupCreateMkStream(ctx, stream, c.group, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group on %s: %w", stream, err)
	}
	return nil
}

func (c *Consumer) read(ctx context.Context) ([]redis.XStream, error) {
	args := make([]string, len(c.streams)*2)
	for i, stream := range c.streams {
		args[i] = stream
		args[len(c.streams)+i] = ">"
	}

	return c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  args,
		Count:    10,
		Block:    c.block,
	}).Result()
}

// handle runs the handler and acks on success. A failed entry stays pending
// for the reclaim loop.
func (c *Consumer) handle(ctx context.Context, stream string, msg redis.XMessage) {
	data, ok := msg.Values["data"].(string)
	if !ok {
		c.log.Warn().Str("stream", stream).Str("id", msg.ID).Msg("dropping entry without data field")
		c.ack(ctx, stream, msg.ID)
		return
	}

	if err := c.handler(ctx, stream, []byte(data)); err != nil {
		c.log.Error().Err(err).Str("stream", stream).Str("id", msg.ID).Msg("error processing message")
		return
	}
	c.ack(ctx, stream, msg.ID)
}

func (c *Consumer) ack(ctx context.Context, stream, id string) {
	if err := c.client.XAck(ctx, stream, c.group, id).Err(); err != nil {
		c.log.Error().Err(err).Str("stream", stream).Str("id", id).Msg("error acknowledging message")
	}
}

// =============================================================================
// Reclaim
// =============================================================================

func (c *Consumer) reclaimLoop(ctx context.Context) {
	ticker := time.NewTicker(c.reclaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, stream := range c.streams {
				c.reclaim(ctx, stream)
			}
		}
	}
}

func (c *Consumer) reclaim(ctx context.Context, stream string) {
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  c.group,
		Idle:   c.minIdle,
		Start:  "-",
		End:    "+",
		Count:  100,
	}).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Error().Err(err).Str("stream", stream).Msg("error listing pending entries")
		}
		return
	}

	for _, p := range pending {
		if p.RetryCount >= c.maxRetries {
			c.deadLetter(ctx, stream, p.ID, p.RetryCount)
			continue
		}

		claimed, err := c.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   stream,
			Group:    c.group,
			Consumer: c.consumer,
			MinIdle:  c.minIdle,
			Messages: []string{p.ID},
		}).Result()
		if err != nil {
			c.log.Error().Err(err).Str("id", p.ID).Msg("error claiming entry")
			continue
		}

		for _, msg := range claimed {
			c.log.Info().Str("stream", stream).Str("id", msg.ID).Int64("retries", p.RetryCount).
				Msg("retrying stuck entry")
			c.handle(ctx, stream, msg)
		}
	}
}

func (c *Consumer) deadLetter(ctx context.Context, stream, id string, retries int64) {
	entries, err := c.client.XRange(ctx, stream, id, id).Result()
	if err != nil || len(entries) == 0 {
		c.log.Error().Err(err).Str("stream", stream).Str("id", id).Msg("entry vanished before dead-lettering")
		c.ack(ctx, stream, id)
		return
	}

	values := map[string]interface{}{
		"original_stream": stream,
		"original_id":     id,
		"failed_at":       time.Now().UTC().Format(time.RFC3339),
		"retries":         retries,
	}
	for k, v := range entries[0].Values {
		values[k] = v
	}

	if err := c.client.XAdd(ctx, &redis.XAddArgs{Stream: "dlq:" + stream, Values: values}).Err(); err != nil {
		c.log.Error().Err(err).Str("id", id).Msg("error moving entry to DLQ")
		return
	}
	c.ack(ctx, stream, id)
	c.log.Warn().Str("stream", stream).Str("id", id).Int64("retries", retries).Msg("entry moved to DLQ")
}
