package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aescanero/newsroom/pkg/ports"
)

// Options tunes the streams transport.
type Options struct {
	ConsumerGroup string
	ConsumerName  string
	// Partitions splits each topic into this many streams. Messages with the
	// same key always land on the same stream.
	Partitions int
	// ClaimIdle is how long a delivered message may stay unacked before another
	// consumer of the group reclaims it.
	ClaimIdle time.Duration
	BatchSize int64
	Block     time.Duration
}

// StreamsTransport implements ports.Transport using Redis Streams
type StreamsTransport struct {
	client *redis.Client
	logger *zap.Logger
	opts   Options
	wg     sync.WaitGroup
}

// NewStreamsTransport creates a new Redis Streams transport
func NewStreamsTransport(client *redis.Client, opts Options, logger *zap.Logger) (*StreamsTransport, error) {
	if opts.ConsumerGroup == "" || opts.ConsumerName == "" {
		return nil, fmt.Errorf("consumer group and consumer name are required")
	}
	if opts.Partitions < 1 {
		opts.Partitions = 1
	}
	if opts.ClaimIdle <= 0 {
		opts.ClaimIdle = 30 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.Block <= 0 {
		opts.Block = time.Second
	}
	return &StreamsTransport{
		client: client,
		logger: logger,
		opts:   opts,
	}, nil
}

// Publish adds a message to the partition stream selected by its key
func (t *StreamsTransport) Publish(ctx context.Context, topic string, msg ports.Message) error {
	streamKey := getStreamKey(topic, t.partition(msg.Key))

	args := &redis.XAddArgs{
		Stream: streamKey,
		Values: map[string]interface{}{
			"key":  msg.Key,
			"data": string(msg.Body),
		},
	}

	id, err := t.client.XAdd(ctx, args).Result()
	if err != nil {
		return fmt.Errorf("failed to add to stream: %w", err)
	}

	t.logger.Debug("message published",
		zap.String("message_id", id),
		zap.String("key", msg.Key),
		zap.String("topic", topic),
		zap.String("stream", streamKey))

	return nil
}

// Subscribe reads every partition of topic, one goroutine per partition
func (t *StreamsTransport) Subscribe(ctx context.Context, topic string, handler ports.MessageHandler) error {
	streams := make([]string, 0, t.opts.Partitions)
	for p := 0; p < t.opts.Partitions; p++ {
		streamKey := getStreamKey(topic, p)

		// Create consumer group if it doesn't exist
		err := t.client.XGroupCreateMkStream(ctx, streamKey, t.opts.ConsumerGroup, "0").Err()
		if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("failed to create consumer group: %w", err)
		}
		streams = append(streams, streamKey)
	}

	t.logger.Info("subscribed to topic",
		zap.String("topic", topic),
		zap.Int("partitions", len(streams)),
		zap.String("consumer_group", t.opts.ConsumerGroup),
		zap.String("consumer", t.opts.ConsumerName))

	for _, streamKey := range streams {
		t.wg.Add(1)
		go func(streamKey string) {
			defer t.wg.Done()
			t.readStream(ctx, streamKey, handler)
		}(streamKey)
	}

	return nil
}

// readStream delivers messages from one partition stream in order
func (t *StreamsTransport) readStream(ctx context.Context, streamKey string, handler ports.MessageHandler) {
	lastClaim := time.Time{}
	for {
		if ctx.Err() != nil {
			return
		}

		if time.Since(lastClaim) >= t.opts.ClaimIdle {
			t.reclaim(ctx, streamKey, handler)
			lastClaim = time.Now()
		}

		streams, err := t.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    t.opts.ConsumerGroup,
			Consumer: t.opts.ConsumerName,
			Streams:  []string{streamKey, ">"},
			Count:    t.opts.BatchSize,
			Block:    t.opts.Block,
		}).Result()

		if err != nil {
			if errors.Is(err, redis.Nil) {
				// No new messages
				continue
			}
			if ctx.Err() != nil {
				return
			}
			t.logger.Error("failed to read from stream",
				zap.String("stream", streamKey),
				zap.Error(err))
			sleepCtx(ctx, time.Second)
			continue
		}

		for _, stream := range streams {
			for _, message := range stream.Messages {
				t.processMessage(ctx, streamKey, message, handler)
			}
		}
	}
}

// reclaim takes over messages other consumers left unacked for too long
func (t *StreamsTransport) reclaim(ctx context.Context, streamKey string, handler ports.MessageHandler) {
	start := "0-0"
	for {
		messages, next, err := t.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   streamKey,
			Group:    t.opts.ConsumerGroup,
			Consumer: t.opts.ConsumerName,
			MinIdle:  t.opts.ClaimIdle,
			Start:    start,
			Count:    t.opts.BatchSize,
		}).Result()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, redis.Nil) {
				t.logger.Warn("failed to reclaim pending messages",
					zap.String("stream", streamKey),
					zap.Error(err))
			}
			return
		}

		if len(messages) > 0 {
			t.logger.Info("reclaimed pending messages",
				zap.String("stream", streamKey),
				zap.Int("count", len(messages)))
		}
		for _, message := range messages {
			t.processMessage(ctx, streamKey, message, handler)
		}

		if next == "" || next == "0-0" || len(messages) == 0 {
			return
		}
		start = next
	}
}

// processMessage hands a single stream entry to the handler
func (t *StreamsTransport) processMessage(ctx context.Context, streamKey string, message redis.XMessage, handler ports.MessageHandler) {
	data, ok := message.Values["data"].(string)
	if !ok {
		t.logger.Error("invalid message format",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID))
		t.ack(context.WithoutCancel(ctx), streamKey, message.ID)
		return
	}
	key, _ := message.Values["key"].(string)

	id := message.ID
	handler(ctx, ports.Message{
		ID:   id,
		Key:  key,
		Body: []byte(data),
		Ack: func(ctx context.Context) error {
			return t.ack(ctx, streamKey, id)
		},
	})
}

func (t *StreamsTransport) ack(ctx context.Context, streamKey, id string) error {
	if err := t.client.XAck(ctx, streamKey, t.opts.ConsumerGroup, id).Err(); err != nil {
		t.logger.Error("failed to acknowledge message",
			zap.String("stream", streamKey),
			zap.String("message_id", id),
			zap.Error(err))
		return fmt.Errorf("failed to acknowledge message: %w", err)
	}
	return nil
}

// Close waits for partition readers to stop. Subscriptions end when their
// context is cancelled; the Redis client is closed by the caller.
func (t *StreamsTransport) Close() error {
	t.wg.Wait()
	return nil
}

func (t *StreamsTransport) partition(key string) int {
	if t.opts.Partitions <= 1 {
		return 0
	}
	return int(xxhash.Sum64String(key) % uint64(t.opts.Partitions))
}

// getStreamKey returns the Redis stream key for a topic partition
func getStreamKey(topic string, partition int) string {
	return fmt.Sprintf("newsroom:events:%s:%d", topic, partition)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
