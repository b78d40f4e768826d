package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/amoylab/authcore/internal/common/config"
	"github.com/amoylab/authcore/internal/common/uow"
)

const (
	fieldOrigin = "origin"
	fieldEvents = "events"
)

// RedisNotifier implements Notifier using a Redis stream. Every instance
// reads the stream independently, so all of them see every batch.
type RedisNotifier struct {
	logger *zap.Logger
	client *redis.Client
	stream string
	origin string
	block  time.Duration
}

// NewRedisNotifier creates a new Redis-based notifier
func NewRedisNotifier(logger *zap.Logger, cfg *config.RedisConfig, stream string) (*RedisNotifier, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisNotifier{
		logger: logger.Named("auth.notifier"),
		client: client,
		stream: stream,
		origin: uuid.NewString(),
		block:  time.Second,
	}, nil
}

// Origin identifies this instance in published messages
func (r *RedisNotifier) Origin() string {
	return r.origin
}

// Watch implements Notifier.Watch. Messages published by this instance are
// skipped. Reading starts after the newest entry present when Watch is
// called.
func (r *RedisNotifier) Watch(ctx context.Context) (<-chan []uow.Event, error) {
	lastID := "0"
	latest, err := r.client.XRevRangeN(ctx, r.stream, "+", "-", 1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read stream position: %w", err)
	}
	if len(latest) > 0 {
		lastID = latest[0].ID
	}

	ch := make(chan []uow.Event, 10)
	go func() {
		defer close(ch)
		for ctx.Err() == nil {
			streams, err := r.client.XRead(ctx, &redis.XReadArgs{
				Streams: []string{r.stream, lastID},
				Count:   10,
				Block:   r.block,
			}).Result()
			if err != nil {
				if ctx.Err() == nil && !errors.Is(err, redis.Nil) {
					r.logger.Error("failed to read from stream", zap.Error(err))
					select {
					case <-ctx.Done():
					case <-time.After(r.block):
					}
				}
				continue
			}

			for _, stream := range streams {
				for _, msg := range stream.Messages {
					lastID = msg.ID
					events, ok := r.decode(msg)
					if !ok {
						continue
					}
					select {
					case ch <- events:
						r.logger.Debug("change notification received",
							zap.String("message_id", msg.ID), zap.Int("events", len(events)))
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return ch, nil
}

func (r *RedisNotifier) decode(msg redis.XMessage) ([]uow.Event, bool) {
	if origin, _ := msg.Values[fieldOrigin].(string); origin == r.origin {
		return nil, false
	}
	raw, _ := msg.Values[fieldEvents].(string)
	var events []uow.Event
	if err := json.Unmarshal([]byte(raw), &events); err != nil {
		r.logger.Error("failed to unmarshal events",
			zap.String("message_id", msg.ID), zap.Error(err))
		return nil, false
	}
	return events, len(events) > 0
}

// Notify implements Notifier.Notify
func (r *RedisNotifier) Notify(ctx context.Context, events []uow.Event) error {
	if len(events) == 0 {
		return nil
	}
	data, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("failed to marshal events: %w", err)
	}

	// Receivers reload the whole catalog, so older entries can be trimmed.
	err = r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		MaxLen: 100,
		Values: map[string]any{
			fieldOrigin: r.origin,
			fieldEvents: string(data),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to add message to stream: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (r *RedisNotifier) Close() error {
	return r.client.Close()
}
