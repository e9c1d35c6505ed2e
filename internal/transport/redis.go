package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBus implements Bus over redis pub/sub: one redis channel per room
// channel name, so every server instance attached to the same redis sees
// every event. Membership presence lives in a redis hash per room (see
// presence.go) because pub/sub itself keeps no state.
type RedisBus struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewRedisBus(redisURL string, logger *zap.Logger) (*RedisBus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisBus{rdb: rdb, logger: logger}, nil
}

func (b *RedisBus) Close() error {
	return b.rdb.Close()
}

// Client exposes the underlying connection for the presence store.
func (b *RedisBus) Client() *redis.Client {
	return b.rdb
}

func (b *RedisBus) Publish(ctx context.Context, channel string, ev Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.rdb.Publish(ctx, channel, raw).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, channel string) (<-chan Event, func(), error) {
	sub := b.rdb.Subscribe(ctx, channel)

	// Receive confirms the subscription is actually established before
	// we report success; otherwise a publish racing the subscribe is
	// silently lost on top of the transport's usual at-most-once.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("redis subscribe: %w", err)
	}

	out := make(chan Event, 64)
	var once sync.Once
	stop := func() {
		once.Do(func() { _ = sub.Close() })
	}

	go func() {
		defer close(out)
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				stop()
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
					b.logger.Warn("bad event payload on bus",
						zap.String("channel", channel), zap.Error(err))
					continue
				}
				if _, err := ev.Decode(); err != nil {
					b.logger.Warn("dropping invalid event",
						zap.String("channel", channel), zap.Error(err))
					continue
				}
				select {
				case out <- ev:
				default:
					// Local fan-out saturated; drop rather than block
					// the subscriber goroutine.
				}
			}
		}
	}()

	return out, stop, nil
}
