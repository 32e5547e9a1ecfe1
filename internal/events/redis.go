package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisFeed distributes change events between processes over redis pub/sub.
// Events published by any instance reach the local subscribers of every
// instance once Start has been called.
type RedisFeed struct {
	rdb    *redis.Client
	prefix string
	bus    *Bus
	logger *zerolog.Logger
}

// NewRedisFeed creates a feed publishing on channels "<prefix><table>".
func NewRedisFeed(rdb *redis.Client, prefix string, logger *zerolog.Logger) *RedisFeed {
	if prefix == "" {
		prefix = "homebooking:changes:"
	}
	return &RedisFeed{rdb: rdb, prefix: prefix, bus: NewBus(), logger: logger}
}

// Subscribe registers a local handler.
func (f *RedisFeed) Subscribe(table, organizationID string, handler Handler) (func(), error) {
	return f.bus.Subscribe(table, organizationID, handler)
}

// Publish sends event to every instance, including this one.
func (f *RedisFeed) Publish(ctx context.Context, event ChangeEvent) error {
	Stamp(&event)
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal change event: %w", err)
	}
	if err := f.rdb.Publish(ctx, f.prefix+event.Table, data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Start subscribes to the change channels and forwards messages to local
// handlers until ctx is done.
func (f *RedisFeed) Start(ctx context.Context) error {
	ps := f.rdb.PSubscribe(ctx, f.prefix+"*")
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("redis psubscribe: %w", err)
	}

	ch := ps.Channel()
	go func() {
		defer ps.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var event ChangeEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					f.logger.Warn().Err(err).Str("channel", msg.Channel).Msg("drop malformed change event")
					continue
				}
				if event.Table == "" {
					event.Table = strings.TrimPrefix(msg.Channel, f.prefix)
				}
				_ = f.bus.Publish(ctx, event)
			}
		}
	}()
	return nil
}
