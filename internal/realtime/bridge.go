package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/table-reservation/internal/notify"
)

// RedisBridge shares broadcasts between server instances.  Publish sends
// envelopes to a Redis channel and Run delivers everything on that channel
// to the local hub, including this instance's own messages, so the service
// should publish to the bridge instead of the hub when one is configured.
type RedisBridge struct {
	rdb     *redis.Client
	channel string
	local   *Hub
}

// NewRedisBridge connects hub to channel on rdb.
func NewRedisBridge(rdb *redis.Client, channel string, hub *Hub) *RedisBridge {
	return &RedisBridge{rdb: rdb, channel: channel, local: hub}
}

// Publish implements notify.Publisher.
func (b *RedisBridge) Publish(ctx context.Context, topic notify.Topic, event string, payload any) error {
	env, err := notify.NewEnvelope(topic, event, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := b.rdb.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", b.channel, err)
	}
	return nil
}

// Run relays the Redis channel into the hub until ctx is cancelled.
func (b *RedisBridge) Run(ctx context.Context) error {
	sub := b.rdb.Subscribe(ctx, b.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe %s: %w", b.channel, err)
	}
	log.Printf("[bridge] listening on redis channel %q", b.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("redis channel %s closed", b.channel)
			}
			env, err := decodeEnvelope(msg.Payload)
			if err != nil {
				log.Printf("[bridge] dropping message: %v", err)
				continue
			}
			if err := b.local.Deliver(ctx, env); err != nil {
				return err
			}
		}
	}
}

func decodeEnvelope(payload string) (notify.Envelope, error) {
	var env notify.Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return env, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Event == "" {
		return env, fmt.Errorf("envelope without event")
	}
	return env, nil
}
