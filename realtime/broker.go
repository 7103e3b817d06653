package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/jayykioh/TRAVYY-touring-website-sub000/model"
)

const eventsChannel = "nego:events"

// RedisBroker relays events between service instances. Every instance
// publishes to one Redis channel and delivers what it receives to its own
// hub, so an event reaches local subscribers exactly through one path.
type RedisBroker struct {
	client *redis.Client
	hub    *Hub
	logger zerolog.Logger
}

func NewRedisBroker(client *redis.Client, hub *Hub, logger zerolog.Logger) *RedisBroker {
	return &RedisBroker{client: client, hub: hub, logger: logger.With().Str("component", "broker").Logger()}
}

// Publish sends ev to every instance. If Redis is unreachable the event is
// still delivered locally and the error is returned.
func (b *RedisBroker) Publish(ctx context.Context, ev model.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := b.client.Publish(ctx, eventsChannel, payload).Err(); err != nil {
		b.hub.Deliver(ev)
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Run subscribes and feeds the local hub until ctx is done. ready, when not
// nil, is closed once the subscription is confirmed.
func (b *RedisBroker) Run(ctx context.Context, ready chan<- struct{}) error {
	sub := b.client.Subscribe(ctx, eventsChannel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}
	if ready != nil {
		close(ready)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev model.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.logger.Warn().Err(err).Msg("drop undecodable event")
				continue
			}
			b.hub.Deliver(ev)
		}
	}
}
