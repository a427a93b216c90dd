package messaging

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/campus-hub/querysync/internal/domain/shared"
	ks "github.com/campus-hub/querysync/internal/querycache/keyspace"
	"github.com/campus-hub/querysync/internal/querycache/mutation"
	"github.com/campus-hub/querysync/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// QUERY INVALIDATION BROADCAST
// ══════════════════════════════════════════════════════════════════════════════

// BroadcastHook publishes every local invalidation on bus.
func BroadcastHook(bus Bus) mutation.Hook {
	return mutation.HookFunc{
		HookName: "broadcast",
		Fn: func(ctx context.Context, inv mutation.Invalidation) error {
			if len(inv.Prefixes) == 0 {
				return nil
			}
			ev := shared.NewQueryInvalidatedEvent(string(inv.Entity), string(inv.Op), inv.RecordID, ks.Raw(inv.Prefixes))
			return bus.Publish(ctx, ev)
		},
	}
}

// RemoteApplier replays invalidations that happened on another instance.
// *mutation.Dispatcher implements it.
type RemoteApplier interface {
	ApplyRemote(ctx context.Context, prefixes []ks.QueryKey) error
}

// InvalidationHandler applies query.invalidated events that came from
// another instance. Local events are skipped; the dispatcher that
// published them has already invalidated.
func InvalidationHandler(applier RemoteApplier, log *logger.Logger) Handler {
	if log == nil {
		log = logger.Nop()
	}
	return func(ctx context.Context, event shared.Event) error {
		remote, ok := event.(RemoteEvent)
		if !ok || remote.Origin() == "" {
			return nil
		}
		keys := shared.KeysFromPayload(event.Payload())
		if len(keys) == 0 {
			return nil
		}
		log.Debug("applying remote invalidation",
			logger.String("origin", remote.Origin()),
			logger.InvalidatedCount(len(keys)),
		)
		return applier.ApplyRemote(ctx, ks.Keys(keys))
	}
}

// AuditHandler logs mutation outcomes published on the bus.
func AuditHandler(log *logger.Logger) Handler {
	return func(_ context.Context, event shared.Event) error {
		p := event.Payload()
		fields := []logger.Field{
			logger.String("event_type", string(event.EventType())),
			logger.String("record_id", event.AggregateID()),
			logger.Any("entity", p["entity"]),
			logger.Any("op", p["op"]),
		}
		if actor, _ := p["actor"].(string); actor != "" {
			fields = append(fields, logger.Actor(actor))
		}
		if msg, _ := p["error"].(string); msg != "" {
			fields = append(fields, logger.String("error", msg))
		}
		log.Info("mutation settled", fields...)
		return nil
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// GO-REDIS ADAPTER
// ══════════════════════════════════════════════════════════════════════════════

// GoRedisClient adapts a go-redis client to RedisClient.
type GoRedisClient struct {
	client *goredis.Client
}

// NewGoRedisClient wraps client.
func NewGoRedisClient(client *goredis.Client) *GoRedisClient {
	return &GoRedisClient{client: client}
}

// Publish implements RedisClient.
func (c *GoRedisClient) Publish(ctx context.Context, channel string, payload []byte) error {
	return c.client.Publish(ctx, channel, payload).Err()
}

// Subscribe implements RedisClient. The subscription is confirmed before
// returning so no message published afterwards is missed. The channel is
// closed when ctx is done.
func (c *GoRedisClient) Subscribe(ctx context.Context, channels ...string) (<-chan RedisMessage, error) {
	pubsub := c.client.Subscribe(ctx, channels...)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %v: %w", channels, err)
	}

	out := make(chan RedisMessage)
	go func() {
		defer close(out)
		defer pubsub.Close()

		in := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					select {
					case out <- RedisMessage{Err: errors.New("subscription closed")}:
					case <-ctx.Done():
					}
					return
				}
				select {
				case out <- RedisMessage{Channel: msg.Channel, Payload: msg.Payload}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
