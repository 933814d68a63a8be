package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Relay mirrors events between processes.
type Relay interface {
	Publish(ctx context.Context, env Envelope) error
	// Subscribe calls fn for every event published by other processes until
	// ctx is done.
	Subscribe(ctx context.Context, fn func(Envelope)) error
}

// RedisRelay shares push events over a Redis pub/sub channel so a second
// client process on the same account (a CLI next to the TUI, say) sees them
// without opening its own socket.
type RedisRelay struct {
	rdb     *redis.Client
	channel string
	origin  string
	log     *zap.Logger
}

type relayFrame struct {
	Origin   string   `json:"origin"`
	Envelope Envelope `json:"envelope"`
}

func NewRedisRelay(rdb *redis.Client, channel string, log *zap.Logger) *RedisRelay {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisRelay{rdb: rdb, channel: channel, origin: uuid.NewString(), log: log}
}

func (r *RedisRelay) Publish(ctx context.Context, env Envelope) error {
	b, err := json.Marshal(relayFrame{Origin: r.origin, Envelope: env})
	if err != nil {
		return err
	}
	if err := r.rdb.Publish(ctx, r.channel, b).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (r *RedisRelay) Subscribe(ctx context.Context, fn func(Envelope)) error {
	pubsub := r.rdb.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe %s: %w", r.channel, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var f relayFrame
			if err := json.Unmarshal([]byte(msg.Payload), &f); err != nil {
				r.log.Debug("relay_frame_ignored", zap.Error(err))
				continue
			}
			if f.Origin == r.origin {
				continue
			}
			fn(f.Envelope)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
