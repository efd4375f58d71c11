package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/goccy/go-json"
	"github.com/networkup/chat/internal/logger"
	"github.com/networkup/chat/internal/metrics"
	"github.com/redis/go-redis/v9"
)

const DefaultChannel = "chat:rooms"

// Redis fans envelopes out over a single pub/sub channel. One channel keeps the publish order
// of a process intact for every subscriber.
type Redis struct {
	rdb     *redis.Client
	channel string

	mu      sync.RWMutex
	handler Handler
}

func NewRedis(rdb *redis.Client, channel string) *Redis {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Redis{rdb: rdb, channel: channel}
}

func (r *Redis) SetHandler(h Handler) {
	r.mu.Lock()
	r.handler = h
	r.mu.Unlock()
}

func (r *Redis) Publish(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		metrics.RelayErrors.WithLabelValues("encode").Inc()
		return fmt.Errorf("relay.Publish encode: %w", err)
	}
	if err := r.rdb.Publish(ctx, r.channel, data).Err(); err != nil {
		metrics.RelayErrors.WithLabelValues("publish").Inc()
		return fmt.Errorf("relay.Publish: %w", err)
	}
	return nil
}

// Serve subscribes to the channel and hands every envelope to the handler. It returns an error
// when the subscription breaks so the supervisor restarts it.
func (r *Redis) Serve(ctx context.Context) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("relay.Serve subscribe %s: %w", r.channel, err)
	}
	logger.Infof("relay: subscribed to %s", r.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("relay.Serve: subscription channel closed")
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				metrics.RelayErrors.WithLabelValues("decode").Inc()
				logger.Errorf("relay: decode envelope: %v", err)
				continue
			}
			r.mu.RLock()
			h := r.handler
			r.mu.RUnlock()
			if h != nil {
				h(env)
			}
		}
	}
}

func (r *Redis) String() string { return "relay.Redis(" + r.channel + ")" }
