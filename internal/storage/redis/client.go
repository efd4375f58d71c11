package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/networkup/chat/internal/logger"
	"github.com/networkup/chat/internal/storage"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "push:subs:"

// Client хранит подписки в списке push:subs:{identity}, TTL продлевается при каждой записи.
type Client struct {
	cli *redis.Client
}

func New(cli *redis.Client) *Client {
	return &Client{cli: cli}
}

func key(identityID int64) string {
	return keyPrefix + strconv.FormatInt(identityID, 10)
}

// Close is a no-op: the redis client is shared with the relay and closed by its owner.
func (c *Client) Close() error { return nil }

// maxTxAttempts bounds optimistic retries when another writer touches the key between
// WATCH and EXEC.
const maxTxAttempts = 10

func (c *Client) Add(ctx context.Context, identityID int64, sub storage.Subscription) error {
	return c.update(ctx, identityID, func(list []storage.Subscription) []storage.Subscription {
		return withSubscription(list, sub)
	})
}

func (c *Client) Remove(ctx context.Context, identityID int64, endpoint string) error {
	return c.update(ctx, identityID, func(list []storage.Subscription) []storage.Subscription {
		return withoutEndpoint(list, endpoint)
	})
}

func (c *Client) List(ctx context.Context, identityID int64) ([]storage.Subscription, error) {
	raw, err := c.cli.LRange(ctx, key(identityID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("subscriptions list: %w", err)
	}
	return decodeList(identityID, raw), nil
}

// update читает список под WATCH и переписывает его в MULTI/EXEC. Если ключ изменился
// между чтением и EXEC, попытка повторяется.
func (c *Client) update(ctx context.Context, identityID int64, change func([]storage.Subscription) []storage.Subscription) error {
	k := key(identityID)
	txf := func(tx *redis.Tx) error {
		raw, err := tx.LRange(ctx, k, 0, -1).Result()
		if err != nil {
			return fmt.Errorf("subscriptions list: %w", err)
		}
		values, err := encodeList(trimmed(change(decodeList(identityID, raw))))
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, k)
			if len(values) > 0 {
				pipe.RPush(ctx, k, values...)
				pipe.Expire(ctx, k, storage.SubscriptionTTL)
			}
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := c.cli.Watch(ctx, txf, k)
		if err == nil {
			return nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return fmt.Errorf("subscriptions write: %w", err)
		}
		logger.Debugf("subscriptions: concurrent write identity=%d, retry %d", identityID, attempt+1)
	}
	return fmt.Errorf("subscriptions write: identity %d: %w after %d attempts", identityID, redis.TxFailedErr, maxTxAttempts)
}

func decodeList(identityID int64, raw []string) []storage.Subscription {
	subs := make([]storage.Subscription, 0, len(raw))
	for _, item := range raw {
		var s storage.Subscription
		if err := json.Unmarshal([]byte(item), &s); err != nil || s.Endpoint == "" {
			logger.Debugf("subscriptions: skip malformed entry identity=%d", identityID)
			continue
		}
		subs = append(subs, s)
	}
	return subs
}

func encodeList(subs []storage.Subscription) ([]any, error) {
	values := make([]any, 0, len(subs))
	for _, s := range subs {
		raw, err := json.Marshal(s)
		if err != nil {
			return nil, fmt.Errorf("subscriptions encode: %w", err)
		}
		values = append(values, string(raw))
	}
	return values, nil
}

// withSubscription moves sub to the end, replacing any entry with the same endpoint.
func withSubscription(list []storage.Subscription, sub storage.Subscription) []storage.Subscription {
	kept := withoutEndpoint(list, sub.Endpoint)
	return append(kept, sub)
}

func withoutEndpoint(list []storage.Subscription, endpoint string) []storage.Subscription {
	kept := make([]storage.Subscription, 0, len(list)+1)
	for _, s := range list {
		if s.Endpoint != endpoint {
			kept = append(kept, s)
		}
	}
	return kept
}

// trimmed keeps the newest MaxSubscriptionsPerIdentity entries.
func trimmed(subs []storage.Subscription) []storage.Subscription {
	if n := len(subs) - storage.MaxSubscriptionsPerIdentity; n > 0 {
		return subs[n:]
	}
	return subs
}
