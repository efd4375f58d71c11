package memory

import (
	"context"
	"sync"
	"time"

	"github.com/networkup/chat/internal/storage"
)

type entry struct {
	subs []storage.Subscription
	exp  time.Time
}

// Client: in-process SubscriptionStore для STORE=memory и тестов.
type Client struct {
	mu   sync.RWMutex
	data map[int64]entry
	now  func() time.Time
}

func New() *Client {
	return &Client{data: make(map[int64]entry), now: time.Now}
}

func (c *Client) Close() error { return nil }

func (c *Client) Add(ctx context.Context, identityID int64, sub storage.Subscription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur := c.live(identityID)
	kept := make([]storage.Subscription, 0, len(cur)+1)
	for _, s := range cur {
		if s.Endpoint != sub.Endpoint {
			kept = append(kept, s)
		}
	}
	kept = append(kept, sub)
	if n := len(kept) - storage.MaxSubscriptionsPerIdentity; n > 0 {
		kept = kept[n:]
	}
	c.data[identityID] = entry{subs: kept, exp: c.now().Add(storage.SubscriptionTTL)}
	return nil
}

func (c *Client) Remove(ctx context.Context, identityID int64, endpoint string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur := c.live(identityID)
	kept := make([]storage.Subscription, 0, len(cur))
	for _, s := range cur {
		if s.Endpoint != endpoint {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		delete(c.data, identityID)
		return nil
	}
	e := c.data[identityID]
	e.subs = kept
	c.data[identityID] = e
	return nil
}

func (c *Client) List(ctx context.Context, identityID int64) ([]storage.Subscription, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cur := c.live(identityID)
	out := make([]storage.Subscription, len(cur))
	copy(out, cur)
	return out, nil
}

// live returns the unexpired list; caller holds mu.
func (c *Client) live(identityID int64) []storage.Subscription {
	e, ok := c.data[identityID]
	if !ok || c.now().After(e.exp) {
		return nil
	}
	return e.subs
}
