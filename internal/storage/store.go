package storage

import (
	"context"
	"time"
)

// Лимиты подписок Web Push на пользователя (как в push-сервисе).
const (
	MaxSubscriptionsPerIdentity = 10
	SubscriptionTTL             = 30 * 24 * time.Hour
)

// Subscription: подписка из браузера (PushManager.subscribe()).
type Subscription struct {
	Endpoint string `json:"endpoint" validate:"required,url"`
	Keys     Keys   `json:"keys"`
}

type Keys struct {
	P256dh string `json:"p256dh" validate:"required"`
	Auth   string `json:"auth" validate:"required"`
}

// SubscriptionStore: хранилище push-подписок по identity.
// Реализации: redis.Client, memory.Client (для -dev без Redis).
type SubscriptionStore interface {
	// Add appends sub, replacing an existing entry with the same endpoint; only the newest
	// MaxSubscriptionsPerIdentity are kept.
	Add(ctx context.Context, identityID int64, sub Subscription) error
	Remove(ctx context.Context, identityID int64, endpoint string) error
	List(ctx context.Context, identityID int64) ([]Subscription, error)
	Close() error
}
