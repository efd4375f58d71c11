package push

import (
	"context"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/goccy/go-json"
	"github.com/networkup/chat/internal/logger"
	"github.com/networkup/chat/internal/metrics"
	"github.com/networkup/chat/internal/storage"
)

const notificationTTL = 30

type sendFunc func(ctx context.Context, payload []byte, sub *webpush.Subscription, opts *webpush.Options) (*http.Response, error)

// Notifier рассылает Web Push по всем подпискам пользователя.
// Без VAPID-ключей подписки сохраняются, отправка не выполняется.
type Notifier struct {
	subs  storage.SubscriptionStore
	vapid *webpush.Options
	send  sendFunc
}

// NewNotifier создаёт отправителя. keys == nil: пуши отключены.
func NewNotifier(subs storage.SubscriptionStore, keys *VAPIDKeys, subscriber string) *Notifier {
	n := &Notifier{subs: subs, send: webpush.SendNotificationWithContext}
	if keys != nil && keys.PublicKey != "" && keys.PrivateKey != "" {
		n.vapid = &webpush.Options{
			Subscriber:      subscriber,
			VAPIDPublicKey:  keys.PublicKey,
			VAPIDPrivateKey: keys.PrivateKey,
			TTL:             notificationTTL,
		}
	}
	return n
}

// Enabled reports whether notifications are actually sent.
func (n *Notifier) Enabled() bool { return n.vapid != nil }

// PublicKey возвращает VAPID public key для фронта ("" если пуши выключены).
func (n *Notifier) PublicKey() string {
	if n.vapid == nil {
		return ""
	}
	return n.vapid.VAPIDPublicKey
}

func (n *Notifier) Subscribe(ctx context.Context, identityID int64, sub storage.Subscription) error {
	return n.subs.Add(ctx, identityID, sub)
}

func (n *Notifier) Unsubscribe(ctx context.Context, identityID int64, endpoint string) error {
	return n.subs.Remove(ctx, identityID, endpoint)
}

type notification struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Notify отправляет пуш пользователю. Подписки, ответившие 404/410, удаляются.
func (n *Notifier) Notify(ctx context.Context, identityID int64, title, body string, data map[string]string) {
	if n.vapid == nil {
		return
	}
	subs, err := n.subs.List(ctx, identityID)
	if err != nil {
		logger.Errorf("push: list subscriptions identity=%d: %v", identityID, err)
		metrics.PushNotifications.WithLabelValues("error").Inc()
		return
	}
	if len(subs) == 0 {
		return
	}
	payload, err := json.Marshal(notification{Title: title, Body: body, Data: data})
	if err != nil {
		logger.Errorf("push: encode: %v", err)
		return
	}
	for _, s := range subs {
		wp := &webpush.Subscription{
			Endpoint: s.Endpoint,
			Keys:     webpush.Keys{P256dh: s.Keys.P256dh, Auth: s.Keys.Auth},
		}
		resp, err := n.send(ctx, payload, wp, n.vapid)
		if err != nil {
			logger.Errorf("push: send %s: %v", shortEndpoint(s.Endpoint), err)
			metrics.PushNotifications.WithLabelValues("error").Inc()
			continue
		}
		resp.Body.Close()
		switch {
		case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
			metrics.PushNotifications.WithLabelValues("expired").Inc()
			if err := n.subs.Remove(ctx, identityID, s.Endpoint); err != nil {
				logger.Errorf("push: remove expired identity=%d: %v", identityID, err)
			}
		case resp.StatusCode >= http.StatusBadRequest:
			logger.Errorf("push: send %s: status %d", shortEndpoint(s.Endpoint), resp.StatusCode)
			metrics.PushNotifications.WithLabelValues("error").Inc()
		default:
			metrics.PushNotifications.WithLabelValues("sent").Inc()
		}
	}
}

func shortEndpoint(e string) string {
	return e[:min(50, len(e))]
}
