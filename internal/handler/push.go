package handler

import (
	"context"
	"net/http"

	"github.com/networkup/chat/internal/logger"
	"github.com/networkup/chat/internal/middleware"
	"github.com/networkup/chat/internal/storage"
)

type PushSubscriber interface {
	Subscribe(ctx context.Context, identityID int64, sub storage.Subscription) error
	Unsubscribe(ctx context.Context, identityID int64, endpoint string) error
}

// PushHandler обрабатывает подписку на пуш-уведомления текущего пользователя.
type PushHandler struct {
	subs PushSubscriber
}

func NewPushHandler(subs PushSubscriber) *PushHandler {
	return &PushHandler{subs: subs}
}

// SubscribeRequest: тело от фронта (subscription из PushManager.getSubscription()).
type SubscribeRequest struct {
	Subscription storage.Subscription `json:"subscription"`
}

func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req SubscribeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	me := middleware.GetIdentityID(r.Context())
	if err := h.subs.Subscribe(r.Context(), me, req.Subscription); err != nil {
		logger.Errorf("push subscribe identity=%d: %v", me, err)
		writeError(w, http.StatusInternalServerError, "failed to subscribe")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UnsubscribeRequest: тело для отписки по endpoint.
type UnsubscribeRequest struct {
	Endpoint string `json:"endpoint" validate:"required"`
}

func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	var req UnsubscribeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	me := middleware.GetIdentityID(r.Context())
	if err := h.subs.Unsubscribe(r.Context(), me, req.Endpoint); err != nil {
		logger.Errorf("push unsubscribe identity=%d: %v", me, err)
		writeError(w, http.StatusInternalServerError, "failed to unsubscribe")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
