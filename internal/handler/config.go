package handler

import "net/http"

type pushKeyProvider interface {
	Enabled() bool
	PublicKey() string
}

// ConfigHandler отдаёт публичные параметры конфигурации клиенту.
type ConfigHandler struct {
	push pushKeyProvider
}

func NewConfigHandler(push pushKeyProvider) *ConfigHandler {
	return &ConfigHandler{push: push}
}

// GetPushConfig возвращает публичный VAPID-ключ для подписки на пуши (если включены).
func (h *ConfigHandler) GetPushConfig(w http.ResponseWriter, r *http.Request) {
	if h.push == nil || !h.push.Enabled() {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":        true,
		"vapidPublicKey": h.push.PublicKey(),
	})
}
