package main

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/networkup/chat/internal/config"
	"github.com/networkup/chat/internal/handler"
	"github.com/networkup/chat/internal/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type routes struct {
	conversations *handler.ConversationHandler
	identities    *handler.IdentityHandler
	push          *handler.PushHandler
	config        *handler.ConfigHandler
	ws            *handler.WSHandler
}

func newRouter(cfg *config.Config, h routes) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.RequestID)
	r.Use(middleware.RecoverJSON)
	// Не сжимать WebSocket: иначе ResponseWriter не реализует http.Hijacker и upgrade даёт 500.
	compress := chimw.Compress(5)
	r.Use(func(next http.Handler) http.Handler {
		compressed := compress(next)
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			compressed.ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   splitOrigins(cfg.CORSAllowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", middleware.IdentityHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })
	r.With(middleware.InternalOnly).Handle("/metrics", promhttp.Handler())
	r.Get("/ws", h.ws.ServeWS)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(cfg.RateLimitPerMinute))
		r.Get("/config/push", h.config.GetPushConfig)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Identity)
			r.Use(middleware.RateLimitByIdentity(cfg.RateLimitPerMinute))
			r.Get("/conversations", h.conversations.List)
			r.Post("/conversations/individual", h.conversations.CreateIndividual)
			r.Post("/conversations/group", h.conversations.CreateGroup)
			r.Get("/conversations/{id}/messages", h.conversations.Messages)
			r.Get("/identities/search", h.identities.Search)
			r.Post("/push/subscribe", h.push.Subscribe)
			r.Delete("/push/subscribe", h.push.Unsubscribe)
		})
	})
	return r
}

func splitOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
