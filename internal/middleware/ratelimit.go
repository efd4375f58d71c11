package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"
)

const rateLimitWindow = time.Minute

// RateLimitByIP ограничивает запросы к /api/* по IP клиента. 429 при превышении.
func RateLimitByIP(perMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(perMinute, rateLimitWindow,
		httprate.WithKeyFuncs(httprate.KeyByRealIP),
		httprate.WithLimitHandler(tooManyRequests),
	)
}

// RateLimitByIdentity ограничивает запросы по id пользователя; ставится после Identity.
func RateLimitByIdentity(perMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(perMinute, rateLimitWindow,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return "u:" + strconv.FormatInt(GetIdentityID(r.Context()), 10), nil
		}),
		httprate.WithLimitHandler(tooManyRequests),
	)
}

func tooManyRequests(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = w.Write([]byte(`{"error":"too many requests"}` + "\n"))
}
