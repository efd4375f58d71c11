package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/networkup/chat/internal/logger"
)

// RequestLog логирует каждый HTTP-запрос: method, route, status и время выполнения.
// На уровне info пишутся только медленные (>=100ms) запросы и ответы 5xx.
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrap := wrapWriter(w)
		next.ServeHTTP(wrap, r)

		elapsed := time.Since(start)
		l := logger.Log()
		ev := l.Debug()
		switch {
		case wrap.status >= http.StatusInternalServerError:
			ev = l.Error()
		case elapsed >= 100*time.Millisecond:
			ev = l.Info()
		}
		ev.Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrap.status).
			Int64("duration_ms", elapsed.Milliseconds()).
			Str("request_id", chimw.GetReqID(r.Context())).
			Int64("identity", GetIdentityID(r.Context())).
			Msg("http request")
	})
}
