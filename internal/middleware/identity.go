package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

// IdentityHeader is set by the upstream auth gateway after it validated the session.
const IdentityHeader = "X-Identity-Id"

// Identity кладёт id вызывающего пользователя из заголовка X-Identity-Id в контекст. 401 без него.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(IdentityHeader))
		id, err := strconv.ParseInt(raw, 10, 64)
		if raw == "" || err != nil || id <= 0 {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentityID(r.Context(), id)))
	})
}
