package middleware

import "context"

type contextKey string

const IdentityIDKey contextKey = "identity_id"

// GetIdentityID возвращает id пользователя из контекста (устанавливается Identity). 0: не задан.
func GetIdentityID(ctx context.Context) int64 {
	v, _ := ctx.Value(IdentityIDKey).(int64)
	return v
}

func WithIdentityID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, IdentityIDKey, id)
}
