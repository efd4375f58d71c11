package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/networkup/chat/internal/logger"
)

const maxBackoff = 30 * time.Second

// retry вызывает attempt до успеха, пока не истечёт maxWait или ctx. Backoff 2s, удваивается до 30s.
func retry(ctx context.Context, what string, maxWait time.Duration, attempt func(context.Context) error) error {
	deadline := time.Now().Add(maxWait)
	backoff := 2 * time.Second
	for {
		err := attempt(ctx)
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%s (gave up after %v): %w", what, maxWait, err)
		}
		logger.Log().Error().Err(err).Str("target", what).Dur("retry_in", backoff).Msg("connect failed")
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", what, ctx.Err())
		case <-time.After(backoff):
		}
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}
