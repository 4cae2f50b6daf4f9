package bot

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"nitrobot/internal/domain"
)

// startTyping shows the typing indicator right away and refreshes it every
// interval until the returned stop func is called. Send failures are
// logged and otherwise ignored. stop waits for the loop to exit and is safe
// to call more than once.
func startTyping(ctx context.Context, ts domain.TypingSender, interval time.Duration, logger *slog.Logger) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	send := func() {
		if err := ts.SendTyping(ctx); err != nil && ctx.Err() == nil {
			logger.Debug("typing indicator failed", "err", err)
		}
	}

	go func() {
		defer close(done)
		send()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				send()
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}
