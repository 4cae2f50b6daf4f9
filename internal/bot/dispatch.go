package bot

import (
	"context"
	"sync"

	"nitrobot/internal/domain"
)

// DefaultConcurrency caps how many events are processed at once.
const DefaultConcurrency = 8

// Run processes events until ctx is cancelled or events is closed, each in
// its own goroutine, at most Concurrency at a time. It returns once every
// started event has finished.
func (o *Orchestrator) Run(ctx context.Context, events <-chan domain.Event) {
	o.logger.Info("dispatcher started", "concurrency", o.concurrency)

	var wg sync.WaitGroup
	defer wg.Wait()

	sem := make(chan struct{}, o.concurrency)
	for {
		select {
		case <-ctx.Done():
			o.logger.Info("dispatcher stopping")
			return
		case evt, ok := <-events:
			if !ok {
				o.logger.Info("event stream closed, dispatcher stopping")
				return
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			wg.Add(1)
			go func(e domain.Event) {
				defer wg.Done()
				defer func() { <-sem }()
				o.Dispatch(ctx, e)
			}(evt)
		}
	}
}

// Dispatch handles one event synchronously.
func (o *Orchestrator) Dispatch(ctx context.Context, evt domain.Event) {
	var err error
	switch {
	case evt.Message != nil && evt.Channel != nil:
		err = o.HandleMessage(ctx, evt.BotID, *evt.Message, evt.Channel)
	case evt.Command != nil && evt.Responder != nil:
		err = o.HandleCommand(ctx, *evt.Command, evt.Responder)
	default:
		o.logger.Warn("dropping incomplete event", "platform", evt.Platform)
		return
	}
	if err != nil {
		o.logger.Error("event handling failed", "platform", evt.Platform, "err", err)
	}
}
