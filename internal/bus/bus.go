// Package bus carries inbound events from platform adapters to the
// dispatcher.
package bus

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"nitrobot/internal/domain"
)

const (
	defaultBufferSize     = 100
	defaultPublishTimeout = 10 * time.Second
)

// InMemoryBus is a channel-backed domain.EventBus.
type InMemoryBus struct {
	events  chan domain.Event
	timeout time.Duration
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
	logger  *slog.Logger
}

// Config configures an InMemoryBus.
type Config struct {
	BufferSize     int
	PublishTimeout time.Duration
	Logger         *slog.Logger
}

// New creates an InMemoryBus.
func New(cfg Config) *InMemoryBus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &InMemoryBus{
		events:  make(chan domain.Event, cfg.BufferSize),
		timeout: cfg.PublishTimeout,
		logger:  cfg.Logger,
	}
}

// Publish enqueues evt. When the buffer is full it waits up to the publish
// timeout before dropping the event.
func (b *InMemoryBus) Publish(evt domain.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("attempted to publish to closed bus", "platform", evt.Platform)
		return
	}

	select {
	case b.events <- evt:
		return
	default:
	}

	b.logger.Warn("event bus full, waiting", "platform", evt.Platform)
	timer := time.NewTimer(b.timeout)
	defer timer.Stop()
	select {
	case b.events <- evt:
		b.logger.Info("event delivered after wait", "platform", evt.Platform)
	case <-timer.C:
		b.dropped.Add(1)
		b.logger.Error("event dropped: bus full", "platform", evt.Platform, "waited", b.timeout)
	}
}

// Subscribe returns the event stream. It is closed by Close.
func (b *InMemoryBus) Subscribe() <-chan domain.Event {
	return b.events
}

// Dropped reports how many events were dropped because the bus was full.
func (b *InMemoryBus) Dropped() uint64 {
	return b.dropped.Load()
}

// Len reports how many events are waiting.
func (b *InMemoryBus) Len() int {
	return len(b.events)
}

func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.events)
	}
}
