package domain

import (
	"context"
	"errors"
)

var (
	// ErrHistoryUnsupported is returned by platforms that cannot read back
	// earlier messages of a channel.
	ErrHistoryUnsupported = errors.New("channel history not supported")

	// ErrThreadUnsupported is returned when a thread cannot be started from a reply.
	ErrThreadUnsupported = errors.New("threads not supported")
)

// HistoryFetcher reads earlier messages of a channel.
type HistoryFetcher interface {
	// FetchBefore returns up to limit messages posted before beforeID, newest
	// first. An empty beforeID fetches the most recent messages.
	FetchBefore(ctx context.Context, beforeID string, limit int) ([]InboundMessage, error)
}

// TypingSender shows a "still working" indicator.
type TypingSender interface {
	SendTyping(ctx context.Context) error
}

// MessageChannel is the platform view of the channel an inbound message
// arrived on. Adapters build one per event.
type MessageChannel interface {
	HistoryFetcher
	TypingSender
	FetchMessage(ctx context.Context, messageID string) (*InboundMessage, error)
	Reply(ctx context.Context, messageID, content string) error
	Send(ctx context.Context, content string) error
}

// Channel is a chat platform adapter.
type Channel interface {
	Name() string
	Start(ctx context.Context, bus EventBus) error
}
