package domain

// Event is one unit of inbound work: either a message or a command.
type Event struct {
	Platform string
	BotID    string

	Message *InboundMessage
	Channel MessageChannel

	Command   *CommandInvocation
	Responder CommandResponder
}

// EventBus routes events from platform adapters to the orchestrator.
type EventBus interface {
	Publish(evt Event)
	Subscribe() <-chan Event
	Close()
}
