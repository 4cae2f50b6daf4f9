package domain

import "time"

// ChannelKind classifies where an inbound message was posted.
type ChannelKind string

const (
	KindDirect    ChannelKind = "direct"
	KindGuildText ChannelKind = "guild_text"
	KindThread    ChannelKind = "thread"
	KindOther     ChannelKind = "other"
)

// Author identifies who wrote a message.
type Author struct {
	ID  string
	Tag string // display handle, used for logs only
	Bot bool
}

// MessageReference points at the message an inbound message replies to.
// AuthorID is empty when the platform did not resolve the referenced message.
type MessageReference struct {
	MessageID string
	AuthorID  string
}

// InboundMessage is a message received from a chat platform. Mention markup
// in Content is normalized to the <@ID> form by the adapters.
type InboundMessage struct {
	ID        string
	Platform  string
	ChannelID string
	Author    Author
	Content   string
	Kind      ChannelKind
	Mentions  []string
	Reference *MessageReference
	Timestamp time.Time
}

// InThread reports whether the message was posted inside a thread.
func (m InboundMessage) InThread() bool { return m.Kind == KindThread }

// Role is the speaker of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ConversationTurn is one entry of the history sent to the backend.
type ConversationTurn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Fragment is a bounded piece of an answer, delivered in Index order.
type Fragment struct {
	Index int
	Text  string
}
