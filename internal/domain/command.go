package domain

import "context"

// OptionType is the value type of a command option.
type OptionType string

const (
	OptionString OptionType = "string"
	OptionBool   OptionType = "bool"
)

// CommandOption describes one argument of a slash command.
type CommandOption struct {
	Name        string
	Description string
	Type        OptionType
	Required    bool
}

// CommandSpec is the platform-neutral declaration of a slash command.
type CommandSpec struct {
	Name        string
	Description string
	Options     []CommandOption
}

// CommandInvocation is an explicit command issued by a user.
type CommandInvocation struct {
	Name     string
	Platform string
	User     Author
	Kind     ChannelKind
	Strings  map[string]string
	Bools    map[string]bool
}

// String returns a string option, or "" when absent.
func (c CommandInvocation) String(name string) string { return c.Strings[name] }

// Bool returns a bool option, or false when absent.
func (c CommandInvocation) Bool(name string) bool { return c.Bools[name] }

// CommandResponder delivers the output of a command invocation.
type CommandResponder interface {
	// Defer acknowledges the invocation and shows a pending indicator.
	Defer(ctx context.Context) error
	// Acknowledged reports whether Defer or Reply already succeeded.
	Acknowledged() bool
	Reply(ctx context.Context, content string, ephemeral bool) error
	EditReply(ctx context.Context, content string) error
	FollowUp(ctx context.Context, content string, ephemeral bool) error
	// StartThread opens a thread on the reply. Returns ErrThreadUnsupported
	// where the platform has no such concept.
	StartThread(ctx context.Context, name string) error
}
