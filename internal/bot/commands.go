package bot

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"nitrobot/internal/audit"
	"nitrobot/internal/chunk"
	"nitrobot/internal/domain"
	"nitrobot/internal/identity"
	"nitrobot/internal/nitro"
	"nitrobot/internal/trigger"
)

// ThreadNameLimit is the maximum length of a thread started by /ask.
const ThreadNameLimit = 100

// CommandFunc executes one command invocation.
type CommandFunc func(ctx context.Context, o *Orchestrator, inv domain.CommandInvocation, r domain.CommandResponder) error

// Command is a slash command: its declaration and its handler.
type Command struct {
	Spec domain.CommandSpec
	Run  CommandFunc
}

// Registry maps command names to commands. It is built once and never
// changes afterwards.
type Registry struct {
	byName map[string]Command
}

// NewRegistry builds a registry. Duplicate names panic.
func NewRegistry(cmds ...Command) *Registry {
	byName := make(map[string]Command, len(cmds))
	for _, c := range cmds {
		if _, dup := byName[c.Spec.Name]; dup {
			panic("bot: duplicate command " + c.Spec.Name)
		}
		byName[c.Spec.Name] = c
	}
	return &Registry{byName: byName}
}

// DefaultCommands is the registry with /ask and /help.
func DefaultCommands() *Registry {
	return NewRegistry(AskCommand, HelpCommand)
}

// Lookup finds a command by name.
func (r *Registry) Lookup(name string) (Command, bool) {
	c, ok := r.byName[name]
	return c, ok
}

// Specs returns the command declarations sorted by name.
func (r *Registry) Specs() []domain.CommandSpec {
	specs := make([]domain.CommandSpec, 0, len(r.byName))
	for _, c := range r.byName {
		specs = append(specs, c.Spec)
	}
	slices.SortFunc(specs, func(a, b domain.CommandSpec) int { return strings.Compare(a.Name, b.Name) })
	return specs
}

// HandleCommand runs an explicit command invocation. Unknown commands are
// logged and dropped. A failing command gets an ephemeral error notice.
func (o *Orchestrator) HandleCommand(ctx context.Context, inv domain.CommandInvocation, r domain.CommandResponder) error {
	cmd, ok := o.commands.Lookup(inv.Name)
	if !ok {
		o.logger.Warn("unknown command", "platform", inv.Platform, "command", inv.Name)
		return nil
	}

	err := cmd.Run(ctx, o, inv, r)
	if err == nil {
		return nil
	}
	o.logger.Error("command failed", "platform", inv.Platform, "command", inv.Name, "err", err)

	if r.Acknowledged() {
		return r.FollowUp(ctx, CommandErrorMessage, true)
	}
	return r.Reply(ctx, CommandErrorMessage, true)
}

// AskCommand answers a single question without history, optionally
// opening a thread on the answer for follow-ups.
var AskCommand = Command{
	Spec: domain.CommandSpec{
		Name:        "ask",
		Description: "Ask Nitro AI a question",
		Options: []domain.CommandOption{
			{Name: "question", Description: "The question to ask Nitro", Type: domain.OptionString, Required: true},
			{Name: "thread", Description: "Create a thread for follow-up conversation", Type: domain.OptionBool},
		},
	},
	Run: runAsk,
}

func runAsk(ctx context.Context, o *Orchestrator, inv domain.CommandInvocation, r domain.CommandResponder) error {
	question := strings.TrimSpace(inv.String("question"))
	if question == "" {
		return r.Reply(ctx, trigger.Greeting, false)
	}

	if err := r.Defer(ctx); err != nil {
		return fmt.Errorf("defer reply: %w", err)
	}

	o.logger.Info("answering command", "platform", inv.Platform, "user", inv.User.Tag, "question_len", len(question))

	start := time.Now()
	answer, err := o.asker.Ask(ctx, nitro.Question{Text: question, UserID: inv.User.ID})
	rec := audit.Record{
		Platform:    inv.Platform,
		Trigger:     "command:" + inv.Name,
		UserRef:     identity.Map(inv.User.ID),
		QuestionLen: len(question),
		Latency:     time.Since(start),
	}
	if err != nil {
		o.logger.Warn("backend call failed", "platform", inv.Platform, "command", inv.Name, "err", err)
		o.record(ctx, rec, err)
		return r.EditReply(ctx, UserMessage(err))
	}

	fragments := chunk.Split(answer, o.maxLen)
	rec.Fragments = len(fragments)
	o.record(ctx, rec, nil)
	o.observer.ObserveAnswer(inv.Platform, len(fragments), 0)

	for _, f := range fragments {
		if f.Index == 0 {
			err = r.EditReply(ctx, f.Text)
		} else {
			err = r.FollowUp(ctx, f.Text, false)
		}
		if err != nil {
			return fmt.Errorf("deliver fragment %d/%d: %w", f.Index+1, len(fragments), err)
		}
	}

	if inv.Bool("thread") && inv.Kind == domain.KindGuildText {
		err := r.StartThread(ctx, chunk.Truncate(question, ThreadNameLimit))
		if err != nil && !errors.Is(err, domain.ErrThreadUnsupported) {
			return fmt.Errorf("start thread: %w", err)
		}
	}
	return nil
}

// HelpCommand lists the registered commands.
var HelpCommand = Command{
	Spec: domain.CommandSpec{
		Name:        "help",
		Description: "Show what Nitro AI can do",
	},
	Run: func(ctx context.Context, o *Orchestrator, inv domain.CommandInvocation, r domain.CommandResponder) error {
		return r.Reply(ctx, helpText(o.commands.Specs()), true)
	},
}

func helpText(specs []domain.CommandSpec) string {
	var sb strings.Builder
	sb.WriteString("Mention me, reply to one of my messages or DM me to ask a question.\n\nCommands:\n")
	for _, s := range specs {
		sb.WriteString("/" + s.Name)
		for _, opt := range s.Options {
			if opt.Required {
				sb.WriteString(" <" + opt.Name + ">")
			} else {
				sb.WriteString(" [" + opt.Name + "]")
			}
		}
		sb.WriteString(" - " + s.Description + "\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
