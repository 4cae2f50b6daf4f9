// Package bot turns inbound chat events into backend questions and delivers
// the answers back to the platform.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"nitrobot/internal/audit"
	"nitrobot/internal/chunk"
	"nitrobot/internal/domain"
	"nitrobot/internal/history"
	"nitrobot/internal/identity"
	"nitrobot/internal/nitro"
	"nitrobot/internal/trigger"
)

// DefaultTypingInterval is how often the typing indicator is refreshed
// while the backend is working.
const DefaultTypingInterval = 5 * time.Second

// Asker sends a question to the backend.
type Asker interface {
	Ask(ctx context.Context, q nitro.Question) (string, error)
}

// Recorder stores one ledger entry per backend ask.
type Recorder interface {
	Record(ctx context.Context, r audit.Record) error
}

// Observer receives orchestration metrics.
type Observer interface {
	ObserveDecision(rule string, respond bool)
	ObserveAnswer(platform string, fragments, historyTurns int)
}

// Config wires an Orchestrator.
type Config struct {
	Evaluator         *trigger.Evaluator
	Assembler         *history.Assembler
	Asker             Asker
	Commands          *Registry
	MaxFragmentLength int
	TypingInterval    time.Duration
	Concurrency       int
	Recorder          Recorder // optional
	Observer          Observer // optional
	Logger            *slog.Logger
}

// Orchestrator composes trigger evaluation, history, the backend call,
// chunking and delivery. It keeps no per-event state and can serve many
// events concurrently.
type Orchestrator struct {
	evaluator      *trigger.Evaluator
	assembler      *history.Assembler
	asker          Asker
	commands       *Registry
	maxLen         int
	typingInterval time.Duration
	concurrency    int
	recorder       Recorder
	observer       Observer
	logger         *slog.Logger
}

// NewOrchestrator creates an Orchestrator. Asker is required; every other
// field has a default.
func NewOrchestrator(cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Evaluator == nil {
		cfg.Evaluator = trigger.NewEvaluator()
	}
	if cfg.Assembler == nil {
		cfg.Assembler = history.NewAssembler(history.AssemblerConfig{Logger: cfg.Logger})
	}
	if cfg.Commands == nil {
		cfg.Commands = DefaultCommands()
	}
	if cfg.MaxFragmentLength <= 0 {
		cfg.MaxFragmentLength = chunk.DefaultMaxLength
	}
	if cfg.TypingInterval <= 0 {
		cfg.TypingInterval = DefaultTypingInterval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	return &Orchestrator{
		evaluator:      cfg.Evaluator,
		assembler:      cfg.Assembler,
		asker:          cfg.Asker,
		commands:       cfg.Commands,
		maxLen:         cfg.MaxFragmentLength,
		typingInterval: cfg.TypingInterval,
		concurrency:    cfg.Concurrency,
		recorder:       cfg.Recorder,
		observer:       cfg.Observer,
		logger:         cfg.Logger,
	}
}

// Commands returns the command registry, for platform registration.
func (o *Orchestrator) Commands() *Registry { return o.commands }

// HandleMessage processes one inbound message posted on ch.
func (o *Orchestrator) HandleMessage(ctx context.Context, botID string, msg domain.InboundMessage, ch domain.MessageChannel) error {
	in := trigger.Input{
		Message: msg,
		BotID:   botID,
		ReplyToBot: sync.OnceValue(func() bool {
			return o.replyToBot(ctx, botID, msg, ch)
		}),
		Participation: func() bool {
			return o.participated(ctx, botID, ch)
		},
	}
	d := o.evaluator.Decide(in)
	o.observer.ObserveDecision(d.Rule, d.Respond)
	if !d.Respond {
		o.logger.Debug("ignoring message", "platform", msg.Platform, "message", msg.ID, "rule", d.Rule)
		return nil
	}

	question := trigger.ExtractQuestion(msg, botID)
	if question == "" {
		o.logger.Debug("empty question, sending greeting", "message", msg.ID)
		return ch.Reply(ctx, msg.ID, trigger.Greeting)
	}

	o.logger.Info("answering message",
		"platform", msg.Platform,
		"author", msg.Author.Tag,
		"rule", d.Rule,
		"question_len", len(question),
		"include_history", d.IncludeHistory,
	)

	stopTyping := startTyping(ctx, ch, o.typingInterval, o.logger)

	var turns []domain.ConversationTurn
	if d.IncludeHistory {
		turns = o.assembler.Assemble(ctx, ch, msg.ID, botID)
	}

	start := time.Now()
	answer, err := o.asker.Ask(ctx, nitro.Question{Text: question, UserID: msg.Author.ID, History: turns})
	stopTyping()

	rec := audit.Record{
		Platform:     msg.Platform,
		Trigger:      d.Rule,
		UserRef:      identity.Map(msg.Author.ID),
		QuestionLen:  len(question),
		HistoryTurns: len(turns),
		Latency:      time.Since(start),
	}

	if err != nil {
		o.logger.Warn("backend call failed", "platform", msg.Platform, "message", msg.ID, "err", err)
		o.record(ctx, rec, err)
		return ch.Reply(ctx, msg.ID, UserMessage(err))
	}

	fragments := chunk.Split(answer, o.maxLen)
	rec.Fragments = len(fragments)
	o.record(ctx, rec, nil)
	o.observer.ObserveAnswer(msg.Platform, len(fragments), len(turns))

	for _, f := range fragments {
		var derr error
		if f.Index == 0 {
			derr = ch.Reply(ctx, msg.ID, f.Text)
		} else {
			derr = ch.Send(ctx, f.Text)
		}
		if derr != nil {
			return fmt.Errorf("deliver fragment %d/%d: %w", f.Index+1, len(fragments), derr)
		}
	}

	o.logger.Info("responded", "platform", msg.Platform, "message", msg.ID, "fragments", len(fragments))
	return nil
}

// replyToBot reports whether msg replies to a message written by the bot.
// The referenced message is fetched only when the platform did not resolve
// its author; a failed fetch counts as not a reply to the bot.
func (o *Orchestrator) replyToBot(ctx context.Context, botID string, msg domain.InboundMessage, ch domain.MessageChannel) bool {
	ref := msg.Reference
	if ref == nil || botID == "" {
		return false
	}
	if ref.AuthorID != "" {
		return ref.AuthorID == botID
	}
	if ref.MessageID == "" {
		return false
	}
	referenced, err := ch.FetchMessage(ctx, ref.MessageID)
	if err != nil || referenced == nil {
		o.logger.Debug("could not fetch referenced message", "message", ref.MessageID, "err", err)
		return false
	}
	return referenced.Author.ID == botID
}

// participated scans the latest thread messages for one written by the bot.
func (o *Orchestrator) participated(ctx context.Context, botID string, ch domain.MessageChannel) bool {
	recent, err := ch.FetchBefore(ctx, "", trigger.ParticipationWindow)
	if err != nil {
		o.logger.Debug("thread participation check failed", "err", err)
		return false
	}
	for _, m := range recent {
		if m.Author.ID == botID {
			return true
		}
	}
	return false
}

func (o *Orchestrator) record(ctx context.Context, rec audit.Record, err error) {
	if o.recorder == nil {
		return
	}
	rec.Outcome = nitro.Outcome(err)
	var be *nitro.BackendError
	if errors.As(err, &be) {
		rec.ErrorCode = be.Code
	}
	if rerr := o.recorder.Record(context.WithoutCancel(ctx), rec); rerr != nil {
		o.logger.Warn("audit record failed", "err", rerr)
	}
}

type nopObserver struct{}

func (nopObserver) ObserveDecision(string, bool) {}

func (nopObserver) ObserveAnswer(string, int, int) {}
