// Package history builds the recent-conversation context attached to a
// backend question.
package history

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"

	"nitrobot/internal/domain"
	"nitrobot/internal/trigger"
)

// DefaultLimit is how many earlier messages are fetched.
const DefaultLimit = 20

// Assembler turns earlier channel messages into conversation turns.
type Assembler struct {
	limit  int
	logger *slog.Logger
}

// AssemblerConfig configures an Assembler.
type AssemblerConfig struct {
	Limit  int
	Logger *slog.Logger
}

// NewAssembler creates an Assembler.
func NewAssembler(cfg AssemblerConfig) *Assembler {
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Assembler{limit: cfg.Limit, logger: cfg.Logger}
}

// Limit returns the fetch window size.
func (a *Assembler) Limit() int { return a.limit }

// Assemble fetches the messages preceding beforeID and returns them as
// chronological turns. History is best effort: an unsupported channel or a
// failed fetch yields an empty slice, never an error.
func (a *Assembler) Assemble(ctx context.Context, fetcher domain.HistoryFetcher, beforeID, botID string) []domain.ConversationTurn {
	if fetcher == nil {
		return []domain.ConversationTurn{}
	}

	msgs, err := fetcher.FetchBefore(ctx, beforeID, a.limit)
	if err != nil {
		if errors.Is(err, domain.ErrHistoryUnsupported) {
			a.logger.Debug("channel does not support history")
		} else {
			a.logger.Warn("history fetch failed, continuing without context", "err", err)
		}
		return []domain.ConversationTurn{}
	}

	turns := Build(msgs, botID)
	a.logger.Debug("history assembled", "fetched", len(msgs), "turns", len(turns))
	return turns
}

// Build converts a newest-first window of messages into chronological turns.
// Messages from other bots are dropped; the bot's own messages are always
// kept as assistant turns; user messages that are empty once the bot's
// mention is stripped are dropped.
func Build(newestFirst []domain.InboundMessage, botID string) []domain.ConversationTurn {
	msgs := slices.Clone(newestFirst)
	slices.Reverse(msgs)

	turns := make([]domain.ConversationTurn, 0, len(msgs))
	for _, m := range msgs {
		fromSelf := botID != "" && m.Author.ID == botID
		if m.Author.Bot && !fromSelf {
			continue
		}

		content := trigger.StripMention(m.Content, botID)
		if fromSelf {
			if content == "" {
				content = strings.TrimSpace(m.Content)
			}
			turns = append(turns, domain.ConversationTurn{Role: domain.RoleAssistant, Content: content})
			continue
		}
		if content == "" {
			continue
		}
		turns = append(turns, domain.ConversationTurn{Role: domain.RoleUser, Content: content})
	}
	return turns
}
