// Package channel adapts chat platforms to the bot's event model. Each
// adapter publishes domain.Event values and hands the orchestrator a
// MessageChannel or CommandResponder bound to the originating conversation.
package channel

import (
	"context"
	"regexp"
	"strings"
	"sync/atomic"

	"nitrobot/internal/domain"
)

// userMentionPattern matches <@ID> and the legacy nickname form <@!ID>.
var userMentionPattern = regexp.MustCompile(`<@!?([A-Za-z0-9]+)>`)

// normalizeMentions rewrites <@!ID> as <@ID>.
func normalizeMentions(text string) string {
	return userMentionPattern.ReplaceAllString(text, "<@$1>")
}

// mentionedIDs returns the distinct user IDs mentioned in text.
func mentionedIDs(text string) []string {
	var ids []string
	seen := make(map[string]bool)
	for _, m := range userMentionPattern.FindAllStringSubmatch(text, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			ids = append(ids, m[1])
		}
	}
	return ids
}

// textInvocation builds the invocation for a text command such as
// "/ask what is nitro". Platforms without native options pass the whole
// argument string as the question.
func textInvocation(platform, name, args string, user domain.Author, kind domain.ChannelKind) domain.CommandInvocation {
	inv := domain.CommandInvocation{
		Name:     strings.ToLower(name),
		Platform: platform,
		User:     user,
		Kind:     kind,
		Strings:  map[string]string{},
		Bools:    map[string]bool{},
	}
	if args = strings.TrimSpace(args); args != "" {
		inv.Strings["question"] = args
	}
	return inv
}

// messageResponder answers commands on platforms that have no deferred
// interaction response: every output is posted as a regular message.
type messageResponder struct {
	send      func(ctx context.Context, content string) error
	ephemeral func(ctx context.Context, content string) error // optional
	typing    func(ctx context.Context) error                 // optional
	acked     atomic.Bool
}

func (r *messageResponder) Defer(ctx context.Context) error {
	r.acked.Store(true)
	if r.typing != nil {
		// Best effort: a missing indicator is not a failure.
		_ = r.typing(ctx)
	}
	return nil
}

func (r *messageResponder) Acknowledged() bool { return r.acked.Load() }

func (r *messageResponder) Reply(ctx context.Context, content string, ephemeral bool) error {
	if err := r.post(ctx, content, ephemeral); err != nil {
		return err
	}
	r.acked.Store(true)
	return nil
}

func (r *messageResponder) EditReply(ctx context.Context, content string) error {
	return r.send(ctx, content)
}

func (r *messageResponder) FollowUp(ctx context.Context, content string, ephemeral bool) error {
	return r.post(ctx, content, ephemeral)
}

func (r *messageResponder) StartThread(ctx context.Context, name string) error {
	return domain.ErrThreadUnsupported
}

func (r *messageResponder) post(ctx context.Context, content string, ephemeral bool) error {
	if ephemeral && r.ephemeral != nil {
		return r.ephemeral(ctx, content)
	}
	return r.send(ctx, content)
}
