package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"nitrobot/internal/domain"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

const (
	slackPlatform = "slack"

	// slackMaxReplyPages bounds how many pages of a thread are read when
	// collecting its most recent messages.
	slackMaxReplyPages = 5
)

// slackAPI is the subset of *slack.Client used per event.
type slackAPI interface {
	GetConversationHistoryContext(ctx context.Context, params *slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error)
	GetConversationRepliesContext(ctx context.Context, params *slack.GetConversationRepliesParameters) ([]slack.Message, bool, string, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	PostEphemeralContext(ctx context.Context, channelID, userID string, options ...slack.MsgOption) (string, error)
}

// Slack implements domain.Channel for Slack using Socket Mode.
type Slack struct {
	botToken string
	appToken string
	logger   *slog.Logger
}

// SlackConfig configures the Slack channel.
type SlackConfig struct {
	BotToken string
	AppToken string
	Logger   *slog.Logger
}

// NewSlack creates a new Slack channel handler.
func NewSlack(cfg SlackConfig) *Slack {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Slack{
		botToken: cfg.BotToken,
		appToken: cfg.AppToken,
		logger:   cfg.Logger,
	}
}

func (s *Slack) Name() string { return slackPlatform }

// Start connects to Slack via Socket Mode and publishes events until ctx is
// cancelled.
func (s *Slack) Start(ctx context.Context, bus domain.EventBus) error {
	api := slack.New(
		s.botToken,
		slack.OptionAppLevelToken(s.appToken),
	)

	authResp, err := api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}
	s.logger.Info("slack bot connected", "user", authResp.User, "user_id", authResp.UserID)

	conv := slackConverter{api: api, botID: authResp.UserID}
	socketClient := socketmode.New(api)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-socketClient.Events:
				if !ok {
					return
				}
				s.handle(socketClient, conv, bus, evt)
			}
		}
	}()

	err = socketClient.RunContext(ctx)
	if ctx.Err() != nil {
		s.logger.Info("slack bot disconnecting")
		return nil
	}
	return fmt.Errorf("slack socket mode: %w", err)
}

func (s *Slack) handle(socketClient *socketmode.Client, conv slackConverter, bus domain.EventBus, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		socketClient.Ack(*evt.Request)
		if eventsAPIEvent.Type != slackevents.CallbackEvent {
			return
		}
		// Mentions also arrive as message events; app_mention is not handled
		// separately so a mention is answered once.
		if ev, ok := eventsAPIEvent.InnerEvent.Data.(*slackevents.MessageEvent); ok {
			if out, ok := conv.messageEvent(ev); ok {
				bus.Publish(out)
			}
		}

	case socketmode.EventTypeSlashCommand:
		cmd, ok := evt.Data.(slack.SlashCommand)
		if !ok {
			return
		}
		socketClient.Ack(*evt.Request)
		s.logger.Info("slack slash command", "command", cmd.Command, "user", cmd.UserID, "channel", cmd.ChannelID)
		bus.Publish(conv.slashCommand(cmd))

	case socketmode.EventTypeConnectionError:
		s.logger.Warn("slack connection error", "err", evt.Data)

	default:
		// Acknowledge unknown events to prevent Socket Mode disconnection.
		if evt.Request != nil {
			socketClient.Ack(*evt.Request)
		}
	}
}

// slackConverter turns Slack payloads into events for one bot identity.
type slackConverter struct {
	api   slackAPI
	botID string
}

func (c slackConverter) messageEvent(ev *slackevents.MessageEvent) (domain.Event, bool) {
	// Subtypes cover edits, deletions and joins; only new messages count.
	if ev.SubType != "" || ev.User == c.botID {
		return domain.Event{}, false
	}
	if ev.User == "" && ev.BotID == "" {
		return domain.Event{}, false
	}

	kind := slackKind(ev.ChannelType, ev.ThreadTimeStamp, ev.TimeStamp)
	msg := slackMessage(ev.Channel, kind, slack.Msg{
		User:            ev.User,
		BotID:           ev.BotID,
		Text:            ev.Text,
		Timestamp:       ev.TimeStamp,
		ThreadTimestamp: ev.ThreadTimeStamp,
	})

	ch := &slackChannel{api: c.api, channelID: ev.Channel, kind: kind}
	if kind == domain.KindThread {
		ch.threadTS = ev.ThreadTimeStamp
	}
	switch {
	case ch.threadTS != "":
		ch.replyTS = ch.threadTS
	case kind != domain.KindDirect:
		ch.replyTS = ev.TimeStamp
	}

	return domain.Event{
		Platform: slackPlatform,
		BotID:    c.botID,
		Message:  &msg,
		Channel:  ch,
	}, true
}

func (c slackConverter) slashCommand(cmd slack.SlashCommand) domain.Event {
	kind := domain.KindGuildText
	if strings.HasPrefix(cmd.ChannelID, "D") {
		kind = domain.KindDirect
	}
	author := domain.Author{ID: cmd.UserID, Tag: cmd.UserName}
	inv := textInvocation(slackPlatform, strings.TrimPrefix(cmd.Command, "/"), cmd.Text, author, kind)

	channelID, userID := cmd.ChannelID, cmd.UserID
	return domain.Event{
		Platform: slackPlatform,
		BotID:    c.botID,
		Command:  &inv,
		Responder: &messageResponder{
			send: func(ctx context.Context, content string) error {
				_, _, err := c.api.PostMessageContext(ctx, channelID, slack.MsgOptionText(content, false))
				return err
			},
			ephemeral: func(ctx context.Context, content string) error {
				_, err := c.api.PostEphemeralContext(ctx, channelID, userID, slack.MsgOptionText(content, false))
				return err
			},
		},
	}
}

func slackKind(channelType, threadTS, ts string) domain.ChannelKind {
	if threadTS != "" && threadTS != ts {
		return domain.KindThread
	}
	switch channelType {
	case "im", "mpim":
		return domain.KindDirect
	case "channel", "group":
		return domain.KindGuildText
	default:
		return domain.KindOther
	}
}

func slackMessage(channelID string, kind domain.ChannelKind, m slack.Msg) domain.InboundMessage {
	author := domain.Author{ID: m.User, Bot: m.BotID != ""}
	if author.ID == "" {
		author.ID = m.BotID
	}
	return domain.InboundMessage{
		ID:        m.Timestamp,
		Platform:  slackPlatform,
		ChannelID: channelID,
		Author:    author,
		Content:   m.Text,
		Kind:      kind,
		Mentions:  mentionedIDs(m.Text),
		Timestamp: slackTime(m.Timestamp),
	}
}

// slackTime parses a Slack "seconds.micros" timestamp.
func slackTime(ts string) time.Time {
	secs, frac, _ := strings.Cut(ts, ".")
	sec, err := strconv.ParseInt(secs, 10, 64)
	if err != nil {
		return time.Time{}
	}
	usec, _ := strconv.ParseInt(frac, 10, 64)
	return time.Unix(sec, usec*int64(time.Microsecond))
}

// slackChannel is the MessageChannel of one Slack conversation. Answers go
// into the thread rooted at replyTS, or straight into the channel when it is
// empty.
type slackChannel struct {
	api       slackAPI
	channelID string
	kind      domain.ChannelKind
	threadTS  string // set when the message was posted inside a thread
	replyTS   string
}

func (c *slackChannel) FetchBefore(ctx context.Context, beforeID string, limit int) ([]domain.InboundMessage, error) {
	if c.threadTS != "" {
		return c.fetchThread(ctx, beforeID, limit)
	}

	resp, err := c.api.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
		ChannelID: c.channelID,
		Latest:    beforeID,
		Limit:     limit,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch slack history: %w", err)
	}
	out := make([]domain.InboundMessage, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		out = append(out, slackMessage(c.channelID, c.kind, m.Msg))
	}
	return out, nil
}

// fetchThread reads a thread oldest first and returns its last limit
// messages, newest first.
func (c *slackChannel) fetchThread(ctx context.Context, beforeID string, limit int) ([]domain.InboundMessage, error) {
	var (
		all    []slack.Message
		cursor string
	)
	for range slackMaxReplyPages {
		msgs, hasMore, next, err := c.api.GetConversationRepliesContext(ctx, &slack.GetConversationRepliesParameters{
			ChannelID: c.channelID,
			Timestamp: c.threadTS,
			Latest:    beforeID,
			Cursor:    cursor,
		})
		if err != nil {
			return nil, fmt.Errorf("fetch slack thread: %w", err)
		}
		all = append(all, msgs...)
		if !hasMore || next == "" {
			break
		}
		cursor = next
	}

	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]domain.InboundMessage, 0, len(all))
	for _, m := range all {
		out = append(out, slackMessage(c.channelID, c.kind, m.Msg))
	}
	slices.Reverse(out)
	return out, nil
}

func (c *slackChannel) FetchMessage(ctx context.Context, messageID string) (*domain.InboundMessage, error) {
	msgs, _, _, err := c.api.GetConversationRepliesContext(ctx, &slack.GetConversationRepliesParameters{
		ChannelID: c.channelID,
		Timestamp: messageID,
		Inclusive: true,
		Limit:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch slack message %s: %w", messageID, err)
	}
	if len(msgs) == 0 {
		return nil, errors.New("slack message not found: " + messageID)
	}
	msg := slackMessage(c.channelID, c.kind, msgs[0].Msg)
	return &msg, nil
}

// SendTyping is a no-op: Slack has no typing indicator for apps.
func (c *slackChannel) SendTyping(ctx context.Context) error { return nil }

func (c *slackChannel) Reply(ctx context.Context, messageID, content string) error {
	return c.post(ctx, content)
}

func (c *slackChannel) Send(ctx context.Context, content string) error {
	return c.post(ctx, content)
}

func (c *slackChannel) post(ctx context.Context, content string) error {
	opts := []slack.MsgOption{slack.MsgOptionText(content, false)}
	if c.replyTS != "" {
		opts = append(opts, slack.MsgOptionTS(c.replyTS))
	}
	if _, _, err := c.api.PostMessageContext(ctx, c.channelID, opts...); err != nil {
		return fmt.Errorf("slack post: %w", err)
	}
	return nil
}
