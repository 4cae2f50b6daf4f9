package channel

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"nitrobot/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	telegramPlatform    = "telegram"
	telegramPollTimeout = 30
)

// telegramAPI is the subset of *tgbotapi.BotAPI used per event.
type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Telegram implements domain.Channel for a Telegram bot using long polling.
type Telegram struct {
	token  string
	logger *slog.Logger
}

type TelegramConfig struct {
	Token  string
	Logger *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{token: cfg.Token, logger: cfg.Logger}
}

func (t *Telegram) Name() string { return telegramPlatform }

// Start connects to Telegram and polls for updates until ctx is cancelled.
func (t *Telegram) Start(ctx context.Context, bus domain.EventBus) error {
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.logger.Info("telegram bot connected", "username", bot.Self.UserName, "id", bot.Self.ID)

	conv := newTelegramConverter(strconv.FormatInt(bot.Self.ID, 10), bot.Self.UserName)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = telegramPollTimeout
	updates := bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if evt, ok := conv.event(bot, update); ok {
				bus.Publish(evt)
			}
		}
	}
}

// telegramConverter turns updates into events for one bot identity.
type telegramConverter struct {
	botID    string
	username string
	mention  *regexp.Regexp // @username of the bot, case-insensitive
}

func newTelegramConverter(botID, username string) telegramConverter {
	c := telegramConverter{botID: botID, username: username}
	if username != "" {
		c.mention = regexp.MustCompile(`(?i)@` + regexp.QuoteMeta(username) + `\b`)
	}
	return c
}

// addressedElsewhere reports whether a group command names another bot,
// as in /ask@otherbot.
func (c telegramConverter) addressedElsewhere(m *tgbotapi.Message) bool {
	_, target, ok := strings.Cut(m.CommandWithAt(), "@")
	return ok && !strings.EqualFold(target, c.username)
}

func (c telegramConverter) event(api telegramAPI, update tgbotapi.Update) (domain.Event, bool) {
	m := update.Message
	if m == nil || m.From == nil || m.Chat == nil {
		return domain.Event{}, false
	}
	if strconv.FormatInt(m.From.ID, 10) == c.botID {
		return domain.Event{}, false
	}

	chatID := m.Chat.ID
	ch := &telegramChannel{api: api, chatID: chatID}
	if m.ReplyToMessage != nil {
		replied := c.message(m.ReplyToMessage)
		ch.replied = &replied
	}

	if m.IsCommand() {
		if c.addressedElsewhere(m) {
			return domain.Event{}, false
		}
		name := m.Command()
		if name == "start" {
			name = "help"
		}
		msg := c.message(m)
		inv := textInvocation(telegramPlatform, name, m.CommandArguments(), msg.Author, msg.Kind)
		replyTo := m.MessageID
		return domain.Event{
			Platform: telegramPlatform,
			BotID:    c.botID,
			Command:  &inv,
			Responder: &messageResponder{
				send: func(ctx context.Context, content string) error {
					return ch.reply(replyTo, content)
				},
				typing: ch.SendTyping,
			},
		}, true
	}

	if strings.TrimSpace(m.Text) == "" {
		return domain.Event{}, false
	}
	msg := c.message(m)
	return domain.Event{
		Platform: telegramPlatform,
		BotID:    c.botID,
		Message:  &msg,
		Channel:  ch,
	}, true
}

func (c telegramConverter) message(m *tgbotapi.Message) domain.InboundMessage {
	text := m.Text
	if c.mention != nil {
		text = c.mention.ReplaceAllString(text, "<@"+c.botID+">")
	}

	msg := domain.InboundMessage{
		ID:        strconv.Itoa(m.MessageID),
		Platform:  telegramPlatform,
		Content:   text,
		Mentions:  mentionedIDs(text),
		Timestamp: time.Unix(int64(m.Date), 0),
	}
	if m.Chat != nil {
		msg.ChannelID = strconv.FormatInt(m.Chat.ID, 10)
		msg.Kind = telegramKind(m.Chat)
	}
	if m.From != nil {
		msg.Author = domain.Author{ID: strconv.FormatInt(m.From.ID, 10), Tag: m.From.UserName, Bot: m.From.IsBot}
	}
	for _, e := range m.Entities {
		if e.Type == "text_mention" && e.User != nil {
			msg.Mentions = append(msg.Mentions, strconv.FormatInt(e.User.ID, 10))
		}
	}
	if r := m.ReplyToMessage; r != nil {
		msg.Reference = &domain.MessageReference{MessageID: strconv.Itoa(r.MessageID)}
		if r.From != nil {
			msg.Reference.AuthorID = strconv.FormatInt(r.From.ID, 10)
		}
	}
	return msg
}

func telegramKind(chat *tgbotapi.Chat) domain.ChannelKind {
	switch {
	case chat.IsPrivate():
		return domain.KindDirect
	case chat.IsGroup(), chat.IsSuperGroup():
		return domain.KindGuildText
	default:
		return domain.KindOther
	}
}

// telegramChannel is the MessageChannel of one Telegram chat. The Bot API
// cannot read chat history; only the replied-to message is known.
type telegramChannel struct {
	api     telegramAPI
	chatID  int64
	replied *domain.InboundMessage
}

func (c *telegramChannel) FetchBefore(ctx context.Context, beforeID string, limit int) ([]domain.InboundMessage, error) {
	return nil, domain.ErrHistoryUnsupported
}

func (c *telegramChannel) FetchMessage(ctx context.Context, messageID string) (*domain.InboundMessage, error) {
	if c.replied != nil && c.replied.ID == messageID {
		m := *c.replied
		return &m, nil
	}
	return nil, fmt.Errorf("telegram message %s: %w", messageID, domain.ErrHistoryUnsupported)
}

func (c *telegramChannel) SendTyping(ctx context.Context) error {
	_, err := c.api.Request(tgbotapi.NewChatAction(c.chatID, tgbotapi.ChatTyping))
	return err
}

func (c *telegramChannel) Reply(ctx context.Context, messageID, content string) error {
	id, err := strconv.Atoi(messageID)
	if err != nil {
		return fmt.Errorf("invalid telegram message id %q: %w", messageID, err)
	}
	return c.reply(id, content)
}

func (c *telegramChannel) Send(ctx context.Context, content string) error {
	return c.reply(0, content)
}

func (c *telegramChannel) reply(messageID int, content string) error {
	msg := tgbotapi.NewMessage(c.chatID, content)
	msg.ReplyToMessageID = messageID
	if _, err := c.api.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
