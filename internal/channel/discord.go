package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"nitrobot/internal/domain"

	"github.com/bwmarrin/discordgo"
)

const (
	discordPlatform = "discord"

	// discordMaxFetch is the page size limit of the channel messages endpoint.
	discordMaxFetch = 100

	// discordThreadArchiveMinutes is the auto-archive duration of threads
	// started from /ask replies.
	discordThreadArchiveMinutes = 60
)

// discordAPI is the subset of *discordgo.Session the adapter calls per event.
type discordAPI interface {
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
	ChannelMessage(channelID, messageID string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendReply(channelID string, content string, reference *discordgo.MessageReference, options ...discordgo.RequestOption) (*discordgo.Message, error)

	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	InteractionResponse(interaction *discordgo.Interaction, options ...discordgo.RequestOption) (*discordgo.Message, error)
	InteractionResponseEdit(interaction *discordgo.Interaction, newresp *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	FollowupMessageCreate(interaction *discordgo.Interaction, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
	MessageThreadStartComplex(channelID, messageID string, data *discordgo.ThreadStart, options ...discordgo.RequestOption) (*discordgo.Channel, error)
}

// Discord implements domain.Channel for Discord.
type Discord struct {
	token    string
	clientID string
	guildID  string
	commands []domain.CommandSpec
	logger   *slog.Logger
}

// DiscordConfig configures the Discord channel.
type DiscordConfig struct {
	Token    string
	ClientID string // application ID used for command registration
	GuildID  string // optional: register commands in one guild only
	Commands []domain.CommandSpec
	Logger   *slog.Logger
}

// NewDiscord creates a new Discord channel handler.
func NewDiscord(cfg DiscordConfig) *Discord {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Discord{
		token:    cfg.Token,
		clientID: cfg.ClientID,
		guildID:  cfg.GuildID,
		commands: cfg.Commands,
		logger:   cfg.Logger,
	}
}

func (d *Discord) Name() string { return discordPlatform }

// Start connects to the Discord gateway and publishes events until ctx is
// cancelled.
func (d *Discord) Start(ctx context.Context, bus domain.EventBus) error {
	session, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		d.logger.Info("discord bot connected", "user", r.User.Username, "guilds", len(r.Guilds))
		d.registerCommands(s, r.User.ID)
	})

	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		d.onMessage(s, bus, m.Message)
	})

	session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		d.onInteraction(s, bus, i.Interaction)
	})

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord connect: %w", err)
	}

	<-ctx.Done()
	d.logger.Info("discord bot disconnecting")
	return session.Close()
}

func (d *Discord) onMessage(s *discordgo.Session, bus domain.EventBus, m *discordgo.Message) {
	botID := s.State.User.ID
	if m.Author == nil || m.Author.ID == botID {
		return
	}

	kind := d.channelKind(s, m.ChannelID, m.GuildID)
	msg := discordMessage(m, kind)

	d.logger.Debug("discord message received",
		"author", m.Author.Username,
		"channel_id", m.ChannelID,
		"kind", kind,
		"content_len", len(m.Content),
	)

	bus.Publish(domain.Event{
		Platform: discordPlatform,
		BotID:    botID,
		Message:  &msg,
		Channel:  &discordChannel{api: s, channelID: m.ChannelID, guildID: m.GuildID, kind: kind},
	})
}

func (d *Discord) onInteraction(s *discordgo.Session, bus domain.EventBus, i *discordgo.Interaction) {
	if i.Type != discordgo.InteractionApplicationCommand {
		d.logger.Debug("ignoring non-command interaction", "type", i.Type.String())
		return
	}

	inv := discordInvocation(i, d.channelKind(s, i.ChannelID, i.GuildID))
	d.logger.Info("discord command received", "command", inv.Name, "user", inv.User.Tag)

	bus.Publish(domain.Event{
		Platform:  discordPlatform,
		BotID:     s.State.User.ID,
		Command:   &inv,
		Responder: newDiscordResponder(s, i),
	})
}

// registerCommands replaces the application's slash commands with the
// registry's, globally or in the configured guild.
func (d *Discord) registerCommands(s *discordgo.Session, botID string) {
	appID := d.clientID
	if appID == "" {
		appID = botID
	}

	cmds := discordCommands(d.commands)
	created, err := s.ApplicationCommandBulkOverwrite(appID, d.guildID, cmds)
	if err != nil {
		d.logger.Error("failed to register slash commands", "count", len(cmds), "err", err)
		return
	}
	d.logger.Info("registered slash commands", "count", len(created), "guild_id", d.guildID)
}

// channelKind resolves the channel type from the state cache, falling back
// to the API.
func (d *Discord) channelKind(s *discordgo.Session, channelID, guildID string) domain.ChannelKind {
	if c, err := s.State.Channel(channelID); err == nil {
		return discordKind(c.Type)
	}
	if c, err := s.Channel(channelID); err == nil {
		_ = s.State.ChannelAdd(c)
		return discordKind(c.Type)
	}
	if guildID == "" {
		return domain.KindDirect
	}
	d.logger.Warn("cannot resolve discord channel type", "channel_id", channelID)
	return domain.KindOther
}

func discordKind(t discordgo.ChannelType) domain.ChannelKind {
	switch t {
	case discordgo.ChannelTypeDM, discordgo.ChannelTypeGroupDM:
		return domain.KindDirect
	case discordgo.ChannelTypeGuildText:
		return domain.KindGuildText
	case discordgo.ChannelTypeGuildPublicThread,
		discordgo.ChannelTypeGuildPrivateThread,
		discordgo.ChannelTypeGuildNewsThread:
		return domain.KindThread
	default:
		return domain.KindOther
	}
}

func discordMessage(m *discordgo.Message, kind domain.ChannelKind) domain.InboundMessage {
	msg := domain.InboundMessage{
		ID:        m.ID,
		Platform:  discordPlatform,
		ChannelID: m.ChannelID,
		Content:   normalizeMentions(m.Content),
		Kind:      kind,
		Timestamp: m.Timestamp,
	}
	if m.Author != nil {
		msg.Author = domain.Author{ID: m.Author.ID, Tag: m.Author.Username, Bot: m.Author.Bot}
	}
	for _, u := range m.Mentions {
		if u != nil {
			msg.Mentions = append(msg.Mentions, u.ID)
		}
	}
	if ref := m.MessageReference; ref != nil && ref.MessageID != "" {
		msg.Reference = &domain.MessageReference{MessageID: ref.MessageID}
		if m.ReferencedMessage != nil && m.ReferencedMessage.Author != nil {
			msg.Reference.AuthorID = m.ReferencedMessage.Author.ID
		}
	}
	return msg
}

func discordCommands(specs []domain.CommandSpec) []*discordgo.ApplicationCommand {
	cmds := make([]*discordgo.ApplicationCommand, 0, len(specs))
	for _, spec := range specs {
		cmd := &discordgo.ApplicationCommand{
			Name:        spec.Name,
			Description: spec.Description,
		}
		for _, opt := range spec.Options {
			optType := discordgo.ApplicationCommandOptionString
			if opt.Type == domain.OptionBool {
				optType = discordgo.ApplicationCommandOptionBoolean
			}
			cmd.Options = append(cmd.Options, &discordgo.ApplicationCommandOption{
				Type:        optType,
				Name:        opt.Name,
				Description: opt.Description,
				Required:    opt.Required,
			})
		}
		cmds = append(cmds, cmd)
	}
	return cmds
}

func discordInvocation(i *discordgo.Interaction, kind domain.ChannelKind) domain.CommandInvocation {
	data := i.ApplicationCommandData()
	inv := domain.CommandInvocation{
		Name:     data.Name,
		Platform: discordPlatform,
		Kind:     kind,
		Strings:  map[string]string{},
		Bools:    map[string]bool{},
	}

	user := i.User
	if i.Member != nil && i.Member.User != nil {
		user = i.Member.User
	}
	if user != nil {
		inv.User = domain.Author{ID: user.ID, Tag: user.Username, Bot: user.Bot}
	}

	for _, opt := range data.Options {
		switch opt.Type {
		case discordgo.ApplicationCommandOptionString:
			inv.Strings[opt.Name] = opt.StringValue()
		case discordgo.ApplicationCommandOptionBoolean:
			inv.Bools[opt.Name] = opt.BoolValue()
		}
	}
	return inv
}

// discordChannel is the MessageChannel of one Discord text channel.
type discordChannel struct {
	api       discordAPI
	channelID string
	guildID   string
	kind      domain.ChannelKind
}

func (c *discordChannel) FetchBefore(ctx context.Context, beforeID string, limit int) ([]domain.InboundMessage, error) {
	if limit > discordMaxFetch {
		limit = discordMaxFetch
	}
	msgs, err := c.api.ChannelMessages(c.channelID, limit, beforeID, "", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("fetch discord messages: %w", err)
	}
	out := make([]domain.InboundMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, discordMessage(m, c.kind))
	}
	return out, nil
}

func (c *discordChannel) FetchMessage(ctx context.Context, messageID string) (*domain.InboundMessage, error) {
	m, err := c.api.ChannelMessage(c.channelID, messageID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("fetch discord message %s: %w", messageID, err)
	}
	msg := discordMessage(m, c.kind)
	return &msg, nil
}

func (c *discordChannel) SendTyping(ctx context.Context) error {
	return c.api.ChannelTyping(c.channelID, discordgo.WithContext(ctx))
}

func (c *discordChannel) Reply(ctx context.Context, messageID, content string) error {
	ref := &discordgo.MessageReference{MessageID: messageID, ChannelID: c.channelID, GuildID: c.guildID}
	_, err := c.api.ChannelMessageSendReply(c.channelID, content, ref, discordgo.WithContext(ctx))
	return err
}

func (c *discordChannel) Send(ctx context.Context, content string) error {
	_, err := c.api.ChannelMessageSend(c.channelID, content, discordgo.WithContext(ctx))
	return err
}

// discordResponder answers one slash command interaction.
type discordResponder struct {
	api         discordAPI
	interaction *discordgo.Interaction
	acked       atomic.Bool

	mu      sync.Mutex
	replyID string
}

func newDiscordResponder(api discordAPI, i *discordgo.Interaction) *discordResponder {
	return &discordResponder{api: api, interaction: i}
}

func (r *discordResponder) Defer(ctx context.Context) error {
	err := r.api.InteractionRespond(r.interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("defer interaction: %w", err)
	}
	r.acked.Store(true)
	return nil
}

func (r *discordResponder) Acknowledged() bool { return r.acked.Load() }

func (r *discordResponder) Reply(ctx context.Context, content string, ephemeral bool) error {
	err := r.api.InteractionRespond(r.interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: content, Flags: messageFlags(ephemeral)},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("reply to interaction: %w", err)
	}
	r.acked.Store(true)
	return nil
}

func (r *discordResponder) EditReply(ctx context.Context, content string) error {
	msg, err := r.api.InteractionResponseEdit(r.interaction, &discordgo.WebhookEdit{Content: &content}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("edit interaction reply: %w", err)
	}
	if msg != nil {
		r.mu.Lock()
		r.replyID = msg.ID
		r.mu.Unlock()
	}
	return nil
}

func (r *discordResponder) FollowUp(ctx context.Context, content string, ephemeral bool) error {
	_, err := r.api.FollowupMessageCreate(r.interaction, true, &discordgo.WebhookParams{
		Content: content,
		Flags:   messageFlags(ephemeral),
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("interaction follow-up: %w", err)
	}
	return nil
}

// StartThread opens a thread on the interaction's reply message.
func (r *discordResponder) StartThread(ctx context.Context, name string) error {
	r.mu.Lock()
	replyID := r.replyID
	r.mu.Unlock()

	if replyID == "" {
		msg, err := r.api.InteractionResponse(r.interaction, discordgo.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("fetch interaction reply: %w", err)
		}
		replyID = msg.ID
	}

	_, err := r.api.MessageThreadStartComplex(r.interaction.ChannelID, replyID, &discordgo.ThreadStart{
		Name:                name,
		AutoArchiveDuration: discordThreadArchiveMinutes,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("start thread: %w", err)
	}
	return nil
}

func messageFlags(ephemeral bool) discordgo.MessageFlags {
	if ephemeral {
		return discordgo.MessageFlagsEphemeral
	}
	return 0
}
