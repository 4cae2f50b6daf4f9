package channel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/go-cmp/cmp"

	"nitrobot/internal/domain"
)

// fakeDiscord records REST calls made through discordAPI.
type fakeDiscord struct {
	history   []*discordgo.Message
	message   *discordgo.Message
	calls     []string
	before    string
	limit     int
	reference *discordgo.MessageReference
	responses []*discordgo.InteractionResponse
	followups []*discordgo.WebhookParams
	thread    *discordgo.ThreadStart
	threadMsg string
	err       error
}

func (f *fakeDiscord) ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error) {
	f.calls = append(f.calls, "messages")
	f.before, f.limit = beforeID, limit
	return f.history, f.err
}

func (f *fakeDiscord) ChannelMessage(channelID, messageID string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.calls = append(f.calls, "message "+messageID)
	return f.message, f.err
}

func (f *fakeDiscord) ChannelTyping(channelID string, options ...discordgo.RequestOption) error {
	f.calls = append(f.calls, "typing")
	return f.err
}

func (f *fakeDiscord) ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.calls = append(f.calls, "send: "+content)
	return &discordgo.Message{}, f.err
}

func (f *fakeDiscord) ChannelMessageSendReply(channelID string, content string, reference *discordgo.MessageReference, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.calls = append(f.calls, "reply: "+content)
	f.reference = reference
	return &discordgo.Message{}, f.err
}

func (f *fakeDiscord) InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error {
	f.calls = append(f.calls, "respond")
	f.responses = append(f.responses, resp)
	return f.err
}

func (f *fakeDiscord) InteractionResponse(interaction *discordgo.Interaction, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.calls = append(f.calls, "fetch reply")
	return &discordgo.Message{ID: "fetched"}, f.err
}

func (f *fakeDiscord) InteractionResponseEdit(interaction *discordgo.Interaction, newresp *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.calls = append(f.calls, "edit: "+*newresp.Content)
	return &discordgo.Message{ID: "reply-1"}, f.err
}

func (f *fakeDiscord) FollowupMessageCreate(interaction *discordgo.Interaction, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.calls = append(f.calls, "followup: "+data.Content)
	f.followups = append(f.followups, data)
	return &discordgo.Message{}, f.err
}

func (f *fakeDiscord) MessageThreadStartComplex(channelID, messageID string, data *discordgo.ThreadStart, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.calls = append(f.calls, "thread")
	f.thread, f.threadMsg = data, messageID
	return &discordgo.Channel{}, f.err
}

func TestDiscordKind(t *testing.T) {
	cases := map[discordgo.ChannelType]domain.ChannelKind{
		discordgo.ChannelTypeDM:                 domain.KindDirect,
		discordgo.ChannelTypeGroupDM:            domain.KindDirect,
		discordgo.ChannelTypeGuildText:          domain.KindGuildText,
		discordgo.ChannelTypeGuildPublicThread:  domain.KindThread,
		discordgo.ChannelTypeGuildPrivateThread: domain.KindThread,
		discordgo.ChannelTypeGuildNewsThread:    domain.KindThread,
		discordgo.ChannelTypeGuildVoice:         domain.KindOther,
		discordgo.ChannelTypeGuildNews:          domain.KindOther,
	}
	for in, want := range cases {
		if got := discordKind(in); got != want {
			t.Errorf("discordKind(%d) = %s, want %s", in, got, want)
		}
	}
}

func TestDiscordMessage(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	m := &discordgo.Message{
		ID:        "m2",
		ChannelID: "c1",
		Content:   "<@!1000> what now?",
		Timestamp: ts,
		Author:    &discordgo.User{ID: "42", Username: "alice"},
		Mentions:  []*discordgo.User{{ID: "1000"}},
		MessageReference: &discordgo.MessageReference{
			MessageID: "m1",
		},
		ReferencedMessage: &discordgo.Message{ID: "m1", Author: &discordgo.User{ID: "1000", Bot: true}},
	}

	got := discordMessage(m, domain.KindGuildText)
	want := domain.InboundMessage{
		ID:        "m2",
		Platform:  "discord",
		ChannelID: "c1",
		Author:    domain.Author{ID: "42", Tag: "alice"},
		Content:   "<@1000> what now?",
		Kind:      domain.KindGuildText,
		Mentions:  []string{"1000"},
		Reference: &domain.MessageReference{MessageID: "m1", AuthorID: "1000"},
		Timestamp: ts,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("message (-want +got):\n%s", diff)
	}
}

func TestDiscordMessage_UnresolvedReference(t *testing.T) {
	m := &discordgo.Message{
		ID:               "m2",
		Author:           &discordgo.User{ID: "42"},
		MessageReference: &discordgo.MessageReference{MessageID: "m1"},
	}
	got := discordMessage(m, domain.KindThread)
	if got.Reference == nil || got.Reference.AuthorID != "" {
		t.Fatalf("reference author should stay empty, got %+v", got.Reference)
	}
}

func TestDiscordCommands(t *testing.T) {
	specs := []domain.CommandSpec{{
		Name:        "ask",
		Description: "Ask Nitro AI a question",
		Options: []domain.CommandOption{
			{Name: "question", Description: "The question", Type: domain.OptionString, Required: true},
			{Name: "thread", Description: "Create a thread", Type: domain.OptionBool},
		},
	}}

	cmds := discordCommands(specs)
	if len(cmds) != 1 || cmds[0].Name != "ask" || len(cmds[0].Options) != 2 {
		t.Fatalf("unexpected commands %+v", cmds)
	}
	q, th := cmds[0].Options[0], cmds[0].Options[1]
	if q.Type != discordgo.ApplicationCommandOptionString || !q.Required {
		t.Fatalf("question option wrong: %+v", q)
	}
	if th.Type != discordgo.ApplicationCommandOptionBoolean || th.Required {
		t.Fatalf("thread option wrong: %+v", th)
	}
}

func TestDiscordInvocation(t *testing.T) {
	i := &discordgo.Interaction{
		Type:      discordgo.InteractionApplicationCommand,
		ChannelID: "c1",
		Member:    &discordgo.Member{User: &discordgo.User{ID: "42", Username: "alice"}},
		Data: discordgo.ApplicationCommandInteractionData{
			Name: "ask",
			Options: []*discordgo.ApplicationCommandInteractionDataOption{
				{Name: "question", Type: discordgo.ApplicationCommandOptionString, Value: "why?"},
				{Name: "thread", Type: discordgo.ApplicationCommandOptionBoolean, Value: true},
			},
		},
	}

	inv := discordInvocation(i, domain.KindGuildText)
	if inv.Name != "ask" || inv.User.ID != "42" || inv.Kind != domain.KindGuildText {
		t.Fatalf("unexpected invocation %+v", inv)
	}
	if inv.String("question") != "why?" || !inv.Bool("thread") {
		t.Fatalf("options not mapped: %+v", inv)
	}
}

func TestDiscordInvocation_DirectMessageUser(t *testing.T) {
	i := &discordgo.Interaction{
		Type: discordgo.InteractionApplicationCommand,
		User: &discordgo.User{ID: "7"},
		Data: discordgo.ApplicationCommandInteractionData{Name: "help"},
	}
	if inv := discordInvocation(i, domain.KindDirect); inv.User.ID != "7" {
		t.Fatalf("expected DM user, got %+v", inv.User)
	}
}

func TestDiscordChannel(t *testing.T) {
	api := &fakeDiscord{history: []*discordgo.Message{
		{ID: "3", Author: &discordgo.User{ID: "1000", Bot: true}, Content: "answer"},
		{ID: "2", Author: &discordgo.User{ID: "42"}, Content: "question"},
	}}
	ch := &discordChannel{api: api, channelID: "c1", guildID: "g1", kind: domain.KindThread}
	ctx := context.Background()

	msgs, err := ch.FetchBefore(ctx, "4", 500)
	if err != nil {
		t.Fatal(err)
	}
	if api.before != "4" || api.limit != discordMaxFetch {
		t.Fatalf("expected before=4 limit=%d, got %q %d", discordMaxFetch, api.before, api.limit)
	}
	if len(msgs) != 2 || msgs[0].ID != "3" || msgs[0].Kind != domain.KindThread || !msgs[0].Author.Bot {
		t.Fatalf("history not converted in order: %+v", msgs)
	}

	if err := ch.Reply(ctx, "4", "hi"); err != nil {
		t.Fatal(err)
	}
	if api.reference.MessageID != "4" || api.reference.GuildID != "g1" {
		t.Fatalf("reply reference wrong: %+v", api.reference)
	}
}

func TestDiscordChannel_FetchError(t *testing.T) {
	api := &fakeDiscord{err: errors.New("missing access")}
	ch := &discordChannel{api: api, channelID: "c1"}
	if _, err := ch.FetchBefore(context.Background(), "", 20); err == nil {
		t.Fatal("expected fetch error")
	}
	if _, err := ch.FetchMessage(context.Background(), "9"); err == nil {
		t.Fatal("expected fetch error")
	}
}

func TestDiscordResponder_AskFlow(t *testing.T) {
	api := &fakeDiscord{}
	r := newDiscordResponder(api, &discordgo.Interaction{ChannelID: "c1"})
	ctx := context.Background()

	if err := r.Defer(ctx); err != nil {
		t.Fatal(err)
	}
	if !r.Acknowledged() {
		t.Fatal("Defer should acknowledge")
	}
	r.EditReply(ctx, "part 1")
	r.FollowUp(ctx, "part 2", false)
	if err := r.StartThread(ctx, "why?"); err != nil {
		t.Fatal(err)
	}

	want := []string{"respond", "edit: part 1", "followup: part 2", "thread"}
	if diff := cmp.Diff(want, api.calls); diff != "" {
		t.Fatalf("calls (-want +got):\n%s", diff)
	}
	if api.responses[0].Type != discordgo.InteractionResponseDeferredChannelMessageWithSource {
		t.Fatal("Defer should send a deferred response")
	}
	if api.threadMsg != "reply-1" || api.thread.Name != "why?" || api.thread.AutoArchiveDuration != 60 {
		t.Fatalf("thread started on wrong message: %q %+v", api.threadMsg, api.thread)
	}
}

func TestDiscordResponder_StartThreadFetchesReply(t *testing.T) {
	api := &fakeDiscord{}
	r := newDiscordResponder(api, &discordgo.Interaction{ChannelID: "c1"})
	if err := r.StartThread(context.Background(), "t"); err != nil {
		t.Fatal(err)
	}
	if api.threadMsg != "fetched" {
		t.Fatalf("expected the fetched reply id, got %q", api.threadMsg)
	}
}

func TestDiscordResponder_EphemeralFlags(t *testing.T) {
	api := &fakeDiscord{}
	r := newDiscordResponder(api, &discordgo.Interaction{})
	ctx := context.Background()

	r.Reply(ctx, "secret", true)
	r.FollowUp(ctx, "also secret", true)

	if api.responses[0].Data.Flags != discordgo.MessageFlagsEphemeral {
		t.Fatal("reply should be ephemeral")
	}
	if api.followups[0].Flags != discordgo.MessageFlagsEphemeral {
		t.Fatal("follow-up should be ephemeral")
	}
}

func TestDiscordResponder_DeferError(t *testing.T) {
	r := newDiscordResponder(&fakeDiscord{err: errors.New("unknown interaction")}, &discordgo.Interaction{})
	if err := r.Defer(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if r.Acknowledged() {
		t.Fatal("failed Defer must not acknowledge")
	}
}
