package channels

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/bwmarrin/discordgo"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"github.com/mattermost/mattermost/server/public/model"
	"github.com/mymmrac/telego"
	"github.com/slack-go/slack/slackevents"

	"github.com/tinyland-inc/qunbridge/pkg/bus"
	"github.com/tinyland-inc/qunbridge/pkg/config"
)

func collect(t *testing.T, bt *BaseTransport) *[]bus.InboundMessage {
	t.Helper()
	var got []bus.InboundMessage
	bt.SetHandlers(Handlers{OnMessage: func(m bus.InboundMessage) { got = append(got, m) }})
	bt.SetRunning(true)
	return &got
}

func TestBaseTransport_IsAllowed(t *testing.T) {
	tests := []struct {
		name      string
		allowList []string
		senderID  string
		want      bool
	}{
		{"empty list allows all", nil, "anyone", true},
		{"exact id", []string{"42"}, "42", true},
		{"compound sender matches id", []string{"42"}, "42|alice", true},
		{"compound sender matches @username", []string{"@alice"}, "42|alice", true},
		{"compound allow entry", []string{"42|alice"}, "42", true},
		{"not listed", []string{"42"}, "43", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bt := NewBaseTransport("test", tt.allowList)
			if got := bt.IsAllowed(tt.senderID); got != tt.want {
				t.Errorf("IsAllowed(%q): got %v, want %v", tt.senderID, got, tt.want)
			}
		})
	}
}

func TestBaseTransport_HandleMessageFilters(t *testing.T) {
	bt := NewBaseTransport("test", []string{"42", "7"})
	got := collect(t, bt)
	bt.SetSelfID("7")

	bt.HandleMessage("g1", "42", "m1", "question?", nil)
	bt.HandleMessage("g1", "43", "m2", "not allowed", nil)
	bt.HandleMessage("g1", "7", "m3", "own echo", nil)
	bt.HandleMessage("g1", "7|bot", "m4", "own echo", nil)

	bt.SetRunning(false)
	bt.HandleMessage("g1", "42", "m5", "after close", nil)

	if len(*got) != 1 {
		t.Fatalf("delivered: got %d, want 1", len(*got))
	}
	if m := (*got)[0]; m.MessageID != "m1" || m.Transport != "test" || m.GroupID != "g1" {
		t.Errorf("unexpected message %+v", m)
	}
}

func TestBaseTransport_DisconnectReportedOnce(t *testing.T) {
	bt := NewBaseTransport("test", nil)
	calls := 0
	bt.SetHandlers(Handlers{OnDisconnect: func(error) { calls++ }})
	bt.SetRunning(true)

	bt.HandleDisconnect(errors.New("reset"))
	bt.HandleDisconnect(errors.New("reset again"))

	if calls != 1 {
		t.Errorf("OnDisconnect calls: got %d, want 1", calls)
	}
	if bt.IsRunning() {
		t.Error("still running after disconnect")
	}
}

func TestMemoryTransport_Lifecycle(t *testing.T) {
	groups := []bus.Group{{ID: "1", Name: "a"}}
	var hooked []SentMessage
	m := NewMemoryTransport(groups, nil, WithSendHook(func(s SentMessage) { hooked = append(hooked, s) }))
	ctx := context.Background()

	if _, err := m.ListGroups(ctx); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("ListGroups before connect: got %v, want ErrNotRunning", err)
	}
	if err := m.SendToGroup(ctx, "1", "x"); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("SendToGroup before connect: got %v, want ErrNotRunning", err)
	}

	if err := m.Connect(ctx, Handlers{}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	listed, err := m.ListGroups(ctx)
	if err != nil || len(listed) != 1 {
		t.Fatalf("ListGroups: got %v, %v", listed, err)
	}
	if err := m.SendToGroup(ctx, "1", "hello"); err != nil {
		t.Fatalf("SendToGroup: %v", err)
	}
	if len(m.Sent()) != 1 || len(hooked) != 1 {
		t.Errorf("sent: got %d recorded, %d hooked", len(m.Sent()), len(hooked))
	}

	_ = m.Close()
	_ = m.Close()
	if m.Closes() != 2 || m.Connects() != 1 {
		t.Errorf("counters: connects=%d closes=%d", m.Connects(), m.Closes())
	}
}

func TestMemoryTransport_ConnectGateHonoursContext(t *testing.T) {
	gate := make(chan struct{})
	m := NewMemoryTransport(nil, nil, WithConnectGate(gate))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.Connect(ctx, Handlers{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if m.IsRunning() {
		t.Error("running after cancelled connect")
	}
}

func TestGroupsFromMap_SortedByName(t *testing.T) {
	groups := groupsFromMap(map[string]string{"b": "2", "a": "1"})
	if len(groups) != 2 || groups[0].Name != "a" || groups[1].ID != "2" {
		t.Errorf("got %+v", groups)
	}
}

func TestNewTransport(t *testing.T) {
	cfg := config.DefaultConfig()
	for _, name := range []string{"onebot", "qq", "discord", "slack", "telegram", "mattermost", "feishu", "memory"} {
		cfg.Bridge.Transport = name
		tr, err := NewTransport(cfg)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if tr.Name() != name {
			t.Errorf("name: got %q, want %q", tr.Name(), name)
		}
	}

	cfg.Bridge.Transport = "irc"
	if _, err := NewTransport(cfg); err == nil {
		t.Error("expected error for unknown transport")
	}
}

func TestDiscordTransport_HandleMessage(t *testing.T) {
	d := NewDiscordTransport(config.DiscordConfig{})
	got := collect(t, d.BaseTransport)

	d.handleMessage(nil, &discordgo.MessageCreate{Message: &discordgo.Message{
		ID: "1", ChannelID: "c", GuildID: "g", Content: " hi? ",
		Author: &discordgo.User{ID: "u", Username: "alice"},
	}})
	// direct messages and bots are skipped
	d.handleMessage(nil, &discordgo.MessageCreate{Message: &discordgo.Message{
		ID: "2", ChannelID: "dm", Author: &discordgo.User{ID: "u"},
	}})
	d.handleMessage(nil, &discordgo.MessageCreate{Message: &discordgo.Message{
		ID: "3", ChannelID: "c", GuildID: "g", Author: &discordgo.User{ID: "b", Bot: true},
	}})

	if len(*got) != 1 {
		t.Fatalf("delivered: got %d, want 1", len(*got))
	}
	m := (*got)[0]
	if m.SenderID != "u|alice" || m.Content != "hi?" || m.GroupID != "c" {
		t.Errorf("unexpected message %+v", m)
	}
}

func feishuEvent(id, chatID, chatType, msgType, content, openID, senderType string) *larkim.P2MessageReceiveV1 {
	return &larkim.P2MessageReceiveV1{Event: &larkim.P2MessageReceiveV1Data{
		Message: &larkim.EventMessage{
			MessageId:   &id,
			ChatId:      &chatID,
			ChatType:    &chatType,
			MessageType: &msgType,
			Content:     &content,
		},
		Sender: &larkim.EventSender{
			SenderId:   &larkim.UserId{OpenId: &openID},
			SenderType: &senderType,
		},
	}}
}

func TestFeishuTransport_HandleMessage(t *testing.T) {
	f := NewFeishuTransport(config.FeishuConfig{})
	got := collect(t, f.BaseTransport)
	ctx := context.Background()

	_ = f.handleMessage(ctx, feishuEvent("om_1", "oc_g", "group", "text", `{"text":" hi? "}`, "ou_alice", "user"))
	// private chats, app senders and non-text messages are skipped
	_ = f.handleMessage(ctx, feishuEvent("om_2", "oc_p", "p2p", "text", `{"text":"dm"}`, "ou_alice", "user"))
	_ = f.handleMessage(ctx, feishuEvent("om_3", "oc_g", "group", "text", `{"text":"bot"}`, "ou_bot", "app"))
	_ = f.handleMessage(ctx, feishuEvent("om_4", "oc_g", "group", "image", `{"image_key":"k"}`, "ou_alice", "user"))
	_ = f.handleMessage(ctx, &larkim.P2MessageReceiveV1{})

	if len(*got) != 1 {
		t.Fatalf("delivered: got %d, want 1", len(*got))
	}
	m := (*got)[0]
	if m.GroupID != "oc_g" || m.SenderID != "ou_alice" || m.MessageID != "om_1" || m.Content != "hi?" {
		t.Errorf("unexpected message %+v", m)
	}
	if m.Metadata["chat_type"] != "group" {
		t.Errorf("metadata: got %v", m.Metadata)
	}
}

type fakeFeishuAPI struct {
	groups []bus.Group
	sent   map[string][]string
}

func (a *fakeFeishuAPI) listChats(context.Context) ([]bus.Group, error) { return a.groups, nil }

func (a *fakeFeishuAPI) sendText(_ context.Context, chatID, text string) error {
	if a.sent == nil {
		a.sent = map[string][]string{}
	}
	a.sent[chatID] = append(a.sent[chatID], text)
	return nil
}

func TestFeishuTransport_ListAndSend(t *testing.T) {
	f := NewFeishuTransport(config.FeishuConfig{})
	ctx := context.Background()

	if _, err := f.ListGroups(ctx); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("list before connect: got %v", err)
	}

	api := &fakeFeishuAPI{groups: []bus.Group{{ID: "oc_g", Name: "黑客派"}}}
	f.api = api
	f.SetRunning(true)

	groups, err := f.ListGroups(ctx)
	if err != nil || len(groups) != 1 || groups[0].Name != "黑客派" {
		t.Fatalf("groups: got %+v, %v", groups, err)
	}
	if err := f.SendToGroup(ctx, "oc_g", "新文章"); err != nil {
		t.Fatal(err)
	}
	if len(api.sent["oc_g"]) != 1 {
		t.Errorf("sent: got %v", api.sent)
	}

	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.SendToGroup(ctx, "oc_g", "late"); !errors.Is(err, ErrNotRunning) {
		t.Errorf("send after close: got %v", err)
	}
}

func TestFeishuTransport_ConnectRequiresCredentials(t *testing.T) {
	f := NewFeishuTransport(config.FeishuConfig{AppID: "cli_x"})
	if err := f.Connect(context.Background(), Handlers{}); err == nil {
		t.Error("expected error without app secret")
	}
}

func TestSlackTransport_HandleMessage(t *testing.T) {
	s := NewSlackTransport(config.SlackConfig{})
	got := collect(t, s.BaseTransport)

	s.handleMessage(&slackevents.MessageEvent{Channel: "C1", User: "U1", Text: "question?", TimeStamp: "1.0"})
	s.handleMessage(&slackevents.MessageEvent{Channel: "C1", User: "U1", SubType: "message_changed"})
	s.handleMessage(&slackevents.MessageEvent{Channel: "C1", BotID: "B1", Text: "bot"})

	if len(*got) != 1 || (*got)[0].GroupID != "C1" {
		t.Errorf("got %+v", *got)
	}
}

func TestTelegramTransport_HandleUpdate(t *testing.T) {
	tg := NewTelegramTransport(config.TelegramConfig{})
	got := collect(t, tg.BaseTransport)

	tg.handleUpdate(telego.Update{Message: &telego.Message{
		MessageID: 9,
		Chat:      telego.Chat{ID: -100123, Type: telego.ChatTypeSupergroup, Title: "黑客派"},
		From:      &telego.User{ID: 5, Username: "bob"},
		Text:      "hello there?",
	}})
	tg.handleUpdate(telego.Update{Message: &telego.Message{
		Chat: telego.Chat{ID: 5, Type: telego.ChatTypePrivate},
		From: &telego.User{ID: 5},
		Text: "private",
	}})

	if len(*got) != 1 {
		t.Fatalf("delivered: got %d, want 1", len(*got))
	}
	m := (*got)[0]
	if m.GroupID != "-100123" || m.SenderID != "5|bob" || m.MessageID != "9" {
		t.Errorf("unexpected message %+v", m)
	}
}

func TestMattermostTransport_HandleEvent(t *testing.T) {
	mm := NewMattermostTransport(config.MattermostConfig{})
	got := collect(t, mm.BaseTransport)

	post, _ := json.Marshal(&model.Post{Id: "p1", ChannelId: "ch1", UserId: "u1", Message: "how to?"})
	evt := model.NewWebSocketEvent(model.WebsocketEventPosted, "", "ch1", "", nil, "")
	mm.handleEvent(evt.SetData(map[string]any{"post": string(post)}))

	joined, _ := json.Marshal(&model.Post{Id: "p2", ChannelId: "ch1", UserId: "u2", Type: model.PostTypeJoinChannel})
	evt = model.NewWebSocketEvent(model.WebsocketEventPosted, "", "ch1", "", nil, "")
	mm.handleEvent(evt.SetData(map[string]any{"post": string(joined)}))

	mm.handleEvent(model.NewWebSocketEvent(model.WebsocketEventChannelViewed, "", "ch1", "", nil, ""))

	if len(*got) != 1 {
		t.Fatalf("delivered: got %d, want 1", len(*got))
	}
	if m := (*got)[0]; m.GroupID != "ch1" || m.SenderID != "u1" || m.Content != "how to?" {
		t.Errorf("unexpected message %+v", m)
	}
}

func TestHTTPToWS(t *testing.T) {
	if got := httpToWS("https://mm.example.com"); got != "wss://mm.example.com" {
		t.Errorf("got %q", got)
	}
	if got := httpToWS("http://localhost:8065"); got != "ws://localhost:8065" {
		t.Errorf("got %q", got)
	}
}
