package channels

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	"github.com/larksuite/oapi-sdk-go/v3/event/dispatcher"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	larkws "github.com/larksuite/oapi-sdk-go/v3/ws"

	"github.com/tinyland-inc/qunbridge/pkg/bus"
	"github.com/tinyland-inc/qunbridge/pkg/config"
	"github.com/tinyland-inc/qunbridge/pkg/logger"
)

// feishuAPI is the REST surface the transport needs.
type feishuAPI interface {
	listChats(ctx context.Context) ([]bus.Group, error)
	sendText(ctx context.Context, chatID, text string) error
}

// FeishuTransport maps the chats a Feishu/Lark app bot belongs to onto
// groups. Inbound events arrive over the long-lived event websocket.
type FeishuTransport struct {
	*BaseTransport
	config config.FeishuConfig

	mu     sync.Mutex
	api    feishuAPI
	cancel context.CancelFunc
}

func NewFeishuTransport(cfg config.FeishuConfig) *FeishuTransport {
	return &FeishuTransport{
		BaseTransport: NewBaseTransport("feishu", cfg.AllowFrom),
		config:        cfg,
	}
}

func (f *FeishuTransport) Connect(ctx context.Context, handlers Handlers) error {
	if f.config.AppID == "" || f.config.AppSecret == "" {
		return errors.New("feishu app_id and app_secret are required")
	}

	domain := strings.TrimSpace(f.config.BaseDomain)

	var clientOpts []lark.ClientOptionFunc
	if domain != "" {
		clientOpts = append(clientOpts, lark.WithOpenBaseUrl(domain))
	}
	api := &sdkFeishuAPI{client: lark.NewClient(f.config.AppID, f.config.AppSecret, clientOpts...)}

	// listing chats doubles as a credential check
	if _, err := api.listChats(ctx); err != nil {
		return fmt.Errorf("verify feishu credentials: %w", err)
	}

	d := dispatcher.NewEventDispatcher(f.config.VerificationToken, f.config.EncryptKey)
	d.OnP2MessageReceiveV1(f.handleMessage)

	wsOpts := []larkws.ClientOption{
		larkws.WithEventHandler(d),
		larkws.WithLogLevel(larkcore.LogLevelWarn),
	}
	if domain != "" {
		wsOpts = append(wsOpts, larkws.WithDomain(domain))
	}
	ws := larkws.NewClient(f.config.AppID, f.config.AppSecret, wsOpts...)

	// the websocket client has no Stop; cancelling its context shuts it down
	wsCtx, cancel := context.WithCancel(context.Background())

	f.mu.Lock()
	f.api = api
	f.cancel = cancel
	f.mu.Unlock()

	f.SetHandlers(handlers)
	f.SetRunning(true)

	go func() {
		err := ws.Start(wsCtx)
		if wsCtx.Err() != nil {
			return
		}
		if err == nil {
			err = errors.New("feishu event stream ended")
		}
		f.HandleDisconnect(err)
	}()

	logger.InfoCF("feishu", "Connected", map[string]any{"app_id": f.config.AppID})
	return nil
}

func (f *FeishuTransport) ListGroups(ctx context.Context) ([]bus.Group, error) {
	api := f.current()
	if api == nil || !f.IsRunning() {
		return nil, ErrNotRunning
	}
	return api.listChats(ctx)
}

func (f *FeishuTransport) SendToGroup(ctx context.Context, groupID bus.GroupID, text string) error {
	api := f.current()
	if api == nil || !f.IsRunning() {
		return ErrNotRunning
	}
	return api.sendText(ctx, string(groupID), text)
}

func (f *FeishuTransport) Close() error {
	f.SetRunning(false)

	f.mu.Lock()
	cancel := f.cancel
	f.cancel = nil
	f.api = nil
	f.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

func (f *FeishuTransport) current() feishuAPI {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.api
}

func (f *FeishuTransport) handleMessage(_ context.Context, event *larkim.P2MessageReceiveV1) error {
	if event == nil || event.Event == nil || event.Event.Message == nil {
		return nil
	}
	msg := event.Event.Message
	if deref(msg.ChatType) != "group" {
		return nil
	}
	if deref(msg.MessageType) != "text" {
		return nil
	}

	var senderID string
	if s := event.Event.Sender; s != nil {
		if deref(s.SenderType) == "app" {
			return nil
		}
		if s.SenderId != nil {
			senderID = deref(s.SenderId.OpenId)
		}
	}

	f.HandleMessage(
		bus.GroupID(deref(msg.ChatId)),
		senderID,
		deref(msg.MessageId),
		feishuText(deref(msg.Content)),
		map[string]string{"chat_type": deref(msg.ChatType)},
	)
	return nil
}

// feishuText extracts the body of a text message, {"text":"..."}.
func feishuText(raw string) string {
	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return strings.TrimSpace(raw)
	}
	return strings.TrimSpace(parsed.Text)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

type sdkFeishuAPI struct {
	client *lark.Client
}

func (a *sdkFeishuAPI) listChats(ctx context.Context) ([]bus.Group, error) {
	var groups []bus.Group
	pageToken := ""
	for {
		b := larkim.NewListChatReqBuilder().PageSize(100)
		if pageToken != "" {
			b = b.PageToken(pageToken)
		}
		resp, err := a.client.Im.Chat.List(ctx, b.Build())
		if err != nil {
			return nil, fmt.Errorf("list chats: %w", err)
		}
		if !resp.Success() {
			return nil, fmt.Errorf("list chats: code %d: %s", resp.Code, resp.Msg)
		}
		if resp.Data == nil {
			return groups, nil
		}
		for _, item := range resp.Data.Items {
			if item == nil || item.ChatId == nil {
				continue
			}
			groups = append(groups, bus.Group{
				ID:   bus.GroupID(*item.ChatId),
				Name: deref(item.Name),
			})
		}
		if resp.Data.HasMore == nil || !*resp.Data.HasMore {
			return groups, nil
		}
		pageToken = deref(resp.Data.PageToken)
		if pageToken == "" {
			return groups, nil
		}
	}
}

func (a *sdkFeishuAPI) sendText(ctx context.Context, chatID, text string) error {
	content, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(larkim.ReceiveIdTypeChatId).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(chatID).
			MsgType(larkim.MsgTypeText).
			Content(string(content)).
			Build()).
		Build()

	resp, err := a.client.Im.Message.Create(ctx, req)
	if err != nil {
		return fmt.Errorf("send chat message: %w", err)
	}
	if !resp.Success() {
		return fmt.Errorf("send chat message: code %d: %s", resp.Code, resp.Msg)
	}
	return nil
}

var _ Transport = (*FeishuTransport)(nil)
