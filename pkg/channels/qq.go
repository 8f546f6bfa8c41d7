package channels

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tencent-connect/botgo"
	"github.com/tencent-connect/botgo/dto"
	"github.com/tencent-connect/botgo/event"
	"github.com/tencent-connect/botgo/openapi"
	"github.com/tencent-connect/botgo/token"

	"github.com/tinyland-inc/qunbridge/pkg/bus"
	"github.com/tinyland-inc/qunbridge/pkg/config"
	"github.com/tinyland-inc/qunbridge/pkg/logger"
)

// QQTransport uses the official QQ bot open platform. Group bots only see
// messages that @-mention them, and groups are addressed by openid.
type QQTransport struct {
	*BaseTransport
	config config.QQConfig

	mu     sync.Mutex
	api    openapi.OpenAPI
	cancel context.CancelFunc
}

func NewQQTransport(cfg config.QQConfig) *QQTransport {
	return &QQTransport{
		BaseTransport: NewBaseTransport("qq", cfg.AllowFrom),
		config:        cfg,
	}
}

func (c *QQTransport) Connect(ctx context.Context, handlers Handlers) error {
	if c.config.AppID == "" || c.config.AppSecret == "" {
		return errors.New("qq app_id and app_secret are required")
	}

	// The token refresher and the websocket session outlive the connect
	// call, so they run on their own context cancelled by Close.
	runCtx, cancel := context.WithCancel(context.Background())

	credentials := &token.QQBotCredentials{
		AppID:     c.config.AppID,
		AppSecret: c.config.AppSecret,
	}
	ts := token.NewQQBotTokenSource(credentials)
	if err := token.StartRefreshAccessToken(runCtx, ts); err != nil {
		cancel()
		return fmt.Errorf("start token refresh: %w", err)
	}

	api := botgo.NewOpenAPI(c.config.AppID, ts).WithTimeout(5 * time.Second)
	wsInfo, err := api.WS(ctx, nil, "")
	if err != nil {
		cancel()
		return fmt.Errorf("get websocket info: %w", err)
	}

	intent := event.RegisterHandlers(c.handleGroupATMessage())

	c.mu.Lock()
	c.api = api
	c.cancel = cancel
	c.mu.Unlock()

	c.SetHandlers(handlers)
	c.SetRunning(true)

	go func() {
		sessionManager := botgo.NewSessionManager()
		if err := sessionManager.Start(wsInfo, ts, &intent); err != nil {
			c.HandleDisconnect(err)
		}
	}()

	logger.InfoCF("qq", "Connected", map[string]any{
		"app_id": c.config.AppID,
		"shards": wsInfo.Shards,
	})
	return nil
}

// ListGroups returns the configured name -> openid table; the open platform
// offers no endpoint listing the groups a bot belongs to.
func (c *QQTransport) ListGroups(ctx context.Context) ([]bus.Group, error) {
	if !c.IsRunning() {
		return nil, ErrNotRunning
	}
	return groupsFromMap(c.config.Groups), nil
}

func (c *QQTransport) SendToGroup(ctx context.Context, groupID bus.GroupID, text string) error {
	if !c.IsRunning() {
		return ErrNotRunning
	}
	c.mu.Lock()
	api := c.api
	c.mu.Unlock()
	if api == nil {
		return ErrNotRunning
	}

	msg := &dto.MessageToCreate{Content: text}
	if _, err := api.PostGroupMessage(ctx, string(groupID), msg); err != nil {
		return fmt.Errorf("post group message: %w", err)
	}
	return nil
}

// Close stops token refresh. botgo's session manager has no stop hook, so its
// goroutine is abandoned and further events are dropped by HandleMessage.
func (c *QQTransport) Close() error {
	c.SetRunning(false)

	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.api = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

func (c *QQTransport) handleGroupATMessage() event.GroupATMessageEventHandler {
	return func(_ *dto.WSPayload, data *dto.WSGroupATMessageData) error {
		if data == nil || data.Author == nil {
			return nil
		}
		c.HandleMessage(
			bus.GroupID(data.GroupID),
			data.Author.ID,
			data.ID,
			data.Content,
			nil,
		)
		return nil
	}
}

// groupsFromMap turns a configured name -> id table into a group list
// sorted by name.
func groupsFromMap(m map[string]string) []bus.Group {
	groups := make([]bus.Group, 0, len(m))
	for name, id := range m {
		groups = append(groups, bus.Group{ID: bus.GroupID(id), Name: name})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })
	return groups
}

var _ Transport = (*QQTransport)(nil)
