package channels

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/tinyland-inc/qunbridge/pkg/bus"
	"github.com/tinyland-inc/qunbridge/pkg/config"
	"github.com/tinyland-inc/qunbridge/pkg/logger"
)

// TelegramTransport long-polls the Bot API. Bots cannot enumerate their
// chats, so the group list is built from the configured chat ids.
type TelegramTransport struct {
	*BaseTransport
	config config.TelegramConfig

	mu     sync.Mutex
	bot    *telego.Bot
	cancel context.CancelFunc
	done   chan struct{}
}

func NewTelegramTransport(cfg config.TelegramConfig) *TelegramTransport {
	return &TelegramTransport{
		BaseTransport: NewBaseTransport("telegram", cfg.AllowFrom),
		config:        cfg,
	}
}

func (t *TelegramTransport) Connect(ctx context.Context, handlers Handlers) error {
	if t.config.Token == "" {
		return errors.New("telegram token is required")
	}

	bot, err := telego.NewBot(t.config.Token)
	if err != nil {
		return fmt.Errorf("create telegram bot: %w", err)
	}
	me, err := bot.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("telegram getMe: %w", err)
	}
	t.SetSelfID(strconv.FormatInt(me.ID, 10))

	runCtx, cancel := context.WithCancel(context.Background())
	updates, err := bot.UpdatesViaLongPolling(runCtx, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	done := make(chan struct{})
	t.mu.Lock()
	t.bot = bot
	t.cancel = cancel
	t.done = done
	t.mu.Unlock()

	t.SetHandlers(handlers)
	t.SetRunning(true)

	go func() {
		defer close(done)
		for update := range updates {
			t.handleUpdate(update)
		}
		if runCtx.Err() == nil {
			t.HandleDisconnect(errors.New("telegram update channel closed"))
		}
	}()

	logger.InfoCF("telegram", "Connected", map[string]any{"username": me.Username})
	return nil
}

func (t *TelegramTransport) ListGroups(ctx context.Context) ([]bus.Group, error) {
	bot := t.current()
	if bot == nil || !t.IsRunning() {
		return nil, ErrNotRunning
	}

	groups := make([]bus.Group, 0, len(t.config.ChatIDs))
	for _, raw := range t.config.ChatIDs {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			logger.WarnCF("telegram", "Skipping malformed chat id", map[string]any{"chat_id": raw})
			continue
		}
		chat, err := bot.GetChat(ctx, &telego.GetChatParams{ChatID: tu.ID(id)})
		if err != nil {
			return nil, fmt.Errorf("get chat %d: %w", id, err)
		}
		groups = append(groups, bus.Group{ID: bus.GroupID(raw), Name: chat.Title})
	}
	return groups, nil
}

func (t *TelegramTransport) SendToGroup(ctx context.Context, groupID bus.GroupID, text string) error {
	bot := t.current()
	if bot == nil || !t.IsRunning() {
		return ErrNotRunning
	}
	id, err := strconv.ParseInt(string(groupID), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrUnknownGroup, groupID)
	}
	if _, err := bot.SendMessage(ctx, tu.Message(tu.ID(id), text)); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

func (t *TelegramTransport) Close() error {
	t.SetRunning(false)

	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel = nil
	t.bot = nil
	t.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

func (t *TelegramTransport) current() *telego.Bot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bot
}

func (t *TelegramTransport) handleUpdate(update telego.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Text == "" {
		return
	}
	if msg.Chat.Type != telego.ChatTypeGroup && msg.Chat.Type != telego.ChatTypeSupergroup {
		return
	}

	senderID := strconv.FormatInt(msg.From.ID, 10)
	if msg.From.Username != "" {
		senderID = senderID + "|" + msg.From.Username
	}
	t.HandleMessage(
		bus.GroupID(strconv.FormatInt(msg.Chat.ID, 10)),
		senderID,
		strconv.Itoa(msg.MessageID),
		msg.Text,
		map[string]string{"chat_title": msg.Chat.Title},
	)
}

var _ Transport = (*TelegramTransport)(nil)
