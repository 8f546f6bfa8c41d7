package channels

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/tinyland-inc/qunbridge/pkg/bus"
	"github.com/tinyland-inc/qunbridge/pkg/config"
	"github.com/tinyland-inc/qunbridge/pkg/logger"
)

// DiscordTransport maps guild text channels to groups named
// "<guild>#<channel>".
type DiscordTransport struct {
	*BaseTransport
	config config.DiscordConfig

	mu      sync.Mutex
	session *discordgo.Session
}

func NewDiscordTransport(cfg config.DiscordConfig) *DiscordTransport {
	return &DiscordTransport{
		BaseTransport: NewBaseTransport("discord", cfg.AllowFrom),
		config:        cfg,
	}
}

func (d *DiscordTransport) Connect(ctx context.Context, handlers Handlers) error {
	if d.config.Token == "" {
		return errors.New("discord token is required")
	}

	session, err := discordgo.New("Bot " + d.config.Token)
	if err != nil {
		return fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentMessageContent

	session.AddHandler(d.handleMessage)

	if err := session.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	if err := ctx.Err(); err != nil {
		_ = session.Close()
		return err
	}

	if session.State != nil && session.State.User != nil {
		d.SetSelfID(session.State.User.ID)
	}

	d.mu.Lock()
	d.session = session
	d.mu.Unlock()

	d.SetHandlers(handlers)
	d.SetRunning(true)

	logger.InfoCF("discord", "Connected", map[string]any{"user_id": d.SelfID()})
	return nil
}

func (d *DiscordTransport) ListGroups(ctx context.Context) ([]bus.Group, error) {
	session := d.current()
	if session == nil || !d.IsRunning() {
		return nil, ErrNotRunning
	}

	guilds, err := session.UserGuilds(100, "", "", false, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("list guilds: %w", err)
	}

	var groups []bus.Group
	for _, g := range guilds {
		channels, err := session.GuildChannels(g.ID, discordgo.WithContext(ctx))
		if err != nil {
			logger.WarnCF("discord", "Failed to list guild channels", map[string]any{
				"guild": g.Name,
				"error": err.Error(),
			})
			continue
		}
		for _, ch := range channels {
			if ch.Type != discordgo.ChannelTypeGuildText {
				continue
			}
			groups = append(groups, bus.Group{
				ID:   bus.GroupID(ch.ID),
				Name: g.Name + "#" + ch.Name,
			})
		}
	}
	return groups, nil
}

func (d *DiscordTransport) SendToGroup(ctx context.Context, groupID bus.GroupID, text string) error {
	session := d.current()
	if session == nil || !d.IsRunning() {
		return ErrNotRunning
	}
	if _, err := session.ChannelMessageSend(string(groupID), text, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("send channel message: %w", err)
	}
	return nil
}

func (d *DiscordTransport) Close() error {
	d.SetRunning(false)

	d.mu.Lock()
	session := d.session
	d.session = nil
	d.mu.Unlock()

	if session == nil {
		return nil
	}
	return session.Close()
}

func (d *DiscordTransport) current() *discordgo.Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.session
}

func (d *DiscordTransport) handleMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m == nil || m.Author == nil || m.GuildID == "" {
		return
	}
	if m.Author.Bot {
		return
	}

	senderID := m.Author.ID
	if m.Author.Username != "" {
		senderID = senderID + "|" + m.Author.Username
	}
	d.HandleMessage(
		bus.GroupID(m.ChannelID),
		senderID,
		m.ID,
		strings.TrimSpace(m.Content),
		map[string]string{"guild_id": m.GuildID},
	)
}

var _ Transport = (*DiscordTransport)(nil)
