package channels

import (
	"fmt"

	"github.com/tinyland-inc/qunbridge/pkg/bus"
	"github.com/tinyland-inc/qunbridge/pkg/config"
)

// NewTransport builds the transport selected by bridge.transport.
func NewTransport(cfg *config.Config) (Transport, error) {
	ch := cfg.Channels
	switch cfg.Bridge.Transport {
	case "onebot", "":
		return NewOneBotTransport(ch.OneBot), nil
	case "qq":
		return NewQQTransport(ch.QQ), nil
	case "discord":
		return NewDiscordTransport(ch.Discord), nil
	case "slack":
		return NewSlackTransport(ch.Slack), nil
	case "telegram":
		return NewTelegramTransport(ch.Telegram), nil
	case "mattermost":
		return NewMattermostTransport(ch.Mattermost), nil
	case "feishu":
		return NewFeishuTransport(ch.Feishu), nil
	case "memory":
		// a single local group carrying the configured name
		return NewMemoryTransport([]bus.Group{{ID: "local", Name: cfg.Bridge.GroupName}}, nil), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Bridge.Transport)
	}
}
