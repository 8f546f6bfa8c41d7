package channels

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/tinyland-inc/qunbridge/pkg/bus"
	"github.com/tinyland-inc/qunbridge/pkg/config"
	"github.com/tinyland-inc/qunbridge/pkg/logger"
)

// SlackTransport receives channel messages over Socket Mode and posts with
// the Web API. Every conversation the bot can see is a group.
type SlackTransport struct {
	*BaseTransport
	config config.SlackConfig

	mu     sync.Mutex
	api    *slack.Client
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSlackTransport(cfg config.SlackConfig) *SlackTransport {
	return &SlackTransport{
		BaseTransport: NewBaseTransport("slack", cfg.AllowFrom),
		config:        cfg,
	}
}

func (s *SlackTransport) Connect(ctx context.Context, handlers Handlers) error {
	if s.config.BotToken == "" || s.config.AppToken == "" {
		return errors.New("slack bot_token and app_token are required")
	}

	api := slack.New(s.config.BotToken, slack.OptionAppLevelToken(s.config.AppToken))
	auth, err := api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth test: %w", err)
	}
	s.SetSelfID(auth.UserID)

	client := socketmode.New(api)
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	s.api = api
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	s.SetHandlers(handlers)
	s.SetRunning(true)

	go s.eventLoop(runCtx, client)
	go func() {
		defer close(done)
		if err := client.RunContext(runCtx); err != nil && runCtx.Err() == nil {
			s.HandleDisconnect(err)
		}
	}()

	logger.InfoCF("slack", "Connected", map[string]any{
		"team":    auth.Team,
		"user_id": auth.UserID,
	})
	return nil
}

func (s *SlackTransport) ListGroups(ctx context.Context) ([]bus.Group, error) {
	api := s.client()
	if api == nil || !s.IsRunning() {
		return nil, ErrNotRunning
	}

	var groups []bus.Group
	cursor := ""
	for {
		channels, next, err := api.GetConversationsContext(ctx, &slack.GetConversationsParameters{
			Cursor:          cursor,
			ExcludeArchived: true,
			Limit:           200,
			Types:           []string{"public_channel", "private_channel"},
		})
		if err != nil {
			return nil, fmt.Errorf("list conversations: %w", err)
		}
		for _, ch := range channels {
			groups = append(groups, bus.Group{ID: bus.GroupID(ch.ID), Name: ch.Name})
		}
		if next == "" {
			return groups, nil
		}
		cursor = next
	}
}

func (s *SlackTransport) SendToGroup(ctx context.Context, groupID bus.GroupID, text string) error {
	api := s.client()
	if api == nil || !s.IsRunning() {
		return ErrNotRunning
	}
	if _, _, err := api.PostMessageContext(ctx, string(groupID), slack.MsgOptionText(text, false)); err != nil {
		return fmt.Errorf("post message: %w", err)
	}
	return nil
}

func (s *SlackTransport) Close() error {
	s.SetRunning(false)

	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.api = nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

func (s *SlackTransport) client() *slack.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.api
}

func (s *SlackTransport) eventLoop(ctx context.Context, client *socketmode.Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-client.Events:
			if !ok {
				return
			}
			switch evt.Type {
			case socketmode.EventTypeConnected:
				logger.DebugC("slack", "Socket mode connected")
			case socketmode.EventTypeEventsAPI:
				if evt.Request != nil {
					client.Ack(*evt.Request)
				}
				apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
				if !ok {
					continue
				}
				if msg, ok := apiEvent.InnerEvent.Data.(*slackevents.MessageEvent); ok {
					s.handleMessage(msg)
				}
			}
		}
	}
}

func (s *SlackTransport) handleMessage(ev *slackevents.MessageEvent) {
	// edits, joins and bot posts arrive as subtyped messages
	if ev.SubType != "" || ev.BotID != "" {
		return
	}
	s.HandleMessage(bus.GroupID(ev.Channel), ev.User, ev.TimeStamp, ev.Text, nil)
}

var _ Transport = (*SlackTransport)(nil)
