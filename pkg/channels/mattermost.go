package channels

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/mattermost/mattermost/server/public/model"

	"github.com/tinyland-inc/qunbridge/pkg/bus"
	"github.com/tinyland-inc/qunbridge/pkg/config"
	"github.com/tinyland-inc/qunbridge/pkg/logger"
)

// MattermostTransport posts through the REST v4 API and listens on the
// websocket for "posted" events. Groups are the team channels the bot
// account is a member of.
type MattermostTransport struct {
	*BaseTransport
	config config.MattermostConfig

	mu       sync.Mutex
	client   *model.Client4
	ws       *model.WebSocketClient
	teamID   string
	stopChan chan struct{}
	done     chan struct{}
}

func NewMattermostTransport(cfg config.MattermostConfig) *MattermostTransport {
	return &MattermostTransport{
		BaseTransport: NewBaseTransport("mattermost", cfg.AllowFrom),
		config:        cfg,
	}
}

func (m *MattermostTransport) Connect(ctx context.Context, handlers Handlers) error {
	if m.config.ServerURL == "" || m.config.Token == "" {
		return errors.New("mattermost server_url and token are required")
	}

	client := model.NewAPIv4Client(m.config.ServerURL)
	client.SetToken(m.config.Token)

	me, _, err := client.GetMe(ctx, "")
	if err != nil {
		return fmt.Errorf("verify mattermost session: %w", err)
	}
	m.SetSelfID(me.Id)

	teamID := m.config.TeamID
	if teamID == "" {
		teams, _, err := client.GetTeamsForUser(ctx, me.Id, "")
		if err != nil {
			return fmt.Errorf("get teams: %w", err)
		}
		if len(teams) == 0 {
			return errors.New("mattermost account belongs to no team")
		}
		teamID = teams[0].Id
	}

	ws, err := model.NewWebSocketClient4(httpToWS(m.config.ServerURL), client.AuthToken)
	if err != nil {
		return fmt.Errorf("create websocket client: %w", err)
	}
	ws.Listen()

	stopChan := make(chan struct{})
	done := make(chan struct{})
	m.mu.Lock()
	m.client = client
	m.ws = ws
	m.teamID = teamID
	m.stopChan = stopChan
	m.done = done
	m.mu.Unlock()

	m.SetHandlers(handlers)
	m.SetRunning(true)
	go m.listen(ws, stopChan, done)

	logger.InfoCF("mattermost", "Connected", map[string]any{
		"user_id":  me.Id,
		"username": me.Username,
		"team_id":  teamID,
	})
	return nil
}

// httpToWS converts an HTTP(S) URL to a WS(S) URL.
func httpToWS(url string) string {
	if strings.HasPrefix(url, "https://") {
		return "wss://" + strings.TrimPrefix(url, "https://")
	}
	if strings.HasPrefix(url, "http://") {
		return "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url
}

func (m *MattermostTransport) ListGroups(ctx context.Context) ([]bus.Group, error) {
	m.mu.Lock()
	client, teamID := m.client, m.teamID
	m.mu.Unlock()
	if client == nil || !m.IsRunning() {
		return nil, ErrNotRunning
	}

	channels, _, err := client.GetChannelsForTeamForUser(ctx, teamID, m.SelfID(), false, "")
	if err != nil {
		return nil, fmt.Errorf("get team channels: %w", err)
	}

	groups := make([]bus.Group, 0, len(channels))
	for _, ch := range channels {
		if ch.Type != model.ChannelTypeOpen && ch.Type != model.ChannelTypePrivate {
			continue
		}
		name := ch.DisplayName
		if name == "" {
			name = ch.Name
		}
		groups = append(groups, bus.Group{ID: bus.GroupID(ch.Id), Name: name})
	}
	return groups, nil
}

func (m *MattermostTransport) SendToGroup(ctx context.Context, groupID bus.GroupID, text string) error {
	m.mu.Lock()
	client := m.client
	m.mu.Unlock()
	if client == nil || !m.IsRunning() {
		return ErrNotRunning
	}

	post := &model.Post{ChannelId: string(groupID), Message: text}
	if _, _, err := client.CreatePost(ctx, post); err != nil {
		return fmt.Errorf("create post: %w", err)
	}
	return nil
}

func (m *MattermostTransport) Close() error {
	m.SetRunning(false)

	m.mu.Lock()
	ws, stopChan, done := m.ws, m.stopChan, m.done
	m.ws = nil
	m.client = nil
	m.stopChan = nil
	m.mu.Unlock()

	if stopChan == nil {
		return nil
	}
	close(stopChan)
	if ws != nil {
		ws.Close()
	}
	<-done
	return nil
}

func (m *MattermostTransport) listen(ws *model.WebSocketClient, stopChan, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-stopChan:
			return
		case evt, ok := <-ws.EventChannel:
			if !ok {
				err := errors.New("mattermost websocket closed")
				if ws.ListenError != nil {
					err = ws.ListenError
				}
				m.HandleDisconnect(err)
				return
			}
			if evt != nil {
				m.handleEvent(evt)
			}
		}
	}
}

func (m *MattermostTransport) handleEvent(evt *model.WebSocketEvent) {
	if evt.EventType() != model.WebsocketEventPosted {
		return
	}
	postJSON, ok := evt.GetData()["post"].(string)
	if !ok {
		return
	}
	var post model.Post
	if err := json.Unmarshal([]byte(postJSON), &post); err != nil {
		logger.DebugCF("mattermost", "Ignoring undecodable post", map[string]any{"error": err.Error()})
		return
	}
	// system messages (joins, header changes) carry a type
	if post.Type != "" && post.Type != model.PostTypeDefault {
		return
	}
	m.HandleMessage(bus.GroupID(post.ChannelId), post.UserId, post.Id, post.Message, nil)
}

var _ Transport = (*MattermostTransport)(nil)
