package channels

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tinyland-inc/qunbridge/pkg/bus"
	"github.com/tinyland-inc/qunbridge/pkg/config"
	"github.com/tinyland-inc/qunbridge/pkg/logger"
)

// OneBotTransport speaks OneBot v11 over a forward websocket, the protocol
// exposed by go-cqhttp, NapCat and Lagrange for personal QQ accounts.
type OneBotTransport struct {
	*BaseTransport
	config config.OneBotConfig

	connMu sync.Mutex
	conn   *websocket.Conn
	done   chan struct{}

	pending   map[string]chan *oneBotResponse
	pendingMu sync.Mutex
}

type oneBotAction struct {
	Action string `json:"action"`
	Params any    `json:"params,omitempty"`
	Echo   string `json:"echo"`
}

type oneBotResponse struct {
	Status  string          `json:"status"`
	RetCode int             `json:"retcode"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message,omitempty"`
	Wording string          `json:"wording,omitempty"`
}

// oneBotFrame is the union of action responses and pushed events; a frame
// with a post_type is an event, one with an echo is a response.
type oneBotFrame struct {
	oneBotResponse
	Echo        json.RawMessage `json:"echo,omitempty"`
	PostType    string          `json:"post_type"`
	MessageType string          `json:"message_type"`
	GroupID     int64           `json:"group_id"`
	UserID      int64           `json:"user_id"`
	MessageID   int64           `json:"message_id"`
	RawMessage  string          `json:"raw_message"`
	Sender      struct {
		Nickname string `json:"nickname"`
		Card     string `json:"card"`
	} `json:"sender"`
}

type oneBotGroup struct {
	GroupID   int64  `json:"group_id"`
	GroupName string `json:"group_name"`
}

func NewOneBotTransport(cfg config.OneBotConfig) *OneBotTransport {
	return &OneBotTransport{
		BaseTransport: NewBaseTransport("onebot", cfg.AllowFrom),
		config:        cfg,
		pending:       make(map[string]chan *oneBotResponse),
	}
}

func (o *OneBotTransport) actionTimeout() time.Duration {
	if o.config.Timeout <= 0 {
		return 10 * time.Second
	}
	return time.Duration(o.config.Timeout) * time.Second
}

func (o *OneBotTransport) Connect(ctx context.Context, handlers Handlers) error {
	header := http.Header{}
	if o.config.AccessToken != "" {
		header.Set("Authorization", "Bearer "+o.config.AccessToken)
	}

	dialer := websocket.Dialer{HandshakeTimeout: o.actionTimeout()}
	conn, _, err := dialer.DialContext(ctx, o.config.WSUrl, header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", o.config.WSUrl, err)
	}

	done := make(chan struct{})
	o.connMu.Lock()
	o.conn = conn
	o.done = done
	o.connMu.Unlock()

	o.SetHandlers(handlers)
	o.SetRunning(true)
	go o.readLoop(conn, done)

	data, err := o.call(ctx, "get_login_info", nil)
	if err != nil {
		_ = o.Close()
		return fmt.Errorf("get_login_info: %w", err)
	}
	var login struct {
		UserID   int64  `json:"user_id"`
		Nickname string `json:"nickname"`
	}
	if err := json.Unmarshal(data, &login); err != nil {
		_ = o.Close()
		return fmt.Errorf("decode login info: %w", err)
	}
	o.SetSelfID(strconv.FormatInt(login.UserID, 10))

	logger.InfoCF("onebot", "Connected", map[string]any{
		"url":      o.config.WSUrl,
		"self_id":  login.UserID,
		"nickname": login.Nickname,
	})
	return nil
}

func (o *OneBotTransport) ListGroups(ctx context.Context) ([]bus.Group, error) {
	if !o.IsRunning() {
		return nil, ErrNotRunning
	}
	data, err := o.call(ctx, "get_group_list", nil)
	if err != nil {
		return nil, fmt.Errorf("get_group_list: %w", err)
	}

	var raw []oneBotGroup
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode group list: %w", err)
	}

	groups := make([]bus.Group, 0, len(raw))
	for _, g := range raw {
		groups = append(groups, bus.Group{
			ID:   bus.GroupID(strconv.FormatInt(g.GroupID, 10)),
			Name: g.GroupName,
		})
	}
	return groups, nil
}

func (o *OneBotTransport) SendToGroup(ctx context.Context, groupID bus.GroupID, text string) error {
	if !o.IsRunning() {
		return ErrNotRunning
	}
	id, err := strconv.ParseInt(string(groupID), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrUnknownGroup, groupID)
	}

	_, err = o.call(ctx, "send_group_msg", map[string]any{
		"group_id":    id,
		"message":     text,
		"auto_escape": true,
	})
	if err != nil {
		return fmt.Errorf("send_group_msg: %w", err)
	}
	return nil
}

func (o *OneBotTransport) Close() error {
	o.SetRunning(false)

	o.connMu.Lock()
	conn, done := o.conn, o.done
	o.conn = nil
	o.connMu.Unlock()
	if conn == nil {
		return nil
	}

	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	err := conn.Close()
	<-done
	return err
}

// call sends an action and waits for the response carrying the same echo.
func (o *OneBotTransport) call(ctx context.Context, action string, params any) (json.RawMessage, error) {
	echo := uuid.NewString()
	ch := make(chan *oneBotResponse, 1)

	o.pendingMu.Lock()
	o.pending[echo] = ch
	o.pendingMu.Unlock()

	defer func() {
		o.pendingMu.Lock()
		delete(o.pending, echo)
		o.pendingMu.Unlock()
	}()

	if err := o.write(oneBotAction{Action: action, Params: params, Echo: echo}); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, o.actionTimeout())
	defer cancel()

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrNotRunning
		}
		if resp.Status == "failed" || resp.RetCode != 0 {
			msg := resp.Wording
			if msg == "" {
				msg = resp.Message
			}
			return nil, fmt.Errorf("retcode %d: %s", resp.RetCode, msg)
		}
		return resp.Data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (o *OneBotTransport) write(v any) error {
	o.connMu.Lock()
	defer o.connMu.Unlock()

	if o.conn == nil {
		return ErrNotRunning
	}
	if err := o.conn.SetWriteDeadline(time.Now().Add(o.actionTimeout())); err != nil {
		return err
	}
	return o.conn.WriteJSON(v)
}

func (o *OneBotTransport) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			o.failPending()
			if o.IsRunning() {
				if isCloseError(err) {
					logger.InfoC("onebot", "Server closed the connection")
				} else {
					logger.WarnCF("onebot", "Connection lost", map[string]any{"error": err.Error()})
				}
			}
			o.HandleDisconnect(err)
			return
		}
		o.dispatch(data)
	}
}

func (o *OneBotTransport) dispatch(data []byte) {
	var f oneBotFrame
	if err := json.Unmarshal(data, &f); err != nil {
		logger.DebugCF("onebot", "Ignoring undecodable frame", map[string]any{"error": err.Error()})
		return
	}

	if f.PostType == "" && len(f.Echo) > 0 {
		var echo string
		if err := json.Unmarshal(f.Echo, &echo); err != nil {
			return
		}
		o.pendingMu.Lock()
		ch, ok := o.pending[echo]
		if ok {
			delete(o.pending, echo)
		}
		o.pendingMu.Unlock()
		if ok {
			resp := f.oneBotResponse
			ch <- &resp
		}
		return
	}

	if f.PostType != "message" || f.MessageType != "group" {
		return
	}

	metadata := map[string]string{"nickname": f.Sender.Nickname}
	if f.Sender.Card != "" {
		metadata["card"] = f.Sender.Card
	}
	o.HandleMessage(
		bus.GroupID(strconv.FormatInt(f.GroupID, 10)),
		strconv.FormatInt(f.UserID, 10),
		strconv.FormatInt(f.MessageID, 10),
		f.RawMessage,
		metadata,
	)
}

// failPending wakes every in-flight call after the connection dropped.
func (o *OneBotTransport) failPending() {
	o.pendingMu.Lock()
	defer o.pendingMu.Unlock()
	for echo, ch := range o.pending {
		close(ch)
		delete(o.pending, echo)
	}
}

var _ Transport = (*OneBotTransport)(nil)

// isCloseError reports whether err is an orderly websocket close.
func isCloseError(err error) bool {
	var ce *websocket.CloseError
	return errors.As(err, &ce) && ce.Code == websocket.CloseNormalClosure
}
