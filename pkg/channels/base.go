package channels

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/tinyland-inc/qunbridge/pkg/bus"
)

var (
	// ErrNotRunning is returned by transport operations before Connect or after Close.
	ErrNotRunning = errors.New("transport not running")
	// ErrUnknownGroup is returned when sending to a group the transport cannot address.
	ErrUnknownGroup = errors.New("unknown group")
)

// Handlers are the callbacks a transport invokes from its receive loop.
// Both must return quickly.
type Handlers struct {
	OnMessage    func(bus.InboundMessage)
	OnDisconnect func(error)
}

// Transport is the chat network capability the session drives: connect,
// list groups, send, receive (through Handlers) and close.
type Transport interface {
	Name() string
	Connect(ctx context.Context, handlers Handlers) error
	ListGroups(ctx context.Context) ([]bus.Group, error)
	SendToGroup(ctx context.Context, groupID bus.GroupID, text string) error
	Close() error
}

// BaseTransport carries the state every transport shares: its name, the
// sender allow list, the bot's own id and the registered handlers.
type BaseTransport struct {
	name      string
	allowList []string
	running   atomic.Bool
	selfID    atomic.Value // string

	mu       sync.RWMutex
	handlers Handlers
}

func NewBaseTransport(name string, allowList []string) *BaseTransport {
	bt := &BaseTransport{
		name:      name,
		allowList: allowList,
	}
	bt.selfID.Store("")
	return bt
}

func (t *BaseTransport) Name() string {
	return t.name
}

func (t *BaseTransport) IsRunning() bool {
	return t.running.Load()
}

func (t *BaseTransport) SetRunning(running bool) {
	t.running.Store(running)
}

// SetSelfID records the bot's own account id so its echoes are not
// classified as inbound questions.
func (t *BaseTransport) SetSelfID(id string) {
	t.selfID.Store(id)
}

func (t *BaseTransport) SelfID() string {
	return t.selfID.Load().(string)
}

func (t *BaseTransport) SetHandlers(h Handlers) {
	t.mu.Lock()
	t.handlers = h
	t.mu.Unlock()
}

func (t *BaseTransport) IsAllowed(senderID string) bool {
	if len(t.allowList) == 0 {
		return true
	}

	// Extract parts from compound senderID like "123456|username"
	idPart := senderID
	userPart := ""
	if idx := strings.Index(senderID, "|"); idx > 0 {
		idPart = senderID[:idx]
		userPart = senderID[idx+1:]
	}

	for _, allowed := range t.allowList {
		trimmed := strings.TrimPrefix(allowed, "@")
		allowedID := trimmed
		allowedUser := ""
		if idx := strings.Index(trimmed, "|"); idx > 0 {
			allowedID = trimmed[:idx]
			allowedUser = trimmed[idx+1:]
		}

		if senderID == trimmed ||
			idPart == trimmed ||
			idPart == allowedID ||
			(allowedUser != "" && senderID == allowedUser) ||
			(userPart != "" && (userPart == trimmed || userPart == allowedUser)) {
			return true
		}
	}

	return false
}

// HandleMessage filters a received group message and hands it to OnMessage.
// Messages from the bot itself, from senders outside the allow list, or
// arriving while the transport is not running are dropped.
func (t *BaseTransport) HandleMessage(groupID bus.GroupID, senderID, messageID, content string, metadata map[string]string) {
	if !t.IsRunning() {
		return
	}
	if self := t.SelfID(); self != "" && (senderID == self || strings.HasPrefix(senderID, self+"|")) {
		return
	}
	if !t.IsAllowed(senderID) {
		return
	}

	t.mu.RLock()
	onMessage := t.handlers.OnMessage
	t.mu.RUnlock()
	if onMessage == nil {
		return
	}

	onMessage(bus.InboundMessage{
		Transport: t.name,
		GroupID:   groupID,
		SenderID:  senderID,
		MessageID: messageID,
		Content:   content,
		Metadata:  metadata,
	})
}

// HandleDisconnect reports an unexpected connection loss. Only the first
// call after Connect reaches OnDisconnect; later calls and calls after
// Close are no-ops.
func (t *BaseTransport) HandleDisconnect(err error) {
	if !t.running.CompareAndSwap(true, false) {
		return
	}
	t.mu.RLock()
	onDisconnect := t.handlers.OnDisconnect
	t.mu.RUnlock()
	if onDisconnect != nil {
		onDisconnect(err)
	}
}
