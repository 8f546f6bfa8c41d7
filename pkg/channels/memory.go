package channels

import (
	"context"
	"sync"

	"github.com/tinyland-inc/qunbridge/pkg/bus"
)

// SentMessage is one send recorded by MemoryTransport.
type SentMessage struct {
	GroupID bus.GroupID
	Text    string
}

// MemoryOption is a functional option for configuring a MemoryTransport.
type MemoryOption func(*MemoryTransport)

// WithConnectError makes every Connect call fail with err.
func WithConnectError(err error) MemoryOption {
	return func(m *MemoryTransport) { m.connectErr = err }
}

// WithConnectGate makes Connect block until gate is closed or ctx ends.
func WithConnectGate(gate <-chan struct{}) MemoryOption {
	return func(m *MemoryTransport) { m.gate = gate }
}

// WithSendError makes every SendToGroup call fail with err.
func WithSendError(err error) MemoryOption {
	return func(m *MemoryTransport) { m.sendErr = err }
}

// WithCloseError makes Close return err.
func WithCloseError(err error) MemoryOption {
	return func(m *MemoryTransport) { m.closeErr = err }
}

// WithSendHook invokes fn after each successful send.
func WithSendHook(fn func(SentMessage)) MemoryOption {
	return func(m *MemoryTransport) { m.onSend = fn }
}

// MemoryTransport is an in-process transport with a fixed group list. The
// console command and the package tests drive it through Deliver and Drop.
type MemoryTransport struct {
	*BaseTransport

	groups     []bus.Group
	gate       <-chan struct{}
	connectErr error
	sendErr    error
	closeErr   error
	onSend     func(SentMessage)

	mu       sync.Mutex
	sent     []SentMessage
	connects int
	closes   int
}

func NewMemoryTransport(groups []bus.Group, allowList []string, opts ...MemoryOption) *MemoryTransport {
	m := &MemoryTransport{
		BaseTransport: NewBaseTransport("memory", allowList),
		groups:        groups,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemoryTransport) Connect(ctx context.Context, handlers Handlers) error {
	m.mu.Lock()
	m.connects++
	m.mu.Unlock()

	if m.gate != nil {
		select {
		case <-m.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if m.connectErr != nil {
		return m.connectErr
	}

	m.SetHandlers(handlers)
	m.SetRunning(true)
	return nil
}

func (m *MemoryTransport) ListGroups(ctx context.Context) ([]bus.Group, error) {
	if !m.IsRunning() {
		return nil, ErrNotRunning
	}
	out := make([]bus.Group, len(m.groups))
	copy(out, m.groups)
	return out, nil
}

func (m *MemoryTransport) SendToGroup(ctx context.Context, groupID bus.GroupID, text string) error {
	if !m.IsRunning() {
		return ErrNotRunning
	}
	if m.sendErr != nil {
		return m.sendErr
	}

	msg := SentMessage{GroupID: groupID, Text: text}
	m.mu.Lock()
	m.sent = append(m.sent, msg)
	m.mu.Unlock()

	if m.onSend != nil {
		m.onSend(msg)
	}
	return nil
}

func (m *MemoryTransport) Close() error {
	m.SetRunning(false)
	m.mu.Lock()
	m.closes++
	m.mu.Unlock()
	return m.closeErr
}

// Deliver simulates a message arriving in groupID.
func (m *MemoryTransport) Deliver(groupID bus.GroupID, senderID, text string) {
	m.HandleMessage(groupID, senderID, "", text, nil)
}

// Drop simulates the network dropping the connection.
func (m *MemoryTransport) Drop(err error) {
	m.HandleDisconnect(err)
}

func (m *MemoryTransport) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

func (m *MemoryTransport) Connects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connects
}

func (m *MemoryTransport) Closes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}
