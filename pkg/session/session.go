// Package session owns the connection to the chat network. Every successful
// Connect starts a new generation with its own queues and workers; a target
// group is bound to exactly one generation and dies with it.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tinyland-inc/qunbridge/pkg/bus"
	"github.com/tinyland-inc/qunbridge/pkg/channels"
	"github.com/tinyland-inc/qunbridge/pkg/logger"
)

type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Handler processes one inbound message on the session's worker goroutine.
type Handler func(ctx context.Context, msg bus.InboundMessage)

type Options struct {
	InboundQueueSize  int
	OutboundQueueSize int

	// Handler receives inbound messages. Nil drops them.
	Handler Handler
	// OnSent is called after every transport send attempt.
	OnSent func(msg bus.OutboundMessage, err error)
	// OnDrop is called once the transport of a generation was lost and torn down.
	OnDrop func(generation uint64, err error)
}

type generation struct {
	id     uint64
	ctx    context.Context
	cancel context.CancelFunc
	bus    *bus.MessageBus
	target atomic.Pointer[bus.Target]
	wg     sync.WaitGroup
}

type Session struct {
	transport channels.Transport
	opts      Options

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex // serializes state transitions
	state   atomic.Int32
	nextGen uint64
	current atomic.Pointer[generation]

	teardowns sync.WaitGroup
}

func New(transport channels.Transport, opts Options) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		transport: transport,
		opts:      opts,
		ctx:       ctx,
		cancel:    cancel,
	}
	s.state.Store(int32(Disconnected))
	return s
}

func (s *Session) State() State {
	return State(s.state.Load())
}

// Generation returns the id of the live connection, or 0 when there is none.
func (s *Session) Generation() uint64 {
	if g := s.current.Load(); g != nil {
		return g.id
	}
	return 0
}

func (s *Session) TransportName() string {
	return s.transport.Name()
}

// Connect establishes a new generation. It blocks until the transport is
// connected, ctx ends, or Close is called; callers run it off their own
// critical path. OnDrop must not call Connect synchronously.
func (s *Session) Connect(ctx context.Context) error {
	// the previous generation's transport must be closed before reuse
	s.teardowns.Wait()

	s.mu.Lock()
	switch s.State() {
	case Closed:
		s.mu.Unlock()
		return ErrClosed
	case Connecting, Connected:
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.state.Store(int32(Connecting))
	s.nextGen++
	genCtx, genCancel := context.WithCancel(s.ctx)
	g := &generation{
		id:     s.nextGen,
		ctx:    genCtx,
		cancel: genCancel,
		bus:    bus.NewMessageBusWithSize(s.opts.InboundQueueSize, s.opts.OutboundQueueSize),
	}
	s.mu.Unlock()

	// Close cancels s.ctx, which must also abort a connect in progress.
	connectCtx, connectCancel := context.WithCancel(ctx)
	stop := context.AfterFunc(genCtx, connectCancel)
	err := s.transport.Connect(connectCtx, channels.Handlers{
		OnMessage:    func(msg bus.InboundMessage) { s.enqueueInbound(g, msg) },
		OnDisconnect: func(err error) { s.handleDrop(g, err) },
	})
	stop()
	connectCancel()

	s.mu.Lock()
	if s.State() == Closed {
		s.mu.Unlock()
		g.cancel()
		g.bus.Close()
		if err == nil {
			if cerr := s.transport.Close(); cerr != nil {
				logger.WarnCF("session", "Transport close failed", map[string]any{
					"transport": s.transport.Name(),
					"error":     cerr.Error(),
				})
			}
		}
		return ErrClosed
	}
	if err != nil {
		s.state.Store(int32(Disconnected))
		s.mu.Unlock()
		g.cancel()
		g.bus.Close()
		return fmt.Errorf("connect %s: %w", s.transport.Name(), err)
	}

	s.current.Store(g)
	s.state.Store(int32(Connected))
	g.wg.Add(2)
	go s.inboundWorker(g)
	go s.sendLoop(g)
	s.mu.Unlock()

	logger.InfoCF("session", "Connected", map[string]any{
		"transport":  s.transport.Name(),
		"generation": g.id,
	})
	return nil
}

func (s *Session) ListGroups(ctx context.Context) ([]bus.Group, error) {
	if s.State() != Connected {
		return nil, ErrNotConnected
	}
	groups, err := s.transport.ListGroups(ctx)
	if errors.Is(err, channels.ErrNotRunning) {
		return nil, ErrNotConnected
	}
	return groups, err
}

// Bind publishes the resolved group for the live generation. It succeeds
// at most once per generation.
func (s *Session) Bind(groupID bus.GroupID) (bus.Target, error) {
	if s.State() != Connected {
		return bus.Target{}, ErrNotConnected
	}
	g := s.current.Load()
	if g == nil {
		return bus.Target{}, ErrNotConnected
	}
	t := &bus.Target{Generation: g.id, GroupID: groupID}
	if !g.target.CompareAndSwap(nil, t) {
		return bus.Target{}, ErrAlreadyBound
	}
	return *t, nil
}

// Target returns the group bound to the live generation, or nil.
func (s *Session) Target() *bus.Target {
	g := s.current.Load()
	if g == nil {
		return nil
	}
	t := g.target.Load()
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

// SendToGroup enqueues text for target without blocking. Nothing reaches
// the network unless the session is connected and target is the one bound
// to the live generation.
func (s *Session) SendToGroup(target bus.Target, text string) error {
	if s.State() != Connected {
		return ErrNotConnected
	}
	g := s.current.Load()
	if g == nil {
		return ErrNotConnected
	}
	if target.GroupID == "" {
		return ErrUnresolved
	}
	if target.Generation != g.id {
		return ErrStaleTarget
	}
	bound := g.target.Load()
	if bound == nil {
		return ErrUnresolved
	}
	if *bound != target {
		return ErrStaleTarget
	}

	err := g.bus.TryPublishOutbound(bus.OutboundMessage{Target: target, Content: text})
	if err == nil && g.ctx.Err() != nil {
		// the generation was torn down while the send was being queued
		return ErrNotConnected
	}
	switch {
	case errors.Is(err, bus.ErrBusClosed):
		return ErrNotConnected
	case errors.Is(err, bus.ErrBusFull):
		return ErrQueueFull
	}
	return err
}

// Send enqueues text for the currently bound target.
func (s *Session) Send(text string) error {
	t := s.Target()
	if t == nil {
		if s.State() != Connected {
			return ErrNotConnected
		}
		return ErrUnresolved
	}
	return s.SendToGroup(*t, text)
}

// Close tears the session down for good. It is safe to call repeatedly,
// before any Connect, and while a Connect is in flight.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.State() == Closed {
		s.mu.Unlock()
		return nil
	}
	s.state.Store(int32(Closed))
	g := s.current.Swap(nil)
	s.mu.Unlock()

	s.cancel()

	var err error
	if g != nil {
		g.target.Store(nil)
		g.cancel()
		g.bus.Close()
		g.wg.Wait()
		err = s.transport.Close()
	}
	s.teardowns.Wait()

	if err != nil {
		logger.WarnCF("session", "Transport close failed", map[string]any{
			"transport": s.transport.Name(),
			"error":     err.Error(),
		})
		return fmt.Errorf("close %s: %w", s.transport.Name(), err)
	}
	logger.InfoCF("session", "Closed", map[string]any{"transport": s.transport.Name()})
	return nil
}

// enqueueInbound runs on the transport's receive goroutine and never blocks.
func (s *Session) enqueueInbound(g *generation, msg bus.InboundMessage) {
	msg.Generation = g.id
	if err := g.bus.TryPublishInbound(msg); err != nil {
		logger.WarnCF("session", "Dropping inbound message", map[string]any{
			"group":  string(msg.GroupID),
			"error":  err.Error(),
			"sender": msg.SenderID,
		})
	}
}

func (s *Session) inboundWorker(g *generation) {
	defer g.wg.Done()
	for {
		msg, ok := g.bus.ConsumeInbound(g.ctx)
		if !ok {
			return
		}
		if s.opts.Handler == nil {
			continue
		}
		s.handle(g.ctx, msg)
	}
}

func (s *Session) handle(ctx context.Context, msg bus.InboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCF("session", "Inbound handler panicked", map[string]any{
				"panic": fmt.Sprint(r),
				"group": string(msg.GroupID),
			})
		}
	}()
	s.opts.Handler(ctx, msg)
}

func (s *Session) sendLoop(g *generation) {
	defer g.wg.Done()
	for {
		msg, ok := g.bus.SubscribeOutbound(g.ctx)
		if !ok || g.ctx.Err() != nil {
			return
		}
		if bound := g.target.Load(); bound == nil || *bound != msg.Target {
			logger.DebugCF("session", "Discarding send for unbound target", map[string]any{
				"group": string(msg.Target.GroupID),
			})
			continue
		}
		err := s.transport.SendToGroup(g.ctx, msg.Target.GroupID, msg.Content)
		if err != nil {
			logger.WarnCF("session", "Send failed", map[string]any{
				"transport": s.transport.Name(),
				"group":     string(msg.Target.GroupID),
				"error":     err.Error(),
			})
		}
		if s.opts.OnSent != nil {
			s.opts.OnSent(msg, err)
		}
	}
}

// handleDrop runs on the transport goroutine that noticed the loss, so the
// transport itself is closed from a separate goroutine.
func (s *Session) handleDrop(g *generation, cause error) {
	s.mu.Lock()
	if s.State() != Connected || s.current.Load() != g {
		s.mu.Unlock()
		return
	}
	s.current.Store(nil)
	s.state.Store(int32(Disconnected))
	s.teardowns.Add(1)
	s.mu.Unlock()

	g.target.Store(nil)
	g.cancel()
	g.bus.Close()

	logger.WarnCF("session", "Connection lost", map[string]any{
		"transport":  s.transport.Name(),
		"generation": g.id,
		"error":      errString(cause),
	})

	go func() {
		defer s.teardowns.Done()
		g.wg.Wait()
		if err := s.transport.Close(); err != nil {
			logger.DebugCF("session", "Transport close after drop failed", map[string]any{"error": err.Error()})
		}
		if s.opts.OnDrop != nil {
			s.opts.OnDrop(g.id, cause)
		}
	}()
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
