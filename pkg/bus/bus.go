package bus

import (
	"context"
	"errors"
	"sync/atomic"
)

var (
	// ErrBusClosed is returned when publishing to a closed MessageBus.
	ErrBusClosed = errors.New("message bus closed")
	// ErrBusFull is returned by the non-blocking publishers when the queue is at capacity.
	ErrBusFull = errors.New("message bus full")
)

const defaultQueueSize = 100

// MessageBus carries chat traffic for one session generation: inbound
// messages from the transport receive loop to the classification worker,
// and outbound sends from callers to the transport sender.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage
	done     chan struct{}
	closed   atomic.Bool
}

func NewMessageBus() *MessageBus {
	return NewMessageBusWithSize(defaultQueueSize, defaultQueueSize)
}

func NewMessageBusWithSize(inboundSize, outboundSize int) *MessageBus {
	if inboundSize <= 0 {
		inboundSize = defaultQueueSize
	}
	if outboundSize <= 0 {
		outboundSize = defaultQueueSize
	}
	return &MessageBus{
		inbound:  make(chan InboundMessage, inboundSize),
		outbound: make(chan OutboundMessage, outboundSize),
		done:     make(chan struct{}),
	}
}

// TryPublishInbound enqueues without blocking; transport receive loops use it
// so a slow classifier never stalls the connection.
func (mb *MessageBus) TryPublishInbound(msg InboundMessage) error {
	if mb.closed.Load() {
		return ErrBusClosed
	}
	select {
	case mb.inbound <- msg:
		return mb.checkOpen()
	case <-mb.done:
		return ErrBusClosed
	default:
		return ErrBusFull
	}
}

func (mb *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg, ok := <-mb.inbound:
		return msg, ok
	case <-mb.done:
		return InboundMessage{}, false
	case <-ctx.Done():
		return InboundMessage{}, false
	}
}

// TryPublishOutbound enqueues a send without blocking the caller.
func (mb *MessageBus) TryPublishOutbound(msg OutboundMessage) error {
	if mb.closed.Load() {
		return ErrBusClosed
	}
	select {
	case mb.outbound <- msg:
		return mb.checkOpen()
	case <-mb.done:
		return ErrBusClosed
	default:
		return ErrBusFull
	}
}

func (mb *MessageBus) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case msg, ok := <-mb.outbound:
		return msg, ok
	case <-mb.done:
		return OutboundMessage{}, false
	case <-ctx.Done():
		return OutboundMessage{}, false
	}
}

// checkOpen reports a Close that raced with an enqueue. Consumers stop at
// Close, so a message queued after it would never be delivered.
func (mb *MessageBus) checkOpen() error {
	if mb.closed.Load() {
		return ErrBusClosed
	}
	return nil
}

func (mb *MessageBus) IsClosed() bool {
	return mb.closed.Load()
}

func (mb *MessageBus) Close() {
	if mb.closed.CompareAndSwap(false, true) {
		close(mb.done)
	}
}
