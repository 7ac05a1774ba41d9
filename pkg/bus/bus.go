// Package bus carries messages between the channels and the gateway.
package bus

import (
	"context"
	"errors"
	"sync"
)

var ErrClosed = errors.New("message bus closed")

const defaultBuffer = 100

type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage
	done     chan struct{}
	once     sync.Once
}

func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:  make(chan InboundMessage, defaultBuffer),
		outbound: make(chan OutboundMessage, defaultBuffer),
		done:     make(chan struct{}),
	}
}

// PublishInbound queues msg for the gateway. It blocks while the buffer is
// full and gives up when ctx ends or the bus closes.
func (mb *MessageBus) PublishInbound(ctx context.Context, msg InboundMessage) error {
	return publish(ctx, mb, mb.inbound, msg)
}

// ConsumeInbound returns the next inbound message and whether the read succeeded.
// The bool is false when the context is cancelled or the bus is closed.
func (mb *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	return consume(ctx, mb, mb.inbound)
}

func (mb *MessageBus) PublishOutbound(ctx context.Context, msg OutboundMessage) error {
	return publish(ctx, mb, mb.outbound, msg)
}

// SubscribeOutbound returns the next outbound message and whether the read succeeded.
func (mb *MessageBus) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	return consume(ctx, mb, mb.outbound)
}

// Close stops the bus. Pending messages are dropped. Safe to call twice.
func (mb *MessageBus) Close() {
	mb.once.Do(func() { close(mb.done) })
}

func publish[T any](ctx context.Context, mb *MessageBus, ch chan T, msg T) error {
	select {
	case <-mb.done:
		return ErrClosed
	default:
	}
	select {
	case ch <- msg:
		return nil
	case <-mb.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func consume[T any](ctx context.Context, mb *MessageBus, ch chan T) (T, bool) {
	var zero T
	select {
	case msg := <-ch:
		return msg, true
	case <-mb.done:
		return zero, false
	case <-ctx.Done():
		return zero, false
	}
}
