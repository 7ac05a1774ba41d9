// Package channels connects chat transports to the message bus.
package channels

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/sipeed/godcmd/pkg/bus"
	"github.com/sipeed/godcmd/pkg/logger"
)

type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg bus.OutboundMessage) error
	IsRunning() bool
}

// BaseChannel holds what every transport shares: its name, the bus and the
// running flag.
type BaseChannel struct {
	name    string
	bus     *bus.MessageBus
	running atomic.Bool
}

func NewBaseChannel(name string, msgBus *bus.MessageBus) *BaseChannel {
	return &BaseChannel{name: name, bus: msgBus}
}

func (c *BaseChannel) Name() string {
	return c.name
}

func (c *BaseChannel) IsRunning() bool {
	return c.running.Load()
}

func (c *BaseChannel) setRunning(running bool) {
	c.running.Store(running)
}

// SessionKey names the conversation a chat belongs to.
func SessionKey(channel, chatID string) string {
	return channel + ":" + chatID
}

// HandleMessage publishes one inbound message. Blank content is dropped.
func (c *BaseChannel) HandleMessage(ctx context.Context, senderID, chatID, content string, isGroup bool) {
	if strings.TrimSpace(content) == "" {
		return
	}
	msg := bus.InboundMessage{
		Channel:    c.name,
		SenderID:   senderID,
		ChatID:     chatID,
		Content:    content,
		SessionKey: SessionKey(c.name, chatID),
		IsGroup:    isGroup,
		TraceID:    uuid.NewString(),
	}
	if err := c.bus.PublishInbound(ctx, msg); err != nil {
		logger.WarnCF("channels", "Inbound message dropped", map[string]any{
			"channel": c.name,
			"chat_id": chatID,
			"error":   err.Error(),
		})
	}
}
