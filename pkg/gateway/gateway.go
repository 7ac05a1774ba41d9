// Package gateway runs the message pipeline: inbound messages pass the
// handle_context hook chain, then the engine unless a handler took over,
// then the message_sending chain on the way out.
package gateway

import (
	"context"
	"errors"
	"sync"

	"github.com/sipeed/godcmd/pkg/bus"
	"github.com/sipeed/godcmd/pkg/engine"
	"github.com/sipeed/godcmd/pkg/hooks"
	"github.com/sipeed/godcmd/pkg/logger"
)

// HookSource yields the current hook registry. plugin.Manager swaps its
// registry on every activation, so it is looked up per message.
type HookSource interface {
	HookRegistry() *hooks.HookRegistry
}

type Replier interface {
	Reply(ctx context.Context, req engine.Request) (string, error)
}

// SessionTracker scopes engine calls so a session reset can abort them.
type SessionTracker interface {
	Track(parent context.Context, sessionKey string) (context.Context, func())
}

type Gateway struct {
	bus      *bus.MessageBus
	hooks    HookSource
	engine   Replier
	sessions SessionTracker
	wg       sync.WaitGroup
}

func New(msgBus *bus.MessageBus, hookSource HookSource, eng Replier, sessions SessionTracker) *Gateway {
	return &Gateway{
		bus:      msgBus,
		hooks:    hookSource,
		engine:   eng,
		sessions: sessions,
	}
}

// Run consumes the bus until ctx ends or the bus closes, then waits for
// outstanding engine calls.
func (g *Gateway) Run(ctx context.Context) error {
	defer g.wg.Wait()
	for {
		msg, ok := g.bus.ConsumeInbound(ctx)
		if !ok {
			return nil
		}
		g.Handle(ctx, msg)
	}
}

// Handle runs one message through the hook chain. Engine calls run in the
// background; Wait blocks until they finish.
func (g *Gateway) Handle(ctx context.Context, msg bus.InboundMessage) {
	reg := g.hooks.HookRegistry()

	reg.TriggerMessageReceived(ctx, &hooks.MessageReceivedEvent{
		Channel:  msg.Channel,
		SenderID: msg.SenderID,
		ChatID:   msg.ChatID,
		Content:  msg.Content,
	})

	ev := &hooks.HandleContextEvent{
		Channel:    msg.Channel,
		SenderID:   msg.SenderID,
		ChatID:     msg.ChatID,
		SessionKey: msg.SessionKey,
		IsGroup:    msg.IsGroup,
		Content:    msg.Content,
	}
	reg.TriggerHandleContext(ctx, ev)

	if ev.SkipDefault() {
		if ev.Reply != nil {
			g.send(ctx, reg, msg, *ev.Reply)
		}
		return
	}

	if g.engine == nil {
		if ev.Reply != nil {
			g.send(ctx, reg, msg, *ev.Reply)
		}
		return
	}

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.runEngine(ctx, reg, msg)
	}()
}

// Wait blocks until every engine call started by Handle has returned.
func (g *Gateway) Wait() {
	g.wg.Wait()
}

func (g *Gateway) runEngine(ctx context.Context, reg *hooks.HookRegistry, msg bus.InboundMessage) {
	callCtx, release := ctx, func() {}
	if g.sessions != nil {
		callCtx, release = g.sessions.Track(ctx, msg.SessionKey)
	}
	defer release()

	text, err := g.engine.Reply(callCtx, engine.Request{
		SessionKey: msg.SessionKey,
		UserID:     msg.SenderID,
		Content:    msg.Content,
	})
	if err != nil {
		if errors.Is(callCtx.Err(), context.Canceled) {
			logger.InfoCF("gateway", "Engine call cancelled", map[string]any{
				"session":  msg.SessionKey,
				"trace_id": msg.TraceID,
			})
			return
		}
		logger.ErrorCF("gateway", "Engine reply failed", map[string]any{
			"session":  msg.SessionKey,
			"trace_id": msg.TraceID,
			"error":    err.Error(),
		})
		g.send(ctx, reg, msg, hooks.Reply{Type: hooks.ReplyError, Content: "engine error, please try again later"})
		return
	}
	g.send(ctx, reg, msg, hooks.Reply{Type: hooks.ReplyText, Content: text})
}

func (g *Gateway) send(ctx context.Context, reg *hooks.HookRegistry, msg bus.InboundMessage, reply hooks.Reply) {
	ev := &hooks.MessageSendingEvent{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: reply.Content,
	}
	reg.TriggerMessageSending(ctx, ev)
	if ev.Cancel {
		logger.DebugCF("gateway", "Outbound message cancelled", map[string]any{
			"channel":  msg.Channel,
			"reason":   ev.CancelReason,
			"trace_id": msg.TraceID,
		})
		return
	}

	out := bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Type:    outboundType(reply.Type),
		Content: ev.Content,
	}
	if err := g.bus.PublishOutbound(ctx, out); err != nil {
		logger.WarnCF("gateway", "Outbound message dropped", map[string]any{
			"channel":  msg.Channel,
			"trace_id": msg.TraceID,
			"error":    err.Error(),
		})
	}
}

func outboundType(t hooks.ReplyType) bus.OutboundType {
	switch t {
	case hooks.ReplyInfo:
		return bus.OutboundInfo
	case hooks.ReplyError:
		return bus.OutboundError
	default:
		return bus.OutboundText
	}
}
