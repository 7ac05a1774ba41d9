package commands

import (
	"context"

	"github.com/sipeed/godcmd/pkg/hooks"
	"github.com/sipeed/godcmd/pkg/plugin"
)

const (
	PluginName     = "godcmd"
	PluginPriority = 999
)

// Plugin puts the dispatcher at the head of the handle_context chain.
type Plugin struct {
	d *Dispatcher
}

func NewPlugin(d *Dispatcher) *Plugin {
	return &Plugin{d: d}
}

func (p *Plugin) Name() string {
	return PluginName
}

func (p *Plugin) APIVersion() string {
	return plugin.APIVersion
}

func (p *Plugin) Describe() plugin.Meta {
	return plugin.Meta{
		Version:   "1.0",
		Desc:      "user and admin commands; set a password in its config file to authenticate",
		Author:    "godcmd",
		Priority:  PluginPriority,
		Hidden:    true,
		Protected: true,
	}
}

func (p *Plugin) Register(r *hooks.HookRegistry, priority int) error {
	r.OnHandleContext(PluginName, priority, func(ctx context.Context, e *hooks.HandleContextEvent) error {
		res := p.d.Dispatch(ctx, Request{
			Channel:    e.Channel,
			ChatID:     e.ChatID,
			SenderID:   e.SenderID,
			SessionKey: e.SessionKey,
			IsGroup:    e.IsGroup,
			Content:    e.Content,
		})
		Apply(res, e)
		return nil
	})
	return nil
}

// Apply writes a dispatch result onto a hook event.
func Apply(res Result, e *hooks.HandleContextEvent) {
	switch res.Outcome {
	case OutcomeSuccess:
		e.Reply = &hooks.Reply{Type: hooks.ReplyInfo, Content: res.Message}
	case OutcomeFailure:
		e.Reply = &hooks.Reply{Type: hooks.ReplyError, Content: res.Message}
	}
	if res.Suppress {
		e.Action = hooks.ActionBreakPass
	}
}
