// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package hooks

// Action tells the chain what to do after a handle_context handler returns.
type Action int

const (
	// ActionContinue runs the next handler, then default handling.
	ActionContinue Action = iota
	// ActionBreak stops the chain but still runs default handling.
	ActionBreak
	// ActionBreakPass stops the chain and skips default handling.
	ActionBreakPass
)

func (a Action) String() string {
	switch a {
	case ActionBreak:
		return "break"
	case ActionBreakPass:
		return "break_pass"
	default:
		return "continue"
	}
}

type ReplyType string

const (
	ReplyText  ReplyType = "text"
	ReplyInfo  ReplyType = "info"
	ReplyError ReplyType = "error"
)

type Reply struct {
	Type    ReplyType
	Content string
}

// HandleContextEvent is fired for every inbound message before the engine
// sees it. Handlers may attach a Reply and change Action.
type HandleContextEvent struct {
	Channel    string
	SenderID   string
	ChatID     string
	SessionKey string
	IsGroup    bool
	Content    string

	Reply  *Reply
	Action Action
}

// SkipDefault reports whether default handling must not run.
func (e *HandleContextEvent) SkipDefault() bool {
	return e.Action == ActionBreakPass
}

// MessageReceivedEvent is fired when an inbound message is consumed from the bus.
type MessageReceivedEvent struct {
	Channel  string
	SenderID string
	ChatID   string
	Content  string
}

// MessageSendingEvent is fired before an outbound message is published.
// Handlers can modify Content or set Cancel to block delivery.
type MessageSendingEvent struct {
	Channel      string
	ChatID       string
	Content      string // Modifiable
	Cancel       bool
	CancelReason string
}

// SessionEvent is fired when a conversation session is cleared.
type SessionEvent struct {
	SessionKey string
	Channel    string
	ChatID     string
}
