package bus

type InboundMessage struct {
	Channel    string `json:"channel"`
	SenderID   string `json:"sender_id"`
	ChatID     string `json:"chat_id"`
	Content    string `json:"content"`
	SessionKey string `json:"session_key"`
	IsGroup    bool   `json:"is_group,omitempty"`
	// TraceID correlates the log lines of one message across the pipeline.
	TraceID string `json:"trace_id,omitempty"`
}

// OutboundType mirrors the reply kinds of the hook chain.
type OutboundType string

const (
	OutboundText  OutboundType = "text"
	OutboundInfo  OutboundType = "info"
	OutboundError OutboundType = "error"
)

type OutboundMessage struct {
	Channel string       `json:"channel"`
	ChatID  string       `json:"chat_id"`
	Type    OutboundType `json:"type"`
	Content string       `json:"content"`
}
