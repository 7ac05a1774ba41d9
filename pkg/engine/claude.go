package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/sipeed/godcmd/pkg/session"
)

const (
	defaultClaudeBaseURL = "https://api.anthropic.com"
	defaultClaudeModel   = "claude-sonnet-4.6"
	claudeMaxTokens      = 4096
)

// Claude talks to the Anthropic messages API.
type Claude struct {
	history
	model   string
	baseURL string
	client  *anthropic.Client
}

func NewClaude(model, apiKey, apiBase string, opts Options) *Claude {
	if model == "" {
		model = defaultClaudeModel
	}
	e := &Claude{
		history: history{opts: opts},
		model:   model,
		baseURL: normalizeClaudeBaseURL(apiBase),
	}
	e.client = e.newClient(apiKey)
	return e
}

func (e *Claude) newClient(apiKey string) *anthropic.Client {
	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(e.baseURL),
	)
	return &client
}

func (e *Claude) Type() string  { return TypeClaude }
func (e *Claude) Model() string { return e.model }

func (e *Claude) Reply(ctx context.Context, req Request) (string, error) {
	client := e.client
	if key := e.apiKeyFor(req.UserID); key != "" {
		client = e.newClient(key)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(e.modelFor(req.UserID, e.model)),
		Messages:  buildClaudeMessages(e.turn(req)),
		MaxTokens: claudeMaxTokens,
	}
	if e.opts.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: e.opts.SystemPrompt}}
	}

	resp, err := client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("claude API call: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.AsText().Text)
		}
	}
	reply, err := trimReply(sb.String())
	if err != nil {
		return "", err
	}
	e.commit(req, reply)
	return reply, nil
}

func buildClaudeMessages(msgs []session.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == "assistant" {
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
			continue
		}
		out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
	}
	return out
}

func normalizeClaudeBaseURL(apiBase string) string {
	base := strings.TrimRight(strings.TrimSpace(apiBase), "/")
	base = strings.TrimSuffix(base, "/v1")
	if base == "" {
		return defaultClaudeBaseURL
	}
	return base
}
