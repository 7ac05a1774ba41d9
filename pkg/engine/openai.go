package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/sipeed/godcmd/pkg/session"
)

const (
	defaultOpenAIModel    = "gpt-4o-mini"
	defaultRequestTimeout = 120 * time.Second
)

// OpenAI talks to an OpenAI-compatible chat completions endpoint. Users
// with their own API key get a client built for that key.
type OpenAI struct {
	history
	typ        string
	model      string
	apiBase    string
	httpClient *http.Client
	client     *openai.Client
}

func NewOpenAI(typ, model, apiKey, apiBase string, opts Options) *OpenAI {
	if typ == "" {
		typ = TypeOpenAI
	}
	if model == "" {
		model = defaultOpenAIModel
	}
	e := &OpenAI{
		history:    history{opts: opts},
		typ:        typ,
		model:      model,
		apiBase:    strings.TrimRight(apiBase, "/"),
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
	}
	e.client = e.newClient(apiKey)
	return e
}

func (e *OpenAI) newClient(apiKey string) *openai.Client {
	reqOpts := []option.RequestOption{option.WithHTTPClient(e.httpClient)}
	if e.apiBase != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(e.apiBase))
	}
	if apiKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(apiKey))
	}
	client := openai.NewClient(reqOpts...)
	return &client
}

func (e *OpenAI) Type() string  { return e.typ }
func (e *OpenAI) Model() string { return e.model }

func (e *OpenAI) Reply(ctx context.Context, req Request) (string, error) {
	client := e.client
	if key := e.apiKeyFor(req.UserID); key != "" {
		client = e.newClient(key)
	}

	params := openai.ChatCompletionNewParams{
		Model:    e.modelFor(req.UserID, e.model),
		Messages: e.buildMessages(e.turn(req)),
	}

	resp, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf(
				"OpenAI API request failed (status=%d): %s",
				apiErr.StatusCode,
				strings.TrimSpace(apiErr.Message),
			)
		}
		return "", fmt.Errorf("OpenAI API request failed: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", fmt.Errorf("OpenAI API returned no choices")
	}

	reply, err := trimReply(resp.Choices[0].Message.Content)
	if err != nil {
		return "", err
	}
	e.commit(req, reply)
	return reply, nil
}

func (e *OpenAI) buildMessages(msgs []session.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs)+1)
	if e.opts.SystemPrompt != "" {
		out = append(out, openai.SystemMessage(e.opts.SystemPrompt))
	}
	for _, m := range msgs {
		switch m.Role {
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
