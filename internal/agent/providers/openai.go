package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/nexus-assist/internal/agent"
	"github.com/haasonsaas/nexus-assist/internal/agent/toolconv"
	"github.com/haasonsaas/nexus-assist/internal/backoff"
	"github.com/haasonsaas/nexus-assist/pkg/models"
)

const openaiDefaultModel = "gpt-4o"

// OpenAIConfig configures an OpenAIProvider beyond the bare API key.
type OpenAIConfig struct {
	// APIKey authenticates against the OpenAI API.
	APIKey string

	// BaseURL overrides the API endpoint for OpenAI-compatible servers.
	BaseURL string

	// MaxAttempts bounds stream-creation retries (default 3).
	MaxAttempts int
}

// OpenAIProvider is the hosted ModelClient backed by OpenAI's chat API,
// also serving OpenAI-compatible gateways via BaseURL.
type OpenAIProvider struct {
	client      *openai.Client
	maxAttempts int
	retryPolicy backoff.BackoffPolicy
}

// NewOpenAIProvider creates a provider against the default endpoint.
func NewOpenAIProvider(apiKey string) *OpenAIProvider {
	return NewOpenAIProviderWithConfig(OpenAIConfig{APIKey: apiKey})
}

// NewOpenAIProviderWithConfig creates a provider with a custom endpoint.
func NewOpenAIProviderWithConfig(cfg OpenAIConfig) *OpenAIProvider {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	p := &OpenAIProvider{maxAttempts: cfg.MaxAttempts, retryPolicy: backoff.DefaultPolicy()}
	if cfg.APIKey == "" {
		return p
	}
	if cfg.BaseURL != "" {
		clientCfg := openai.DefaultConfig(cfg.APIKey)
		clientCfg.BaseURL = cfg.BaseURL
		p.client = openai.NewClientWithConfig(clientCfg)
	} else {
		p.client = openai.NewClient(cfg.APIKey)
	}
	return p
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) SupportsTools() bool { return true }

func (p *OpenAIProvider) Models() []agent.Model {
	return []agent.Model{
		{ID: openaiDefaultModel, Name: "GPT-4o", ContextSize: 128000, SupportsVision: true},
		{ID: "gpt-4o-mini", Name: "GPT-4o mini", ContextSize: 128000, SupportsVision: true},
		{ID: "gpt-4-turbo", Name: "GPT-4 Turbo", ContextSize: 128000, SupportsVision: true},
	}
}

// Complete opens one streaming chat completion, retrying transient
// stream-creation failures with jittered exponential backoff.
func (p *OpenAIProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	if p.client == nil {
		return nil, errors.New("openai: API key not configured")
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: openaiMessages(req.Messages, req.System),
		Stream:   true,
	}
	if chatReq.Model == "" {
		chatReq.Model = openaiDefaultModel
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = toolconv.ToOpenAITools(req.Tools)
	}

	result, err := backoff.RetryWithBackoff(ctx, p.retryPolicy, p.maxAttempts, func(int) (*openai.ChatCompletionStream, error) {
		stream, streamErr := p.client.CreateChatCompletionStream(ctx, chatReq)
		if streamErr != nil && !openaiRetryable(streamErr) {
			return nil, &permanentError{NewProviderError("openai", chatReq.Model, streamErr)}
		}
		return stream, streamErr
	})
	if err != nil {
		var perm *permanentError
		if errors.As(result.LastError, &perm) {
			return nil, perm.err
		}
		return nil, NewProviderError("openai", chatReq.Model, err)
	}

	chunks := make(chan *agent.CompletionChunk)
	go p.consumeStream(ctx, result.Value, chunks)
	return chunks, nil
}

// consumeStream forwards text deltas and assembles incrementally streamed
// tool-call arguments until the stream closes.
func (p *OpenAIProvider) consumeStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- *agent.CompletionChunk) {
	defer close(chunks)
	defer stream.Close()

	toolCalls := make(map[int]*models.ToolCall)
	flushToolCalls := func() {
		for _, tc := range toolCalls {
			if tc.ID != "" && tc.Name != "" {
				chunks <- &agent.CompletionChunk{ToolCall: tc}
			}
		}
		toolCalls = make(map[int]*models.ToolCall)
	}

	for {
		select {
		case <-ctx.Done():
			chunks <- &agent.CompletionChunk{Error: ctx.Err(), Done: true}
			return
		default:
		}

		response, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				flushToolCalls()
				chunks <- &agent.CompletionChunk{Done: true}
				return
			}
			chunks <- &agent.CompletionChunk{Error: NewProviderError("openai", "", err), Done: true}
			return
		}
		if len(response.Choices) == 0 {
			continue
		}
		choice := response.Choices[0]

		if choice.Delta.Content != "" {
			chunks <- &agent.CompletionChunk{Text: choice.Delta.Content}
		}

		for _, tc := range choice.Delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			if toolCalls[index] == nil {
				toolCalls[index] = &models.ToolCall{}
			}
			if tc.ID != "" {
				toolCalls[index].ID = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[index].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				toolCalls[index].Input = json.RawMessage(string(toolCalls[index].Input) + tc.Function.Arguments)
			}
		}

		if choice.FinishReason == "tool_calls" {
			flushToolCalls()
		}
	}
}

// openaiMessages converts the runtime's message log into OpenAI chat
// messages. The system prompt leads; each tool result becomes its own
// tool-role message.
func openaiMessages(messages []agent.CompletionMessage, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}

	for _, msg := range messages {
		if msg.Role == "tool" {
			for _, tr := range msg.ToolResults {
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.Content,
					ToolCallID: tr.ToolCallID,
				})
			}
			continue
		}

		out := openai.ChatCompletionMessage{Role: msg.Role, Content: msg.Content}
		if msg.Role == "assistant" && len(msg.ToolCalls) > 0 {
			out.ToolCalls = make([]openai.ToolCall, len(msg.ToolCalls))
			for i, tc := range msg.ToolCalls {
				out.ToolCalls[i] = openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Input),
					},
				}
			}
		}
		result = append(result, out)
	}
	return result
}

// openaiRetryable classifies transient API failures worth another attempt.
func openaiRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"rate limit", "429", "500", "502", "503", "504", "timeout", "deadline exceeded", "connection reset"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
