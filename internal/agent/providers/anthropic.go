// Package providers implements the ModelClient side of the agent runtime:
// thin adapters that turn a CompletionRequest into one provider-specific
// streaming call and translate the stream back into CompletionChunks. The
// interesting behavior (tool loop, failover, provider selection) lives in
// the runtime; these stay deliberately small.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/haasonsaas/nexus-assist/internal/agent"
	"github.com/haasonsaas/nexus-assist/internal/agent/toolconv"
	"github.com/haasonsaas/nexus-assist/internal/backoff"
	"github.com/haasonsaas/nexus-assist/pkg/models"
)

const (
	anthropicDefaultModel     = "claude-sonnet-4-20250514"
	anthropicDefaultMaxTokens = 4096

	// maxEmptyStreamEvents bails out of a stream that produces nothing,
	// which indicates a malformed SSE feed rather than a slow model.
	maxEmptyStreamEvents = 50
)

// AnthropicConfig configures an AnthropicProvider.
type AnthropicConfig struct {
	// APIKey authenticates against the Anthropic API.
	APIKey string

	// DefaultModel is used when a request names no model.
	DefaultModel string

	// BaseURL overrides the API endpoint (proxies, gateways).
	BaseURL string

	// MaxAttempts bounds stream-creation retries (default 3).
	MaxAttempts int
}

// AnthropicProvider is the hosted ModelClient backed by Anthropic's API.
// Safe for concurrent use; every Complete call owns its own stream.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
	maxAttempts  int
	retryPolicy  backoff.BackoffPolicy
}

// NewAnthropicProvider creates the provider.
func NewAnthropicProvider(config AnthropicConfig) (*AnthropicProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = anthropicDefaultModel
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}

	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if strings.TrimSpace(config.BaseURL) != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(options...),
		defaultModel: config.DefaultModel,
		maxAttempts:  config.MaxAttempts,
		retryPolicy:  backoff.DefaultPolicy(),
	}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) SupportsTools() bool { return true }

func (p *AnthropicProvider) Models() []agent.Model {
	return []agent.Model{
		{ID: anthropicDefaultModel, Name: "Claude Sonnet 4", ContextSize: 200000, SupportsVision: true},
		{ID: "claude-opus-4-20250514", Name: "Claude Opus 4", ContextSize: 200000, SupportsVision: true},
		{ID: "claude-3-5-haiku-20241022", Name: "Claude 3.5 Haiku", ContextSize: 200000, SupportsVision: true},
	}
}

// Complete streams one model call. Transient failures creating the stream
// are retried with jittered exponential backoff; persistent failure is
// reported as a terminal chunk error for the runtime to classify.
func (p *AnthropicProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	chunks := make(chan *agent.CompletionChunk)

	go func() {
		defer close(chunks)

		model := p.model(req.Model)
		result, err := backoff.RetryWithBackoff(ctx, p.retryPolicy, p.maxAttempts, func(int) (*ssestream.Stream[anthropic.MessageStreamEventUnion], error) {
			stream, streamErr := p.newStream(ctx, req, model)
			if streamErr != nil {
				wrapped := p.wrapError(streamErr, model)
				if !IsRetryable(wrapped) {
					return nil, &permanentError{wrapped}
				}
				return nil, wrapped
			}
			return stream, nil
		})
		if err != nil {
			var perm *permanentError
			if errors.As(result.LastError, &perm) {
				chunks <- &agent.CompletionChunk{Error: perm.err}
				return
			}
			chunks <- &agent.CompletionChunk{Error: p.wrapError(err, model)}
			return
		}

		p.consumeStream(result.Value, chunks, model)
	}()

	return chunks, nil
}

// permanentError marks an error the retry loop must not repeat.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// newStream converts the request and opens the streaming call.
func (p *AnthropicProvider) newStream(ctx context.Context, req *agent.CompletionRequest, model string) (*ssestream.Stream[anthropic.MessageStreamEventUnion], error) {
	messages, err := anthropicMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("anthropic: convert messages: %w", err)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := toolconv.ToAnthropicTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("anthropic: convert tools: %w", err)
		}
		params.Tools = tools
	}
	if req.EnableThinking {
		budget := int64(req.ThinkingBudgetTokens)
		if budget < 1024 {
			budget = 10000
		}
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(budget)
	}

	return p.client.Messages.NewStreaming(ctx, params), nil
}

// consumeStream translates SSE events into chunks: text deltas stream
// through, tool-use blocks accumulate their JSON input and emit one
// ToolCall, and message_stop closes the stream with token counts.
func (p *AnthropicProvider) consumeStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- *agent.CompletionChunk, model string) {
	var toolCall *models.ToolCall
	var toolInput strings.Builder
	var inputTokens, outputTokens int
	thinking := false
	empty := 0

	for stream.Next() {
		event := stream.Current()
		produced := true

		switch event.Type {
		case "message_start":
			inputTokens = int(event.AsMessageStart().Message.Usage.InputTokens)

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			switch block.Type {
			case "thinking":
				thinking = true
				chunks <- &agent.CompletionChunk{ThinkingStart: true}
			case "tool_use":
				use := block.AsToolUse()
				toolCall = &models.ToolCall{ID: use.ID, Name: use.Name}
				toolInput.Reset()
			default:
				produced = false
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				chunks <- &agent.CompletionChunk{Text: delta.Text}
			case "thinking_delta":
				chunks <- &agent.CompletionChunk{Thinking: delta.Thinking}
			case "input_json_delta":
				toolInput.WriteString(delta.PartialJSON)
			default:
				produced = false
			}

		case "content_block_stop":
			switch {
			case thinking:
				thinking = false
				chunks <- &agent.CompletionChunk{ThinkingEnd: true}
			case toolCall != nil:
				toolCall.Input = json.RawMessage(toolInput.String())
				chunks <- &agent.CompletionChunk{ToolCall: toolCall}
				toolCall = nil
			default:
				produced = false
			}

		case "message_delta":
			outputTokens = int(event.AsMessageDelta().Usage.OutputTokens)

		case "message_stop":
			chunks <- &agent.CompletionChunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens}
			return

		case "error":
			chunks <- &agent.CompletionChunk{Error: p.wrapError(errors.New("anthropic stream error"), model)}
			return

		default:
			produced = false
		}

		if produced {
			empty = 0
		} else if empty++; empty >= maxEmptyStreamEvents {
			chunks <- &agent.CompletionChunk{Error: p.wrapError(fmt.Errorf("malformed stream: %d consecutive empty events", empty), model)}
			return
		}
	}

	if err := stream.Err(); err != nil {
		chunks <- &agent.CompletionChunk{Error: p.wrapError(err, model)}
	}
}

// anthropicMessages converts the runtime's message log into Anthropic's
// content-block format. System entries are carried separately; tool results
// ride on user-role messages.
func anthropicMessages(messages []agent.CompletionMessage) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam
	for _, msg := range messages {
		if msg.Role == "system" {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, tr := range msg.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
		}
		for _, tc := range msg.ToolCalls {
			var input map[string]interface{}
			if err := json.Unmarshal(tc.Input, &input); err != nil {
				return nil, fmt.Errorf("invalid tool call input: %w", err)
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}
		if len(content) == 0 {
			continue
		}

		if msg.Role == "assistant" {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

// wrapError folds SDK errors into the shared ProviderError classification
// the failover layer keys on.
func (p *AnthropicProvider) wrapError(err error, model string) error {
	if err == nil || IsProviderError(err) {
		return err
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return NewProviderError("anthropic", model, err).
			WithStatus(apiErr.StatusCode).
			WithRequestID(apiErr.RequestID)
	}
	return NewProviderError("anthropic", model, err)
}

func (p *AnthropicProvider) model(requested string) string {
	if requested == "" {
		return p.defaultModel
	}
	return requested
}
