package providers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/haasonsaas/nexus-assist/internal/agent"
	"github.com/haasonsaas/nexus-assist/pkg/models"
)

func TestNewOpenAIProviderWithoutKey(t *testing.T) {
	p := NewOpenAIProvider("")
	if p.client != nil {
		t.Error("client created without API key")
	}
	if _, err := p.Complete(context.Background(), &agent.CompletionRequest{}); err == nil {
		t.Error("Complete() succeeded without a configured key")
	}
}

func TestNewOpenAIProviderWithConfigBaseURL(t *testing.T) {
	p := NewOpenAIProviderWithConfig(OpenAIConfig{APIKey: "k", BaseURL: "http://localhost:8080/v1"})
	if p.client == nil {
		t.Fatal("client not created")
	}
	if p.Name() != "openai" || !p.SupportsTools() {
		t.Error("provider identity wrong")
	}
}

func TestOpenAIMessagesConversion(t *testing.T) {
	messages := []agent.CompletionMessage{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "calling", ToolCalls: []models.ToolCall{{ID: "c1", Name: "f", Input: json.RawMessage(`{}`)}}},
		{Role: "tool", ToolResults: []models.ToolResult{
			{ToolCallID: "c1", Content: "one"},
			{ToolCallID: "c2", Content: "two"},
		}},
	}

	out := openaiMessages(messages, "be brief")
	// system + user + assistant + two tool messages
	if len(out) != 5 {
		t.Fatalf("converted %d messages, want 5", len(out))
	}
	if out[0].Role != "system" || out[0].Content != "be brief" {
		t.Errorf("system message = %+v", out[0])
	}
	if len(out[2].ToolCalls) != 1 || out[2].ToolCalls[0].Function.Name != "f" {
		t.Errorf("assistant tool calls = %+v", out[2].ToolCalls)
	}
	if out[3].Role != "tool" || out[3].ToolCallID != "c1" {
		t.Errorf("tool message = %+v", out[3])
	}
	if out[4].ToolCallID != "c2" {
		t.Errorf("second tool message = %+v", out[4])
	}
}

func TestOpenAIRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("rate limit exceeded"), true},
		{errors.New("HTTP 503 service unavailable"), true},
		{errors.New("context deadline exceeded"), true},
		{errors.New("invalid api key"), false},
		{errors.New("400 bad request"), false},
	}
	for _, tc := range tests {
		if got := openaiRetryable(tc.err); got != tc.want {
			t.Errorf("openaiRetryable(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
