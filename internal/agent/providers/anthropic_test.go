package providers

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/haasonsaas/nexus-assist/internal/agent"
	"github.com/haasonsaas/nexus-assist/pkg/models"
)

func TestNewAnthropicProviderRequiresKey(t *testing.T) {
	if _, err := NewAnthropicProvider(AnthropicConfig{}); err == nil {
		t.Fatal("expected error without API key")
	}

	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "sk-ant-test"})
	if err != nil {
		t.Fatalf("NewAnthropicProvider() error = %v", err)
	}
	if p.defaultModel != anthropicDefaultModel {
		t.Errorf("defaultModel = %q", p.defaultModel)
	}
	if p.maxAttempts != 3 {
		t.Errorf("maxAttempts = %d, want 3", p.maxAttempts)
	}
}

func TestAnthropicProviderIdentity(t *testing.T) {
	p, _ := NewAnthropicProvider(AnthropicConfig{APIKey: "sk-ant-test"})
	if p.Name() != "anthropic" {
		t.Errorf("Name() = %q", p.Name())
	}
	if !p.SupportsTools() {
		t.Error("SupportsTools() = false")
	}
	if len(p.Models()) == 0 {
		t.Error("Models() is empty")
	}
}

func TestAnthropicModelSelection(t *testing.T) {
	p, _ := NewAnthropicProvider(AnthropicConfig{APIKey: "k", DefaultModel: "claude-x"})
	if got := p.model(""); got != "claude-x" {
		t.Errorf("model(\"\") = %q", got)
	}
	if got := p.model("claude-y"); got != "claude-y" {
		t.Errorf("model(override) = %q", got)
	}
}

func TestAnthropicMessagesConversion(t *testing.T) {
	input := json.RawMessage(`{"q":"weather"}`)
	messages := []agent.CompletionMessage{
		{Role: "system", Content: "ignored here"},
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "checking", ToolCalls: []models.ToolCall{{ID: "t1", Name: "lookup", Input: input}}},
		{Role: "tool", ToolResults: []models.ToolResult{{ToolCallID: "t1", Content: "sunny"}}},
		{Role: "user"}, // no content, no blocks: dropped
	}

	out, err := anthropicMessages(messages)
	if err != nil {
		t.Fatalf("anthropicMessages() error = %v", err)
	}
	// system skipped, empty user dropped.
	if len(out) != 3 {
		t.Fatalf("converted %d messages, want 3", len(out))
	}
	if out[0].Role != "user" || out[1].Role != "assistant" || out[2].Role != "user" {
		t.Errorf("roles = %v %v %v", out[0].Role, out[1].Role, out[2].Role)
	}
}

func TestAnthropicMessagesRejectBadToolInput(t *testing.T) {
	messages := []agent.CompletionMessage{
		{Role: "assistant", ToolCalls: []models.ToolCall{{ID: "t1", Name: "x", Input: json.RawMessage(`{broken`)}}},
	}
	if _, err := anthropicMessages(messages); err == nil {
		t.Fatal("expected error for malformed tool input")
	}
}

func TestPermanentErrorUnwraps(t *testing.T) {
	inner := NewProviderError("anthropic", "m", errors.New("401 unauthorized")).WithStatus(401)
	perm := &permanentError{inner}
	var target *ProviderError
	if !errors.As(perm, &target) {
		t.Fatal("permanentError does not unwrap to ProviderError")
	}
}

func TestAnthropicWrapErrorPassesProviderErrors(t *testing.T) {
	p, _ := NewAnthropicProvider(AnthropicConfig{APIKey: "k"})
	original := NewProviderError("anthropic", "m", errors.New("boom"))
	if got := p.wrapError(original, "m"); got != original {
		t.Error("wrapError re-wrapped an existing ProviderError")
	}
	wrapped := p.wrapError(errors.New("plain"), "m")
	if !IsProviderError(wrapped) {
		t.Error("wrapError did not produce a ProviderError")
	}
}
