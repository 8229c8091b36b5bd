package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/nexus-assist/internal/agent"
	"github.com/haasonsaas/nexus-assist/internal/memory"
	"github.com/haasonsaas/nexus-assist/pkg/models"
)

// MemorySearchTool is the memory_search tool every agent carries: semantic
// retrieval filtered to the caller agent's memory scope, or unfiltered when
// the agent's scope is global. Vector-store failures are returned as error
// tool results and never abort a turn.
type MemorySearchTool struct {
	orch    *Orchestrator
	manager *memory.Manager
}

// NewMemorySearchTool builds the scoped memory_search tool.
func NewMemorySearchTool(orch *Orchestrator, manager *memory.Manager) *MemorySearchTool {
	return &MemorySearchTool{orch: orch, manager: manager}
}

func (t *MemorySearchTool) Name() string { return "memory_search" }

func (t *MemorySearchTool) Description() string {
	return "Search your long-term memory for relevant facts, preferences, and prior decisions. " +
		"Results are limited to your own memory scope unless your scope is global."
}

func (t *MemorySearchTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": { "type": "string", "description": "What to look for." },
			"limit": { "type": "integer", "description": "Maximum results (default 5)." }
		},
		"required": ["query"]
	}`)
}

func (t *MemorySearchTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return memoryToolError("invalid-arguments", fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Query) == "" {
		return memoryToolError("invalid-arguments", "query is required"), nil
	}
	if input.Limit <= 0 {
		input.Limit = 5
	}
	if t.manager == nil {
		return memoryToolError("vector-error", "memory service not configured"), nil
	}

	req := &models.SearchRequest{Query: input.Query, Limit: input.Limit, Scope: models.ScopeAll}
	if scope := t.callerScope(ctx); scope != "" {
		req.Scope = models.ScopeAgent
		req.ScopeID = scope
	}

	resp, err := t.manager.Search(ctx, req)
	if err != nil {
		return memoryToolError("vector-error", err.Error()), nil
	}

	items := make([]map[string]any, 0, len(resp.Results))
	for _, result := range resp.Results {
		items = append(items, map[string]any{
			"content": result.Entry.Content,
			"score":   result.Score,
			"tags":    result.Entry.Metadata.Tags,
		})
	}
	data, err := json.Marshal(map[string]any{"status": "success", "results": items})
	if err != nil {
		return memoryToolError("vector-error", err.Error()), nil
	}
	return &agent.ToolResult{Content: string(data)}, nil
}

func (t *MemorySearchTool) callerScope(ctx context.Context) string {
	name, _ := agent.AgentNameFromContext(ctx)
	if spec, ok := t.orch.Spec(name); ok && !spec.GlobalMemoryScope() {
		return spec.MemoryScope
	}
	return ""
}

// MemoryStoreTool is the memory_store tool: embeds and writes a memory item
// tagged with the caller agent's memory scope, the timestamp, and a
// memory type.
type MemoryStoreTool struct {
	orch    *Orchestrator
	manager *memory.Manager
}

// NewMemoryStoreTool builds the scoped memory_store tool.
func NewMemoryStoreTool(orch *Orchestrator, manager *memory.Manager) *MemoryStoreTool {
	return &MemoryStoreTool{orch: orch, manager: manager}
}

func (t *MemoryStoreTool) Name() string { return "memory_store" }

func (t *MemoryStoreTool) Description() string {
	return "Store a fact, preference, or decision in your long-term memory. " +
		"Entries are tagged with your memory scope and a memory type."
}

func (t *MemoryStoreTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"text": { "type": "string", "description": "The content to remember." },
			"memory_type": { "type": "string", "description": "Kind of memory: preference, fact, decision, entity, other." }
		},
		"required": ["text", "memory_type"]
	}`)
}

func (t *MemoryStoreTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Text       string `json:"text"`
		MemoryType string `json:"memory_type"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return memoryToolError("invalid-arguments", fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Text) == "" {
		return memoryToolError("invalid-arguments", "text is required"), nil
	}
	if t.manager == nil {
		return memoryToolError("vector-error", "memory service not configured"), nil
	}

	scope := ""
	if name, ok := agent.AgentNameFromContext(ctx); ok {
		if spec, found := t.orch.Spec(name); found && !spec.GlobalMemoryScope() {
			scope = spec.MemoryScope
		}
	}

	now := time.Now()
	entry := &models.MemoryEntry{
		ID:      uuid.NewString(),
		AgentID: scope,
		Content: input.Text,
		Metadata: models.MemoryMetadata{
			Source: "memory_store",
			Tags:   []string{strings.TrimSpace(input.MemoryType)},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if session := agent.SessionFromContext(ctx); session != nil {
		entry.SessionID = session.ID
	}

	if err := t.manager.Index(ctx, []*models.MemoryEntry{entry}); err != nil {
		return memoryToolError("vector-error", err.Error()), nil
	}

	data, err := json.Marshal(map[string]any{"status": "success", "id": entry.ID})
	if err != nil {
		return memoryToolError("vector-error", err.Error()), nil
	}
	return &agent.ToolResult{Content: string(data)}, nil
}

// memoryToolError shapes memory failures into the uniform error tool result;
// vector-store failures surface this way and never propagate as aborts.
func memoryToolError(kind, message string) *agent.ToolResult {
	data, err := json.Marshal(map[string]string{"status": "error", "kind": kind, "message": message})
	if err != nil {
		return &agent.ToolResult{Content: message, IsError: true}
	}
	return &agent.ToolResult{Content: string(data), IsError: true}
}
