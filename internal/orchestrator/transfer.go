package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/nexus-assist/internal/agent"
)

// transferToolName is the directive the model uses to hand control to
// another agent.
const transferToolName = "transfer_to_agent"

// transferPayload is the structured result the transfer tool returns; the
// orchestrator inspects tool results for it after each turn.
type transferPayload struct {
	Status string `json:"status"` // "transfer" | "illegal-transfer"
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason,omitempty"`
}

// TransferTool lets the active agent transfer control to another agent for
// the remaining turns of the trigger. Legality is enforced against the
// active agent's sub-agent set plus the root orchestrator, so an agent can
// always return upward but never jump to an arbitrary peer.
type TransferTool struct {
	orch *Orchestrator
}

func (t *TransferTool) Name() string { return transferToolName }

func (t *TransferTool) Description() string {
	names := t.orch.AgentNames()
	return "Transfer this conversation to another agent when the request is outside your scope. " +
		"Subsequent turns run under the target agent's instructions and tools; the conversation history is preserved. " +
		"Known agents: " + strings.Join(names, ", ") + ". " +
		"You may only transfer to your own sub-agents or back to the root orchestrator."
}

func (t *TransferTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"agent": {
				"type": "string",
				"description": "Name of the agent to transfer control to."
			},
			"reason": {
				"type": "string",
				"description": "Why the target agent should take over."
			}
		},
		"required": ["agent"]
	}`)
}

// Execute validates the directive and records the outcome as a structured
// result. Illegal targets are reported back to the model as an error tool
// result; the orchestrator additionally raises the illegal-transfer system
// event and concludes the turn under the current agent.
func (t *TransferTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Agent  string `json:"agent"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("invalid transfer parameters: %v", err), IsError: true}, nil
	}

	from, _ := agent.AgentNameFromContext(ctx)
	target := strings.TrimSpace(input.Agent)

	payload := transferPayload{From: from, To: target, Reason: strings.TrimSpace(input.Reason)}
	if t.orch.transferAllowed(from, target) {
		payload.Status = "transfer"
		data, err := json.Marshal(payload)
		if err != nil {
			return &agent.ToolResult{Content: fmt.Sprintf("encode transfer: %v", err), IsError: true}, nil
		}
		return &agent.ToolResult{Content: string(data)}, nil
	}

	payload.Status = "illegal-transfer"
	data, err := json.Marshal(payload)
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("encode transfer: %v", err), IsError: true}, nil
	}
	return &agent.ToolResult{Content: string(data), IsError: true}, nil
}

// parseTransfer extracts a transfer payload from a tool result, reporting ok
// only when the content carries the transfer marker.
func parseTransfer(content string) (transferPayload, bool) {
	var payload transferPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return transferPayload{}, false
	}
	if payload.Status != "transfer" && payload.Status != "illegal-transfer" {
		return transferPayload{}, false
	}
	return payload, true
}
