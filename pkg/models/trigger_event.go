package models

import "time"

// TriggerEventType enumerates the events a trigger's subscribers observe,
// emitted in production order within a single trigger.
type TriggerEventType string

const (
	// TriggerEventTurnStarted opens a turn under the active agent.
	TriggerEventTurnStarted TriggerEventType = "turn_started"

	// TriggerEventModelResponse carries model text. Several may be emitted
	// per turn; only the one flagged final is rendered by default UIs.
	TriggerEventModelResponse TriggerEventType = "model_response"

	// TriggerEventToolCall reports a tool invocation request.
	TriggerEventToolCall TriggerEventType = "tool_call"

	// TriggerEventToolResult reports a tool outcome; large values are
	// truncated for the event while the full value reaches the model.
	TriggerEventToolResult TriggerEventType = "tool_result"

	// TriggerEventAgentTransferred records a legal control transfer.
	TriggerEventAgentTransferred TriggerEventType = "agent_transferred"

	// TriggerEventIllegalTransfer is the system event signalling a transfer
	// directive whose target is outside the legal transfer graph.
	TriggerEventIllegalTransfer TriggerEventType = "illegal-transfer"

	// TriggerEventAssistantFinal carries the active agent's final text.
	TriggerEventAssistantFinal TriggerEventType = "assistant_final"

	// TriggerEventTurnCompleted closes a turn normally.
	TriggerEventTurnCompleted TriggerEventType = "turn_completed"

	// TriggerEventTurnAborted closes a turn on budget exhaustion or
	// persistent model failure.
	TriggerEventTurnAborted TriggerEventType = "turn_aborted"
)

// TriggerEvent is one entry of a trigger's totally-ordered event stream.
type TriggerEvent struct {
	Type TriggerEventType `json:"type"`

	// Sequence is monotonic within the trigger.
	Sequence int `json:"seq"`

	// Agent is the active agent when the event was produced.
	Agent string `json:"agent,omitempty"`

	// From and To are set on agent_transferred (and illegal-transfer, where
	// To is the rejected target).
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`

	// Text carries model_response / assistant_final content.
	Text string `json:"text,omitempty"`

	// IsFinal marks the model_response that concludes the turn.
	IsFinal bool `json:"is_final,omitempty"`

	// ToolName, ToolStatus, and Value describe tool_call / tool_result.
	ToolName   string `json:"tool_name,omitempty"`
	ToolStatus string `json:"tool_status,omitempty"` // success | error
	Value      string `json:"value,omitempty"`       // args or truncated result

	// Reason is set on turn_aborted ("budget", "model") and
	// illegal-transfer.
	Reason string `json:"reason,omitempty"`

	Time time.Time `json:"time"`
}

// TriggerState is the lifecycle of one trigger:
// Pending → Running[active_agent=X] → (Running[active_agent=Y])* →
// Completed | Aborted.
type TriggerState string

const (
	TriggerPending   TriggerState = "pending"
	TriggerRunning   TriggerState = "running"
	TriggerCompleted TriggerState = "completed"
	TriggerAborted   TriggerState = "aborted"
)

// TriggerOutcome summarizes a finished trigger for its submitter.
type TriggerOutcome struct {
	State TriggerState `json:"state"`

	// FinalAgent is the active agent when the trigger ended.
	FinalAgent string `json:"final_agent,omitempty"`

	// Response is the final assistant text (empty on abort).
	Response string `json:"response,omitempty"`

	// AbortReason explains an Aborted state.
	AbortReason string `json:"abort_reason,omitempty"`

	// Turns is the number of turns consumed.
	Turns int `json:"turns"`
}
