package models

import "strings"

// AgentSpec describes one agent in the orchestration graph: its instruction,
// the model it runs on, the tools it may call, the memory partition it reads
// and writes, and the set of agents it is allowed to transfer control to.
// Specs are static; they are constructed at boot and rebuilt only when the
// agent configuration changes.
type AgentSpec struct {
	// Name uniquely identifies the agent ("root", "planner", ...).
	Name string `json:"name" yaml:"name"`

	// Instructions is the agent's system instruction.
	Instructions string `json:"instructions" yaml:"instructions"`

	// ModelReference selects the model. References prefixed "ollama/" or
	// "ollama_chat/" route to the local model client; anything else is a
	// hosted-provider model name.
	ModelReference string `json:"model_reference" yaml:"model"`

	// ToolNames is the ordered set of registry tools exposed to this agent.
	ToolNames []string `json:"tool_names" yaml:"tools"`

	// MemoryScope tags this agent's memory writes and filters its reads.
	// Empty means the global, unpartitioned scope.
	MemoryScope string `json:"memory_scope,omitempty" yaml:"memory_scope"`

	// SubAgentNames is the set of agents this agent may transfer to.
	// Together with the root agent it defines the legal transfer graph.
	SubAgentNames []string `json:"sub_agent_names,omitempty" yaml:"sub_agents"`
}

// CanTransferTo reports whether a transfer from this agent to target is
// legal: target must be one of the agent's sub-agents, or the originating
// root orchestrator (return upward is always allowed).
func (s *AgentSpec) CanTransferTo(target, rootName string) bool {
	target = strings.TrimSpace(target)
	if s == nil || target == "" || target == s.Name {
		return false
	}
	if rootName != "" && target == rootName {
		return true
	}
	for _, name := range s.SubAgentNames {
		if name == target {
			return true
		}
	}
	return false
}

// GlobalMemoryScope reports whether the agent reads the unpartitioned
// memory scope.
func (s *AgentSpec) GlobalMemoryScope() bool {
	return s == nil || strings.TrimSpace(s.MemoryScope) == ""
}
