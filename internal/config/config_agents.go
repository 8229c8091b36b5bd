package config

import (
	"time"

	"github.com/haasonsaas/nexus-assist/pkg/models"
)

// AgentsConfig defines the agent orchestration graph: a root orchestrator
// plus specialist agents, each with its own instruction, model reference,
// tool subset, memory scope, and legal transfer targets. An empty spec list
// disables orchestration and messages run through the single default agent.
type AgentsConfig struct {
	// Root names the root orchestrator agent. Defaults to "root".
	Root string `yaml:"root"`

	// MaxTurns bounds the turns of a single trigger.
	MaxTurns int `yaml:"max_turns"`

	// WallClock bounds a single trigger's total time.
	WallClock time.Duration `yaml:"wall_clock"`

	// Specs is the static agent set, constructed at boot and rebuilt when
	// the agent configuration changes.
	Specs []models.AgentSpec `yaml:"specs"`
}

// Enabled reports whether orchestration is configured.
func (c AgentsConfig) Enabled() bool {
	return len(c.Specs) > 0
}

// RootName returns the configured root agent name with its default.
func (c AgentsConfig) RootName() string {
	if c.Root == "" {
		return "root"
	}
	return c.Root
}
