package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/nexus-assist/internal/agent"
	"github.com/haasonsaas/nexus-assist/internal/sessions"
	"github.com/haasonsaas/nexus-assist/pkg/models"
)

const (
	// defaultMaxTurns bounds the number of turns per trigger.
	defaultMaxTurns = 8

	// defaultWallClock bounds a trigger's total wall-clock time.
	defaultWallClock = 5 * time.Minute

	// eventValueCap truncates tool values in emitted events; the full value
	// still reaches the model.
	eventValueCap = 2048
)

// Options configures an Orchestrator.
type Options struct {
	// RootName names the root orchestrator agent. Defaults to "root".
	RootName string

	// MaxTurns is the per-trigger turn budget.
	MaxTurns int

	// WallClock is the per-trigger time budget.
	WallClock time.Duration

	// RuntimeOptions is applied to every agent runtime.
	RuntimeOptions agent.RuntimeOptions
}

// Orchestrator holds the static agent graph and one runtime per agent, and
// drives triggers through it: each turn runs under the active agent's
// instructions, model, and tool subset, and a legal transfer directive moves
// the active agent for the remaining turns while history is preserved.
type Orchestrator struct {
	mu sync.RWMutex

	rootName  string
	maxTurns  int
	wallClock time.Duration

	resolver *ModelResolver
	sessions sessions.Store
	runOpts  agent.RuntimeOptions

	specs    map[string]*models.AgentSpec
	runtimes map[string]*agent.Runtime

	// catalog is the registry tool set agents compose their subsets from.
	catalog map[string]agent.Tool
}

// New creates an orchestrator. Agents are added with RegisterAgent after the
// shared tool catalog is populated.
func New(resolver *ModelResolver, store sessions.Store, opts Options) *Orchestrator {
	if opts.RootName == "" {
		opts.RootName = "root"
	}
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = defaultMaxTurns
	}
	if opts.WallClock <= 0 {
		opts.WallClock = defaultWallClock
	}
	return &Orchestrator{
		rootName:  opts.RootName,
		maxTurns:  opts.MaxTurns,
		wallClock: opts.WallClock,
		resolver:  resolver,
		sessions:  store,
		runOpts:   opts.RuntimeOptions,
		specs:     make(map[string]*models.AgentSpec),
		runtimes:  make(map[string]*agent.Runtime),
		catalog:   make(map[string]agent.Tool),
	}
}

// RegisterCatalogTool adds a tool to the shared catalog. Agents reference it
// by name in their ToolNames.
func (o *Orchestrator) RegisterCatalogTool(tool agent.Tool) {
	if tool == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.catalog[tool.Name()] = tool
}

// RegisterAgent resolves the spec's model reference, builds the agent's
// runtime, and composes its tool subset. The transfer capability is attached
// implicitly and must not appear in ToolNames.
func (o *Orchestrator) RegisterAgent(spec *models.AgentSpec) error {
	if spec == nil || strings.TrimSpace(spec.Name) == "" {
		return fmt.Errorf("agent spec requires a name")
	}

	provider, model, err := o.resolver.Resolve(spec.ModelReference)
	if err != nil {
		return fmt.Errorf("agent %q: %w", spec.Name, err)
	}

	rt := agent.NewRuntimeWithOptions(provider, o.sessions, o.runOpts)
	rt.SetDefaultModel(model)

	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.specs[spec.Name]; exists {
		return fmt.Errorf("agent %q already registered", spec.Name)
	}
	for _, toolName := range spec.ToolNames {
		tool, ok := o.catalog[toolName]
		if !ok {
			return fmt.Errorf("agent %q references unknown tool %q", spec.Name, toolName)
		}
		rt.RegisterTool(tool)
	}
	rt.RegisterTool(&TransferTool{orch: o})

	o.specs[spec.Name] = spec
	o.runtimes[spec.Name] = rt
	return nil
}

// Use attaches a plugin to every registered runtime (observability hooks).
func (o *Orchestrator) Use(p agent.Plugin) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	for _, rt := range o.runtimes {
		rt.Use(p)
	}
}

// Spec returns the registered spec for an agent name.
func (o *Orchestrator) Spec(name string) (*models.AgentSpec, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	spec, ok := o.specs[name]
	return spec, ok
}

// RootName returns the root orchestrator agent's name.
func (o *Orchestrator) RootName() string { return o.rootName }

// AgentNames lists registered agents, root first.
func (o *Orchestrator) AgentNames() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	names := make([]string, 0, len(o.specs))
	if _, ok := o.specs[o.rootName]; ok {
		names = append(names, o.rootName)
	}
	for name := range o.specs {
		if name != o.rootName {
			names = append(names, name)
		}
	}
	return names
}

// transferAllowed checks transfer legality: the target must exist and be in
// the source agent's sub-agent set, or be the root orchestrator.
func (o *Orchestrator) transferAllowed(from, to string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if _, exists := o.specs[to]; !exists {
		return false
	}
	spec, ok := o.specs[from]
	if !ok {
		return false
	}
	return spec.CanTransferTo(to, o.rootName)
}

// EmitFunc receives the trigger's event stream in production order.
type EmitFunc func(models.TriggerEvent)

// RunTrigger drives one trigger to completion: turns run under the active
// agent until the model produces a final message with no pending transfer,
// or the turn/time budget is exhausted.
func (o *Orchestrator) RunTrigger(ctx context.Context, env models.TriggerEnvelope, session *models.Session, emit EmitFunc) *models.TriggerOutcome {
	if emit == nil {
		emit = func(models.TriggerEvent) {}
	}
	seq := 0
	event := func(e models.TriggerEvent) {
		seq++
		e.Sequence = seq
		e.Time = time.Now()
		emit(e)
	}

	active := strings.TrimSpace(env.InitialAgent)
	if active == "" {
		active = o.rootName
	}
	if _, ok := o.Spec(active); !ok {
		event(models.TriggerEvent{Type: models.TriggerEventTurnAborted, Agent: active, Reason: "unknown agent"})
		return &models.TriggerOutcome{State: models.TriggerAborted, FinalAgent: active, AbortReason: "unknown agent"}
	}

	ctx, cancel := context.WithTimeout(ctx, o.wallClock)
	defer cancel()

	turnMsg := o.inboundMessage(session, env.InitialPrompt)
	outcome := &models.TriggerOutcome{State: models.TriggerRunning, FinalAgent: active}

	for turn := 0; turn < o.maxTurns; turn++ {
		outcome.Turns = turn + 1
		outcome.FinalAgent = active

		spec, _ := o.Spec(active)
		rt := o.runtime(active)

		event(models.TriggerEvent{Type: models.TriggerEventTurnStarted, Agent: active})

		turnCtx := agent.WithAgentName(ctx, active)
		if spec.Instructions != "" {
			turnCtx = agent.WithSystemPrompt(turnCtx, spec.Instructions)
		}

		text, transfer, err := o.consumeTurn(turnCtx, rt, session, turnMsg, active, event)
		if err != nil {
			reason := "model"
			if ctx.Err() != nil {
				reason = "budget"
			}
			event(models.TriggerEvent{Type: models.TriggerEventTurnAborted, Agent: active, Reason: reason})
			outcome.State = models.TriggerAborted
			outcome.AbortReason = reason
			return outcome
		}

		if transfer != nil && transfer.Status == "transfer" {
			event(models.TriggerEvent{
				Type: models.TriggerEventAgentTransferred,
				From: active,
				To:   transfer.To,
			})
			active = transfer.To
			turnMsg = o.inboundMessage(session, transferNote(transfer))
			if ctx.Err() != nil {
				event(models.TriggerEvent{Type: models.TriggerEventTurnAborted, Agent: active, Reason: "budget"})
				outcome.State = models.TriggerAborted
				outcome.AbortReason = "budget"
				return outcome
			}
			continue
		}

		if transfer != nil && transfer.Status == "illegal-transfer" {
			event(models.TriggerEvent{
				Type:   models.TriggerEventIllegalTransfer,
				Agent:  active,
				From:   active,
				To:     transfer.To,
				Reason: "target not in transfer graph",
			})
		}

		event(models.TriggerEvent{Type: models.TriggerEventAssistantFinal, Agent: active, Text: text})
		event(models.TriggerEvent{Type: models.TriggerEventTurnCompleted, Agent: active})
		outcome.State = models.TriggerCompleted
		outcome.Response = text
		return outcome
	}

	event(models.TriggerEvent{Type: models.TriggerEventTurnAborted, Agent: active, Reason: "budget"})
	outcome.State = models.TriggerAborted
	outcome.AbortReason = "budget"
	return outcome
}

// consumeTurn runs one turn through the active agent's runtime, translating
// its chunk stream into trigger events and watching tool results for a
// transfer directive.
func (o *Orchestrator) consumeTurn(ctx context.Context, rt *agent.Runtime, session *models.Session, msg *models.Message, active string, event EmitFunc) (string, *transferPayload, error) {
	chunks, err := rt.Process(ctx, session, msg)
	if err != nil {
		return "", nil, err
	}

	var text strings.Builder
	var transfer *transferPayload

	for chunk := range chunks {
		if chunk.Error != nil {
			return "", nil, chunk.Error
		}
		if chunk.Text != "" {
			text.WriteString(chunk.Text)
			event(models.TriggerEvent{Type: models.TriggerEventModelResponse, Agent: active, Text: chunk.Text})
		}
		if te := chunk.ToolEvent; te != nil {
			switch te.Stage {
			case models.ToolEventStarted:
				event(models.TriggerEvent{
					Type:     models.TriggerEventToolCall,
					Agent:    active,
					ToolName: te.ToolName,
					Value:    truncateValue(string(te.Input)),
				})
			case models.ToolEventSucceeded, models.ToolEventFailed, models.ToolEventDenied:
				status := "success"
				value := te.Output
				if te.Stage != models.ToolEventSucceeded {
					status = "error"
					value = te.Error
				}
				event(models.TriggerEvent{
					Type:       models.TriggerEventToolResult,
					Agent:      active,
					ToolName:   te.ToolName,
					ToolStatus: status,
					Value:      truncateValue(value),
				})
			}
		}
		if tr := chunk.ToolResult; tr != nil {
			if payload, ok := parseTransfer(tr.Content); ok {
				transfer = &payload
			}
		}
	}

	// The last model_response of the turn is the one rendered by default.
	if text.Len() > 0 {
		event(models.TriggerEvent{Type: models.TriggerEventModelResponse, Agent: active, Text: text.String(), IsFinal: true})
	}
	return text.String(), transfer, ctx.Err()
}

func (o *Orchestrator) runtime(name string) *agent.Runtime {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.runtimes[name]
}

// inboundMessage synthesizes the message that opens a turn.
func (o *Orchestrator) inboundMessage(session *models.Session, content string) *models.Message {
	return &models.Message{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Channel:   session.Channel,
		ChannelID: session.ChannelID,
		Direction: models.DirectionInbound,
		Role:      models.RoleUser,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// transferNote is the continuation prompt the target agent receives; the
// full conversation history is already in the session.
func transferNote(t *transferPayload) string {
	note := "Control transferred from " + t.From + "."
	if t.Reason != "" {
		note += " Reason: " + t.Reason
	}
	note += " Continue with the user's request."
	return note
}

func truncateValue(value string) string {
	if len(value) <= eventValueCap {
		return value
	}
	return value[:eventValueCap] + "…"
}
