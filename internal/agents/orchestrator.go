package agents

import (
	"context"
	"sync"
)

// Orchestrator is the Commander agent. It holds the log of coordinated
// actions.
type Orchestrator struct {
	base

	mu      sync.Mutex
	actions []Action
}

// NewOrchestrator returns the Commander agent.
func NewOrchestrator() *Orchestrator {
	return &Orchestrator{
		base: base{id: OrchestratorID, name: "Commander", roles: []string{"agent.orchestration"}},
	}
}

// Observe implements Agent.
func (o *Orchestrator) Observe(context.Context, Event) error { return nil }

// Decide implements Agent.
func (o *Orchestrator) Decide(context.Context) ([]Action, error) { return []Action{}, nil }

// ActionLog returns a snapshot of the recorded actions.
func (o *Orchestrator) ActionLog() []Action {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Action, len(o.actions))
	copy(out, o.actions)
	return out
}

func (o *Orchestrator) record(actions []Action) {
	if len(actions) == 0 {
		return
	}
	o.mu.Lock()
	o.actions = append(o.actions, actions...)
	o.mu.Unlock()
}
