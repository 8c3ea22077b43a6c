package agents

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// ErrDuplicateAgent is returned by NewRoster when two agents share an id.
var ErrDuplicateAgent = errors.New("duplicate agent id")

// Roster holds the studio's agents and fans events out to them. The agent
// set is fixed at construction.
type Roster struct {
	agents []Agent
	logger *zap.Logger
}

// NewRoster returns a Roster of the given agents. Events are dispatched in
// argument order.
func NewRoster(logger *zap.Logger, agents ...Agent) (*Roster, error) {
	seen := make(map[string]bool, len(agents))
	for _, a := range agents {
		if seen[a.ID()] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateAgent, a.ID())
		}
		seen[a.ID()] = true
	}
	return &Roster{agents: append([]Agent(nil), agents...), logger: logger}, nil
}

// DefaultAgents returns the built-in Watchdog, Fixer and Commander agents.
func DefaultAgents(alertThreshold float64, logger *zap.Logger) []Agent {
	return []Agent{
		NewMonitor(alertThreshold, logger),
		NewRemediator(logger),
		NewOrchestrator(),
	}
}

// Monitor returns the agent registered as MonitorID, or nil.
func (r *Roster) Monitor() *Monitor { return agentAs[*Monitor](r, MonitorID) }

// Remediator returns the agent registered as RemediatorID, or nil.
func (r *Roster) Remediator() *Remediator { return agentAs[*Remediator](r, RemediatorID) }

// Orchestrator returns the agent registered as OrchestratorID, or nil.
func (r *Roster) Orchestrator() *Orchestrator { return agentAs[*Orchestrator](r, OrchestratorID) }

func agentAs[T Agent](r *Roster, id string) T {
	var zero T
	a, ok := r.Get(id)
	if !ok {
		return zero
	}
	t, ok := a.(T)
	if !ok {
		return zero
	}
	return t
}

// Agents returns every agent ordered by id.
func (r *Roster) Agents() []Agent {
	out := make([]Agent, len(r.agents))
	copy(out, r.agents)
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Get returns the agent with the given id.
func (r *Roster) Get(id string) (Agent, bool) {
	for _, a := range r.agents {
		if a.ID() == id {
			return a, true
		}
	}
	return nil, false
}

// Dispatch delivers e to every agent. An agent that fails to observe is
// logged and skipped; the others still see the event.
func (r *Roster) Dispatch(ctx context.Context, e Event) {
	for _, a := range r.agents {
		if err := a.Observe(ctx, e); err != nil {
			r.logger.Warn("agent failed to observe event",
				zap.String("agent_id", a.ID()),
				zap.String("event_type", e.Type),
				zap.Error(err),
			)
		}
	}
}

// Decide asks every agent for its next actions. When the roster has an
// orchestrator the actions are recorded in its action log.
func (r *Roster) Decide(ctx context.Context) ([]Action, error) {
	var all []Action
	for _, a := range r.agents {
		actions, err := a.Decide(ctx)
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", a.ID(), err)
		}
		all = append(all, actions...)
	}
	if o := r.Orchestrator(); o != nil {
		o.record(all)
	}
	return all, nil
}
