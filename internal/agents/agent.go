// Package agents implements the autonomous agents that watch studio
// activity: a monitor that raises alerts on risky transfers, a remediator,
// an orchestrator, and the signed message bus they talk over.
package agents

import (
	"context"
	"time"
)

// Well-known agent identities.
const (
	MonitorID      = "agent-monitoring-001"
	RemediatorID   = "agent-remediation-001"
	OrchestratorID = "agent-orchestrator-001"
)

// Agent is an autonomous participant that observes events and may decide on
// actions.
type Agent interface {
	ID() string
	Name() string
	Roles() []string
	Observe(ctx context.Context, e Event) error
	Decide(ctx context.Context) ([]Action, error)
}

// Event is something an agent may react to. Transfer events carry the
// transaction id and its risk score.
type Event struct {
	Type          string         `json:"type"`
	TransactionID string         `json:"transaction_id,omitempty"`
	RiskScore     float64        `json:"risk_score"`
	Details       map[string]any `json:"details,omitempty"`
}

// EventTransfer is the Event.Type of a completed token transfer.
const EventTransfer = "transaction.transfer"

// ActionType classifies what an agent did or intends to do.
type ActionType string

const (
	ActionObserve     ActionType = "observe"
	ActionDecide      ActionType = "decide"
	ActionCommunicate ActionType = "communicate"
	ActionRemediate   ActionType = "remediate"
	ActionEnforce     ActionType = "enforce"
)

// ActionStatus is the lifecycle state of an Action.
type ActionStatus string

const (
	ActionPending   ActionStatus = "pending"
	ActionCompleted ActionStatus = "completed"
	ActionFailed    ActionStatus = "failed"
	ActionReverted  ActionStatus = "reverted"
)

// Action is a decision taken by an agent.
type Action struct {
	ID        string         `json:"id"`
	AgentID   string         `json:"agent_id"`
	Type      ActionType     `json:"action_type"`
	TargetID  string         `json:"target_id,omitempty"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
	Signature string         `json:"signature"`
	Status    ActionStatus   `json:"status"`
	TraceID   string         `json:"trace_id,omitempty"`
}

// base carries the fixed descriptors shared by every agent.
type base struct {
	id    string
	name  string
	roles []string
}

func (b base) ID() string   { return b.id }
func (b base) Name() string { return b.name }

func (b base) Roles() []string {
	out := make([]string, len(b.roles))
	copy(out, b.roles)
	return out
}
