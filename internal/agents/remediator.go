package agents

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Remediator is the Fixer agent. It turns forwarded alerts into remediation
// actions, which it hands over on its next Decide.
type Remediator struct {
	base
	logger *zap.Logger

	mu      sync.Mutex
	pending []Action
}

// NewRemediator returns the Fixer agent.
func NewRemediator(logger *zap.Logger) *Remediator {
	return &Remediator{
		base:   base{id: RemediatorID, name: "Fixer", roles: []string{"agent.remediation"}},
		logger: logger,
	}
}

// Observe implements Agent.
func (r *Remediator) Observe(context.Context, Event) error { return nil }

// Decide implements Agent. It returns the actions taken since the last call.
func (r *Remediator) Decide(context.Context) ([]Action, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.pending
	r.pending = nil
	if out == nil {
		out = []Action{}
	}
	return out, nil
}

// Remediate records a remediation of the alert described by details.
// Remediation does not reverse the flagged transaction.
func (r *Remediator) Remediate(_ context.Context, details map[string]any) Action {
	target, _ := details["transaction_id"].(string)
	a := Action{
		ID:        uuid.New().String(),
		AgentID:   r.id,
		Type:      ActionRemediate,
		TargetID:  target,
		Payload:   details,
		Timestamp: time.Now().UTC(),
		Status:    ActionCompleted,
	}
	if id, ok := details["alert_id"].(string); ok {
		a.TraceID = id
	}

	r.mu.Lock()
	r.pending = append(r.pending, a)
	r.mu.Unlock()

	r.logger.Info("remediating",
		zap.String("agent_id", r.id),
		zap.String("action_id", a.ID),
		zap.String("transaction_id", target),
	)
	return a
}
