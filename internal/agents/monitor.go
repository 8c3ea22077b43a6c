package agents

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultAlertThreshold is the risk score above which the monitor alerts.
const DefaultAlertThreshold = 80.0

// AlertType classifies an alert.
type AlertType string

const (
	AlertSecurity    AlertType = "security"
	AlertPerformance AlertType = "performance"
	AlertCompliance  AlertType = "compliance"
	AlertOperational AlertType = "operational"
)

// Severity ranks an alert.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Alert is raised by the monitor when it observes a risky event.
type Alert struct {
	ID                   string    `json:"id"`
	Type                 AlertType `json:"type"`
	Severity             Severity  `json:"severity"`
	Message              string    `json:"message"`
	Timestamp            time.Time `json:"timestamp"`
	Source               string    `json:"source"`
	Resolved             bool      `json:"is_resolved"`
	ResolvedBy           string    `json:"resolved_by,omitempty"`
	RelatedTransactionID string    `json:"related_transaction_id,omitempty"`
}

// Monitor raises a security alert for every event whose risk score exceeds
// its threshold. It is safe for concurrent use.
type Monitor struct {
	base
	threshold float64
	logger    *zap.Logger
	onAlert   func(Alert)

	mu     sync.Mutex
	alerts []Alert
}

// NewMonitor returns the Watchdog monitor. A threshold <= 0 selects
// DefaultAlertThreshold.
func NewMonitor(threshold float64, logger *zap.Logger) *Monitor {
	if threshold <= 0 {
		threshold = DefaultAlertThreshold
	}
	return &Monitor{
		base:      base{id: MonitorID, name: "Watchdog", roles: []string{"agent.monitoring"}},
		threshold: threshold,
		logger:    logger,
	}
}

// SetAlertHook registers fn to be called after every new alert.
func (m *Monitor) SetAlertHook(fn func(Alert)) {
	m.mu.Lock()
	m.onAlert = fn
	m.mu.Unlock()
}

// Threshold returns the score above which alerts are raised.
func (m *Monitor) Threshold() float64 { return m.threshold }

// Observe implements Agent.
func (m *Monitor) Observe(_ context.Context, e Event) error {
	if e.RiskScore <= m.threshold {
		return nil
	}
	a := Alert{
		ID:                   uuid.New().String(),
		Type:                 AlertSecurity,
		Severity:             SeverityHigh,
		Message:              fmt.Sprintf("Risk Score Alert: %v", e.RiskScore),
		Timestamp:            time.Now().UTC(),
		Source:               m.name,
		RelatedTransactionID: e.TransactionID,
	}

	m.mu.Lock()
	m.alerts = append(m.alerts, a)
	hook := m.onAlert
	m.mu.Unlock()

	m.logger.Warn("risk alert raised",
		zap.String("alert_id", a.ID),
		zap.Float64("risk_score", e.RiskScore),
		zap.String("transaction_id", e.TransactionID),
	)
	if hook != nil {
		hook(a)
	}
	return nil
}

// Decide implements Agent. The monitor only reports; it never acts.
func (m *Monitor) Decide(context.Context) ([]Action, error) {
	return []Action{}, nil
}

// Alerts returns a snapshot of every alert raised so far, oldest first.
func (m *Monitor) Alerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Alert, len(m.alerts))
	copy(out, m.alerts)
	return out
}
