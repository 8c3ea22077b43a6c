package agents_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/sonicalchemy/studio/internal/agents"
	"go.uber.org/zap"
)

var ctx = context.Background()

func TestMonitor_alertsAboveThreshold(t *testing.T) {
	m := agents.NewMonitor(0, zap.NewNop())
	if m.Threshold() != agents.DefaultAlertThreshold {
		t.Fatalf("Threshold(): got %v, want %v", m.Threshold(), agents.DefaultAlertThreshold)
	}

	var hooked []agents.Alert
	m.SetAlertHook(func(a agents.Alert) { hooked = append(hooked, a) })

	for _, score := range []float64{12, 80, 80.5, 99} {
		if err := m.Observe(ctx, agents.Event{Type: agents.EventTransfer, TransactionID: fmt.Sprintf("tx-%v", score), RiskScore: score}); err != nil {
			t.Fatal(err)
		}
	}

	alerts := m.Alerts()
	if len(alerts) != 2 {
		t.Fatalf("expected 2 alerts (80 is not above threshold), got %d", len(alerts))
	}
	a := alerts[0]
	if a.Type != agents.AlertSecurity || a.Severity != agents.SeverityHigh {
		t.Errorf("unexpected classification: %s/%s", a.Type, a.Severity)
	}
	if a.Message != "Risk Score Alert: 80.5" {
		t.Errorf("Message: got %q", a.Message)
	}
	if a.Source != "Watchdog" || a.RelatedTransactionID != "tx-80.5" || a.Resolved {
		t.Errorf("unexpected alert: %+v", a)
	}
	if a.ID == "" || a.Timestamp.IsZero() {
		t.Error("alert id and timestamp must be set")
	}
	if len(hooked) != 2 {
		t.Errorf("alert hook: got %d calls, want 2", len(hooked))
	}

	actions, err := m.Decide(ctx)
	if err != nil || len(actions) != 0 {
		t.Errorf("Decide(): got %v, %v", actions, err)
	}
}

func TestMonitor_alertsSnapshotIsCopy(t *testing.T) {
	m := agents.NewMonitor(10, zap.NewNop())
	m.Observe(ctx, agents.Event{RiskScore: 50})

	snap := m.Alerts()
	snap[0].Message = "changed"
	if m.Alerts()[0].Message == "changed" {
		t.Error("Alerts() must return a copy")
	}
}

func newDefaultRoster(t *testing.T) *agents.Roster {
	t.Helper()
	r, err := agents.NewRoster(zap.NewNop(), agents.DefaultAgents(80, zap.NewNop())...)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestRoster_seedsAndDispatch(t *testing.T) {
	r := newDefaultRoster(t)

	want := map[string]string{
		"agent-monitoring-001":   "Watchdog",
		"agent-remediation-001":  "Fixer",
		"agent-orchestrator-001": "Commander",
	}
	all := r.Agents()
	if len(all) != len(want) {
		t.Fatalf("expected %d agents, got %d", len(want), len(all))
	}
	for _, a := range all {
		if want[a.ID()] != a.Name() {
			t.Errorf("agent %s: got name %q, want %q", a.ID(), a.Name(), want[a.ID()])
		}
		if len(a.Roles()) == 0 {
			t.Errorf("agent %s has no roles", a.ID())
		}
	}

	r.Dispatch(ctx, agents.Event{Type: agents.EventTransfer, TransactionID: "tx-1", RiskScore: 95})
	if n := len(r.Monitor().Alerts()); n != 1 {
		t.Errorf("expected the monitor to alert once, got %d", n)
	}

	actions, err := r.Decide(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(actions) != 0 || len(r.Orchestrator().ActionLog()) != 0 {
		t.Error("no actions are due before any remediation")
	}
	if _, ok := r.Get("agent-remediation-001"); !ok {
		t.Error("Get() should find the remediator")
	}
}

func TestRoster_remediationRecordedByOrchestrator(t *testing.T) {
	r := newDefaultRoster(t)

	a := r.Remediator().Remediate(ctx, map[string]any{"alert_id": "al-1", "transaction_id": "tx-9"})
	if a.Type != agents.ActionRemediate || a.TargetID != "tx-9" || a.TraceID != "al-1" || a.Status != agents.ActionCompleted {
		t.Errorf("unexpected action: %+v", a)
	}

	actions, err := r.Decide(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(actions) != 1 || actions[0].ID != a.ID {
		t.Fatalf("Decide(): got %+v", actions)
	}
	log := r.Orchestrator().ActionLog()
	if len(log) != 1 || log[0].AgentID != agents.RemediatorID {
		t.Errorf("ActionLog(): got %+v", log)
	}

	again, _ := r.Decide(ctx)
	if len(again) != 0 || len(r.Orchestrator().ActionLog()) != 1 {
		t.Error("a remediation must be handed over only once")
	}
}

// tally counts the events it observes and proposes one action per event.
type tally struct {
	seen []agents.Event
}

func (c *tally) ID() string      { return "agent-tally-001" }
func (c *tally) Name() string    { return "Tally" }
func (c *tally) Roles() []string { return []string{"agent.audit"} }

func (c *tally) Observe(_ context.Context, e agents.Event) error {
	c.seen = append(c.seen, e)
	return nil
}

func (c *tally) Decide(context.Context) ([]agents.Action, error) {
	return []agents.Action{{AgentID: c.ID(), Type: agents.ActionObserve, Status: agents.ActionCompleted}}, nil
}

func TestRoster_customAgent(t *testing.T) {
	custom := &tally{}
	r, err := agents.NewRoster(zap.NewNop(), custom, agents.NewOrchestrator())
	if err != nil {
		t.Fatal(err)
	}
	if r.Monitor() != nil || r.Remediator() != nil {
		t.Error("accessors must be nil for agents that are not in the roster")
	}

	r.Dispatch(ctx, agents.Event{Type: agents.EventTransfer, TransactionID: "tx-1"})
	if len(custom.seen) != 1 || custom.seen[0].TransactionID != "tx-1" {
		t.Fatalf("custom agent did not receive the event: %+v", custom.seen)
	}

	if _, err := r.Decide(ctx); err != nil {
		t.Fatal(err)
	}
	if log := r.Orchestrator().ActionLog(); len(log) != 1 || log[0].AgentID != "agent-tally-001" {
		t.Errorf("ActionLog(): got %+v", log)
	}

	if _, err := agents.NewRoster(zap.NewNop(), custom, &tally{}); !errors.Is(err, agents.ErrDuplicateAgent) {
		t.Errorf("expected ErrDuplicateAgent, got %v", err)
	}
}

type keyStore map[string]ed25519.PrivateKey

func (k keyStore) PrivateKey(id string) (ed25519.PrivateKey, error) {
	priv, ok := k[id]
	if !ok {
		return nil, fmt.Errorf("unknown identity %s", id)
	}
	return priv, nil
}

func newKeys(t *testing.T, ids ...string) keyStore {
	t.Helper()
	ks := keyStore{}
	for _, id := range ids {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			t.Fatal(err)
		}
		ks[id] = priv
	}
	return ks
}

func TestBus_sendReceiveDrainsQueue(t *testing.T) {
	keys := newKeys(t, agents.MonitorID)
	bus, err := agents.NewBus(keys, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	sent, err := bus.Send(agents.MonitorID, agents.RemediatorID, "alert.raised", map[string]any{"score": 91.0}, false)
	if err != nil {
		t.Fatal(err)
	}
	pub := keys[agents.MonitorID].Public().(ed25519.PublicKey)
	if !agents.VerifyMessage(sent, pub) {
		t.Error("sent message should verify against the sender's key")
	}

	got, err := bus.Receive(agents.RemediatorID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != sent.ID || got[0].Payload["score"] != 91.0 {
		t.Fatalf("unexpected delivery: %+v", got)
	}
	again, _ := bus.Receive(agents.RemediatorID)
	if len(again) != 0 {
		t.Errorf("queue should be drained, got %d messages", len(again))
	}
	if len(bus.History()) != 1 {
		t.Errorf("History() should keep delivered messages")
	}
}

func TestBus_encryptedPayloadSealedUntilReceived(t *testing.T) {
	keys := newKeys(t, agents.OrchestratorID)
	bus, err := agents.NewBus(keys, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	sent, err := bus.Send(agents.OrchestratorID, agents.MonitorID, "policy.update", map[string]any{"threshold": "75"}, true)
	if err != nil {
		t.Fatal(err)
	}
	if !sent.Encrypted || sent.Payload != nil || sent.Sealed == "" {
		t.Fatalf("payload should be sealed: %+v", sent)
	}
	if strings.Contains(sent.Sealed, "threshold") {
		t.Error("sealed payload leaks plaintext")
	}
	if !agents.VerifyMessage(sent, keys[agents.OrchestratorID].Public().(ed25519.PublicKey)) {
		t.Error("encrypted message should verify before delivery")
	}

	got, err := bus.Receive(agents.MonitorID)
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Payload["threshold"] != "75" {
		t.Errorf("decrypted payload: got %v", got[0].Payload)
	}
	if bus.History()[0].Payload != nil {
		t.Error("History() must keep the payload sealed")
	}
}

func TestBus_rejectsUnknownSender(t *testing.T) {
	bus, err := agents.NewBus(keyStore{}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := bus.Send("ghost", agents.MonitorID, "x", nil, false); !errors.Is(err, agents.ErrUnknownSender) {
		t.Errorf("expected ErrUnknownSender, got %v", err)
	}
	if len(bus.History()) != 0 {
		t.Error("a rejected message must not be recorded")
	}
}

func TestVerifyMessage_detectsTampering(t *testing.T) {
	keys := newKeys(t, agents.MonitorID)
	bus, _ := agents.NewBus(keys, zap.NewNop())
	m, err := bus.Send(agents.MonitorID, agents.RemediatorID, "alert.raised", map[string]any{"score": 91.0}, false)
	if err != nil {
		t.Fatal(err)
	}
	m.Payload["score"] = 10.0
	if agents.VerifyMessage(m, keys[agents.MonitorID].Public().(ed25519.PublicKey)) {
		t.Error("VerifyMessage() should reject an edited payload")
	}
}

func TestBus_undeliverableMessageStaysQueued(t *testing.T) {
	keys := newKeys(t, agents.OrchestratorID)
	bus, err := agents.NewBus(keys, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	first, _ := bus.Send(agents.OrchestratorID, agents.MonitorID, "policy.update", map[string]any{"n": "1"}, true)
	broken, _ := bus.Send(agents.OrchestratorID, agents.MonitorID, "policy.update", map[string]any{"n": "2"}, true)
	plain, _ := bus.Send(agents.OrchestratorID, agents.MonitorID, "policy.update", map[string]any{"n": "3"}, false)
	bus.CorruptSealed(agents.MonitorID, broken.ID)

	got, err := bus.Receive(agents.MonitorID)
	if err == nil || !strings.Contains(err.Error(), broken.ID) {
		t.Errorf("expected an error naming %s, got %v", broken.ID, err)
	}
	if len(got) != 2 || got[0].ID != first.ID || got[1].ID != plain.ID {
		t.Fatalf("expected the two readable messages, got %+v", got)
	}
	if got[0].Payload["n"] != "1" {
		t.Errorf("decrypted payload: got %v", got[0].Payload)
	}
	if !agents.VerifyMessage(got[0], keys[agents.OrchestratorID].Public().(ed25519.PublicKey)) {
		t.Error("a delivered encrypted message should still verify")
	}
	if n := bus.Pending(agents.MonitorID); n != 1 {
		t.Errorf("Pending(): got %d, want the undeliverable message only", n)
	}
}
