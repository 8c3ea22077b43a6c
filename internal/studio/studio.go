// Package studio ties the identity registry, token ledger, audit chain,
// composition engine and agents together into the user-facing actions of
// the Sonic Alchemy studio.
package studio

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/sonicalchemy/studio/internal/agents"
	"github.com/sonicalchemy/studio/internal/audit"
	"github.com/sonicalchemy/studio/internal/compose"
	"github.com/sonicalchemy/studio/internal/identity"
	"github.com/sonicalchemy/studio/internal/ledger"
	"go.uber.org/zap"
)

// ErrForbidden is returned when the acting identity lacks the role or
// verification level an action needs.
var ErrForbidden = errors.New("identity not authorized for this action")

// Audit event types.
const (
	EventSessionInit    = "session.init"
	EventSessionRefresh = "session.refresh"
	EventSynthesized = "composition.synthesized"
	EventTransfer    = "transaction.transfer"
)

// Roles granted to studio users.
const (
	RoleComposer = "composer"
	RoleTrader   = "trader"
)

const (
	// Version is recorded on every session.init audit entry.
	Version = "1.0.0-PRO"

	// policyL3 on a rail requires the initiator to be verified at L3.
	policyL3 = "L3_REQ"

	topicAlert = "alert.raised"
)

// StartingBalance is the credit a new user is funded with.
var StartingBalance = decimal.NewFromInt(50_000)

// TransferRecordFunc is an optional callback for recording transfer outcomes.
type TransferRecordFunc func(rail string, success bool)

// AuditRecordFunc is an optional callback for recording audit appends.
type AuditRecordFunc func(eventType string)

// AlertRecordFunc is an optional callback invoked for every monitor alert.
type AlertRecordFunc func()

// Session is returned by InitSession.
type Session struct {
	Identity *identity.Identity `json:"identity"`
	Token    string             `json:"token"`
	Balance  decimal.Decimal    `json:"balance"`
}

// Studio orchestrates user actions across the studio's services.
type Studio struct {
	identities *identity.Registry
	tokens     *identity.TokenIssuer
	ledger     *ledger.Service
	chain      audit.Chain
	composer   *compose.Service
	roster     *agents.Roster
	bus        *agents.Bus
	logger     *zap.Logger

	onTransfer     TransferRecordFunc
	onAudit        AuditRecordFunc
	onAuditFailure AuditRecordFunc
	onAlert        AlertRecordFunc

	sessionMu sync.Mutex
}

// New wires a Studio. It registers signing identities for the monitoring
// and remediation agents so they can use the message bus, and routes every
// monitor alert to the remediator.
func New(
	identities *identity.Registry,
	tokens *identity.TokenIssuer,
	ledgerSvc *ledger.Service,
	chain audit.Chain,
	composer *compose.Service,
	roster *agents.Roster,
	bus *agents.Bus,
	logger *zap.Logger,
) (*Studio, error) {
	s := &Studio{
		identities: identities,
		tokens:     tokens,
		ledger:     ledgerSvc,
		chain:      chain,
		composer:   composer,
		roster:     roster,
		bus:        bus,
		logger:     logger,
	}

	for _, a := range roster.Agents() {
		if _, err := identities.Get(a.ID()); err == nil {
			continue
		}
		if _, err := identities.Register(a.ID(), identity.TypeAgent, a.Roles(), identity.L2); err != nil {
			return nil, fmt.Errorf("register agent %s: %w", a.ID(), err)
		}
	}

	if m := roster.Monitor(); m != nil {
		m.SetAlertHook(s.forwardAlert)
	}
	return s, nil
}

// SetTransferRecord configures the transfer metrics callback.
func (s *Studio) SetTransferRecord(fn TransferRecordFunc) {
	s.onTransfer = fn
}

// SetAuditRecord configures the audit metrics callback.
func (s *Studio) SetAuditRecord(fn AuditRecordFunc) {
	s.onAudit = fn
}

// SetAuditFailureRecord configures the callback for audit appends that
// failed after the audited action had already taken effect.
func (s *Studio) SetAuditFailureRecord(fn AuditRecordFunc) {
	s.onAuditFailure = fn
}

// SetAlertRecord configures the alert metrics callback.
func (s *Studio) SetAlertRecord(fn AlertRecordFunc) {
	s.onAlert = fn
}

// InitSession registers userID as an L3 composer and trader, funds it with
// StartingBalance and returns its first session token. It fails with
// identity.ErrIdentityExists for a registered id; RefreshSession issues
// later tokens. If any step fails the registration is rolled back.
//
// Funding is decided from the ledger: an account that was already funded,
// for example before a restart emptied the registry, is not funded again.
func (s *Studio) InitSession(ctx context.Context, userID string) (*Session, error) {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	ident, err := s.identities.Create(userID, identity.TypeUser, []string{RoleComposer, RoleTrader}, identity.L3)
	if err != nil {
		return nil, err
	}
	if err := s.fundOnce(ctx, userID); err != nil {
		s.identities.Remove(userID)
		return nil, err
	}
	sess, err := s.openSession(ctx, ident, EventSessionInit)
	if err != nil {
		s.identities.Remove(userID)
		return nil, err
	}
	return sess, nil
}

// RefreshSession issues a new session token for the registered user userID.
func (s *Studio) RefreshSession(ctx context.Context, userID string) (*Session, error) {
	ident, err := s.identities.Get(userID)
	if err != nil {
		return nil, err
	}
	if ident.Status != identity.StatusActive {
		return nil, fmt.Errorf("%w: identity is %s", ErrForbidden, ident.Status)
	}
	if ident.Type != identity.TypeUser {
		return nil, fmt.Errorf("%w: %s is not a user", ErrForbidden, userID)
	}
	return s.openSession(ctx, ident, EventSessionRefresh)
}

func (s *Studio) openSession(ctx context.Context, ident *identity.Identity, event string) (*Session, error) {
	if err := s.appendAudit(ctx, ident.ID, event, map[string]any{"version": Version}); err != nil {
		return nil, err
	}
	token, err := s.tokens.Issue(ident)
	if err != nil {
		return nil, fmt.Errorf("issue session token: %w", err)
	}
	bal, err := s.ledger.Balance(ctx, ident.ID, ledger.CreditTokenID)
	if err != nil {
		return nil, err
	}
	return &Session{Identity: ident, Token: token, Balance: bal}, nil
}

// fundOnce grants StartingBalance unless the account already received a mint.
func (s *Studio) fundOnce(ctx context.Context, userID string) error {
	txs, err := s.ledger.Transactions(ctx, userID)
	if err != nil {
		return fmt.Errorf("load transactions: %w", err)
	}
	for _, t := range txs {
		if t.Type == ledger.TxMint && t.DestinationAccountID == userID {
			return nil
		}
	}
	if _, err := s.ledger.Fund(ctx, userID, ledger.CreditTokenID, StartingBalance); err != nil {
		return fmt.Errorf("fund user: %w", err)
	}
	return nil
}

// Synthesize generates a composition for userID and records it in the
// audit chain.
func (s *Studio) Synthesize(ctx context.Context, userID string, req compose.Request) (*compose.Composition, error) {
	if !s.identities.Authorize(userID, []string{RoleComposer}, identity.L1) {
		return nil, ErrForbidden
	}
	c, err := s.composer.Synthesize(ctx, userID, req)
	if err != nil {
		return nil, err
	}
	if err := s.appendAudit(ctx, userID, EventSynthesized, map[string]any{"id": c.ID, "title": c.Title}); err != nil {
		return nil, err
	}
	return c, nil
}

// Library returns userID's compositions, newest first.
func (s *Studio) Library(userID string) []*compose.Composition {
	return s.composer.Library(userID)
}

// TransferInput describes a user's transfer of studio credit.
type TransferInput struct {
	Destination string
	Amount      decimal.Decimal
	Rail        string
}

// Transfer moves studio credit from userID to in.Destination, lets the
// agents observe the result and records it in the audit chain. Once the
// ledger has committed, the transaction is returned even if the audit append
// fails; that failure is logged and reported to the audit failure callback.
func (s *Studio) Transfer(ctx context.Context, userID string, in TransferInput) (*ledger.Transaction, error) {
	minLevel := identity.L1
	if in.Rail != "" {
		if r, ok := s.ledger.Rail(in.Rail); ok && slices.Contains(r.Policies, policyL3) {
			minLevel = identity.L3
		}
	}
	if !s.identities.Authorize(userID, []string{RoleTrader}, minLevel) {
		return nil, ErrForbidden
	}

	// The audit entry must be signable before any value moves.
	key, err := s.identities.PrivateKey(userID)
	if err != nil {
		return nil, fmt.Errorf("load signing key: %w", err)
	}

	tx, err := s.ledger.Transfer(ctx, ledger.TransferRequest{
		InitiatorID:   userID,
		SourceID:      userID,
		DestinationID: in.Destination,
		TokenID:       ledger.CreditTokenID,
		Amount:        in.Amount,
		Rail:          in.Rail,
	})
	rail := in.Rail
	if rail == "" {
		rail = ledger.DefaultRail
	}
	if s.onTransfer != nil {
		s.onTransfer(rail, err == nil)
	}
	if err != nil {
		return nil, err
	}

	s.roster.Dispatch(ctx, agents.Event{
		Type:          agents.EventTransfer,
		TransactionID: tx.ID,
		RiskScore:     tx.RiskScore,
	})

	details := map[string]any{
		"to":             in.Destination,
		"amount":         tx.Amount.String(),
		"transaction_id": tx.ID,
	}
	if _, err := s.chain.Append(ctx, userID, EventTransfer, details, key); err != nil {
		s.logger.Error("audit settled transfer",
			zap.String("transaction_id", tx.ID),
			zap.String("initiator", userID),
			zap.Error(err),
		)
		if s.onAuditFailure != nil {
			s.onAuditFailure(EventTransfer)
		}
		return tx, nil
	}
	if s.onAudit != nil {
		s.onAudit(EventTransfer)
	}
	return tx, nil
}

// UserAccounts lists every registered user identity. It is the usual
// PollerConfig.Accounts.
func (s *Studio) UserAccounts() []string {
	var out []string
	for _, ident := range s.identities.List() {
		if ident.Type == identity.TypeUser {
			out = append(out, ident.ID)
		}
	}
	return out
}

// Alerts returns every alert raised by the monitoring agent.
func (s *Studio) Alerts() []agents.Alert {
	m := s.roster.Monitor()
	if m == nil {
		return []agents.Alert{}
	}
	return m.Alerts()
}

// Actions returns the orchestrator's log of agent actions.
func (s *Studio) Actions() []agents.Action {
	o := s.roster.Orchestrator()
	if o == nil {
		return []agents.Action{}
	}
	return o.ActionLog()
}

// Remediate drains the remediator's inbox, remediates every alert signed by
// its sender and then collects the agents' decisions. It returns the number
// of alerts remediated. Messages that fail verification are dropped.
func (s *Studio) Remediate(ctx context.Context) (int, error) {
	rem := s.roster.Remediator()
	if rem == nil {
		return 0, nil
	}
	msgs, recvErr := s.bus.Receive(rem.ID())
	handled := 0
	for _, m := range msgs {
		pub, err := s.identities.PublicKey(m.SenderID)
		if err != nil || !agents.VerifyMessage(m, pub) {
			s.logger.Warn("dropping unverified agent message",
				zap.String("message_id", m.ID),
				zap.String("sender", m.SenderID),
			)
			continue
		}
		if m.Topic != topicAlert {
			continue
		}
		rem.Remediate(ctx, m.Payload)
		handled++
	}
	if _, err := s.roster.Decide(ctx); err != nil {
		return handled, fmt.Errorf("collect agent decisions: %w", err)
	}
	if recvErr != nil {
		return handled, fmt.Errorf("receive remediator messages: %w", recvErr)
	}
	return handled, nil
}

// Messages drains the bus queue of agentID.
func (s *Studio) Messages(agentID string) ([]*agents.Message, error) {
	return s.bus.Receive(agentID)
}

func (s *Studio) appendAudit(ctx context.Context, entityID, eventType string, details map[string]any) error {
	key, err := s.identities.PrivateKey(entityID)
	if err != nil {
		return fmt.Errorf("load signing key: %w", err)
	}
	if _, err := s.chain.Append(ctx, entityID, eventType, details, key); err != nil {
		return fmt.Errorf("audit %s: %w", eventType, err)
	}
	if s.onAudit != nil {
		s.onAudit(eventType)
	}
	return nil
}

// forwardAlert hands a monitor alert to the remediator over the bus.
func (s *Studio) forwardAlert(a agents.Alert) {
	if s.onAlert != nil {
		s.onAlert()
	}
	if s.roster.Remediator() == nil {
		return
	}
	_, err := s.bus.Send(agents.MonitorID, agents.RemediatorID, topicAlert, map[string]any{
		"alert_id":       a.ID,
		"message":        a.Message,
		"severity":       string(a.Severity),
		"transaction_id": a.RelatedTransactionID,
	}, false)
	if err != nil {
		s.logger.Warn("forward alert to remediator", zap.String("alert_id", a.ID), zap.Error(err))
	}
}
