package studio

import (
	"context"
	"time"

	"github.com/sonicalchemy/studio/internal/ledger"
	"go.uber.org/zap"
)

// DefaultPollInterval is how often the Poller refreshes its gauges.
const DefaultPollInterval = 2 * time.Second

// PollerConfig holds poller configuration.
type PollerConfig struct {
	Interval time.Duration
	Accounts func() []string // accounts whose balances are published
}

// BalanceRecordFunc is an optional callback for publishing a balance.
type BalanceRecordFunc func(accountID, tokenID string, amount float64)

// AlertsRecordFunc is an optional callback for publishing the alert count.
type AlertsRecordFunc func(count int)

// Poller periodically hands forwarded alerts to the remediator, then samples
// balances and monitor alerts and publishes them through its callbacks.
type Poller struct {
	studio    *Studio
	cfg       PollerConfig
	onBalance BalanceRecordFunc
	onAlerts  AlertsRecordFunc
	logger    *zap.Logger
}

// NewPoller creates a Poller over s.
func NewPoller(s *Studio, cfg PollerConfig, logger *zap.Logger) *Poller {
	if cfg.Interval == 0 {
		cfg.Interval = DefaultPollInterval
	}
	return &Poller{studio: s, cfg: cfg, logger: logger}
}

// SetBalanceRecord configures the balance callback.
func (p *Poller) SetBalanceRecord(fn BalanceRecordFunc) {
	p.onBalance = fn
}

// SetAlertsRecord configures the alert count callback.
func (p *Poller) SetAlertsRecord(fn AlertsRecordFunc) {
	p.onAlerts = fn
}

// Start samples every interval until ctx is cancelled.
func (p *Poller) Start(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.Poll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Poll runs one remediation pass and takes one sample.
func (p *Poller) Poll(ctx context.Context) {
	if n, err := p.studio.Remediate(ctx); err != nil {
		p.logger.Warn("poller: remediate", zap.Int("remediated", n), zap.Error(err))
	} else if n > 0 {
		p.logger.Info("poller: alerts remediated", zap.Int("remediated", n))
	}
	if p.onAlerts != nil {
		p.onAlerts(len(p.studio.Alerts()))
	}
	if p.onBalance == nil || p.cfg.Accounts == nil {
		return
	}
	for _, account := range p.cfg.Accounts() {
		bal, err := p.studio.ledger.Balance(ctx, account, ledger.CreditTokenID)
		if err != nil {
			p.logger.Warn("poller: read balance", zap.String("account_id", account), zap.Error(err))
			continue
		}
		p.onBalance(account, ledger.CreditTokenID, bal.InexactFloat64())
	}
}
