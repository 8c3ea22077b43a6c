package risk

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// ruleFunc inspects a transfer and returns the points it contributes.
type ruleFunc func(f Facts) float64

// RuleBasedScorer runs a fixed set of rules against a transfer and adds a
// small random jitter so identical transfers do not score identically.
type RuleBasedScorer struct {
	rules []ruleFunc

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRuleBasedScorer returns a RuleBasedScorer loaded with the default rules.
func NewRuleBasedScorer(seed uint64) *RuleBasedScorer {
	return &RuleBasedScorer{
		rules: []ruleFunc{
			ruleBalanceShare,
			ruleRoundAmount,
			ruleAgentDestination,
			ruleThirdPartyInitiator,
		},
		rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Score implements Scorer.
func (s *RuleBasedScorer) Score(_ context.Context, f Facts) (float64, error) {
	total := 0.0
	for _, r := range s.rules {
		total += r(f)
	}

	s.mu.Lock()
	total += s.rng.Float64() * jitter
	s.mu.Unlock()

	return clamp(total), nil
}

const jitter = 10.0

var (
	half         = decimal.NewFromFloat(0.5)
	ninetyPct    = decimal.NewFromFloat(0.9)
	roundSizeMin = decimal.NewFromInt(1000)
)

// ruleBalanceShare scores transfers that drain a large share of the source.
func ruleBalanceShare(f Facts) float64 {
	if !f.SourceBalance.IsPositive() {
		return 0
	}
	share := f.Amount.Div(f.SourceBalance)
	switch {
	case share.GreaterThanOrEqual(ninetyPct):
		return 55
	case share.GreaterThanOrEqual(half):
		return 30
	default:
		return 0
	}
}

// ruleRoundAmount flags large, perfectly round amounts.
func ruleRoundAmount(f Facts) float64 {
	if f.Amount.GreaterThanOrEqual(roundSizeMin) && f.Amount.Mod(roundSizeMin).IsZero() {
		return 15
	}
	return 0
}

// ruleAgentDestination flags value moving into agent-held accounts.
func ruleAgentDestination(f Facts) float64 {
	if strings.HasPrefix(f.DestinationID, "agent-") {
		return 10
	}
	return 0
}

// ruleThirdPartyInitiator flags transfers initiated on behalf of another
// account.
func ruleThirdPartyInitiator(f Facts) float64 {
	if f.InitiatorID != "" && f.InitiatorID != f.SourceID {
		return 20
	}
	return 0
}
