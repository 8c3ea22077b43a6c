// Package risk scores token transfers. Scores lie in [0, 100); the
// monitoring agent raises an alert for anything above its threshold.
package risk

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/shopspring/decimal"
)

// MaxScore is the exclusive upper bound of every score.
const MaxScore = 100.0

// Facts describes a transfer as seen at the moment it is evaluated.
type Facts struct {
	InitiatorID   string
	SourceID      string
	DestinationID string
	TokenID       string
	Amount        decimal.Decimal
	SourceBalance decimal.Decimal // balance before the debit
	Rail          string
}

// Scorer assigns a risk score to a transfer.
type Scorer interface {
	Score(ctx context.Context, f Facts) (float64, error)
}

// RandomScorer returns a uniformly distributed score. It is the behavior the
// studio shipped with and remains the default.
type RandomScorer struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomScorer returns a RandomScorer seeded with seed.
func NewRandomScorer(seed uint64) *RandomScorer {
	return &RandomScorer{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Score implements Scorer.
func (s *RandomScorer) Score(_ context.Context, _ Facts) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64() * MaxScore, nil
}

// New returns the scorer named by kind: "random" or "rules".
func New(kind string, seed uint64) (Scorer, error) {
	switch kind {
	case "", "random":
		return NewRandomScorer(seed), nil
	case "rules":
		return NewRuleBasedScorer(seed), nil
	default:
		return nil, fmt.Errorf("unknown risk scorer %q", kind)
	}
}

// clamp keeps a score inside [0, MaxScore).
func clamp(score float64) float64 {
	switch {
	case score < 0:
		return 0
	case score >= MaxScore:
		return MaxScore - 0.01
	default:
		return score
	}
}
