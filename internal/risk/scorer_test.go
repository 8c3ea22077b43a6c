package risk_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sonicalchemy/studio/internal/risk"
)

var ctx = context.Background()

func TestRandomScorer_range(t *testing.T) {
	s := risk.NewRandomScorer(7)
	for i := 0; i < 1000; i++ {
		score, err := s.Score(ctx, risk.Facts{})
		if err != nil {
			t.Fatal(err)
		}
		if score < 0 || score >= risk.MaxScore {
			t.Fatalf("score %v outside [0,100)", score)
		}
	}
}

func TestRandomScorer_deterministicForSeed(t *testing.T) {
	a, b := risk.NewRandomScorer(42), risk.NewRandomScorer(42)
	for i := 0; i < 10; i++ {
		x, _ := a.Score(ctx, risk.Facts{})
		y, _ := b.Score(ctx, risk.Facts{})
		if x != y {
			t.Fatalf("same seed produced %v and %v", x, y)
		}
	}
}

func TestRuleBasedScorer(t *testing.T) {
	s := risk.NewRuleBasedScorer(1)

	benign := risk.Facts{
		InitiatorID:   "user-777",
		SourceID:      "user-777",
		DestinationID: "user-888",
		Amount:        decimal.NewFromInt(25),
		SourceBalance: decimal.NewFromInt(50000),
	}
	drain := risk.Facts{
		InitiatorID:   "someone-else",
		SourceID:      "user-777",
		DestinationID: "agent-remediation-001",
		Amount:        decimal.NewFromInt(50000),
		SourceBalance: decimal.NewFromInt(50000),
	}

	low, err := s.Score(ctx, benign)
	if err != nil {
		t.Fatal(err)
	}
	high, err := s.Score(ctx, drain)
	if err != nil {
		t.Fatal(err)
	}

	if low >= 10 {
		t.Errorf("benign transfer scored %v, want < 10 (jitter only)", low)
	}
	if high <= 80 {
		t.Errorf("draining third-party transfer scored %v, want > 80", high)
	}
	if high >= risk.MaxScore {
		t.Errorf("score %v not clamped below 100", high)
	}
}

func TestNew(t *testing.T) {
	for _, kind := range []string{"", "random", "rules"} {
		if _, err := risk.New(kind, 1); err != nil {
			t.Errorf("New(%q) error: %v", kind, err)
		}
	}
	if _, err := risk.New("oracle", 1); err == nil {
		t.Error("expected error for unknown scorer kind")
	}
}
