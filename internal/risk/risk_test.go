package risk

import (
	"context"
	"testing"
	"time"

	"github.com/jackdawsentry/sentry-core/internal/domain"
)

func TestScore_Deterministic(t *testing.T) {
	engine := New(DefaultConfig())
	target := Target{Kind: domain.RiskTargetAddress, ID: "bitcoin:addr1", Chain: domain.ChainBitcoin, Address: "addr1"}
	sc := ScoreContext{
		Labels:  []domain.Label{{Kind: "sanctions"}},
		AgeDays: 10,
		Counterparties: []CounterpartyRisk{
			{ID: "bitcoin:addr2", Hops: 1, BaseRisk: 0.4},
		},
	}

	score1, breakdown1, err := engine.Score(context.Background(), target, sc)
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	score2, breakdown2, err := engine.Score(context.Background(), target, sc)
	if err != nil {
		t.Fatalf("Score() second call error = %v", err)
	}

	if score1 != score2 {
		t.Errorf("Score() not deterministic: %v != %v", score1, score2)
	}
	for k, v := range breakdown1 {
		if breakdown2[k] != v {
			t.Errorf("breakdown[%s] not deterministic: %v != %v", k, v, breakdown2[k])
		}
	}
}

func TestScore_BoundedToUnitInterval(t *testing.T) {
	engine := New(DefaultConfig())
	target := Target{Kind: domain.RiskTargetAddress, ID: "bitcoin:addr1"}
	sc := ScoreContext{
		Labels: []domain.Label{{Kind: "sanctions"}, {Kind: "darknet-market"}, {Kind: "mixer"}},
		PatternMatches: []domain.PatternMatch{
			{Kind: domain.PatternSanctionsTouch, Confidence: 1.0},
			{Kind: domain.PatternMixerInteraction, Confidence: 1.0},
		},
		VolumeScore: 1.0,
		Counterparties: []CounterpartyRisk{
			{ID: "a", Hops: 1, BaseRisk: 1.0},
			{ID: "b", Hops: 2, BaseRisk: 1.0},
		},
	}

	score, _, err := engine.Score(context.Background(), target, sc)
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	if score < 0 || score > 1 {
		t.Errorf("Score() = %v, want within [0,1]", score)
	}
}

func TestScore_MissingLabelsContributeZero(t *testing.T) {
	engine := New(DefaultConfig())
	target := Target{Kind: domain.RiskTargetAddress, ID: "bitcoin:addr1"}

	score, breakdown, err := engine.Score(context.Background(), target, ScoreContext{})
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	if breakdown["label"] != 0 {
		t.Errorf("label factor = %v, want 0 for unlabelled target", breakdown["label"])
	}
	if score < 0 {
		t.Errorf("Score() = %v, want >= 0", score)
	}
}

func TestScore_UnconfiguredLabelKindContributesZero(t *testing.T) {
	engine := New(DefaultConfig())
	target := Target{Kind: domain.RiskTargetAddress, ID: "bitcoin:addr1"}
	sc := ScoreContext{Labels: []domain.Label{{Kind: "totally-unconfigured-kind"}}}

	_, breakdown, err := engine.Score(context.Background(), target, sc)
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	if breakdown["label"] != 0 {
		t.Errorf("label factor = %v, want 0 for unconfigured kind", breakdown["label"])
	}
}

func TestScore_EmptyTargetID(t *testing.T) {
	engine := New(DefaultConfig())
	if _, _, err := engine.Score(context.Background(), Target{}, ScoreContext{}); err == nil {
		t.Error("expected error for empty target ID")
	}
}

func TestCounterpartyFactor_RespectsHopLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HopLimit = 1
	engine := New(cfg)

	factor := engine.counterpartyFactor([]CounterpartyRisk{
		{ID: "within", Hops: 1, BaseRisk: 1.0},
		{ID: "beyond", Hops: 2, BaseRisk: 1.0},
	})
	withinOnly := engine.counterpartyFactor([]CounterpartyRisk{{ID: "within", Hops: 1, BaseRisk: 1.0}})
	if factor != withinOnly {
		t.Errorf("counterpartyFactor() = %v, want %v (hop beyond limit ignored)", factor, withinOnly)
	}
}

func TestShouldPublish_Epsilon(t *testing.T) {
	if !ShouldPublish(0.5, 0.4, 0.05, nil) {
		t.Error("expected publish when delta exceeds epsilon")
	}
	if ShouldPublish(0.5, 0.49, 0.05, nil) {
		t.Error("expected no publish when delta under epsilon and no threshold crossed")
	}
}

func TestShouldPublish_ThresholdCrossing(t *testing.T) {
	if !ShouldPublish(0.71, 0.69, 0.5, []float64{0.7}) {
		t.Error("expected publish on threshold crossing even under epsilon")
	}
}

func TestAgeFactor_DecaysToZero(t *testing.T) {
	if ageFactor(0) <= ageFactor(45) {
		t.Error("age factor should decrease as address ages")
	}
	if ageFactor(90) != 0 {
		t.Errorf("ageFactor(90) = %v, want 0", ageFactor(90))
	}
	if ageFactor(1000) != 0 {
		t.Errorf("ageFactor(1000) = %v, want 0", ageFactor(1000))
	}
}

func TestPatternFactor_DeduplicatesKind(t *testing.T) {
	engine := New(DefaultConfig())
	now := time.Now()
	single := engine.patternFactor([]domain.PatternMatch{
		{Kind: domain.PatternMixerInteraction, Confidence: 1.0, DetectedAt: now},
	})
	duplicated := engine.patternFactor([]domain.PatternMatch{
		{Kind: domain.PatternMixerInteraction, Confidence: 1.0, DetectedAt: now},
		{Kind: domain.PatternMixerInteraction, Confidence: 1.0, DetectedAt: now.Add(time.Minute)},
	})
	if single != duplicated {
		t.Errorf("patternFactor() should dedupe by kind: %v != %v", single, duplicated)
	}
}
