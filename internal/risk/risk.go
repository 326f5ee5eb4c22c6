// Package risk implements C4, the Risk Engine: a deterministic scoring
// function over addresses, entities, and transactions, producing a score
// in [0, 1] plus a per-factor breakdown.
package risk

import (
	"context"
	"fmt"
	"sort"

	"github.com/jackdawsentry/sentry-core/internal/domain"
)

// Config is a versioned scoring configuration snapshot (spec §4.2). Two
// calls to Score with the same inputs and the same Version must produce
// bit-identical outputs.
type Config struct {
	Version           string
	LabelWeights      map[string]float64 // label kind -> weight
	PatternWeights    map[string]float64 // pattern kind -> weight
	CounterpartyDecay float64            // applied per hop, e.g. 0.5
	HopLimit          int                // K, default 2
	MinConfidence     float64            // floor below which a score is not published
	ScoreClamp        float64            // upper bound, default 1.0
}

// DefaultConfig returns a conservative starting configuration.
func DefaultConfig() Config {
	return Config{
		Version: "v1",
		LabelWeights: map[string]float64{
			"sanctions":      0.9,
			"darknet-market": 0.6,
			"mixer":          0.5,
			"exchange":       0.05,
		},
		PatternWeights: map[string]float64{
			string(domain.PatternSanctionsTouch):    0.8,
			string(domain.PatternMixerInteraction):  0.5,
			string(domain.PatternPeelingChain):      0.3,
			string(domain.PatternLayering):          0.35,
			string(domain.PatternRapidMovement):     0.25,
			string(domain.PatternBridgeHop):         0.2,
		},
		CounterpartyDecay: 0.5,
		HopLimit:          2,
		MinConfidence:     0.0,
		ScoreClamp:        1.0,
	}
}

// Target identifies what is being scored.
type Target struct {
	Kind    domain.RiskTargetKind
	ID      string // composite key, e.g. "chain:address" or entity/tx ID
	Chain   domain.Chain
	Address string // set when Kind == RiskTargetAddress
}

// ScoreContext carries the facts the engine scores over. The caller
// assembles it (the risk-scoring HTTP handler loads labels from the entity
// store and takes the other facts from the request); the engine itself
// performs no I/O.
type ScoreContext struct {
	Labels         []domain.Label
	PatternMatches []domain.PatternMatch
	AgeDays        float64 // time since first_seen, in days
	VolumeScore    float64 // pre-normalised [0,1] volume-profile signal
	Counterparties []CounterpartyRisk
}

// CounterpartyRisk is one k-hop neighbour's precomputed base risk, before
// this call's decay is applied. The traversal that produces this list
// (graph walk with cycle detection) is the caller's concern; the engine
// only applies decay and aggregates, keeping Score pure.
type CounterpartyRisk struct {
	ID       string
	Hops     int
	BaseRisk float64
}

// Engine computes deterministic risk scores from a ScoreContext.
type Engine struct {
	cfg Config
}

func New(cfg Config) *Engine {
	if cfg.ScoreClamp == 0 {
		cfg.ScoreClamp = 1.0
	}
	if cfg.HopLimit == 0 {
		cfg.HopLimit = 2
	}
	return &Engine{cfg: cfg}
}

func (e *Engine) Config() Config { return e.cfg }

// Score computes (score, factor_breakdown) for target given context. It is
// pure: the same (target, context, e.cfg) always yields the same result.
// Missing labels contribute zero, never an "unknown high risk" default
// (spec §4.2 edge policy).
func (e *Engine) Score(ctx context.Context, target Target, sc ScoreContext) (float64, map[string]float64, error) {
	if target.ID == "" {
		return 0, nil, fmt.Errorf("score target: empty ID")
	}

	breakdown := make(map[string]float64)

	breakdown["label"] = e.labelFactor(sc.Labels)
	breakdown["pattern"] = e.patternFactor(sc.PatternMatches)
	breakdown["counterparty"] = e.counterpartyFactor(sc.Counterparties)
	breakdown["age"] = ageFactor(sc.AgeDays)
	breakdown["volume"] = clamp01(sc.VolumeScore)

	total := 0.0
	keys := sortedKeys(breakdown)
	for _, k := range keys {
		total += breakdown[k]
	}

	if total > e.cfg.ScoreClamp {
		total = e.cfg.ScoreClamp
	}
	if total < e.cfg.MinConfidence {
		total = 0
	}
	return total, breakdown, nil
}

// labelFactor sums configured weights for every distinct label kind
// present; unconfigured label kinds contribute zero, never a default.
func (e *Engine) labelFactor(labels []domain.Label) float64 {
	seen := make(map[string]bool)
	total := 0.0
	for _, l := range labels {
		if seen[l.Kind] {
			continue
		}
		seen[l.Kind] = true
		if w, ok := e.cfg.LabelWeights[l.Kind]; ok {
			total += w
		}
	}
	return total
}

// patternFactor sums configured weights for every distinct pattern kind
// represented among non-superseded matches.
func (e *Engine) patternFactor(matches []domain.PatternMatch) float64 {
	superseded := make(map[string]bool)
	for _, m := range matches {
		if m.SupersedesID != "" {
			superseded[m.SupersedesID] = true
		}
	}
	seen := make(map[string]bool)
	total := 0.0
	for _, m := range matches {
		if m.ID != "" && superseded[m.ID] {
			continue
		}
		key := string(m.Kind)
		if seen[key] {
			continue
		}
		seen[key] = true
		if w, ok := e.cfg.PatternWeights[key]; ok {
			total += w * m.Confidence
		}
	}
	return total
}

// counterpartyFactor aggregates k-hop neighbour risk with per-hop decay,
// bounded to e.cfg.HopLimit hops.
func (e *Engine) counterpartyFactor(counterparties []CounterpartyRisk) float64 {
	total := 0.0
	for _, cp := range counterparties {
		if cp.Hops > e.cfg.HopLimit || cp.Hops < 1 {
			continue
		}
		decay := 1.0
		for i := 0; i < cp.Hops; i++ {
			decay *= e.cfg.CounterpartyDecay
		}
		total += cp.BaseRisk * decay
	}
	return total
}

// ageFactor treats very young addresses as a mild risk signal (freshly
// created addresses with no track record), decaying to zero by 90 days.
func ageFactor(ageDays float64) float64 {
	const horizon = 90.0
	if ageDays <= 0 {
		return 0.1
	}
	if ageDays >= horizon {
		return 0
	}
	return 0.1 * (1 - ageDays/horizon)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ShouldPublish reports whether a freshly computed score differs enough
// from the last stored assessment to warrant publishing a new
// RiskAssessment (spec §4.2: threshold crossing or epsilon change), bounding
// write amplification.
func ShouldPublish(newScore, lastScore float64, epsilon float64, thresholds []float64) bool {
	if absFloat(newScore-lastScore) >= epsilon {
		return true
	}
	for _, t := range thresholds {
		if (lastScore < t) != (newScore < t) {
			return true
		}
	}
	return false
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
