// Package pattern implements C5, the Pattern Detector: incremental
// recognisers for recurring behavioural structures over the transaction
// stream (peeling chains, mixer interaction, rapid movement, layering,
// bridge hops, sanctions touches).
package pattern

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jackdawsentry/sentry-core/internal/domain"
)

// LabelChecker answers whether an address (or entity) carries a given
// label kind; the detector consumes it rather than querying storage
// itself, keeping pattern state storage-agnostic.
type LabelChecker func(ctx context.Context, chain domain.Chain, address string, kind string) (bool, error)

// MatchStore persists and deduplicates matches by participant-set key
// (spec §4.3: "only one match is emitted" per (kind, participant set)).
type MatchStore interface {
	Find(ctx context.Context, key string) (domain.PatternMatch, bool, error)
	Save(ctx context.Context, key string, match domain.PatternMatch) error
}

// MemMatchStore is an in-memory MatchStore, the detector's default.
type MemMatchStore struct {
	mu      sync.RWMutex
	matches map[string]domain.PatternMatch
}

func NewMemMatchStore() *MemMatchStore {
	return &MemMatchStore{matches: make(map[string]domain.PatternMatch)}
}

func (s *MemMatchStore) Find(ctx context.Context, key string) (domain.PatternMatch, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.matches[key]
	return m, ok, nil
}

func (s *MemMatchStore) Save(ctx context.Context, key string, match domain.PatternMatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matches[key] = match
	return nil
}

// Thresholds parameterises every detector (spec §6: "pattern detector
// thresholds per kind", environment-configurable).
type Thresholds struct {
	PeelingMinChainLength  int
	RapidMovementMinHops   int
	RapidMovementWindow    time.Duration
	LayeringMinBranches    int
	BridgeHopWindow        time.Duration
	SanctionsHopLimit      int
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		PeelingMinChainLength: 4,
		RapidMovementMinHops:  3,
		RapidMovementWindow:   10 * time.Minute,
		LayeringMinBranches:   3,
		BridgeHopWindow:       30 * time.Minute,
		SanctionsHopLimit:     1,
	}
}

type peelingTrail struct {
	headAddress string
	length      int
	txKeys      []string
	lastSeen    time.Time
}

type withdrawal struct {
	chain     domain.Chain
	address   string
	amount    float64
	txKey     string
	timestamp time.Time
}

// Detector holds per-pattern incremental sliding state across calls to
// Ingest. It is safe for concurrent use by a single consumer goroutine per
// chain; cross-chain bridge-hop correlation is the one case that needs a
// shared, mutex-guarded cache.
type Detector struct {
	thresholds    Thresholds
	labels        LabelChecker
	matches       MatchStore
	mixerEntities func(ctx context.Context, chain domain.Chain, address string) (bool, error)

	mu              sync.Mutex
	peelingTrails   map[string]*peelingTrail     // keyed by "chain:address"
	transferHistory map[string][]time.Time       // keyed by "chain:address", recent inbound timestamps
	recentWithdrawals []withdrawal               // bridge-hop candidate cache
	splitCounts     map[string]int               // layering: address -> running sum of distinct recipients per split
}

func New(thresholds Thresholds, labels LabelChecker, mixerEntities func(ctx context.Context, chain domain.Chain, address string) (bool, error), matches MatchStore) *Detector {
	if matches == nil {
		matches = NewMemMatchStore()
	}
	return &Detector{
		thresholds:      thresholds,
		labels:          labels,
		matches:         matches,
		mixerEntities:   mixerEntities,
		peelingTrails:   make(map[string]*peelingTrail),
		transferHistory: make(map[string][]time.Time),
		splitCounts:     make(map[string]int),
	}
}

func addrKey(chain domain.Chain, address string) string { return string(chain) + ":" + address }

// Ingest processes one confirmed transaction and returns the pattern
// matches it triggers; a re-detected participant set yields the match
// already stored for it, with its original ID.
func (d *Detector) Ingest(ctx context.Context, tx domain.Transaction) ([]domain.PatternMatch, error) {
	var out []domain.PatternMatch

	if m, err := d.detectSanctionsTouch(ctx, tx); err != nil {
		return out, err
	} else if m != nil {
		out = append(out, *m)
	}

	if d.mixerEntities != nil {
		if m, err := d.detectMixerInteraction(ctx, tx); err != nil {
			return out, err
		} else if m != nil {
			out = append(out, *m)
		}
	}

	if m := d.detectPeelingChain(tx); m != nil {
		if saved, err := d.emit(ctx, *m); err != nil {
			return out, err
		} else if saved != nil {
			out = append(out, *saved)
		}
	}

	if m := d.detectRapidMovement(tx); m != nil {
		if saved, err := d.emit(ctx, *m); err != nil {
			return out, err
		} else if saved != nil {
			out = append(out, *saved)
		}
	}

	if m := d.detectLayering(tx); m != nil {
		if saved, err := d.emit(ctx, *m); err != nil {
			return out, err
		} else if saved != nil {
			out = append(out, *saved)
		}
	}

	if m := d.detectBridgeHop(tx); m != nil {
		if saved, err := d.emit(ctx, *m); err != nil {
			return out, err
		} else if saved != nil {
			out = append(out, *saved)
		}
	}

	return out, nil
}

// participantKey computes the deduplication key for (kind, participant
// transaction set) per spec §4.3's ordering/idempotence rule.
func participantKey(kind domain.PatternKind, txKeys []string) string {
	sorted := append([]string(nil), txKeys...)
	sort.Strings(sorted)
	h := sha256.New()
	h.Write([]byte(kind))
	for _, k := range sorted {
		h.Write([]byte(k))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// emit deduplicates by participant-set key, returning the existing match
// if an identical one is already stored (idempotence) or the newly
// persisted match.
func (d *Detector) emit(ctx context.Context, m domain.PatternMatch) (*domain.PatternMatch, error) {
	key := participantKey(m.Kind, m.Transactions)
	if existing, found, err := d.matches.Find(ctx, key); err != nil {
		return nil, err
	} else if found {
		return &existing, nil
	}

	m.ID = uuid.NewString()
	m.DetectedAt = time.Now().UTC()
	if err := d.matches.Save(ctx, key, m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (d *Detector) detectSanctionsTouch(ctx context.Context, tx domain.Transaction) (*domain.PatternMatch, error) {
	if d.labels == nil {
		return nil, nil
	}
	for _, io := range append(append([]domain.TxIO{}, tx.Inputs...), tx.Outputs...) {
		sanctioned, err := d.labels(ctx, tx.Chain, io.Address, "sanctions")
		if err != nil {
			return nil, fmt.Errorf("check sanctions label: %w", err)
		}
		if sanctioned {
			m := domain.PatternMatch{
				Kind:         domain.PatternSanctionsTouch,
				Confidence:   1.0,
				Transactions: []string{addrKey(tx.Chain, tx.TxHash)},
				Addresses:    []string{addrKey(tx.Chain, io.Address)},
				WindowStart:  tx.Timestamp,
				WindowEnd:    tx.Timestamp,
				Evidence:     fmt.Sprintf("direct contact with sanctioned address %s", io.Address),
			}
			return d.emit(ctx, m)
		}
	}
	return nil, nil
}

func (d *Detector) detectMixerInteraction(ctx context.Context, tx domain.Transaction) (*domain.PatternMatch, error) {
	for _, io := range append(append([]domain.TxIO{}, tx.Inputs...), tx.Outputs...) {
		isMixer, err := d.mixerEntities(ctx, tx.Chain, io.Address)
		if err != nil {
			return nil, fmt.Errorf("check mixer entity: %w", err)
		}
		if isMixer {
			m := domain.PatternMatch{
				Kind:         domain.PatternMixerInteraction,
				Confidence:   0.85,
				Transactions: []string{addrKey(tx.Chain, tx.TxHash)},
				Addresses:    []string{addrKey(tx.Chain, io.Address)},
				WindowStart:  tx.Timestamp,
				WindowEnd:    tx.Timestamp,
				Evidence:     fmt.Sprintf("counterparty %s is a known mixer cluster member", io.Address),
			}
			return d.emit(ctx, m)
		}
	}
	return nil, nil
}

// detectPeelingChain tracks, per output address, a running trail length:
// a one-input transaction with exactly two outputs where one output is
// materially smaller than the other extends the trail; it fires once the
// trail reaches the configured minimum length.
func (d *Detector) detectPeelingChain(tx domain.Transaction) *domain.PatternMatch {
	if len(tx.Inputs) != 1 || len(tx.Outputs) != 2 {
		return nil
	}
	big, small := tx.Outputs[0], tx.Outputs[1]
	if small.Amount > big.Amount {
		big, small = small, big
	}
	if big.Amount == 0 || small.Amount/big.Amount > 0.2 {
		return nil // not a material peel
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	sourceKey := addrKey(tx.Chain, tx.Inputs[0].Address)
	trail, ok := d.peelingTrails[sourceKey]
	if !ok {
		trail = &peelingTrail{headAddress: sourceKey, length: 0}
	}
	trail.length++
	trail.txKeys = append(trail.txKeys, addrKey(tx.Chain, tx.TxHash))
	trail.lastSeen = tx.Timestamp
	delete(d.peelingTrails, sourceKey)
	d.peelingTrails[addrKey(tx.Chain, big.Address)] = trail

	if trail.length < d.thresholds.PeelingMinChainLength {
		return nil
	}

	confidence := clamp01(float64(trail.length) / float64(d.thresholds.PeelingMinChainLength*2))
	return &domain.PatternMatch{
		Kind:         domain.PatternPeelingChain,
		Confidence:   confidence,
		Transactions: append([]string(nil), trail.txKeys...),
		Addresses:    []string{sourceKey, addrKey(tx.Chain, big.Address)},
		WindowStart:  tx.Timestamp,
		WindowEnd:    tx.Timestamp,
		Evidence:     fmt.Sprintf("peeling chain of length %d ending at %s", trail.length, big.Address),
	}
}

// detectRapidMovement tracks, per receiving address, a short window of
// recent inbound transfer timestamps and fires once the number of transfers
// within the configured window reaches the configured hop count.
func (d *Detector) detectRapidMovement(tx domain.Transaction) *domain.PatternMatch {
	if len(tx.Outputs) == 0 {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, out := range tx.Outputs {
		key := addrKey(tx.Chain, out.Address)
		history := d.transferHistory[key]
		history = append(history, tx.Timestamp)

		cutoff := tx.Timestamp.Add(-d.thresholds.RapidMovementWindow)
		filtered := history[:0]
		for _, ts := range history {
			if ts.After(cutoff) {
				filtered = append(filtered, ts)
			}
		}
		d.transferHistory[key] = filtered

		if len(filtered) >= d.thresholds.RapidMovementMinHops {
			return &domain.PatternMatch{
				Kind:         domain.PatternRapidMovement,
				Confidence:   clamp01(float64(len(filtered)) / float64(d.thresholds.RapidMovementMinHops*2)),
				Transactions: []string{addrKey(tx.Chain, tx.TxHash)},
				Addresses:    []string{key},
				WindowStart:  cutoff,
				WindowEnd:    tx.Timestamp,
				Evidence:     fmt.Sprintf("%d transfers into %s within %s", len(filtered), out.Address, d.thresholds.RapidMovementWindow),
			}
		}
	}
	return nil
}

// detectLayering fires when a source address has split funds to at least
// the configured branch threshold of distinct recipients within the
// transaction's own fan-out (a proxy for repeated split/merge layering).
func (d *Detector) detectLayering(tx domain.Transaction) *domain.PatternMatch {
	if len(tx.Inputs) == 0 || len(tx.Outputs) < d.thresholds.LayeringMinBranches {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	sourceKey := addrKey(tx.Chain, tx.Inputs[0].Address)
	distinct := make(map[string]bool)
	for _, out := range tx.Outputs {
		distinct[out.Address] = true
	}
	d.splitCounts[sourceKey] += len(distinct)

	if len(distinct) < d.thresholds.LayeringMinBranches {
		return nil
	}

	txKeys := []string{addrKey(tx.Chain, tx.TxHash)}
	addresses := []string{sourceKey}
	for addr := range distinct {
		addresses = append(addresses, addrKey(tx.Chain, addr))
	}
	sort.Strings(addresses)

	return &domain.PatternMatch{
		Kind:         domain.PatternLayering,
		Confidence:   clamp01(float64(len(distinct)) / float64(d.thresholds.LayeringMinBranches*2)),
		Transactions: txKeys,
		Addresses:    addresses,
		WindowStart:  tx.Timestamp,
		WindowEnd:    tx.Timestamp,
		Evidence:     fmt.Sprintf("%d-way split from %s", len(distinct), tx.Inputs[0].Address),
	}
}

// detectBridgeHop correlates a withdrawal on one chain with a deposit on
// another chain within the configured window, keyed loosely by amount
// (exact matching is a bridge-specific concern out of this detector's
// scope; amount proximity is the available signal).
func (d *Detector) detectBridgeHop(tx domain.Transaction) *domain.PatternMatch {
	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := tx.Timestamp.Add(-d.thresholds.BridgeHopWindow)
	kept := d.recentWithdrawals[:0]
	for _, w := range d.recentWithdrawals {
		if w.timestamp.After(cutoff) {
			kept = append(kept, w)
		}
	}
	d.recentWithdrawals = kept

	for _, out := range tx.Outputs {
		for i, w := range d.recentWithdrawals {
			if w.chain == tx.Chain {
				continue // bridge hop is cross-chain by definition
			}
			if amountsClose(w.amount, out.Amount, 0.02) {
				d.recentWithdrawals = append(d.recentWithdrawals[:i], d.recentWithdrawals[i+1:]...)
				return &domain.PatternMatch{
					Kind:         domain.PatternBridgeHop,
					Confidence:   0.6,
					Transactions: []string{w.txKey, addrKey(tx.Chain, tx.TxHash)},
					Addresses:    []string{addrKey(w.chain, w.address), addrKey(tx.Chain, out.Address)},
					WindowStart:  w.timestamp,
					WindowEnd:    tx.Timestamp,
					Evidence:     fmt.Sprintf("withdrawal on %s matched by deposit on %s within %s", w.chain, tx.Chain, d.thresholds.BridgeHopWindow),
				}
			}
		}
	}

	for _, in := range tx.Inputs {
		d.recentWithdrawals = append(d.recentWithdrawals, withdrawal{
			chain: tx.Chain, address: in.Address, amount: in.Amount,
			txKey: addrKey(tx.Chain, tx.TxHash), timestamp: tx.Timestamp,
		})
	}
	return nil
}

func amountsClose(a, b, tolerance float64) bool {
	if a == 0 || b == 0 {
		return false
	}
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff/a <= tolerance
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
