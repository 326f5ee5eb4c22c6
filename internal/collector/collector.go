// Package collector implements C2, the Collector Pool: one long-running
// worker per configured chain that fetches confirmed blocks from its
// ledger client, normalises their transactions, and enqueues them for
// analysis, with backoff on fetch failure and reorg detection/rewind.
package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackdawsentry/sentry-core/internal/domain"
	"github.com/jackdawsentry/sentry-core/internal/ledger"
	"github.com/jackdawsentry/sentry-core/internal/platform/logging"
)

// HealthState is a collector's reported health (spec §4.1 status()).
type HealthState string

const (
	HealthStarting HealthState = "starting"
	HealthHealthy  HealthState = "healthy"
	HealthDegraded HealthState = "degraded"
	HealthStopped  HealthState = "stopped"
)

// ChainConfig tunes a single chain's collector.
type ChainConfig struct {
	Chain domain.Chain
	// BatchSize is the maximum number of blocks fetched per poll.
	BatchSize uint64
	// BackoffBase and BackoffCap bound the exponential fetch-retry delay:
	// base * 2^consecutive_failures, capped.
	BackoffBase time.Duration
	BackoffCap  time.Duration
	// PollInterval is the time between polls. Each poll fetches at most
	// BatchSize blocks, so a collector behind the chain head also catches
	// up at this pace.
	PollInterval time.Duration
	// ReorgDepth is how far back the collector looks for a stable ancestor
	// when a reorg is detected.
	ReorgDepth uint64
	// DegradeAfter is the number of consecutive fetch failures after which
	// the collector reports HealthDegraded.
	DegradeAfter int
}

func (c ChainConfig) withDefaults() ChainConfig {
	if c.BatchSize == 0 {
		c.BatchSize = 50
	}
	if c.BackoffBase == 0 {
		c.BackoffBase = 500 * time.Millisecond
	}
	if c.BackoffCap == 0 {
		c.BackoffCap = 2 * time.Minute
	}
	if c.PollInterval == 0 {
		c.PollInterval = 15 * time.Second
	}
	if c.ReorgDepth == 0 {
		c.ReorgDepth = 10
	}
	if c.DegradeAfter == 0 {
		c.DegradeAfter = 5
	}
	return c
}

// CursorStore persists each chain's last-processed height. SetCursor must
// be called only after the corresponding batch has been fully published
// (spec §4.1: "persists the new cursor atomically with the batch ack" /
// "the cursor is never advanced past unacked work").
type CursorStore interface {
	GetCursor(ctx context.Context, chain domain.Chain) (uint64, bool, error)
	SetCursor(ctx context.Context, chain domain.Chain, height uint64, blockHash string) error
}

// BlockHashStore remembers the block hash the collector last saw at each
// height, so a reorg (head's hash at height H disagreeing with the stored
// hash) can be detected.
type BlockHashStore interface {
	GetBlockHash(ctx context.Context, chain domain.Chain, height uint64) (string, bool, error)
}

// OrphanEvent is emitted when a reorg invalidates a previously-accepted
// block range.
type OrphanEvent struct {
	Chain  domain.Chain
	Height uint64
	TxHash string
}

// Status is one chain's collector health snapshot (spec §4.1 status()).
type Status struct {
	Chain         domain.Chain
	LastHeight    uint64
	LastError     error
	HeadHeight    uint64
	Lag           uint64
	Health        HealthState
	ConsecutiveFailures int
}

// Pool owns one collector per configured chain.
type Pool struct {
	registry *ledger.Registry
	cursors  CursorStore
	analysis chan<- domain.Transaction
	orphans  chan<- OrphanEvent
	logger   *logging.Logger

	mu         sync.RWMutex
	collectors map[domain.Chain]*collectorState
}

type collectorState struct {
	cfg    ChainConfig
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	status Status
}

// NewPool constructs a Collector Pool. analysis is the bounded channel
// fetched transactions are published to (backpressure: the send blocks when
// it is full, per spec §5 "a full queue blocks the collector until space is
// available"). orphans receives per-transaction orphan notifications on
// reorg; it may be nil to discard them.
func NewPool(registry *ledger.Registry, cursors CursorStore, analysis chan<- domain.Transaction, orphans chan<- OrphanEvent) *Pool {
	return &Pool{
		registry:   registry,
		cursors:    cursors,
		analysis:   analysis,
		orphans:    orphans,
		logger:     logging.New("collector-pool", "info", "json"),
		collectors: make(map[domain.Chain]*collectorState),
	}
}

// StartAll begins all configured collectors; idempotent per chain — a
// chain already running is left untouched.
func (p *Pool) StartAll(ctx context.Context, configs []ChainConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, cfg := range configs {
		cfg = cfg.withDefaults()
		if _, exists := p.collectors[cfg.Chain]; exists {
			continue
		}

		client, err := p.registry.Get(cfg.Chain)
		if err != nil {
			return fmt.Errorf("start collector for %s: %w", cfg.Chain, err)
		}

		collCtx, cancel := context.WithCancel(ctx)
		state := &collectorState{
			cfg:    cfg,
			cancel: cancel,
			done:   make(chan struct{}),
			status: Status{Chain: cfg.Chain, Health: HealthStarting},
		}
		p.collectors[cfg.Chain] = state

		go p.run(collCtx, state, client)
	}
	return nil
}

// StopAll requests graceful cancellation of every collector and waits up
// to grace for each to drain, then returns without blocking further.
func (p *Pool) StopAll(grace time.Duration) {
	p.mu.Lock()
	states := make([]*collectorState, 0, len(p.collectors))
	for _, s := range p.collectors {
		states = append(states, s)
	}
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range states {
		s.cancel()
		wg.Add(1)
		go func(s *collectorState) {
			defer wg.Done()
			select {
			case <-s.done:
			case <-time.After(grace):
				p.logger.WithFields(map[string]interface{}{"chain": s.cfg.Chain}).
					Warn("collector did not stop within grace period, abandoning")
			}
		}(s)
	}
	wg.Wait()
}

// Status returns a snapshot of every collector's health.
func (p *Pool) Status() []Status {
	p.mu.RLock()
	defer p.mu.RUnlock()

	statuses := make([]Status, 0, len(p.collectors))
	for _, s := range p.collectors {
		s.mu.Lock()
		statuses = append(statuses, s.status)
		s.mu.Unlock()
	}
	return statuses
}

func (p *Pool) run(ctx context.Context, state *collectorState, client ledger.Client) {
	defer close(state.done)
	defer p.setHealth(state, HealthStopped)

	cursor, found, err := p.cursors.GetCursor(ctx, state.cfg.Chain)
	if err != nil {
		p.logger.WithError(err).WithFields(map[string]interface{}{"chain": state.cfg.Chain}).
			Error("load initial cursor, starting from genesis")
		cursor, found = 0, false
	}
	_ = found

	ticker := time.NewTicker(state.cfg.PollInterval)
	defer ticker.Stop()

	consecutiveFailures := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			newCursor, err := p.poll(ctx, state, client, cursor)
			if err != nil {
				consecutiveFailures++
				p.recordError(state, err, consecutiveFailures)
				delay := backoffDelay(state.cfg.BackoffBase, state.cfg.BackoffCap, consecutiveFailures)
				select {
				case <-ctx.Done():
					return
				case <-time.After(delay):
				}
				continue
			}
			consecutiveFailures = 0
			cursor = newCursor
			p.setHealth(state, HealthHealthy)
		}
	}
}

// poll implements the collector algorithm from spec §4.1: fetch head,
// detect reorg, fetch and publish the next batch, persist the cursor.
func (p *Pool) poll(ctx context.Context, state *collectorState, client ledger.Client, cursor uint64) (uint64, error) {
	head, err := client.HeadHeight(ctx)
	if err != nil {
		return cursor, fmt.Errorf("query head: %w", err)
	}
	p.updateHeadAndLag(state, head, cursor)

	if cursor > 0 {
		if rewound, err := p.checkReorg(ctx, state, client, cursor); err != nil {
			return cursor, err
		} else if rewound != cursor {
			cursor = rewound
		}
	}

	if head <= cursor {
		return cursor, nil
	}

	to := cursor + state.cfg.BatchSize
	if to > head {
		to = head
	}

	blocks, err := client.FetchBlocks(ctx, cursor+1, to)
	if err != nil {
		p.logger.LogBlockchainTx(ctx, fmt.Sprintf("%s:%d-%d", state.cfg.Chain, cursor+1, to), "fetch_blocks", err)
		return cursor, fmt.Errorf("fetch blocks [%d,%d]: %w", cursor+1, to, err)
	}

	for _, block := range blocks {
		p.logger.LogBlockchainTx(ctx, block.Hash, "normalise_block", nil)
		for _, tx := range block.Transactions {
			select {
			case p.analysis <- tx:
			case <-ctx.Done():
				return cursor, ctx.Err()
			}
		}
	}

	if err := p.cursors.SetCursor(ctx, state.cfg.Chain, to, lastHash(blocks)); err != nil {
		return cursor, fmt.Errorf("persist cursor: %w", err)
	}

	return to, nil
}

// checkReorg compares the chain's current hash at a recent height against
// what the collector last recorded there. On mismatch it rewinds to the
// nearest stable ancestor (ReorgDepth blocks back, floored at zero) and
// emits orphan events for the affected range (spec §4.1, scenario E6).
func (p *Pool) checkReorg(ctx context.Context, state *collectorState, client ledger.Client, cursor uint64) (uint64, error) {
	hashStore, ok := p.cursors.(BlockHashStore)
	if !ok {
		return cursor, nil
	}

	storedHash, known, err := hashStore.GetBlockHash(ctx, state.cfg.Chain, cursor)
	if err != nil || !known {
		return cursor, nil
	}

	currentHash, err := client.BlockHash(ctx, cursor)
	if err != nil {
		return cursor, fmt.Errorf("check reorg at %d: %w", cursor, err)
	}
	if currentHash == storedHash {
		return cursor, nil
	}

	rewindTo := uint64(0)
	if cursor > state.cfg.ReorgDepth {
		rewindTo = cursor - state.cfg.ReorgDepth
	}

	p.logger.WithFields(map[string]interface{}{
		"chain":     state.cfg.Chain,
		"at_height": cursor,
		"rewind_to": rewindTo,
	}).Warn("reorg detected, rewinding cursor")

	for h := rewindTo + 1; h <= cursor; h++ {
		if p.orphans != nil {
			select {
			case p.orphans <- OrphanEvent{Chain: state.cfg.Chain, Height: h}:
			case <-ctx.Done():
				return rewindTo, ctx.Err()
			}
		}
	}

	if err := p.cursors.SetCursor(ctx, state.cfg.Chain, rewindTo, ""); err != nil {
		return rewindTo, fmt.Errorf("persist rewound cursor: %w", err)
	}
	return rewindTo, nil
}

func (p *Pool) recordError(state *collectorState, err error, consecutiveFailures int) {
	state.mu.Lock()
	state.status.LastError = err
	state.status.ConsecutiveFailures = consecutiveFailures
	if consecutiveFailures >= state.cfg.DegradeAfter {
		state.status.Health = HealthDegraded
	}
	state.mu.Unlock()

	p.logger.WithError(err).WithFields(map[string]interface{}{
		"chain":   state.cfg.Chain,
		"failures": consecutiveFailures,
	}).Warn("collector fetch failed")
}

func (p *Pool) setHealth(state *collectorState, health HealthState) {
	state.mu.Lock()
	state.status.Health = health
	if health == HealthHealthy {
		state.status.LastError = nil
		state.status.ConsecutiveFailures = 0
	}
	state.mu.Unlock()
}

func (p *Pool) updateHeadAndLag(state *collectorState, head, cursor uint64) {
	state.mu.Lock()
	state.status.HeadHeight = head
	state.status.LastHeight = cursor
	if head > cursor {
		state.status.Lag = head - cursor
	} else {
		state.status.Lag = 0
	}
	state.mu.Unlock()
}

func backoffDelay(base, ceiling time.Duration, consecutiveFailures int) time.Duration {
	delay := base
	for i := 0; i < consecutiveFailures && delay < ceiling; i++ {
		delay *= 2
	}
	if delay > ceiling {
		delay = ceiling
	}
	return delay
}

func lastHash(blocks []ledger.Block) string {
	if len(blocks) == 0 {
		return ""
	}
	return blocks[len(blocks)-1].Hash
}
