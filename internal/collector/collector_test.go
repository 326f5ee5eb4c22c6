package collector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackdawsentry/sentry-core/internal/domain"
	"github.com/jackdawsentry/sentry-core/internal/ledger"
)

func TestBackoffDelay(t *testing.T) {
	base := 100 * time.Millisecond
	ceiling := 1 * time.Second

	cases := []struct {
		failures int
		want     time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{10, 1 * time.Second}, // capped
	}
	for _, c := range cases {
		if got := backoffDelay(base, ceiling, c.failures); got != c.want {
			t.Errorf("backoffDelay(failures=%d) = %v, want %v", c.failures, got, c.want)
		}
	}
}

// scriptedClient lets a test script head height and block fetches across
// successive polls, to exercise the collector's catch-up/idle/reorg paths.
type scriptedClient struct {
	mu     sync.Mutex
	chain  domain.Chain
	heads  []uint64
	blocks map[uint64]ledger.Block
	err    error
}

func (c *scriptedClient) Chain() domain.Chain { return c.chain }

func (c *scriptedClient) HeadHeight(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return 0, c.err
	}
	if len(c.heads) == 0 {
		return 0, nil
	}
	head := c.heads[0]
	if len(c.heads) > 1 {
		c.heads = c.heads[1:]
	}
	return head, nil
}

func (c *scriptedClient) BlockHash(ctx context.Context, height uint64) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.blocks[height]; ok {
		return b.Hash, nil
	}
	return "", nil
}

func (c *scriptedClient) FetchBlocks(ctx context.Context, from, to uint64) ([]ledger.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []ledger.Block
	for h := from; h <= to; h++ {
		if b, ok := c.blocks[h]; ok {
			out = append(out, b)
		}
	}
	return out, nil
}

func (c *scriptedClient) Balance(ctx context.Context, address, asset string) (float64, error) {
	return 0, nil
}

func newTestTx(hash string) domain.Transaction {
	return domain.Transaction{Chain: domain.ChainBitcoin, TxHash: hash, Status: domain.TxStatusConfirmed}
}

func TestPool_PollCatchesUpAndPersistsCursor(t *testing.T) {
	client := &scriptedClient{
		chain: domain.ChainBitcoin,
		heads: []uint64{2},
		blocks: map[uint64]ledger.Block{
			1: {Height: 1, Hash: "h1", Transactions: []domain.Transaction{newTestTx("tx1")}},
			2: {Height: 2, Hash: "h2", Transactions: []domain.Transaction{newTestTx("tx2")}},
		},
	}
	cursors := NewMemCursorStore()
	analysis := make(chan domain.Transaction, 10)

	registry := ledger.NewRegistry()
	registry.Register(client)

	pool := NewPool(registry, cursors, analysis, nil)

	state := &collectorState{cfg: ChainConfig{Chain: domain.ChainBitcoin, BatchSize: 10}.withDefaults()}
	newCursor, err := pool.poll(context.Background(), state, client, 0)
	if err != nil {
		t.Fatalf("poll() error = %v", err)
	}
	if newCursor != 2 {
		t.Errorf("newCursor = %d, want 2", newCursor)
	}

	persisted, found, err := cursors.GetCursor(context.Background(), domain.ChainBitcoin)
	if err != nil || !found {
		t.Fatalf("GetCursor() = %d, %v, %v", persisted, found, err)
	}
	if persisted != 2 {
		t.Errorf("persisted cursor = %d, want 2", persisted)
	}

	close(analysis)
	var got []domain.Transaction
	for tx := range analysis {
		got = append(got, tx)
	}
	if len(got) != 2 {
		t.Fatalf("published %d transactions, want 2", len(got))
	}
}

func TestPool_PollNoOpWhenCaughtUp(t *testing.T) {
	client := &scriptedClient{chain: domain.ChainBitcoin, heads: []uint64{5}}
	cursors := NewMemCursorStore()
	analysis := make(chan domain.Transaction, 1)
	registry := ledger.NewRegistry()
	registry.Register(client)
	pool := NewPool(registry, cursors, analysis, nil)

	state := &collectorState{cfg: ChainConfig{Chain: domain.ChainBitcoin}.withDefaults()}
	newCursor, err := pool.poll(context.Background(), state, client, 5)
	if err != nil {
		t.Fatalf("poll() error = %v", err)
	}
	if newCursor != 5 {
		t.Errorf("newCursor = %d, want 5 (unchanged)", newCursor)
	}
	select {
	case tx := <-analysis:
		t.Errorf("unexpected published transaction %+v", tx)
	default:
	}
}

func TestPool_CheckReorgRewinds(t *testing.T) {
	client := &scriptedClient{
		chain: domain.ChainBitcoin,
		blocks: map[uint64]ledger.Block{
			20: {Height: 20, Hash: "new-hash-20"},
		},
	}
	cursors := NewMemCursorStore()
	_ = cursors.SetCursor(context.Background(), domain.ChainBitcoin, 20, "old-hash-20")

	registry := ledger.NewRegistry()
	registry.Register(client)
	analysis := make(chan domain.Transaction, 1)
	pool := NewPool(registry, cursors, analysis, nil)

	state := &collectorState{cfg: ChainConfig{Chain: domain.ChainBitcoin, ReorgDepth: 5}.withDefaults()}
	rewound, err := pool.checkReorg(context.Background(), state, client, 20)
	if err != nil {
		t.Fatalf("checkReorg() error = %v", err)
	}
	if rewound != 15 {
		t.Errorf("rewound = %d, want 15", rewound)
	}
}

func TestPool_StartAllIdempotentAndStatus(t *testing.T) {
	client := &scriptedClient{chain: domain.ChainBitcoin, heads: []uint64{0}}
	registry := ledger.NewRegistry()
	registry.Register(client)
	cursors := NewMemCursorStore()
	analysis := make(chan domain.Transaction, 1)
	pool := NewPool(registry, cursors, analysis, nil)

	cfg := []ChainConfig{{Chain: domain.ChainBitcoin, PollInterval: time.Hour}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := pool.StartAll(ctx, cfg); err != nil {
		t.Fatalf("StartAll() error = %v", err)
	}
	if err := pool.StartAll(ctx, cfg); err != nil {
		t.Fatalf("second StartAll() error = %v", err)
	}

	statuses := pool.Status()
	if len(statuses) != 1 {
		t.Fatalf("len(Status()) = %d, want 1 (idempotent start)", len(statuses))
	}

	pool.StopAll(2 * time.Second)
	statuses = pool.Status()
	if statuses[0].Health != HealthStopped {
		t.Errorf("Health after StopAll = %v, want %v", statuses[0].Health, HealthStopped)
	}
}

func TestPool_StartAllUnknownChain(t *testing.T) {
	registry := ledger.NewRegistry()
	cursors := NewMemCursorStore()
	analysis := make(chan domain.Transaction, 1)
	pool := NewPool(registry, cursors, analysis, nil)

	err := pool.StartAll(context.Background(), []ChainConfig{{Chain: domain.ChainEthereum}})
	if err == nil {
		t.Error("expected error for unregistered chain")
	}
}

func TestPool_RecordErrorDegradesAfterThreshold(t *testing.T) {
	registry := ledger.NewRegistry()
	cursors := NewMemCursorStore()
	analysis := make(chan domain.Transaction, 1)
	pool := NewPool(registry, cursors, analysis, nil)

	state := &collectorState{cfg: ChainConfig{DegradeAfter: 3}.withDefaults()}
	pool.recordError(state, errors.New("boom"), 1)
	if state.status.Health == HealthDegraded {
		t.Error("should not be degraded after 1 failure")
	}
	pool.recordError(state, errors.New("boom"), 3)
	if state.status.Health != HealthDegraded {
		t.Error("should be degraded after 3 failures")
	}
}
