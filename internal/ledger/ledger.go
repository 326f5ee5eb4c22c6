// Package ledger implements C1, the per-chain ledger access clients:
// thin adapters that query an external ledger data source and return
// normalised blocks, transactions, and balances to the Collector Pool.
package ledger

import (
	"context"
	"time"

	"github.com/jackdawsentry/sentry-core/internal/domain"
)

// Block is a normalised block header plus its transactions, as returned by
// a Client regardless of the underlying chain's wire format.
type Block struct {
	Height       uint64
	Hash         string
	PrevHash     string
	Timestamp    time.Time
	Transactions []domain.Transaction
}

// Client is the per-chain ledger access contract (spec §2 C1). One
// implementation exists per supported chain family; the Collector Pool
// holds one Client per configured chain.
type Client interface {
	// Chain identifies which ledger this client adapts.
	Chain() domain.Chain

	// HeadHeight returns the current confirmed chain tip height.
	HeadHeight(ctx context.Context) (uint64, error)

	// BlockHash returns the canonical block hash at height, used by the
	// collector to detect reorgs.
	BlockHash(ctx context.Context, height uint64) (string, error)

	// FetchBlocks returns normalised blocks for the closed range
	// [from, to], inclusive of both ends.
	FetchBlocks(ctx context.Context, from, to uint64) ([]Block, error)

	// Balance returns an address's current balance for the given asset.
	Balance(ctx context.Context, address, asset string) (float64, error)
}
