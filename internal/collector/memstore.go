package collector

import (
	"context"
	"sync"

	"github.com/jackdawsentry/sentry-core/internal/domain"
)

// MemCursorStore is an in-memory CursorStore/BlockHashStore, suitable for
// tests and for single-process deployments that tolerate replaying the last
// unacked batch on restart.
type MemCursorStore struct {
	mu      sync.Mutex
	cursors map[domain.Chain]uint64
	hashes  map[domain.Chain]map[uint64]string
}

func NewMemCursorStore() *MemCursorStore {
	return &MemCursorStore{
		cursors: make(map[domain.Chain]uint64),
		hashes:  make(map[domain.Chain]map[uint64]string),
	}
}

func (s *MemCursorStore) GetCursor(ctx context.Context, chain domain.Chain) (uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	height, ok := s.cursors[chain]
	return height, ok, nil
}

func (s *MemCursorStore) SetCursor(ctx context.Context, chain domain.Chain, height uint64, blockHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[chain] = height
	if blockHash != "" {
		if s.hashes[chain] == nil {
			s.hashes[chain] = make(map[uint64]string)
		}
		s.hashes[chain][height] = blockHash
	}
	return nil
}

func (s *MemCursorStore) GetBlockHash(ctx context.Context, chain domain.Chain, height uint64) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hash, ok := s.hashes[chain][height]
	return hash, ok, nil
}
