package ledger

import (
	"fmt"
	"sync"

	"github.com/jackdawsentry/sentry-core/internal/domain"
)

// Registry holds one Client per configured chain, looked up by the
// Collector Pool when starting or restarting a per-chain collector.
type Registry struct {
	mu      sync.RWMutex
	clients map[domain.Chain]Client
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[domain.Chain]Client)}
}

func (r *Registry) Register(c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.Chain()] = c
}

func (r *Registry) Get(chain domain.Chain) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[chain]
	if !ok {
		return nil, fmt.Errorf("no ledger client registered for chain %q", chain)
	}
	return c, nil
}

func (r *Registry) Chains() []domain.Chain {
	r.mu.RLock()
	defer r.mu.RUnlock()
	chains := make([]domain.Chain, 0, len(r.clients))
	for chain := range r.clients {
		chains = append(chains, chain)
	}
	return chains
}
