// Package attribution implements C6, the Attribution Engine: union-find
// clustering of addresses into entities, driven by an append-only link log
// that is the sole source of truth (any in-memory index is a cache, per
// spec §4.4).
package attribution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LinkRecord is one append-only heuristic link between two addresses
// (co-spend, common change, label reuse, pattern co-occurrence, gazetteer
// hit). The union-find state is fully reconstructible by replaying these
// in order.
type LinkRecord struct {
	ID         string
	AddressA   string
	AddressB   string
	Reason     string
	Confidence float64
	CreatedAt  time.Time
}

// SplitRecord is an admin-only reversal: it does not erase history, it
// appends a record noting that an entity was split and why.
type SplitRecord struct {
	ID        string
	EntityID  string
	Reason    string
	CreatedAt time.Time
}

// LinkLog persists LinkRecords and SplitRecords durably.
type LinkLog interface {
	AppendLink(ctx context.Context, link LinkRecord) error
	AppendSplit(ctx context.Context, split SplitRecord) error
	AllLinks(ctx context.Context) ([]LinkRecord, error)
}

// MemLinkLog is an in-memory LinkLog.
type MemLinkLog struct {
	mu     sync.Mutex
	links  []LinkRecord
	splits []SplitRecord
}

func NewMemLinkLog() *MemLinkLog { return &MemLinkLog{} }

func (l *MemLinkLog) AppendLink(ctx context.Context, link LinkRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.links = append(l.links, link)
	return nil
}

func (l *MemLinkLog) AppendSplit(ctx context.Context, split SplitRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.splits = append(l.splits, split)
	return nil
}

func (l *MemLinkLog) AllLinks(ctx context.Context) ([]LinkRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]LinkRecord, len(l.links))
	copy(out, l.links)
	return out, nil
}

// MergeThreshold is the cumulative confidence at or above which two
// addresses' components are unioned.
const MergeThreshold = 0.6

// Engine maintains the union-find index as a rebuildable cache over the
// append-only link log.
type Engine struct {
	log LinkLog

	mu         sync.Mutex
	parent     map[string]string
	rank       map[string]int
	linkWeight map[string]float64 // unordered pair key -> cumulative confidence
}

func New(log LinkLog) *Engine {
	return &Engine{
		log:        log,
		parent:     make(map[string]string),
		rank:       make(map[string]int),
		linkWeight: make(map[string]float64),
	}
}

// Rebuild reconstructs the union-find index from the append-only log,
// discarding the current in-memory cache. Call at startup.
func (e *Engine) Rebuild(ctx context.Context) error {
	links, err := e.log.AllLinks(ctx)
	if err != nil {
		return fmt.Errorf("load link log: %w", err)
	}

	e.mu.Lock()
	e.parent = make(map[string]string)
	e.rank = make(map[string]int)
	e.linkWeight = make(map[string]float64)
	e.mu.Unlock()

	for _, link := range links {
		e.applyLink(link.AddressA, link.AddressB, link.Confidence)
	}
	return nil
}

func (e *Engine) find(addr string) string {
	if _, ok := e.parent[addr]; !ok {
		e.parent[addr] = addr
		e.rank[addr] = 0
		return addr
	}
	if e.parent[addr] != addr {
		e.parent[addr] = e.find(e.parent[addr])
	}
	return e.parent[addr]
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// applyLink records the heuristic and unions the two addresses' components
// if the cumulative confidence between them crosses MergeThreshold.
func (e *Engine) applyLink(a, b string, confidence float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := pairKey(a, b)
	e.linkWeight[key] += confidence

	rootA, rootB := e.find(a), e.find(b)
	if e.linkWeight[key] < MergeThreshold {
		return
	}
	if rootA == rootB {
		return
	}
	if e.rank[rootA] < e.rank[rootB] {
		rootA, rootB = rootB, rootA
	}
	e.parent[rootB] = rootA
	if e.rank[rootA] == e.rank[rootB] {
		e.rank[rootA]++
	}
}

// Merge records a heuristic link between two addresses and unions their
// components once cumulative confidence crosses the merge threshold (spec
// §4.4 contract).
func (e *Engine) Merge(ctx context.Context, addrA, addrB, reason string, confidence float64) error {
	link := LinkRecord{
		ID:         uuid.NewString(),
		AddressA:   addrA,
		AddressB:   addrB,
		Reason:     reason,
		Confidence: confidence,
		CreatedAt:  time.Now().UTC(),
	}
	if err := e.log.AppendLink(ctx, link); err != nil {
		return fmt.Errorf("append link: %w", err)
	}
	e.applyLink(addrA, addrB, confidence)
	return nil
}

// Attribute returns the root address (cluster identity) for addr, or
// ("", false) if addr has never been linked. The caller maps this root to
// a durable Entity record in the entity store.
func (e *Engine) Attribute(addr string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.parent[addr]; !ok {
		return "", false
	}
	return e.find(addr), true
}

// Cluster returns every address currently attributed to the same
// component as addr (inclusive).
func (e *Engine) Cluster(addr string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.parent[addr]; !ok {
		return nil
	}
	root := e.find(addr)
	var members []string
	for a := range e.parent {
		if e.find(a) == root {
			members = append(members, a)
		}
	}
	return members
}

// Split is an admin-only reversal: it appends a SplitRecord rather than
// mutating the union-find history (spec §4.4). The caller is responsible
// for rebuilding downstream entity assignments, since splitting does not
// retroactively rewrite the link log.
func (e *Engine) Split(ctx context.Context, entityID, reason string) error {
	split := SplitRecord{
		ID:        uuid.NewString(),
		EntityID:  entityID,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	}
	return e.log.AppendSplit(ctx, split)
}
