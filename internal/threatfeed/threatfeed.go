// Package threatfeed manages external intelligence feeds (spec §4.8, §3
// Label "threat-feed record"). A feed is a registered HTTP source of
// sanctions/exchange/darknet-market labels; Sync fetches and ingests them
// into the entity store as Labels. Sync runs only when called; no
// scheduler job refreshes feeds on a cycle.
package threatfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jackdawsentry/sentry-core/internal/domain"
	"github.com/jackdawsentry/sentry-core/internal/platform/errors"
)

// Feed is a registered external label source.
type Feed struct {
	ID           string
	Name         string
	URL          string
	Kind         string // e.g. "sanctions", "exchange-registry"
	Enabled      bool
	LastSyncedAt time.Time
	LastCount    int
}

// LabelSink is the subset of entitystore.Store a sync writes through.
type LabelSink interface {
	AddLabel(ctx context.Context, l domain.Label) (string, error)
}

// Registry keeps the in-process set of configured feeds. Feed definitions
// are operational config, not case data, and are held only in memory:
// feeds added through Register do not survive a restart, and nothing
// re-registers them on startup.
type Registry struct {
	mu    sync.RWMutex
	feeds map[string]*Feed
}

func NewRegistry() *Registry {
	return &Registry{feeds: make(map[string]*Feed)}
}

// Register adds or replaces a feed definition.
func (r *Registry) Register(f Feed) Feed {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.feeds[f.ID] = &f
	return f
}

// List returns every registered feed.
func (r *Registry) List() []Feed {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Feed, 0, len(r.feeds))
	for _, f := range r.feeds {
		out = append(out, *f)
	}
	return out
}

// Get returns a feed by id.
func (r *Registry) Get(id string) (Feed, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.feeds[id]
	if !ok {
		return Feed{}, false
	}
	return *f, true
}

func (r *Registry) markSynced(id string, count int, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.feeds[id]; ok {
		f.LastSyncedAt = at
		f.LastCount = count
	}
}

// feedRecord is the wire shape a feed endpoint returns: a flat list of
// labels to attach to addresses or entities.
type feedRecord struct {
	TargetKind string `json:"target_kind"`
	TargetID   string `json:"target_id"`
	Kind       string `json:"kind"`
	Provenance string `json:"provenance"`
}

// Syncer fetches and ingests a single feed's records.
type Syncer struct {
	registry *Registry
	sink     LabelSink
	client   *http.Client
}

func NewSyncer(registry *Registry, sink LabelSink, client *http.Client) *Syncer {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Syncer{registry: registry, sink: sink, client: client}
}

// Sync fetches the feed's current record set over HTTP and ingests each
// record as a Label, returning the number of labels ingested.
func (s *Syncer) Sync(ctx context.Context, feedID string) (int, error) {
	feed, ok := s.registry.Get(feedID)
	if !ok {
		return 0, errors.NotFound("threat_feed", feedID)
	}
	if !feed.Enabled {
		return 0, errors.InvalidInput("feed_id", "feed is disabled")
	}

	records, err := s.fetch(ctx, feed.URL)
	if err != nil {
		return 0, errors.ExternalAPIError(feed.Name, err)
	}

	now := time.Now().UTC()
	for _, rec := range records {
		_, err := s.sink.AddLabel(ctx, domain.Label{
			Target:     domain.LabelTarget{Kind: rec.TargetKind, ID: rec.TargetID},
			Kind:       rec.Kind,
			Source:     feed.Name,
			FetchedAt:  now,
			Provenance: rec.Provenance,
		})
		if err != nil {
			return 0, fmt.Errorf("ingest label from feed %s: %w", feed.Name, err)
		}
	}

	s.registry.markSynced(feed.ID, len(records), now)
	return len(records), nil
}

func (s *Syncer) fetch(ctx context.Context, url string) ([]feedRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	var records []feedRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, err
	}
	return records, nil
}
