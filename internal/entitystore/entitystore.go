// Package entitystore implements C3, the Entity & Label Store: the
// persistent mapping from address to entity metadata (type, tags,
// sanctions match, known-service cluster) that the Risk Engine, Pattern
// Detector, and Attribution Engine all read from.
package entitystore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jackdawsentry/sentry-core/internal/domain"
	"github.com/jackdawsentry/sentry-core/internal/platform/cache"
	"github.com/jackdawsentry/sentry-core/internal/platform/dbstore"
	"github.com/jackdawsentry/sentry-core/internal/platform/errors"
	"github.com/jackdawsentry/sentry-core/internal/platform/logging"
)

// AddressKey composes an Address's primary key for map/cache lookups.
func AddressKey(chain domain.Chain, address string) string {
	return string(chain) + ":" + address
}

// Store is C3's public contract: persistent address/entity/label lookups
// against the relational store. The optional Redis cache only has address
// keys deleted on writes; lookups do not read from it.
type Store struct {
	db     *dbstore.Store
	cache  *cache.RedisCache // optional; nil disables caching
	logger *logging.Logger
}

func New(db *dbstore.Store, c *cache.RedisCache) *Store {
	return &Store{db: db, cache: c, logger: logging.New("entitystore", "info", "json")}
}

type addressRow struct {
	Chain     string    `db:"chain"`
	Address   string    `db:"address"`
	FirstSeen time.Time `db:"first_seen"`
	LastSeen  time.Time `db:"last_seen"`
	InCount   int64     `db:"in_count"`
	OutCount  int64     `db:"out_count"`
	RiskScore float64   `db:"risk_score"`
	EntityID  string    `db:"entity_id"`
}

// UpsertAddress creates or updates an Address's activity counters. Counters
// only ever increase (spec §3 invariant); FirstSeen/LastSeen widen the
// observed window.
func (s *Store) UpsertAddress(ctx context.Context, addr domain.Address) error {
	return s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		var existing addressRow
		err := tx.GetContext(ctx, &existing,
			`SELECT chain, address, first_seen, last_seen, in_count, out_count, risk_score, entity_id
			 FROM addresses WHERE chain=$1 AND address=$2 FOR UPDATE`, string(addr.Chain), addr.Address)

		if err != nil {
			_, insertErr := tx.ExecContext(ctx,
				`INSERT INTO addresses (chain, address, first_seen, last_seen, in_count, out_count, risk_score, entity_id)
				 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
				string(addr.Chain), addr.Address, addr.FirstSeen, addr.LastSeen,
				addr.InCount, addr.OutCount, addr.RiskScore, addr.EntityID)
			return insertErr
		}

		firstSeen := existing.FirstSeen
		if addr.FirstSeen.Before(firstSeen) {
			firstSeen = addr.FirstSeen
		}
		lastSeen := existing.LastSeen
		if addr.LastSeen.After(lastSeen) {
			lastSeen = addr.LastSeen
		}
		inCount := existing.InCount + addr.InCount
		outCount := existing.OutCount + addr.OutCount

		_, err = tx.ExecContext(ctx,
			`UPDATE addresses SET first_seen=$1, last_seen=$2, in_count=$3, out_count=$4, risk_score=$5
			 WHERE chain=$6 AND address=$7`,
			firstSeen, lastSeen, inCount, outCount, addr.RiskScore, string(addr.Chain), addr.Address)
		return err
	})
}

// GetAddress reads an Address from the relational store, populating its
// label kinds. The Redis cache is not consulted on reads; AssignAddress and
// AddLabel only delete the address's cache key.
func (s *Store) GetAddress(ctx context.Context, chain domain.Chain, address string) (domain.Address, error) {
	key := AddressKey(chain, address)

	var row addressRow
	err := s.db.DB.GetContext(ctx, &row,
		`SELECT chain, address, first_seen, last_seen, in_count, out_count, risk_score, entity_id
		 FROM addresses WHERE chain=$1 AND address=$2`, string(chain), address)
	if err != nil {
		return domain.Address{}, errors.NotFound("address", key)
	}

	labels, err := s.Labels(ctx, domain.LabelTarget{Kind: "address", ID: key})
	if err != nil {
		s.logger.WithError(err).WithFields(map[string]interface{}{"address": key}).
			Warn("failed to load labels for address")
	}

	labelKinds := make([]string, 0, len(labels))
	for _, l := range labels {
		labelKinds = append(labelKinds, l.Kind)
	}

	return domain.Address{
		Chain:     chain,
		Address:   address,
		FirstSeen: row.FirstSeen,
		LastSeen:  row.LastSeen,
		InCount:   row.InCount,
		OutCount:  row.OutCount,
		RiskScore: row.RiskScore,
		EntityID:  row.EntityID,
		Labels:    labelKinds,
	}, nil
}

type entityRow struct {
	ID         string    `db:"id"`
	Name       string    `db:"name"`
	Type       string    `db:"type"`
	Confidence float64   `db:"confidence"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

// CreateEntity persists a new Entity and returns its generated ID.
func (s *Store) CreateEntity(ctx context.Context, e domain.Entity) (string, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	now := e.CreatedAt
	if now.IsZero() {
		now = timeNow()
	}
	_, err := s.db.DB.ExecContext(ctx,
		`INSERT INTO entities (id, name, type, confidence, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$5)`,
		e.ID, e.Name, string(e.Type), e.Confidence, now)
	if err != nil {
		return "", fmt.Errorf("create entity: %w", err)
	}
	return e.ID, nil
}

func (s *Store) GetEntity(ctx context.Context, id string) (domain.Entity, error) {
	var row entityRow
	if err := s.db.DB.GetContext(ctx, &row,
		`SELECT id, name, type, confidence, created_at, updated_at FROM entities WHERE id=$1`, id); err != nil {
		return domain.Entity{}, errors.NotFound("entity", id)
	}

	var addresses []string
	if err := s.db.DB.SelectContext(ctx, &addresses,
		`SELECT chain || ':' || address FROM addresses WHERE entity_id=$1`, id); err != nil {
		return domain.Entity{}, fmt.Errorf("load entity addresses: %w", err)
	}

	return domain.Entity{
		ID:         row.ID,
		Name:       row.Name,
		Type:       domain.EntityType(row.Type),
		Confidence: row.Confidence,
		Addresses:  addresses,
		CreatedAt:  row.CreatedAt,
		UpdatedAt:  row.UpdatedAt,
	}, nil
}

// AssignAddress attaches an address to an entity (the attribution engine's
// union-find result materialised into the persistent store).
func (s *Store) AssignAddress(ctx context.Context, chain domain.Chain, address, entityID string) error {
	_, err := s.db.DB.ExecContext(ctx,
		`UPDATE addresses SET entity_id=$1 WHERE chain=$2 AND address=$3`,
		entityID, string(chain), address)
	if s.cache != nil {
		_ = s.cache.Delete(ctx, AddressKey(chain, address))
	}
	return err
}

type labelRow struct {
	ID         string    `db:"id"`
	TargetKind string    `db:"target_kind"`
	TargetID   string    `db:"target_id"`
	Kind       string    `db:"kind"`
	Source     string    `db:"source"`
	FetchedAt  time.Time `db:"fetched_at"`
	Provenance string    `db:"provenance"`
}

// AddLabel attaches a typed tag to an address or entity, sourced from an
// external feed (sanctions list, known-service registry, threat feed).
func (s *Store) AddLabel(ctx context.Context, l domain.Label) (string, error) {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	_, err := s.db.DB.ExecContext(ctx,
		`INSERT INTO labels (id, target_kind, target_id, kind, source, fetched_at, provenance)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		l.ID, l.Target.Kind, l.Target.ID, l.Kind, l.Source, l.FetchedAt, l.Provenance)
	if err != nil {
		return "", fmt.Errorf("add label: %w", err)
	}
	if s.cache != nil && l.Target.Kind == "address" {
		_ = s.cache.Delete(ctx, l.Target.ID)
	}
	return l.ID, nil
}

// Labels returns every label attached to a target, read from the relational
// store ordered by fetch time; the Redis cache is not consulted.
func (s *Store) Labels(ctx context.Context, target domain.LabelTarget) ([]domain.Label, error) {
	var rows []labelRow
	if err := s.db.DB.SelectContext(ctx, &rows,
		`SELECT id, target_kind, target_id, kind, source, fetched_at, provenance
		 FROM labels WHERE target_kind=$1 AND target_id=$2 ORDER BY fetched_at`,
		target.Kind, target.ID); err != nil {
		return nil, fmt.Errorf("load labels: %w", err)
	}

	labels := make([]domain.Label, 0, len(rows))
	for _, r := range rows {
		labels = append(labels, domain.Label{
			ID:         r.ID,
			Target:     domain.LabelTarget{Kind: r.TargetKind, ID: r.TargetID},
			Kind:       r.Kind,
			Source:     r.Source,
			FetchedAt:  r.FetchedAt,
			Provenance: r.Provenance,
		})
	}
	return labels, nil
}

// HasLabelKind reports whether target carries any label of the given kind
// (e.g. "sanctions"), the primitive behind the Pattern Detector's label and
// mixer checks as wired in cmd/sentryd.
func (s *Store) HasLabelKind(ctx context.Context, target domain.LabelTarget, kind string) (bool, error) {
	labels, err := s.Labels(ctx, target)
	if err != nil {
		return false, err
	}
	for _, l := range labels {
		if l.Kind == kind {
			return true, nil
		}
	}
	return false, nil
}

func timeNow() time.Time { return time.Now().UTC() }
