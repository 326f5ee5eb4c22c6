package webhook

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/jackdawsentry/sentry-core/internal/domain"
	"github.com/jackdawsentry/sentry-core/internal/platform/dbstore"
	"github.com/jackdawsentry/sentry-core/internal/platform/errors"
)

// DBSinkStore is the relational SinkStore backing the
// `webhook_registrations` table, so a restarted dispatcher rebuilds its
// sink set instead of starting empty (spec §3 "Ownership summary").
type DBSinkStore struct {
	db *dbstore.Store
}

func NewDBSinkStore(db *dbstore.Store) *DBSinkStore {
	return &DBSinkStore{db: db}
}

type sinkRow struct {
	ID                  string         `db:"id"`
	URL                 string         `db:"url"`
	Method              string         `db:"method"`
	Headers             []byte         `db:"headers"`
	Format              string         `db:"format"`
	EventFilters        []byte         `db:"event_filters"`
	SeverityFilters     []byte         `db:"severity_filters"`
	MinDeliveryInterval int64          `db:"min_delivery_interval"`
	LastDeliveredAt     sql.NullTime   `db:"last_delivered_at"`
	Enabled             bool           `db:"enabled"`
}

func (row sinkRow) toDomain() (domain.WebhookRegistration, error) {
	var headers map[string]string
	if len(row.Headers) > 0 {
		if err := json.Unmarshal(row.Headers, &headers); err != nil {
			return domain.WebhookRegistration{}, err
		}
	}
	var eventFilters, severityFilters []string
	if len(row.EventFilters) > 0 {
		if err := json.Unmarshal(row.EventFilters, &eventFilters); err != nil {
			return domain.WebhookRegistration{}, err
		}
	}
	if len(row.SeverityFilters) > 0 {
		if err := json.Unmarshal(row.SeverityFilters, &severityFilters); err != nil {
			return domain.WebhookRegistration{}, err
		}
	}
	sink := domain.WebhookRegistration{
		ID: row.ID, URL: row.URL, Method: row.Method, Headers: headers,
		Format: domain.PayloadFormat(row.Format), EventFilters: eventFilters, SeverityFilters: severityFilters,
		MinDeliveryInterval: time.Duration(row.MinDeliveryInterval), Enabled: row.Enabled,
	}
	if row.LastDeliveredAt.Valid {
		sink.LastDeliveredAt = row.LastDeliveredAt.Time
	}
	return sink, nil
}

// Put inserts or replaces a sink registration.
func (s *DBSinkStore) Put(ctx context.Context, sink domain.WebhookRegistration) (domain.WebhookRegistration, error) {
	if sink.ID == "" {
		sink.ID = uuid.NewString()
	}
	headers, err := json.Marshal(sink.Headers)
	if err != nil {
		return domain.WebhookRegistration{}, err
	}
	eventFilters, err := json.Marshal(sink.EventFilters)
	if err != nil {
		return domain.WebhookRegistration{}, err
	}
	severityFilters, err := json.Marshal(sink.SeverityFilters)
	if err != nil {
		return domain.WebhookRegistration{}, err
	}

	_, err = s.db.DB.ExecContext(ctx, `
		INSERT INTO webhook_registrations (id, url, method, headers, format, event_filters, severity_filters, min_delivery_interval, enabled)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO UPDATE SET
			url=$2, method=$3, headers=$4, format=$5, event_filters=$6, severity_filters=$7, min_delivery_interval=$8, enabled=$9`,
		sink.ID, sink.URL, sink.Method, headers, string(sink.Format), eventFilters, severityFilters,
		int64(sink.MinDeliveryInterval), sink.Enabled)
	if err != nil {
		return domain.WebhookRegistration{}, errors.DatabaseError("put_webhook_sink", err)
	}
	return sink, nil
}

// Sinks returns every registered sink (SinkStore interface).
func (s *DBSinkStore) Sinks(ctx context.Context) ([]domain.WebhookRegistration, error) {
	var rows []sinkRow
	if err := s.db.DB.SelectContext(ctx, &rows, `SELECT * FROM webhook_registrations`); err != nil {
		return nil, errors.DatabaseError("list_webhook_sinks", err)
	}
	out := make([]domain.WebhookRegistration, 0, len(rows))
	for _, row := range rows {
		sink, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, sink)
	}
	return out, nil
}

// Touch records a sink's last-delivery time (SinkStore interface).
func (s *DBSinkStore) Touch(ctx context.Context, sinkID string, deliveredAt time.Time) error {
	_, err := s.db.DB.ExecContext(ctx, `UPDATE webhook_registrations SET last_delivered_at=$1 WHERE id=$2`, deliveredAt, sinkID)
	if err != nil {
		return errors.DatabaseError("touch_webhook_sink", err)
	}
	return nil
}
