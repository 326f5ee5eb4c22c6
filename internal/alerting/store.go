package alerting

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

// DBRuleStore is the relational RuleStore backing the `alert_rules` table.
// Rules are operator-managed configuration, not case data, but persisting
// them lets a restarted process rebuild its rule set instead of starting
// empty (spec §3 "Ownership summary": rule state is rebuilt from durable
// storage on startup).
type DBRuleStore struct {
	db *dbstore.Store
}

func NewDBRuleStore(db *dbstore.Store) *DBRuleStore {
	return &DBRuleStore{db: db}
}

type ruleRow struct {
	ID              string         `db:"id"`
	Name            string         `db:"name"`
	Version         int            `db:"version"`
	Severity        string         `db:"severity"`
	Conditions      []byte         `db:"conditions"`
	MessageTemplate string         `db:"message_template"`
	RateLimitWindow int64          `db:"rate_limit_window"`
	LastEmittedAt   sql.NullTime   `db:"last_emitted_at"`
	Enabled         bool           `db:"enabled"`
}

func (row ruleRow) toDomain() (domain.AlertRule, error) {
	var conditions []domain.AlertCondition
	if len(row.Conditions) > 0 {
		if err := json.Unmarshal(row.Conditions, &conditions); err != nil {
			return domain.AlertRule{}, err
		}
	}
	rule := domain.AlertRule{
		ID: row.ID, Name: row.Name, Version: row.Version, Severity: row.Severity,
		Conditions: conditions, MessageTemplate: row.MessageTemplate,
		RateLimitWindow: time.Duration(row.RateLimitWindow), Enabled: row.Enabled,
	}
	if row.LastEmittedAt.Valid {
		rule.LastEmittedAt = row.LastEmittedAt.Time
	}
	return rule, nil
}

// Put inserts or replaces a rule definition.
func (s *DBRuleStore) Put(ctx context.Context, rule domain.AlertRule) (domain.AlertRule, error) {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return domain.AlertRule{}, err
	}
	_, err = s.db.DB.ExecContext(ctx, `
		INSERT INTO alert_rules (id, name, version, severity, conditions, message_template, rate_limit_window, enabled)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET
			name=$2, version=$3, severity=$4, conditions=$5, message_template=$6, rate_limit_window=$7, enabled=$8`,
		rule.ID, rule.Name, rule.Version, rule.Severity, conditions, rule.MessageTemplate,
		int64(rule.RateLimitWindow), rule.Enabled)
	if err != nil {
		return domain.AlertRule{}, errors.DatabaseError("put_alert_rule", err)
	}
	return rule, nil
}

// Rules returns every registered rule (RuleStore interface).
func (s *DBRuleStore) Rules(ctx context.Context) ([]domain.AlertRule, error) {
	var rows []ruleRow
	if err := s.db.DB.SelectContext(ctx, &rows, `SELECT * FROM alert_rules`); err != nil {
		return nil, errors.DatabaseError("list_alert_rules", err)
	}
	out := make([]domain.AlertRule, 0, len(rows))
	for _, row := range rows {
		rule, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, nil
}

// Touch records a rule's last-emission time (RuleStore interface).
func (s *DBRuleStore) Touch(ctx context.Context, ruleID string, emittedAt time.Time) error {
	_, err := s.db.DB.ExecContext(ctx, `UPDATE alert_rules SET last_emitted_at=$1 WHERE id=$2`, emittedAt, ruleID)
	if err != nil {
		return errors.DatabaseError("touch_alert_rule", err)
	}
	return nil
}
