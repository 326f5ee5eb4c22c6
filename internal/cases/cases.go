// Package cases implements C8, the Case Store: forensic cases with a
// status state machine, evidence linkage, and an audit-grade update log
// (spec §4.9).
package cases

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jackdawsentry/sentry-core/internal/domain"
	"github.com/jackdawsentry/sentry-core/internal/platform/dbstore"
	"github.com/jackdawsentry/sentry-core/internal/platform/errors"
	"github.com/jackdawsentry/sentry-core/internal/platform/logging"
)

// transitions lists every allowed (from, to) edge in the case state
// machine (spec §4.9). Admin-only edges are marked separately.
var transitions = map[domain.CaseStatus][]domain.CaseStatus{
	domain.CaseOpen:               {domain.CaseInProgress, domain.CaseClosed},
	domain.CaseInProgress:         {domain.CaseEvidenceCollection},
	domain.CaseEvidenceCollection: {domain.CaseAnalysis, domain.CaseReview},
	domain.CaseAnalysis:           {domain.CaseReview},
	domain.CaseReview:             {domain.CaseClosed},
	domain.CaseClosed:             {domain.CaseArchived, domain.CaseInProgress},
}

// adminOnly lists edges that require an admin actor (spec §4.9, scenario E3).
var adminOnly = map[[2]domain.CaseStatus]bool{
	{domain.CaseOpen, domain.CaseClosed}:   true,
	{domain.CaseClosed, domain.CaseInProgress}: true,
}

// Store is C8's public contract, backed by the relational cases table.
type Store struct {
	db     *dbstore.Store
	logger *logging.Logger
}

func New(db *dbstore.Store) *Store {
	return &Store{db: db, logger: logging.New("case-store", "info", "json")}
}

// Create opens a new case in the `open` state.
func (s *Store) Create(ctx context.Context, title, description, priority, jurisdiction, legalStandard, actor string) (domain.ForensicCase, error) {
	if title == "" {
		return domain.ForensicCase{}, errors.InvalidInput("title", "must not be empty")
	}

	now := time.Now().UTC()
	c := domain.ForensicCase{
		ID:            uuid.NewString(),
		Title:         title,
		Description:   description,
		Priority:      priority,
		Status:        domain.CaseOpen,
		Jurisdiction:  jurisdiction,
		LegalStandard: legalStandard,
		EvidenceIDs:   []string{},
		Tags:          []string{},
		Notes:         []domain.CaseNote{},
		AuditLog: []domain.CaseAuditEntry{
			{Actor: actor, From: "", To: domain.CaseOpen, Reason: "case opened", Timestamp: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	evidenceIDs, _ := json.Marshal(c.EvidenceIDs)
	tags, _ := json.Marshal(c.Tags)
	notes, _ := json.Marshal(c.Notes)
	auditLog, _ := json.Marshal(c.AuditLog)

	_, err := s.db.DB.ExecContext(ctx,
		`INSERT INTO cases (id, title, description, priority, status, assigned_investigator, jurisdiction, legal_standard, evidence_ids, evidence_count, tags, notes, audit_log, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,'',$6,$7,$8,0,$9,$10,$11,$12,$13)`,
		c.ID, c.Title, c.Description, c.Priority, string(c.Status), c.Jurisdiction, c.LegalStandard,
		evidenceIDs, tags, notes, auditLog, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return domain.ForensicCase{}, fmt.Errorf("insert case: %w", err)
	}
	return c, nil
}

type caseRow struct {
	ID                   string     `db:"id"`
	Title                string     `db:"title"`
	Description          string     `db:"description"`
	Priority             string     `db:"priority"`
	Status               string     `db:"status"`
	AssignedInvestigator string     `db:"assigned_investigator"`
	Jurisdiction         string     `db:"jurisdiction"`
	LegalStandard        string     `db:"legal_standard"`
	EvidenceIDs          []byte     `db:"evidence_ids"`
	EvidenceCount        int        `db:"evidence_count"`
	Tags                 []byte     `db:"tags"`
	Notes                []byte     `db:"notes"`
	AuditLog             []byte     `db:"audit_log"`
	CreatedAt            time.Time  `db:"created_at"`
	UpdatedAt            time.Time  `db:"updated_at"`
	ClosedAt             *time.Time `db:"closed_at"`
}

func (r caseRow) toDomain() (domain.ForensicCase, error) {
	c := domain.ForensicCase{
		ID: r.ID, Title: r.Title, Description: r.Description, Priority: r.Priority,
		Status: domain.CaseStatus(r.Status), AssignedInvestigator: r.AssignedInvestigator,
		Jurisdiction: r.Jurisdiction, LegalStandard: r.LegalStandard, EvidenceCount: r.EvidenceCount,
		CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt, ClosedAt: r.ClosedAt,
	}
	if err := json.Unmarshal(r.EvidenceIDs, &c.EvidenceIDs); err != nil {
		return domain.ForensicCase{}, fmt.Errorf("decode evidence_ids: %w", err)
	}
	if err := json.Unmarshal(r.Tags, &c.Tags); err != nil {
		return domain.ForensicCase{}, fmt.Errorf("decode tags: %w", err)
	}
	if err := json.Unmarshal(r.Notes, &c.Notes); err != nil {
		return domain.ForensicCase{}, fmt.Errorf("decode notes: %w", err)
	}
	if err := json.Unmarshal(r.AuditLog, &c.AuditLog); err != nil {
		return domain.ForensicCase{}, fmt.Errorf("decode audit_log: %w", err)
	}
	return c, nil
}

// Get loads a case by ID.
func (s *Store) Get(ctx context.Context, id string) (domain.ForensicCase, error) {
	var row caseRow
	if err := s.db.DB.GetContext(ctx,
		&row, `SELECT id, title, description, priority, status, assigned_investigator, jurisdiction, legal_standard,
		        evidence_ids, evidence_count, tags, notes, audit_log, created_at, updated_at, closed_at
		        FROM cases WHERE id=$1`, id); err != nil {
		return domain.ForensicCase{}, errors.NotFound("case", id)
	}
	return row.toDomain()
}

// Transition moves a case to a new status, validating the edge against the
// state machine and admin-only edges, then appends an audit log entry
// (spec §4.9).
func (s *Store) Transition(ctx context.Context, id string, to domain.CaseStatus, actor string, isAdmin bool, reason string) (domain.ForensicCase, error) {
	var result domain.ForensicCase
	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		var row caseRow
		if err := tx.GetContext(ctx, &row,
			`SELECT id, title, description, priority, status, assigned_investigator, jurisdiction, legal_standard,
			        evidence_ids, evidence_count, tags, notes, audit_log, created_at, updated_at, closed_at
			        FROM cases WHERE id=$1 FOR UPDATE`, id); err != nil {
			return errors.NotFound("case", id)
		}
		c, err := row.toDomain()
		if err != nil {
			return err
		}

		if !isAllowedTransition(c.Status, to) {
			return errors.Conflict(fmt.Sprintf("transition %s -> %s is not permitted", c.Status, to))
		}
		if adminOnly[[2]domain.CaseStatus{c.Status, to}] && !isAdmin {
			return errors.New(errors.ErrCodeForbidden, "admin privileges required for this transition", 403)
		}

		now := time.Now().UTC()
		c.AuditLog = append(c.AuditLog, domain.CaseAuditEntry{
			Actor: actor, From: c.Status, To: to, Reason: reason, Timestamp: now,
		})
		c.Status = to
		c.UpdatedAt = now
		if to == domain.CaseClosed || to == domain.CaseArchived {
			if c.ClosedAt == nil {
				closedAt := now
				c.ClosedAt = &closedAt
			}
		} else {
			c.ClosedAt = nil
		}

		auditLog, err := json.Marshal(c.AuditLog)
		if err != nil {
			return fmt.Errorf("encode audit_log: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE cases SET status=$1, updated_at=$2, closed_at=$3, audit_log=$4 WHERE id=$5`,
			string(c.Status), c.UpdatedAt, c.ClosedAt, auditLog, c.ID); err != nil {
			return fmt.Errorf("update case status: %w", err)
		}

		result = c
		return nil
	})
	if err != nil {
		s.logger.LogAudit(ctx, fmt.Sprintf("transition:%s", to), "case", id, "rejected")
		return domain.ForensicCase{}, err
	}
	s.logger.LogAudit(ctx, fmt.Sprintf("transition:%s", to), "case", id, "success")
	return result, nil
}

// LinkEvidence appends an evidence ID to the case and atomically increments
// the materialised evidence_count counter (spec §4.9). Rejected once the
// case is archived.
func (s *Store) LinkEvidence(ctx context.Context, caseID, evidenceID string) error {
	return s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		var row caseRow
		if err := tx.GetContext(ctx, &row,
			`SELECT id, status, evidence_ids FROM cases WHERE id=$1 FOR UPDATE`, caseID); err != nil {
			return errors.NotFound("case", caseID)
		}
		var status domain.CaseStatus
		var evidenceIDs []string
		if err := json.Unmarshal(row.EvidenceIDs, &evidenceIDs); err != nil {
			return fmt.Errorf("decode evidence_ids: %w", err)
		}
		status = domain.CaseStatus(row.Status)
		if status == domain.CaseArchived {
			return errors.Conflict("cannot add evidence to an archived case")
		}

		evidenceIDs = append(evidenceIDs, evidenceID)
		encoded, err := json.Marshal(evidenceIDs)
		if err != nil {
			return fmt.Errorf("encode evidence_ids: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE cases SET evidence_ids=$1, evidence_count=evidence_count+1, updated_at=$2 WHERE id=$3`,
			encoded, time.Now().UTC(), caseID)
		return err
	})
}

// AddNote appends a free-text note to the case's notes history.
func (s *Store) AddNote(ctx context.Context, caseID, author, body string) error {
	return s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		var row caseRow
		if err := tx.GetContext(ctx, &row, `SELECT notes FROM cases WHERE id=$1 FOR UPDATE`, caseID); err != nil {
			return errors.NotFound("case", caseID)
		}
		var notes []domain.CaseNote
		if err := json.Unmarshal(row.Notes, &notes); err != nil {
			return fmt.Errorf("decode notes: %w", err)
		}
		notes = append(notes, domain.CaseNote{Author: author, Body: body, CreatedAt: time.Now().UTC()})
		encoded, err := json.Marshal(notes)
		if err != nil {
			return fmt.Errorf("encode notes: %w", err)
		}
		_, err = tx.ExecContext(ctx, `UPDATE cases SET notes=$1, updated_at=$2 WHERE id=$3`, encoded, time.Now().UTC(), caseID)
		return err
	})
}

func isAllowedTransition(from, to domain.CaseStatus) bool {
	for _, candidate := range transitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}
