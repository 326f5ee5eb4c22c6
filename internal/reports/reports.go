// Package reports generates the Report artifacts that reference a Forensic
// Case (spec §3 "Report"). It is a thin boundary over the cases/evidence
// subsystem: the core analytical work is already captured in the case's
// audit log and evidence chain, this package only renders and versions the
// summary document that analysts hand to reviewers and courts.
package reports

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jackdawsentry/sentry-core/internal/domain"
	"github.com/jackdawsentry/sentry-core/internal/platform/dbstore"
	"github.com/jackdawsentry/sentry-core/internal/platform/errors"
)

// CaseSummary is the subset of a ForensicCase a report renders. The caller
// (httpapi) assembles this from the case store and evidence vault rather
// than this package reaching across subsystem boundaries itself.
type CaseSummary struct {
	Title          string
	Description    string
	Status         domain.CaseStatus
	Jurisdiction   string
	LegalStandard  string
	EvidenceCount  int
	Notes          []domain.CaseNote
}

// Store persists generated reports.
type Store struct {
	db *dbstore.Store
}

func New(db *dbstore.Store) *Store {
	return &Store{db: db}
}

type reportRow struct {
	ID         string     `db:"id"`
	CaseID     string     `db:"case_id"`
	TemplateID string     `db:"template_id"`
	Status     string     `db:"status"`
	Format     string     `db:"format"`
	FilePath   string     `db:"file_path"`
	Digest     string     `db:"digest"`
	WordCount  int        `db:"word_count"`
	Version    int        `db:"version"`
	CreatedAt  time.Time  `db:"created_at"`
	ApprovedBy string     `db:"approved_by"`
	ApprovedAt *time.Time `db:"approved_at"`
}

func (row reportRow) toDomain() domain.Report {
	return domain.Report{
		ID: row.ID, CaseID: row.CaseID, TemplateID: row.TemplateID,
		Status: domain.ReportStatus(row.Status), Format: row.Format,
		FilePath: row.FilePath, Digest: row.Digest, WordCount: row.WordCount,
		Version: row.Version, CreatedAt: row.CreatedAt,
		ApprovedBy: row.ApprovedBy, ApprovedAt: row.ApprovedAt,
	}
}

// render builds the plain-text document body the digest and word count are
// computed over. Real deployments would swap in a templating engine keyed
// by TemplateID; this renders a single built-in template.
func render(caseID string, summary CaseSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Forensic Case Report\nCase: %s (%s)\n", summary.Title, caseID)
	fmt.Fprintf(&b, "Status: %s\nJurisdiction: %s\nLegal standard: %s\n", summary.Status, summary.Jurisdiction, summary.LegalStandard)
	fmt.Fprintf(&b, "Description: %s\n", summary.Description)
	fmt.Fprintf(&b, "Evidence items: %d\n", summary.EvidenceCount)
	b.WriteString("Notes:\n")
	for _, note := range summary.Notes {
		fmt.Fprintf(&b, "- [%s] %s: %s\n", note.CreatedAt.Format(time.RFC3339), note.Author, note.Body)
	}
	return b.String()
}

// Generate renders and persists a new report at version 1. Regenerating a
// report for the same case creates an independent row; approval workflow
// operates on the returned report's id (spec §3 "Reports are versioned").
func (s *Store) Generate(ctx context.Context, caseID, templateID, format string, summary CaseSummary) (domain.Report, error) {
	body := render(caseID, summary)
	sum := sha256.Sum256([]byte(body))

	row := reportRow{
		ID: uuid.NewString(), CaseID: caseID, TemplateID: templateID,
		Status: string(domain.ReportDraft), Format: format,
		FilePath: fmt.Sprintf("reports/%s.txt", uuid.NewString()),
		Digest:   hex.EncodeToString(sum[:]),
		WordCount: len(strings.Fields(body)),
		Version:   1, CreatedAt: time.Now().UTC(),
	}

	_, err := s.db.DB.ExecContext(ctx, `
		INSERT INTO reports (id, case_id, template_id, status, format, file_path, digest, word_count, version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		row.ID, row.CaseID, row.TemplateID, row.Status, row.Format, row.FilePath, row.Digest, row.WordCount, row.Version, row.CreatedAt)
	if err != nil {
		return domain.Report{}, errors.DatabaseError("insert_report", err)
	}
	return row.toDomain(), nil
}

// Get fetches a previously generated report by id.
func (s *Store) Get(ctx context.Context, id string) (domain.Report, error) {
	var row reportRow
	if err := dbstore.GetByID(ctx, s.db.DB, &row, "reports", "id", id); err != nil {
		return domain.Report{}, errors.NotFound("report", id)
	}
	return row.toDomain(), nil
}

// Approve transitions a draft/pending report to approved, recording who
// signed off and when. Rejection follows the same shape with status
// "rejected" so the caller can distinguish a stalled review from a
// completed one.
func (s *Store) Approve(ctx context.Context, id, approvedBy string, approve bool) (domain.Report, error) {
	status := domain.ReportApproved
	if !approve {
		status = domain.ReportRejected
	}
	now := time.Now().UTC()
	res, err := s.db.DB.ExecContext(ctx,
		`UPDATE reports SET status = $1, approved_by = $2, approved_at = $3 WHERE id = $4`,
		status, approvedBy, now, id)
	if err != nil {
		return domain.Report{}, errors.DatabaseError("approve_report", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Report{}, errors.NotFound("report", id)
	}
	return s.Get(ctx, id)
}
