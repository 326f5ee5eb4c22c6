// Package evidence implements C7, the Evidence Vault: durable,
// tamper-evident storage for evidence artifacts with a Merkle-linked
// chain-of-custody log (spec §4.5).
package evidence

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jackdawsentry/sentry-core/internal/domain"
	"github.com/jackdawsentry/sentry-core/internal/platform/dbstore"
	"github.com/jackdawsentry/sentry-core/internal/platform/errors"
	"github.com/jackdawsentry/sentry-core/internal/platform/logging"
)

// Vault is C7's public contract.
type Vault struct {
	root   string // configurable root for content-addressed files (spec §6)
	db     *dbstore.Store
	logger *logging.Logger
}

func New(root string, db *dbstore.Store) *Vault {
	return &Vault{root: root, db: db, logger: logging.New("evidence-vault", "info", "json")}
}

// storagePath implements the layout `root/<id[0:2]>/<id>.evidence` (spec §6).
func (v *Vault) storagePath(id string) string {
	prefix := id
	if len(id) >= 2 {
		prefix = id[:2]
	}
	return filepath.Join(v.root, prefix, id+".evidence")
}

// Put stores bytes under a content-addressed path, records the index row,
// and seeds the custody chain with a `collected` entry. Either all three
// steps succeed or none are observably committed (spec §4.5 atomicity).
func (v *Vault) Put(ctx context.Context, caseID string, data []byte, evType, source, collector string, metadata map[string]string) (id, digest string, err error) {
	id = uuid.NewString()
	sum := sha256.Sum256(data)
	digest = hex.EncodeToString(sum[:])

	path := v.storagePath(id)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", "", fmt.Errorf("create evidence directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return "", "", fmt.Errorf("write evidence bytes: %w", err)
	}

	genesis := domain.CustodyEntry{
		Actor:     collector,
		Action:    domain.CustodyCollected,
		Timestamp: time.Now().UTC(),
		Location:  "vault",
	}
	genesis.EntryHash = hashCustodyEntry(genesis, "")

	txErr := v.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		metaJSON, err := marshalMetadata(metadata)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO evidence_items (id, case_id, type, source, collector, digest, size, integrity, metadata, storage_path, created_at, backup_count)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,0)`,
			id, caseID, evType, source, collector, digest, int64(len(data)), string(domain.IntegrityVerified), metaJSON, path, genesis.Timestamp); err != nil {
			return fmt.Errorf("insert evidence index row: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO custody_entries (evidence_id, actor, action, timestamp, location, notes, prev_hash, entry_hash, seq)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,0)`,
			id, genesis.Actor, string(genesis.Action), genesis.Timestamp, genesis.Location, genesis.Notes, "", genesis.EntryHash); err != nil {
			return fmt.Errorf("seed custody chain: %w", err)
		}
		return nil
	})
	if txErr != nil {
		_ = os.Remove(path)
		v.logger.LogCryptoOperation(ctx, "sha256_digest", false, txErr)
		return "", "", txErr
	}

	v.logger.LogCryptoOperation(ctx, "sha256_digest", true, nil)
	v.logger.LogAudit(ctx, "collect", "evidence", id, "success")

	return id, digest, nil
}

// hashCustodyEntry computes the commitment over (actor, action, location,
// notes, timestamp, prev_hash), per spec §4.5.
func hashCustodyEntry(entry domain.CustodyEntry, prevHash string) string {
	h := sha256.New()
	h.Write([]byte(entry.Actor))
	h.Write([]byte(entry.Action))
	h.Write([]byte(entry.Location))
	h.Write([]byte(entry.Notes))
	h.Write([]byte(entry.Timestamp.UTC().Format(time.RFC3339Nano)))
	h.Write([]byte(prevHash))
	return hex.EncodeToString(h.Sum(nil))
}

type evidenceRow struct {
	ID          string `db:"id"`
	StoragePath string `db:"storage_path"`
	Digest      string `db:"digest"`
	Integrity   string `db:"integrity"`
}

// Get reads the bytes for evidenceID and logs the access as a custody
// entry (spec §4.5, §9 "Ownership of evidence files").
func (v *Vault) Get(ctx context.Context, evidenceID, actor string) ([]byte, error) {
	var row evidenceRow
	if err := v.db.DB.GetContext(ctx, &row,
		`SELECT id, storage_path, digest, integrity FROM evidence_items WHERE id=$1`, evidenceID); err != nil {
		return nil, errors.NotFound("evidence", evidenceID)
	}

	data, err := os.ReadFile(row.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("read evidence bytes: %w", err)
	}

	if err := v.AppendCustody(ctx, evidenceID, domain.CustodyEntry{
		Actor: actor, Action: domain.CustodyAnalyzed, Timestamp: time.Now().UTC(), Location: "vault-get",
	}); err != nil {
		v.logger.WithError(err).WithFields(map[string]interface{}{"evidence_id": evidenceID}).
			Warn("failed to log evidence access")
	}

	return data, nil
}

// Verify re-hashes stored bytes, compares against the recorded digest, and
// updates the integrity status (spec §4.5, testable property 1).
func (v *Vault) Verify(ctx context.Context, evidenceID string) (domain.IntegrityStatus, error) {
	var row evidenceRow
	if err := v.db.DB.GetContext(ctx, &row,
		`SELECT id, storage_path, digest, integrity FROM evidence_items WHERE id=$1`, evidenceID); err != nil {
		return domain.IntegrityUnknown, errors.NotFound("evidence", evidenceID)
	}

	data, err := os.ReadFile(row.StoragePath)
	if err != nil {
		status := domain.IntegrityCorrupted
		_ = v.setIntegrity(ctx, evidenceID, status)
		return status, nil
	}

	sum := sha256.Sum256(data)
	recomputed := hex.EncodeToString(sum[:])

	status := domain.IntegrityVerified
	if subtle.ConstantTimeCompare([]byte(recomputed), []byte(row.Digest)) != 1 {
		status = domain.IntegrityTampered
	}
	v.logger.LogCryptoOperation(ctx, "sha256_verify", status == domain.IntegrityVerified, nil)
	if status == domain.IntegrityTampered {
		v.logger.LogSecurityEvent(ctx, "evidence_tampered", map[string]interface{}{"evidence_id": evidenceID})
	}
	if err := v.setIntegrity(ctx, evidenceID, status); err != nil {
		return status, err
	}
	return status, nil
}

func (v *Vault) setIntegrity(ctx context.Context, evidenceID string, status domain.IntegrityStatus) error {
	_, err := v.db.DB.ExecContext(ctx, `UPDATE evidence_items SET integrity=$1 WHERE id=$2`, string(status), evidenceID)
	return err
}

// Backup copies the evidence file to destination and records the backup
// count; failures here never invalidate the primary copy (spec §4.5
// failure semantics).
func (v *Vault) Backup(ctx context.Context, evidenceID, destination string) (bool, error) {
	var row evidenceRow
	if err := v.db.DB.GetContext(ctx, &row,
		`SELECT id, storage_path, digest, integrity FROM evidence_items WHERE id=$1`, evidenceID); err != nil {
		return false, errors.NotFound("evidence", evidenceID)
	}

	data, err := os.ReadFile(row.StoragePath)
	if err != nil {
		v.logger.WithError(err).WithFields(map[string]interface{}{"evidence_id": evidenceID}).
			Warn("backup read failed, primary copy unaffected")
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(destination), 0o750); err != nil {
		return false, nil
	}
	if err := os.WriteFile(destination, data, 0o640); err != nil {
		v.logger.WithError(err).WithFields(map[string]interface{}{"evidence_id": evidenceID, "destination": destination}).
			Warn("backup write failed, primary copy unaffected")
		return false, nil
	}

	_, err = v.db.DB.ExecContext(ctx, `UPDATE evidence_items SET backup_count = backup_count + 1 WHERE id=$1`, evidenceID)
	return err == nil, err
}

type custodyRow struct {
	Seq       int       `db:"seq"`
	Actor     string    `db:"actor"`
	Action    string    `db:"action"`
	Timestamp time.Time `db:"timestamp"`
	Location  string    `db:"location"`
	Notes     string    `db:"notes"`
	PrevHash  string    `db:"prev_hash"`
	EntryHash string    `db:"entry_hash"`
}

// AppendCustody appends a chain-of-custody entry, rejecting the append if
// entry.PrevHash (when supplied by the caller) does not match the current
// head hash (spec §4.5, scenario E5). When entry.PrevHash is empty, the
// current head is resolved and used automatically.
func (v *Vault) AppendCustody(ctx context.Context, evidenceID string, entry domain.CustodyEntry) error {
	err := v.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		var head custodyRow
		err := tx.GetContext(ctx, &head,
			`SELECT seq, entry_hash FROM custody_entries WHERE evidence_id=$1 ORDER BY seq DESC LIMIT 1`, evidenceID)
		if err != nil {
			return errors.NotFound("evidence custody chain", evidenceID)
		}

		if entry.PrevHash != "" && entry.PrevHash != head.EntryHash {
			return errors.Conflict(fmt.Sprintf("custody append rejected: prev_hash %s does not match current head %s", entry.PrevHash, head.EntryHash))
		}

		entry.PrevHash = head.EntryHash
		entry.EntryHash = hashCustodyEntry(entry, head.EntryHash)

		_, err = tx.ExecContext(ctx,
			`INSERT INTO custody_entries (evidence_id, actor, action, timestamp, location, notes, prev_hash, entry_hash, seq)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			evidenceID, entry.Actor, string(entry.Action), entry.Timestamp, entry.Location, entry.Notes, entry.PrevHash, entry.EntryHash, head.Seq+1)
		return err
	})

	result := "success"
	if err != nil {
		result = "failure"
	}
	v.logger.LogAudit(ctx, string(entry.Action), "evidence_custody", evidenceID, result)
	return err
}

// GetCustody returns the ordered chain-of-custody entries for an evidence
// item.
func (v *Vault) GetCustody(ctx context.Context, evidenceID string) ([]domain.CustodyEntry, error) {
	var rows []custodyRow
	if err := v.db.DB.SelectContext(ctx, &rows,
		`SELECT seq, actor, action, timestamp, location, notes, prev_hash, entry_hash
		 FROM custody_entries WHERE evidence_id=$1 ORDER BY seq`, evidenceID); err != nil {
		return nil, fmt.Errorf("load custody chain: %w", err)
	}

	entries := make([]domain.CustodyEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, domain.CustodyEntry{
			Actor: r.Actor, Action: domain.CustodyAction(r.Action), Timestamp: r.Timestamp,
			Location: r.Location, Notes: r.Notes, PrevHash: r.PrevHash, EntryHash: r.EntryHash,
		})
	}
	return entries, nil
}

// VerifyCustodyChain recomputes every entry hash from genesis and compares
// the recomputed head against the stored head (spec §4.5, testable
// property 2).
func (v *Vault) VerifyCustodyChain(ctx context.Context, evidenceID string) (bool, error) {
	entries, err := v.GetCustody(ctx, evidenceID)
	if err != nil {
		return false, err
	}
	if len(entries) == 0 {
		return false, nil
	}

	prevHash := ""
	var recomputedHead string
	for _, e := range entries {
		recomputedHead = hashCustodyEntry(e, prevHash)
		if recomputedHead != e.EntryHash {
			return false, nil
		}
		prevHash = e.EntryHash
	}
	return recomputedHead == entries[len(entries)-1].EntryHash, nil
}

func marshalMetadata(metadata map[string]string) ([]byte, error) {
	if metadata == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(metadata)
}
