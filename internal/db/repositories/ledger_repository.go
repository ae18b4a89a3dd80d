// ledger_repository.go implements LedgerRepository, the many-to-many book that
// links audit entries to the passports whose documents they affect.
package repositories

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ai4hf/passport/internal/apperr"
	"github.com/ai4hf/passport/internal/db"
	"github.com/ai4hf/passport/internal/db/models"
)

// LedgerRepository handles audit_log_book database operations
type LedgerRepository struct {
	db *sqlx.DB
}

// NewLedgerRepository creates a new LedgerRepository
func NewLedgerRepository(db *sqlx.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Link records one link per passport for auditLogID. Existing links are
// left untouched. It returns the number of links created.
func (r *LedgerRepository) Link(ctx context.Context, passportIDs []int64, auditLogID string) (int64, error) {
	if len(passportIDs) == 0 {
		return 0, nil
	}
	query := `
		INSERT INTO audit_log_book (passport_id, audit_log_id)
		SELECT unnest($1::bigint[]), $2
		ON CONFLICT DO NOTHING`
	res, err := db.Conn(ctx, r.db).ExecContext(ctx, query, pq.Array(passportIDs), auditLogID)
	if err != nil {
		return 0, fmt.Errorf("failed to link audit entry: %w", err)
	}
	return res.RowsAffected()
}

// LinkStrict inserts a single link. An existing pair is a ConflictError.
func (r *LedgerRepository) LinkStrict(ctx context.Context, link models.LedgerLink) error {
	res, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO audit_log_book (passport_id, audit_log_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		link.PassportID, link.AuditLogID)
	if err != nil {
		return fmt.Errorf("failed to link audit entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.Conflict("audit_log_book", strconv.FormatInt(link.PassportID, 10)+":"+link.AuditLogID)
	}
	return nil
}

// FindLinksByPassport returns the links of one passport, oldest entry first.
func (r *LedgerRepository) FindLinksByPassport(ctx context.Context, passportID int64) ([]models.LedgerLink, error) {
	var out []models.LedgerLink
	query := `
		SELECT b.passport_id, b.audit_log_id
		FROM audit_log_book b
		JOIN audit_log a ON a.audit_log_id = b.audit_log_id
		WHERE b.passport_id = $1
		ORDER BY a.occurred_at, b.audit_log_id`
	if err := sqlx.SelectContext(ctx, db.Conn(ctx, r.db), &out, query, passportID); err != nil {
		return nil, fmt.Errorf("failed to find links: %w", err)
	}
	return out, nil
}

// FindLinksByAuditLogEntry returns the links of one audit entry ordered by passport.
func (r *LedgerRepository) FindLinksByAuditLogEntry(ctx context.Context, auditLogID string) ([]models.LedgerLink, error) {
	var out []models.LedgerLink
	query := `SELECT passport_id, audit_log_id FROM audit_log_book WHERE audit_log_id = $1 ORDER BY passport_id`
	if err := sqlx.SelectContext(ctx, db.Conn(ctx, r.db), &out, query, auditLogID); err != nil {
		return nil, fmt.Errorf("failed to find links: %w", err)
	}
	return out, nil
}

// CoveringPassports returns the passports an audit entry about
// (relation, recordID) must be linked to: passports of the same study, the
// passport whose deployment is the record, passports whose coverage holds
// the record, and the passport itself for passport entries.
func (r *LedgerRepository) CoveringPassports(ctx context.Context, studyID *string, relation, recordID string) ([]int64, error) {
	query := `
		SELECT passport_id FROM passport
		WHERE study_id = $1
		   OR ($2 = 'model_deployment' AND deployment_id = $3)
		   OR ($2 = 'passport' AND passport_id::text = $3)
		UNION
		SELECT passport_id FROM passport_coverage
		WHERE relation = $2 AND record_id = $3
		ORDER BY passport_id`
	var ids []int64
	if err := sqlx.SelectContext(ctx, db.Conn(ctx, r.db), &ids, query, studyID, relation, recordID); err != nil {
		return nil, fmt.Errorf("failed to find covering passports: %w", err)
	}
	return ids, nil
}

// Backfill links every existing audit entry that concerns scope to a newly
// created passport. It returns the number of links created.
func (r *LedgerRepository) Backfill(ctx context.Context, passportID int64, scope models.Scope) (int64, error) {
	query := `
		INSERT INTO audit_log_book (passport_id, audit_log_id)
		SELECT $1, audit_log_id FROM audit_log
		WHERE study_id = $2
		   OR (affected_relation = 'model_deployment' AND affected_record_id = $3)
		ON CONFLICT DO NOTHING`
	res, err := db.Conn(ctx, r.db).ExecContext(ctx, query, passportID, scope.StudyID, scope.DeploymentID)
	if err != nil {
		return 0, fmt.Errorf("failed to backfill ledger: %w", err)
	}
	return res.RowsAffected()
}
