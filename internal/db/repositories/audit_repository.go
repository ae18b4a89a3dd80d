// audit_repository.go implements AuditRepository, providing the append-only
// audit_log table: inserts and lookups, never updates or deletes.
package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ai4hf/passport/internal/db"
	"github.com/ai4hf/passport/internal/db/models"
)

// AuditRepository handles audit log database operations
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

const auditColumns = `audit_log_id, person_id, person_name, study_id, occurred_at, action_type,
	affected_relation, affected_record_id, affected_record, description`

func scanAuditLog(row interface{ Scan(...any) error }) (*models.AuditLog, error) {
	var (
		e      models.AuditLog
		record []byte
	)
	err := row.Scan(&e.ID, &e.PersonID, &e.PersonName, &e.StudyID, &e.OccurredAt, &e.ActionType,
		&e.AffectedRelation, &e.AffectedRecordID, &record, &e.Description)
	if err != nil {
		return nil, err
	}
	e.AffectedRecord = record
	return &e, nil
}

// CreateAuditLog inserts a new audit entry. ID and OccurredAt are assigned
// when empty.
func (r *AuditRepository) CreateAuditLog(ctx context.Context, entry *models.AuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}
	record := []byte(entry.AffectedRecord)
	if len(record) == 0 {
		record = []byte("null")
	}

	query := `
		INSERT INTO audit_log (audit_log_id, person_id, person_name, study_id, occurred_at, action_type,
			affected_relation, affected_record_id, affected_record, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := db.Conn(ctx, r.db).ExecContext(ctx, query,
		entry.ID,
		entry.PersonID,
		entry.PersonName,
		entry.StudyID,
		entry.OccurredAt,
		string(entry.ActionType),
		entry.AffectedRelation,
		entry.AffectedRecordID,
		string(record),
		entry.Description,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

func (r *AuditRepository) list(ctx context.Context, query string, args ...any) ([]*models.AuditLog, error) {
	rows, err := db.Conn(ctx, r.db).QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var out []*models.AuditLog
	for rows.Next() {
		e, err := scanAuditLog(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// FindEntriesByIds returns the entries with the given ids, oldest first.
// Unknown ids are skipped.
func (r *AuditRepository) FindEntriesByIds(ctx context.Context, ids []string) ([]*models.AuditLog, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.list(ctx,
		`SELECT `+auditColumns+` FROM audit_log WHERE audit_log_id = ANY($1) ORDER BY occurred_at, audit_log_id`,
		pq.Array(ids))
}

// GetByID returns one entry, or nil, nil when absent.
func (r *AuditRepository) GetByID(ctx context.Context, id string) (*models.AuditLog, error) {
	entries, err := r.FindEntriesByIds(ctx, []string{id})
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return entries[0], nil
}

// ListByStudy pages through the entries of one study, newest first, and
// returns the total count.
func (r *AuditRepository) ListByStudy(ctx context.Context, studyID string, limit, offset int) ([]*models.AuditLog, int, error) {
	var total int
	if err := sqlx.GetContext(ctx, db.Conn(ctx, r.db), &total, `SELECT COUNT(*) FROM audit_log WHERE study_id = $1`, studyID); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit entries: %w", err)
	}
	entries, err := r.list(ctx,
		`SELECT `+auditColumns+` FROM audit_log WHERE study_id = $1 ORDER BY occurred_at DESC, audit_log_id LIMIT $2 OFFSET $3`,
		studyID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// ListByPassport returns the entries linked to a passport through the ledger book, oldest first.
func (r *AuditRepository) ListByPassport(ctx context.Context, passportID int64) ([]*models.AuditLog, error) {
	query := `
		SELECT a.audit_log_id, a.person_id, a.person_name, a.study_id, a.occurred_at, a.action_type,
			a.affected_relation, a.affected_record_id, a.affected_record, a.description
		FROM audit_log a
		JOIN audit_log_book b ON b.audit_log_id = a.audit_log_id
		WHERE b.passport_id = $1
		ORDER BY a.occurred_at, a.audit_log_id`
	return r.list(ctx, query, passportID)
}
