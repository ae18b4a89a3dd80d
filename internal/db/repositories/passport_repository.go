// passport_repository.go implements PassportRepository, persisting passports
// together with the coverage set of records their detail document includes.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ai4hf/passport/internal/apperr"
	"github.com/ai4hf/passport/internal/db"
	"github.com/ai4hf/passport/internal/db/models"
)

// PassportRepository handles passport database operations
type PassportRepository struct {
	db *sqlx.DB
}

// NewPassportRepository creates a new PassportRepository
func NewPassportRepository(db *sqlx.DB) *PassportRepository {
	return &PassportRepository{db: db}
}

// DB returns the underlying handle, for callers that need a transaction.
func (r *PassportRepository) DB() *sqlx.DB {
	return r.db
}

const passportColumns = `passport_id, study_id, deployment_id, created_at, created_by, approved_at, approved_by, details_document`

func scanPassport(row interface{ Scan(...any) error }) (*models.Passport, error) {
	var (
		p       models.Passport
		details string
	)
	if err := row.Scan(&p.ID, &p.StudyID, &p.DeploymentID, &p.CreatedAt, &p.CreatedBy, &p.ApprovedAt, &p.ApprovedBy, &details); err != nil {
		return nil, err
	}
	p.Details = []byte(details)
	return &p, nil
}

// Create inserts a new passport and its coverage. A passport already existing
// for the same scope is a ConflictError. ID and CreatedAt are filled in.
func (r *PassportRepository) Create(ctx context.Context, p *models.Passport, coverage []models.Coverage) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	return db.InTx(ctx, r.db, func(ctx context.Context) error {
		conn := db.Conn(ctx, r.db)
		query := `
			INSERT INTO passport (study_id, deployment_id, created_at, created_by, details_document)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (study_id, deployment_id) DO NOTHING
			RETURNING passport_id`
		err := conn.QueryRowxContext(ctx, query, p.StudyID, p.DeploymentID, p.CreatedAt, p.CreatedBy, string(p.Details)).Scan(&p.ID)
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.Conflict("passport", p.StudyID+":"+p.DeploymentID)
		}
		if err != nil {
			return fmt.Errorf("failed to insert passport: %w", err)
		}
		return replaceCoverage(ctx, conn, p.ID, coverage)
	})
}

// Upsert stores the passport for p's scope, replacing the detail document and
// coverage of an existing one. It reports whether a new row was inserted and
// refreshes p from the stored row.
func (r *PassportRepository) Upsert(ctx context.Context, p *models.Passport, coverage []models.Coverage) (bool, error) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	var inserted bool
	err := db.InTx(ctx, r.db, func(ctx context.Context) error {
		conn := db.Conn(ctx, r.db)
		query := `
			INSERT INTO passport (study_id, deployment_id, created_at, created_by, details_document)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (study_id, deployment_id) DO UPDATE SET details_document = EXCLUDED.details_document
				WHERE passport.approved_at IS NULL
			RETURNING passport_id, created_at, created_by, approved_at, approved_by, (xmax = 0) AS inserted`
		err := conn.QueryRowxContext(ctx, query, p.StudyID, p.DeploymentID, p.CreatedAt, p.CreatedBy, string(p.Details)).
			Scan(&p.ID, &p.CreatedAt, &p.CreatedBy, &p.ApprovedAt, &p.ApprovedBy, &inserted)
		if errors.Is(err, sql.ErrNoRows) {
			// The existing row is approved.
			return apperr.Conflict("approved passport", p.StudyID+":"+p.DeploymentID)
		}
		if err != nil {
			return fmt.Errorf("failed to upsert passport: %w", err)
		}
		return replaceCoverage(ctx, conn, p.ID, coverage)
	})
	return inserted, err
}

// ReplaceDocument swaps the detail document and coverage of passport id. It
// reports false when the passport does not exist and returns a ConflictError
// when it is approved.
func (r *PassportRepository) ReplaceDocument(ctx context.Context, id int64, details []byte, coverage []models.Coverage) (bool, error) {
	found := false
	err := db.InTx(ctx, r.db, func(ctx context.Context) error {
		conn := db.Conn(ctx, r.db)
		res, err := conn.ExecContext(ctx,
			`UPDATE passport SET details_document = $2 WHERE passport_id = $1 AND approved_at IS NULL`,
			id, string(details))
		if err != nil {
			return fmt.Errorf("failed to update passport: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			var exists bool
			err := conn.QueryRowxContext(ctx, `SELECT EXISTS (SELECT 1 FROM passport WHERE passport_id = $1)`, id).Scan(&exists)
			if err != nil {
				return fmt.Errorf("failed to check passport: %w", err)
			}
			if exists {
				return apperr.Conflict("approved passport", strconv.FormatInt(id, 10))
			}
			return nil
		}
		found = true
		return replaceCoverage(ctx, conn, id, coverage)
	})
	return found, err
}

// replaceCoverage rewrites the coverage set of a passport in one statement pair.
func replaceCoverage(ctx context.Context, conn sqlx.ExtContext, passportID int64, coverage []models.Coverage) error {
	if _, err := conn.ExecContext(ctx, `DELETE FROM passport_coverage WHERE passport_id = $1`, passportID); err != nil {
		return fmt.Errorf("failed to clear coverage: %w", err)
	}
	if len(coverage) == 0 {
		return nil
	}
	relations := make([]string, len(coverage))
	recordIDs := make([]string, len(coverage))
	for i, c := range coverage {
		relations[i] = c.Relation
		recordIDs[i] = c.RecordID
	}
	query := `
		INSERT INTO passport_coverage (passport_id, relation, record_id)
		SELECT $1, unnest($2::text[]), unnest($3::text[])
		ON CONFLICT DO NOTHING`
	if _, err := conn.ExecContext(ctx, query, passportID, pq.Array(relations), pq.Array(recordIDs)); err != nil {
		return fmt.Errorf("failed to write coverage: %w", err)
	}
	return nil
}

// GetByID retrieves a passport by id. It returns nil, nil when absent.
func (r *PassportRepository) GetByID(ctx context.Context, id int64) (*models.Passport, error) {
	row := db.Conn(ctx, r.db).QueryRowxContext(ctx, `SELECT `+passportColumns+` FROM passport WHERE passport_id = $1`, id)
	p, err := scanPassport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get passport: %w", err)
	}
	return p, nil
}

// GetByScope retrieves the passport of a (study, deployment) pair.
func (r *PassportRepository) GetByScope(ctx context.Context, scope models.Scope) (*models.Passport, error) {
	row := db.Conn(ctx, r.db).QueryRowxContext(ctx,
		`SELECT `+passportColumns+` FROM passport WHERE study_id = $1 AND deployment_id = $2`,
		scope.StudyID, scope.DeploymentID)
	p, err := scanPassport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get passport: %w", err)
	}
	return p, nil
}

// ListByStudy returns every passport of a study ordered by id.
func (r *PassportRepository) ListByStudy(ctx context.Context, studyID string) ([]*models.Passport, error) {
	rows, err := db.Conn(ctx, r.db).QueryxContext(ctx,
		`SELECT `+passportColumns+` FROM passport WHERE study_id = $1 ORDER BY passport_id`, studyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list passports: %w", err)
	}
	defer rows.Close()

	var out []*models.Passport
	for rows.Next() {
		p, err := scanPassport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan passport: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Approve records approval metadata unless the passport is already approved.
// It reports whether a row changed.
func (r *PassportRepository) Approve(ctx context.Context, id int64, by string, at time.Time) (bool, error) {
	res, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`UPDATE passport SET approved_at = $2, approved_by = $3 WHERE passport_id = $1 AND approved_at IS NULL`,
		id, at, by)
	if err != nil {
		return false, fmt.Errorf("failed to approve passport: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Delete removes a passport; links and coverage go with it through
// ON DELETE CASCADE. It reports whether the passport existed.
func (r *PassportRepository) Delete(ctx context.Context, id int64) (bool, error) {
	res, err := db.Conn(ctx, r.db).ExecContext(ctx, `DELETE FROM passport WHERE passport_id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete passport: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Coverage returns the persisted coverage set of a passport.
func (r *PassportRepository) Coverage(ctx context.Context, id int64) ([]models.Coverage, error) {
	var out []models.Coverage
	err := sqlx.SelectContext(ctx, db.Conn(ctx, r.db), &out,
		`SELECT relation, record_id FROM passport_coverage WHERE passport_id = $1 ORDER BY relation, record_id`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get coverage: %w", err)
	}
	return out, nil
}
