package relations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/ai4hf/passport/internal/apperr"
	"github.com/ai4hf/passport/internal/db"
)

// Table describes how one relation is laid out in PostgreSQL. The table must
// have a unique constraint on (Left, Right) and a seq BIGSERIAL column that
// records insertion order.
type Table[P any] struct {
	Name  string
	Left  string
	Right string
	// Columns lists the payload columns in the order Values and Fields use.
	Columns []string
	// Values returns the payload column values for an insert.
	Values func(p P) []any
	// Fields returns scan destinations for the payload columns.
	Fields func(p *P) []any
}

// PostgresStore persists relations in one table. Queries run on the
// transaction carried by ctx when there is one.
type PostgresStore[L, R comparable, P any] struct {
	db    *sqlx.DB
	table Table[P]
}

// NewPostgresStore creates a store for table.
func NewPostgresStore[L, R comparable, P any](database *sqlx.DB, table Table[P]) *PostgresStore[L, R, P] {
	return &PostgresStore[L, R, P]{db: database, table: table}
}

func (s *PostgresStore[L, R, P]) Name() string { return s.table.Name }

func (s *PostgresStore[L, R, P]) insertColumns() (string, string) {
	cols := append([]string{s.table.Left, s.table.Right}, s.table.Columns...)
	marks := make([]string, len(cols))
	for i := range cols {
		marks[i] = fmt.Sprintf("$%d", i+1)
	}
	return strings.Join(cols, ", "), strings.Join(marks, ", ")
}

func (s *PostgresStore[L, R, P]) args(key Key[L, R], payload P) []any {
	return append([]any{key.Left, key.Right}, s.table.Values(payload)...)
}

func (s *PostgresStore[L, R, P]) Put(ctx context.Context, key Key[L, R], payload P) (bool, error) {
	cols, marks := s.insertColumns()

	updates := make([]string, 0, len(s.table.Columns))
	for _, c := range s.table.Columns {
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
	}
	if len(updates) == 0 {
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", s.table.Left, s.table.Left))
	}

	// xmax is zero only for a freshly inserted row version.
	query := fmt.Sprintf(
		`INSERT INTO %s (%s) VALUES (%s)
		ON CONFLICT (%s, %s) DO UPDATE SET %s
		RETURNING (xmax = 0) AS inserted`,
		s.table.Name, cols, marks, s.table.Left, s.table.Right, strings.Join(updates, ", "),
	)

	var inserted bool
	if err := db.Conn(ctx, s.db).QueryRowxContext(ctx, query, s.args(key, payload)...).Scan(&inserted); err != nil {
		return false, fmt.Errorf("failed to put %s %s: %w", s.table.Name, key, err)
	}
	return inserted, nil
}

func (s *PostgresStore[L, R, P]) Create(ctx context.Context, key Key[L, R], payload P) error {
	cols, marks := s.insertColumns()
	query := fmt.Sprintf(
		`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s, %s) DO NOTHING`,
		s.table.Name, cols, marks, s.table.Left, s.table.Right,
	)

	res, err := db.Conn(ctx, s.db).ExecContext(ctx, query, s.args(key, payload)...)
	if err != nil {
		return fmt.Errorf("failed to create %s %s: %w", s.table.Name, key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to create %s %s: %w", s.table.Name, key, err)
	}
	if n == 0 {
		return apperr.Conflict(s.table.Name, key.String())
	}
	return nil
}

func (s *PostgresStore[L, R, P]) selectColumns() string {
	return strings.Join(append([]string{s.table.Left, s.table.Right}, s.table.Columns...), ", ")
}

func (s *PostgresStore[L, R, P]) scan(row interface{ Scan(...any) error }) (Relation[L, R, P], error) {
	var rel Relation[L, R, P]
	dest := append([]any{&rel.Key.Left, &rel.Key.Right}, s.table.Fields(&rel.Payload)...)
	err := row.Scan(dest...)
	return rel, err
}

func (s *PostgresStore[L, R, P]) Get(ctx context.Context, key Key[L, R]) (*Relation[L, R, P], error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = $1 AND %s = $2`,
		s.selectColumns(), s.table.Name, s.table.Left, s.table.Right)

	rel, err := s.scan(db.Conn(ctx, s.db).QueryRowxContext(ctx, query, key.Left, key.Right))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s %s: %w", s.table.Name, key, err)
	}
	return &rel, nil
}

func (s *PostgresStore[L, R, P]) GetByLeft(ctx context.Context, left L) ([]Relation[L, R, P], error) {
	return s.list(ctx, s.table.Left, left)
}

func (s *PostgresStore[L, R, P]) GetByRight(ctx context.Context, right R) ([]Relation[L, R, P], error) {
	return s.list(ctx, s.table.Right, right)
}

func (s *PostgresStore[L, R, P]) list(ctx context.Context, column string, id any) ([]Relation[L, R, P], error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = $1 ORDER BY seq`,
		s.selectColumns(), s.table.Name, column)

	rows, err := db.Conn(ctx, s.db).QueryxContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", s.table.Name, err)
	}
	defer rows.Close()

	var out []Relation[L, R, P]
	for rows.Next() {
		rel, err := s.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", s.table.Name, err)
		}
		out = append(out, rel)
	}
	return out, rows.Err()
}

func (s *PostgresStore[L, R, P]) Delete(ctx context.Context, key Key[L, R]) (bool, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE %s = $1 AND %s = $2`,
		s.table.Name, s.table.Left, s.table.Right)

	res, err := db.Conn(ctx, s.db).ExecContext(ctx, query, key.Left, key.Right)
	if err != nil {
		return false, fmt.Errorf("failed to delete %s %s: %w", s.table.Name, key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to delete %s %s: %w", s.table.Name, key, err)
	}
	return n > 0, nil
}
