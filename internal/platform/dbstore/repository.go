package dbstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Queryer is satisfied by both *sqlx.DB and *sqlx.Tx, letting repository
// helpers run inside or outside an explicit transaction interchangeably.
type Queryer interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// GetByID scans a single row matching "id" into dest. Returns a NotFoundError
// wrapping ErrNotFound when no row matches.
func GetByID(ctx context.Context, q Queryer, dest interface{}, table, idColumn, id string) error {
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s = $1", table, idColumn)
	if err := q.GetContext(ctx, dest, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return NewNotFoundError(table, id)
		}
		return fmt.Errorf("get %s by %s: %w", table, idColumn, err)
	}
	return nil
}

// InsertNamed inserts a row using a named-parameter query built from the
// struct's `db` tags and returns the inserted row via RETURNING *.
func InsertNamed(ctx context.Context, q Queryer, dest interface{}, table string, columns []string) error {
	placeholders := make([]string, len(columns))
	for i, col := range columns {
		placeholders[i] = ":" + col
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) RETURNING *",
		table, joinColumns(columns), joinColumns(placeholders),
	)

	rows, err := sqlx.NamedQueryContext(ctx, q, query, dest)
	if err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	defer rows.Close()

	if rows.Next() {
		if err := rows.StructScan(dest); err != nil {
			return fmt.Errorf("scan inserted %s: %w", table, err)
		}
	}
	return rows.Err()
}

// UpdateNamed updates a row by ID using a named-parameter query built from
// the struct's `db` tags, returning the updated row via RETURNING *.
func UpdateNamed(ctx context.Context, q Queryer, dest interface{}, table, idColumn string, columns []string) error {
	sets := make([]string, len(columns))
	for i, col := range columns {
		sets[i] = fmt.Sprintf("%s = :%s", col, col)
	}

	query := fmt.Sprintf(
		"UPDATE %s SET %s WHERE %s = :%s RETURNING *",
		table, joinColumns(sets), idColumn, idColumn,
	)

	rows, err := sqlx.NamedQueryContext(ctx, q, query, dest)
	if err != nil {
		return fmt.Errorf("update %s: %w", table, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return NewNotFoundError(table, "")
	}
	if err := rows.StructScan(dest); err != nil {
		return fmt.Errorf("scan updated %s: %w", table, err)
	}
	return rows.Err()
}

// DeleteByID removes a row matching "id". Returns ErrNotFound if no row
// matched.
func DeleteByID(ctx context.Context, q Queryer, table, idColumn, id string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", table, idColumn)
	result, err := q.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete %s: %w", table, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s: %w", table, err)
	}
	if affected == 0 {
		return NewNotFoundError(table, id)
	}
	return nil
}

func joinColumns(cols []string) string {
	result := ""
	for i, c := range cols {
		if i > 0 {
			result += ", "
		}
		result += c
	}
	return result
}
