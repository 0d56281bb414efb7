package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/garyjia/fleet-requests/internal/application/port"
	"github.com/garyjia/fleet-requests/internal/infrastructure/persistence/sqlite"
)

// isUniqueViolation reports whether err is a primary key or unique constraint failure
func isUniqueViolation(err error) bool {
	var sqlErr sqlite3.Error
	if !errors.As(err, &sqlErr) {
		return false
	}
	return sqlErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqlErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// wrapWrite maps constraint failures onto port.ErrDuplicate
func wrapWrite(err error, format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	if isUniqueViolation(err) {
		return fmt.Errorf("%s: %w", msg, port.ErrDuplicate)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// casFailure explains a versioned update that touched no row
func casFailure(ctx context.Context, exec sqlite.Executor, table, id string) error {
	var n int
	query := fmt.Sprintf("SELECT COUNT(1) FROM %s WHERE id = ?", table)
	if err := exec.QueryRowContext(ctx, query, id).Scan(&n); err != nil {
		return fmt.Errorf("failed to check %s %s: %w", table, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", table, id, port.ErrNotFound)
	}
	return fmt.Errorf("%s %s: %w", table, id, port.ErrVersionConflict)
}
