package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/smarttransit/afc-backend/internal/errs"
)

const pgUniqueViolation = "23505"

// IsUniqueViolation reports whether err is a PostgreSQL unique constraint violation
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// ConstraintName returns the violated constraint, if any
func ConstraintName(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}

// wrapWriteError maps duplicate keys onto conflicts and wraps everything else
func wrapWriteError(op string, err error) error {
	if IsUniqueViolation(err) {
		return errs.Conflict("duplicate", "%s: duplicate %s", op, ConstraintName(err))
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

// expectOneRow turns a zero-row optimistic update into a stale version error
func expectOneRow(res sql.Result, entity string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return errs.StaleVersion(entity)
	}
	return nil
}
