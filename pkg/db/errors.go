package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

const pgUniqueViolation = "23505"

// IsUniqueViolation reports whether the provided error references a unique
// violation. When constraintName is provided, the violated constraint must match.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code != pgUniqueViolation {
			return false
		}
		return constraintName == "" || pgErr.ConstraintName == constraintName
	}
	msg := err.Error()
	if constraintName != "" && strings.Contains(msg, constraintName) {
		return true
	}
	if strings.Contains(msg, "UNIQUE constraint failed") {
		return constraintName == ""
	}
	return constraintName == "" && strings.Contains(msg, "duplicate key value")
}
