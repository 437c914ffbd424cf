package db

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/stocklight/stocklight/internal/shared"
)

// SQLSTATE codes the service reacts to.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// Normalize maps PostgreSQL error codes onto the shared error taxonomy.
// Serialization failures and deadlocks become ErrConcurrencyConflict so
// callers can decide to retry; everything else passes through untouched.
func Normalize(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeSerializationFailure, codeDeadlockDetected:
			return errors.Join(shared.ErrConcurrencyConflict, err)
		}
	}
	return err
}
