package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/stocklight/stocklight/internal/shared"
)

func TestNormalize(t *testing.T) {
	require.NoError(t, Normalize(nil))

	serialization := &pgconn.PgError{Code: "40001"}
	require.ErrorIs(t, Normalize(serialization), shared.ErrConcurrencyConflict)

	deadlock := fmt.Errorf("exec: %w", &pgconn.PgError{Code: "40P01"})
	require.ErrorIs(t, Normalize(deadlock), shared.ErrConcurrencyConflict)

	other := errors.New("connection refused")
	require.Equal(t, other, Normalize(other))

	unique := &pgconn.PgError{Code: "23505"}
	require.NotErrorIs(t, Normalize(unique), shared.ErrConcurrencyConflict)
}
