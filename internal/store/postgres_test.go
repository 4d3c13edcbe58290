package store

import (
	"context"
	"errors"
	"testing"

	"referral-service/internal/apperr"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newMockStore(t *testing.T) (pgxmock.PgxPoolIface, Store) {
	t.Helper()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	return mock, New(mock, zap.NewNop())
}

// anyArgs возвращает n произвольных аргументов для WithArgs
func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func uniqueViolation() error {
	return &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"}
}

func TestWithTxCommit(t *testing.T) {
	mock, s := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE referral_codes").
		WithArgs(int64(7), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err := s.WithTx(context.Background(), func(tx Store) error {
		ok, err := tx.Code().IncrementUses(context.Background(), 7)
		require.NoError(t, err)
		assert.True(t, ok)
		return nil
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxRollbackOnError(t *testing.T) {
	mock, s := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE referral_codes").
		WithArgs(int64(7), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := s.WithTx(context.Background(), func(tx Store) error {
		ok, err := tx.Code().IncrementUses(context.Background(), 7)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.ErrCodeUsesExhausted
		}
		return nil
	})

	assert.True(t, errors.Is(err, apperr.ErrCodeUsesExhausted))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxNestedReusesTransaction(t *testing.T) {
	mock, s := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectCommit()

	calls := 0
	err := s.WithTx(context.Background(), func(tx Store) error {
		return tx.WithTx(context.Background(), func(inner Store) error {
			calls++
			assert.Same(t, tx, inner)
			return nil
		})
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxBeginError(t *testing.T) {
	mock, s := newMockStore(t)

	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

	err := s.WithTx(context.Background(), func(tx Store) error {
		t.Fatal("fn must not be called")
		return nil
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(uniqueViolation()))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, isUniqueViolation(errors.New("boom")))
}

func TestStoreRepositoriesBound(t *testing.T) {
	_, s := newMockStore(t)

	assert.NotNil(t, s.Program())
	assert.NotNil(t, s.Code())
	assert.NotNil(t, s.Tracking())
	assert.NotNil(t, s.Payout())
}
