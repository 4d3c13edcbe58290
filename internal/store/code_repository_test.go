package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"referral-service/internal/apperr"
	"referral-service/pkg/models"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var codeColumnNames = []string{
	"id", "code", "user_id", "program_id", "status", "uses_count", "max_uses", "expires_at", "created_at", "updated_at",
}

func TestCodeRepositoryCreate(t *testing.T) {
	mock, s := newMockStore(t)

	maxUses := 5
	mock.ExpectQuery("INSERT INTO referral_codes").
		WithArgs("TEST-AAAA-BBBB", "user-1", int64(1), models.CodeStatusActive, 0, &maxUses,
			(*time.Time)(nil), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(10)))

	code := &models.ReferralCode{
		Code:      "TEST-AAAA-BBBB",
		UserID:    "user-1",
		ProgramID: 1,
		MaxUses:   &maxUses,
	}
	err := s.Code().Create(context.Background(), code)

	require.NoError(t, err)
	assert.Equal(t, int64(10), code.ID)
	assert.Equal(t, models.CodeStatusActive, code.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCodeRepositoryCreateValidation(t *testing.T) {
	mock, s := newMockStore(t)

	zero := 0
	err := s.Code().Create(context.Background(), &models.ReferralCode{Code: "X", MaxUses: &zero})
	assert.True(t, apperr.IsValidation(err))

	err = s.Code().Create(context.Background(), &models.ReferralCode{Code: "X", Status: "unknown"})
	assert.True(t, apperr.IsValidation(err))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCodeRepositoryCreateDuplicate(t *testing.T) {
	mock, s := newMockStore(t)

	mock.ExpectQuery("INSERT INTO referral_codes").
		WithArgs(anyArgs(9)...).
		WillReturnError(uniqueViolation())

	err := s.Code().Create(context.Background(), &models.ReferralCode{Code: "TEST-AAAA-BBBB", UserID: "u", ProgramID: 1})

	var ve *apperr.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "code", ve.Field)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCodeRepositoryGetByCode(t *testing.T) {
	mock, s := newMockStore(t)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	expires := now.Add(24 * time.Hour)
	maxUses := 3
	mock.ExpectQuery("FROM referral_codes WHERE code").
		WithArgs("TEST-AAAA-BBBB").
		WillReturnRows(pgxmock.NewRows(codeColumnNames).
			AddRow(int64(10), "TEST-AAAA-BBBB", "user-1", int64(1), models.CodeStatusActive, 2, &maxUses, &expires, now, now))

	code, err := s.Code().GetByCode(context.Background(), "TEST-AAAA-BBBB")

	require.NoError(t, err)
	assert.Equal(t, int64(10), code.ID)
	assert.Equal(t, 2, code.UsesCount)
	require.NotNil(t, code.MaxUses)
	assert.Equal(t, 3, *code.MaxUses)
	require.NotNil(t, code.ExpiresAt)
	assert.True(t, code.ExpiresAt.Equal(expires))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCodeRepositoryGetByCodeNotFound(t *testing.T) {
	mock, s := newMockStore(t)

	mock.ExpectQuery("FROM referral_codes WHERE code").
		WithArgs("NOPE").
		WillReturnRows(pgxmock.NewRows(codeColumnNames))

	_, err := s.Code().GetByCode(context.Background(), "NOPE")

	assert.True(t, errors.Is(err, apperr.ErrCodeNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCodeRepositoryGetByUser(t *testing.T) {
	mock, s := newMockStore(t)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := pgxmock.NewRows(codeColumnNames).
		AddRow(int64(1), "A-1111-1111", "user-1", int64(1), models.CodeStatusActive, 0, nil, nil, now, now).
		AddRow(int64(2), "A-2222-2222", "user-1", int64(1), models.CodeStatusInactive, 4, nil, nil, now, now)
	mock.ExpectQuery("WHERE user_id").WithArgs("user-1").WillReturnRows(rows)

	codes, err := s.Code().GetByUser(context.Background(), "user-1")

	require.NoError(t, err)
	require.Len(t, codes, 2)
	assert.Nil(t, codes[0].MaxUses)
	assert.Equal(t, models.CodeStatusInactive, codes[1].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCodeRepositoryExists(t *testing.T) {
	mock, s := newMockStore(t)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("TEST-AAAA-BBBB").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := s.Code().Exists(context.Background(), "TEST-AAAA-BBBB")

	require.NoError(t, err)
	assert.True(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCodeRepositoryIncrementUses(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{name: "увеличен", affected: 1, want: true},
		{name: "лимит исчерпан", affected: 0, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, s := newMockStore(t)

			mock.ExpectExec(`max_uses IS NULL OR uses_count < max_uses`).
				WithArgs(int64(10), pgxmock.AnyArg()).
				WillReturnResult(pgxmock.NewResult("UPDATE", tt.affected))

			ok, err := s.Code().IncrementUses(context.Background(), 10)

			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestCodeRepositoryUpdateStatus(t *testing.T) {
	mock, s := newMockStore(t)

	mock.ExpectExec("UPDATE referral_codes SET status").
		WithArgs(int64(10), models.CodeStatusActive, models.CodeStatusExpired, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE referral_codes SET status").
		WithArgs(int64(10), models.CodeStatusActive, models.CodeStatusExpired, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	changed, err := s.Code().UpdateStatus(context.Background(), 10, models.CodeStatusActive, models.CodeStatusExpired)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.Code().UpdateStatus(context.Background(), 10, models.CodeStatusActive, models.CodeStatusExpired)
	require.NoError(t, err)
	assert.False(t, changed)

	assert.NoError(t, mock.ExpectationsWereMet())
}
