package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"referral-service/internal/apperr"
	"referral-service/pkg/models"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var trackingColumnNames = []string{
	"id", "referrer_user_id", "referred_user_id", "code_id", "program_id", "transaction_id",
	"transaction_amount", "amount_earned", "currency", "converted_at", "payout_status", "created_at",
}

func trackingRow(rows *pgxmock.Rows, id int64, referred string, convertedAt time.Time, status models.PayoutStatus) *pgxmock.Rows {
	txID := "tx-" + referred
	amount := decimal.RequireFromString("100.00")
	return rows.AddRow(id, "referrer", referred, int64(10), int64(1), &txID, &amount,
		decimal.RequireFromString("10.00"), "USD", convertedAt, status, convertedAt)
}

func TestTrackingRepositoryCreate(t *testing.T) {
	mock, s := newMockStore(t)

	txID := "tx-1"
	mock.ExpectQuery("INSERT INTO referral_trackings").
		WithArgs("referrer", "referred", int64(10), int64(1), &txID, (*decimal.Decimal)(nil),
			pgxmock.AnyArg(), "USD", pgxmock.AnyArg(), models.PayoutStatusPending, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(100)))

	tracking := &models.ReferralTracking{
		ReferrerUserID: "referrer",
		ReferredUserID: "referred",
		CodeID:         10,
		ProgramID:      1,
		TransactionID:  &txID,
		AmountEarned:   decimal.RequireFromString("10.00"),
		Currency:       "USD",
	}
	err := s.Tracking().Create(context.Background(), tracking)

	require.NoError(t, err)
	assert.Equal(t, int64(100), tracking.ID)
	assert.Equal(t, models.PayoutStatusPending, tracking.PayoutStatus)
	assert.False(t, tracking.ConvertedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTrackingRepositoryCreateDuplicateTransaction(t *testing.T) {
	mock, s := newMockStore(t)

	mock.ExpectQuery("INSERT INTO referral_trackings").
		WithArgs(anyArgs(11)...).
		WillReturnError(uniqueViolation())

	txID := "tx-1"
	err := s.Tracking().Create(context.Background(), &models.ReferralTracking{
		ReferrerUserID: "referrer",
		ReferredUserID: "referred",
		CodeID:         10,
		TransactionID:  &txID,
	})

	assert.True(t, errors.Is(err, apperr.ErrDuplicateConversion))
	assert.Equal(t, "duplicate_conversion", apperr.CodeOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTrackingRepositoryGetByReferrer(t *testing.T) {
	mock, s := newMockStore(t)

	newer := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	older := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := pgxmock.NewRows(trackingColumnNames)
	trackingRow(rows, 2, "second", newer, models.PayoutStatusPaid)
	trackingRow(rows, 1, "first", older, models.PayoutStatusPending)
	mock.ExpectQuery("ORDER BY converted_at DESC").WithArgs("referrer").WillReturnRows(rows)

	trackings, err := s.Tracking().GetByReferrer(context.Background(), "referrer")

	require.NoError(t, err)
	require.Len(t, trackings, 2)
	assert.Equal(t, "second", trackings[0].ReferredUserID)
	assert.Equal(t, models.PayoutStatusPaid, trackings[0].PayoutStatus)
	require.NotNil(t, trackings[1].TransactionAmount)
	assert.True(t, trackings[1].TransactionAmount.Equal(decimal.NewFromInt(100)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTrackingRepositoryGetByCodeAndTransactionNotFound(t *testing.T) {
	mock, s := newMockStore(t)

	mock.ExpectQuery("WHERE code_id = \\$1 AND transaction_id = \\$2").
		WithArgs(int64(10), "tx-1").
		WillReturnRows(pgxmock.NewRows(trackingColumnNames))

	_, err := s.Tracking().GetByCodeAndTransaction(context.Background(), 10, "tx-1")

	assert.True(t, errors.Is(err, apperr.ErrTrackingNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTrackingRepositoryGetUserEarnings(t *testing.T) {
	mock, s := newMockStore(t)

	mock.ExpectQuery("SUM").
		WithArgs("referrer").
		WillReturnRows(pgxmock.NewRows([]string{"pending", "paid"}).
			AddRow(decimal.RequireFromString("15.50"), decimal.RequireFromString("20.00")))

	earnings, err := s.Tracking().GetUserEarnings(context.Background(), "referrer")

	require.NoError(t, err)
	assert.Equal(t, "15.50", earnings.Pending.StringFixed(2))
	assert.Equal(t, "20.00", earnings.Paid.StringFixed(2))
	assert.Equal(t, "35.50", earnings.Total.StringFixed(2))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTrackingRepositoryUpdatePayoutStatus(t *testing.T) {
	mock, s := newMockStore(t)

	mock.ExpectExec("UPDATE referral_trackings SET payout_status").
		WithArgs(int64(100), models.PayoutStatusPaid).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE referral_trackings SET payout_status").
		WithArgs(int64(404), models.PayoutStatusPaid).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, s.Tracking().UpdatePayoutStatus(context.Background(), 100, models.PayoutStatusPaid))

	err := s.Tracking().UpdatePayoutStatus(context.Background(), 404, models.PayoutStatusPaid)
	assert.True(t, errors.Is(err, apperr.ErrTrackingNotFound))

	err = s.Tracking().UpdatePayoutStatus(context.Background(), 100, "bogus")
	assert.True(t, apperr.IsValidation(err))

	assert.NoError(t, mock.ExpectationsWereMet())
}
