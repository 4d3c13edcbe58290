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

var payoutColumnNames = []string{
	"id", "user_id", "tracking_id", "amount", "currency", "status", "adapter_type", "recipient_data",
	"external_transaction_id", "failure_reason", "processed_at", "created_at", "updated_at",
}

func payoutRows(id int64, status models.PayoutStatus, externalID *string) *pgxmock.Rows {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var processedAt *time.Time
	if status.IsTerminal() {
		processedAt = &now
	}
	return pgxmock.NewRows(payoutColumnNames).AddRow(id, "referrer", int64(100),
		decimal.RequireFromString("10.00"), "USD", status, "manual",
		models.RecipientData{"account_holder_name": "Ivan"}, externalID, nil, processedAt, now, now)
}

func strPtr(s string) *string {
	return &s
}

func TestPayoutRepositoryCreate(t *testing.T) {
	mock, s := newMockStore(t)

	recipient := models.RecipientData{"account_holder_name": "Ivan", "bank_account_number": "40817"}
	mock.ExpectQuery("INSERT INTO payouts").
		WithArgs("referrer", int64(100), pgxmock.AnyArg(), "USD", models.PayoutStatusPending, "manual",
			recipient, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(5)))

	payout := &models.Payout{
		UserID:        "referrer",
		TrackingID:    100,
		Amount:        decimal.RequireFromString("10.00"),
		Currency:      "USD",
		AdapterType:   "manual",
		RecipientData: recipient,
	}
	err := s.Payout().Create(context.Background(), payout)

	require.NoError(t, err)
	assert.Equal(t, int64(5), payout.ID)
	assert.Equal(t, models.PayoutStatusPending, payout.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPayoutRepositoryCreateSecondForTracking(t *testing.T) {
	mock, s := newMockStore(t)

	mock.ExpectQuery("INSERT INTO payouts").
		WithArgs(anyArgs(9)...).
		WillReturnError(uniqueViolation())

	err := s.Payout().Create(context.Background(), &models.Payout{
		UserID:      "referrer",
		TrackingID:  100,
		Amount:      decimal.RequireFromString("10.00"),
		Currency:    "USD",
		AdapterType: "manual",
	})

	var ve *apperr.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "tracking_id", ve.Field)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPayoutRepositoryCreateRejectsNonPositiveAmount(t *testing.T) {
	mock, s := newMockStore(t)

	err := s.Payout().Create(context.Background(), &models.Payout{UserID: "referrer", TrackingID: 1})

	assert.True(t, apperr.IsValidation(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPayoutRepositoryGetByTrackingIDNotFound(t *testing.T) {
	mock, s := newMockStore(t)

	mock.ExpectQuery("FROM payouts WHERE tracking_id").
		WithArgs(int64(404)).
		WillReturnRows(pgxmock.NewRows(payoutColumnNames))

	_, err := s.Payout().GetByTrackingID(context.Background(), 404)

	assert.True(t, errors.Is(err, apperr.ErrPayoutNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPayoutRepositoryMarkAsPaid(t *testing.T) {
	mock, s := newMockStore(t)

	mock.ExpectQuery("SET status = 'paid'").
		WithArgs(int64(5), "ext-1", pgxmock.AnyArg()).
		WillReturnRows(payoutRows(5, models.PayoutStatusPaid, strPtr("ext-1")))

	payout, err := s.Payout().MarkAsPaid(context.Background(), 5, "ext-1")

	require.NoError(t, err)
	assert.Equal(t, models.PayoutStatusPaid, payout.Status)
	require.NotNil(t, payout.ExternalTransactionID)
	assert.Equal(t, "ext-1", *payout.ExternalTransactionID)
	assert.NotNil(t, payout.ProcessedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPayoutRepositoryMarkAsPaidIdempotent(t *testing.T) {
	mock, s := newMockStore(t)

	mock.ExpectQuery("SET status = 'paid'").
		WithArgs(int64(5), "ext-1", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(payoutColumnNames))
	mock.ExpectQuery("FROM payouts WHERE id").
		WithArgs(int64(5)).
		WillReturnRows(payoutRows(5, models.PayoutStatusPaid, strPtr("ext-1")))

	payout, err := s.Payout().MarkAsPaid(context.Background(), 5, "ext-1")

	require.NoError(t, err)
	assert.Equal(t, models.PayoutStatusPaid, payout.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPayoutRepositoryMarkAsPaidConflicts(t *testing.T) {
	tests := []struct {
		name       string
		status     models.PayoutStatus
		externalID *string
	}{
		{name: "оплачена с другим ID", status: models.PayoutStatusPaid, externalID: strPtr("ext-other")},
		{name: "неудачная выплата", status: models.PayoutStatusFailed, externalID: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, s := newMockStore(t)

			mock.ExpectQuery("SET status = 'paid'").
				WithArgs(int64(5), "ext-1", pgxmock.AnyArg()).
				WillReturnRows(pgxmock.NewRows(payoutColumnNames))
			mock.ExpectQuery("FROM payouts WHERE id").
				WithArgs(int64(5)).
				WillReturnRows(payoutRows(5, tt.status, tt.externalID))

			_, err := s.Payout().MarkAsPaid(context.Background(), 5, "ext-1")

			assert.True(t, errors.Is(err, apperr.ErrPayoutAlreadyProcessed))
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPayoutRepositoryMarkAsPaidNotFound(t *testing.T) {
	mock, s := newMockStore(t)

	mock.ExpectQuery("SET status = 'paid'").
		WithArgs(int64(404), "ext-1", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(payoutColumnNames))
	mock.ExpectQuery("FROM payouts WHERE id").
		WithArgs(int64(404)).
		WillReturnRows(pgxmock.NewRows(payoutColumnNames))

	_, err := s.Payout().MarkAsPaid(context.Background(), 404, "ext-1")

	assert.True(t, errors.Is(err, apperr.ErrPayoutNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPayoutRepositoryMarkAsFailed(t *testing.T) {
	mock, s := newMockStore(t)

	mock.ExpectQuery("SET status = 'failed'").
		WithArgs(int64(5), "card declined", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(payoutColumnNames))
	mock.ExpectQuery("FROM payouts WHERE id").
		WithArgs(int64(5)).
		WillReturnRows(payoutRows(5, models.PayoutStatusPaid, strPtr("ext-1")))

	_, err := s.Payout().MarkAsFailed(context.Background(), 5, "card declined")

	assert.True(t, errors.Is(err, apperr.ErrPayoutAlreadyProcessed))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPayoutRepositoryMarkAsProcessingIdempotent(t *testing.T) {
	mock, s := newMockStore(t)

	mock.ExpectQuery("SET status = 'processing'").
		WithArgs(int64(5), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(payoutColumnNames))
	mock.ExpectQuery("FROM payouts WHERE id").
		WithArgs(int64(5)).
		WillReturnRows(payoutRows(5, models.PayoutStatusProcessing, nil))

	payout, err := s.Payout().MarkAsProcessing(context.Background(), 5)

	require.NoError(t, err)
	assert.Equal(t, models.PayoutStatusProcessing, payout.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPayoutRepositoryListByStatus(t *testing.T) {
	mock, s := newMockStore(t)

	mock.ExpectQuery("WHERE status = \\$1").
		WithArgs(models.PayoutStatusPending, 50).
		WillReturnRows(payoutRows(5, models.PayoutStatusPending, nil))

	payouts, err := s.Payout().ListByStatus(context.Background(), models.PayoutStatusPending, 50)

	require.NoError(t, err)
	require.Len(t, payouts, 1)
	assert.Equal(t, "Ivan", payouts[0].RecipientData["account_holder_name"])
	assert.NoError(t, mock.ExpectationsWereMet())
}
