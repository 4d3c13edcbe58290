package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"referral-service/internal/apperr"
	"referral-service/pkg/models"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const codeColumns = `id, code, user_id, program_id, status, uses_count, max_uses, expires_at, created_at, updated_at`

// PostgresCodeRepository реализует CodeRepository для PostgreSQL
type PostgresCodeRepository struct {
	db     DBTX
	logger *zap.Logger
}

// NewCodeRepository создает новый репозиторий кодов
func NewCodeRepository(db DBTX, logger *zap.Logger) CodeRepository {
	return &PostgresCodeRepository{
		db:     db,
		logger: logger,
	}
}

// Create создает новый реферальный код
func (r *PostgresCodeRepository) Create(ctx context.Context, code *models.ReferralCode) error {
	if code.Status == "" {
		code.Status = models.CodeStatusActive
	}
	if !code.Status.IsValid() {
		return apperr.NewValidationError("status", "unsupported code status")
	}
	if code.MaxUses != nil && *code.MaxUses < 1 {
		return apperr.NewValidationError("max_uses", "must be positive")
	}

	query := `
		INSERT INTO referral_codes (
			code, user_id, program_id, status, uses_count, max_uses, expires_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	now := time.Now().UTC()
	code.CreatedAt = now
	code.UpdatedAt = now

	err := r.db.QueryRow(ctx, query,
		code.Code,
		code.UserID,
		code.ProgramID,
		code.Status,
		code.UsesCount,
		code.MaxUses,
		code.ExpiresAt,
		code.CreatedAt,
		code.UpdatedAt,
	).Scan(&code.ID)

	if err != nil {
		if isUniqueViolation(err) {
			return apperr.NewValidationError("code", "already exists")
		}
		return fmt.Errorf("ошибка создания реферального кода: %w", err)
	}

	return nil
}

// GetByID получает код по ID
func (r *PostgresCodeRepository) GetByID(ctx context.Context, id int64) (*models.ReferralCode, error) {
	query := `SELECT ` + codeColumns + ` FROM referral_codes WHERE id = $1`

	code, err := scanCode(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrCodeNotFound
		}
		return nil, fmt.Errorf("ошибка получения кода по ID: %w", err)
	}

	return code, nil
}

// GetByCode получает код по строке кода
func (r *PostgresCodeRepository) GetByCode(ctx context.Context, value string) (*models.ReferralCode, error) {
	query := `SELECT ` + codeColumns + ` FROM referral_codes WHERE code = $1`

	code, err := scanCode(r.db.QueryRow(ctx, query, value))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrCodeNotFound
		}
		return nil, fmt.Errorf("ошибка получения кода: %w", err)
	}

	return code, nil
}

// GetByUser получает все коды пользователя
func (r *PostgresCodeRepository) GetByUser(ctx context.Context, userID string) ([]*models.ReferralCode, error) {
	query := `
		SELECT ` + codeColumns + `
		FROM referral_codes
		WHERE user_id = $1
		ORDER BY created_at ASC, id ASC`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения кодов пользователя: %w", err)
	}
	defer rows.Close()

	var codes []*models.ReferralCode
	for rows.Next() {
		code, err := scanCode(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования кода: %w", err)
		}
		codes = append(codes, code)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения кодов: %w", err)
	}

	return codes, nil
}

// Exists проверяет, занята ли строка кода
func (r *PostgresCodeRepository) Exists(ctx context.Context, value string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM referral_codes WHERE code = $1)`

	var exists bool
	if err := r.db.QueryRow(ctx, query, value).Scan(&exists); err != nil {
		return false, fmt.Errorf("ошибка проверки кода: %w", err)
	}

	return exists, nil
}

// IncrementUses атомарно увеличивает счетчик использований.
// Возвращает false, если кода нет или лимит max_uses уже достигнут.
func (r *PostgresCodeRepository) IncrementUses(ctx context.Context, id int64) (bool, error) {
	query := `
		UPDATE referral_codes
		SET uses_count = uses_count + 1, updated_at = $2
		WHERE id = $1 AND (max_uses IS NULL OR uses_count < max_uses)`

	result, err := r.db.Exec(ctx, query, id, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("ошибка увеличения счетчика использований: %w", err)
	}

	if result.RowsAffected() == 0 {
		r.logger.Warn("счетчик использований не увеличен", zap.Int64("code_id", id))
		return false, nil
	}

	return true, nil
}

// UpdateStatus переводит код из статуса from в статус to.
// Возвращает false, если код не находился в статусе from.
func (r *PostgresCodeRepository) UpdateStatus(ctx context.Context, id int64, from, to models.CodeStatus) (bool, error) {
	query := `UPDATE referral_codes SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`

	result, err := r.db.Exec(ctx, query, id, from, to, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("ошибка обновления статуса кода: %w", err)
	}

	changed := result.RowsAffected() > 0
	if changed {
		r.logger.Info("статус кода обновлен",
			zap.Int64("code_id", id),
			zap.String("from", string(from)),
			zap.String("to", string(to)))
	}

	return changed, nil
}

func scanCode(row scanner) (*models.ReferralCode, error) {
	code := &models.ReferralCode{}
	err := row.Scan(
		&code.ID,
		&code.Code,
		&code.UserID,
		&code.ProgramID,
		&code.Status,
		&code.UsesCount,
		&code.MaxUses,
		&code.ExpiresAt,
		&code.CreatedAt,
		&code.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return code, nil
}
