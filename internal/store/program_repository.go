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

const programColumns = `id, program_key, name, reward_amount, reward_currency, reward_type,
		       is_active, adapter_type, adapter_config, created_at, updated_at`

// PostgresProgramRepository реализует ProgramRepository для PostgreSQL
type PostgresProgramRepository struct {
	db     DBTX
	logger *zap.Logger
}

// NewProgramRepository создает новый репозиторий программ
func NewProgramRepository(db DBTX, logger *zap.Logger) ProgramRepository {
	return &PostgresProgramRepository{
		db:     db,
		logger: logger,
	}
}

// Create создает новую реферальную программу
func (r *PostgresProgramRepository) Create(ctx context.Context, program *models.ReferralProgram) error {
	program.ApplyDefaults()
	if err := program.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO referral_programs (
			program_key, name, reward_amount, reward_currency, reward_type,
			is_active, adapter_type, adapter_config, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`

	now := time.Now().UTC()
	program.CreatedAt = now
	program.UpdatedAt = now

	err := r.db.QueryRow(ctx, query,
		program.ProgramKey,
		program.Name,
		program.RewardAmount,
		program.RewardCurrency,
		program.RewardType,
		program.IsActive,
		program.AdapterType,
		program.AdapterConfig,
		program.CreatedAt,
		program.UpdatedAt,
	).Scan(&program.ID)

	if err != nil {
		if isUniqueViolation(err) {
			return apperr.NewValidationError("program_key", "already exists")
		}
		return fmt.Errorf("ошибка создания программы: %w", err)
	}

	r.logger.Info("реферальная программа создана",
		zap.Int64("program_id", program.ID),
		zap.String("program_key", program.ProgramKey),
		zap.String("reward_type", string(program.RewardType)))

	return nil
}

// GetByID получает программу по ID
func (r *PostgresProgramRepository) GetByID(ctx context.Context, id int64) (*models.ReferralProgram, error) {
	query := `SELECT ` + programColumns + ` FROM referral_programs WHERE id = $1`

	program, err := scanProgram(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrProgramNotFound
		}
		return nil, fmt.Errorf("ошибка получения программы по ID: %w", err)
	}

	return program, nil
}

// GetByKey получает программу по ключу
func (r *PostgresProgramRepository) GetByKey(ctx context.Context, key string) (*models.ReferralProgram, error) {
	query := `SELECT ` + programColumns + ` FROM referral_programs WHERE program_key = $1`

	program, err := scanProgram(r.db.QueryRow(ctx, query, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrProgramNotFound
		}
		return nil, fmt.Errorf("ошибка получения программы по ключу: %w", err)
	}

	return program, nil
}

// GetActivePrograms получает активные программы в порядке создания
func (r *PostgresProgramRepository) GetActivePrograms(ctx context.Context) ([]*models.ReferralProgram, error) {
	query := `
		SELECT ` + programColumns + `
		FROM referral_programs
		WHERE is_active = TRUE
		ORDER BY created_at ASC, id ASC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения активных программ: %w", err)
	}
	defer rows.Close()

	var programs []*models.ReferralProgram
	for rows.Next() {
		program, err := scanProgram(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования программы: %w", err)
		}
		programs = append(programs, program)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения программ: %w", err)
	}

	return programs, nil
}

// SetActive включает или отключает программу
func (r *PostgresProgramRepository) SetActive(ctx context.Context, key string, active bool) error {
	query := `UPDATE referral_programs SET is_active = $2, updated_at = $3 WHERE program_key = $1`

	result, err := r.db.Exec(ctx, query, key, active, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("ошибка обновления статуса программы: %w", err)
	}

	if result.RowsAffected() == 0 {
		return apperr.ErrProgramNotFound
	}

	r.logger.Info("статус программы обновлен",
		zap.String("program_key", key),
		zap.Bool("is_active", active))
	return nil
}

func scanProgram(row scanner) (*models.ReferralProgram, error) {
	program := &models.ReferralProgram{}
	err := row.Scan(
		&program.ID,
		&program.ProgramKey,
		&program.Name,
		&program.RewardAmount,
		&program.RewardCurrency,
		&program.RewardType,
		&program.IsActive,
		&program.AdapterType,
		&program.AdapterConfig,
		&program.CreatedAt,
		&program.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return program, nil
}
