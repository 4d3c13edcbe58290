package referral

import (
	"context"
	"errors"

	"referral-service/internal/apperr"
	"referral-service/internal/store"
	"referral-service/pkg/models"

	"go.uber.org/zap"
)

// CreateProgram создает новую реферальную программу
func (s *Service) CreateProgram(ctx context.Context, program *models.ReferralProgram) (*models.ReferralProgram, error) {
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		return tx.Program().Create(ctx, program)
	})
	if err != nil {
		return nil, err
	}
	return program, nil
}

// EnsureProgram создает программу, если программы с таким ключом еще нет.
// Существующая программа возвращается без изменений.
func (s *Service) EnsureProgram(ctx context.Context, program *models.ReferralProgram) (*models.ReferralProgram, error) {
	var result *models.ReferralProgram
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		existing, err := tx.Program().GetByKey(ctx, program.ProgramKey)
		if err == nil {
			result = existing
			return nil
		}
		if !errors.Is(err, apperr.ErrProgramNotFound) {
			return err
		}

		if err := tx.Program().Create(ctx, program); err != nil {
			return err
		}
		result = program
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SeedPrograms загружает каталог программ, пропуская уже существующие
func (s *Service) SeedPrograms(ctx context.Context, programs []*models.ReferralProgram) error {
	for _, program := range programs {
		seeded, err := s.EnsureProgram(ctx, program)
		if err != nil {
			return err
		}
		s.logger.Info("программа из каталога готова",
			zap.String("program_key", seeded.ProgramKey),
			zap.Int64("program_id", seeded.ID),
			zap.Bool("is_active", seeded.IsActive))
	}
	return nil
}

// DeactivateProgram отключает программу. Новые коды в ней не выпускаются.
func (s *Service) DeactivateProgram(ctx context.Context, programKey string) error {
	return s.store.WithTx(ctx, func(tx store.Store) error {
		return tx.Program().SetActive(ctx, programKey, false)
	})
}

// GetActivePrograms возвращает активные программы
func (s *Service) GetActivePrograms(ctx context.Context) ([]*models.ReferralProgram, error) {
	var programs []*models.ReferralProgram
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		var err error
		programs, err = tx.Program().GetActivePrograms(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return programs, nil
}

// DeactivateCode переводит код в inactive. Повторное отключение ничего не меняет,
// истекший код отключить нельзя.
func (s *Service) DeactivateCode(ctx context.Context, value string) error {
	return s.store.WithTx(ctx, func(tx store.Store) error {
		code, err := tx.Code().GetByCode(ctx, value)
		if err != nil {
			return err
		}

		switch code.Status {
		case models.CodeStatusInactive:
			return nil
		case models.CodeStatusExpired:
			return apperr.ErrCodeExpired
		}

		changed, err := tx.Code().UpdateStatus(ctx, code.ID, models.CodeStatusActive, models.CodeStatusInactive)
		if err != nil {
			return err
		}
		if !changed {
			// статус сменился параллельно
			current, err := tx.Code().GetByID(ctx, code.ID)
			if err != nil {
				return err
			}
			if current.Status == models.CodeStatusExpired {
				return apperr.ErrCodeExpired
			}
			return nil
		}

		s.logger.Info("реферальный код отключен", zap.String("code", value))
		return nil
	})
}

// GetUserCodes возвращает все коды пользователя
func (s *Service) GetUserCodes(ctx context.Context, userID string) ([]*models.ReferralCode, error) {
	var codes []*models.ReferralCode
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		var err error
		codes, err = tx.Code().GetByUser(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return codes, nil
}
