package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"referral-service/internal/config"
	"referral-service/pkg/models"

	"github.com/jackc/pgerrcode"
	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// DBTX общий интерфейс пула и транзакции, через который работают репозитории
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Pool пул подключений, умеющий открывать транзакции
type Pool interface {
	DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Store представляет интерфейс для работы с базой данных.
// Store, полученный внутри WithTx, привязан к транзакции.
type Store interface {
	Program() ProgramRepository
	Code() CodeRepository
	Tracking() TrackingRepository
	Payout() PayoutRepository
	WithTx(ctx context.Context, fn func(tx Store) error) error
	Ping(ctx context.Context) error
	Close() error
}

// ProgramRepository интерфейс для работы с реферальными программами
type ProgramRepository interface {
	Create(ctx context.Context, program *models.ReferralProgram) error
	GetByID(ctx context.Context, id int64) (*models.ReferralProgram, error)
	GetByKey(ctx context.Context, key string) (*models.ReferralProgram, error)
	GetActivePrograms(ctx context.Context) ([]*models.ReferralProgram, error)
	SetActive(ctx context.Context, key string, active bool) error
}

// CodeRepository интерфейс для работы с реферальными кодами
type CodeRepository interface {
	Create(ctx context.Context, code *models.ReferralCode) error
	GetByID(ctx context.Context, id int64) (*models.ReferralCode, error)
	GetByCode(ctx context.Context, code string) (*models.ReferralCode, error)
	GetByUser(ctx context.Context, userID string) ([]*models.ReferralCode, error)
	Exists(ctx context.Context, code string) (bool, error)
	IncrementUses(ctx context.Context, id int64) (bool, error)
	UpdateStatus(ctx context.Context, id int64, from, to models.CodeStatus) (bool, error)
}

// TrackingRepository интерфейс для работы с конверсиями
type TrackingRepository interface {
	Create(ctx context.Context, tracking *models.ReferralTracking) error
	GetByID(ctx context.Context, id int64) (*models.ReferralTracking, error)
	GetByReferrer(ctx context.Context, userID string) ([]*models.ReferralTracking, error)
	GetByCodeAndTransaction(ctx context.Context, codeID int64, transactionID string) (*models.ReferralTracking, error)
	GetUserEarnings(ctx context.Context, userID string) (*models.UserEarnings, error)
	UpdatePayoutStatus(ctx context.Context, id int64, status models.PayoutStatus) error
}

// PayoutRepository интерфейс для работы с выплатами
type PayoutRepository interface {
	Create(ctx context.Context, payout *models.Payout) error
	GetByID(ctx context.Context, id int64) (*models.Payout, error)
	GetByTrackingID(ctx context.Context, trackingID int64) (*models.Payout, error)
	ListByStatus(ctx context.Context, status models.PayoutStatus, limit int) ([]*models.Payout, error)
	MarkAsProcessing(ctx context.Context, id int64) (*models.Payout, error)
	MarkAsPaid(ctx context.Context, id int64, externalTransactionID string) (*models.Payout, error)
	MarkAsFailed(ctx context.Context, id int64, reason string) (*models.Payout, error)
}

// store реализует интерфейс Store
type store struct {
	pool   Pool
	db     DBTX
	inTx   bool
	logger *zap.Logger

	program  ProgramRepository
	code     CodeRepository
	tracking TrackingRepository
	payout   PayoutRepository
}

// NewStore создает новое подключение к базе данных
func NewStore(cfg *config.Config, logger *zap.Logger) (Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Создание пула подключений
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга DSN: %w", err)
	}

	// Настройка пула
	poolConfig.MaxConns = cfg.Database.MaxConns
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	// NUMERIC <-> decimal.Decimal
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	db, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к базе данных: %w", err)
	}

	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ошибка проверки подключения к базе данных: %w", err)
	}

	logger.Info("успешное подключение к базе данных PostgreSQL")

	return New(db, logger), nil
}

// New создает Store поверх готового пула
func New(pool Pool, logger *zap.Logger) Store {
	s := &store{
		pool:   pool,
		logger: logger,
	}
	s.bind(pool)
	return s
}

// bind инициализирует репозитории поверх пула или транзакции
func (s *store) bind(db DBTX) {
	s.db = db
	s.program = NewProgramRepository(db, s.logger)
	s.code = NewCodeRepository(db, s.logger)
	s.tracking = NewTrackingRepository(db, s.logger)
	s.payout = NewPayoutRepository(db, s.logger)
}

// Program возвращает репозиторий программ
func (s *store) Program() ProgramRepository {
	return s.program
}

// Code возвращает репозиторий кодов
func (s *store) Code() CodeRepository {
	return s.code
}

// Tracking возвращает репозиторий конверсий
func (s *store) Tracking() TrackingRepository {
	return s.tracking
}

// Payout возвращает репозиторий выплат
func (s *store) Payout() PayoutRepository {
	return s.payout
}

// WithTx выполняет fn в одной транзакции. Ошибка fn откатывает транзакцию.
// Вложенный вызов переиспользует уже открытую транзакцию.
func (s *store) WithTx(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}

	txStore := &store{pool: s.pool, inTx: true, logger: s.logger}
	txStore.bind(tx)

	if err := fn(txStore); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Error("ошибка отката транзакции", zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}

	return nil
}

// Ping проверяет подключение к базе данных
func (s *store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close закрывает подключение к базе данных
func (s *store) Close() error {
	s.logger.Info("закрытие подключения к базе данных")
	s.pool.Close()
	return nil
}

// scanner общий интерфейс pgx.Row и pgx.Rows
type scanner interface {
	Scan(dest ...any) error
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
