// Package storetest содержит реализацию store.Store в памяти для тестов сервисов.
package storetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"referral-service/internal/apperr"
	"referral-service/internal/store"
	"referral-service/pkg/models"

	"github.com/shopspring/decimal"
)

type state struct {
	nextID    int64
	programs  map[int64]models.ReferralProgram
	codes     map[int64]models.ReferralCode
	trackings map[int64]models.ReferralTracking
	payouts   map[int64]models.Payout
}

func newState() *state {
	return &state{
		programs:  map[int64]models.ReferralProgram{},
		codes:     map[int64]models.ReferralCode{},
		trackings: map[int64]models.ReferralTracking{},
		payouts:   map[int64]models.Payout{},
	}
}

func (st *state) clone() *state {
	c := newState()
	c.nextID = st.nextID
	for k, v := range st.programs {
		c.programs[k] = v
	}
	for k, v := range st.codes {
		c.codes[k] = v
	}
	for k, v := range st.trackings {
		c.trackings[k] = v
	}
	for k, v := range st.payouts {
		c.payouts[k] = v
	}
	return c
}

func (st *state) id() int64 {
	st.nextID++
	return st.nextID
}

// Store хранилище в памяти. WithTx работает на копии состояния и
// применяет ее только при успешном завершении fn.
type Store struct {
	mu   *sync.Mutex
	txMu *sync.Mutex
	st   *state
	inTx bool

	// FailIncrement заставляет IncrementUses вернуть false, как при гонке за последнее использование
	FailIncrement bool
	// Commits число успешно зафиксированных транзакций
	Commits int
	// Rollbacks число откаченных транзакций
	Rollbacks int
}

// New создает пустое хранилище
func New() *Store {
	return &Store{mu: &sync.Mutex{}, txMu: &sync.Mutex{}, st: newState()}
}

var _ store.Store = (*Store)(nil)

// Program возвращает репозиторий программ
func (s *Store) Program() store.ProgramRepository { return programRepo{s} }

// Code возвращает репозиторий кодов
func (s *Store) Code() store.CodeRepository { return codeRepo{s} }

// Tracking возвращает репозиторий конверсий
func (s *Store) Tracking() store.TrackingRepository { return trackingRepo{s} }

// Payout возвращает репозиторий выплат
func (s *Store) Payout() store.PayoutRepository { return payoutRepo{s} }

// WithTx выполняет fn на копии состояния. Транзакции выполняются по очереди.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Store) error) error {
	if s.inTx {
		return fn(s)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.st.clone()
	s.mu.Unlock()

	tx := &Store{mu: s.mu, txMu: s.txMu, st: snapshot, inTx: true, FailIncrement: s.FailIncrement}
	if err := fn(tx); err != nil {
		s.mu.Lock()
		s.Rollbacks++
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.st = snapshot
	s.Commits++
	s.mu.Unlock()
	return nil
}

// Ping всегда успешен
func (s *Store) Ping(ctx context.Context) error { return nil }

// Close ничего не делает
func (s *Store) Close() error { return nil }

// Codes возвращает все коды, для проверок в тестах
func (s *Store) Codes() []models.ReferralCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ReferralCode
	for _, c := range s.st.codes {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Trackings возвращает все конверсии, для проверок в тестах
func (s *Store) Trackings() []models.ReferralTracking {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ReferralTracking
	for _, t := range s.st.trackings {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type programRepo struct{ s *Store }

func (r programRepo) Create(ctx context.Context, p *models.ReferralProgram) error {
	p.ApplyDefaults()
	if err := p.Validate(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.st.programs {
		if existing.ProgramKey == p.ProgramKey {
			return apperr.NewValidationError("program_key", "already exists")
		}
	}
	now := time.Now().UTC()
	p.ID = r.s.st.id()
	p.CreatedAt, p.UpdatedAt = now, now
	r.s.st.programs[p.ID] = *p
	return nil
}

func (r programRepo) GetByID(ctx context.Context, id int64) (*models.ReferralProgram, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.st.programs[id]
	if !ok {
		return nil, apperr.ErrProgramNotFound
	}
	return &p, nil
}

func (r programRepo) GetByKey(ctx context.Context, key string) (*models.ReferralProgram, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.st.programs {
		if p.ProgramKey == key {
			return &p, nil
		}
	}
	return nil, apperr.ErrProgramNotFound
}

func (r programRepo) GetActivePrograms(ctx context.Context) ([]*models.ReferralProgram, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.ReferralProgram
	for _, p := range r.s.st.programs {
		if p.IsActive {
			p := p
			out = append(out, &p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r programRepo) SetActive(ctx context.Context, key string, active bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, p := range r.s.st.programs {
		if p.ProgramKey == key {
			p.IsActive = active
			r.s.st.programs[id] = p
			return nil
		}
	}
	return apperr.ErrProgramNotFound
}

type codeRepo struct{ s *Store }

func (r codeRepo) Create(ctx context.Context, c *models.ReferralCode) error {
	if c.Status == "" {
		c.Status = models.CodeStatusActive
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.st.codes {
		if existing.Code == c.Code {
			return apperr.NewValidationError("code", "already exists")
		}
	}
	now := time.Now().UTC()
	c.ID = r.s.st.id()
	c.CreatedAt, c.UpdatedAt = now, now
	r.s.st.codes[c.ID] = *c
	return nil
}

func (r codeRepo) GetByID(ctx context.Context, id int64) (*models.ReferralCode, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.st.codes[id]
	if !ok {
		return nil, apperr.ErrCodeNotFound
	}
	return &c, nil
}

func (r codeRepo) GetByCode(ctx context.Context, value string) (*models.ReferralCode, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.st.codes {
		if c.Code == value {
			return &c, nil
		}
	}
	return nil, apperr.ErrCodeNotFound
}

func (r codeRepo) GetByUser(ctx context.Context, userID string) ([]*models.ReferralCode, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.ReferralCode
	for _, c := range r.s.st.codes {
		if c.UserID == userID {
			c := c
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r codeRepo) Exists(ctx context.Context, value string) (bool, error) {
	_, err := r.GetByCode(ctx, value)
	return err == nil, nil
}

func (r codeRepo) IncrementUses(ctx context.Context, id int64) (bool, error) {
	if r.s.FailIncrement {
		return false, nil
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.st.codes[id]
	if !ok || (c.MaxUses != nil && c.UsesCount >= *c.MaxUses) {
		return false, nil
	}
	c.UsesCount++
	r.s.st.codes[id] = c
	return true, nil
}

func (r codeRepo) UpdateStatus(ctx context.Context, id int64, from, to models.CodeStatus) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.st.codes[id]
	if !ok || c.Status != from {
		return false, nil
	}
	c.Status = to
	r.s.st.codes[id] = c
	return true, nil
}

type trackingRepo struct{ s *Store }

func (r trackingRepo) Create(ctx context.Context, t *models.ReferralTracking) error {
	if t.PayoutStatus == "" {
		t.PayoutStatus = models.PayoutStatusPending
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if t.TransactionID != nil {
		for _, existing := range r.s.st.trackings {
			if existing.CodeID == t.CodeID && existing.TransactionID != nil && *existing.TransactionID == *t.TransactionID {
				return apperr.ErrDuplicateConversion
			}
		}
	}
	now := time.Now().UTC()
	t.ID = r.s.st.id()
	if t.ConvertedAt.IsZero() {
		t.ConvertedAt = now
	}
	t.CreatedAt = now
	r.s.st.trackings[t.ID] = *t
	return nil
}

func (r trackingRepo) GetByID(ctx context.Context, id int64) (*models.ReferralTracking, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.st.trackings[id]
	if !ok {
		return nil, apperr.ErrTrackingNotFound
	}
	return &t, nil
}

func (r trackingRepo) GetByReferrer(ctx context.Context, userID string) ([]*models.ReferralTracking, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.ReferralTracking
	for _, t := range r.s.st.trackings {
		if t.ReferrerUserID == userID {
			t := t
			out = append(out, &t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConvertedAt.Equal(out[j].ConvertedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].ConvertedAt.After(out[j].ConvertedAt)
	})
	return out, nil
}

func (r trackingRepo) GetByCodeAndTransaction(ctx context.Context, codeID int64, transactionID string) (*models.ReferralTracking, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, t := range r.s.st.trackings {
		if t.CodeID == codeID && t.TransactionID != nil && *t.TransactionID == transactionID {
			return &t, nil
		}
	}
	return nil, apperr.ErrTrackingNotFound
}

func (r trackingRepo) GetUserEarnings(ctx context.Context, userID string) (*models.UserEarnings, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	pending, paid := decimal.Zero, decimal.Zero
	for _, t := range r.s.st.trackings {
		if t.ReferrerUserID != userID {
			continue
		}
		switch t.PayoutStatus {
		case models.PayoutStatusPending, models.PayoutStatusProcessing:
			pending = pending.Add(t.AmountEarned)
		case models.PayoutStatusPaid:
			paid = paid.Add(t.AmountEarned)
		}
	}
	return &models.UserEarnings{Total: pending.Add(paid), Pending: pending, Paid: paid}, nil
}

func (r trackingRepo) UpdatePayoutStatus(ctx context.Context, id int64, status models.PayoutStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.st.trackings[id]
	if !ok {
		return apperr.ErrTrackingNotFound
	}
	t.PayoutStatus = status
	r.s.st.trackings[id] = t
	return nil
}

type payoutRepo struct{ s *Store }

func (r payoutRepo) Create(ctx context.Context, p *models.Payout) error {
	if p.Status == "" {
		p.Status = models.PayoutStatusPending
	}
	if !p.Amount.IsPositive() {
		return apperr.NewValidationError("amount", "must be positive")
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.st.payouts {
		if existing.TrackingID == p.TrackingID {
			return apperr.NewValidationError("tracking_id", "payout already exists for this tracking")
		}
	}
	now := time.Now().UTC()
	p.ID = r.s.st.id()
	p.CreatedAt, p.UpdatedAt = now, now
	r.s.st.payouts[p.ID] = *p
	return nil
}

func (r payoutRepo) GetByID(ctx context.Context, id int64) (*models.Payout, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.st.payouts[id]
	if !ok {
		return nil, apperr.ErrPayoutNotFound
	}
	return &p, nil
}

func (r payoutRepo) GetByTrackingID(ctx context.Context, trackingID int64) (*models.Payout, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.st.payouts {
		if p.TrackingID == trackingID {
			return &p, nil
		}
	}
	return nil, apperr.ErrPayoutNotFound
}

func (r payoutRepo) ListByStatus(ctx context.Context, status models.PayoutStatus, limit int) ([]*models.Payout, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Payout
	for _, p := range r.s.st.payouts {
		if p.Status == status {
			p := p
			out = append(out, &p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r payoutRepo) MarkAsProcessing(ctx context.Context, id int64) (*models.Payout, error) {
	return r.transition(id, func(p *models.Payout) (bool, error) {
		switch p.Status {
		case models.PayoutStatusPending:
			p.Status = models.PayoutStatusProcessing
			return true, nil
		case models.PayoutStatusProcessing:
			return false, nil
		default:
			return false, apperr.ErrPayoutAlreadyProcessed
		}
	})
}

func (r payoutRepo) MarkAsPaid(ctx context.Context, id int64, externalID string) (*models.Payout, error) {
	if externalID == "" {
		return nil, apperr.NewValidationError("external_transaction_id", "required")
	}
	return r.transition(id, func(p *models.Payout) (bool, error) {
		if p.IsPaidWith(externalID) {
			return false, nil
		}
		if p.Status.IsTerminal() {
			return false, apperr.ErrPayoutAlreadyProcessed
		}
		now := time.Now().UTC()
		p.Status = models.PayoutStatusPaid
		p.ExternalTransactionID = &externalID
		p.ProcessedAt = &now
		return true, nil
	})
}

func (r payoutRepo) MarkAsFailed(ctx context.Context, id int64, reason string) (*models.Payout, error) {
	return r.transition(id, func(p *models.Payout) (bool, error) {
		switch p.Status {
		case models.PayoutStatusFailed:
			return false, nil
		case models.PayoutStatusPaid:
			return false, apperr.ErrPayoutAlreadyProcessed
		}
		now := time.Now().UTC()
		p.Status = models.PayoutStatusFailed
		p.FailureReason = &reason
		p.ProcessedAt = &now
		return true, nil
	})
}

func (r payoutRepo) transition(id int64, apply func(p *models.Payout) (bool, error)) (*models.Payout, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.st.payouts[id]
	if !ok {
		return nil, apperr.ErrPayoutNotFound
	}
	changed, err := apply(&p)
	if err != nil {
		return nil, err
	}
	if changed {
		p.UpdatedAt = time.Now().UTC()
		r.s.st.payouts[id] = p
	}
	return &p, nil
}
