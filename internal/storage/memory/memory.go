// Package memory реализует хранилище записей подписок в памяти процесса.
// Используется в тестах и при запуске без базы данных.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/magabrotheeeer/microanalysis-bot/internal/models"
)

// Storage хранит записи подписок и обработанные платежи.
type Storage struct {
	mu      sync.RWMutex
	records map[int64]models.SubscriptionRecord
	charges map[string]models.PaymentEvent
}

// New создаёт пустое хранилище.
func New() *Storage {
	return &Storage{
		records: make(map[int64]models.SubscriptionRecord),
		charges: make(map[string]models.PaymentEvent),
	}
}

// GetRecord возвращает копию записи пользователя или models.ErrNotFound.
func (s *Storage) GetRecord(ctx context.Context, userID int64) (*models.SubscriptionRecord, error) {
	const op = "storage.memory.GetRecord"
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[userID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	return cloneRecord(record), nil
}

// StartTrialIfAbsent фиксирует начало пробного периода, если оно ещё не записано.
func (s *Storage) StartTrialIfAbsent(ctx context.Context, userID int64, now time.Time) (bool, error) {
	const op = "storage.memory.StartTrialIfAbsent"
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record := s.records[userID]
	if record.TrialStartedAt != nil {
		return false, nil
	}
	record.UserID = userID
	started := now
	record.TrialStartedAt = &started
	s.records[userID] = record
	return true, nil
}

// GrantPremium безусловно перезаписывает момент оплаты.
func (s *Storage) GrantPremium(ctx context.Context, userID int64, now time.Time) error {
	const op = "storage.memory.GrantPremium"
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record := s.records[userID]
	record.UserID = userID
	since := now
	record.PremiumSince = &since
	s.records[userID] = record
	return nil
}

// RecordCharge запоминает идентификатор платежа, false если он уже был.
func (s *Storage) RecordCharge(ctx context.Context, event models.PaymentEvent, _ time.Time) (bool, error) {
	const op = "storage.memory.RecordCharge"
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.charges[event.ChargeReference]; ok {
		return false, nil
	}
	s.charges[event.ChargeReference] = event
	return true, nil
}

func cloneRecord(r models.SubscriptionRecord) *models.SubscriptionRecord {
	out := models.SubscriptionRecord{UserID: r.UserID}
	if r.TrialStartedAt != nil {
		t := *r.TrialStartedAt
		out.TrialStartedAt = &t
	}
	if r.PremiumSince != nil {
		t := *r.PremiumSince
		out.PremiumSince = &t
	}
	return &out
}
