// Package ledger ведёт учёт пробного периода и оплаченного доступа пользователей.
// Статус доступа не хранится, а вычисляется при каждом чтении из двух фактов:
// момента начала пробного периода и момента оплаты.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/magabrotheeeer/microanalysis-bot/internal/lib/sl"
	"github.com/magabrotheeeer/microanalysis-bot/internal/models"
)

// Store определяет хранилище записей подписок.
type Store interface {
	// GetRecord возвращает запись пользователя или models.ErrNotFound.
	GetRecord(ctx context.Context, userID int64) (*models.SubscriptionRecord, error)
	// StartTrialIfAbsent атомарно устанавливает начало пробного периода, если его нет.
	StartTrialIfAbsent(ctx context.Context, userID int64, now time.Time) (bool, error)
	// GrantPremium безусловно перезаписывает момент оплаты.
	GrantPremium(ctx context.Context, userID int64, now time.Time) error
	// RecordCharge сохраняет идентификатор платежа, false если он уже был.
	RecordCharge(ctx context.Context, event models.PaymentEvent, now time.Time) (bool, error)
}

// Cache описывает методы для кэширования записей.
type Cache interface {
	Get(ctx context.Context, key string, result any) (bool, error)
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

// Ledger единственный источник решений о доступе.
type Ledger struct {
	store Store
	cache Cache
	ttl   time.Duration
	log   *slog.Logger
	now   func() time.Time
}

// New создаёт Ledger. cache может быть nil.
func New(store Store, cache Cache, ttl time.Duration, log *slog.Logger) *Ledger {
	return &Ledger{
		store: store,
		cache: cache,
		ttl:   ttl,
		log:   log.With(sl.Component("ledger")),
		now:   time.Now,
	}
}

// WithClock подменяет источник текущего времени.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// Now возвращает текущее время по часам Ledger.
func (l *Ledger) Now() time.Time {
	return l.now()
}

// Status вычисляет статус пользователя на текущий момент.
// Для неизвестного пользователя возвращается StatusNoTrial без ошибки.
func (l *Ledger) Status(ctx context.Context, userID int64) (models.Status, error) {
	record, err := l.Record(ctx, userID)
	if err != nil {
		return "", err
	}
	return record.Status(l.now()), nil
}

// Record возвращает запись пользователя; неизвестному соответствует пустая запись.
// В кеш попадают только записи с оплатой: их статус уже не меняется.
func (l *Ledger) Record(ctx context.Context, userID int64) (models.SubscriptionRecord, error) {
	const op = "ledger.Record"
	key := cacheKey(userID)

	if l.cache != nil {
		var cached models.SubscriptionRecord
		found, err := l.cache.Get(ctx, key, &cached)
		if err != nil {
			l.log.Warn("failed to read from cache", slog.String("key", key), sl.Err(err))
		} else if found {
			return cached, nil
		}
	}

	record, err := l.store.GetRecord(ctx, userID)
	if errors.Is(err, models.ErrNotFound) {
		return models.SubscriptionRecord{UserID: userID}, nil
	}
	if err != nil {
		return models.SubscriptionRecord{}, fmt.Errorf("%s: %w", op, err)
	}

	if l.cache != nil && record.PremiumSince != nil {
		if err := l.cache.Set(ctx, key, record, l.ttl); err != nil {
			l.log.Warn("failed to cache record", slog.String("key", key), sl.Err(err))
		}
	}
	return *record, nil
}

// StartTrialIfAbsent начинает пробный период при первом контакте. Повторные вызовы ничего не меняют.
func (l *Ledger) StartTrialIfAbsent(ctx context.Context, userID int64, now time.Time) (bool, error) {
	const op = "ledger.StartTrialIfAbsent"

	started, err := l.store.StartTrialIfAbsent(ctx, userID, now)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if started {
		l.log.Info("trial started", sl.UserID(userID), slog.Time("ends_at", now.Add(models.TrialDuration)))
	}
	return started, nil
}

// GrantPremium открывает оплаченный доступ. Повторное применение даёт тот же результат.
func (l *Ledger) GrantPremium(ctx context.Context, userID int64, now time.Time) error {
	const op = "ledger.GrantPremium"

	if err := l.store.GrantPremium(ctx, userID, now); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	l.invalidate(ctx, userID)
	l.log.Info("premium granted", sl.UserID(userID))
	return nil
}

// RecordCharge запоминает обработанный платёж. Возвращает false, если платёж с этим идентификатором уже был.
func (l *Ledger) RecordCharge(ctx context.Context, event models.PaymentEvent, now time.Time) (bool, error) {
	const op = "ledger.RecordCharge"

	fresh, err := l.store.RecordCharge(ctx, event, now)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return fresh, nil
}

func (l *Ledger) invalidate(ctx context.Context, userID int64) {
	if l.cache == nil {
		return
	}
	key := cacheKey(userID)
	if err := l.cache.Invalidate(ctx, key); err != nil {
		l.log.Warn("failed to remove from cache", slog.String("key", key), sl.Err(err))
	}
}

func cacheKey(userID int64) string {
	return "subscription:" + strconv.FormatInt(userID, 10)
}
