// Package postgresql реализует хранилище записей подписок на основе PostgreSQL.
// Каждая мутация выполняется одним SQL-выражением, поэтому операции над одним
// пользователем атомарны без явных блокировок.
package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	// Регистрация драйвера pgx для использования с database/sql.
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/magabrotheeeer/microanalysis-bot/internal/models"
)

// Storage инкапсулирует соединение с базой данных PostgreSQL.
type Storage struct {
	DB *sql.DB
}

// New создаёт подключение к PostgreSQL и проверяет его.
func New(ctx context.Context, storageConnectionString string) (*Storage, error) {
	const op = "storage.postgresql.New"

	db, err := sql.Open("pgx", storageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{DB: db}, nil
}

// Close закрывает пул соединений.
func (s *Storage) Close() error {
	return s.DB.Close()
}

// GetRecord возвращает запись подписки пользователя или models.ErrNotFound.
func (s *Storage) GetRecord(ctx context.Context, userID int64) (*models.SubscriptionRecord, error) {
	const op = "storage.postgresql.GetRecord"

	query := `SELECT user_id, trial_started_at, premium_since
			  FROM subscriptions
			  WHERE user_id = $1`

	var (
		record       models.SubscriptionRecord
		trialStarted sql.NullTime
		premiumSince sql.NullTime
	)
	err := s.DB.QueryRowContext(ctx, query, userID).Scan(&record.UserID, &trialStarted, &premiumSince)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if trialStarted.Valid {
		t := trialStarted.Time.UTC()
		record.TrialStartedAt = &t
	}
	if premiumSince.Valid {
		t := premiumSince.Time.UTC()
		record.PremiumSince = &t
	}
	return &record, nil
}

// StartTrialIfAbsent фиксирует начало пробного периода, если оно ещё не записано.
// Возвращает true, если значение было установлено этим вызовом.
func (s *Storage) StartTrialIfAbsent(ctx context.Context, userID int64, now time.Time) (bool, error) {
	const op = "storage.postgresql.StartTrialIfAbsent"

	query := `INSERT INTO subscriptions (user_id, trial_started_at)
			  VALUES ($1, $2)
			  ON CONFLICT (user_id) DO UPDATE
			      SET trial_started_at = EXCLUDED.trial_started_at, updated_at = now()
			      WHERE subscriptions.trial_started_at IS NULL`
	result, err := s.DB.ExecContext(ctx, query, userID, now.UTC())
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return rowsAffected > 0, nil
}

// GrantPremium безусловно перезаписывает premium_since.
func (s *Storage) GrantPremium(ctx context.Context, userID int64, now time.Time) error {
	const op = "storage.postgresql.GrantPremium"

	query := `INSERT INTO subscriptions (user_id, premium_since)
			  VALUES ($1, $2)
			  ON CONFLICT (user_id) DO UPDATE
			      SET premium_since = EXCLUDED.premium_since, updated_at = now()`
	if _, err := s.DB.ExecContext(ctx, query, userID, now.UTC()); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// RecordCharge сохраняет идентификатор обработанного платежа.
// Возвращает false, если платёж с таким идентификатором уже встречался.
func (s *Storage) RecordCharge(ctx context.Context, event models.PaymentEvent, now time.Time) (bool, error) {
	const op = "storage.postgresql.RecordCharge"

	query := `INSERT INTO payments (charge_reference, provider_charge_reference, user_id,
			      amount, currency, payload, processed_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7)
			  ON CONFLICT (charge_reference) DO NOTHING`
	result, err := s.DB.ExecContext(ctx, query,
		event.ChargeReference, event.ProviderChargeReference, event.UserID,
		event.Amount, event.Currency, event.Payload, now.UTC())
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return rowsAffected > 0, nil
}
