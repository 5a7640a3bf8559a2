// Package models содержит доменные структуры бота: запись подписки пользователя,
// производный статус доступа, предложение оплаты и события платёжного протокола.
package models

import (
	"errors"
	"time"
)

// TrialDuration длительность пробного периода с момента первого контакта.
const TrialDuration = 24 * time.Hour

// ErrNotFound возвращается хранилищем, если записи для пользователя нет.
var ErrNotFound = errors.New("record not found")

// Status статус доступа пользователя к премиальным функциям.
type Status string

const (
	StatusNoTrial      Status = "no_trial"
	StatusTrialActive  Status = "trial_active"
	StatusTrialExpired Status = "trial_expired"
	StatusPremium      Status = "premium"
)

// HasAccess сообщает, открыт ли доступ к закрытым функциям.
func (s Status) HasAccess() bool {
	return s == StatusTrialActive || s == StatusPremium
}

// SubscriptionRecord хранит факты о пользователе, из которых вычисляется статус.
// Сам статус не хранится.
type SubscriptionRecord struct {
	UserID         int64      `json:"user_id"`
	TrialStartedAt *time.Time `json:"trial_started_at,omitempty"` // Устанавливается один раз
	PremiumSince   *time.Time `json:"premium_since,omitempty"`    // Момент последней успешной оплаты
}

// Status вычисляет статус на момент now.
func (r SubscriptionRecord) Status(now time.Time) Status {
	switch {
	case r.PremiumSince != nil:
		return StatusPremium
	case r.TrialStartedAt == nil:
		return StatusNoTrial
	case now.Sub(*r.TrialStartedAt) < TrialDuration:
		return StatusTrialActive
	default:
		return StatusTrialExpired
	}
}

// TrialEndsAt возвращает момент окончания пробного периода.
func (r SubscriptionRecord) TrialEndsAt() (time.Time, bool) {
	if r.TrialStartedAt == nil {
		return time.Time{}, false
	}
	return r.TrialStartedAt.Add(TrialDuration), true
}
