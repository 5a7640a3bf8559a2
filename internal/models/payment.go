package models

import "time"

const (
	// PremiumPayload идентификатор продукта «премиум-подписка» в счёте.
	PremiumPayload = "premium_subscription"
	// PremiumCurrency валюта Telegram Stars.
	PremiumCurrency = "XTR"
	// PremiumPrice цена подписки в звёздах.
	PremiumPrice = 800
	// PremiumPeriodDays номинальный срок подписки, указываемый в описании счёта.
	PremiumPeriodDays = 30
)

// Offer предложение оплаты, отправленное пользователю. Не сохраняется.
type Offer struct {
	ID          string
	UserID      int64
	ChatID      int64
	Title       string
	Description string
	Payload     string
	Currency    string
	Amount      int
}

// PendingCharge запрос предварительной авторизации платежа (pre-checkout).
type PendingCharge struct {
	QueryID  string
	UserID   int64
	Payload  string
	Currency string
	Amount   int
}

// Decision ответ на запрос предварительной авторизации.
type Decision struct {
	OK     bool
	Reason string
}

// PaymentEvent уведомление транспорта об успешной оплате.
type PaymentEvent struct {
	UserID                  int64  `json:"user_id" validate:"required"`
	ChatID                  int64  `json:"chat_id"`
	ChargeReference         string `json:"charge_reference" validate:"required"`
	ProviderChargeReference string `json:"provider_charge_reference,omitempty"`
	Payload                 string `json:"payload"`
	Currency                string `json:"currency" validate:"required"`
	Amount                  int    `json:"amount" validate:"gt=0"`
}

// PaymentCompleted сообщение о завершённой оплате для внешних потребителей.
type PaymentCompleted struct {
	UserID          int64     `json:"user_id"`
	ChargeReference string    `json:"charge_reference"`
	Amount          int       `json:"amount"`
	Currency        string    `json:"currency"`
	Duplicate       bool      `json:"duplicate"`
	PremiumSince    time.Time `json:"premium_since"`
}
