// Package chat описывает контракт транспорта чат-платформы, не зависящий от
// конкретного Bot API: входящие обновления и исходящие сообщения.
package chat

import (
	"context"

	"github.com/magabrotheeeer/microanalysis-bot/internal/models"
)

// Session установленная сессия с чат-платформой.
type Session interface {
	// Updates возвращает канал входящих обновлений. Канал закрывается при отмене ctx.
	Updates(ctx context.Context) <-chan Update
	SendText(ctx context.Context, msg Message) error
	SendPhoto(ctx context.Context, chatID int64, url, caption string) error
	SendInvoice(ctx context.Context, offer models.Offer) error
	AnswerPreCheckout(ctx context.Context, queryID string, decision models.Decision) error
}

// Message исходящее текстовое сообщение.
type Message struct {
	ChatID   int64
	Text     string
	Markdown bool
	// Keyboard постоянная клавиатура меню, по строкам.
	Keyboard [][]string
}

// Kind тип входящего обновления.
type Kind int

const (
	KindUnknown Kind = iota
	KindCommand
	KindText
	KindPreCheckout
	KindPayment
)

// Update входящее обновление от транспорта.
type Update struct {
	ID     int
	UserID int64
	ChatID int64
	// Text исходный текст сообщения.
	Text string
	// Command имя команды без "/" в нижнем регистре, пусто для обычного текста.
	Command string
	Args    string

	PreCheckout *models.PendingCharge
	Payment     *models.PaymentEvent
}

// Kind определяет тип обновления.
func (u Update) Kind() Kind {
	switch {
	case u.Payment != nil:
		return KindPayment
	case u.PreCheckout != nil:
		return KindPreCheckout
	case u.Command != "":
		return KindCommand
	case u.Text != "":
		return KindText
	default:
		return KindUnknown
	}
}
