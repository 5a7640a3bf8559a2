// Package payment реализует протокол оплаты премиум-доступа: выставление счёта,
// ответ на предварительную авторизацию и обработку успешной оплаты.
// Сервис не хранит состояние сам, все изменения идут через ledger.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-playground/validator"
	"github.com/google/uuid"

	"github.com/magabrotheeeer/microanalysis-bot/internal/lib/sl"
	"github.com/magabrotheeeer/microanalysis-bot/internal/metrics"
	"github.com/magabrotheeeer/microanalysis-bot/internal/models"
)

// ErrInvalidEvent возвращается для события оплаты с незаполненными полями.
var ErrInvalidEvent = errors.New("invalid payment event")

// Ledger определяет операции учёта, нужные платёжному сервису.
type Ledger interface {
	GrantPremium(ctx context.Context, userID int64, now time.Time) error
	RecordCharge(ctx context.Context, event models.PaymentEvent, now time.Time) (bool, error)
	Now() time.Time
}

// Transport определяет исходящие вызовы платёжного протокола.
type Transport interface {
	SendInvoice(ctx context.Context, offer models.Offer) error
	AnswerPreCheckout(ctx context.Context, queryID string, decision models.Decision) error
}

// Publisher публикует события о завершённой оплате.
type Publisher interface {
	PublishPaymentCompleted(ctx context.Context, msg models.PaymentCompleted) error
}

// Service платёжный сервис.
type Service struct {
	ledger    Ledger
	publisher Publisher
	validate  *validator.Validate
	metrics   *metrics.Metrics
	log       *slog.Logger
}

// New создаёт платёжный сервис. publisher может быть nil.
func New(ledger Ledger, publisher Publisher, m *metrics.Metrics, log *slog.Logger) *Service {
	return &Service{
		ledger:    ledger,
		publisher: publisher,
		validate:  validator.New(),
		metrics:   m,
		log:       log.With(sl.Component("payment")),
	}
}

// NewOffer собирает предложение премиум-подписки для пользователя.
func NewOffer(userID, chatID int64) models.Offer {
	return models.Offer{
		ID:     uuid.NewString(),
		UserID: userID,
		ChatID: chatID,
		Title:  "💎 Premium Access",
		Description: "Institutional sentiment, macro bias and chart analysis for " +
			strconv.Itoa(models.PremiumPeriodDays) + " days.",
		Payload:  models.PremiumPayload,
		Currency: models.PremiumCurrency,
		Amount:   models.PremiumPrice,
	}
}

// MakeOffer выставляет пользователю счёт. Ошибка транспорта возвращается вызывающему.
func (s *Service) MakeOffer(ctx context.Context, t Transport, userID, chatID int64) (models.Offer, error) {
	const op = "payment.MakeOffer"

	offer := NewOffer(userID, chatID)
	if err := t.SendInvoice(ctx, offer); err != nil {
		s.metrics.Offers.WithLabelValues("failed").Inc()
		return models.Offer{}, fmt.Errorf("%s: %w", op, err)
	}

	s.metrics.Offers.WithLabelValues("sent").Inc()
	s.log.Info("offer sent",
		sl.UserID(userID),
		slog.String("offer_id", offer.ID),
		slog.Int("amount", offer.Amount),
		slog.String("currency", offer.Currency),
	)
	return offer, nil
}

// Authorize отвечает на запрос предварительной авторизации. Продукт цифровой и
// не ограничен по количеству, поэтому запрос всегда одобряется.
func (s *Service) Authorize(ctx context.Context, t Transport, charge models.PendingCharge) (models.Decision, error) {
	const op = "payment.Authorize"

	if charge.Payload != models.PremiumPayload || charge.Currency != models.PremiumCurrency {
		s.log.Warn("pre-checkout for unexpected product",
			sl.UserID(charge.UserID),
			slog.String("payload", charge.Payload),
			slog.String("currency", charge.Currency),
		)
	}

	decision := models.Decision{OK: true}
	if err := t.AnswerPreCheckout(ctx, charge.QueryID, decision); err != nil {
		return models.Decision{}, fmt.Errorf("%s: %w", op, err)
	}

	s.metrics.PreCheckouts.WithLabelValues("approved").Inc()
	s.log.Info("pre-checkout approved", sl.UserID(charge.UserID), slog.String("query_id", charge.QueryID))
	return decision, nil
}

// Complete обрабатывает успешную оплату и открывает премиум-доступ.
// Повторная доставка того же события снова выдаёт доступ: операция идемпотентна.
func (s *Service) Complete(ctx context.Context, event models.PaymentEvent) error {
	const op = "payment.Complete"

	if err := s.validate.Struct(event); err != nil {
		return fmt.Errorf("%s: %w: %v", op, ErrInvalidEvent, err)
	}

	now := s.ledger.Now()
	if err := s.ledger.GrantPremium(ctx, event.UserID, now); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	duplicate := false
	fresh, err := s.ledger.RecordCharge(ctx, event, now)
	switch {
	case err != nil:
		s.log.Error("failed to record charge", sl.UserID(event.UserID),
			slog.String("charge", event.ChargeReference), sl.Err(err))
	case !fresh:
		duplicate = true
		s.log.Warn("payment event redelivered", sl.UserID(event.UserID),
			slog.String("charge", event.ChargeReference))
	}

	s.metrics.Payments.WithLabelValues(strconv.FormatBool(duplicate)).Inc()
	s.log.Info("payment completed",
		sl.UserID(event.UserID),
		slog.String("charge", event.ChargeReference),
		slog.Int("amount", event.Amount),
	)

	if s.publisher != nil {
		msg := models.PaymentCompleted{
			UserID:          event.UserID,
			ChargeReference: event.ChargeReference,
			Amount:          event.Amount,
			Currency:        event.Currency,
			Duplicate:       duplicate,
			PremiumSince:    now,
		}
		if err := s.publisher.PublishPaymentCompleted(ctx, msg); err != nil {
			s.log.Error("failed to publish payment event", sl.UserID(event.UserID), sl.Err(err))
		}
	}
	return nil
}
