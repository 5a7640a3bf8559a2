// Package router сопоставляет входящие обновления чата с проверками доступа,
// платёжными действиями и вызовами сервиса аналитики.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/magabrotheeeer/microanalysis-bot/internal/analysis"
	"github.com/magabrotheeeer/microanalysis-bot/internal/chat"
	"github.com/magabrotheeeer/microanalysis-bot/internal/lib/sl"
	"github.com/magabrotheeeer/microanalysis-bot/internal/metrics"
	"github.com/magabrotheeeer/microanalysis-bot/internal/models"
	"github.com/magabrotheeeer/microanalysis-bot/internal/services/payment"
)

// Кнопки постоянного меню.
const (
	ButtonAnalyze = "📊 Analyze Pair"
	ButtonNews    = "📰 Market News"
	ButtonMacro   = "🏦 Fed Macro"
	ButtonPremium = "💎 Premium"
)

// Команды бота.
const (
	CommandStart       = "start"
	CommandMacro       = "macro"
	CommandAnalyze     = "analyze"
	CommandNews        = "news"
	CommandPremium     = "premium"
	CommandStatus      = "status"
	CommandHelp        = "help"
	commandAnalyzeHint = "analyze_hint"
)

const defaultTrackedUsers = 10000

// ErrUpdatesClosed канал обновлений закрылся без отмены контекста.
var ErrUpdatesClosed = errors.New("updates channel closed")

var menuCommands = map[string]string{
	ButtonAnalyze: commandAnalyzeHint,
	ButtonNews:    CommandNews,
	ButtonMacro:   CommandMacro,
	ButtonPremium: CommandPremium,
}

// MenuKeyboard раскладка постоянного меню.
var MenuKeyboard = [][]string{
	{ButtonAnalyze, ButtonNews},
	{ButtonMacro, ButtonPremium},
}

// Ledger определяет операции учёта подписок, используемые маршрутизатором.
type Ledger interface {
	Status(ctx context.Context, userID int64) (models.Status, error)
	Record(ctx context.Context, userID int64) (models.SubscriptionRecord, error)
	StartTrialIfAbsent(ctx context.Context, userID int64, now time.Time) (bool, error)
	Now() time.Time
}

// Payments определяет платёжные действия.
type Payments interface {
	MakeOffer(ctx context.Context, t payment.Transport, userID, chatID int64) (models.Offer, error)
	Authorize(ctx context.Context, t payment.Transport, charge models.PendingCharge) (models.Decision, error)
	Complete(ctx context.Context, event models.PaymentEvent) error
}

// Analyzer внешний сервис аналитики.
type Analyzer interface {
	Analyze(ctx context.Context, symbol string) (*analysis.Result, error)
	News(ctx context.Context) (string, error)
}

// Options параметры маршрутизатора.
type Options struct {
	DefaultSymbol string
	// RateLimit допустимое число команд в секунду от одного пользователя. 0 отключает ограничение.
	RateLimit float64
	Burst     int
	// TrackedUsers число пользователей, для которых хранится состояние лимита.
	// Давно не писавшие пользователи вытесняются первыми.
	TrackedUsers int
	// Workers максимальное число одновременно обрабатываемых обновлений.
	Workers int
}

// Router маршрутизатор команд.
type Router struct {
	ledger   Ledger
	payments Payments
	analyzer Analyzer
	opts     Options
	metrics  *metrics.Metrics
	log      *slog.Logger

	limiters *lru.Cache[int64, *rate.Limiter]
}

// New создаёт маршрутизатор.
func New(ledger Ledger, payments Payments, analyzer Analyzer, opts Options, m *metrics.Metrics, log *slog.Logger) *Router {
	if opts.DefaultSymbol == "" {
		opts.DefaultSymbol = "EURUSD"
	}
	if opts.Burst < 1 {
		opts.Burst = 1
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.TrackedUsers < 1 {
		opts.TrackedUsers = defaultTrackedUsers
	}
	// lru.New возвращает ошибку только при неположительном размере.
	limiters, _ := lru.New[int64, *rate.Limiter](opts.TrackedUsers)

	return &Router{
		ledger:   ledger,
		payments: payments,
		analyzer: analyzer,
		opts:     opts,
		metrics:  m,
		log:      log.With(sl.Component("router")),
		limiters: limiters,
	}
}

// Serve читает обновления сессии до отмены ctx. Ошибка обработки одного
// обновления логируется и не останавливает цикл.
func (r *Router) Serve(ctx context.Context, session chat.Session) error {
	var g errgroup.Group
	g.SetLimit(r.opts.Workers)

	updates := session.Updates(ctx)
	r.log.Info("update loop started", slog.Int("workers", r.opts.Workers))

	for {
		select {
		case <-ctx.Done():
			_ = g.Wait()
			r.log.Info("update loop stopped")
			return nil
		case upd, ok := <-updates:
			if !ok {
				_ = g.Wait()
				if ctx.Err() != nil {
					return nil
				}
				return ErrUpdatesClosed
			}
			g.Go(func() error {
				r.dispatch(ctx, session, upd)
				return nil
			})
		}
	}
}

func (r *Router) dispatch(ctx context.Context, session chat.Session, upd chat.Update) {
	log := r.log.With(
		slog.String("trace_id", uuid.NewString()),
		slog.Int("update_id", upd.ID),
		sl.UserID(upd.UserID),
	)
	defer func() {
		if rec := recover(); rec != nil {
			r.metrics.UpdateErrors.Inc()
			log.Error("panic while handling update", slog.Any("panic", rec))
		}
	}()

	if err := r.Handle(ctx, session, upd); err != nil {
		r.metrics.UpdateErrors.Inc()
		log.Error("failed to handle update", sl.Err(err))
	}
}

// Handle обрабатывает одно обновление.
func (r *Router) Handle(ctx context.Context, session chat.Session, upd chat.Update) error {
	switch upd.Kind() {
	case chat.KindPayment:
		return r.completePayment(ctx, session, upd)
	case chat.KindPreCheckout:
		_, err := r.payments.Authorize(ctx, session, *upd.PreCheckout)
		return err
	case chat.KindCommand:
		return r.handleCommand(ctx, session, upd, upd.Command)
	case chat.KindText:
		command, ok := menuCommands[strings.TrimSpace(upd.Text)]
		if !ok {
			command = CommandHelp
		}
		return r.handleCommand(ctx, session, upd, command)
	default:
		return nil
	}
}

func (r *Router) handleCommand(ctx context.Context, s chat.Session, upd chat.Update, command string) error {
	if !r.allow(upd.UserID) {
		r.metrics.Commands.WithLabelValues(command, "rate_limited").Inc()
		return r.reply(ctx, s, upd.ChatID, "⏳ Too many requests. Please slow down.")
	}

	var err error
	switch command {
	case CommandStart:
		err = r.start(ctx, s, upd)
	case CommandMacro, CommandAnalyze:
		symbol := r.symbol(upd.Args)
		err = r.gated(ctx, s, upd, func() error { return r.analyze(ctx, s, upd.ChatID, symbol) })
	case CommandNews:
		err = r.gated(ctx, s, upd, func() error { return r.news(ctx, s, upd.ChatID) })
	case CommandPremium:
		err = r.premium(ctx, s, upd)
	case CommandStatus:
		err = r.status(ctx, s, upd)
	case commandAnalyzeHint:
		err = r.reply(ctx, s, upd.ChatID, "Please type the pair (e.g., /analyze EURUSD)")
	default:
		command = CommandHelp
		err = r.reply(ctx, s, upd.ChatID, helpText)
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.metrics.Commands.WithLabelValues(command, outcome).Inc()
	return err
}

// gated выполняет feature, если у пользователя есть доступ, иначе выставляет счёт.
// Первый контакт через закрытую команду тоже начинает пробный период.
func (r *Router) gated(ctx context.Context, s chat.Session, upd chat.Update, feature func() error) error {
	const op = "router.gated"

	status, err := r.ledger.Status(ctx, upd.UserID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	switch status {
	case models.StatusNoTrial:
		if _, err := r.ledger.StartTrialIfAbsent(ctx, upd.UserID, r.ledger.Now()); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	case models.StatusTrialExpired:
		if err := r.reply(ctx, s, upd.ChatID, "⌛ Your free trial has ended. Unlock Premium to keep using the analysis streams."); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if _, err := r.payments.MakeOffer(ctx, s, upd.UserID, upd.ChatID); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	}

	return feature()
}

func (r *Router) start(ctx context.Context, s chat.Session, upd chat.Update) error {
	const op = "router.start"

	started, err := r.ledger.StartTrialIfAbsent(ctx, upd.UserID, r.ledger.Now())
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	text := "🏛️ *MicroAnalysis Bot Online*\nSelect a data stream below:"
	if started {
		text += "\n\n🎁 Your 24h free trial has started."
	}
	return s.SendText(ctx, chat.Message{
		ChatID:   upd.ChatID,
		Text:     text,
		Markdown: true,
		Keyboard: MenuKeyboard,
	})
}

func (r *Router) analyze(ctx context.Context, s chat.Session, chatID int64, symbol string) error {
	const op = "router.analyze"

	result, err := r.analyzer.Analyze(ctx, symbol)
	if err != nil {
		_ = r.reply(ctx, s, chatID, "⚠️ Analysis is temporarily unavailable. Please try again later.")
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := s.SendText(ctx, chat.Message{ChatID: chatID, Text: analysis.Format(result), Markdown: true}); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if result.ChartURL != "" {
		if err := s.SendPhoto(ctx, chatID, result.ChartURL, result.Symbol); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return nil
}

func (r *Router) news(ctx context.Context, s chat.Session, chatID int64) error {
	const op = "router.news"

	text, err := r.analyzer.News(ctx)
	if err != nil {
		_ = r.reply(ctx, s, chatID, "⚠️ News feed is temporarily unavailable. Please try again later.")
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := s.SendText(ctx, chat.Message{ChatID: chatID, Text: text, Markdown: true}); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (r *Router) premium(ctx context.Context, s chat.Session, upd chat.Update) error {
	const op = "router.premium"

	status, err := r.ledger.Status(ctx, upd.UserID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if status == models.StatusPremium {
		return r.reply(ctx, s, upd.ChatID, "💎 You already have Premium access.")
	}
	if _, err := r.payments.MakeOffer(ctx, s, upd.UserID, upd.ChatID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (r *Router) status(ctx context.Context, s chat.Session, upd chat.Update) error {
	const op = "router.status"

	record, err := r.ledger.Record(ctx, upd.UserID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return r.reply(ctx, s, upd.ChatID, describe(record, r.ledger.Now()))
}

func (r *Router) completePayment(ctx context.Context, s chat.Session, upd chat.Update) error {
	const op = "router.completePayment"

	if err := r.payments.Complete(ctx, *upd.Payment); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return r.reply(ctx, s, upd.ChatID, "✅ Payment received. Premium access is unlocked.")
}

func (r *Router) reply(ctx context.Context, s chat.Session, chatID int64, text string) error {
	return s.SendText(ctx, chat.Message{ChatID: chatID, Text: text})
}

func (r *Router) symbol(args string) string {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return r.opts.DefaultSymbol
	}
	return strings.ToUpper(fields[0])
}

func (r *Router) allow(userID int64) bool {
	if r.opts.RateLimit <= 0 {
		return true
	}

	limiter, ok := r.limiters.Get(userID)
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(r.opts.RateLimit), r.opts.Burst)
		if prev, found, _ := r.limiters.PeekOrAdd(userID, limiter); found {
			limiter = prev
		}
	}
	return limiter.Allow()
}

func describe(record models.SubscriptionRecord, now time.Time) string {
	switch record.Status(now) {
	case models.StatusPremium:
		return "💎 Premium active since " + record.PremiumSince.UTC().Format(time.RFC1123) + "."
	case models.StatusTrialActive:
		ends, _ := record.TrialEndsAt()
		return "🎁 Free trial active until " + ends.UTC().Format(time.RFC1123) + "."
	case models.StatusTrialExpired:
		return "⌛ Free trial has ended. Send /premium to unlock full access."
	default:
		return "Send /start to begin your 24h free trial."
	}
}

const helpText = `Commands:
/start - open the menu and start your free trial
/macro [SYMBOL] - macro analysis (default EURUSD)
/analyze [SYMBOL] - same as /macro
/news - market news digest
/status - trial and premium status
/premium - unlock Premium with Telegram Stars`
