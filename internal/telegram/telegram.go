// Package telegram реализует транспорт чата поверх Telegram Bot API.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/magabrotheeeer/microanalysis-bot/internal/bootstrap"
	"github.com/magabrotheeeer/microanalysis-bot/internal/chat"
	"github.com/magabrotheeeer/microanalysis-bot/internal/config"
	"github.com/magabrotheeeer/microanalysis-bot/internal/lib/sl"
	"github.com/magabrotheeeer/microanalysis-bot/internal/models"
)

// startParameter deep-link параметр счёта.
const startParameter = "premium"

// Connector создаёт сессии Bot API.
type Connector struct {
	cfg config.Telegram
	log *slog.Logger
}

// NewConnector создаёт Connector. Внутренний логгер библиотеки перенаправляется в log.
func NewConnector(cfg config.Telegram, log *slog.Logger) *Connector {
	log = log.With(sl.Component("telegram"))
	_ = tgbotapi.SetLogger(slog.NewLogLogger(log.Handler(), slog.LevelWarn))
	return &Connector{cfg: cfg, log: log}
}

// Connect проверяет токен запросом getMe и возвращает готовую сессию.
// Сбои сети, ответы 5xx и 429 помечаются как bootstrap.ErrTransient.
func (c *Connector) Connect(ctx context.Context, token string) (chat.Session, error) {
	const op = "telegram.Connect"

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	endpoint := c.cfg.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	client := &http.Client{Timeout: c.cfg.HTTPTimeout}

	bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, ctxClient{ctx: ctx, base: client})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s: %w", op, ctxErr)
		}
		return nil, fmt.Errorf("%s: %w", op, classify(err))
	}
	bot.Client = client

	c.log.Info("connected to bot api", slog.String("username", bot.Self.UserName))
	return &Session{
		bot:         bot,
		client:      client,
		pollTimeout: c.cfg.PollTimeout,
		log:         c.log,
		pollerDone:  make(chan struct{}),
	}, nil
}

// ctxClient привязывает запросы библиотеки к контексту вызова.
type ctxClient struct {
	ctx  context.Context
	base tgbotapi.HTTPClient
}

func (c ctxClient) Do(req *http.Request) (*http.Response, error) {
	return c.base.Do(req.WithContext(c.ctx))
}

// Session установленная сессия Bot API.
type Session struct {
	bot         *tgbotapi.BotAPI
	client      *http.Client
	pollTimeout int
	log         *slog.Logger
	stopOnce    sync.Once
	// pollerDone закрывается, когда поллер библиотеки завершился.
	pollerDone chan struct{}
}

// withContext возвращает копию клиента Bot API, запросы которой отменяются вместе с ctx.
func (s *Session) withContext(ctx context.Context) *tgbotapi.BotAPI {
	bot := *s.bot
	bot.Client = ctxClient{ctx: ctx, base: s.client}
	return &bot
}

// Updates запускает long polling. Канал закрывается при отмене ctx.
// Обновления, уже полученные поллером, но не переданные в канал к моменту
// отмены, отбрасываются.
func (s *Session) Updates(ctx context.Context) <-chan chat.Update {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = s.pollTimeout
	u.AllowedUpdates = []string{"message", "pre_checkout_query"}

	src := s.withContext(ctx).GetUpdatesChan(u)
	out := make(chan chat.Update)

	go func() {
		defer close(out)
		defer s.drain(src)

		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-src:
				if !ok {
					return
				}
				upd, ok := convertUpdate(raw)
				if !ok {
					continue
				}
				select {
				case out <- upd:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}

// drain останавливает поллер и вычитывает его канал, иначе поллер
// остаётся заблокированным на записи в заполненный буфер.
func (s *Session) drain(src tgbotapi.UpdatesChannel) {
	s.stopOnce.Do(s.bot.StopReceivingUpdates)

	go func() {
		defer close(s.pollerDone)
		dropped := 0
		for range src {
			dropped++
		}
		if dropped > 0 {
			s.log.Warn("updates dropped on shutdown", slog.Int("count", dropped))
		}
	}()
}

// SendText отправляет текстовое сообщение, при наличии с клавиатурой меню.
func (s *Session) SendText(ctx context.Context, msg chat.Message) error {
	const op = "telegram.SendText"

	cfg := tgbotapi.NewMessage(msg.ChatID, msg.Text)
	if msg.Markdown {
		cfg.ParseMode = tgbotapi.ModeMarkdown
	}
	if len(msg.Keyboard) > 0 {
		cfg.ReplyMarkup = keyboard(msg.Keyboard)
	}

	if err := s.send(ctx, cfg); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// SendPhoto отправляет изображение по URL.
func (s *Session) SendPhoto(ctx context.Context, chatID int64, url, caption string) error {
	const op = "telegram.SendPhoto"

	cfg := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(url))
	cfg.Caption = caption

	if err := s.send(ctx, cfg); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// SendInvoice выставляет счёт в Telegram Stars. Для Stars токен провайдера пустой.
func (s *Session) SendInvoice(ctx context.Context, offer models.Offer) error {
	const op = "telegram.SendInvoice"

	cfg := tgbotapi.NewInvoice(
		offer.ChatID,
		offer.Title,
		offer.Description,
		offer.Payload,
		"",
		startParameter,
		offer.Currency,
		[]tgbotapi.LabeledPrice{{Label: offer.Title, Amount: offer.Amount}},
	)
	cfg.SuggestedTipAmounts = []int{}

	if err := s.send(ctx, cfg); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// AnswerPreCheckout отвечает на запрос предварительной авторизации.
func (s *Session) AnswerPreCheckout(ctx context.Context, queryID string, decision models.Decision) error {
	const op = "telegram.AnswerPreCheckout"

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	cfg := tgbotapi.PreCheckoutConfig{
		PreCheckoutQueryID: queryID,
		OK:                 decision.OK,
		ErrorMessage:       decision.Reason,
	}
	if _, err := s.withContext(ctx).Request(cfg); err != nil {
		return fmt.Errorf("%s: %w", op, classify(err))
	}
	return nil
}

func (s *Session) send(ctx context.Context, c tgbotapi.Chattable) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.withContext(ctx).Send(c); err != nil {
		return classify(err)
	}
	return nil
}

func keyboard(rows [][]string) tgbotapi.ReplyKeyboardMarkup {
	buttons := make([][]tgbotapi.KeyboardButton, 0, len(rows))
	for _, row := range rows {
		line := make([]tgbotapi.KeyboardButton, 0, len(row))
		for _, text := range row {
			line = append(line, tgbotapi.NewKeyboardButton(text))
		}
		buttons = append(buttons, tgbotapi.NewKeyboardButtonRow(line...))
	}
	markup := tgbotapi.NewReplyKeyboard(buttons...)
	markup.ResizeKeyboard = true
	return markup
}

// convertUpdate переводит обновление Bot API в транспортно-независимый вид.
// Обновления без отправителя пропускаются.
func convertUpdate(raw tgbotapi.Update) (chat.Update, bool) {
	if q := raw.PreCheckoutQuery; q != nil {
		if q.From == nil {
			return chat.Update{}, false
		}
		return chat.Update{
			ID:     raw.UpdateID,
			UserID: q.From.ID,
			ChatID: q.From.ID,
			PreCheckout: &models.PendingCharge{
				QueryID:  q.ID,
				UserID:   q.From.ID,
				Payload:  q.InvoicePayload,
				Currency: q.Currency,
				Amount:   q.TotalAmount,
			},
		}, true
	}

	msg := raw.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return chat.Update{}, false
	}

	upd := chat.Update{
		ID:     raw.UpdateID,
		UserID: msg.From.ID,
		ChatID: msg.Chat.ID,
		Text:   msg.Text,
	}

	if p := msg.SuccessfulPayment; p != nil {
		upd.Payment = &models.PaymentEvent{
			UserID:                  msg.From.ID,
			ChatID:                  msg.Chat.ID,
			ChargeReference:         p.TelegramPaymentChargeID,
			ProviderChargeReference: p.ProviderPaymentChargeID,
			Payload:                 p.InvoicePayload,
			Currency:                p.Currency,
			Amount:                  p.TotalAmount,
		}
		return upd, true
	}

	if msg.IsCommand() {
		upd.Command = strings.ToLower(msg.Command())
		upd.Args = strings.TrimSpace(msg.CommandArguments())
	}
	return upd, upd.Kind() != chat.KindUnknown
}

// classify помечает повторяемые ошибки Bot API.
func classify(err error) error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError {
			return fmt.Errorf("%w: %w", bootstrap.ErrTransient, err)
		}
		return err
	}

	// Прокси перед Bot API отвечает HTML-страницей на 502/504.
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) || bootstrap.IsTransient(err) {
		return fmt.Errorf("%w: %w", bootstrap.ErrTransient, err)
	}
	return err
}
