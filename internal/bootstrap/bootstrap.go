// Package bootstrap устанавливает сессию с чат-платформой с ограниченным числом
// повторов и запускает цикл обработки обновлений. Сетевые сбои повторяются,
// любые другие ошибки прерывают запуск сразу.
package bootstrap

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/magabrotheeeer/microanalysis-bot/internal/chat"
	"github.com/magabrotheeeer/microanalysis-bot/internal/lib/sl"
	"github.com/magabrotheeeer/microanalysis-bot/internal/metrics"
)

var (
	// ErrMissingToken токен доступа не задан.
	ErrMissingToken = errors.New("access token is empty")
	// ErrTransient помечает сетевой сбой, который имеет смысл повторить.
	ErrTransient = errors.New("transient network failure")
	// ErrRetriesExhausted все попытки завершились сетевыми сбоями.
	ErrRetriesExhausted = errors.New("retry budget exhausted")
)

// ConnectFunc создаёт и инициализирует сессию.
type ConnectFunc func(ctx context.Context, token string) (chat.Session, error)

// ServeFunc цикл обработки обновлений сессии.
type ServeFunc func(ctx context.Context, session chat.Session) error

// SleepFunc ожидание между попытками, прерываемое отменой ctx.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Config параметры запуска.
type Config struct {
	Token       string
	WarmUpDelay time.Duration
	RetryDelay  time.Duration
	MaxAttempts int
}

// Bootstrap запускает сессию один раз при старте процесса.
type Bootstrap struct {
	cfg     Config
	connect ConnectFunc
	serve   ServeFunc
	sleep   SleepFunc
	metrics *metrics.Metrics
	log     *slog.Logger
}

// New создаёт Bootstrap.
func New(cfg Config, connect ConnectFunc, serve ServeFunc, m *metrics.Metrics, log *slog.Logger) *Bootstrap {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Bootstrap{
		cfg:     cfg,
		connect: connect,
		serve:   serve,
		sleep:   Sleep,
		metrics: m,
		log:     log.With(sl.Component("bootstrap")),
	}
}

// WithSleep подменяет функцию ожидания.
func (b *Bootstrap) WithSleep(fn SleepFunc) *Bootstrap {
	b.sleep = fn
	return b
}

// Run устанавливает сессию и запускает цикл обработки в отдельной горутине.
// Возвращённый канал получает результат цикла обработки и закрывается.
// Ошибка Run означает, что процесс не должен продолжать работу.
func (b *Bootstrap) Run(ctx context.Context) (<-chan error, error) {
	const op = "bootstrap.Run"

	if strings.TrimSpace(b.cfg.Token) == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrMissingToken)
	}

	var lastErr error
	for attempt := 1; attempt <= b.cfg.MaxAttempts; attempt++ {
		delay := b.cfg.RetryDelay
		if attempt == 1 {
			delay = b.cfg.WarmUpDelay
		}
		if err := b.sleep(ctx, delay); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		session, err := b.connect(ctx, b.cfg.Token)
		if err == nil {
			b.metrics.BootstrapAttempts.WithLabelValues("success").Inc()
			b.log.Info("session established", slog.Int("attempt", attempt))
			return b.startServing(ctx, session), nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s: %w", op, ctxErr)
		}
		if !IsTransient(err) {
			b.metrics.BootstrapAttempts.WithLabelValues("fatal").Inc()
			b.log.Error("fatal connection error", slog.Int("attempt", attempt), sl.Err(err))
			return nil, fmt.Errorf("%s: attempt %d: %w", op, attempt, err)
		}

		lastErr = err
		b.metrics.BootstrapAttempts.WithLabelValues("transient").Inc()
		b.log.Warn("network error, will retry",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", b.cfg.MaxAttempts),
			slog.Duration("retry_delay", b.cfg.RetryDelay),
			sl.Err(err),
		)
	}

	return nil, fmt.Errorf("%s: %w after %d attempts: %w", op, ErrRetriesExhausted, b.cfg.MaxAttempts, lastErr)
}

func (b *Bootstrap) startServing(ctx context.Context, session chat.Session) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		done <- b.serve(ctx, session)
	}()
	return done
}

// IsTransient сообщает, относится ли ошибка к сетевым сбоям. Ошибки TLS и
// ошибки запроса без сетевой причины (например, неверная схема URL) повторять
// бессмысленно.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}
	if isTLSFailure(err) {
		return false
	}

	for _, target := range []error{
		syscall.ECONNREFUSED,
		syscall.ECONNRESET,
		syscall.ECONNABORTED,
		syscall.ENETUNREACH,
		syscall.EHOSTUNREACH,
		io.ErrUnexpectedEOF,
		io.EOF,
	} {
		if errors.Is(err, target) {
			return true
		}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	// *url.Error реализует net.Error для любой причины, поэтому смотрим только на таймаут.
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isTLSFailure(err error) bool {
	var (
		unknownAuthority x509.UnknownAuthorityError
		hostname         x509.HostnameError
		invalidCert      x509.CertificateInvalidError
		verification     *tls.CertificateVerificationError
		recordHeader     tls.RecordHeaderError
	)
	return errors.As(err, &unknownAuthority) ||
		errors.As(err, &hostname) ||
		errors.As(err, &invalidCert) ||
		errors.As(err, &verification) ||
		errors.As(err, &recordHeader)
}

// Sleep ждёт d или отмены ctx.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
