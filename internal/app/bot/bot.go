// Package bot собирает зависимости процесса бота и управляет его жизненным циклом.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/magabrotheeeer/microanalysis-bot/internal/analysis"
	"github.com/magabrotheeeer/microanalysis-bot/internal/bootstrap"
	"github.com/magabrotheeeer/microanalysis-bot/internal/cache"
	"github.com/magabrotheeeer/microanalysis-bot/internal/config"
	"github.com/magabrotheeeer/microanalysis-bot/internal/lib/sl"
	"github.com/magabrotheeeer/microanalysis-bot/internal/metrics"
	"github.com/magabrotheeeer/microanalysis-bot/internal/migrations"
	"github.com/magabrotheeeer/microanalysis-bot/internal/rabbitmq"
	"github.com/magabrotheeeer/microanalysis-bot/internal/router"
	"github.com/magabrotheeeer/microanalysis-bot/internal/services/ledger"
	"github.com/magabrotheeeer/microanalysis-bot/internal/services/payment"
	"github.com/magabrotheeeer/microanalysis-bot/internal/storage/memory"
	"github.com/magabrotheeeer/microanalysis-bot/internal/storage/postgresql"
	"github.com/magabrotheeeer/microanalysis-bot/internal/telegram"
)

const shutdownTimeout = 15 * time.Second

type App struct {
	server    *http.Server
	bootstrap *bootstrap.Bootstrap
	logger    *slog.Logger
	closers   []func() error
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	const op = "app.bot.New"

	a := &App{logger: logger}

	store, err := a.openStore(ctx, cfg)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var ledgerCache ledger.Cache
	if cfg.AddressRedis != "" {
		cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		a.closers = append(a.closers, cacheRedis.Close)
		ledgerCache = cacheRedis
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	var publisher payment.Publisher
	if cfg.AMQPURL != "" {
		p, err := a.openPublisher(ctx, cfg.RabbitMQ)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		publisher = p
	}

	subscriptions := ledger.New(store, ledgerCache, cfg.CacheTTL, logger)
	payments := payment.New(subscriptions, publisher, m, logger)
	analyzer := analysis.NewClient(cfg.AnalysisBaseURL, cfg.AnalysisTimeout)

	commands := router.New(subscriptions, payments, analyzer, router.Options{
		DefaultSymbol: cfg.DefaultSymbol,
		RateLimit:     cfg.CommandsPerSecond,
		Burst:         cfg.Burst,
		TrackedUsers:  cfg.TrackedUsers,
		Workers:       cfg.Workers,
	}, m, logger)

	connector := telegram.NewConnector(cfg.Telegram, logger)
	a.bootstrap = bootstrap.New(bootstrap.Config{
		Token:       cfg.Token,
		WarmUpDelay: cfg.WarmUpDelay,
		RetryDelay:  cfg.RetryDelay,
		MaxAttempts: cfg.MaxAttempts,
	}, connector.Connect, commands.Serve, m, logger)

	mux := chi.NewRouter()
	RegisterRoutes(mux, logger, cfg.Platform, reg)

	a.server = &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      mux,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return a, nil
}

func (a *App) openStore(ctx context.Context, cfg *config.Config) (ledger.Store, error) {
	if cfg.Driver != config.StoragePostgres {
		a.logger.Warn("using in-memory storage, subscriptions are lost on restart")
		return memory.New(), nil
	}

	db, err := postgresql.New(ctx, cfg.StorageConnectionString)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, db.Close)

	if err := migrations.Run(db.DB, cfg.MigrationsPath); err != nil {
		return nil, err
	}
	return db, nil
}

func (a *App) openPublisher(ctx context.Context, cfg config.RabbitMQ) (*rabbitmq.Publisher, error) {
	conn, err := rabbitmq.Connect(ctx, cfg.AMQPURL, cfg.ConnectRetries, cfg.ConnectDelay)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, conn.Close)

	ch, err := rabbitmq.SetupChannel(conn, cfg.Exchange, rabbitmq.PaymentQueues(cfg.RoutingKey))
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, ch.Close)

	return rabbitmq.NewPublisher(ch, cfg.Exchange, cfg.RoutingKey), nil
}

// Run запускает HTTP-сервер, затем устанавливает сессию с Bot API.
// Возвращает nil при остановке по сигналу.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	httpErr := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			httpErr <- nil
		} else {
			httpErr <- err
		}
	}()

	serveDone, err := a.bootstrap.Run(ctx)
	if err != nil {
		a.shutdown()
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return nil
		}
		return err
	}

	select {
	case err := <-httpErr:
		return err
	case err := <-serveDone:
		a.shutdown()
		if err != nil {
			return fmt.Errorf("update loop stopped: %w", err)
		}
		return nil
	case <-ctx.Done():
		a.shutdown()
		select {
		case <-serveDone:
		case <-time.After(shutdownTimeout):
			a.logger.Warn("update loop did not stop in time")
		}
		return nil
	}
}

func (a *App) shutdown() {
	timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	a.logger.Info("shutting down HTTP server gracefully")
	if err := a.server.Shutdown(timeoutCtx); err != nil {
		a.logger.Error("failed to shutdown HTTP server", sl.Err(err))
	}
}

// close освобождает ресурсы в обратном порядке открытия.
func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Error("failed to close resource", sl.Err(err))
		}
	}
	a.closers = nil
}
