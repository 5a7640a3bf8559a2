// Package config предоставялет структуры и функцию для парсинга и загрузки конфига
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-playground/validator"
	"github.com/ilyakaznacheev/cleanenv"
)

// Драйверы хранилища подписок.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// ErrMissingToken возвращается, если не задан токен бота.
var ErrMissingToken = errors.New("TELEGRAM_BOT_TOKEN is not set")

// Config общая структура для хранения настроек
type Config struct {
	Env             string `yaml:"env" env:"ENV" env-default:"local" validate:"oneof=local dev prod"`
	Telegram        `yaml:"telegram"`
	Bootstrap       `yaml:"bootstrap"`
	HTTPServer      `yaml:"http_server"`
	Storage         `yaml:"storage"`
	RedisConnection `yaml:"redis_connection"`
	RabbitMQ        `yaml:"rabbitmq"`
	Analysis        `yaml:"analysis"`
	RateLimit       `yaml:"rate_limit"`
}

// Telegram структура для подключения к Bot API
type Telegram struct {
	Token       string        `yaml:"token" env:"TELEGRAM_BOT_TOKEN"`
	APIEndpoint string        `yaml:"api_endpoint" env:"TELEGRAM_API_ENDPOINT" env-default:"https://api.telegram.org/bot%s/%s"`
	PollTimeout int           `yaml:"poll_timeout" env:"TELEGRAM_POLL_TIMEOUT" env-default:"60" validate:"min=0"`
	HTTPTimeout time.Duration `yaml:"http_timeout" env:"TELEGRAM_HTTP_TIMEOUT" env-default:"75s"`
}

// Bootstrap структура с параметрами установки сессии
type Bootstrap struct {
	WarmUpDelay time.Duration `yaml:"warm_up_delay" env:"BOOTSTRAP_WARM_UP_DELAY" env-default:"2s"`
	RetryDelay  time.Duration `yaml:"retry_delay" env:"BOOTSTRAP_RETRY_DELAY" env-default:"5s"`
	MaxAttempts int           `yaml:"max_attempts" env:"BOOTSTRAP_MAX_ATTEMPTS" env-default:"5" validate:"min=1"`
}

// HTTPServer структура для настройки сервера
type HTTPServer struct {
	AddressHTTP string        `yaml:"addresshttp" env:"HTTP_ADDRESS" env-default:":7860"`
	TimeoutHTTP time.Duration `yaml:"timeouthttp" env:"HTTP_TIMEOUT" env-default:"10s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env:"HTTP_IDLE_TIMEOUT" env-default:"60s"`
	Platform    string        `yaml:"platform" env:"PLATFORM" env-default:"Hugging Face"`
}

// Storage структура для выбора хранилища подписок
type Storage struct {
	Driver                  string `yaml:"driver" env:"STORAGE_DRIVER" env-default:"memory" validate:"oneof=memory postgres"`
	StorageConnectionString string `yaml:"storage_connection_string" env:"DATABASE_URL"`
	MigrationsPath          string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"./migrations"`
}

// RedisConnection структура для настройки подключения к redis. Пустой адрес отключает кеш.
type RedisConnection struct {
	AddressRedis string        `yaml:"addressredis" env:"REDIS_ADDR"`
	Password     string        `yaml:"password" env:"REDIS_PASSWORD"`
	User         string        `yaml:"user" env:"REDIS_USER"`
	DB           int           `yaml:"db" env:"REDIS_DB"`
	MaxRetries   int           `yaml:"max_retries" env:"REDIS_MAX_RETRIES" env-default:"3"`
	DialTimeout  time.Duration `yaml:"dial_timeout" env:"REDIS_DIAL_TIMEOUT" env-default:"5s"`
	TimeoutRedis time.Duration `yaml:"timeoutredis" env:"REDIS_TIMEOUT" env-default:"3s"`
	CacheTTL     time.Duration `yaml:"cache_ttl" env:"REDIS_CACHE_TTL" env-default:"1h"`
}

// RabbitMQ структура для публикации событий об оплате. Пустой URL отключает публикацию.
type RabbitMQ struct {
	AMQPURL        string        `yaml:"amqp_url" env:"AMQP_URL"`
	Exchange       string        `yaml:"exchange" env:"AMQP_EXCHANGE" env-default:"notifications"`
	RoutingKey     string        `yaml:"routing_key" env:"AMQP_ROUTING_KEY" env-default:"payment.completed"`
	ConnectRetries int           `yaml:"connect_retries" env:"AMQP_CONNECT_RETRIES" env-default:"5" validate:"min=1"`
	ConnectDelay   time.Duration `yaml:"connect_delay" env:"AMQP_CONNECT_DELAY" env-default:"2s"`
}

// Analysis структура для подключения к сервису аналитики
type Analysis struct {
	AnalysisBaseURL string        `yaml:"base_url" env:"ANALYSIS_BASE_URL" env-default:"http://localhost:8000"`
	AnalysisTimeout time.Duration `yaml:"timeout" env:"ANALYSIS_TIMEOUT" env-default:"15s"`
	DefaultSymbol   string        `yaml:"default_symbol" env:"ANALYSIS_DEFAULT_SYMBOL" env-default:"EURUSD"`
}

// RateLimit структура для ограничения частоты команд
type RateLimit struct {
	CommandsPerSecond float64 `yaml:"commands_per_second" env:"RATE_LIMIT_RPS" env-default:"1"`
	Burst             int     `yaml:"burst" env:"RATE_LIMIT_BURST" env-default:"3" validate:"min=1"`
	TrackedUsers      int     `yaml:"tracked_users" env:"RATE_LIMIT_TRACKED_USERS" env-default:"10000" validate:"min=1"`
	Workers           int     `yaml:"workers" env:"UPDATE_WORKERS" env-default:"10" validate:"min=1"`
}

// Load читает конфиг из файла CONFIG_PATH (если задан) и переменных окружения.
func Load() (*Config, error) {
	const op = "config.Load"
	var cfg Config

	if configPath := os.Getenv("CONFIG_PATH"); configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: file %s does not exist", op, configPath)
		}
		if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &cfg, nil
}

// MustLoad функция для загрузки конфига, завершает процесс при ошибке
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("cannot read config: %s", err)
	}
	return cfg
}

func (c *Config) validate() error {
	if c.Token == "" {
		return ErrMissingToken
	}
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if c.Driver == StoragePostgres && c.StorageConnectionString == "" {
		return errors.New("storage_connection_string is required for postgres driver")
	}
	return nil
}

func (c *Config) String() string {
	return fmt.Sprintf(
		"Env: %s\n"+
			"Telegram:\n"+
			"  Token: %s\n"+
			"  PollTimeout: %d\n"+
			"Bootstrap:\n"+
			"  WarmUpDelay: %s\n"+
			"  RetryDelay: %s\n"+
			"  MaxAttempts: %d\n"+
			"HTTPServer:\n"+
			"  Address: %s\n"+
			"Storage:\n"+
			"  Driver: %s\n"+
			"RedisConnection:\n"+
			"  Addr: %s\n"+
			"RabbitMQ:\n"+
			"  Enabled: %t\n"+
			"Analysis:\n"+
			"  BaseURL: %s\n",
		c.Env,
		mask(c.Token),
		c.PollTimeout,
		c.WarmUpDelay,
		c.RetryDelay,
		c.MaxAttempts,
		c.AddressHTTP,
		c.Driver,
		c.AddressRedis,
		c.AMQPURL != "",
		c.AnalysisBaseURL,
	)
}

func mask(secret string) string {
	if len(secret) <= 4 {
		return "****"
	}
	return secret[:4] + "****"
}
