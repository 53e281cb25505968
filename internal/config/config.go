// Package config предоставляет структуры и функцию для парсинга и загрузки конфига
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"github.com/magabrotheeeer/coaching-billing/internal/models"
)

// Config общая структура для хранения настроек
type Config struct {
	Env                     string `yaml:"env" env:"APP_ENV" env-default:"local"`
	StorageConnectionString string `yaml:"storage_connection_string" env:"STORAGE_CONNECTION_STRING" env-required:"true"`
	MigrationsPath          string `yaml:"migrations_path" env-default:"./migrations"`
	RedisConnection         `yaml:"redis_connection"`
	HTTPServer              `yaml:"http_server"`
	JWTToken                `yaml:"jwttoken"`
	RabbitMQ                RabbitMQ     `yaml:"rabbitmq"`
	SMTP                    SMTP         `yaml:"smtp"`
	Stripe                  Stripe       `yaml:"stripe"`
	Captcha                 Captcha      `yaml:"captcha"`
	Checkout                Checkout     `yaml:"checkout"`
	Notification            Notification `yaml:"notification"`
	Scheduler               Scheduler    `yaml:"scheduler"`
	Subscription            Subscription `yaml:"subscription"`
	RateLimit               RateLimit    `yaml:"rate_limit"`
}

// HTTPServer структура для настройки сервера
type HTTPServer struct {
	AddressHTTP string        `yaml:"addresshttp" env-default:":8080"`
	TimeoutHTTP time.Duration `yaml:"timeouthttp" env-default:"10s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

// RedisConnection структура для настройки подключения к redis
type RedisConnection struct {
	AddressRedis string        `yaml:"addressredis" env:"REDIS_ADDRESS"`
	Password     string        `yaml:"password" env:"REDIS_PASSWORD"`
	User         string        `yaml:"user"`
	DB           int           `yaml:"db"`
	MaxRetries   int           `yaml:"max_retries"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	TimeoutRedis time.Duration `yaml:"timeoutredis"`
}

// JWTToken структура для работы с jwt-токеном
type JWTToken struct {
	JWTSecretKey string        `yaml:"jwt_secret_key" env:"JWT_SECRET_KEY"`
	TokenTTL     time.Duration `yaml:"token_ttl" env-default:"720h"`
}

// RabbitMQ настройки брокера сообщений.
type RabbitMQ struct {
	URL        string        `yaml:"url" env:"RABBITMQ_URL"`
	MaxRetries int           `yaml:"max_retries" env-default:"10"`
	RetryDelay time.Duration `yaml:"retry_delay" env-default:"3s"`
}

// SMTP настройки почтового транспорта.
type SMTP struct {
	Host string `yaml:"host" env:"SMTP_HOST"`
	Port string `yaml:"port" env:"SMTP_PORT" env-default:"587"`
	User string `yaml:"user" env:"SMTP_USER"`
	Pass string `yaml:"pass" env:"SMTP_PASS"`
	From string `yaml:"from" env:"SMTP_FROM"`
}

// Stripe настройки платёжного провайдера.
type Stripe struct {
	SecretKey     string        `yaml:"secret_key" env:"STRIPE_SECRET_KEY"`
	WebhookSecret string        `yaml:"webhook_secret" env:"STRIPE_WEBHOOK_SECRET"`
	BaseURL       string        `yaml:"base_url"`
	Timeout       time.Duration `yaml:"timeout" env-default:"10s"`
	MaxRetries    int           `yaml:"max_retries" env-default:"2"`
	RetryWait     time.Duration `yaml:"retry_wait" env-default:"500ms"`
}

// MaxCallDuration худшее время одного вызова Stripe со всеми повторами.
// Ожидание перед повтором растёт линейно: RetryWait, 2*RetryWait, ...
func (s Stripe) MaxCallDuration() time.Duration {
	total := s.Timeout * time.Duration(s.MaxRetries+1)
	for attempt := 1; attempt <= s.MaxRetries; attempt++ {
		total += s.RetryWait * time.Duration(attempt)
	}
	return total
}

// Captcha настройки проверки CAPTCHA. Пустой секрет отключает проверку.
type Captcha struct {
	Secret    string `yaml:"secret" env:"CAPTCHA_SECRET"`
	VerifyURL string `yaml:"verify_url" env-default:"https://challenges.cloudflare.com/turnstile/v0/siteverify"`
}

// Checkout настройки оформления заказа и каталог планов.
type Checkout struct {
	SuccessURL     string        `yaml:"success_url"`
	CancelURL      string        `yaml:"cancel_url"`
	TermsVersion   string        `yaml:"terms_version" env-default:"1.0"`
	PrivacyVersion string        `yaml:"privacy_version" env-default:"1.0"`
	Plans          []models.Plan `yaml:"plans"`
}

// Notification настройки писем.
type Notification struct {
	AdminEmails []string `yaml:"admin_emails" env:"ADMIN_EMAILS" env-separator:","`
	AppBaseURL  string   `yaml:"app_base_url" env:"APP_BASE_URL"`
}

// Scheduler настройки фоновых задач.
type Scheduler struct {
	TokenSweepInterval time.Duration `yaml:"token_sweep_interval" env-default:"1h"`
}

// Subscription настройки кэша и блокировок подписок.
type Subscription struct {
	CacheTTL time.Duration `yaml:"cache_ttl" env-default:"5m"`
	LockTTL  time.Duration `yaml:"lock_ttl" env-default:"45s"`
}

// RateLimit настройки ограничения частоты запросов к открытым эндпоинтам.
type RateLimit struct {
	RPS   float64 `yaml:"rps" env-default:"1"`
	Burst int     `yaml:"burst" env-default:"5"`
}

// Load читает конфиг из файла path, переменные окружения имеют приоритет.
func Load(path string) (*Config, error) {
	const op = "config.Load"
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("%s: file %s does not exist", op, path)
	}
	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &cfg, nil
}

// validate проверяет согласованность настроек. Блокировка подписки должна
// пережить самый долгий вызов Stripe внутри критической секции.
func (c *Config) validate() error {
	if c.Stripe.Timeout <= 0 {
		return errors.New("stripe.timeout must be positive")
	}
	if c.Stripe.MaxRetries < 0 {
		return errors.New("stripe.max_retries must not be negative")
	}
	if worst := c.Stripe.MaxCallDuration(); c.Subscription.LockTTL <= worst {
		return fmt.Errorf("subscription.lock_ttl %s must exceed the worst-case stripe call %s", c.Subscription.LockTTL, worst)
	}
	return nil
}

// MustLoad функция для загрузки конфига. Путь берётся из CONFIG_PATH,
// предварительно подгружается .env, если он есть.
func MustLoad() *Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("cannot load .env: %s", err)
	}
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}
	cfg, err := Load(configPath)
	if err != nil {
		log.Fatalf("cannot read config: %s", err)
	}
	return cfg
}

// Plan ищет план в каталоге по идентификатору.
func (c *Checkout) Plan(id string) (models.Plan, bool) {
	for _, p := range c.Plans {
		if p.ID == id {
			return p, true
		}
	}
	return models.Plan{}, false
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}

func (c *Config) String() string {
	return fmt.Sprintf(
		"Env: %s\n"+
			"StorageConnectionString: %s\n"+
			"RedisConnection:\n"+
			"  Addr: %s\n"+
			"  DB: %d\n"+
			"HTTPServer:\n"+
			"  Address: %s\n"+
			"  Timeout: %s\n"+
			"JWTToken:\n"+
			"  JWTSecretKey: %s\n"+
			"  TokenTTL: %s\n"+
			"Stripe:\n"+
			"  SecretKey: %s\n"+
			"  WebhookSecret: %s\n"+
			"Plans: %d\n"+
			"AdminEmails: %s\n",
		c.Env,
		mask(c.StorageConnectionString),
		c.AddressRedis,
		c.DB,
		c.AddressHTTP,
		c.TimeoutHTTP,
		mask(c.JWTSecretKey),
		c.TokenTTL,
		mask(c.Stripe.SecretKey),
		mask(c.Stripe.WebhookSecret),
		len(c.Checkout.Plans),
		strings.Join(c.Notification.AdminEmails, ","),
	)
}
