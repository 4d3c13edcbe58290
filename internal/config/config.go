package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Config содержит все конфигурационные параметры приложения
type Config struct {
	Database DatabaseConfig
	App      AppConfig
	Referral ReferralConfig
	Payout   PayoutConfig
	YooKassa YooKassaConfig
	Telegram TelegramConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
}

type AppConfig struct {
	Env      string
	LogLevel string
	LogFile  string
	Port     int
}

// ReferralConfig содержит настройки выпуска кодов и каталога программ
type ReferralConfig struct {
	CodeMaxAttempts int
	ProgramsFile    string
}

// PayoutConfig содержит настройки диспетчера выплат
type PayoutConfig struct {
	DispatchInterval time.Duration
	DispatchTimeout  time.Duration
	DispatchBatch    int
	Workers          int
}

// YooKassaConfig содержит настройки выплат через ЮKassa
type YooKassaConfig struct {
	AgentID       string
	SecretKey     string
	WebhookSecret string
	TestMode      bool
}

// TelegramConfig содержит настройки уведомлений оператора о ручных выплатах
type TelegramConfig struct {
	BotToken       string
	OperatorChatID int64
}

// Load загружает конфигурацию из переменных окружения и .env
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	// Database
	cfg.Database.Host = getEnvDefault("DB_HOST", "localhost")
	cfg.Database.Port = getEnvIntDefault("DB_PORT", 5432)
	cfg.Database.User = os.Getenv("DB_USER")
	cfg.Database.Password = os.Getenv("DB_PASSWORD")
	cfg.Database.Name = os.Getenv("DB_NAME")
	cfg.Database.SSLMode = getEnvDefault("DB_SSL_MODE", "disable")
	cfg.Database.MaxConns = int32(getEnvIntDefault("DB_MAX_CONNS", 10))

	// Referral
	cfg.Referral.CodeMaxAttempts = getEnvIntDefault("REFERRAL_CODE_MAX_ATTEMPTS", 10)
	cfg.Referral.ProgramsFile = os.Getenv("PROGRAMS_FILE")

	// Payout
	cfg.Payout.DispatchInterval = getEnvDurationDefault("PAYOUT_DISPATCH_INTERVAL", 5*time.Minute)
	cfg.Payout.DispatchTimeout = getEnvDurationDefault("PAYOUT_DISPATCH_TIMEOUT", 2*time.Minute)
	cfg.Payout.DispatchBatch = getEnvIntDefault("PAYOUT_DISPATCH_BATCH", 50)
	cfg.Payout.Workers = getEnvIntDefault("PAYOUT_WORKERS", 4)

	// YooKassa
	cfg.YooKassa.AgentID = os.Getenv("YUKASSA_AGENT_ID")
	cfg.YooKassa.SecretKey = os.Getenv("YUKASSA_SECRET_KEY")
	cfg.YooKassa.WebhookSecret = os.Getenv("YUKASSA_WEBHOOK_SECRET")
	cfg.YooKassa.TestMode = getEnvBoolDefault("YUKASSA_TEST_MODE", true)

	// Telegram
	cfg.Telegram.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.Telegram.OperatorChatID = getEnvInt64Default("TELEGRAM_OPERATOR_CHAT_ID", 0)

	// App
	cfg.App.Env = getEnvDefault("APP_ENV", "development")
	cfg.App.LogLevel = getEnvDefault("LOG_LEVEL", "info")
	cfg.App.LogFile = getEnvDefault("LOG_FILE", "logs/app.log")
	cfg.App.Port = getEnvIntDefault("APP_PORT", 8080)

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("ошибка валидации конфигурации: %w", err)
	}

	return cfg, nil
}

func getEnvDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getEnvIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getEnvInt64Default(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return i
}

func getEnvBoolDefault(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getEnvDurationDefault(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// validateConfig проверяет корректность конфигурации
func validateConfig(config *Config) error {
	if config.Database.Host == "" {
		return fmt.Errorf("DB_HOST не установлен")
	}
	if config.Database.User == "" {
		return fmt.Errorf("DB_USER не установлен")
	}
	if config.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD не установлен")
	}
	if config.Database.Name == "" {
		return fmt.Errorf("DB_NAME не установлен")
	}
	if config.Referral.CodeMaxAttempts <= 0 {
		return fmt.Errorf("REFERRAL_CODE_MAX_ATTEMPTS должен быть положительным")
	}
	if config.Payout.Workers <= 0 {
		return fmt.Errorf("PAYOUT_WORKERS должен быть положительным")
	}
	if !config.YooKassa.TestMode && (config.YooKassa.AgentID == "" || config.YooKassa.SecretKey == "") {
		return fmt.Errorf("YUKASSA_AGENT_ID и YUKASSA_SECRET_KEY обязательны вне тестового режима")
	}
	if !config.YooKassa.TestMode && config.YooKassa.WebhookSecret == "" {
		return fmt.Errorf("YUKASSA_WEBHOOK_SECRET обязателен вне тестового режима")
	}
	if config.Telegram.BotToken != "" && config.Telegram.OperatorChatID == 0 {
		return fmt.Errorf("TELEGRAM_OPERATOR_CHAT_ID не установлен")
	}

	return nil
}

// GetDSN возвращает строку подключения к базе данных
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// GetURL возвращает строку подключения в формате URL (для миграций через lib/pq)
func (c *DatabaseConfig) GetURL() string {
	return fmt.Sprintf("postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

// IsDevelopment проверяет, запущено ли приложение в режиме разработки
func (c *AppConfig) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction проверяет, запущено ли приложение в продакшн режиме
func (c *AppConfig) IsProduction() bool {
	return c.Env == "production"
}

// GetLogLevel возвращает уровень логирования в формате zap
func (c *AppConfig) GetLogLevel() zap.AtomicLevel {
	switch c.LogLevel {
	case "debug":
		return zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		return zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		return zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	}
}
