// Пакет config — загрузка и валидация конфигурации Paperstore
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// defaultMaxFileSize — предел размера загружаемого файла (20 МиБ).
const defaultMaxFileSize = 20 << 20

// Config содержит все параметры конфигурации Paperstore.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Имя окружения (development, production)
	Environment string
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- Хранилище blob'ов ---

	// Корневая директория хранения бинарных данных (PS_DATA_DIR)
	DataDir string
	// Имя bucket'а внутри DataDir (PS_BUCKET)
	Bucket string
	// Максимальный размер загружаемого файла в байтах (PS_MAX_FILE_SIZE)
	MaxFileSize int64
	// Интервал фоновой сверки хранилища с каталогом (PS_RECONCILE_INTERVAL).
	// 0 отключает периодический запуск.
	ReconcileInterval time.Duration

	// --- PostgreSQL (каталог ресурсов) ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	// --- Верификация токенов ---

	// Домен удалённого издателя (Auth0-совместимый). Пусто — только локальная проверка.
	AuthDomain string
	// Ожидаемый audience удалённых токенов
	AuthAudience string
	// Секрет локальной HS256-проверки
	JWTSecret string
	// Таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration
	// Интервал обновления JWKS-ключей
	JWKSRefreshInterval time.Duration
	// Допустимое отклонение времени при проверке JWT
	JWTLeeway time.Duration

	// --- HTTP Server Timeouts ---

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	// --- Graceful shutdown ---

	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку, если обязательные переменные не заданы
// или значения некорректны.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// PS_PORT — порт HTTP-сервера (по умолчанию 5000)
	cfg.Port, err = getEnvInt("PS_PORT", 5000)
	if err != nil {
		return nil, fmt.Errorf("PS_PORT: %w", err)
	}

	// PS_ENVIRONMENT — имя окружения (по умолчанию development)
	cfg.Environment = getEnvDefault("PS_ENVIRONMENT", "development")

	// PS_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("PS_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("PS_LOG_LEVEL: %w", err)
	}

	// PS_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("PS_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("PS_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- Хранилище blob'ов ---

	// PS_DATA_DIR — директория бинарных данных (по умолчанию ./data)
	cfg.DataDir = getEnvDefault("PS_DATA_DIR", "./data")

	// PS_BUCKET — имя bucket'а (по умолчанию uploads)
	cfg.Bucket = getEnvDefault("PS_BUCKET", "uploads")

	// PS_MAX_FILE_SIZE — предел размера файла в байтах (по умолчанию 20 МиБ)
	cfg.MaxFileSize, err = getEnvInt64("PS_MAX_FILE_SIZE", defaultMaxFileSize)
	if err != nil {
		return nil, fmt.Errorf("PS_MAX_FILE_SIZE: %w", err)
	}
	if cfg.MaxFileSize <= 0 {
		return nil, fmt.Errorf("PS_MAX_FILE_SIZE: значение должно быть > 0")
	}

	// PS_RECONCILE_INTERVAL — интервал фоновой сверки (по умолчанию 1h)
	cfg.ReconcileInterval, err = getEnvDuration("PS_RECONCILE_INTERVAL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("PS_RECONCILE_INTERVAL: %w", err)
	}

	// --- PostgreSQL ---

	cfg.DBHost = getEnvDefault("PS_DB_HOST", "localhost")
	cfg.DBPort, err = getEnvInt("PS_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("PS_DB_PORT: %w", err)
	}
	cfg.DBName = getEnvDefault("PS_DB_NAME", "paperstore")
	cfg.DBUser = getEnvDefault("PS_DB_USER", "paperstore")
	cfg.DBPassword = os.Getenv("PS_DB_PASSWORD")
	cfg.DBSSLMode = getEnvDefault("PS_DB_SSLMODE", "disable")

	// --- Верификация токенов ---

	// PS_AUTH_DOMAIN — домен удалённого издателя (опционально)
	cfg.AuthDomain = os.Getenv("PS_AUTH_DOMAIN")
	// PS_AUTH_AUDIENCE — ожидаемый audience (опционально)
	cfg.AuthAudience = os.Getenv("PS_AUTH_AUDIENCE")

	// PS_JWT_SECRET — секрет локальной проверки (обязателен: локальная
	// проверка — безусловный fallback удалённой)
	cfg.JWTSecret, err = getEnvRequired("PS_JWT_SECRET")
	if err != nil {
		return nil, err
	}

	cfg.JWKSClientTimeout, err = getEnvDuration("PS_JWKS_CLIENT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PS_JWKS_CLIENT_TIMEOUT: %w", err)
	}
	cfg.JWKSRefreshInterval, err = getEnvDuration("PS_JWKS_REFRESH_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("PS_JWKS_REFRESH_INTERVAL: %w", err)
	}
	cfg.JWTLeeway, err = getEnvDuration("PS_JWT_LEEWAY", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PS_JWT_LEEWAY: %w", err)
	}

	// --- HTTP Server Timeouts ---

	cfg.HTTPReadTimeout, err = getEnvDuration("PS_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PS_HTTP_READ_TIMEOUT: %w", err)
	}
	cfg.HTTPWriteTimeout, err = getEnvDuration("PS_HTTP_WRITE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PS_HTTP_WRITE_TIMEOUT: %w", err)
	}
	cfg.HTTPIdleTimeout, err = getEnvDuration("PS_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PS_HTTP_IDLE_TIMEOUT: %w", err)
	}

	// --- Graceful shutdown ---

	cfg.ShutdownTimeout, err = getEnvDuration("PS_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PS_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// IsProduction возвращает true для production-окружения.
// Детали внутренних ошибок наружу отдаются только вне production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// HasRemoteIssuer возвращает true, если настроена удалённая верификация токенов.
func (c *Config) HasRemoteIssuer() bool {
	return c.AuthDomain != ""
}

// JWKSURL возвращает URL JWKS endpoint удалённого издателя.
func (c *Config) JWKSURL() string {
	return fmt.Sprintf("https://%s/.well-known/jwks.json", c.AuthDomain)
}

// Issuer возвращает ожидаемый issuer удалённых токенов.
func (c *Config) Issuer() string {
	return fmt.Sprintf("https://%s/", c.AuthDomain)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvInt64 возвращает int64 значение переменной окружения или значение по умолчанию.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
