// Пакет config — загрузка и валидация конфигурации LexStore
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

// Config содержит все параметры конфигурации LexStore.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- PostgreSQL ---

	// Хост PostgreSQL
	DBHost string
	// Порт PostgreSQL
	DBPort int
	// Имя базы данных
	DBName string
	// Имя пользователя PostgreSQL
	DBUser string
	// Пароль пользователя PostgreSQL
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- Хранилище документов ---

	// Корневой каталог бакетов с файлами документов
	DataDir string
	// Базовый публичный URL, по которому раздаются файлы
	// (например, https://docs.example.com)
	PublicBaseURL string
	// Максимальный размер загружаемого файла в байтах
	MaxUploadBytes int64

	// --- JWT ---

	// URL JWKS endpoint провайдера аутентификации
	JWTJWKSURL string
	// Ожидаемый issuer JWT (опционально; пустой — не проверяется)
	JWTIssuer string
	// Допустимый сдвиг часов при проверке exp/nbf
	JWTLeeway time.Duration

	// --- Платёжный шлюз ---

	// Базовый URL платёжного шлюза
	PaymentGatewayURL string
	// Таймаут запросов к платёжному шлюзу
	PaymentGatewayTimeout time.Duration

	// --- Кэш документов ---

	// Максимальное число документов в LRU-кэше
	CacheSize int
	// Время жизни записи кэша
	CacheTTL time.Duration

	// --- HTTP-таймауты ---

	// Таймаут чтения запроса
	HTTPReadTimeout time.Duration
	// Таймаут записи ответа (должен покрывать скачивание больших файлов)
	HTTPWriteTimeout time.Duration
	// Таймаут простоя keep-alive соединения
	HTTPIdleTimeout time.Duration

	// --- Подписки ---

	// Интервал перевода просроченных подписок в expired
	SubscriptionSweepInterval time.Duration

	// --- Мониторинг ---

	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
	// Имя группы в метриках topologymetrics
	DephealthGroup string

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// LS_PORT — порт HTTP-сервера (по умолчанию 8080)
	cfg.Port, err = getEnvInt("LS_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("LS_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("LS_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	// LS_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("LS_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("LS_LOG_LEVEL: %w", err)
	}

	// LS_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("LS_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("LS_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- PostgreSQL ---

	// LS_DB_HOST — обязательный
	cfg.DBHost, err = getEnvRequired("LS_DB_HOST")
	if err != nil {
		return nil, err
	}

	// LS_DB_PORT — порт PostgreSQL (по умолчанию 5432)
	cfg.DBPort, err = getEnvInt("LS_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("LS_DB_PORT: %w", err)
	}

	// LS_DB_NAME — обязательный
	cfg.DBName, err = getEnvRequired("LS_DB_NAME")
	if err != nil {
		return nil, err
	}

	// LS_DB_USER — обязательный
	cfg.DBUser, err = getEnvRequired("LS_DB_USER")
	if err != nil {
		return nil, err
	}

	// LS_DB_PASSWORD — обязательный
	cfg.DBPassword, err = getEnvRequired("LS_DB_PASSWORD")
	if err != nil {
		return nil, err
	}

	// LS_DB_SSL_MODE — режим SSL (по умолчанию disable)
	cfg.DBSSLMode = getEnvDefault("LS_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("LS_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// --- Хранилище документов ---

	// LS_DATA_DIR — обязательный
	cfg.DataDir, err = getEnvRequired("LS_DATA_DIR")
	if err != nil {
		return nil, err
	}

	// LS_PUBLIC_BASE_URL — обязательный
	cfg.PublicBaseURL, err = getEnvRequired("LS_PUBLIC_BASE_URL")
	if err != nil {
		return nil, err
	}
	// Убираем trailing slash
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")

	// LS_MAX_UPLOAD_BYTES — максимальный размер файла (по умолчанию 100 МБ)
	maxUpload, err := getEnvInt("LS_MAX_UPLOAD_BYTES", 100*1024*1024)
	if err != nil {
		return nil, fmt.Errorf("LS_MAX_UPLOAD_BYTES: %w", err)
	}
	if maxUpload < 1 {
		return nil, fmt.Errorf("LS_MAX_UPLOAD_BYTES: значение должно быть положительным")
	}
	cfg.MaxUploadBytes = int64(maxUpload)

	// --- JWT ---

	// LS_JWT_JWKS_URL — обязательный
	cfg.JWTJWKSURL, err = getEnvRequired("LS_JWT_JWKS_URL")
	if err != nil {
		return nil, err
	}

	// LS_JWT_ISSUER — опциональный (пустой — issuer не проверяется)
	cfg.JWTIssuer = getEnvDefault("LS_JWT_ISSUER", "")

	// LS_JWT_LEEWAY — допустимый сдвиг часов (по умолчанию 30s)
	cfg.JWTLeeway, err = getEnvDuration("LS_JWT_LEEWAY", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("LS_JWT_LEEWAY: %w", err)
	}

	// --- Платёжный шлюз ---

	// LS_PAYMENT_GATEWAY_URL — обязательный
	cfg.PaymentGatewayURL, err = getEnvRequired("LS_PAYMENT_GATEWAY_URL")
	if err != nil {
		return nil, err
	}
	cfg.PaymentGatewayURL = strings.TrimRight(cfg.PaymentGatewayURL, "/")

	// LS_PAYMENT_GATEWAY_TIMEOUT — таймаут запросов (по умолчанию 30s)
	cfg.PaymentGatewayTimeout, err = getEnvDuration("LS_PAYMENT_GATEWAY_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("LS_PAYMENT_GATEWAY_TIMEOUT: %w", err)
	}

	// --- Кэш документов ---

	// LS_CACHE_SIZE — размер LRU-кэша (по умолчанию 1000)
	cfg.CacheSize, err = getEnvInt("LS_CACHE_SIZE", 1000)
	if err != nil {
		return nil, fmt.Errorf("LS_CACHE_SIZE: %w", err)
	}
	if cfg.CacheSize < 1 {
		return nil, fmt.Errorf("LS_CACHE_SIZE: значение должно быть положительным")
	}

	// LS_CACHE_TTL — TTL записи кэша (по умолчанию 5m)
	cfg.CacheTTL, err = getEnvDuration("LS_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("LS_CACHE_TTL: %w", err)
	}

	// --- HTTP-таймауты ---

	// LS_HTTP_READ_TIMEOUT — таймаут чтения (по умолчанию 10m:
	// чтение тела при загрузке больших документов)
	cfg.HTTPReadTimeout, err = getEnvDuration("LS_HTTP_READ_TIMEOUT", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("LS_HTTP_READ_TIMEOUT: %w", err)
	}

	// LS_HTTP_WRITE_TIMEOUT — таймаут записи (по умолчанию 10m:
	// скачивание больших документов по медленным каналам)
	cfg.HTTPWriteTimeout, err = getEnvDuration("LS_HTTP_WRITE_TIMEOUT", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("LS_HTTP_WRITE_TIMEOUT: %w", err)
	}

	// LS_HTTP_IDLE_TIMEOUT — таймаут простоя (по умолчанию 120s)
	cfg.HTTPIdleTimeout, err = getEnvDuration("LS_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("LS_HTTP_IDLE_TIMEOUT: %w", err)
	}

	// --- Подписки ---

	// LS_SUBSCRIPTION_SWEEP_INTERVAL — интервал обработки просроченных
	// подписок (по умолчанию 10m)
	cfg.SubscriptionSweepInterval, err = getEnvDuration("LS_SUBSCRIPTION_SWEEP_INTERVAL", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("LS_SUBSCRIPTION_SWEEP_INTERVAL: %w", err)
	}

	// --- Мониторинг ---

	// LS_DEPHEALTH_CHECK_INTERVAL — интервал проверки зависимостей (по умолчанию 15s)
	cfg.DephealthCheckInterval, err = getEnvDuration("LS_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("LS_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// LS_DEPHEALTH_GROUP — имя группы в метриках (по умолчанию lexstore)
	cfg.DephealthGroup = getEnvDefault("LS_DEPHEALTH_GROUP", "lexstore")

	// --- Graceful shutdown ---

	// LS_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("LS_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("LS_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL подключения к PostgreSQL
// (формат postgres://, используется в лейблах topologymetrics).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
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
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
