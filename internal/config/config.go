// Пакет config — загрузка и валидация конфигурации сервиса transfer
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

// Config содержит все параметры конфигурации сервиса.
type Config struct {
	// Порт HTTP-сервера
	Port int
	// Базовый URL для формирования ссылок скачивания
	// (например, "https://transfer.jonte.lol")
	BaseURL string
	// Путь к директории хранения объектов
	DataDir string
	// Путь к директории WAL
	WALDir string
	// Максимальный размер объекта в байтах
	MaxFileSize int64
	// Срок хранения по умолчанию в днях, если заголовок Max-Days
	// не задан. 0 — без ограничения по времени.
	DefaultMaxDays float64
	// Интервал запуска GC. Ограничивает задержку, с которой истёкший
	// объект физически исчезает с диска.
	GCInterval time.Duration
	// Интервал фоновой сверки хранилища
	ReconcileInterval time.Duration
	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}

	// TR_PORT — порт HTTP-сервера (по умолчанию 8080)
	port, err := getEnvInt("TR_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("TR_PORT: %w", err)
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("TR_PORT: значение %d вне допустимого диапазона 1-65535", port)
	}
	cfg.Port = port

	// TR_BASE_URL — базовый URL ссылок (по умолчанию локальный адрес)
	cfg.BaseURL = strings.TrimSuffix(
		getEnvDefault("TR_BASE_URL", fmt.Sprintf("http://localhost:%d", port)), "/")

	// TR_DATA_DIR — обязательный
	cfg.DataDir, err = getEnvRequired("TR_DATA_DIR")
	if err != nil {
		return nil, err
	}

	// TR_WAL_DIR — обязательный
	cfg.WALDir, err = getEnvRequired("TR_WAL_DIR")
	if err != nil {
		return nil, err
	}

	// TR_MAX_FILE_SIZE — максимальный размер объекта (по умолчанию 10 GiB)
	maxFileSize, err := getEnvInt64("TR_MAX_FILE_SIZE", 10*1024*1024*1024)
	if err != nil {
		return nil, fmt.Errorf("TR_MAX_FILE_SIZE: %w", err)
	}
	if maxFileSize <= 0 {
		return nil, fmt.Errorf("TR_MAX_FILE_SIZE: значение должно быть положительным")
	}
	cfg.MaxFileSize = maxFileSize

	// TR_DEFAULT_MAX_DAYS — срок хранения по умолчанию (по умолчанию 7 дней)
	defaultMaxDays, err := getEnvFloat("TR_DEFAULT_MAX_DAYS", 7)
	if err != nil {
		return nil, fmt.Errorf("TR_DEFAULT_MAX_DAYS: %w", err)
	}
	if defaultMaxDays < 0 {
		return nil, fmt.Errorf("TR_DEFAULT_MAX_DAYS: значение не может быть отрицательным")
	}
	cfg.DefaultMaxDays = defaultMaxDays

	// TR_GC_INTERVAL — интервал GC (по умолчанию 1m)
	cfg.GCInterval, err = getEnvDuration("TR_GC_INTERVAL", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("TR_GC_INTERVAL: %w", err)
	}

	// TR_RECONCILE_INTERVAL — интервал сверки (по умолчанию 6h)
	cfg.ReconcileInterval, err = getEnvDuration("TR_RECONCILE_INTERVAL", 6*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("TR_RECONCILE_INTERVAL: %w", err)
	}

	// TR_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("TR_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("TR_SHUTDOWN_TIMEOUT: %w", err)
	}

	// TR_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("TR_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("TR_LOG_LEVEL: %w", err)
	}

	// TR_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("TR_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("TR_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	return cfg, nil
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

// getEnvFloat возвращает float64 значение переменной окружения или значение по умолчанию.
func getEnvFloat(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное число: %q", val)
	}
	return f, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1m, 6h)", val)
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
