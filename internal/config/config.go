// Пакет config — загрузка и валидация конфигурации Lifecycle Module
// из переменных окружения (префикс LM_).
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Бэкенды хранилища записей.
const (
	StoreBackendPostgres  = "postgres"
	StoreBackendFirestore = "firestore"
	StoreBackendMemory    = "memory"
)

// Бэкенды объектного хранилища.
const (
	ObjectBackendLocal = "local"
	ObjectBackendGCS   = "gcs"
)

// Config содержит все параметры конфигурации Lifecycle Module.
type Config struct {
	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// Бэкенд записей: postgres, firestore, memory
	StoreBackend string

	// PostgreSQL
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	// Firestore
	FirestoreProjectID        string
	FirestoreCollectionPrefix string

	// Бэкенд объектов: local, gcs
	ObjectBackend string
	// Корневая директория локального хранилища объектов
	DataDir string
	// Секрет подписи локальных upload-грантов (HS256)
	GrantSecret string
	// Внешний базовый URL сервиса (для ссылок локальных грантов)
	PublicBaseURL string
	// Имя GCS bucket
	GCSBucket string

	// Время жизни upload-гранта
	UploadGrantTTL time.Duration
	// Дополнительное окно после истечения гранта, в течение которого
	// ещё допускается finalize
	FinalizeGrace time.Duration
	// Срок хранения загруженных файлов
	FileRetention time.Duration
	// Срок хранения экспортов
	ExportRetention time.Duration
	// Максимальный размер файла в байтах
	MaxFileSize int64

	// Фоновая очистка
	PurgeEnabled       bool
	PurgeInterval      time.Duration
	PurgeBatchSize     int
	PurgeConcurrency   int
	PurgeDeleteRetries int

	// Сверка зависших OCR
	OCRReconcileInterval time.Duration
	OCRStuckTimeout      time.Duration

	// Кэш участников дел
	MembershipCacheSize int
	MembershipCacheTTL  time.Duration

	// Аутентификация
	AuthDisabled        bool
	JWKSUrl             string
	JWKSCACert          string
	TLSSkipVerify       bool
	JWKSClientTimeout   time.Duration
	JWKSRefreshInterval time.Duration
	JWTLeeway           time.Duration

	// HTTP-сервер
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	ShutdownTimeout  time.Duration

	// topologymetrics
	DephealthCheckInterval time.Duration
	DephealthGroup         string
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// LM_PORT — порт HTTP-сервера (по умолчанию 8030)
	cfg.Port, err = getEnvInt("LM_PORT", 8030)
	if err != nil {
		return nil, fmt.Errorf("LM_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("LM_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("LM_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("LM_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("LM_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("LM_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	if err := cfg.loadStore(); err != nil {
		return nil, err
	}
	if err := cfg.loadObjects(); err != nil {
		return nil, err
	}
	if err := cfg.loadLifecycle(); err != nil {
		return nil, err
	}
	if err := cfg.loadAuth(); err != nil {
		return nil, err
	}
	if err := cfg.loadServer(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadStore читает параметры бэкенда записей.
func (cfg *Config) loadStore() error {
	var err error

	cfg.StoreBackend = getEnvDefault("LM_STORE_BACKEND", StoreBackendPostgres)
	switch cfg.StoreBackend {
	case StoreBackendPostgres:
		cfg.DBHost, err = getEnvRequired("LM_DB_HOST")
		if err != nil {
			return err
		}
		cfg.DBPort, err = getEnvInt("LM_DB_PORT", 5432)
		if err != nil {
			return fmt.Errorf("LM_DB_PORT: %w", err)
		}
		cfg.DBName, err = getEnvRequired("LM_DB_NAME")
		if err != nil {
			return err
		}
		cfg.DBUser, err = getEnvRequired("LM_DB_USER")
		if err != nil {
			return err
		}
		cfg.DBPassword, err = getEnvRequired("LM_DB_PASSWORD")
		if err != nil {
			return err
		}
		cfg.DBSSLMode = getEnvDefault("LM_DB_SSL_MODE", "disable")
	case StoreBackendFirestore:
		cfg.FirestoreProjectID, err = getEnvRequired("LM_FIRESTORE_PROJECT_ID")
		if err != nil {
			return err
		}
		cfg.FirestoreCollectionPrefix = getEnvDefault("LM_FIRESTORE_COLLECTION_PREFIX", "")
	case StoreBackendMemory:
	default:
		return fmt.Errorf("LM_STORE_BACKEND: недопустимое значение %q, допустимые: postgres, firestore, memory", cfg.StoreBackend)
	}
	return nil
}

// loadObjects читает параметры объектного хранилища.
func (cfg *Config) loadObjects() error {
	var err error

	cfg.ObjectBackend = getEnvDefault("LM_OBJECT_BACKEND", ObjectBackendLocal)
	switch cfg.ObjectBackend {
	case ObjectBackendLocal:
		cfg.DataDir, err = getEnvRequired("LM_DATA_DIR")
		if err != nil {
			return err
		}
		cfg.GrantSecret, err = getEnvRequired("LM_GRANT_SECRET")
		if err != nil {
			return err
		}
		if len(cfg.GrantSecret) < 32 {
			return fmt.Errorf("LM_GRANT_SECRET: длина секрета должна быть не меньше 32 символов")
		}
		cfg.PublicBaseURL = getEnvDefault("LM_PUBLIC_BASE_URL", fmt.Sprintf("http://localhost:%d", cfg.Port))
		if _, err := url.ParseRequestURI(cfg.PublicBaseURL); err != nil {
			return fmt.Errorf("LM_PUBLIC_BASE_URL: некорректный URL %q", cfg.PublicBaseURL)
		}
		cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	case ObjectBackendGCS:
		cfg.GCSBucket, err = getEnvRequired("LM_GCS_BUCKET")
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("LM_OBJECT_BACKEND: недопустимое значение %q, допустимые: local, gcs", cfg.ObjectBackend)
	}
	return nil
}

// loadLifecycle читает сроки жизни, параметры очистки и сверки.
func (cfg *Config) loadLifecycle() error {
	var err error

	// LM_UPLOAD_GRANT_TTL — время жизни upload-гранта (по умолчанию 15m)
	cfg.UploadGrantTTL, err = getEnvPositiveDuration("LM_UPLOAD_GRANT_TTL", 15*time.Minute)
	if err != nil {
		return err
	}
	cfg.FinalizeGrace, err = getEnvDuration("LM_FINALIZE_GRACE", time.Hour)
	if err != nil {
		return fmt.Errorf("LM_FINALIZE_GRACE: %w", err)
	}
	if cfg.FinalizeGrace < 0 {
		return fmt.Errorf("LM_FINALIZE_GRACE: значение не может быть отрицательным")
	}
	// LM_FILE_RETENTION — срок хранения файлов (по умолчанию 7 дней)
	cfg.FileRetention, err = getEnvPositiveDuration("LM_FILE_RETENTION", 7*24*time.Hour)
	if err != nil {
		return err
	}
	cfg.ExportRetention, err = getEnvPositiveDuration("LM_EXPORT_RETENTION", 7*24*time.Hour)
	if err != nil {
		return err
	}

	// LM_MAX_FILE_SIZE — максимальный размер файла (по умолчанию 100 MiB)
	cfg.MaxFileSize, err = getEnvInt64("LM_MAX_FILE_SIZE", 100*1024*1024)
	if err != nil {
		return fmt.Errorf("LM_MAX_FILE_SIZE: %w", err)
	}
	if cfg.MaxFileSize <= 0 {
		return fmt.Errorf("LM_MAX_FILE_SIZE: значение должно быть положительным")
	}

	cfg.PurgeEnabled, err = getEnvBool("LM_PURGE_ENABLED", true)
	if err != nil {
		return fmt.Errorf("LM_PURGE_ENABLED: %w", err)
	}
	cfg.PurgeInterval, err = getEnvPositiveDuration("LM_PURGE_INTERVAL", time.Hour)
	if err != nil {
		return err
	}
	cfg.PurgeBatchSize, err = getEnvPositiveInt("LM_PURGE_BATCH_SIZE", 500)
	if err != nil {
		return err
	}
	cfg.PurgeConcurrency, err = getEnvPositiveInt("LM_PURGE_CONCURRENCY", 8)
	if err != nil {
		return err
	}
	cfg.PurgeDeleteRetries, err = getEnvPositiveInt("LM_PURGE_DELETE_RETRIES", 4)
	if err != nil {
		return err
	}

	cfg.OCRReconcileInterval, err = getEnvPositiveDuration("LM_OCR_RECONCILE_INTERVAL", 15*time.Minute)
	if err != nil {
		return err
	}
	cfg.OCRStuckTimeout, err = getEnvPositiveDuration("LM_OCR_STUCK_TIMEOUT", time.Hour)
	if err != nil {
		return err
	}

	cfg.MembershipCacheSize, err = getEnvPositiveInt("LM_MEMBERSHIP_CACHE_SIZE", 10000)
	if err != nil {
		return err
	}
	cfg.MembershipCacheTTL, err = getEnvPositiveDuration("LM_MEMBERSHIP_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return err
	}
	return nil
}

// loadAuth читает параметры JWT-аутентификации.
func (cfg *Config) loadAuth() error {
	var err error

	cfg.AuthDisabled, err = getEnvBool("LM_AUTH_DISABLED", false)
	if err != nil {
		return fmt.Errorf("LM_AUTH_DISABLED: %w", err)
	}

	cfg.JWKSUrl = getEnvDefault("LM_JWKS_URL", "")
	if !cfg.AuthDisabled && cfg.JWKSUrl == "" {
		return fmt.Errorf("LM_JWKS_URL: обязательная переменная окружения не задана")
	}
	cfg.JWKSCACert = getEnvDefault("LM_JWKS_CA_CERT", "")

	cfg.TLSSkipVerify, err = getEnvBool("LM_TLS_SKIP_VERIFY", false)
	if err != nil {
		return fmt.Errorf("LM_TLS_SKIP_VERIFY: %w", err)
	}
	cfg.JWKSClientTimeout, err = getEnvPositiveDuration("LM_JWKS_CLIENT_TIMEOUT", 10*time.Second)
	if err != nil {
		return err
	}
	cfg.JWKSRefreshInterval, err = getEnvPositiveDuration("LM_JWKS_REFRESH_INTERVAL", 15*time.Minute)
	if err != nil {
		return err
	}
	cfg.JWTLeeway, err = getEnvDuration("LM_JWT_LEEWAY", 5*time.Second)
	if err != nil {
		return fmt.Errorf("LM_JWT_LEEWAY: %w", err)
	}
	return nil
}

// loadServer читает таймауты HTTP-сервера и параметры topologymetrics.
func (cfg *Config) loadServer() error {
	var err error

	cfg.HTTPReadTimeout, err = getEnvPositiveDuration("LM_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return err
	}
	cfg.HTTPWriteTimeout, err = getEnvPositiveDuration("LM_HTTP_WRITE_TIMEOUT", 60*time.Second)
	if err != nil {
		return err
	}
	cfg.HTTPIdleTimeout, err = getEnvPositiveDuration("LM_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return err
	}
	cfg.ShutdownTimeout, err = getEnvPositiveDuration("LM_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return err
	}
	cfg.DephealthCheckInterval, err = getEnvPositiveDuration("LM_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return err
	}
	cfg.DephealthGroup = getEnvDefault("LM_DEPHEALTH_GROUP", "lifecycle-module")
	return nil
}

// DatabaseDSN возвращает DSN для pgxpool.
func (cfg *Config) DatabaseDSN() string {
	return cfg.databaseURLWithScheme("postgres")
}

// MigrateURL возвращает URL для golang-migrate (драйвер pgx5).
func (cfg *Config) MigrateURL() string {
	return cfg.databaseURLWithScheme("pgx5")
}

// databaseURLWithScheme собирает URL подключения с экранированием учётных данных.
func (cfg *Config) databaseURLWithScheme(scheme string) string {
	u := url.URL{
		Scheme:   scheme,
		User:     url.UserPassword(cfg.DBUser, cfg.DBPassword),
		Host:     fmt.Sprintf("%s:%d", cfg.DBHost, cfg.DBPort),
		Path:     "/" + cfg.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(cfg.DBSSLMode),
	}
	return u.String()
}

// DatabaseURL возвращает URL PostgreSQL без учётных данных
// (для лейблов topologymetrics).
func (cfg *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%d/%s", cfg.DBHost, cfg.DBPort, cfg.DBName)
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

// getEnvPositiveInt — getEnvInt с проверкой n > 0. Ошибка уже содержит имя переменной.
func getEnvPositiveInt(key string, defaultVal int) (int, error) {
	n, err := getEnvInt(key, defaultVal)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s: значение должно быть положительным, получено %d", key, n)
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

// getEnvBool возвращает bool значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное логическое значение: %q", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 15m, 168h)", val)
	}
	return d, nil
}

// getEnvPositiveDuration — getEnvDuration с проверкой d > 0. Ошибка уже содержит имя переменной.
func getEnvPositiveDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	d, err := getEnvDuration(key, defaultVal)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: длительность должна быть положительной", key)
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
