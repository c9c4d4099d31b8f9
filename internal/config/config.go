// Пакет config — загрузка и валидация конфигурации mediagate
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Политики обработки cache miss.
const (
	// MissPolicyWait — запрос ждёт завершения fetch/publish и получает 200.
	MissPolicyWait = "wait"
	// MissPolicyAsync — запрос сразу получает 202, pipeline продолжается в фоне.
	MissPolicyAsync = "async"
)

// Config содержит все параметры конфигурации mediagate.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- HTTP Server Timeouts ---

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	// Таймаут graceful shutdown
	ShutdownTimeout time.Duration

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	// --- Cache Store (memory tier) ---

	// Максимальное количество записей в каждом LRU
	CacheMaxSize int
	// Время жизни записи в памяти
	CacheTTL time.Duration

	// --- Quota ---

	// Часовой пояс, в котором определяется «сегодня» для дневных лимитов
	QuotaLocation *time.Location

	// --- Egress ---

	EgressEnabled        bool
	EgressListURL        string
	EgressRefreshTimeout time.Duration

	// --- Resolver ---

	ResolveAttempts int
	ResolveBackoff  time.Duration
	// Лимит запросов к поиску в секунду (0 — без ограничения)
	SearchRPS float64

	// --- Fetcher ---

	FetchAttempts int
	FetchTimeout  time.Duration
	FetchBackoff  time.Duration
	FetchMinSize  int64
	FetchFormat   string
	WorkDir       string
	CookiesPath   string
	// Размер пула воркеров для fetch/publish
	Workers int

	// --- Blob host ---

	BlobUploadURL string
	BlobUserHash  string
	BlobTimeout   time.Duration

	// --- Orchestrator ---

	MissPolicy string

	// --- Telegram (опционально) ---

	TelegramBotToken  string
	TelegramLogChatID string
	TelegramAPIURL    string

	// --- Janitor ---

	JanitorInterval time.Duration
	JanitorMaxAge   time.Duration

	// --- Dephealth ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку, если обязательные переменные не заданы
// или значения некорректны.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	cfg.Port, err = getEnvInt("MG_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("MG_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("MG_PORT: значение %d вне диапазона 1-65535", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("MG_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("MG_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("MG_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("MG_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	cfg.HTTPReadTimeout, err = getEnvDuration("MG_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("MG_HTTP_READ_TIMEOUT: %w", err)
	}

	// Запись ответа на resolve может ждать весь pipeline (до attempts × fetch timeout),
	// поэтому по умолчанию таймаут записи отключён.
	cfg.HTTPWriteTimeout, err = getEnvDuration("MG_HTTP_WRITE_TIMEOUT", 0)
	if err != nil {
		return nil, fmt.Errorf("MG_HTTP_WRITE_TIMEOUT: %w", err)
	}

	cfg.HTTPIdleTimeout, err = getEnvDuration("MG_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("MG_HTTP_IDLE_TIMEOUT: %w", err)
	}

	cfg.ShutdownTimeout, err = getEnvDuration("MG_SHUTDOWN_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("MG_SHUTDOWN_TIMEOUT: %w", err)
	}

	// --- PostgreSQL ---

	cfg.DBHost, err = getEnvRequired("MG_DB_HOST")
	if err != nil {
		return nil, err
	}

	cfg.DBPort, err = getEnvInt("MG_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("MG_DB_PORT: %w", err)
	}

	cfg.DBName, err = getEnvRequired("MG_DB_NAME")
	if err != nil {
		return nil, err
	}

	cfg.DBUser, err = getEnvRequired("MG_DB_USER")
	if err != nil {
		return nil, err
	}

	cfg.DBPassword, err = getEnvRequired("MG_DB_PASSWORD")
	if err != nil {
		return nil, err
	}

	cfg.DBSSLMode = getEnvDefault("MG_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("MG_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// --- Cache Store ---

	cfg.CacheMaxSize, err = getEnvInt("MG_CACHE_MAX_SIZE", 10000)
	if err != nil {
		return nil, fmt.Errorf("MG_CACHE_MAX_SIZE: %w", err)
	}
	if cfg.CacheMaxSize <= 0 {
		return nil, fmt.Errorf("MG_CACHE_MAX_SIZE: значение должно быть > 0")
	}

	cfg.CacheTTL, err = getEnvPositiveDuration("MG_CACHE_TTL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("MG_CACHE_TTL: %w", err)
	}

	// --- Quota ---

	tz := getEnvDefault("MG_QUOTA_TIMEZONE", "UTC")
	cfg.QuotaLocation, err = time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("MG_QUOTA_TIMEZONE: неизвестный часовой пояс %q", tz)
	}

	// --- Egress ---

	cfg.EgressEnabled, err = getEnvBool("MG_EGRESS_ENABLED", false)
	if err != nil {
		return nil, fmt.Errorf("MG_EGRESS_ENABLED: %w", err)
	}

	cfg.EgressListURL = getEnvDefault("MG_EGRESS_LIST_URL", "")
	if cfg.EgressEnabled && cfg.EgressListURL == "" {
		return nil, fmt.Errorf("MG_EGRESS_LIST_URL: обязателен при MG_EGRESS_ENABLED=true")
	}
	if cfg.EgressListURL != "" {
		if err := validateHTTPURL(cfg.EgressListURL); err != nil {
			return nil, fmt.Errorf("MG_EGRESS_LIST_URL: %w", err)
		}
	}

	cfg.EgressRefreshTimeout, err = getEnvPositiveDuration("MG_EGRESS_REFRESH_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("MG_EGRESS_REFRESH_TIMEOUT: %w", err)
	}

	// --- Resolver ---

	cfg.ResolveAttempts, err = getEnvAttempts("MG_RESOLVE_ATTEMPTS", 3)
	if err != nil {
		return nil, err
	}

	cfg.ResolveBackoff, err = getEnvDuration("MG_RESOLVE_BACKOFF", time.Second)
	if err != nil {
		return nil, fmt.Errorf("MG_RESOLVE_BACKOFF: %w", err)
	}

	cfg.SearchRPS, err = getEnvFloat("MG_SEARCH_RPS", 2)
	if err != nil {
		return nil, fmt.Errorf("MG_SEARCH_RPS: %w", err)
	}
	if cfg.SearchRPS < 0 {
		return nil, fmt.Errorf("MG_SEARCH_RPS: значение должно быть >= 0")
	}

	// --- Fetcher ---

	cfg.FetchAttempts, err = getEnvAttempts("MG_FETCH_ATTEMPTS", 3)
	if err != nil {
		return nil, err
	}

	cfg.FetchTimeout, err = getEnvPositiveDuration("MG_FETCH_TIMEOUT", 900*time.Second)
	if err != nil {
		return nil, fmt.Errorf("MG_FETCH_TIMEOUT: %w", err)
	}

	cfg.FetchBackoff, err = getEnvDuration("MG_FETCH_BACKOFF", 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("MG_FETCH_BACKOFF: %w", err)
	}

	cfg.FetchMinSize, err = getEnvInt64("MG_FETCH_MIN_SIZE", 8*1024)
	if err != nil {
		return nil, fmt.Errorf("MG_FETCH_MIN_SIZE: %w", err)
	}

	cfg.FetchFormat = getEnvDefault("MG_FETCH_FORMAT",
		"bestvideo[vcodec^=avc1]+bestaudio[acodec^=mp4a]/best[ext=mp4]/best")

	cfg.WorkDir = getEnvDefault("MG_WORK_DIR", filepath.Join(os.TempDir(), "mediagate"))

	cfg.CookiesPath = getEnvDefault("MG_COOKIES_PATH", "")

	cfg.Workers, err = getEnvInt("MG_WORKERS", 4)
	if err != nil {
		return nil, fmt.Errorf("MG_WORKERS: %w", err)
	}
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("MG_WORKERS: значение должно быть > 0")
	}

	// --- Blob host ---

	cfg.BlobUploadURL = getEnvDefault("MG_BLOB_UPLOAD_URL", "https://catbox.moe/user/api.php")
	if err := validateHTTPURL(cfg.BlobUploadURL); err != nil {
		return nil, fmt.Errorf("MG_BLOB_UPLOAD_URL: %w", err)
	}

	cfg.BlobUserHash = getEnvDefault("MG_BLOB_USERHASH", "")

	cfg.BlobTimeout, err = getEnvPositiveDuration("MG_BLOB_TIMEOUT", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("MG_BLOB_TIMEOUT: %w", err)
	}

	// --- Orchestrator ---

	cfg.MissPolicy = strings.ToLower(getEnvDefault("MG_MISS_POLICY", MissPolicyWait))
	if cfg.MissPolicy != MissPolicyWait && cfg.MissPolicy != MissPolicyAsync {
		return nil, fmt.Errorf("MG_MISS_POLICY: недопустимое значение %q, допустимые: wait, async", cfg.MissPolicy)
	}

	// --- Telegram ---

	cfg.TelegramBotToken = getEnvDefault("MG_TELEGRAM_BOT_TOKEN", "")
	cfg.TelegramLogChatID = getEnvDefault("MG_TELEGRAM_LOG_CHAT_ID", "")
	cfg.TelegramAPIURL = getEnvDefault("MG_TELEGRAM_API_URL", "https://api.telegram.org")

	// --- Janitor ---

	cfg.JanitorInterval, err = getEnvPositiveDuration("MG_JANITOR_INTERVAL", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("MG_JANITOR_INTERVAL: %w", err)
	}

	cfg.JanitorMaxAge, err = getEnvPositiveDuration("MG_JANITOR_MAX_AGE", 2*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("MG_JANITOR_MAX_AGE: %w", err)
	}
	// Файл живёт в рабочем каталоге от начала попытки загрузки до конца публикации
	if inFlight := cfg.FetchTimeout + cfg.BlobTimeout; cfg.JanitorMaxAge <= inFlight {
		return nil, fmt.Errorf("MG_JANITOR_MAX_AGE: значение %s должно превышать MG_FETCH_TIMEOUT + MG_BLOB_TIMEOUT (%s)",
			cfg.JanitorMaxAge, inFlight)
	}

	// --- Dephealth ---

	cfg.DephealthGroup = getEnvDefault("MG_DEPHEALTH_GROUP", "mediagate")

	cfg.DephealthCheckInterval, err = getEnvPositiveDuration("MG_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("MG_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL для pgxpool.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// MigrateURL возвращает URL для golang-migrate (драйвер pgx5).
func (c *Config) MigrateURL() string {
	return c.databaseURL("pgx5", true)
}

// DatabaseURL возвращает URL PostgreSQL без пароля (для лейблов метрик).
func (c *Config) DatabaseURL() string {
	return c.databaseURL("postgres", false)
}

func (c *Config) databaseURL(scheme string, withPassword bool) string {
	u := &url.URL{
		Scheme:   scheme,
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + c.DBSSLMode,
	}
	if withPassword {
		u.User = url.UserPassword(c.DBUser, c.DBPassword)
	} else {
		u.User = url.User(c.DBUser)
	}
	return u.String()
}

// TelegramEnabled сообщает, настроен ли Bot API.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramBotToken != ""
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

// getEnvInt64 — то же для int64 (размеры в байтах).
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	if n < 0 {
		return 0, fmt.Errorf("значение должно быть >= 0")
	}
	return n, nil
}

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

// getEnvAttempts читает количество попыток (1-10).
func getEnvAttempts(key string, defaultVal int) (int, error) {
	n, err := getEnvInt(key, defaultVal)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if n < 1 || n > 10 {
		return 0, fmt.Errorf("%s: значение %d вне диапазона 1-10", key, n)
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
	if d < 0 {
		return 0, fmt.Errorf("значение должно быть >= 0")
	}
	return d, nil
}

// getEnvPositiveDuration — getEnvDuration с проверкой > 0.
func getEnvPositiveDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	d, err := getEnvDuration(key, defaultVal)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("значение должно быть > 0")
	}
	return d, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q (допустимые: true, false, 1, 0)", val)
	}
	return b, nil
}

// validateHTTPURL проверяет, что строка — абсолютный http(s) URL.
func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("некорректный URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("недопустимая схема %q, допустимые: http, https", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("в URL %q отсутствует хост", raw)
	}
	return nil
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
