package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"coursepipe/internal/domain"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	TriggerQueue   = "queue"
	TriggerWebhook = "webhook"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv           string
	Port             string
	StoreDriver      string
	DatabaseURL      string
	JWTSecret        string
	StoragePath      string
	AllowedOrigins   []string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int

	UploadMaxBytes     int64
	UploadAllowedTypes []string

	ProcessingTrigger      string
	ProcessingWebhookURL   string
	ProcessingWebhookToken string

	Watchdog WatchdogConfig
}

// WatchdogConfig holds the reconciliation loop settings.
type WatchdogConfig struct {
	// Embedded runs the scheduler inside the API process.
	Embedded           bool
	Schedule           string
	Workers            int
	ScanLimit          int
	SevereMultiplier   int
	PromotionThreshold int
	StrategiesFile     string
	Thresholds         domain.StalenessRule
}

// DefaultThresholds are the per-stage idle times after which a job is stuck.
// Frame extraction legitimately runs longer than the other stages.
func DefaultThresholds() domain.StalenessRule {
	return domain.StalenessRule{
		domain.JobStatusQueued:           15 * time.Minute,
		domain.JobStatusUploading:        30 * time.Minute,
		domain.JobStatusTranscribing:     30 * time.Minute,
		domain.JobStatusExtractingFrames: time.Hour,
		domain.JobStatusRendering:        30 * time.Minute,
		domain.JobStatusGeneratingAI:     45 * time.Minute,
	}
}

// LoadConfig loads the API configuration from environment variables and
// applies defaults where needed. The API signs and verifies tokens, so
// JWT_SECRET is required.
func LoadConfig() (*Config, error) {
	cfg, err := LoadWatchdogConfig()
	if err != nil {
		return nil, err
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	return cfg, nil
}

// LoadWatchdogConfig loads the configuration of the standalone watchdog,
// which reaches the job store directly and never handles tokens.
func LoadWatchdogConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		Port:             getEnv("PORT", "8080"),
		StoreDriver:      strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		StoragePath:      getEnv("STORAGE_PATH", "./storage"),
		AllowedOrigins:   splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 60)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 600),

		UploadMaxBytes:     int64(getEnvInt("UPLOAD_MAX_MB", 4096)) * 1024 * 1024,
		UploadAllowedTypes: splitList(getEnv("UPLOAD_ALLOWED_TYPES", ".mp4,.mov,.mkv,.webm,.m4v")),

		ProcessingTrigger:      strings.ToLower(getEnv("PROCESSING_TRIGGER", TriggerQueue)),
		ProcessingWebhookURL:   os.Getenv("PROCESSING_WEBHOOK_URL"),
		ProcessingWebhookToken: os.Getenv("PROCESSING_WEBHOOK_TOKEN"),

		Watchdog: WatchdogConfig{
			Embedded:           getEnvBool("WATCHDOG_EMBEDDED", false),
			Schedule:           getEnv("WATCHDOG_SCHEDULE", "@every 5m"),
			Workers:            getEnvInt("WATCHDOG_WORKERS", 4),
			ScanLimit:          getEnvInt("WATCHDOG_SCAN_LIMIT", 500),
			SevereMultiplier:   getEnvInt("WATCHDOG_SEVERE_MULTIPLIER", 4),
			PromotionThreshold: getEnvInt("WATCHDOG_PROMOTION_THRESHOLD", 3),
			StrategiesFile:     os.Getenv("WATCHDOG_STRATEGIES_FILE"),
			Thresholds:         DefaultThresholds(),
		},
	}

	for _, status := range domain.NonTerminalStatuses {
		key := "WATCHDOG_THRESHOLD_" + strings.ToUpper(string(status))
		if d, ok := getEnvDuration(key); ok {
			cfg.Watchdog.Thresholds[status] = d
		}
	}

	switch cfg.StoreDriver {
	case StoreDriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required")
		}
	case StoreDriverMemory:
	default:
		return nil, fmt.Errorf("unsupported STORE_DRIVER %q", cfg.StoreDriver)
	}

	switch cfg.ProcessingTrigger {
	case TriggerQueue:
	case TriggerWebhook:
		if cfg.ProcessingWebhookURL == "" {
			return nil, fmt.Errorf("PROCESSING_WEBHOOK_URL is required when PROCESSING_TRIGGER=webhook")
		}
	default:
		return nil, fmt.Errorf("unsupported PROCESSING_TRIGGER %q", cfg.ProcessingTrigger)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string) (time.Duration, bool) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return 0, false
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, strings.ToLower(part))
		}
	}
	return out
}
