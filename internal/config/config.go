// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// MatchOrdering selects which open lot is consumed first when a closing
// fill is matched against multiple open lots.
type MatchOrdering string

const (
	// OrderingFIFO matches the oldest-entered lot first
	OrderingFIFO MatchOrdering = "fifo"
	// OrderingLIFO matches the newest-entered lot first
	OrderingLIFO MatchOrdering = "lifo"
)

// MatchScope selects how candidate lots are looked up for a closing fill.
type MatchScope string

const (
	// ScopeUnderlying matches lots by underlying ticker (options roll up to the stock)
	ScopeUnderlying MatchScope = "underlying"
	// ScopeSymbol matches lots by the full instrument symbol only
	ScopeSymbol MatchScope = "symbol"
)

// Config holds application configuration.
// Loaded once at startup and passed into component constructors;
// nothing reads process-wide mutable state after Load returns.
type Config struct {
	AppName  string
	LogLevel string
	DevMode  bool

	// Storage
	DataDir string // Base directory for the ledger database and exports
	DBPath  string // Resolved ledger database path

	// Brokerage (Schwab-style orders API)
	SchwabBaseURL     string
	SchwabAccessToken string
	SchwabTimeout     time.Duration
	LookbackDays      int    // Order fetch window
	OrderStatus       string // Status filter for the orders fetch ("FILLED")

	// Poll loop
	PollInterval         time.Duration
	MaxConsecutiveErrors int
	CycleRetryBaseDelay  time.Duration
	CycleRetryMaxDelay   time.Duration
	DBRetryMaxDelay      time.Duration

	// Per-call retry
	MaxRetries     int
	RetryBaseDelay time.Duration

	// Lot matching (deployment constants, never switched per call)
	MatchOrdering MatchOrdering
	MatchScope    MatchScope

	// Notifications
	DiscordWebhook  string
	DiscordWebhook2 string // Secondary webhook (optional)
	DiscordRoleID   string
	DiscordTimeout  time.Duration

	// Workbook export
	ExportEnabled  bool
	ExportPath     string
	ExportSchedule string // cron spec (with seconds field)

	// Maintenance and backup
	MaintenanceSchedule string
	BackupDir           string
	Backup              BackupConfig

	// Ops HTTP server
	Port int
}

// BackupConfig holds off-host ledger backup configuration (S3-compatible).
// Disabled unless an endpoint and bucket are configured.
type BackupConfig struct {
	Endpoint      string
	Bucket        string
	AccessKey     string
	SecretKey     string
	RetentionDays int
}

// Enabled reports whether off-host backup is configured.
func (b BackupConfig) Enabled() bool {
	return b.Endpoint != "" && b.Bucket != ""
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("TRADENOTIFY_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		AppName:  getEnv("APP_NAME", "tradenotify"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DevMode:  getEnvAsBool("DEV_MODE", false),

		DataDir: absDataDir,
		DBPath:  getEnv("DB_PATH", filepath.Join(absDataDir, "trades.db")),

		SchwabBaseURL:     getEnv("SCHWAB_BASE_URL", "https://api.schwabapi.com"),
		SchwabAccessToken: getEnv("SCHWAB_ACCESS_TOKEN", ""),
		SchwabTimeout:     getEnvAsDuration("SCHWAB_TIMEOUT", 10*time.Second),
		LookbackDays:      getEnvAsInt("TIME_DELTA_DAYS", 7),
		OrderStatus:       getEnv("ORDER_STATUS", "FILLED"),

		PollInterval:         getEnvAsDuration("POLL_INTERVAL", 5*time.Second),
		MaxConsecutiveErrors: getEnvAsInt("MAX_CONSECUTIVE_ERRORS", 10),
		CycleRetryBaseDelay:  getEnvAsDuration("CYCLE_RETRY_BASE_DELAY", 5*time.Second),
		CycleRetryMaxDelay:   getEnvAsDuration("CYCLE_RETRY_MAX_DELAY", 5*time.Minute),
		DBRetryMaxDelay:      getEnvAsDuration("DB_RETRY_MAX_DELAY", time.Minute),

		MaxRetries:     getEnvAsInt("MAX_RETRIES", 3),
		RetryBaseDelay: getEnvAsDuration("RETRY_DELAY_BASE", 2*time.Second),

		MatchOrdering: MatchOrdering(strings.ToLower(getEnv("MATCH_ORDERING", string(OrderingFIFO)))),
		MatchScope:    MatchScope(strings.ToLower(getEnv("MATCH_SCOPE", string(ScopeUnderlying)))),

		DiscordWebhook:  getEnv("DISCORD_WEBHOOK_URL", ""),
		DiscordWebhook2: getEnv("DISCORD_WEBHOOK_URL_2", ""),
		DiscordRoleID:   getEnv("DISCORD_ROLE_ID", ""),
		DiscordTimeout:  getEnvAsDuration("DISCORD_TIMEOUT", 10*time.Second),

		ExportEnabled:  getEnvAsBool("EXPORT_ENABLED", true),
		ExportPath:     getEnv("EXPORT_PATH", filepath.Join(absDataDir, "trades.xlsx")),
		ExportSchedule: getEnv("EXPORT_SCHEDULE", "0 0 8 * * SAT"),

		MaintenanceSchedule: getEnv("MAINTENANCE_SCHEDULE", "0 0 2 * * *"),
		BackupDir:           getEnv("BACKUP_DIR", filepath.Join(absDataDir, "backups")),
		Backup: BackupConfig{
			Endpoint:      getEnv("BACKUP_S3_ENDPOINT", ""),
			Bucket:        getEnv("BACKUP_S3_BUCKET", ""),
			AccessKey:     getEnv("BACKUP_S3_ACCESS_KEY", ""),
			SecretKey:     getEnv("BACKUP_S3_SECRET_KEY", ""),
			RetentionDays: getEnvAsInt("BACKUP_RETENTION_DAYS", 30),
		},

		Port: getEnvAsInt("PORT", 8090),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	switch c.MatchOrdering {
	case OrderingFIFO, OrderingLIFO:
	default:
		return fmt.Errorf("invalid MATCH_ORDERING %q (must be fifo or lifo)", c.MatchOrdering)
	}

	switch c.MatchScope {
	case ScopeUnderlying, ScopeSymbol:
	default:
		return fmt.Errorf("invalid MATCH_SCOPE %q (must be underlying or symbol)", c.MatchScope)
	}

	if c.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES must not be negative")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive")
	}

	// Credentials are only optional in dev mode, where the poller can run
	// against a stub brokerage and log instead of posting.
	if !c.DevMode {
		if c.SchwabAccessToken == "" {
			return fmt.Errorf("SCHWAB_ACCESS_TOKEN is required")
		}
		if c.DiscordWebhook == "" {
			return fmt.Errorf("DISCORD_WEBHOOK_URL is required")
		}
	}

	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts either a Go duration string ("10s") or a bare
// number of seconds ("10"), matching the older env files.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
