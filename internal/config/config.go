package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/robfig/cron/v3"
)

const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"

	defaultSessionSecret = "change-this-secret-key-in-production"
)

type Config struct {
	// HTTP server
	Port           string
	Environment    string
	AllowedOrigins []string
	JSONSizeLimit  string
	RateLimit      int
	CacheTTL       time.Duration

	// Storage
	DataBackend  string
	DBDir        string
	SQLiteDBPath string

	// Authentication
	AllowedAPIKeys []string
	SessionSecret  string
	SessionTTL     time.Duration
	AuthUser       string
	AuthPassword   string
	AuthEmail      string

	// AMQP
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Google Sheets ledger export
	GoogleSpreadsheetID   string
	GoogleLedgerSheetName string
	GoogleCredentialsFile string
	GoogleCredentialsJSON string

	// Worker
	SyncBatchSize  int
	SyncInterval   time.Duration
	SyncMaxRetries int
	BackupDir      string
	BackupSchedule string

	// Remote backend used by erp-admin pull and push
	RemoteURL    string
	RemoteAPIKey string

	LogLevel string
}

func Load() *Config {
	dbDir := getEnv("DB_DIR", "./data")
	cfg := &Config{
		Port:           getEnv("PORT", "3001"),
		Environment:    getEnv("APP_ENV", "development"),
		AllowedOrigins: getEnvList("ALLOWED_ORIGINS", []string{"*"}),
		JSONSizeLimit:  getEnv("JSON_SIZE_LIMIT", "16mb"),
		RateLimit:      getEnvInt("RATE_LIMIT_PER_MINUTE", 120),
		CacheTTL:       getEnvDuration("CACHE_TTL", 5*time.Minute),

		DataBackend:  getEnv("DATA_BACKEND", BackendSQLite),
		DBDir:        dbDir,
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", filepath.Join(dbDir, "erp-data.db")),

		AllowedAPIKeys: getEnvList("ALLOWED_API_KEYS", nil),
		SessionSecret:  getEnv("SESSION_SECRET", defaultSessionSecret),
		SessionTTL:     getEnvDuration("SESSION_TTL", 48*time.Hour),
		AuthUser:       getEnv("ERP_AUTH_USER", "admin"),
		AuthPassword:   getEnv("ERP_AUTH_PASSWORD", "admin123"),
		AuthEmail:      getEnv("ERP_AUTH_EMAIL", "admin@freelance-erp.local"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "erp"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "ledger_export"),

		GoogleSpreadsheetID:   getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleLedgerSheetName: getEnv("GOOGLE_LEDGER_SHEET_NAME", "Ledger"),
		GoogleCredentialsFile: getEnv("GOOGLE_CREDENTIALS_FILE", ""),
		GoogleCredentialsJSON: getEnv("GOOGLE_CREDENTIALS_JSON", ""),

		SyncBatchSize:  getEnvInt("SYNC_BATCH_SIZE", 10),
		SyncInterval:   getEnvDuration("SYNC_INTERVAL", 10*time.Second),
		SyncMaxRetries: getEnvInt("SYNC_MAX_RETRIES", 3),
		BackupDir:      getEnv("BACKUP_DIR", "./backups"),
		BackupSchedule: getEnv("BACKUP_SCHEDULE", "@daily"),

		RemoteURL:    getEnv("ERP_REMOTE_URL", ""),
		RemoteAPIKey: getEnv("ERP_REMOTE_API_KEY", ""),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
	return cfg
}

// IsProduction reports whether cookies must be marked Secure.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// BodyLimit returns JSONSizeLimit in bytes.
func (c *Config) BodyLimit() int64 {
	n, err := humanize.ParseBytes(c.JSONSizeLimit)
	if err != nil {
		return 16 << 20
	}
	return int64(n)
}

// SheetsEnabled reports whether ledger export to Google Sheets is configured.
func (c *Config) SheetsEnabled() bool {
	return c.GoogleSpreadsheetID != ""
}

// Validate checks every setting and reports all problems at once.
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	validBackends := []string{BackendSQLite, BackendMemory}
	if c.DataBackend != BackendSQLite && c.DataBackend != BackendMemory {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	if c.DataBackend == BackendSQLite {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else if dir := filepath.Dir(c.SQLiteDBPath); dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	}

	if n, err := humanize.ParseBytes(c.JSONSizeLimit); err != nil {
		errors = append(errors, fmt.Sprintf("invalid JSON size limit '%s': %v", c.JSONSizeLimit, err))
	} else if n == 0 {
		errors = append(errors, "JSON size limit must be greater than zero")
	}

	if c.RateLimit < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be at least 1 request per minute", c.RateLimit))
	}

	if c.SessionSecret == "" {
		errors = append(errors, "session secret cannot be empty")
	} else if c.IsProduction() && c.SessionSecret == defaultSessionSecret {
		errors = append(errors, "SESSION_SECRET must be changed in production")
	}
	if c.SessionTTL < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid session TTL %v: must be at least 1 minute", c.SessionTTL))
	}
	if c.AuthUser == "" {
		errors = append(errors, "ERP_AUTH_USER cannot be empty")
	}
	if len(c.AuthPassword) < 8 && c.IsProduction() {
		errors = append(errors, "ERP_AUTH_PASSWORD must be at least 8 characters in production")
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.SheetsEnabled() {
		if c.GoogleLedgerSheetName == "" {
			errors = append(errors, "Google ledger sheet name is required when a spreadsheet is configured")
		}
		if c.GoogleCredentialsFile == "" && c.GoogleCredentialsJSON == "" {
			errors = append(errors, "either GOOGLE_CREDENTIALS_FILE or GOOGLE_CREDENTIALS_JSON must be provided for the ledger export")
		}
		if c.GoogleCredentialsFile != "" {
			if _, err := os.Stat(c.GoogleCredentialsFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google credentials file does not exist: %s", c.GoogleCredentialsFile))
			}
		}
	}

	if c.SyncBatchSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid sync batch size %d: must be at least 1", c.SyncBatchSize))
	} else if c.SyncBatchSize > 1000 {
		errors = append(errors, fmt.Sprintf("invalid sync batch size %d: must be at most 1000", c.SyncBatchSize))
	}
	if c.SyncInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid sync interval %v: must be at least 1 second", c.SyncInterval))
	} else if c.SyncInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid sync interval %v: must be at most 24 hours", c.SyncInterval))
	}
	if c.SyncMaxRetries < 0 {
		errors = append(errors, fmt.Sprintf("invalid sync max retries %d: must not be negative", c.SyncMaxRetries))
	}

	if c.BackupSchedule != "" {
		if _, err := cron.ParseStandard(c.BackupSchedule); err != nil {
			errors = append(errors, fmt.Sprintf("invalid backup schedule '%s': %v", c.BackupSchedule, err))
		}
	}

	if c.RemoteURL != "" {
		if u, err := url.Parse(c.RemoteURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			errors = append(errors, fmt.Sprintf("invalid remote URL '%s': must be http or https", c.RemoteURL))
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated variable, dropping blank entries.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, s := range strings.Split(value, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
