package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP Server
	Port               string
	RateLimitPerMinute int

	// Backend selection
	DataBackend   string
	SQLiteDBPath  string
	MemoryDataDir string

	// Detection
	RulesFile string

	// AMQP
	AMQPURL         string
	AMQPExchange    string
	AMQPScanQueue   string
	AMQPEventsQueue string

	// Worker
	RescanInterval    time.Duration
	RescanConcurrency int

	// Google Sheets mirror (optional)
	GoogleSpreadsheetID      string
	GoogleSubscriptionsSheet string
	GoogleCredentialsFile    string
	GoogleCredentialsJSON    string

	// Read cache for subscription sets
	SubscriptionsCacheTTL  time.Duration
	SubscriptionsCacheSize int

	LogLevel string
}

var (
	validBackends  = []string{"memory", "sqlite"}
	validLogLevels = []string{"debug", "info", "warn", "error"}
)

func Load() *Config {
	cfg := &Config{
		Port:               getEnv("PORT", "8081"),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 30),

		DataBackend:   getEnv("DATA_BACKEND", "sqlite"),
		SQLiteDBPath:  getEnv("SQLITE_DB_PATH", "./data/subscan.db"),
		MemoryDataDir: getEnv("MEMORY_DATA_DIR", "data"),

		RulesFile: getEnv("RULES_FILE", ""),

		AMQPURL:         getEnv("AMQP_URL", ""),
		AMQPExchange:    getEnv("AMQP_EXCHANGE", "subscan"),
		AMQPScanQueue:   getEnv("AMQP_SCAN_QUEUE", "scan_requests"),
		AMQPEventsQueue: getEnv("AMQP_EVENTS_QUEUE", "subscriptions_replaced"),

		RescanInterval:    getEnvDuration("RESCAN_INTERVAL", 24*time.Hour),
		RescanConcurrency: getEnvInt("RESCAN_CONCURRENCY", 4),

		GoogleSpreadsheetID:      getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleSubscriptionsSheet: getEnv("GOOGLE_SUBSCRIPTIONS_SHEET", "Subscriptions"),
		GoogleCredentialsFile:    getEnv("GOOGLE_CREDENTIALS_FILE", ""),
		GoogleCredentialsJSON:    getEnv("GOOGLE_CREDENTIALS_JSON", ""),

		SubscriptionsCacheTTL:  getEnvDuration("SUBSCRIPTIONS_CACHE_TTL", 5*time.Minute),
		SubscriptionsCacheSize: getEnvInt("SUBSCRIPTIONS_CACHE_SIZE", 1000),

		LogLevel: strings.ToLower(getEnv("LOG_LEVEL", "info")),
	}

	return cfg
}

// AMQPEnabled reports whether a broker is configured.
func (c *Config) AMQPEnabled() bool {
	return c.AMQPURL != ""
}

// SheetsMirrorEnabled reports whether scans are mirrored to a spreadsheet.
func (c *Config) SheetsMirrorEnabled() bool {
	return c.GoogleSpreadsheetID != ""
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.RateLimitPerMinute < 1 || c.RateLimitPerMinute > 10000 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be between 1 and 10000 per minute", c.RateLimitPerMinute))
	}

	if !slices.Contains(validBackends, c.DataBackend) {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	if c.DataBackend == "sqlite" {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else {
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	}

	if c.RulesFile != "" {
		if _, err := os.Stat(c.RulesFile); os.IsNotExist(err) {
			errors = append(errors, fmt.Sprintf("rules file does not exist: %s", c.RulesFile))
		}
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
		if c.AMQPScanQueue == "" {
			errors = append(errors, "AMQP scan queue name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPEventsQueue == "" {
			errors = append(errors, "AMQP events queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.RescanInterval < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid rescan interval %v: must be at least 1 minute", c.RescanInterval))
	} else if c.RescanInterval > 7*24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid rescan interval %v: must be at most 7 days", c.RescanInterval))
	}

	if c.RescanConcurrency < 1 {
		errors = append(errors, fmt.Sprintf("invalid rescan concurrency %d: must be at least 1", c.RescanConcurrency))
	} else if c.RescanConcurrency > 64 {
		errors = append(errors, fmt.Sprintf("invalid rescan concurrency %d: must be at most 64", c.RescanConcurrency))
	}

	if c.GoogleSpreadsheetID != "" {
		if c.GoogleSubscriptionsSheet == "" {
			errors = append(errors, "Google subscriptions sheet name is required when a spreadsheet is configured")
		}
		hasFile := c.GoogleCredentialsFile != ""
		if !hasFile && c.GoogleCredentialsJSON == "" {
			errors = append(errors, "either GOOGLE_CREDENTIALS_FILE or GOOGLE_CREDENTIALS_JSON must be provided for the sheets mirror")
		}
		if hasFile {
			if _, err := os.Stat(c.GoogleCredentialsFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google credentials file does not exist: %s", c.GoogleCredentialsFile))
			}
		}
	}

	if c.SubscriptionsCacheTTL < 0 {
		errors = append(errors, fmt.Sprintf("invalid subscriptions cache TTL %v: cannot be negative", c.SubscriptionsCacheTTL))
	}
	if c.SubscriptionsCacheSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid subscriptions cache size %d: must be at least 1", c.SubscriptionsCacheSize))
	}

	if !slices.Contains(validLogLevels, c.LogLevel) {
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of %v", c.LogLevel, validLogLevels))
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
