package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

// Store drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

type Config struct {
	Port     string `envconfig:"PORT" default:"8080"`
	Env      string `envconfig:"ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL"`
	StoreDriver string `envconfig:"STORE_DRIVER" default:"postgres"`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"router.db"`
	SeedFile    string `envconfig:"SEED_FILE"`

	// Outbound delivery
	SendTimeout        time.Duration `envconfig:"SEND_TIMEOUT" default:"20s"`
	BreakerMaxFailures uint32        `envconfig:"BREAKER_MAX_FAILURES" default:"5"`
	BreakerOpenTimeout time.Duration `envconfig:"BREAKER_OPEN_TIMEOUT" default:"30s"`
	BatchConcurrency   int           `envconfig:"BATCH_CONCURRENCY" default:"8"`

	// Platform endpoints (overridable for sandboxes and tests)
	WhatsAppAPIBaseURL string        `envconfig:"WHATSAPP_API_BASE_URL" default:"https://graph.facebook.com"`
	WhatsAppAPIVersion string        `envconfig:"WHATSAPP_API_VERSION" default:"v18.0"`
	TelegramEndpoint   string        `envconfig:"TELEGRAM_API_ENDPOINT" default:"https://api.telegram.org/bot%s/%s"`
	TelegramBotTTL     time.Duration `envconfig:"TELEGRAM_BOT_TTL" default:"30m"`

	// Automated send limits, per customer
	RateLimitRPS   float64 `envconfig:"RATE_LIMIT_RPS" default:"1"`
	RateLimitBurst int     `envconfig:"RATE_LIMIT_BURST" default:"5"`

	// Tenant routing cache
	RouteCacheTTL time.Duration `envconfig:"ROUTE_CACHE_TTL" default:"30s"`

	// Event bus (empty URL disables publishing)
	NATSURL           string `envconfig:"NATS_URL"`
	NATSToken         string `envconfig:"NATS_TOKEN"`
	NATSSubjectPrefix string `envconfig:"NATS_SUBJECT_PREFIX" default:"router"`

	// Maintenance
	AuditRetentionDays  int    `envconfig:"AUDIT_RETENTION_DAYS" default:"90"`
	MaintenanceSchedule string `envconfig:"MAINTENANCE_SCHEDULE" default:"@every 10m"`
}

// LoadConfig reads .env (if present) and the process environment.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("⚠️ .env file not found, using system environment variables")
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}

	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for store driver %q", c.StoreDriver)
		}
	case DriverSQLite, DriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q (use postgres, sqlite or memory)", c.StoreDriver)
	}
	if c.SendTimeout <= 0 {
		return fmt.Errorf("SEND_TIMEOUT must be positive")
	}
	if c.BatchConcurrency < 1 {
		c.BatchConcurrency = 1
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}
