package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/trailcrew/TrailCrewBack/internal/logging"
)

type Config struct {
	Port             string        `envconfig:"PORT" default:"8080"`
	DBUrl            string        `envconfig:"DB_URL"`
	JWTSecret        string        `envconfig:"JWT_SECRET"`
	AppEnv           string        `envconfig:"APP_ENV" default:"production"`
	LogLevel         string        `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat        string        `envconfig:"LOG_FORMAT" default:"json"`
	CORSAllowOrigins string        `envconfig:"CORS_ALLOW_ORIGINS" default:"*"`
	NATSURL          string        `envconfig:"NATS_URL"`
	NATSSubject      string        `envconfig:"NATS_SUBJECT" default:"trailcrew.chat.events"`
	NATSViewTTL      time.Duration `envconfig:"NATS_VIEW_TTL" default:"90s"`
	WSSendBuffer     int           `envconfig:"WS_SEND_BUFFER" default:"64"`
	WSReadLimit      int64         `envconfig:"WS_READ_LIMIT" default:"8192"`
	WSWriteTimeout   time.Duration `envconfig:"WS_WRITE_TIMEOUT" default:"10s"`
	WSRatePerSecond  float64       `envconfig:"WS_RATE_PER_SECOND" default:"5"`
	WSRateBurst      int           `envconfig:"WS_RATE_BURST" default:"10"`
	MaxMessageLength int           `envconfig:"MAX_MESSAGE_LENGTH" default:"4000"`
	MetricsEnabled   bool          `envconfig:"METRICS_ENABLED" default:"true"`
}

func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logging.Debug().Msg("no .env file found")
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}

	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.WSSendBuffer <= 0 {
		return nil, fmt.Errorf("WS_SEND_BUFFER must be positive, got %d", cfg.WSSendBuffer)
	}
	if cfg.UsesNATS() && cfg.NATSViewTTL <= 0 {
		return nil, fmt.Errorf("NATS_VIEW_TTL must be positive, got %s", cfg.NATSViewTTL)
	}
	if cfg.MaxMessageLength <= 0 {
		return nil, fmt.Errorf("MAX_MESSAGE_LENGTH must be positive, got %d", cfg.MaxMessageLength)
	}

	cfg.AppEnv = normalizeEnv(cfg.AppEnv)
	return &cfg, nil
}

func normalizeEnv(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "dev", "develop", "development", "local":
		return "development"
	case "prod", "production":
		return "production"
	case "stage", "staging":
		return "staging"
	case "test", "testing":
		return "test"
	default:
		return strings.ToLower(strings.TrimSpace(value))
	}
}

func (c *Config) IsDevelopment() bool {
	return c != nil && c.AppEnv == "development"
}

func (c *Config) UsesNATS() bool {
	return c != nil && strings.TrimSpace(c.NATSURL) != ""
}
