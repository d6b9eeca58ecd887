package infra

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Store drivers accepted in STORE_DRIVER.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string `env:"APP_ENV" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL"`
	Port        string `env:"PORT" envDefault:"8080"`
	AppURL      string `env:"APP_URL" envDefault:"http://localhost:8080"`
	DatabaseURL string `env:"DATABASE_URL"`
	StoreDriver string `env:"STORE_DRIVER" envDefault:"postgres"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	StoragePath       string `env:"STORAGE_PATH" envDefault:"./storage"`
	StoragePublicPath string `env:"STORAGE_PUBLIC_PATH" envDefault:"/storage"`

	ReplicateAPIToken       string  `env:"REPLICATE_API_TOKEN"`
	ReplicateBaseURL        string  `env:"REPLICATE_BASE_URL" envDefault:"https://api.replicate.com/v1"`
	ReplicatePricePerSecond float64 `env:"REPLICATE_PRICE_PER_SECOND" envDefault:"0.000225"`
	PhotoroomAPIKey         string  `env:"PHOTOROOM_API_KEY"`
	PhotoroomBaseURL        string  `env:"PHOTOROOM_BASE_URL" envDefault:"https://sdk.photoroom.com"`
	BackgroundDriver        string  `env:"AI_BKG_DRIVER" envDefault:"replicate"`

	ResultRetryDelays  []time.Duration `env:"RESULT_RETRY_DELAYS" envSeparator:"," envDefault:"1s,2s,3s"`
	ResultCacheTTL     time.Duration   `env:"RESULT_CACHE_TTL" envDefault:"1h"`
	StrictJobOwnership bool            `env:"STRICT_JOB_OWNERSHIP" envDefault:"false"`

	ShopifyAPISecret string `env:"SHOPIFY_API_SECRET"`
	ShopifyAPIKey    string `env:"SHOPIFY_API_KEY"`
	GeoIPDBPath      string `env:"GEOIP_DB_PATH"`

	HTTPReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	HTTPWriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"120s"`
	HTTPIdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	RateLimitPerMin  int           `env:"RATE_LIMIT_PER_MINUTE" envDefault:"30"`
}

// LoadConfig parses the environment and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	cfg.AppURL = strings.TrimRight(strings.TrimSpace(cfg.AppURL), "/")
	if !strings.HasPrefix(cfg.StoragePublicPath, "/") {
		cfg.StoragePublicPath = "/" + cfg.StoragePublicPath
	}

	switch cfg.StoreDriver {
	case StoreDriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required")
		}
	case StoreDriverMemory:
	default:
		return nil, fmt.Errorf("STORE_DRIVER %q is not supported", cfg.StoreDriver)
	}

	if cfg.IsProduction() && cfg.ShopifyAPISecret == "" {
		return nil, fmt.Errorf("SHOPIFY_API_SECRET is required in production")
	}

	return cfg, nil
}

// IsProduction reports whether the service runs with production settings.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}
