// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "RMCERP"

// Config holds every tunable of the API process.
type Config struct {
	Env string `envconfig:"ENV" default:"development" validate:"oneof=development staging production test"`

	HTTPAddr        string        `envconfig:"HTTP_ADDR" default:":8080" validate:"required"`
	GRPCAddr        string        `envconfig:"GRPC_ADDR"`
	ReadTimeout     time.Duration `envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" default:"15s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`

	PGDSN             string        `envconfig:"PG_DSN" required:"true" validate:"required"`
	PGMaxOpenConns    int           `envconfig:"PG_MAX_OPEN_CONNS" default:"10" validate:"gte=1"`
	PGMaxIdleConns    int           `envconfig:"PG_MAX_IDLE_CONNS" default:"10" validate:"gte=0"`
	PGConnMaxLifetime time.Duration `envconfig:"PG_CONN_MAX_LIFETIME" default:"30m"`

	JWTSecret string `envconfig:"JWT_SECRET" required:"true" validate:"required"`
	JWTExpiry string `envconfig:"JWT_EXPIRY" default:"24h"`
	JWTIssuer string `envconfig:"JWT_ISSUER" default:"rmcerp"`

	RedisAddr string        `envconfig:"REDIS_ADDR"`
	CacheTTL  time.Duration `envconfig:"CACHE_TTL" default:"30s"`

	RateBurst          int   `envconfig:"RATE_BURST" default:"50" validate:"gte=0"`
	RatePerSecond      int   `envconfig:"RATE_PER_SECOND" default:"20" validate:"gte=0"`
	LoginRatePerMinute int   `envconfig:"LOGIN_RATE_PER_MINUTE" default:"10" validate:"gte=0"`
	MaxBodyBytes       int64 `envconfig:"MAX_BODY_BYTES" default:"1048576" validate:"gte=1"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json" validate:"oneof=json text"`
}

// Load reads an optional .env file and then the RMCERP_* environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// IsProduction reports whether the process runs in the production environment.
func (c Config) IsProduction() bool { return c.Env == "production" }
