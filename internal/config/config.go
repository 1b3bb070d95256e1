// Package config loads server configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	AppPort int    `env:"APP_PORT" envDefault:"8081"`

	// Store
	DBDriver    string `env:"DB_DRIVER" envDefault:"sqlite3"`
	DatabaseURL string `env:"DATABASE_URL" envDefault:"chat.db"`

	// Session tokens
	JWTSecret string        `env:"JWT_SECRET,required,notEmpty"`
	JWTIssuer string        `env:"JWT_ISSUER" envDefault:"feathers-chat"`
	TokenTTL  time.Duration `env:"TOKEN_TTL" envDefault:"24h"`

	BcryptCost int `env:"BCRYPT_COST" envDefault:"10"`
	AvatarSize int `env:"AVATAR_SIZE" envDefault:"200"`

	MaxMessageLength int `env:"MAX_MESSAGE_LENGTH" envDefault:"400"`
	DefaultPageSize  int `env:"DEFAULT_PAGE_SIZE" envDefault:"25"`
	MaxPageSize      int `env:"MAX_PAGE_SIZE" envDefault:"100"`

	// Restrict update, patch and remove to the record owner.
	EnforceOwnership bool `env:"ENFORCE_OWNERSHIP" envDefault:"false"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Comma-separated; empty allows any origin.
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:""`

	// Directory holding the built SPA. Empty disables static serving.
	StaticDir string `env:"STATIC_DIR" envDefault:""`
}

func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// GetCORSAllowedOrigins splits CORS_ALLOWED_ORIGINS, defaulting to "*".
func (c *Config) GetCORSAllowedOrigins() []string {
	var result []string
	for _, origin := range strings.Split(c.CORSAllowedOrigins, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return []string{"*"}
	}
	return result
}

// Validate checks values that env tags cannot express.
func (c *Config) Validate() error {
	var errs []error
	switch c.DBDriver {
	case "sqlite3", "postgres":
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER must be sqlite3 or postgres, got %q", c.DBDriver))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("TOKEN_TTL must be positive"))
	}
	if c.MaxMessageLength <= 0 {
		errs = append(errs, errors.New("MAX_MESSAGE_LENGTH must be positive"))
	}
	if c.DefaultPageSize <= 0 || c.MaxPageSize < c.DefaultPageSize {
		errs = append(errs, errors.New("page sizes must satisfy 0 < DEFAULT_PAGE_SIZE <= MAX_PAGE_SIZE"))
	}
	return errors.Join(errs...)
}

// Load reads an optional .env file, then parses and validates the
// environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
