package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"attendanceTracker/logger"
)

type Config struct {
	LogLevel logger.LogLevel `env:"LOG_LEVEL" envDefault:"1"`
	LogDir   string          `env:"LOG_DIR" envDefault:"./logs"`
	Database DatabaseConfig  `envPrefix:"DATABASE_"`
	MaxAPI   MaxConfig       `envPrefix:"MAX_"`
	HTTP     HTTPConfig      `envPrefix:"HTTP_"`
	Auth     AuthConfig      `envPrefix:"JWT_"`
	Mail     MailConfig      `envPrefix:"MAIL_"`
	Secrets  SecretsConfig   `envPrefix:"SECRETS_"`
	Redis    RedisConfig     `envPrefix:"REDIS_"`
	Import   ImportConfig    `envPrefix:"IMPORT_"`
}

// MaxConfig configures the messenger bot. An empty token disables the bot.
type MaxConfig struct {
	Token string `env:"TOKEN"`
}

type DatabaseConfig struct {
	Driver string `env:"DRIVER" envDefault:"sqlite"`
	URI    string `env:"URI" envDefault:"attendance.db"`
}

type HTTPConfig struct {
	Addr            string        `env:"ADDR" envDefault:":5000"`
	RateLimitPerMin int           `env:"RATE_LIMIT_PER_MIN" envDefault:"120"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

type AuthConfig struct {
	SigningKey string        `env:"SIGNING_KEY" envDefault:"dev-signing-secret-change"`
	Issuer     string        `env:"ISSUER" envDefault:"attendance-tracker"`
	TTL        time.Duration `env:"TTL" envDefault:"12h"`
}

type MailConfig struct {
	SendTimeout   time.Duration `env:"SEND_TIMEOUT" envDefault:"15s"`
	DefaultServer string        `env:"DEFAULT_SERVER" envDefault:"smtp.gmail.com"`
	DefaultPort   int           `env:"DEFAULT_PORT" envDefault:"587"`
}

// SecretsConfig holds the key used to seal stored SMTP passwords. It has no
// default and must be set per deployment.
type SecretsConfig struct {
	Key string `env:"KEY"`
}

const (
	minSecretsKeyLen = 16
	// placeholderSecretsKey is the value shipped in example env files.
	placeholderSecretsKey = "dev-secrets-key-change"
)

// RedisConfig is optional; without an address notification claims are kept
// in process memory.
type RedisConfig struct {
	Addr     string        `env:"ADDR"`
	Password string        `env:"PASSWORD"`
	DB       int           `env:"DB" envDefault:"0"`
	ClaimTTL time.Duration `env:"CLAIM_TTL" envDefault:"2m"`
}

type ImportConfig struct {
	UploadDir   string `env:"UPLOAD_DIR"`
	MaxUploadMB int64  `env:"MAX_UPLOAD_MB" envDefault:"16"`
}

func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}

	if cfg.Import.UploadDir == "" {
		cfg.Import.UploadDir = os.TempDir()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("DATABASE_DRIVER must be sqlite or postgres, got %q", c.Database.Driver))
	}
	if c.Database.URI == "" {
		errs = append(errs, errors.New("DATABASE_URI is required"))
	}
	if c.Auth.SigningKey == "" {
		errs = append(errs, errors.New("JWT_SIGNING_KEY is required"))
	}
	if c.Auth.TTL <= 0 {
		errs = append(errs, errors.New("JWT_TTL must be positive"))
	}
	switch {
	case c.Secrets.Key == "":
		errs = append(errs, errors.New("SECRETS_KEY is required"))
	case c.Secrets.Key == placeholderSecretsKey:
		errs = append(errs, errors.New("SECRETS_KEY still has the example value"))
	case len(c.Secrets.Key) < minSecretsKeyLen:
		errs = append(errs, fmt.Errorf("SECRETS_KEY must be at least %d characters", minSecretsKeyLen))
	}
	if c.Mail.SendTimeout <= 0 {
		errs = append(errs, errors.New("MAIL_SEND_TIMEOUT must be positive"))
	}
	if c.Mail.DefaultPort <= 0 || c.Mail.DefaultPort > 65535 {
		errs = append(errs, fmt.Errorf("MAIL_DEFAULT_PORT out of range: %d", c.Mail.DefaultPort))
	}
	if c.HTTP.RateLimitPerMin < 0 {
		errs = append(errs, errors.New("HTTP_RATE_LIMIT_PER_MIN must not be negative"))
	}
	if c.Import.MaxUploadMB <= 0 {
		errs = append(errs, errors.New("IMPORT_MAX_UPLOAD_MB must be positive"))
	}

	return errors.Join(errs...)
}
