package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"

	"userhub/internal/domain"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config centraliza la configuración del servicio.
type Config struct {
	HTTPPort      string `env:"HTTP_PORT" envDefault:"8080"`
	AppEnv        string `env:"APP_ENV" envDefault:"production"`
	StoreDriver   string `env:"STORE_DRIVER" envDefault:"postgres"`
	DatabaseURL   string `env:"DATABASE_URL"`
	DBAutoMigrate bool   `env:"DB_AUTO_MIGRATE" envDefault:"true"`

	JWTSecret         string `env:"JWT_SECRET,required,notEmpty"`
	JWTIssuer         string `env:"JWT_ISSUER" envDefault:"userhub"`
	JWTAudience       string `env:"JWT_AUDIENCE" envDefault:"userhub-clients"`
	JWTExpiresMinutes int    `env:"JWT_EXPIRES_MINUTES" envDefault:"60"`
	BcryptCost        int    `env:"BCRYPT_COST" envDefault:"12"`

	DefaultPageSize int `env:"DEFAULT_PAGE_SIZE" envDefault:"20"`
	MaxPageSize     int `env:"MAX_PAGE_SIZE" envDefault:"100"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	LoginRateWindowSeconds int `env:"LOGIN_RATE_WINDOW_SECONDS" envDefault:"600"`
	LoginRateMaxAttempts   int `env:"LOGIN_RATE_MAX_ATTEMPTS" envDefault:"10"`
}

// LoadConfig carga la configuración desde variables de entorno.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate revisa combinaciones que env no puede expresar con tags.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreDriverPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("%w: DATABASE_URL is required for the postgres store", domain.ErrConfiguration)
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("%w: unknown STORE_DRIVER %q", domain.ErrConfiguration, c.StoreDriver)
	}
	if c.JWTExpiresMinutes <= 0 {
		return fmt.Errorf("%w: JWT_EXPIRES_MINUTES must be positive", domain.ErrConfiguration)
	}
	if c.DefaultPageSize <= 0 || c.MaxPageSize <= 0 || c.DefaultPageSize > c.MaxPageSize {
		return fmt.Errorf("%w: page sizes must be positive and DEFAULT_PAGE_SIZE <= MAX_PAGE_SIZE", domain.ErrConfiguration)
	}
	if c.LoginRateWindowSeconds <= 0 || c.LoginRateMaxAttempts <= 0 {
		return fmt.Errorf("%w: login rate settings must be positive", domain.ErrConfiguration)
	}
	return nil
}

func (c *Config) JWTTTL() time.Duration {
	return time.Duration(c.JWTExpiresMinutes) * time.Minute
}

func (c *Config) LoginRateWindow() time.Duration {
	return time.Duration(c.LoginRateWindowSeconds) * time.Second
}

// IsDevelopment indica si se usa el logger de desarrollo.
func (c *Config) IsDevelopment() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local":
		return true
	}
	return false
}
