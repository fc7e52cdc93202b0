package session

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/sasha-gershtein/Sodia/cmd/security/token"
)

const (
	// DefaultTTL is the sliding lifetime of a session.
	DefaultTTL = 7 * 24 * time.Hour

	maxTTL = 365 * 24 * time.Hour
)

// Config defines runtime configuration for the session subsystem.
type Config struct {
	// TTL is added to "now" on issue and on every validated use.
	TTL time.Duration `env:"SODIA_SESSION_TTL" envDefault:"168h"`

	// TokenBytes is the number of random bytes behind each token.
	TokenBytes int `env:"SODIA_SESSION_TOKEN_BYTES" envDefault:"32"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		TTL:        DefaultTTL,
		TokenBytes: token.MinBytes,
	}
}

// Validate reports ErrConfig when any value is out of range.
func (c Config) Validate() error {
	if c.TTL <= 0 || c.TTL > maxTTL {
		return ErrConfig
	}
	if c.TokenBytes < token.MinBytes || c.TokenBytes > token.MaxBytes {
		return ErrConfig
	}
	return nil
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Optional:
//   - SODIA_SESSION_TTL (Go duration, > 0, at most one year)
//   - SODIA_SESSION_TOKEN_BYTES (32..64)
//
// Every failure wraps ErrConfig.
func LoadConfigFromEnv() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
