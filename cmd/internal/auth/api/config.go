package authapi

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config controls auth API limits.
type Config struct {
	// Set by the caller from the process-wide proxy setting.
	TrustProxy bool

	MaxBodyBytes int64 `env:"SODIA_AUTH_MAX_BODY_BYTES" envDefault:"1048576"`

	// Per-IP token bucket for POST /auth/login and /auth/register.
	LoginRatePerMinute int `env:"SODIA_AUTH_LOGIN_RATE_PER_MINUTE" envDefault:"20"`
	LoginBurst         int `env:"SODIA_AUTH_LOGIN_BURST" envDefault:"5"`
	// Idle limiter entries older than this are pruned.
	LimiterIdleTTL time.Duration `env:"SODIA_AUTH_LIMITER_IDLE_TTL" envDefault:"15m"`

	// Progressive lockout per normalized email after failed logins.
	LockoutWindow          time.Duration `env:"SODIA_AUTH_LOCKOUT_WINDOW" envDefault:"2h"`
	LockoutShortThreshold  int           `env:"SODIA_AUTH_LOCKOUT_SHORT_THRESHOLD" envDefault:"5"`
	LockoutShortDuration   time.Duration `env:"SODIA_AUTH_LOCKOUT_SHORT_DURATION" envDefault:"5m"`
	LockoutLongThreshold   int           `env:"SODIA_AUTH_LOCKOUT_LONG_THRESHOLD" envDefault:"10"`
	LockoutLongDuration    time.Duration `env:"SODIA_AUTH_LOCKOUT_LONG_DURATION" envDefault:"30m"`
	LockoutSevereThreshold int           `env:"SODIA_AUTH_LOCKOUT_SEVERE_THRESHOLD" envDefault:"20"`
	LockoutSevereDuration  time.Duration `env:"SODIA_AUTH_LOCKOUT_SEVERE_DURATION" envDefault:"2h"`
}

// DefaultConfig returns the production defaults. It matches the envDefault
// tags above.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:           1 << 20,
		LoginRatePerMinute:     20,
		LoginBurst:             5,
		LimiterIdleTTL:         15 * time.Minute,
		LockoutWindow:          2 * time.Hour,
		LockoutShortThreshold:  5,
		LockoutShortDuration:   5 * time.Minute,
		LockoutLongThreshold:   10,
		LockoutLongDuration:    30 * time.Minute,
		LockoutSevereThreshold: 20,
		LockoutSevereDuration:  2 * time.Hour,
	}
}

// LoadConfigFromEnv loads auth API config from SODIA_AUTH_* variables.
// TrustProxy is left false; the app copies its own setting in.
func LoadConfigFromEnv() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("authapi: %w", err)
	}

	// The window must cover the longest lockout or it can never trigger.
	if cfg.LockoutWindow < cfg.LockoutSevereDuration {
		cfg.LockoutWindow = cfg.LockoutSevereDuration
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects non-positive limits.
func (c Config) Validate() error {
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("authapi: SODIA_AUTH_MAX_BODY_BYTES must be > 0, got %d", c.MaxBodyBytes)
	}
	if c.LoginRatePerMinute < 0 || c.LoginBurst < 0 {
		return fmt.Errorf("authapi: login rate (%d) and burst (%d) must be >= 0", c.LoginRatePerMinute, c.LoginBurst)
	}
	if c.LimiterIdleTTL <= 0 {
		return fmt.Errorf("authapi: SODIA_AUTH_LIMITER_IDLE_TTL must be > 0, got %s", c.LimiterIdleTTL)
	}
	for _, tier := range c.lockoutTiers() {
		if tier.Threshold <= 0 || tier.Duration <= 0 {
			return fmt.Errorf("authapi: lockout tier %d/%s must be positive", tier.Threshold, tier.Duration)
		}
	}
	return nil
}

func (c Config) lockoutTiers() []lockoutTier {
	return []lockoutTier{
		{Threshold: c.LockoutSevereThreshold, Duration: c.LockoutSevereDuration},
		{Threshold: c.LockoutLongThreshold, Duration: c.LockoutLongDuration},
		{Threshold: c.LockoutShortThreshold, Duration: c.LockoutShortDuration},
	}
}
