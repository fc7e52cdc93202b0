package password

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Params controls PBKDF2 hashing cost and output sizes.
type Params struct {
	Digest     Digest `env:"SODIA_PBKDF2_DIGEST" envDefault:"sha256"`
	Iterations int    `env:"SODIA_PBKDF2_ITERATIONS" envDefault:"200000"`
	SaltLength int    `env:"SODIA_PBKDF2_SALT_LEN" envDefault:"32"`
	KeyLength  int    `env:"SODIA_PBKDF2_KEY_LEN" envDefault:"32"`
}

// Policy controls password validation and anti-DoS boundaries.
type Policy struct {
	MinLength int `env:"SODIA_PASSWORD_MIN_LEN" envDefault:"8"`
	MaxLength int `env:"SODIA_PASSWORD_MAX_LEN" envDefault:"256"`
	// If true, enable an extra, minimal weak-pattern rejection.
	RejectVeryWeak bool `env:"SODIA_PASSWORD_REJECT_VERY_WEAK" envDefault:"true"`
}

// Config is the single configuration surface for this package.
type Config struct {
	Params Params
	Policy Policy
}

// DefaultConfig returns the baseline used for new credentials.
func DefaultConfig() Config {
	return Config{
		Params: Params{
			Digest:     DigestSHA256,
			Iterations: DefaultIterations,
			SaltLength: DefaultSaltLength,
			KeyLength:  DefaultKeyLength,
		},
		Policy: Policy{
			MinLength:      8,
			MaxLength:      256,
			RejectVeryWeak: true,
		},
	}
}

// FromEnv loads config from environment variables.
//
// Env surface:
// - SODIA_PASSWORD_MIN_LEN
// - SODIA_PASSWORD_MAX_LEN
// - SODIA_PASSWORD_REJECT_VERY_WEAK (true/false)
// - SODIA_PBKDF2_DIGEST (sha1/sha256/sha512)
// - SODIA_PBKDF2_ITERATIONS
// - SODIA_PBKDF2_SALT_LEN
// - SODIA_PBKDF2_KEY_LEN
func FromEnv() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("password: %w", err)
	}
	cfg.Params.Digest = Digest(strings.ToLower(strings.TrimSpace(string(cfg.Params.Digest))))

	if err := cfg.Check(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Check range-checks every value. Errors name the env key.
func (c Config) Check() error {
	if err := inRange("SODIA_PASSWORD_MIN_LEN", c.Policy.MinLength, 1, 1024); err != nil {
		return err
	}
	if err := inRange("SODIA_PASSWORD_MAX_LEN", c.Policy.MaxLength, 1, 4096); err != nil {
		return err
	}
	if _, ok := c.Params.Digest.newHash(); !ok {
		return fmt.Errorf("SODIA_PBKDF2_DIGEST: unsupported digest %q", c.Params.Digest)
	}
	if err := inRange("SODIA_PBKDF2_ITERATIONS", c.Params.Iterations, 10_000, MaxIterations); err != nil {
		return err
	}
	if err := inRange("SODIA_PBKDF2_SALT_LEN", c.Params.SaltLength, 16, 64); err != nil {
		return err
	}
	if err := inRange("SODIA_PBKDF2_KEY_LEN", c.Params.KeyLength, 16, 64); err != nil {
		return err
	}
	if c.Policy.MinLength > c.Policy.MaxLength {
		return fmt.Errorf(
			"password policy invalid: min_len(%d) > max_len(%d)",
			c.Policy.MinLength,
			c.Policy.MaxLength,
		)
	}
	return nil
}

func inRange(key string, v, minVal, maxVal int) error {
	if v < minVal || v > maxVal {
		return fmt.Errorf("%s: %d out of range [%d..%d]", key, v, minVal, maxVal)
	}
	return nil
}
