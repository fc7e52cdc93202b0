package app

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/sasha-gershtein/Sodia/cmd/internal/auth/gate"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string `env:"SODIA_HTTP_ADDR" envDefault:"0.0.0.0:8080"`
	LogLevel  string `env:"SODIA_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"SODIA_LOG_FORMAT" envDefault:"json"`

	ReadHeaderTimeout time.Duration `env:"SODIA_HTTP_READ_HEADER_TIMEOUT" envDefault:"5s"`
	ReadTimeout       time.Duration `env:"SODIA_HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout      time.Duration `env:"SODIA_HTTP_WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout       time.Duration `env:"SODIA_HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout   time.Duration `env:"SODIA_HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	MaxHeaderBytes    int           `env:"SODIA_HTTP_MAX_HEADER_BYTES" envDefault:"1048576"`

	// Postgres when set, otherwise the embedded SQLite file at SQLitePath.
	DatabaseURL string `env:"SODIA_DATABASE_URL"`
	DBMaxConns  int32  `env:"SODIA_DB_MAX_CONNS" envDefault:"10"`
	DBMinConns  int32  `env:"SODIA_DB_MIN_CONNS" envDefault:"0"`
	SQLitePath  string `env:"SODIA_SQLITE_PATH" envDefault:"sodia.db"`

	// If true, /readyz returns 503 unless the store answers a ping.
	ReadinessRequireDB bool `env:"SODIA_READINESS_REQUIRE_DB" envDefault:"true"`

	// If true, SODIA_TOKEN_HMAC_KEY MUST be set (>= 32 bytes) and session
	// token hashing is HMAC-based.
	RequireTokenHMAC bool `env:"SODIA_REQUIRE_TOKEN_HMAC" envDefault:"false"`

	CookieName     string `env:"SODIA_COOKIE_NAME" envDefault:"auth"`
	CookiePath     string `env:"SODIA_COOKIE_PATH" envDefault:"/"`
	CookieDomain   string `env:"SODIA_COOKIE_DOMAIN"`
	CookieSecure   bool   `env:"SODIA_COOKIE_SECURE" envDefault:"true"`
	CookieSameSite string `env:"SODIA_COOKIE_SAMESITE" envDefault:"lax"`

	TrustProxy bool `env:"SODIA_TRUST_PROXY" envDefault:"false"`

	SessionCleanupInterval time.Duration `env:"SODIA_SESSION_CLEANUP_INTERVAL" envDefault:"10m"`
}

// LoadConfig reads an optional .env file and then parses the environment.
// Variables already present in the environment win over the file.
func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config: .env: %w", err)
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects combinations that would silently misbehave.
func (c Config) Validate() error {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return errors.New("config: SODIA_HTTP_ADDR is empty")
	}
	if strings.TrimSpace(c.DatabaseURL) == "" && strings.TrimSpace(c.SQLitePath) == "" {
		return errors.New("config: one of SODIA_DATABASE_URL or SODIA_SQLITE_PATH is required")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("config: SODIA_DB_MIN_CONNS (%d) > SODIA_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.SessionCleanupInterval <= 0 {
		return errors.New("config: SODIA_SESSION_CLEANUP_INTERVAL must be positive")
	}
	if _, ok := parseSameSite(c.CookieSameSite); !ok {
		return fmt.Errorf("config: SODIA_COOKIE_SAMESITE: unknown value %q", c.CookieSameSite)
	}
	// Browsers drop SameSite=None cookies that are not Secure.
	if ss, _ := parseSameSite(c.CookieSameSite); ss == http.SameSiteNoneMode && !c.CookieSecure {
		return errors.New("config: SODIA_COOKIE_SAMESITE=none requires SODIA_COOKIE_SECURE=true")
	}
	return nil
}

// Cookie returns the session cookie attributes.
func (c Config) Cookie() gate.CookieConfig {
	ss, _ := parseSameSite(c.CookieSameSite)
	return gate.CookieConfig{
		Name:     c.CookieName,
		Path:     c.CookiePath,
		Domain:   c.CookieDomain,
		Secure:   c.CookieSecure,
		SameSite: ss,
	}
}

func parseSameSite(s string) (http.SameSite, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "lax":
		return http.SameSiteLaxMode, true
	case "strict":
		return http.SameSiteStrictMode, true
	case "none":
		return http.SameSiteNoneMode, true
	case "default":
		return http.SameSiteDefaultMode, true
	default:
		return http.SameSiteLaxMode, false
	}
}
