package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is built once in main and handed to the components that need it.
type Config struct {
	Port string `env:"PORT" envDefault:"8080"`

	// Messenger
	PageAccessToken string `env:"FB_PAGE_ACCESS_TOKEN"`
	AppSecret       string `env:"FB_APP_SECRET"`
	VerifyToken     string `env:"FB_VERIFY_TOKEN"`
	AdminToken      string `env:"FB_ADMIN_TOKEN"`
	GraphAPIBase    string `env:"FB_GRAPH_API_BASE" envDefault:"https://graph.facebook.com/v17.0"`

	// Store
	DatabaseURL      string        `env:"DATABASE_URL"`
	DatabasePassword string        `env:"DATABASE_PASSWORD"`
	MaxOpenConns     int           `env:"DB_MAX_OPEN_CONNS" envDefault:"10"`
	MaxIdleConns     int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime  time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"5m"`
	AutoMigrate      bool          `env:"DB_AUTO_MIGRATE" envDefault:"false"`

	// AI item matcher, disabled without a key
	OpenAIAPIKey string `env:"OPENAI_API_KEY"`
	OpenAIModel  string `env:"OPENAI_MODEL"`

	CORSOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load reads an optional .env file and then the process environment.
func Load(files ...string) (Config, error) {
	// missing .env is normal outside local development
	_ = godotenv.Load(files...)

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if cfg.AdminToken == "" {
		cfg.AdminToken = cfg.VerifyToken
	}
	cfg.GraphAPIBase = strings.TrimRight(cfg.GraphAPIBase, "/")

	return cfg, nil
}

// StoreEnabled reports whether a store connection string is configured.
func (c Config) StoreEnabled() bool {
	return strings.TrimSpace(c.DatabaseURL) != ""
}

// DSN returns the store URL with DatabasePassword injected when it is set.
func (c Config) DSN() (string, error) {
	if c.DatabasePassword == "" {
		return c.DatabaseURL, nil
	}

	u, err := url.Parse(c.DatabaseURL)
	if err != nil {
		return "", fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("DATABASE_URL must be a URL when DATABASE_PASSWORD is set")
	}

	user := ""
	if u.User != nil {
		user = u.User.Username()
	}
	u.User = url.UserPassword(user, c.DatabasePassword)
	return u.String(), nil
}
