package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                  = "MAGIDEKT"
	defaultHTTPAddress         = "0.0.0.0:8080"
	defaultDatabaseDriver      = DriverSQLite
	defaultDatabaseDSN         = "magidekt.db"
	defaultLogLevel            = "info"
	defaultAuthIssuer          = "magidekt-api"
	defaultAuthCookieName      = "magidekt_session"
	defaultTokenTTLMinutes     = 720
	defaultScryfallBaseURL     = "https://api.scryfall.com"
	defaultScryfallRate        = 10.0
	defaultScryfallTimeoutSecs = 30
	defaultScryfallUserAgent   = "magidekt-api/1.0"

	// DriverSQLite selects the embedded SQLite store.
	DriverSQLite = "sqlite"
	// DriverPostgres selects a PostgreSQL store.
	DriverPostgres = "postgres"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress        string
	DatabaseDriver     string
	DatabaseDSN        string
	LogLevel           string
	AuthSigningSecret  string
	AuthIssuer         string
	AuthCookieName     string
	AuthTokenTTL       time.Duration
	ScryfallBaseURL    string
	ScryfallRatePerSec float64
	ScryfallTimeout    time.Duration
	ScryfallUserAgent  string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.dsn", defaultDatabaseDSN)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.issuer", defaultAuthIssuer)
	configViper.SetDefault("auth.cookie_name", defaultAuthCookieName)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("scryfall.base_url", defaultScryfallBaseURL)
	configViper.SetDefault("scryfall.requests_per_second", defaultScryfallRate)
	configViper.SetDefault("scryfall.timeout_seconds", defaultScryfallTimeoutSecs)
	configViper.SetDefault("scryfall.user_agent", defaultScryfallUserAgent)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:        configViper.GetString("http.address"),
		DatabaseDriver:     strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabaseDSN:        configViper.GetString("database.dsn"),
		LogLevel:           configViper.GetString("log.level"),
		AuthSigningSecret:  configViper.GetString("auth.signing_secret"),
		AuthIssuer:         configViper.GetString("auth.issuer"),
		AuthCookieName:     configViper.GetString("auth.cookie_name"),
		AuthTokenTTL:       time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		ScryfallBaseURL:    configViper.GetString("scryfall.base_url"),
		ScryfallRatePerSec: configViper.GetFloat64("scryfall.requests_per_second"),
		ScryfallTimeout:    time.Duration(configViper.GetInt("scryfall.timeout_seconds")) * time.Second,
		ScryfallUserAgent:  configViper.GetString("scryfall.user_agent"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.AuthSigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if c.DatabaseDriver != DriverSQLite && c.DatabaseDriver != DriverPostgres {
		return fmt.Errorf("database.driver must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.DatabaseDriver)
	}
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if strings.TrimSpace(c.AuthCookieName) == "" {
		return fmt.Errorf("auth.cookie_name is required")
	}
	if c.AuthTokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	if strings.TrimSpace(c.ScryfallBaseURL) == "" {
		return fmt.Errorf("scryfall.base_url is required")
	}
	if c.ScryfallRatePerSec <= 0 {
		return fmt.Errorf("scryfall.requests_per_second must be positive")
	}
	return nil
}
