package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                 = "POLLSTER"
	defaultHTTPAddress        = "0.0.0.0:8080"
	defaultDatabaseDriver     = DatabaseDriverSQLite
	defaultDatabasePath       = "pollster.db"
	defaultCacheDriver        = CacheDriverMemory
	defaultCacheAddress       = "127.0.0.1:6379"
	defaultMarkerTTL          = 25 * time.Hour
	defaultResultsTTL         = 5 * time.Minute
	defaultTokenTTLMinutes    = 60
	defaultTransactionTimeout = 5 * time.Second
	defaultLogLevel           = "info"
	defaultLogFormat          = "json"
)

const (
	// DatabaseDriverSQLite selects the embedded SQLite store.
	DatabaseDriverSQLite = "sqlite"
	// DatabaseDriverMySQL selects a MySQL store addressed by database.dsn.
	DatabaseDriverMySQL = "mysql"

	// CacheDriverRedis selects a remote Redis cache.
	CacheDriverRedis = "redis"
	// CacheDriverMemory selects the in-process cache.
	CacheDriverMemory = "memory"
	// CacheDriverNone disables caching; every lookup misses.
	CacheDriverNone = "none"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress        string
	DatabaseDriver     string
	DatabasePath       string
	DatabaseDSN        string
	CacheDriver        string
	CacheAddress       string
	CachePassword      string
	CacheDB            int
	MarkerTTL          time.Duration
	ResultsTTL         time.Duration
	SigningSecret      string
	TokenTTL           time.Duration
	TransactionTimeout time.Duration
	LogLevel           string
	LogFormat          string
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
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.dsn", "")
	configViper.SetDefault("cache.driver", defaultCacheDriver)
	configViper.SetDefault("cache.address", defaultCacheAddress)
	configViper.SetDefault("cache.password", "")
	configViper.SetDefault("cache.db", 0)
	configViper.SetDefault("cache.marker_ttl", defaultMarkerTTL)
	configViper.SetDefault("cache.results_ttl", defaultResultsTTL)
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("votes.transaction_timeout", defaultTransactionTimeout)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:        configViper.GetString("http.address"),
		DatabaseDriver:     strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:       configViper.GetString("database.path"),
		DatabaseDSN:        configViper.GetString("database.dsn"),
		CacheDriver:        strings.ToLower(strings.TrimSpace(configViper.GetString("cache.driver"))),
		CacheAddress:       configViper.GetString("cache.address"),
		CachePassword:      configViper.GetString("cache.password"),
		CacheDB:            configViper.GetInt("cache.db"),
		MarkerTTL:          configViper.GetDuration("cache.marker_ttl"),
		ResultsTTL:         configViper.GetDuration("cache.results_ttl"),
		SigningSecret:      configViper.GetString("auth.signing_secret"),
		TokenTTL:           time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		TransactionTimeout: configViper.GetDuration("votes.transaction_timeout"),
		LogLevel:           configViper.GetString("log.level"),
		LogFormat:          configViper.GetString("log.format"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// LoadDatabase parses only the settings needed to open the store, for commands that do not serve HTTP.
func LoadDatabase(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		DatabaseDriver: strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:   configViper.GetString("database.path"),
		DatabaseDSN:    configViper.GetString("database.dsn"),
		LogLevel:       configViper.GetString("log.level"),
		LogFormat:      configViper.GetString("log.format"),
	}
	if err := cfg.validateDatabase(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if err := c.validateDatabase(); err != nil {
		return err
	}
	switch c.CacheDriver {
	case CacheDriverRedis:
		if strings.TrimSpace(c.CacheAddress) == "" {
			return fmt.Errorf("cache.address is required for the redis cache")
		}
	case CacheDriverMemory, CacheDriverNone:
	default:
		return fmt.Errorf("cache.driver %q is not supported", c.CacheDriver)
	}
	if c.MarkerTTL <= 0 {
		return fmt.Errorf("cache.marker_ttl must be positive")
	}
	if c.ResultsTTL <= 0 {
		return fmt.Errorf("cache.results_ttl must be positive")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token.ttl_minutes must be positive")
	}
	if c.TransactionTimeout <= 0 {
		return fmt.Errorf("votes.transaction_timeout must be positive")
	}
	return nil
}

func (c AppConfig) validateDatabase() error {
	switch c.DatabaseDriver {
	case DatabaseDriverSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case DatabaseDriverMySQL:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for the mysql driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	return nil
}
