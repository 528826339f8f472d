/*
config.go - Service configuration

PURPOSE:
  One Config struct loaded from, in increasing priority:
  defaults, an optional YAML file, .env, WAREHOUSE_* environment variables,
  and explicitly set command-line flags.

ENVIRONMENT:
  Keys map to variables by upper-casing and replacing dots with underscores:
  store.driver -> WAREHOUSE_STORE_DRIVER.
*/
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	App struct {
		Env string
	} `mapstructure:"app"`

	HTTP struct {
		Addr            string
		AllowedOrigins  []string      `mapstructure:"allowed_origins"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"http"`

	Store struct {
		Driver      string
		SQLitePath  string `mapstructure:"sqlite_path"`
		PostgresDSN string `mapstructure:"postgres_dsn"`
		MaxConns    int32  `mapstructure:"max_conns"`
	} `mapstructure:"store"`

	Log struct {
		Level    string
		Encoding string
	} `mapstructure:"log"`

	Metrics struct {
		Enabled bool
	} `mapstructure:"metrics"`

	Audit struct {
		Interval time.Duration
	} `mapstructure:"audit"`
}

// FlagKeys maps command-line flag names to config keys.
var FlagKeys = map[string]string{
	"addr":      "http.addr",
	"store":     "store.driver",
	"db":        "store.sqlite_path",
	"dsn":       "store.postgres_dsn",
	"log-level": "log.level",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "production")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.allowed_origins", []string{"*"})
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("store.driver", DriverSQLite)
	v.SetDefault("store.sqlite_path", "./data/warehouse.db")
	v.SetDefault("store.postgres_dsn", "")
	v.SetDefault("store.max_conns", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "json")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("audit.interval", time.Hour)
}

// Load reads configuration. path may be empty; flags may be nil.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	_ = godotenv.Load() // .env is optional

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("WAREHOUSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	if flags != nil {
		for name, key := range FlagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks cross-field rules.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory, DriverSQLite:
	case DriverPostgres:
		if c.Store.PostgresDSN == "" {
			return errors.New("store.postgres_dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	if c.Store.Driver == DriverSQLite && c.Store.SQLitePath == "" {
		return errors.New("store.sqlite_path is required for the sqlite driver")
	}
	return nil
}

// IsDevelopment reports whether app.env selects development defaults.
func (c Config) IsDevelopment() bool {
	return c.App.Env == "dev" || c.App.Env == "development"
}
