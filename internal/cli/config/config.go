package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/conduit-lang/persist/internal/orm/cache"
	"github.com/conduit-lang/persist/internal/orm/conn"
	"github.com/conduit-lang/persist/internal/orm/session"
	"github.com/conduit-lang/persist/internal/orm/transaction"
)

// EnvPrefix prefixes every environment override, e.g. PERSIST_DATABASE_DSN
const EnvPrefix = "PERSIST"

// Config represents the persist configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Session  SessionConfig  `mapstructure:"session"`
	Log      LogConfig      `mapstructure:"log"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Schema   SchemaConfig   `mapstructure:"schema"`
}

// DatabaseConfig selects the driver and data source
type DatabaseConfig struct {
	Driver    string `mapstructure:"driver"`
	DSN       string `mapstructure:"dsn"`
	Isolation string `mapstructure:"isolation"`
}

// SessionConfig holds the session policies
type SessionConfig struct {
	FlushMode     string `mapstructure:"flush_mode"`
	DeletionMode  string `mapstructure:"deletion_mode"`
	IdentityCache bool   `mapstructure:"identity_cache"`
}

// LogConfig configures the zap logger
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// CacheConfig configures the second-level row cache
type CacheConfig struct {
	Backend       string        `mapstructure:"backend"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	TTL           time.Duration `mapstructure:"ttl"`
	Prefix        string        `mapstructure:"prefix"`
}

// SchemaConfig points at the entity schema
type SchemaConfig struct {
	Path string `mapstructure:"path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "pgx")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.isolation", "read committed")
	v.SetDefault("session.flush_mode", "commit")
	v.SetDefault("session.deletion_mode", "soft")
	v.SetDefault("session.identity_cache", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("cache.backend", "none")
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.ttl", 5*time.Minute)
	v.SetDefault("cache.prefix", "persist:")
	v.SetDefault("schema.path", "schema.yaml")
}

// Load reads the configuration. A .env file in the working directory is
// loaded into the environment first. An empty path looks for persist.yaml
// in the working directory and falls back to defaults; PERSIST_* variables
// override both.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("persist")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every enumerated setting
func (c *Config) Validate() error {
	var errs []error
	if _, err := conn.LookupDriver(c.Database.Driver); err != nil {
		errs = append(errs, fmt.Errorf("database.driver: %w", err))
	}
	if _, err := transaction.ParseIsolationLevel(c.Database.Isolation); err != nil {
		errs = append(errs, fmt.Errorf("database.isolation: %w", err))
	}
	if _, err := session.ParseFlushMode(c.Session.FlushMode); err != nil {
		errs = append(errs, fmt.Errorf("session.flush_mode: %w", err))
	}
	if _, err := session.ParseDeletionMode(c.Session.DeletionMode); err != nil {
		errs = append(errs, fmt.Errorf("session.deletion_mode: %w", err))
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch c.Cache.Backend {
	case "", "none", "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("cache.backend must be none, memory or redis, got: %s", c.Cache.Backend))
	}
	return errors.Join(errs...)
}

// IsolationLevel returns the configured isolation level
func (c *Config) IsolationLevel() transaction.IsolationLevel {
	level, _ := transaction.ParseIsolationLevel(c.Database.Isolation)
	return level
}

// Logger builds the configured zap logger
func (c *Config) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if c.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// OpenCache connects the configured row cache; it returns nil for "none"
func (c *Config) OpenCache(ctx context.Context) (*cache.RowStore, error) {
	backendConfig := cache.Config{DefaultTTL: c.Cache.TTL, Prefix: c.Cache.Prefix}
	switch c.Cache.Backend {
	case "memory":
		return cache.NewRowStore(cache.NewMemory(backendConfig), c.Cache.TTL), nil
	case "redis":
		r, err := cache.NewRedis(ctx, cache.RedisConfig{
			Addr:     c.Cache.RedisAddr,
			Password: c.Cache.RedisPassword,
			DB:       c.Cache.RedisDB,
			Config:   backendConfig,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", c.Cache.RedisAddr, err)
		}
		return cache.NewRowStore(r, c.Cache.TTL), nil
	}
	return nil, nil
}

// SessionConfig maps the session settings; logger and cache are left to the caller
func (c *Config) SessionConfig() (session.Config, error) {
	flush, err := session.ParseFlushMode(c.Session.FlushMode)
	if err != nil {
		return session.Config{}, err
	}
	deletion, err := session.ParseDeletionMode(c.Session.DeletionMode)
	if err != nil {
		return session.Config{}, err
	}
	return session.Config{
		FlushMode:     flush,
		DeletionMode:  deletion,
		IdentityCache: c.Session.IdentityCache,
	}, nil
}
