// Package config reads server settings from the environment.
package config

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/jason-s-yu/teamlobby/internal/database"
	"github.com/sirupsen/logrus"
)

// Storage drivers.
const (
	StoragePostgres = "postgres"
	StorageSQLite   = "sqlite"
	StorageMemory   = "memory"
)

// Session drivers.
const (
	SessionRedis  = "redis"
	SessionMemory = "memory"
)

// Config is every setting the server reads at startup.
type Config struct {
	Port      string `env:"PORT"       envDefault:"8080"`
	PublicURL string `env:"PUBLIC_URL" envDefault:"http://localhost:8080"`

	StorageDriver    string `env:"STORAGE_DRIVER"    envDefault:"postgres"`
	PostgresUser     string `env:"POSTGRES_USER"     envDefault:"postgres"`
	PostgresPassword string `env:"POSTGRES_PASSWORD"`
	PGHost           string `env:"PG_HOST"           envDefault:"localhost"`
	PGPort           string `env:"PG_PORT"           envDefault:"5432"`
	PGDatabase       string `env:"PG_DATABASE"       envDefault:"teamlobby"`
	SQLitePath       string `env:"SQLITE_PATH"       envDefault:"teamlobby.db"`

	SessionDriver   string        `env:"SESSION_DRIVER"    envDefault:"redis"`
	RedisAddr       string        `env:"REDIS_ADDR"        envDefault:"localhost:6379"`
	RedisDB         int           `env:"REDIS_DB"          envDefault:"0"`
	SessionHashKey  string        `env:"SESSION_HASH_KEY"`
	SessionBlockKey string        `env:"SESSION_BLOCK_KEY"`
	SessionTTL      time.Duration `env:"SESSION_TTL"       envDefault:"720h"`
	SecureCookies   bool          `env:"SECURE_COOKIES"    envDefault:"false"`

	TokenExpireTime   string `env:"TOKEN_EXPIRE_TIME"`
	JWTPublicKeyPath  string `env:"JWT_PUBLIC_KEY_PATH"`
	JWTPrivateKeyPath string `env:"JWT_PRIVATE_KEY_PATH"`

	RateLimitPerMinute int      `env:"RATE_LIMIT_PER_MINUTE" envDefault:"60"`
	WSOriginPatterns   []string `env:"WS_ORIGIN_PATTERNS"    envSeparator:","`

	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses and validates the environment.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects unknown drivers and malformed keys.
func (c Config) Validate() error {
	switch c.StorageDriver {
	case StoragePostgres, StorageSQLite, StorageMemory:
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}
	switch c.SessionDriver {
	case SessionRedis, SessionMemory:
	default:
		return fmt.Errorf("unknown SESSION_DRIVER %q", c.SessionDriver)
	}
	if _, err := c.HashKey(); err != nil {
		return err
	}
	if _, err := c.BlockKey(); err != nil {
		return err
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	return nil
}

// Postgres returns the connection settings for the postgres driver.
func (c Config) Postgres() database.PostgresConfig {
	return database.PostgresConfig{
		User:     c.PostgresUser,
		Password: c.PostgresPassword,
		Host:     c.PGHost,
		Port:     c.PGPort,
		Database: c.PGDatabase,
	}
}

// HashKey decodes SESSION_HASH_KEY (hex). An empty value yields nil; the caller then
// generates an ephemeral key.
func (c Config) HashKey() ([]byte, error) {
	return decodeKey("SESSION_HASH_KEY", c.SessionHashKey, 32, 64)
}

// BlockKey decodes SESSION_BLOCK_KEY (hex, AES-128/192/256). Empty disables encryption.
func (c Config) BlockKey() ([]byte, error) {
	return decodeKey("SESSION_BLOCK_KEY", c.SessionBlockKey, 16, 24, 32)
}

func decodeKey(name, v string, sizes ...int) ([]byte, error) {
	if v == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(v)
	if err != nil {
		return nil, fmt.Errorf("%s must be hex: %w", name, err)
	}
	for _, n := range sizes {
		if len(key) == n {
			return key, nil
		}
	}
	return nil, fmt.Errorf("%s has invalid length %d bytes", name, len(key))
}

// Addr is the listen address.
func (c Config) Addr() string {
	return ":" + c.Port
}
