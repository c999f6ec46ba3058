package main

import (
	"errors"
	"fmt"
	"os"

	"accountd/core"
	"accountd/core/providers"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const envPrefix = "ACCOUNTD_"

type AppConfig struct {
	Core    core.Config              `yaml:",inline"`
	Google  *providers.GoogleConfig  `yaml:"google,omitempty" envPrefix:"GOOGLE_"`
	Twitter *providers.TwitterConfig `yaml:"twitter,omitempty" envPrefix:"TWITTER_"`

	DB       DBConfig       `yaml:"db" envPrefix:"DB_"`
	Sessions SessionsConfig `yaml:"sessions" envPrefix:"SESSIONS_"`
	Log      LogConfig      `yaml:"log" envPrefix:"LOG_"`
	Port     string         `yaml:"port" env:"PORT"`
}

type DBConfig struct {
	Type        string `yaml:"type" env:"TYPE"` // sqlite, postgres or mock
	SQLitePath  string `yaml:"sqlite_path" env:"SQLITE_PATH"`
	PostgresDSN string `yaml:"postgres_dsn" env:"POSTGRES_DSN"`
}

type SessionsConfig struct {
	Type          string `yaml:"type" env:"TYPE"` // redis or memory
	RedisAddr     string `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword string `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" env:"REDIS_DB"`
}

type LogConfig struct {
	Development bool   `yaml:"development" env:"DEVELOPMENT"`
	Level       string `yaml:"level" env:"LEVEL"`
}

// LoadConfig reads the YAML file named by CONFIG_PATH (config.yaml by default)
// and applies ACCOUNTD_* environment overrides on top. A missing file is fine
// as long as the environment supplies the rest.
func LoadConfig() (*AppConfig, error) {
	return loadConfig(getEnv("CONFIG_PATH", "config.yaml"))
}

func loadConfig(path string) (*AppConfig, error) {
	config := AppConfig{
		Google:  &providers.GoogleConfig{},
		Twitter: &providers.TwitterConfig{},
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := env.ParseWithOptions(&config, env.Options{Prefix: envPrefix}); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	config.applyDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *AppConfig) applyDefaults() {
	c.Core = c.Core.WithDefaults()
	if c.Port == "" {
		c.Port = "8080"
	}
	if c.DB.Type == "" {
		c.DB.Type = "sqlite"
	}
	if c.DB.SQLitePath == "" {
		c.DB.SQLitePath = "accountd.db"
	}
	if c.Sessions.Type == "" {
		c.Sessions.Type = "memory"
	}
	if c.Sessions.RedisAddr == "" {
		c.Sessions.RedisAddr = "localhost:6379"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	if c.Google != nil && c.Google.ClientID == "" {
		c.Google = nil
	}
	if c.Twitter != nil && c.Twitter.ClientID == "" {
		c.Twitter = nil
	}
}

func (c *AppConfig) validate() error {
	if c.Core.Session.Secret == "" {
		return errors.New("session.secret is required")
	}
	if len(c.Core.Crypto.EncryptionKey) != 32 {
		return errors.New("crypto.encryption_key must be 32 bytes")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
