package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "12345678901234567890123456789012"

func writeConfig(t *testing.T, body string) string {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_FileAndDefaults(t *testing.T) {
	path := writeConfig(t, `
session:
  secret: file-secret
crypto:
  encryption_key: `+testKey+`
google:
  client_id: google-client
  client_secret: google-secret
  redirect_uri: http://localhost:8080/auth/google/callback
`)

	cfg, err := loadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "file-secret", cfg.Core.Session.Secret)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "sqlite", cfg.DB.Type)
	assert.Equal(t, "accountd.db", cfg.DB.SQLitePath)
	assert.Equal(t, "memory", cfg.Sessions.Type)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "/login", cfg.Core.LoginPath)
	assert.Equal(t, "accountd_session", cfg.Core.Session.CookieName)

	require.NotNil(t, cfg.Google)
	assert.Equal(t, "google-client", cfg.Google.ClientID)
	assert.Nil(t, cfg.Twitter, "providers without a client id are disabled")
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, `
port: "9000"
session:
  secret: file-secret
crypto:
  encryption_key: `+testKey+`
`)
	t.Setenv("ACCOUNTD_PORT", "9100")
	t.Setenv("ACCOUNTD_SESSION_SECRET", "env-secret")
	t.Setenv("ACCOUNTD_DB_TYPE", "postgres")
	t.Setenv("ACCOUNTD_DB_POSTGRES_DSN", "postgres://localhost/accountd")
	t.Setenv("ACCOUNTD_SESSIONS_TYPE", "redis")
	t.Setenv("ACCOUNTD_SESSIONS_REDIS_DB", "2")
	t.Setenv("ACCOUNTD_TWITTER_CLIENT_ID", "twitter-client")

	cfg, err := loadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "9100", cfg.Port)
	assert.Equal(t, "env-secret", cfg.Core.Session.Secret)
	assert.Equal(t, "postgres", cfg.DB.Type)
	assert.Equal(t, "postgres://localhost/accountd", cfg.DB.PostgresDSN)
	assert.Equal(t, "redis", cfg.Sessions.Type)
	assert.Equal(t, "localhost:6379", cfg.Sessions.RedisAddr)
	assert.Equal(t, 2, cfg.Sessions.RedisDB)
	require.NotNil(t, cfg.Twitter)
	assert.Equal(t, "twitter-client", cfg.Twitter.ClientID)
	assert.Nil(t, cfg.Google)
}

func TestLoadConfig_MissingFileUsesEnvironment(t *testing.T) {
	t.Setenv("ACCOUNTD_SESSION_SECRET", "env-secret")
	t.Setenv("ACCOUNTD_CRYPTO_ENCRYPTION_KEY", testKey)

	cfg, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "env-secret", cfg.Core.Session.Secret)
}

func TestLoadConfig_Validation(t *testing.T) {
	t.Run("missing secret", func(t *testing.T) {
		path := writeConfig(t, "crypto:\n  encryption_key: "+testKey+"\n")
		_, err := loadConfig(path)
		assert.ErrorContains(t, err, "session.secret")
	})

	t.Run("short encryption key", func(t *testing.T) {
		path := writeConfig(t, "session:\n  secret: s\ncrypto:\n  encryption_key: short\n")
		_, err := loadConfig(path)
		assert.ErrorContains(t, err, "encryption_key")
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := writeConfig(t, "session: [")
		_, err := loadConfig(path)
		assert.ErrorContains(t, err, "failed to parse config file")
	})
}

func TestLoadConfig_ExampleFile(t *testing.T) {
	cfg, err := loadConfig(filepath.Join("..", "..", "config.example.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "/login", cfg.Core.LoginPath)
	assert.Equal(t, "/account", cfg.Core.AccountPath)
	assert.Equal(t, "sqlite", cfg.DB.Type)
	assert.Nil(t, cfg.Google)
	assert.Nil(t, cfg.Twitter)
}
