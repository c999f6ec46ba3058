package core

type Config struct {
	Session SessionConfig `yaml:"session" envPrefix:"SESSION_"`
	Crypto  CryptoConfig  `yaml:"crypto" envPrefix:"CRYPTO_"`

	LoginPath       string `yaml:"login_path" env:"LOGIN_PATH"`             // Frontend sign-in page unauthenticated requests are sent to
	AccountPath     string `yaml:"account_path" env:"ACCOUNT_PATH"`         // Where failed linking attempts are sent
	SuccessRedirect string `yaml:"success_redirect" env:"SUCCESS_REDIRECT"` // Where successful OAuth callbacks are sent
}

type SessionConfig struct {
	Secret     string `yaml:"secret" env:"SECRET"`     // HMAC key for session cookies
	Duration   int    `yaml:"duration" env:"DURATION"` // Session lifetime in seconds
	CookieName string `yaml:"cookie_name" env:"COOKIE_NAME"`
	Secure     bool   `yaml:"secure" env:"SECURE"`
}

type CryptoConfig struct {
	EncryptionKey string `yaml:"encryption_key" env:"ENCRYPTION_KEY"` // 32 bytes, AES-256 key for provider tokens
}

// WithDefaults fills unset fields with their default values.
func (c Config) WithDefaults() Config {
	if c.LoginPath == "" {
		c.LoginPath = "/login"
	}
	if c.AccountPath == "" {
		c.AccountPath = "/account"
	}
	if c.SuccessRedirect == "" {
		c.SuccessRedirect = "/"
	}
	if c.Session.Duration <= 0 {
		c.Session.Duration = 14 * 24 * 60 * 60
	}
	if c.Session.CookieName == "" {
		c.Session.CookieName = "accountd_session"
	}
	return c
}
