package auth

import (
	"fmt"
	"time"
)

const minSecretLength = 16

type Config struct {
	Enabled           bool          `mapstructure:"enabled"`
	TokenIssuer       string        `mapstructure:"token_issuer"`
	AccessTokenSecret string        `mapstructure:"access_token_secret"`
	AccessTokenExpiry time.Duration `mapstructure:"access_token_expiry"` // zero issues tokens without expiry
}

func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.TokenIssuer == "" {
		return fmt.Errorf("auth `token_issuer` is required when auth is enabled")
	}
	if c.AccessTokenSecret == "" {
		return fmt.Errorf("auth `access_token_secret` is required when auth is enabled")
	}
	if len(c.AccessTokenSecret) < minSecretLength {
		return fmt.Errorf("auth `access_token_secret` must be at least %d characters", minSecretLength)
	}
	if c.AccessTokenExpiry < 0 {
		return fmt.Errorf("auth `access_token_expiry` must not be negative")
	}
	return nil
}
