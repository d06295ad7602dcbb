package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate_Disabled(t *testing.T) {
	cfg := &Config{}
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate_Valid(t *testing.T) {
	cfg := &Config{
		Enabled:           true,
		TokenIssuer:       "https://photos.example.com",
		AccessTokenSecret: "0123456789abcdef",
		AccessTokenExpiry: time.Hour,
	}
	require.NoError(t, cfg.Validate())
}

func TestConfigValidate_MissingFields(t *testing.T) {
	cfg := &Config{Enabled: true}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token_issuer")

	cfg.TokenIssuer = "https://photos.example.com"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access_token_secret")
}

func TestConfigValidate_ShortSecret(t *testing.T) {
	cfg := &Config{
		Enabled:           true,
		TokenIssuer:       "https://photos.example.com",
		AccessTokenSecret: "short",
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least")
}

func TestConfigValidate_NegativeExpiry(t *testing.T) {
	cfg := &Config{
		Enabled:           true,
		TokenIssuer:       "https://photos.example.com",
		AccessTokenSecret: "0123456789abcdef",
		AccessTokenExpiry: -time.Second,
	}
	assert.ErrorContains(t, cfg.Validate(), "access_token_expiry")
}
