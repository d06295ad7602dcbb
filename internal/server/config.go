package server

import (
	"fmt"
	"strings"

	"github.com/openmined/photoqueue/internal/server/auth"
	"github.com/openmined/photoqueue/internal/server/blob"
	"github.com/ulule/limiter/v3"
)

const (
	DefaultAddr          = "127.0.0.1:8080"
	DefaultDBPath        = "./.data/images.db"
	DefaultRateLimit     = "20-S"
	DefaultMaxUploadSize = 64 << 20 // 64 MiB
)

type Config struct {
	HTTP          HTTPConfig  `mapstructure:"http"`
	DBPath        string      `mapstructure:"db_path"`
	Blob          blob.Config `mapstructure:"blob"`
	Auth          auth.Config `mapstructure:"auth"`
	RateLimit     string      `mapstructure:"rate_limit"`
	MaxUploadSize int64       `mapstructure:"max_upload_size"`
}

type HTTPConfig struct {
	Addr     string `mapstructure:"addr"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

func (c *HTTPConfig) TLSEnabled() bool {
	return c.CertFile != "" && c.KeyFile != ""
}

func (c *HTTPConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("http `addr` is required")
	}
	if (c.CertFile == "") != (c.KeyFile == "") {
		return fmt.Errorf("http `cert_file` and `key_file` must be set together")
	}
	return nil
}

func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.DBPath) == "" {
		return fmt.Errorf("`db_path` is required")
	}
	if err := c.Blob.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if c.RateLimit != "" {
		if _, err := limiter.NewRateFromFormatted(c.RateLimit); err != nil {
			return fmt.Errorf("invalid `rate_limit` %q: %w", c.RateLimit, err)
		}
	}
	if c.MaxUploadSize < 0 {
		return fmt.Errorf("`max_upload_size` must not be negative")
	}
	return nil
}
