package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/openmined/photoqueue/internal/queue"
	"github.com/openmined/photoqueue/internal/transport/httpupload"
	"github.com/openmined/photoqueue/internal/transport/s3upload"
	"github.com/openmined/photoqueue/internal/utils"
	"github.com/spf13/viper"
)

const (
	TransportHTTP = "http"
	TransportS3   = "s3"

	DefaultControlPlaneAddr = "127.0.0.1:7938"
	DefaultTransferTimeout  = 5 * time.Minute
)

var (
	home, _           = os.UserHomeDir()
	DefaultDataDir    = filepath.Join(home, ".photoqueue")
	DefaultConfigPath = filepath.Join(DefaultDataDir, "config.yaml")
	DefaultServerURL  = "http://localhost:8080"
)

type Config struct {
	DataDir   string `mapstructure:"data_dir"`
	ServerURL string `mapstructure:"server_url"`
	Token     string `mapstructure:"token"`
	Transport string `mapstructure:"transport"`
	AlbumID   string `mapstructure:"album_id"`

	MaxConcurrent   int           `mapstructure:"max_concurrent"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryBaseDelay  time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay   time.Duration `mapstructure:"retry_max_delay"`
	RetryJitter     bool          `mapstructure:"retry_jitter"`
	TransferTimeout time.Duration `mapstructure:"transfer_timeout"`
	AssumedItemSize int64         `mapstructure:"assumed_item_size"`

	ControlPlane ControlPlaneConfig `mapstructure:"control_plane"`
	S3           s3upload.Config    `mapstructure:"s3"`

	Path string `mapstructure:"-"`
}

// ControlPlaneConfig configures the local HTTP surface of the daemon.
type ControlPlaneConfig struct {
	Addr  string `mapstructure:"addr"`
	Token string `mapstructure:"token"`
}

// Defaults are the values every key falls back to. Registering all of them
// lets env-only configuration unmarshal.
func Defaults() map[string]any {
	return map[string]any{
		"data_dir":            DefaultDataDir,
		"server_url":          DefaultServerURL,
		"token":               "",
		"transport":           TransportHTTP,
		"album_id":            "",
		"max_concurrent":      queue.DefaultMaxConcurrent,
		"max_retries":         queue.DefaultMaxRetries,
		"retry_base_delay":    queue.DefaultBaseDelay,
		"retry_max_delay":     queue.DefaultMaxDelay,
		"retry_jitter":        false,
		"transfer_timeout":    DefaultTransferTimeout,
		"assumed_item_size":   queue.DefaultAssumedItemSize,
		"control_plane.addr":  DefaultControlPlaneAddr,
		"control_plane.token": "",
		"s3.bucket_name":      "",
		"s3.region":           "",
		"s3.access_key":       "",
		"s3.secret_key":       "",
		"s3.endpoint":         "",
		"s3.prefix":           "",
	}
}

func SetDefaults(v *viper.Viper) {
	for key, value := range Defaults() {
		v.SetDefault(key, value)
	}
}

// FromViper decodes and validates the client configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Path = v.ConfigFileUsed()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration and makes paths absolute.
func (c *Config) Validate() error {
	var err error

	if c.DataDir == "" {
		return errors.New("data dir required")
	}
	if c.DataDir, err = utils.ResolvePath(c.DataDir); err != nil {
		return fmt.Errorf("data dir: %w", err)
	}
	if c.Path != "" {
		if c.Path, err = utils.ResolvePath(c.Path); err != nil {
			return fmt.Errorf("config path: %w", err)
		}
	}

	switch c.Transport {
	case TransportHTTP:
		if !utils.IsValidURL(c.ServerURL) {
			return fmt.Errorf("invalid server url %q", c.ServerURL)
		}
	case TransportS3:
		if err := c.S3.Validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}

	if c.TransferTimeout < 0 {
		return errors.New("transfer timeout must not be negative")
	}

	if c.ControlPlane.Addr != "" {
		if _, _, err := net.SplitHostPort(c.ControlPlane.Addr); err != nil {
			return fmt.Errorf("invalid control plane addr %q: %w", c.ControlPlane.Addr, err)
		}
	}

	qc := c.QueueConfig(nil)
	return qc.Validate()
}

// QueueConfig maps the retry and admission keys onto a queue.Config.
func (c *Config) QueueConfig(logger *slog.Logger) queue.Config {
	return queue.Config{
		MaxConcurrent:   c.MaxConcurrent,
		MaxRetries:      c.MaxRetries,
		BaseDelay:       c.RetryBaseDelay,
		MaxDelay:        c.RetryMaxDelay,
		Jitter:          c.RetryJitter,
		AssumedItemSize: c.AssumedItemSize,
		Logger:          logger,
	}
}

// S3UploadConfig applies the transfer timeout to the bucket settings.
func (c *Config) S3UploadConfig() s3upload.Config {
	cfg := c.S3
	cfg.Timeout = c.TransferTimeout
	return cfg
}

func (c *Config) HTTPUploadConfig() httpupload.Config {
	return httpupload.Config{
		ServerURL: c.ServerURL,
		Token:     c.Token,
		Timeout:   c.TransferTimeout,
		AlbumID:   c.AlbumID,
	}
}
