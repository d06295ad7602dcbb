package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/openmined/photoqueue/internal/server"
	"github.com/openmined/photoqueue/internal/server/blob"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	envPrefix      = "PHOTOQUEUE_SERVER"
	configFileName = "server"
)

var home, _ = os.UserHomeDir()

// defaults registers every key so env-only configs unmarshal too.
var defaults = map[string]any{
	"http.addr":                server.DefaultAddr,
	"http.cert_file":           "",
	"http.key_file":            "",
	"db_path":                  server.DefaultDBPath,
	"blob.backend":             blob.BackendS3,
	"blob.s3.bucket_name":      "",
	"blob.s3.region":           "",
	"blob.s3.access_key":       "",
	"blob.s3.secret_key":       "",
	"blob.s3.endpoint":         "",
	"blob.s3.use_accelerate":   false,
	"auth.enabled":             false,
	"auth.token_issuer":        "",
	"auth.access_token_secret": "",
	"auth.access_token_expiry": "0s",
	"rate_limit":               server.DefaultRateLimit,
	"max_upload_size":          server.DefaultMaxUploadSize,
}

func loadConfig(cmd *cobra.Command) (*server.Config, error) {
	cfg, err := decodeConfig(cmd)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodeConfig merges defaults, config file, flags and environment without validating.
func decodeConfig(cmd *cobra.Command) (*server.Config, error) {
	if err := loadEnvFile(cmd); err != nil {
		return nil, err
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if f := cmd.Flag("config"); f != nil && f.Value.String() != "" {
		v.SetConfigFile(f.Value.String())
	} else {
		v.AddConfigPath(filepath.Join(home, ".photoqueue"))
		v.AddConfigPath(filepath.Join(home, ".config", "photoqueue"))
		v.SetConfigName(configFileName)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config read '%s': %w", v.ConfigFileUsed(), err)
		}
	}

	bindFlag(v, cmd, "http.addr", "bind")
	bindFlag(v, cmd, "http.cert_file", "cert")
	bindFlag(v, cmd, "http.key_file", "key")
	bindFlag(v, cmd, "db_path", "db")
	bindFlag(v, cmd, "blob.backend", "blob")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &server.Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config decode: %w", err)
	}

	slog.Debug("config loaded", "file", v.ConfigFileUsed(), "addr", cfg.HTTP.Addr, "db", cfg.DBPath, "blob", cfg.Blob.Backend, "auth", cfg.Auth.Enabled)
	return cfg, nil
}

// bindFlag only binds flags the user actually set, so flag defaults do not
// shadow values from the config file or the environment.
func bindFlag(v *viper.Viper, cmd *cobra.Command, key, flag string) {
	if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
		v.Set(key, f.Value.String())
	}
}

func loadEnvFile(cmd *cobra.Command) error {
	f := cmd.Flag("env-file")
	if f == nil || f.Value.String() == "" {
		return nil
	}
	path := f.Value.String()
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) && !f.Changed {
			return nil
		}
		return fmt.Errorf("load env file %q: %w", path, err)
	}
	slog.Debug("env file loaded", "path", path)
	return nil
}
