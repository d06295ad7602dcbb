package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/openmined/photoqueue/internal/client/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	envPrefix      = "PHOTOQUEUE"
	configFileName = "config"
)

var home, _ = os.UserHomeDir()

// flagKeys maps cobra flags to config keys. Flags a command does not define are skipped.
var flagKeys = map[string]string{
	"server":      "server_url",
	"token":       "token",
	"datadir":     "data_dir",
	"album":       "album_id",
	"transport":   "transport",
	"concurrency": "max_concurrent",
	"retries":     "max_retries",
	"http-addr":   "control_plane.addr",
	"http-token":  "control_plane.token",
}

// loadConfig merges defaults, config file, flags and PHOTOQUEUE_* environment.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := viper.New()
	config.SetDefaults(v)

	if f := cmd.Flag("config"); f != nil && f.Value.String() != "" {
		v.SetConfigFile(f.Value.String())
	} else {
		v.AddConfigPath(config.DefaultDataDir)
		v.AddConfigPath(filepath.Join(home, ".config", "photoqueue"))
		v.SetConfigName(configFileName)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config read '%s': %w", v.ConfigFileUsed(), err)
		}
	}

	for flag, key := range flagKeys {
		bindFlag(v, cmd, key, flag)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return config.FromViper(v)
}

// bindFlag only binds flags the user actually set, so flag defaults do not
// shadow values from the config file or the environment.
func bindFlag(v *viper.Viper, cmd *cobra.Command, key, flag string) {
	if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
		v.Set(key, f.Value.String())
	}
}
