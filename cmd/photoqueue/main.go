package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/openmined/photoqueue/internal/client/config"
	"github.com/openmined/photoqueue/internal/client/workspace"
	"github.com/openmined/photoqueue/internal/logging"
	"github.com/openmined/photoqueue/internal/version"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "photoqueue",
		Short:         "Queue and upload photos",
		Version:       version.Detailed(),
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file (json or yaml)")
	rootCmd.PersistentFlags().StringP("server", "s", config.DefaultServerURL, "Upload server url")
	rootCmd.PersistentFlags().String("token", "", "Bearer token for the upload server")
	rootCmd.PersistentFlags().StringP("datadir", "d", config.DefaultDataDir, "Data directory for logs and the daemon lock")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(newUploadCmd())
	rootCmd.AddCommand(newDaemonCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

// setupLogging writes to the workspace log file and, unless quiet, to the console.
func setupLogging(cmd *cobra.Command, cfg *config.Config, quiet bool) error {
	levelStr, _ := cmd.Flags().GetString("log-level")
	level, err := logging.ParseLevel(levelStr)
	if err != nil {
		return err
	}

	ws, err := workspace.NewWorkspace(cfg.DataDir)
	if err != nil {
		return err
	}
	if err := ws.Setup(); err != nil {
		return err
	}

	closer, err := logging.Setup(logging.Options{
		Level:   level,
		Console: cmd.ErrOrStderr(),
		Quiet:   quiet,
		File:    ws.LogFile(),
	})
	if err != nil {
		return err
	}
	cobra.OnFinalize(func() { closer.Close() })

	slog.Debug("photoqueue", "version", version.Version, "revision", version.Revision, "config", cfg.Path)
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, red.Render("error:"), err)
		os.Exit(1)
	}
}
