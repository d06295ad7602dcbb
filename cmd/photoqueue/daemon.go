package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/openmined/photoqueue/internal/client"
	"github.com/openmined/photoqueue/internal/client/config"
	"github.com/openmined/photoqueue/internal/queue"
	"github.com/openmined/photoqueue/internal/version"
	"github.com/spf13/cobra"
)

func newDaemonCmd() *cobra.Command {
	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the upload queue behind a local control plane",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			if err := setupLogging(cmd, cfg, false); err != nil {
				return err
			}
			slog.Info("photoqueue", "version", version.Version, "revision", version.Revision, "build", version.BuildDate)

			daemon, err := client.NewClientDaemon(cfg)
			if err != nil {
				return err
			}

			defer slog.Info("Bye!")
			if err := daemon.Start(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("daemon start", "error", err)
				return err
			}
			return nil
		},
	}

	daemonCmd.Flags().StringP("http-addr", "a", config.DefaultControlPlaneAddr, "Address to bind the local http server")
	daemonCmd.Flags().StringP("http-token", "t", "", "Access token for the local http server")
	daemonCmd.Flags().String("album", "", "Album for enqueued photos that name none")
	daemonCmd.Flags().String("transport", config.TransportHTTP, "Transport (http or s3)")
	daemonCmd.Flags().IntP("concurrency", "j", queue.DefaultMaxConcurrent, "Transfers running at the same time")
	daemonCmd.Flags().IntP("retries", "r", queue.DefaultMaxRetries, "Automatic retries per photo")

	return daemonCmd
}
