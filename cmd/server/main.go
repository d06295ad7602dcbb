package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/openmined/photoqueue/internal/logging"
	"github.com/openmined/photoqueue/internal/server"
	"github.com/openmined/photoqueue/internal/version"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "photoqueue-server",
	Short:         "PhotoQueue destination server",
	Version:       version.Detailed(),
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging(cmd)
	},
	RunE: runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Accept image uploads",
	RunE:  runServe,
}

func init() {
	addGlobalFlags(rootCmd)
	addServeFlags(rootCmd)
	addServeFlags(serveCmd)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(newTokenCmd())
}

func addGlobalFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringP("config", "c", "", "Config file (json or yaml)")
	cmd.PersistentFlags().String("env-file", ".env", "Dotenv file loaded before the environment is read")
	cmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-file", "", "Also write logs to this file")
}

func addServeFlags(cmd *cobra.Command) {
	cmd.Flags().SortFlags = false
	cmd.Flags().StringP("bind", "b", server.DefaultAddr, "Address to bind the server")
	cmd.Flags().String("cert", "", "Path to the TLS certificate file")
	cmd.Flags().String("key", "", "Path to the TLS key file")
	cmd.Flags().String("db", server.DefaultDBPath, "Path to the image index database")
	cmd.Flags().String("blob", "", "Blob backend (s3 or memory)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	srv, err := server.New(cfg)
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true
	defer slog.Info("Bye!")
	return srv.Start(cmd.Context())
}

func setupLogging(cmd *cobra.Command) error {
	levelStr, _ := cmd.Flags().GetString("log-level")
	level, err := logging.ParseLevel(levelStr)
	if err != nil {
		return err
	}
	file, _ := cmd.Flags().GetString("log-file")
	closer, err := logging.Setup(logging.Options{Level: level, File: file})
	if err != nil {
		return err
	}
	cobra.OnFinalize(func() { closer.Close() })
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
