package main

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/imroc/req/v3"
	"github.com/openmined/photoqueue/internal/client/config"
	"github.com/openmined/photoqueue/internal/client/handlers"
	"github.com/openmined/photoqueue/internal/version"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the batch of a running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			interval, _ := cmd.Flags().GetDuration("watch")
			client := newControlPlaneClient(cfg)

			for {
				status, err := fetchStatus(cmd, client)
				if err != nil {
					return err
				}
				printStatus(cmd.OutOrStdout(), status)

				if interval <= 0 {
					return nil
				}
				select {
				case <-cmd.Context().Done():
					return nil
				case <-time.After(interval):
				}
			}
		},
	}

	cmd.Flags().StringP("http-addr", "a", config.DefaultControlPlaneAddr, "Address of the daemon control plane")
	cmd.Flags().StringP("http-token", "t", "", "Access token for the daemon control plane")
	cmd.Flags().Duration("watch", 0, "Poll at this interval instead of printing once")

	return cmd
}

func newControlPlaneClient(cfg *config.Config) *req.Client {
	c := req.C().
		SetBaseURL("http://" + cfg.ControlPlane.Addr).
		SetUserAgent(version.UserAgent()).
		SetTimeout(5 * time.Second).
		SetCommonErrorResult(&handlers.ControlPlaneError{})
	if cfg.ControlPlane.Token != "" {
		c.SetCommonBearerAuthToken(cfg.ControlPlane.Token)
	}
	return c
}

func fetchStatus(cmd *cobra.Command, client *req.Client) (*handlers.StatusResponse, error) {
	var status handlers.StatusResponse
	resp, err := client.R().
		SetContext(cmd.Context()).
		SetSuccessResult(&status).
		Get("/v1/status")
	if err != nil {
		return nil, fmt.Errorf("control plane unreachable: %w", err)
	}
	if resp.IsErrorState() {
		if cpErr, ok := resp.ErrorResult().(*handlers.ControlPlaneError); ok && cpErr.Error != "" {
			return nil, fmt.Errorf("control plane: %s (%s)", cpErr.Error, cpErr.ErrorCode)
		}
		return nil, fmt.Errorf("control plane: %s", resp.Status)
	}
	return &status, nil
}

func printStatus(w io.Writer, status *handlers.StatusResponse) {
	fmt.Fprintf(w, "%s %s  batch %s  up since %s\n",
		titleStyle.Render("photoqueue"), status.Version, status.BatchID, status.StartedAt)

	stats := status.Stats
	if stats == nil {
		return
	}

	state := gray.Render("idle")
	if stats.Running {
		state = green.Render("running")
	}
	fmt.Fprintf(w, "%s  %d/%d done  %d uploading  %d pending  %d paused  %s\n",
		state, stats.Completed, stats.Total, stats.Uploading, stats.Pending, stats.Paused,
		red.Render(fmt.Sprintf("%d failed", stats.Failed)))
	fmt.Fprintf(w, "%s / %s (%.0f%%)", humanize.IBytes(uint64(stats.BytesSent)), humanize.IBytes(uint64(stats.BytesTotal)), stats.ByteProgress)
	if stats.TotalSpeed > 0 {
		fmt.Fprintf(w, "  %s/s  ETA %s", humanize.IBytes(uint64(stats.TotalSpeed)), stats.EstimatedTimeRemaining.Round(time.Second))
	}
	fmt.Fprintln(w)
}
