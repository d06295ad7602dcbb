package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/openmined/photoqueue/internal/client"
	"github.com/openmined/photoqueue/internal/client/config"
	"github.com/openmined/photoqueue/internal/photo"
	"github.com/openmined/photoqueue/internal/queue"
	"github.com/openmined/photoqueue/internal/transport"
	"github.com/spf13/cobra"
)

var (
	errUploadsFailed = errors.New("some uploads failed")
	errInterrupted   = errors.New("upload interrupted")
	errNothingToDo   = errors.New("no images found")
)

func newUploadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload [paths|globs...]",
		Short: "Upload photos and wait until the batch settles",
		Example: `  photoqueue upload ~/Pictures/trip --album summer-2024
  photoqueue upload "shoot/**/*.jpg" -j 6
  photoqueue upload --manifest album.yaml`,
		RunE: runUpload,
	}

	cmd.Flags().SortFlags = false
	cmd.Flags().StringP("album", "a", "", "Album for photos that name none")
	cmd.Flags().StringP("manifest", "m", "", "YAML manifest listing photos and their metadata")
	cmd.Flags().IntP("concurrency", "j", queue.DefaultMaxConcurrent, "Transfers running at the same time")
	cmd.Flags().IntP("retries", "r", queue.DefaultMaxRetries, "Automatic retries per photo")
	cmd.Flags().String("transport", config.TransportHTTP, "Transport (http or s3)")
	cmd.Flags().Bool("no-tui", false, "Log progress lines instead of the interactive view")

	return cmd
}

func runUpload(cmd *cobra.Command, args []string) error {
	manifestPath, _ := cmd.Flags().GetString("manifest")
	if len(args) == 0 && manifestPath == "" {
		return errors.New("pass paths, globs or --manifest")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	noTUI, _ := cmd.Flags().GetBool("no-tui")
	interactive := !noTUI && isTerminal(cmd.OutOrStdout())
	if err := setupLogging(cmd, cfg, interactive); err != nil {
		return err
	}

	assets, skipped, err := collectAssets(args, manifestPath)
	if err != nil {
		return err
	}
	for _, path := range skipped {
		slog.Info("skip non image", "path", path)
	}
	if len(assets) == 0 {
		return errNothingToDo
	}

	tr, err := client.NewTransport(cfg)
	if err != nil {
		return err
	}

	q, err := newUploadQueue(cfg, tr)
	if err != nil {
		return err
	}
	defer q.Close()

	payloads := make([]any, 0, len(assets))
	for _, asset := range assets {
		if asset.AlbumID == "" {
			asset.AlbumID = cfg.AlbumID
		}
		payloads = append(payloads, asset)
	}
	if _, err := q.AddToQueue(payloads...); err != nil {
		return err
	}

	if interactive {
		err = runInteractive(cmd.Context(), q, cfg.AlbumID)
	} else {
		err = runPlain(cmd.Context(), q)
	}

	if err != nil && !errors.Is(err, errInterrupted) && !errors.Is(err, context.Canceled) {
		return err
	}

	// snapshot before the deferred Close cancels whatever is still in flight
	stats := q.Stats()
	printSummary(cmd.OutOrStdout(), q.Items(), stats)
	if err != nil {
		return errInterrupted
	}
	if stats.Failed > 0 {
		return errUploadsFailed
	}
	return nil
}

func newUploadQueue(cfg *config.Config, tr transport.Transport) (*queue.Queue, error) {
	qcfg := cfg.QueueConfig(slog.Default().With("component", "queue"))
	qcfg.OnItemSuccess = func(item queue.Item) {
		slog.Info("uploaded", "name", assetName(item), "size", humanize.IBytes(uint64(item.BytesTotal)), "token", item.ResultToken)
	}
	qcfg.OnItemError = func(item queue.Item) {
		slog.Warn("upload failed", "name", assetName(item), "retries", item.RetryCount, "error", item.Error)
	}
	return queue.New(tr, qcfg)
}

// runPlain starts the queue and blocks until it drains.
func runPlain(ctx context.Context, q *queue.Queue) error {
	q.StartUploads()
	if err := q.Wait(ctx); err != nil {
		return err
	}
	stats := q.Stats()
	slog.Info("batch settled", "completed", stats.Completed, "failed", stats.Failed, "total", stats.Total)
	return nil
}

func runInteractive(ctx context.Context, q *queue.Queue, album string) error {
	events := q.Subscribe()
	defer q.Unsubscribe(events)

	q.StartUploads()

	program := tea.NewProgram(newUploadModel(q, events, album), tea.WithContext(ctx))
	final, err := program.Run()
	if err != nil {
		if errors.Is(err, tea.ErrProgramKilled) {
			return errInterrupted
		}
		return err
	}
	if m, ok := final.(uploadModel); ok && m.aborted {
		return errInterrupted
	}
	return nil
}

func collectAssets(inputs []string, manifestPath string) ([]*photo.Asset, []string, error) {
	var assets []*photo.Asset
	var skipped []string

	if manifestPath != "" {
		manifest, err := photo.LoadManifest(manifestPath)
		if err != nil {
			return nil, nil, fmt.Errorf("load manifest: %w", err)
		}
		fromManifest, err := manifest.Assets()
		if err != nil {
			return nil, nil, err
		}
		assets = append(assets, fromManifest...)
	}

	if len(inputs) > 0 {
		res, err := photo.Scan(inputs...)
		if err != nil {
			return nil, nil, err
		}
		assets = append(assets, res.Assets...)
		skipped = res.Skipped
	}

	return assets, skipped, nil
}

func printSummary(w io.Writer, items []queue.Item, stats queue.Stats) {
	for _, item := range items {
		if item.Status == queue.StatusError {
			fmt.Fprintf(w, "%s %s: %s\n", red.Render("✗"), assetName(item), item.Error)
		}
	}

	line := fmt.Sprintf("%d/%d uploaded, %s sent", stats.Completed, stats.Total, humanize.IBytes(uint64(stats.BytesSent)))
	if stats.Failed > 0 {
		line += ", " + red.Render(fmt.Sprintf("%d failed", stats.Failed))
	}
	if left := stats.Pending + stats.Paused + stats.Uploading; left > 0 {
		line += ", " + yellow.Render(fmt.Sprintf("%d not finished", left))
	}
	if stats.Cancelled > 0 {
		line += fmt.Sprintf(", %d cancelled", stats.Cancelled)
	}
	fmt.Fprintln(w, line)
}

func assetName(item queue.Item) string {
	if asset, ok := item.Payload.(*photo.Asset); ok {
		return asset.Name
	}
	return item.ID
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}
