package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openmined/photoqueue/internal/client/config"
	"github.com/openmined/photoqueue/internal/client/workspace"
	"github.com/openmined/photoqueue/internal/queue"
	"github.com/openmined/photoqueue/internal/transport"
	"golang.org/x/sync/errgroup"
)

type ClientDaemon struct {
	workspace *workspace.Workspace
	queue     *queue.Queue
	cps       *ControlPlaneServer
}

// NewClientDaemon builds the queue over the configured transport and the
// control plane that drives it.
func NewClientDaemon(cfg *config.Config) (*ClientDaemon, error) {
	tr, err := NewTransport(cfg)
	if err != nil {
		return nil, err
	}
	return NewClientDaemonWithTransport(cfg, tr)
}

func NewClientDaemonWithTransport(cfg *config.Config, tr transport.Transport) (*ClientDaemon, error) {
	ws, err := workspace.NewWorkspace(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	qcfg := cfg.QueueConfig(slog.Default().With("component", "queue"))
	qcfg.OnItemSuccess = func(item queue.Item) {
		slog.Info("upload done", "id", item.ID, "seq", item.Sequence, "token", item.ResultToken)
	}
	qcfg.OnItemError = func(item queue.Item) {
		slog.Warn("upload failed", "id", item.ID, "seq", item.Sequence, "retries", item.RetryCount, "error", item.Error)
	}
	qcfg.OnBatchComplete = func(stats queue.Stats) {
		slog.Info("upload batch complete", "completed", stats.Completed, "failed", stats.Failed, "total", stats.Total)
	}

	q, err := queue.New(tr, qcfg)
	if err != nil {
		return nil, err
	}

	cps, err := NewControlPlaneServer(&cfg.ControlPlane, q, cfg.AlbumID)
	if err != nil {
		q.Close()
		return nil, err
	}

	return &ClientDaemon{
		workspace: ws,
		queue:     q,
		cps:       cps,
	}, nil
}

func (c *ClientDaemon) Queue() *queue.Queue {
	return c.queue
}

func (c *ClientDaemon) ControlPlane() *ControlPlaneServer {
	return c.cps
}

func (c *ClientDaemon) Start(ctx context.Context) error {
	slog.Info("client daemon start", "workspace", c.workspace.Root, "batch", c.queue.BatchID())

	if err := c.workspace.Setup(); err != nil {
		return err
	}
	if err := c.workspace.Lock(); err != nil {
		c.queue.Close()
		return err
	}

	// Create errgroup with derived context
	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		if err := c.cps.Start(egCtx); err != nil {
			return fmt.Errorf("failed to start control plane: %w", err)
		}
		return nil
	})

	// Launch goroutine to handle shutdown on context cancellation
	eg.Go(func() error {
		<-egCtx.Done()
		slog.Info("stopping daemon")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return c.Stop(shutdownCtx)
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("client daemon failure", "error", err)
		return err
	}

	slog.Info("client daemon stopped")
	return nil
}

// Stop cancels in-flight transfers, closes the control plane and releases the workspace.
func (c *ClientDaemon) Stop(ctx context.Context) error {
	var errs []error

	if err := c.cps.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop control plane: %w", err))
	}
	c.queue.Close()
	if err := c.workspace.Unlock(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
