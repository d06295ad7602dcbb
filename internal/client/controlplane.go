package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/openmined/photoqueue/internal/client/config"
	"github.com/openmined/photoqueue/internal/client/middleware"
	"github.com/openmined/photoqueue/internal/queue"
	"github.com/openmined/photoqueue/internal/utils"
)

type ControlPlaneServer struct {
	config *config.ControlPlaneConfig
	server *http.Server
	// ready is closed once the listener is bound
	ready chan struct{}
	addr  string
}

func NewControlPlaneServer(cfg *config.ControlPlaneConfig, q *queue.Queue, albumID string) (*ControlPlaneServer, error) {
	if _, err := addrToURL(cfg.Addr); err != nil {
		return nil, err
	}

	routes := SetupRoutes(q, &RouteConfig{
		Auth: middleware.TokenAuthConfig{
			Token: cfg.Token,
		},
		AlbumID: albumID,
	})

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: routes,
		// Timeouts to prevent slow client attacks. No write timeout, event
		// streams stay open for as long as the client listens.
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		// Connection control
		MaxHeaderBytes: 1 << 20, // 1 MB
	}

	return &ControlPlaneServer{
		config: cfg,
		server: httpServer,
		ready:  make(chan struct{}),
	}, nil
}

func (s *ControlPlaneServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	s.addr = ln.Addr().String()
	close(s.ready)

	url, _ := addrToURL(s.addr)
	slog.Info("control plane start", "addr", url, "token", utils.MaskSecret(s.config.Token))
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Addr blocks until the server listens and returns the bound address.
func (s *ControlPlaneServer) Addr(ctx context.Context) (string, error) {
	select {
	case <-s.ready:
		return s.addr, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *ControlPlaneServer) Stop(ctx context.Context) error {
	slog.Info("control plane stop")
	return s.server.Shutdown(ctx)
}

// addrToURL turns a listen address into the base url clients connect to.
func addrToURL(addr string) (string, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", fmt.Errorf("invalid control plane addr %q: %w", addr, err)
	}
	if port == "" {
		return "", fmt.Errorf("invalid control plane addr %q: missing port", addr)
	}
	if host == "" {
		host = "0.0.0.0"
	}
	return "http://" + net.JoinHostPort(host, port), nil
}
