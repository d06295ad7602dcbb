package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/openmined/photoqueue/internal/db"
	"github.com/openmined/photoqueue/internal/server/images"
	"github.com/openmined/photoqueue/internal/version"
)

const shutdownTimeout = 5 * time.Second

type Server struct {
	config *Config
	server *http.Server
	db     *sqlx.DB
	svc    *Services
}

func New(config *Config) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	opts := []db.SqliteOption{db.WithPath(config.DBPath), db.WithSchema(images.SchemaSQL)}
	if config.DBPath == ":memory:" {
		// every pooled connection would see its own empty database
		opts = append(opts, db.WithMaxOpenConns(1))
	} else {
		opts = append(opts, db.WithMaxIdleConns(4), db.WithConnMaxLifetime(time.Hour))
	}

	sqliteDb, err := db.NewSqliteDB(opts...)
	if err != nil {
		return nil, fmt.Errorf("open image index: %w", err)
	}

	svc, err := NewServices(config, sqliteDb)
	if err != nil {
		sqliteDb.Close()
		return nil, err
	}

	handler, err := SetupRoutes(config, svc)
	if err != nil {
		sqliteDb.Close()
		return nil, err
	}

	return &Server{
		config: config,
		db:     sqliteDb,
		svc:    svc,
		server: &http.Server{
			Addr:              config.HTTP.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       2 * time.Minute,
		},
	}, nil
}

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	slog.Info("server start", "version", version.Version, "addr", s.config.HTTP.Addr, "blob", s.config.Blob.Backend)
	defer slog.Info("server stop")

	if err := s.svc.Start(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.runHttpServer(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			s.Stop(context.Background())
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
		slog.Info("server shutdown signal")
	}

	return s.Stop(context.Background())
}

func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	var errs []error
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := s.svc.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close db: %w", err))
	}
	return errors.Join(errs...)
}

func (s *Server) runHttpServer() error {
	if s.config.HTTP.TLSEnabled() {
		slog.Info("server start tls", "addr", s.config.HTTP.Addr, "cert", s.config.HTTP.CertFile, "key", s.config.HTTP.KeyFile)
		return s.server.ListenAndServeTLS(s.config.HTTP.CertFile, s.config.HTTP.KeyFile)
	}
	slog.Info("server start http", "addr", s.config.HTTP.Addr)
	return s.server.ListenAndServe()
}
