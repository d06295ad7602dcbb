package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/openmined/photoqueue/internal/server/auth"
	"github.com/openmined/photoqueue/internal/server/blob"
	"github.com/openmined/photoqueue/internal/server/images"
)

type Services struct {
	Blob   blob.Backend
	Images *images.Service
	Auth   *auth.AuthService
}

func NewServices(config *Config, db *sqlx.DB) (*Services, error) {
	backend, err := blob.NewBackend(&config.Blob)
	if err != nil {
		return nil, fmt.Errorf("blob backend: %w", err)
	}
	return NewServicesWithBackend(config, db, backend)
}

// NewServicesWithBackend wires the services around an existing blob backend.
func NewServicesWithBackend(config *Config, db *sqlx.DB, backend blob.Backend) (*Services, error) {
	index, err := images.NewIndex(db)
	if err != nil {
		return nil, err
	}

	return &Services{
		Blob:   backend,
		Images: images.NewService(backend, index),
		Auth:   auth.NewAuthService(&config.Auth),
	}, nil
}

func (s *Services) Start(ctx context.Context) error {
	slog.Debug("services start", "auth", s.Auth.IsEnabled())
	return nil
}

func (s *Services) Shutdown(ctx context.Context) error {
	slog.Debug("services shutdown")
	return nil
}
