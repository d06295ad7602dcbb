package blob

import (
	"fmt"
	"log/slog"
)

// NewBackend builds the backend selected by cfg.
func NewBackend(cfg *Config) (Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Backend {
	case BackendS3:
		slog.Info("blob backend", "type", BackendS3, "bucket", cfg.S3.BucketName, "region", cfg.S3.Region)
		return NewS3BackendWithConfig(&cfg.S3)
	case BackendMemory:
		slog.Warn("blob backend", "type", BackendMemory, "note", "images are lost on restart")
		return NewMemoryBackend(), nil
	}
	return nil, fmt.Errorf("unknown blob backend %q", cfg.Backend)
}
