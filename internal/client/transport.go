package client

import (
	"fmt"

	"github.com/openmined/photoqueue/internal/client/config"
	"github.com/openmined/photoqueue/internal/transport"
	"github.com/openmined/photoqueue/internal/transport/httpupload"
	"github.com/openmined/photoqueue/internal/transport/s3upload"
)

// NewTransport builds the transport selected by cfg.Transport.
func NewTransport(cfg *config.Config) (transport.Transport, error) {
	switch cfg.Transport {
	case config.TransportHTTP:
		return httpupload.New(cfg.HTTPUploadConfig())
	case config.TransportS3:
		return s3upload.New(cfg.S3UploadConfig())
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}
