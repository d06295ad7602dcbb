// Package httpupload sends photo assets to the destination server as multipart form posts.
package httpupload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/denisbrodbeck/machineid"
	"github.com/imroc/req/v3"
	"github.com/openmined/photoqueue/internal/photo"
	"github.com/openmined/photoqueue/internal/transport"
	"github.com/openmined/photoqueue/internal/utils"
	"github.com/openmined/photoqueue/internal/version"
)

const (
	UploadPath = "/api/v1/images/upload"

	HeaderVersion  = "X-PhotoQueue-Version"
	HeaderDeviceID = "X-PhotoQueue-Device"
	HeaderBatchID  = "X-PhotoQueue-Batch"

	DefaultTimeout = 5 * time.Minute
)

var ErrNoServerURL = errors.New("httpupload: server url missing")

type Config struct {
	ServerURL string
	// Token is sent as a bearer token when set.
	Token string
	// Timeout bounds one attempt. Expiry is a retryable failure.
	Timeout time.Duration
	// ProgressInterval throttles progress callbacks.
	ProgressInterval time.Duration
	// AlbumID is used for assets that carry none.
	AlbumID string
}

func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return ErrNoServerURL
	}
	if !utils.IsValidURL(c.ServerURL) {
		return fmt.Errorf("httpupload: invalid server url %q", c.ServerURL)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("httpupload: timeout must not be negative")
	}
	return nil
}

// UploadResponse is the success body of the upload endpoint.
type UploadResponse struct {
	ImageID string `json:"imageId"`
}

// Transport implements transport.Transport over HTTP.
type Transport struct {
	client   *req.Client
	url      string
	timeout  time.Duration
	interval time.Duration
	albumID  string
}

var _ transport.Transport = (*Transport)(nil)

func New(cfg Config) (*Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	interval := cfg.ProgressInterval
	if interval <= 0 {
		interval = transport.DefaultProgressInterval
	}

	// retries belong to the queue
	client := req.C().
		SetCommonRetryCount(0).
		SetUserAgent(version.UserAgent()).
		SetCommonHeader(HeaderVersion, version.Version).
		SetCommonHeader(HeaderDeviceID, deviceID()).
		SetJsonMarshal(jsonMarshal).
		SetJsonUnmarshal(jsonUnmarshal)
	if cfg.Token != "" {
		client.SetCommonBearerAuthToken(cfg.Token)
	}

	return &Transport{
		client:   client,
		url:      utils.JoinURL(cfg.ServerURL, UploadPath),
		timeout:  timeout,
		interval: interval,
		albumID:  cfg.AlbumID,
	}, nil
}

func (t *Transport) Send(ctx context.Context, r *transport.Request, progress transport.ProgressFunc) (*transport.Result, error) {
	asset, ok := r.Payload.(*photo.Asset)
	if !ok || asset == nil {
		return nil, fmt.Errorf("%w: want *photo.Asset, got %T", transport.ErrInvalidPayload, r.Payload)
	}

	metadata, err := jsonMarshal(asset.Metadata)
	if err != nil {
		return nil, transport.Permanent(fmt.Errorf("encode metadata: %w", err))
	}

	albumID := asset.AlbumID
	if albumID == "" {
		albumID = t.albumID
	}

	attemptCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	var result UploadResponse
	var apiErr APIError
	resp, err := t.client.R().
		SetContext(attemptCtx).
		SetHeader(HeaderBatchID, r.BatchID).
		SetFormData(map[string]string{
			"albumId":   albumID,
			"sortOrder": strconv.Itoa(r.Sequence),
			"metadata":  string(metadata),
		}).
		SetFileUpload(req.FileUpload{
			ParamName: "file",
			FileName:  asset.Name,
			FileSize:  asset.Size,
			GetFileContent: func() (io.ReadCloser, error) {
				return asset.Open()
			},
			ContentType: asset.ContentType,
		}).
		SetUploadCallbackWithInterval(func(info req.UploadInfo) {
			if progress != nil {
				progress(info.UploadedSize, info.FileSize)
			}
		}, t.interval).
		SetSuccessResult(&result).
		SetErrorResult(&apiErr).
		Post(t.url)

	if ctx.Err() != nil {
		return nil, transport.Aborted(ctx.Err())
	}
	if err := classify(resp, &apiErr, err); err != nil {
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("upload timed out after %s: %w", t.timeout, err)
		}
		slog.Debug("transport http failed", "name", asset.Name, "sequence", r.Sequence, "error", err)
		return nil, err
	}
	if result.ImageID == "" {
		return nil, fmt.Errorf("upload response without image id (status %d)", resp.StatusCode)
	}

	if progress != nil {
		progress(asset.Size, asset.Size)
	}
	return &transport.Result{Token: result.ImageID}, nil
}

func deviceID() string {
	id, err := machineid.ProtectedID(version.AppName)
	if err != nil {
		return "unknown"
	}
	return id
}
