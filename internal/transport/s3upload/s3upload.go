// Package s3upload puts photo assets straight into an S3 compatible bucket.
package s3upload

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/openmined/photoqueue/internal/photo"
	"github.com/openmined/photoqueue/internal/transport"
	"github.com/openmined/photoqueue/internal/utils"
)

const DefaultTimeout = 5 * time.Minute

type Config struct {
	BucketName string `mapstructure:"bucket_name"`
	Region     string `mapstructure:"region"`
	AccessKey  string `mapstructure:"access_key"`
	SecretKey  string `mapstructure:"secret_key"`
	Endpoint   string `mapstructure:"endpoint"`
	Prefix     string `mapstructure:"prefix"`

	// Timeout bounds one attempt. Expiry is a retryable failure.
	Timeout time.Duration `mapstructure:"-"`
}

func (c *Config) Validate() error {
	if c.BucketName == "" {
		return fmt.Errorf("s3 bucket_name required")
	}
	if c.Region == "" {
		return fmt.Errorf("s3 region required")
	}
	if c.AccessKey == "" || c.SecretKey == "" {
		return fmt.Errorf("s3 access_key and secret_key required")
	}
	if c.Endpoint != "" && !utils.IsValidURL(c.Endpoint) {
		return fmt.Errorf("invalid s3 endpoint URL %q", c.Endpoint)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("s3 timeout must not be negative")
	}
	return nil
}

// PutObjectAPI is the part of *s3.Client the transport uses.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type Transport struct {
	client   PutObjectAPI
	bucket   string
	prefix   string
	timeout  time.Duration
	interval time.Duration
}

var _ transport.Transport = (*Transport)(nil)

// New builds an S3 client from static credentials. A custom endpoint (minio, R2)
// switches to path style addressing.
func New(cfg Config) (*Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
		config.WithRegion(cfg.Region),
		config.WithHTTPClient(&http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				MaxIdleConnsPerHost:   16,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
				ForceAttemptHTTP2:     true,
			},
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
		// the queue owns retries
		o.RetryMaxAttempts = 1
		// the body is streamed once; hashing or checksumming it would read it twice
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.APIOptions = append(o.APIOptions, v4.SwapComputePayloadSHA256ForUnsignedPayloadMiddleware)
	})

	return NewWithClient(client, cfg), nil
}

func NewWithClient(client PutObjectAPI, cfg Config) *Transport {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Transport{
		client:   client,
		bucket:   cfg.BucketName,
		prefix:   strings.Trim(cfg.Prefix, "/"),
		timeout:  timeout,
		interval: transport.DefaultProgressInterval,
	}
}

// ObjectKey names the object of one item: {prefix}/{batch}/{sequence}-{name}.
func ObjectKey(prefix, batchID string, sequence int, name string) string {
	return path.Join(prefix, batchID, fmt.Sprintf("%06d-%s", sequence, path.Base(name)))
}

func (t *Transport) Send(ctx context.Context, r *transport.Request, progress transport.ProgressFunc) (*transport.Result, error) {
	asset, ok := r.Payload.(*photo.Asset)
	if !ok || asset == nil {
		return nil, fmt.Errorf("%w: want *photo.Asset, got %T", transport.ErrInvalidPayload, r.Payload)
	}

	f, err := asset.Open()
	if err != nil {
		return nil, transport.Permanent(fmt.Errorf("open asset: %w", err))
	}
	defer f.Close()

	key := ObjectKey(t.prefix, r.BatchID, r.Sequence, asset.Name)
	body := transport.NewProgressReader(f, asset.Size, t.interval, progress)

	attemptCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	_, err = t.client.PutObject(attemptCtx, &s3.PutObjectInput{
		Bucket:        aws.String(t.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(asset.Size),
		ContentType:   aws.String(asset.ContentType),
		Metadata:      objectMetadata(asset, r),
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, transport.Aborted(err)
		}
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("upload timed out after %s: %w", t.timeout, err)
		}
		return nil, classify(err)
	}

	return &transport.Result{Token: key}, nil
}

// classify marks client side rejections as permanent.
func classify(err error) error {
	var re interface{ HTTPStatusCode() int }
	if errors.As(err, &re) {
		status := re.HTTPStatusCode()
		if status >= 400 && status < 500 && status != http.StatusRequestTimeout && status != http.StatusTooManyRequests {
			return transport.Permanent(err)
		}
	}
	return err
}

// objectMetadata becomes x-amz-meta-* headers, which only carry ASCII.
func objectMetadata(asset *photo.Asset, r *transport.Request) map[string]string {
	m := map[string]string{
		"batch-id":   r.BatchID,
		"sort-order": strconv.Itoa(r.Sequence),
	}
	set := func(k, v string) {
		if v != "" {
			m[k] = url.QueryEscape(v)
		}
	}
	md := asset.Metadata
	set("album-id", asset.AlbumID)
	set("caption", md.Caption)
	set("location", md.Location)
	set("tags", strings.Join(md.Tags, ","))
	if md.CaptureTime != nil {
		m["capture-time"] = md.CaptureTime.UTC().Format(time.RFC3339)
	}
	if md.Latitude != nil && md.Longitude != nil {
		m["latitude"] = strconv.FormatFloat(*md.Latitude, 'f', -1, 64)
		m["longitude"] = strconv.FormatFloat(*md.Longitude, 'f', -1, 64)
	}
	return m
}
