package blob

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	ErrInvalidKey     = errors.New("invalid key")
	ErrObjectNotFound = errors.New("object not found")
)

// Backend stores image bytes by key.
type Backend interface {
	PutObject(ctx context.Context, params *PutObjectParams) (*PutObjectResponse, error)
	GetObject(ctx context.Context, key string) (*GetObjectResponse, error)
	DeleteObject(ctx context.Context, key string) error
}

type PutObjectParams struct {
	Key         string
	Size        int64
	ContentType string
	Body        io.Reader
}

type PutObjectResponse struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

type GetObjectResponse struct {
	Body         io.ReadCloser
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
}
