package blob

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
	"time"
)

type memoryObject struct {
	data         []byte
	etag         string
	contentType  string
	lastModified time.Time
}

// MemoryBackend keeps objects in process memory. Used for tests and local runs.
type MemoryBackend struct {
	mu      sync.RWMutex
	objects map[string]*memoryObject
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{objects: make(map[string]*memoryObject)}
}

func (m *MemoryBackend) PutObject(ctx context.Context, params *PutObjectParams) (*PutObjectResponse, error) {
	if !ValidateKey(params.Key) {
		return nil, ErrInvalidKey
	}

	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if params.Size > 0 && int64(len(data)) != params.Size {
		return nil, fmt.Errorf("size mismatch: expected %d got %d", params.Size, len(data))
	}

	sum := md5.Sum(data)
	obj := &memoryObject{
		data:         data,
		etag:         hex.EncodeToString(sum[:]),
		contentType:  params.ContentType,
		lastModified: time.Now().UTC(),
	}

	m.mu.Lock()
	m.objects[params.Key] = obj
	m.mu.Unlock()

	return &PutObjectResponse{
		Key:          params.Key,
		Size:         int64(len(data)),
		ETag:         obj.etag,
		LastModified: obj.lastModified,
	}, nil
}

func (m *MemoryBackend) GetObject(ctx context.Context, key string) (*GetObjectResponse, error) {
	m.mu.RLock()
	obj, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrObjectNotFound
	}

	return &GetObjectResponse{
		Body:         io.NopCloser(bytes.NewReader(obj.data)),
		Size:         int64(len(obj.data)),
		ETag:         obj.etag,
		ContentType:  obj.contentType,
		LastModified: obj.lastModified,
	}, nil
}

func (m *MemoryBackend) DeleteObject(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; !ok {
		return ErrObjectNotFound
	}
	delete(m.objects, key)
	return nil
}

var _ Backend = (*MemoryBackend)(nil)
