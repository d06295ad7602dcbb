package images

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/openmined/photoqueue/internal/photo"
	"github.com/openmined/photoqueue/internal/server/blob"
)

// DefaultAlbum holds uploads that name no album.
const DefaultAlbum = "unsorted"

var (
	regexAlbumID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

	ErrInvalidAlbum = errors.New("invalid album id")
)

type StoreParams struct {
	AlbumID     string
	BatchID     string
	SortOrder   int
	Name        string
	Size        int64
	ContentType string
	Extension   string
	Uploader    string
	Metadata    photo.Metadata
	Body        io.Reader
}

// Service stores image bytes in the blob backend and records them in the index.
type Service struct {
	backend blob.Backend
	index   *Index
}

func NewService(backend blob.Backend, index *Index) *Service {
	return &Service{backend: backend, index: index}
}

func ValidAlbumID(albumID string) bool {
	return regexAlbumID.MatchString(albumID)
}

// Store saves one upload. When the batch position was already stored with the
// same name and size the existing record is returned and replayed is true.
func (s *Service) Store(ctx context.Context, p *StoreParams) (img *Image, replayed bool, err error) {
	albumID := p.AlbumID
	if albumID == "" {
		albumID = DefaultAlbum
	}
	if !ValidAlbumID(albumID) {
		return nil, false, fmt.Errorf("%w: %q", ErrInvalidAlbum, albumID)
	}

	if prev, err := s.index.FindReplay(p.BatchID, p.SortOrder); err == nil {
		if prev.Name == p.Name && prev.Size == p.Size && prev.AlbumID == albumID {
			slog.Info("image replay", "id", prev.ID, "batch", p.BatchID, "sortOrder", p.SortOrder)
			return prev, true, nil
		}
	} else if !errors.Is(err, ErrImageNotFound) {
		return nil, false, err
	}

	rawMetadata, err := json.Marshal(p.Metadata)
	if err != nil {
		return nil, false, fmt.Errorf("encode metadata: %w", err)
	}

	id := uuid.New().String()
	key := path.Join(albumID, id+strings.ToLower(p.Extension))

	put, err := s.backend.PutObject(ctx, &blob.PutObjectParams{
		Key:         key,
		Size:        p.Size,
		ContentType: p.ContentType,
		Body:        p.Body,
	})
	if err != nil {
		return nil, false, fmt.Errorf("put object: %w", err)
	}

	img = &Image{
		ID:          id,
		AlbumID:     albumID,
		SortOrder:   p.SortOrder,
		BatchID:     p.BatchID,
		Key:         key,
		Name:        p.Name,
		Size:        put.Size,
		ContentType: p.ContentType,
		ETag:        put.ETag,
		RawMetadata: string(rawMetadata),
		Uploader:    p.Uploader,
		CreatedAt:   time.Now().UTC().Format(time.RFC3339Nano),
		Metadata:    p.Metadata,
	}

	if err := s.index.Insert(img); err != nil {
		if delErr := s.backend.DeleteObject(context.WithoutCancel(ctx), key); delErr != nil {
			slog.Error("image orphaned blob", "key", key, "error", delErr)
		}
		return nil, false, err
	}

	slog.Info("image stored", "id", id, "album", albumID, "sortOrder", p.SortOrder, "size", put.Size)
	return img, false, nil
}

func (s *Service) Get(id string) (*Image, error) {
	return s.index.Get(id)
}

// Open returns the image record together with its bytes. The caller closes the body.
func (s *Service) Open(ctx context.Context, id string) (*Image, *blob.GetObjectResponse, error) {
	img, err := s.index.Get(id)
	if err != nil {
		return nil, nil, err
	}
	obj, err := s.backend.GetObject(ctx, img.Key)
	if err != nil {
		return nil, nil, fmt.Errorf("get object: %w", err)
	}
	return img, obj, nil
}

func (s *Service) ListAlbum(albumID string) ([]*Image, error) {
	if !ValidAlbumID(albumID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAlbum, albumID)
	}
	return s.index.ListAlbum(albumID)
}
