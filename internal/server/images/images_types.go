package images

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/openmined/photoqueue/internal/photo"
)

// Image is one stored upload.
type Image struct {
	ID          string         `db:"id" json:"id"`
	AlbumID     string         `db:"album_id" json:"albumId"`
	SortOrder   int            `db:"sort_order" json:"sortOrder"`
	BatchID     string         `db:"batch_id" json:"batchId,omitempty"`
	Key         string         `db:"key" json:"-"`
	Name        string         `db:"name" json:"name"`
	Size        int64          `db:"size" json:"size"`
	ContentType string         `db:"content_type" json:"contentType"`
	ETag        string         `db:"etag" json:"etag"`
	RawMetadata string         `db:"metadata" json:"-"`
	Uploader    string         `db:"uploader" json:"uploader,omitempty"`
	CreatedAt   string         `db:"created_at" json:"createdAt"`
	Metadata    photo.Metadata `db:"-" json:"metadata"`
}

func (img *Image) decodeMetadata() error {
	if img.RawMetadata == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(img.RawMetadata), &img.Metadata); err != nil {
		return fmt.Errorf("decode metadata of %s: %w", img.ID, err)
	}
	return nil
}

// UploadRequest holds the non-file form fields of an upload.
type UploadRequest struct {
	AlbumID   string `form:"albumId"`
	SortOrder int    `form:"sortOrder" binding:"min=0"`
	Metadata  string `form:"metadata"`
}

// UploadResponse is the success body of an upload.
type UploadResponse struct {
	ImageID string `json:"imageId"`
}

type AlbumResponse struct {
	AlbumID string   `json:"albumId"`
	Images  []*Image `json:"images"`
}
