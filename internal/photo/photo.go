// Package photo describes the image assets handed to the upload queue.
package photo

import (
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gabriel-vasile/mimetype"
)

var (
	ErrNotImage        = errors.New("not an image")
	ErrInvalidMetadata = errors.New("invalid metadata")
)

// Metadata travels with an asset to the destination.
type Metadata struct {
	Caption     string     `json:"caption,omitempty" yaml:"caption"`
	CaptureTime *time.Time `json:"captureTime,omitempty" yaml:"capture_time"`
	Location    string     `json:"location,omitempty" yaml:"location"`
	Latitude    *float64   `json:"latitude,omitempty" yaml:"latitude"`
	Longitude   *float64   `json:"longitude,omitempty" yaml:"longitude"`
	Tags        []string   `json:"tags,omitempty" yaml:"tags"`
	Width       int        `json:"width,omitempty" yaml:"-"`
	Height      int        `json:"height,omitempty" yaml:"-"`
}

func (m *Metadata) Validate() error {
	if (m.Latitude == nil) != (m.Longitude == nil) {
		return fmt.Errorf("%w: latitude and longitude must be set together", ErrInvalidMetadata)
	}
	if m.Latitude != nil && (*m.Latitude < -90 || *m.Latitude > 90) {
		return fmt.Errorf("%w: latitude %v out of range", ErrInvalidMetadata, *m.Latitude)
	}
	if m.Longitude != nil && (*m.Longitude < -180 || *m.Longitude > 180) {
		return fmt.Errorf("%w: longitude %v out of range", ErrInvalidMetadata, *m.Longitude)
	}
	return nil
}

// Asset is a local image file queued for upload.
type Asset struct {
	Path        string   `json:"path"`
	Name        string   `json:"name"`
	Size        int64    `json:"size"`
	ContentType string   `json:"contentType"`
	AlbumID     string   `json:"albumId,omitempty"`
	Metadata    Metadata `json:"metadata"`
}

// NewAsset stats and sniffs path. Files whose content is not an image are
// rejected with ErrNotImage.
func NewAsset(path string) (*Asset, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s: is a directory", path)
	}

	mtype, err := mimetype.DetectFile(abs)
	if err != nil {
		return nil, fmt.Errorf("detect content type: %w", err)
	}
	if !IsImageType(mtype.String()) {
		return nil, fmt.Errorf("%w: %s (%s)", ErrNotImage, path, mtype.String())
	}

	asset := &Asset{
		Path:        abs,
		Name:        filepath.Base(abs),
		Size:        info.Size(),
		ContentType: mtype.String(),
	}
	asset.Metadata.Width, asset.Metadata.Height = probeDimensions(abs)
	return asset, nil
}

// Open returns the file contents.
func (a *Asset) Open() (io.ReadCloser, error) {
	return os.Open(a.Path)
}

// IsImageType reports whether a detected MIME type is an image.
func IsImageType(contentType string) bool {
	return strings.HasPrefix(contentType, "image/")
}

// NormalizeTags lower-cases and trims tags, drops blanks and duplicates and sorts the result.
func NormalizeTags(tags []string) []string {
	set := mapset.NewThreadUnsafeSet[string]()
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag != "" {
			set.Add(tag)
		}
	}
	if set.Cardinality() == 0 {
		return nil
	}
	out := set.ToSlice()
	slices.Sort(out)
	return out
}

// probeDimensions reads the image header. Formats without a registered decoder report 0x0.
func probeDimensions(path string) (int, int) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}
