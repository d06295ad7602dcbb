package images

import (
	"database/sql"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jmoiron/sqlx"
)

// SchemaSQL creates the image index. Passed to db.WithSchema.
const SchemaSQL = `
CREATE TABLE IF NOT EXISTS images (
	id TEXT PRIMARY KEY,
	album_id TEXT NOT NULL,
	sort_order INTEGER NOT NULL,
	batch_id TEXT NOT NULL DEFAULT '',
	key TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	size INTEGER NOT NULL,
	content_type TEXT NOT NULL,
	etag TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}',
	uploader TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_images_album_order ON images(album_id, sort_order);
CREATE INDEX IF NOT EXISTS idx_images_batch_order ON images(batch_id, sort_order);
`

const (
	imageColumns     = `id, album_id, sort_order, batch_id, key, name, size, content_type, etag, metadata, uploader, created_at`
	defaultCacheSize = 4096
)

var ErrImageNotFound = errors.New("image not found")

// Index stores image records in sqlite with an LRU in front of id lookups.
type Index struct {
	db    *sqlx.DB
	cache *lru.Cache[string, *Image]
}

func NewIndex(db *sqlx.DB) (*Index, error) {
	if _, err := db.Exec(SchemaSQL); err != nil {
		return nil, fmt.Errorf("failed to initialize image index: %w", err)
	}

	cache, err := lru.New[string, *Image](defaultCacheSize)
	if err != nil {
		return nil, err
	}

	return &Index{db: db, cache: cache}, nil
}

func (idx *Index) Insert(img *Image) error {
	_, err := idx.db.NamedExec(
		`INSERT INTO images (`+imageColumns+`)
		VALUES (:id, :album_id, :sort_order, :batch_id, :key, :name, :size, :content_type, :etag, :metadata, :uploader, :created_at)`,
		img,
	)
	if err != nil {
		return fmt.Errorf("insert image %s: %w", img.ID, err)
	}
	idx.cache.Add(img.ID, img)
	return nil
}

func (idx *Index) Get(id string) (*Image, error) {
	if img, ok := idx.cache.Get(id); ok {
		return img, nil
	}

	var img Image
	err := idx.db.Get(&img, `SELECT `+imageColumns+` FROM images WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrImageNotFound
	} else if err != nil {
		return nil, fmt.Errorf("get image %s: %w", id, err)
	}
	if err := img.decodeMetadata(); err != nil {
		return nil, err
	}

	idx.cache.Add(id, &img)
	return &img, nil
}

// FindReplay returns a record previously stored for the same batch position, if any.
func (idx *Index) FindReplay(batchID string, sortOrder int) (*Image, error) {
	if batchID == "" {
		return nil, ErrImageNotFound
	}

	var img Image
	err := idx.db.Get(&img,
		`SELECT `+imageColumns+` FROM images WHERE batch_id = ? AND sort_order = ? ORDER BY created_at LIMIT 1`,
		batchID, sortOrder,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrImageNotFound
	} else if err != nil {
		return nil, fmt.Errorf("find replay: %w", err)
	}
	if err := img.decodeMetadata(); err != nil {
		return nil, err
	}
	return &img, nil
}

// ListAlbum returns the images of an album in upload order.
func (idx *Index) ListAlbum(albumID string) ([]*Image, error) {
	images := []*Image{}
	err := idx.db.Select(&images,
		`SELECT `+imageColumns+` FROM images WHERE album_id = ? ORDER BY sort_order, created_at, id`,
		albumID,
	)
	if err != nil {
		return nil, fmt.Errorf("list album %s: %w", albumID, err)
	}
	for _, img := range images {
		if err := img.decodeMetadata(); err != nil {
			return nil, err
		}
	}
	return images, nil
}

func (idx *Index) Remove(id string) error {
	idx.cache.Remove(id)
	_, err := idx.db.Exec(`DELETE FROM images WHERE id = ?`, id)
	return err
}

func (idx *Index) Count() int {
	var count int
	if err := idx.db.Get(&count, `SELECT COUNT(*) FROM images`); err != nil {
		return 0
	}
	return count
}
