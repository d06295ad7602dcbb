package photo

import (
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func writeJPEG(t *testing.T, path string, w, h int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, jpeg.Encode(f, image.NewGray(image.Rect(0, 0, w, h)), nil))
}

func writeText(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestNewAsset(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "IMG_0001.png")
	writePNG(t, path, 32, 16)

	asset, err := NewAsset(path)
	require.NoError(t, err)
	assert.Equal(t, "IMG_0001.png", asset.Name)
	assert.Equal(t, "image/png", asset.ContentType)
	assert.True(t, filepath.IsAbs(asset.Path))
	assert.Positive(t, asset.Size)
	assert.Equal(t, 32, asset.Metadata.Width)
	assert.Equal(t, 16, asset.Metadata.Height)

	rc, err := asset.Open()
	require.NoError(t, err)
	require.NoError(t, rc.Close())
}

func TestNewAsset_SniffsContentNotExtension(t *testing.T) {
	dir := t.TempDir()

	fake := filepath.Join(dir, "notes.jpg")
	writeText(t, fake, "definitely not a jpeg")
	_, err := NewAsset(fake)
	assert.ErrorIs(t, err, ErrNotImage)

	renamed := filepath.Join(dir, "photo.bin")
	writeJPEG(t, renamed, 8, 8)
	asset, err := NewAsset(renamed)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", asset.ContentType)

	_, err = NewAsset(dir)
	assert.Error(t, err)
	_, err = NewAsset(filepath.Join(dir, "missing.png"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestNormalizeTags(t *testing.T) {
	assert.Equal(t, []string{"beach", "family", "sun"}, NormalizeTags([]string{" Sun", "beach", "BEACH", "", "family"}))
	assert.Nil(t, NormalizeTags(nil))
	assert.Nil(t, NormalizeTags([]string{"  "}))
}

func TestMetadataValidate(t *testing.T) {
	lat, lng, bad := 38.72, -9.14, 123.0

	assert.NoError(t, (&Metadata{}).Validate())
	assert.NoError(t, (&Metadata{Latitude: &lat, Longitude: &lng}).Validate())
	assert.ErrorIs(t, (&Metadata{Latitude: &lat}).Validate(), ErrInvalidMetadata)
	assert.ErrorIs(t, (&Metadata{Latitude: &bad, Longitude: &lng}).Validate(), ErrInvalidMetadata)
	assert.ErrorIs(t, (&Metadata{Latitude: &lat, Longitude: &[]float64{-200}[0]}).Validate(), ErrInvalidMetadata)
}

func TestManifest(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "beach", "a.png"), 4, 4)
	writeJPEG(t, filepath.Join(dir, "b.jpg"), 4, 4)

	manifest := `
album: summer-2024
tags: [Holiday]
items:
  - path: beach/a.png
    caption: First swim
    tags: [Beach, holiday]
    capture_time: 2024-06-01T10:00:00Z
    location: Lisbon
    latitude: 38.72
    longitude: -9.14
  - path: b.jpg
    album: highlights
`
	m, err := ParseManifest(strings.NewReader(manifest), dir)
	require.NoError(t, err)
	assert.Equal(t, "summer-2024", m.Album)

	assets, err := m.Assets()
	require.NoError(t, err)
	require.Len(t, assets, 2)

	first := assets[0]
	assert.Equal(t, filepath.Join(dir, "beach", "a.png"), first.Path)
	assert.Equal(t, "summer-2024", first.AlbumID)
	assert.Equal(t, "First swim", first.Metadata.Caption)
	assert.Equal(t, []string{"beach", "holiday"}, first.Metadata.Tags)
	require.NotNil(t, first.Metadata.CaptureTime)
	assert.True(t, first.Metadata.CaptureTime.Equal(time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)))
	require.NotNil(t, first.Metadata.Latitude)
	assert.InDelta(t, 38.72, *first.Metadata.Latitude, 1e-9)
	assert.Equal(t, 4, first.Metadata.Width)

	assert.Equal(t, "highlights", assets[1].AlbumID)
	assert.Equal(t, []string{"holiday"}, assets[1].Metadata.Tags)
}

func TestLoadManifest_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := ParseManifest(strings.NewReader("items:\n  - caption: no path\n"), dir)
	assert.ErrorContains(t, err, "path is required")

	_, err = ParseManifest(strings.NewReader("items:\n  - path: a.png\n    colour: red\n"), dir)
	assert.Error(t, err, "unknown fields are rejected")

	_, err = ParseManifest(strings.NewReader("items:\n  - path: a.png\n    latitude: 10\n"), dir)
	assert.ErrorIs(t, err, ErrInvalidMetadata)

	m, err := ParseManifest(strings.NewReader(""), dir)
	require.NoError(t, err)
	assert.Empty(t, m.Items)

	path := filepath.Join(dir, "photos.yaml")
	writeText(t, path, "items:\n  - path: missing.png\n")
	m, err = LoadManifest(path)
	require.NoError(t, err)
	_, err = m.Assets()
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestScan_Directory(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "2024", "b.png"), 2, 2)
	writePNG(t, filepath.Join(dir, "2024", "a.png"), 2, 2)
	writeJPEG(t, filepath.Join(dir, "root.jpg"), 2, 2)
	writePNG(t, filepath.Join(dir, "drafts", "wip.png"), 2, 2)
	writePNG(t, filepath.Join(dir, "upload.tmp"), 2, 2)
	writeText(t, filepath.Join(dir, ".DS_Store"), "junk")
	writeText(t, filepath.Join(dir, "notes.txt"), "trip notes")
	writeText(t, filepath.Join(dir, IgnoreFileName), "# drafts are private\ndrafts/\n")

	res, err := Scan(dir)
	require.NoError(t, err)

	var names []string
	for _, a := range res.Assets {
		rel, err := filepath.Rel(dir, a.Path)
		require.NoError(t, err)
		names = append(names, filepath.ToSlash(rel))
	}
	assert.Equal(t, []string{"2024/a.png", "2024/b.png", "root.jpg"}, names)
	assert.Equal(t, []string{filepath.Join(dir, "notes.txt")}, res.Skipped)
}

func TestScan_GlobFilesAndDedupe(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "trip", "day1", "a.png"), 2, 2)
	writeJPEG(t, filepath.Join(dir, "trip", "day2", "b.jpg"), 2, 2)
	writePNG(t, filepath.Join(dir, "trip", "c.png"), 2, 2)

	explicit := filepath.Join(dir, "trip", "c.png")
	res, err := Scan(explicit, filepath.Join(dir, "trip", "**", "*.png"), filepath.Join(dir, "trip"))
	require.NoError(t, err)
	require.Len(t, res.Assets, 3)
	assert.Equal(t, explicit, res.Assets[0].Path, "input order wins")
	assert.Equal(t, filepath.Join(dir, "trip", "day1", "a.png"), res.Assets[1].Path)
	assert.Equal(t, filepath.Join(dir, "trip", "day2", "b.jpg"), res.Assets[2].Path)
}

func TestScan_ExplicitNonImageFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "readme.md")
	writeText(t, path, "# hello")

	_, err := Scan(path)
	assert.ErrorIs(t, err, ErrNotImage)

	_, err = Scan(filepath.Join(dir, "nope"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
