package photo

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Manifest lists assets with their metadata. Relative paths resolve against the
// manifest's directory.
//
//	album: summer-2024
//	items:
//	  - path: beach/IMG_0001.jpg
//	    caption: First swim
//	    tags: [beach, family]
//	    capture_time: 2024-06-01T10:00:00Z
type Manifest struct {
	Album string         `yaml:"album"`
	Tags  []string       `yaml:"tags"`
	Items []ManifestItem `yaml:"items"`

	dir string
}

type ManifestItem struct {
	Path     string `yaml:"path"`
	Album    string `yaml:"album"`
	Metadata `yaml:",inline"`
}

func LoadManifest(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	return ParseManifest(f, filepath.Dir(abs))
}

// ParseManifest decodes a manifest whose relative paths are rooted at dir.
func ParseManifest(r io.Reader, dir string) (*Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	m.dir = dir

	for i, item := range m.Items {
		if item.Path == "" {
			return nil, fmt.Errorf("manifest item %d: path is required", i)
		}
		if err := item.Metadata.Validate(); err != nil {
			return nil, fmt.Errorf("manifest item %d (%s): %w", i, item.Path, err)
		}
	}
	return &m, nil
}

// Assets resolves every manifest item into an Asset, in manifest order. Manifest
// level tags are merged into each item.
func (m *Manifest) Assets() ([]*Asset, error) {
	assets := make([]*Asset, 0, len(m.Items))
	for _, item := range m.Items {
		path := item.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(m.dir, path)
		}

		asset, err := NewAsset(path)
		if err != nil {
			return nil, fmt.Errorf("manifest item %s: %w", item.Path, err)
		}

		width, height := asset.Metadata.Width, asset.Metadata.Height
		asset.Metadata = item.Metadata
		asset.Metadata.Width, asset.Metadata.Height = width, height
		asset.Metadata.Tags = NormalizeTags(append(append([]string{}, m.Tags...), item.Tags...))

		asset.AlbumID = item.Album
		if asset.AlbumID == "" {
			asset.AlbumID = m.Album
		}
		assets = append(assets, asset)
	}
	return assets, nil
}
