package store

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	dirPerm    = 0o755
	hashPrefix = "sha256:"

	// DefaultRoot is the cache root, relative to the site source directory.
	DefaultRoot = "vendor/cache/remote-themes"

	// MarkerFile is written into a cache directory once extraction finished.
	// A populated directory without it is a partial extraction.
	MarkerFile = ".remote-theme.toml"

	// TempPrefix names ephemeral theme directories.
	TempPrefix = "remote-theme-"
)

// Marker records where a cached theme came from.
type Marker struct {
	Owner       string    `toml:"owner"`
	Name        string    `toml:"name"`
	Ref         string    `toml:"ref"`
	URL         string    `toml:"url"`
	SHA256      string    `toml:"sha256,omitempty"`
	Integrity   string    `toml:"integrity,omitempty"`
	InstalledAt time.Time `toml:"installed_at"`
}

type Store interface {
	// Path returns the absolute filesystem path for the given segments
	// joined under the store root. Does not create or verify the path.
	Path(segments ...string) string
	// Exists reports whether the path at the given segments exists.
	Exists(segments ...string) (bool, error)
	// EnsureDir creates the directory at segments, including parents.
	// Creating a directory that already exists is not an error.
	EnsureDir(segments ...string) error
	// Remove deletes the entire tree at segments.
	Remove(segments ...string) error
	// Populated reports whether the directory at segments exists and holds
	// at least one entry.
	Populated(segments ...string) (bool, error)
	// Complete reports whether the directory at segments carries a marker.
	Complete(segments ...string) (bool, error)
	// HashDir computes a "sha256:<hex>" integrity hash over all file
	// contents in the directory at segments, walking recursively in sorted
	// order for determinism. The marker file is not part of the hash.
	HashDir(segments ...string) (string, error)
	// WriteMarker records m in the directory at segments.
	WriteMarker(m Marker, segments ...string) error
	// ReadMarker loads the marker from the directory at segments.
	ReadMarker(segments ...string) (*Marker, error)
	// WriteFile writes data to the file at segments.
	// Parent directories must already exist.
	WriteFile(data []byte, perm os.FileMode, segments ...string) error
	// ReadFile reads the file at segments.
	ReadFile(segments ...string) ([]byte, error)
}

func New(root string) Store {
	return &store{root: root}
}

type store struct {
	root string
}

var _ Store = &store{}

func (s *store) Path(segments ...string) string {
	return filepath.Join(append([]string{s.root}, segments...)...)
}

func (s *store) Exists(segments ...string) (bool, error) {
	_, err := os.Stat(s.Path(segments...))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (s *store) EnsureDir(segments ...string) error {
	if err := os.MkdirAll(s.Path(segments...), dirPerm); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	return nil
}

func (s *store) Remove(segments ...string) error {
	if err := os.RemoveAll(s.Path(segments...)); err != nil {
		return fmt.Errorf("removing %s: %w", s.Path(segments...), err)
	}
	return nil
}

func (s *store) Populated(segments ...string) (bool, error) {
	f, err := os.Open(s.Path(segments...))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	names, err := f.Readdirnames(1)
	if errors.Is(err, io.EOF) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return len(names) > 0, nil
}

func (s *store) Complete(segments ...string) (bool, error) {
	return s.Exists(markerPath(segments)...)
}

func (s *store) HashDir(segments ...string) (string, error) {
	dir := s.Path(segments...)
	h := sha256.New()

	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == MarkerFile {
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return "", err
	}

	sort.Strings(files)

	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(dir, f))
		if err != nil {
			return "", err
		}
		h.Write([]byte(filepath.ToSlash(f)))
		h.Write(data)
	}

	return hashPrefix + hex.EncodeToString(h.Sum(nil)), nil
}

func (s *store) WriteMarker(m Marker, segments ...string) error {
	data, err := toml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding marker: %w", err)
	}
	return s.WriteFile(data, 0o644, markerPath(segments)...)
}

func (s *store) ReadMarker(segments ...string) (*Marker, error) {
	data, err := s.ReadFile(markerPath(segments)...)
	if err != nil {
		return nil, err
	}
	var m Marker
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding marker: %w", err)
	}
	return &m, nil
}

func (s *store) WriteFile(data []byte, perm os.FileMode, segments ...string) error {
	return os.WriteFile(s.Path(segments...), data, perm)
}

func (s *store) ReadFile(segments ...string) ([]byte, error) {
	return os.ReadFile(s.Path(segments...))
}

func markerPath(segments []string) []string {
	return append(append([]string(nil), segments...), MarkerFile)
}
