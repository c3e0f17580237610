package store

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/remotetheme/remotetheme/pkg/theme"
)

var dotRunRegex = regexp.MustCompile(`\.{2,}`)

// Options controls where theme roots are placed.
type Options struct {
	// Enabled keeps extracted themes under Path across runs.
	Enabled bool
	// Path is the cache root. Relative paths resolve against the working
	// directory.
	Path string
	// TempDir is the parent of ephemeral roots. Empty means os.TempDir.
	TempDir string
}

// Sanitize makes s safe to use as a single path segment. Separators become
// underscores and any run of two or more dots collapses to one underscore, so
// version strings like v1.2.3 pass through unchanged.
func Sanitize(s string) string {
	s = strings.NewReplacer("/", "_", `\`, "_").Replace(s)
	return dotRunRegex.ReplaceAllString(s, "_")
}

// Segments returns the cache path segments for ref at gitRef.
func Segments(ref *theme.Reference, gitRef string) []string {
	return []string{Sanitize(ref.Owner), Sanitize(ref.Name), Sanitize(gitRef)}
}

// RootFor returns the directory a theme is extracted into, and a cleanup
// function the caller must run once the theme is no longer needed.
//
// Local references resolve to their own path. With caching disabled each
// call allocates a fresh temporary directory, removed by cleanup. With
// caching enabled the directory is Path/owner/name/ref, created if missing,
// and cleanup is a no-op.
func RootFor(ref *theme.Reference, gitRef string, opts Options) (string, func() error, error) {
	noop := func() error { return nil }

	if ref.Local {
		return ref.Path, noop, nil
	}

	if !opts.Enabled {
		dir, err := os.MkdirTemp(opts.TempDir, TempPrefix)
		if err != nil {
			return "", noop, fmt.Errorf("creating temporary theme directory: %w", err)
		}
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			dir = resolved
		}
		return dir, func() error { return os.RemoveAll(dir) }, nil
	}

	base := opts.Path
	if base == "" {
		base = DefaultRoot
	}
	base, err := filepath.Abs(base)
	if err != nil {
		return "", noop, fmt.Errorf("resolving cache path: %w", err)
	}

	s := New(base)
	segments := Segments(ref, gitRef)
	if err := s.EnsureDir(segments...); err != nil {
		return "", noop, err
	}
	return s.Path(segments...), noop, nil
}
