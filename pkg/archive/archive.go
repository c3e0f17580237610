package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/klauspost/compress/zip"
	"github.com/remotetheme/remotetheme/pkg/fetch"
	"github.com/remotetheme/remotetheme/pkg/logging"
	"github.com/remotetheme/remotetheme/pkg/store"
)

// DefaultMaxBytes bounds the total uncompressed size written by Install.
const DefaultMaxBytes int64 = 4 << 30

var errTooLarge = errors.New("archive expands beyond the extraction limit")

// Options configures Install.
type Options struct {
	// MaxBytes bounds the total bytes extracted. Zero means DefaultMaxBytes.
	MaxBytes int64
	Logger   *log.Logger
}

// ExtractionError reports a malformed archive or a failure writing its
// contents. Entry is empty when the archive itself could not be read.
type ExtractionError struct {
	Archive string
	Entry   string
	Err     error
}

func (e *ExtractionError) Error() string {
	if e.Entry == "" {
		return fmt.Sprintf("extracting %s: %v", e.Archive, e.Err)
	}
	return fmt.Sprintf("extracting %s from %s: %v", e.Entry, e.Archive, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// Install unpacks a into root. The archive's single top-level folder is
// dropped so its contents land directly in root. The scratch file is removed
// whether or not extraction succeeds. A failed extraction is not rolled back,
// but any completion marker in root is removed first and marker entries in the
// archive are never written, so a partial tree is never mistaken for a
// complete one.
func Install(ctx context.Context, a *fetch.Archive, root string, opts Options) (err error) {
	logger := logging.OrDiscard(opts.Logger)
	defer func() {
		if rmErr := a.Remove(); rmErr != nil {
			logger.Warn("Unable to remove scratch archive", "path", a.Path, "err", rmErr)
		}
	}()

	limit := opts.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBytes
	}

	logger.Debug("Unzipping", "archive", a.Path, "root", root)

	zr, err := zip.OpenReader(a.Path)
	if err != nil {
		return &ExtractionError{Archive: a.Path, Err: err}
	}
	defer func() {
		if closeErr := zr.Close(); closeErr != nil && err == nil {
			err = &ExtractionError{Archive: a.Path, Err: closeErr}
		}
	}()

	if err := os.MkdirAll(root, 0o755); err != nil {
		return &ExtractionError{Archive: a.Path, Err: err}
	}
	if err := os.Remove(filepath.Join(root, store.MarkerFile)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &ExtractionError{Archive: a.Path, Err: err}
	}

	remaining := limit
	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return &ExtractionError{Archive: a.Path, Err: err}
		}

		rel, ok := stripTopLevel(f.Name)
		if !ok {
			continue
		}
		dest, err := SafeJoin(root, rel)
		if err != nil {
			logger.Debug("Skipping entry", "entry", f.Name, "err", err)
			continue
		}
		if isMarker(root, dest) {
			logger.Warn("Skipping reserved entry", "entry", f.Name)
			continue
		}

		mode := f.Mode()
		switch {
		case mode.IsDir():
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return &ExtractionError{Archive: a.Path, Entry: f.Name, Err: err}
			}
		case mode&fs.ModeSymlink != 0:
			logger.Debug("Skipping symlink", "entry", f.Name)
		case !mode.IsRegular():
			logger.Debug("Skipping special file", "entry", f.Name, "mode", mode)
		default:
			n, err := extractFile(f, dest, remaining)
			if err != nil {
				return &ExtractionError{Archive: a.Path, Entry: f.Name, Err: err}
			}
			remaining -= n
		}
	}

	return nil
}

// isMarker reports whether dest is the cache completion marker of root. The
// name is compared case-insensitively for case-folding filesystems.
func isMarker(root, dest string) bool {
	return filepath.Dir(dest) == filepath.Clean(root) && strings.EqualFold(filepath.Base(dest), store.MarkerFile)
}

// stripTopLevel drops the first path segment of an entry name. Entries that
// are the top-level folder itself report ok=false.
func stripTopLevel(name string) (string, bool) {
	name = strings.ReplaceAll(name, `\`, "/")
	name = strings.TrimLeft(name, "/")
	parts := strings.SplitN(name, "/", 2)
	if len(parts) < 2 || parts[1] == "" || parts[1] == "/" {
		return "", false
	}
	return parts[1], true
}

// SafeJoin joins rel onto root so the result never leaves root. Parent
// segments are resolved as if rel were rooted, so "../../etc/x" becomes
// root/etc/x. A rel that resolves to root itself is rejected.
func SafeJoin(root, rel string) (string, error) {
	cleaned := path.Clean("/" + strings.ReplaceAll(rel, `\`, "/"))
	if cleaned == "/" {
		return "", fmt.Errorf("path %q resolves to the destination root", rel)
	}

	dest := filepath.Join(root, filepath.FromSlash(cleaned))
	r, err := filepath.Rel(root, dest)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the destination root", rel)
	}
	return dest, nil
}

func extractFile(f *zip.File, dest string, remaining int64) (written int64, err error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, err
	}

	src, err := f.Open()
	if err != nil {
		return 0, err
	}
	defer src.Close()

	perm := os.FileMode(0o644)
	if f.Mode()&0o111 != 0 {
		perm = 0o755
	}

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return 0, err
	}
	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	n, err := io.Copy(out, io.LimitReader(src, remaining+1))
	if err != nil {
		return n, err
	}
	if n > remaining {
		return n, errTooLarge
	}
	return n, nil
}
