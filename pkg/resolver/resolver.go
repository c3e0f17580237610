package resolver

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/charmbracelet/log"
	"github.com/remotetheme/remotetheme/pkg/archive"
	"github.com/remotetheme/remotetheme/pkg/fetch"
	"github.com/remotetheme/remotetheme/pkg/logging"
	"github.com/remotetheme/remotetheme/pkg/manifest"
	"github.com/remotetheme/remotetheme/pkg/store"
	"github.com/remotetheme/remotetheme/pkg/theme"
)

// CoreDependency is provided by the build itself and never reported as a
// theme dependency.
const CoreDependency = "jekyll"

// Fetcher downloads the archive for a reference.
type Fetcher interface {
	Fetch(ctx context.Context, ref *theme.Reference) (*fetch.Archive, error)
}

type Resolver struct {
	Parse   theme.ParseOptions
	Cache   store.Options
	Fetcher Fetcher
	Install archive.Options
	// AllowedDependencies are the plugins a theme may pull in.
	AllowedDependencies []string
	Logger              *log.Logger
}

// Result is a theme available on disk. Call Cleanup once the theme is no
// longer needed; it removes ephemeral directories and is a no-op otherwise.
type Result struct {
	Theme     theme.Theme
	Reference *theme.Reference
	Root      string
	// Ref is the git ref that was fetched, empty for local themes.
	Ref string
	// Reused is set when a cached extraction was used without downloading.
	Reused bool

	cleanup func() error
}

func (r *Result) Cleanup() error {
	if r == nil || r.cleanup == nil {
		return nil
	}
	err := r.cleanup()
	r.cleanup = nil
	return err
}

// DependencyReport partitions a theme's declared dependencies.
type DependencyReport struct {
	Manifest *manifest.Manifest
	Allowed  []manifest.Dependency
	Skipped  []manifest.Dependency
}

func (r *Resolver) logger() *log.Logger {
	return logging.OrDiscard(r.Logger)
}

// Resolve parses raw, validates it and makes the theme available on disk,
// downloading and extracting it unless a complete extraction already exists.
// On error nothing is left behind except a partial cache directory, which the
// next call detects and refetches.
func (r *Resolver) Resolve(ctx context.Context, raw string) (*Result, error) {
	logger := r.logger()

	opts := r.Parse
	if opts.Logger == nil {
		opts.Logger = logger
	}
	ref, err := theme.Parse(raw, opts)
	if err != nil {
		return nil, err
	}
	if err := ref.Validate(); err != nil {
		return nil, err
	}

	logger.Info("Using theme", "theme", ref.NameWithOwner())

	if ref.Local {
		return &Result{
			Theme:     theme.NewLocal(ref),
			Reference: ref,
			Root:      ref.Path,
		}, nil
	}

	gitRef := ref.Ref(ctx)
	root, cleanup, err := store.RootFor(ref, gitRef, r.Cache)
	if err != nil {
		return nil, err
	}
	res := &Result{
		Theme:     theme.NewRemote(ref, gitRef, root),
		Reference: ref,
		Root:      root,
		Ref:       gitRef,
		cleanup:   cleanup,
	}

	if err := r.populate(ctx, res); err != nil {
		if cleanupErr := res.Cleanup(); cleanupErr != nil {
			logger.Debug("Cleanup failed", "root", root, "err", cleanupErr)
		}
		return nil, err
	}
	return res, nil
}

func (r *Resolver) populate(ctx context.Context, res *Result) error {
	logger := r.logger()
	ref := res.Reference
	s := store.New(res.Root)

	populated, err := s.Populated()
	if err != nil {
		return fmt.Errorf("checking theme directory: %w", err)
	}
	if populated {
		complete, err := s.Complete()
		if err != nil {
			return fmt.Errorf("checking theme directory: %w", err)
		}
		if complete {
			logger.Info(fmt.Sprintf("Using cached %s@%s", ref.NameWithOwner(), res.Ref))
			res.Reused = true
			return nil
		}
		logger.Warn("Theme directory is incomplete, downloading again", "root", res.Root)
		if err := s.Remove(); err != nil {
			return err
		}
		if err := s.EnsureDir(); err != nil {
			return err
		}
	}

	if r.Fetcher == nil {
		return errors.New("no fetcher configured")
	}
	a, err := r.Fetcher.Fetch(ctx, ref)
	if err != nil {
		return err
	}

	installOpts := r.Install
	if installOpts.Logger == nil {
		installOpts.Logger = logger
	}
	if err := archive.Install(ctx, a, res.Root, installOpts); err != nil {
		return err
	}

	if !r.Cache.Enabled {
		return nil
	}

	integrity, err := s.HashDir()
	if err != nil {
		return fmt.Errorf("hashing theme directory: %w", err)
	}
	marker := store.Marker{
		Owner:       ref.Owner,
		Name:        ref.Name,
		Ref:         res.Ref,
		URL:         a.URL,
		SHA256:      a.SHA256,
		Integrity:   integrity,
		InstalledAt: time.Now().UTC(),
	}
	if err := s.WriteMarker(marker); err != nil {
		return fmt.Errorf("writing cache marker: %w", err)
	}
	logger.Debug("Cached theme", "root", res.Root, "integrity", integrity)
	return nil
}

// Dependencies scans the resolved theme's manifest and splits its
// dependencies into those the site allows and those it skips. The core
// dependency is dropped without a warning.
func (r *Resolver) Dependencies(res *Result) (*DependencyReport, error) {
	m, err := manifest.ScanDir(res.Root, res.Theme.Name())
	if err != nil {
		return nil, err
	}

	r.logger().Debug("Scanned manifest", "path", m.Path, "version", m.Version, "dependencies", m.DependencyNames())

	report := &DependencyReport{
		Manifest: m,
		Allowed:  []manifest.Dependency{},
		Skipped:  []manifest.Dependency{},
	}
	for _, d := range m.Dependencies {
		switch {
		case d.Name == CoreDependency:
			continue
		case slices.Contains(r.AllowedDependencies, d.Name):
			report.Allowed = append(report.Allowed, d)
		default:
			r.logger().Warn("Skipping dependency that is not in the site's plugin list", "dependency", d.Name)
			report.Skipped = append(report.Skipped, d)
		}
	}
	return report, nil
}
