package theme

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/remotetheme/remotetheme/pkg/logging"
	"github.com/remotetheme/remotetheme/pkg/release"
)

const (
	DefaultScheme = "https"
	DefaultHost   = "github.com"
	DefaultRef    = "HEAD"

	// LatestRef is the sentinel ref that resolves to the newest release tag.
	LatestRef = "latest"

	// LocalOwner is the owner reported for filesystem themes.
	LocalOwner = "local"
)

var (
	themeRegex       = regexp.MustCompile(`^/?(?P<owner>[a-z0-9_-]+)/(?P<name>[a-z0-9_.-]+)(?:@(?P<ref>\S+))?$`)
	driveLetterRegex = regexp.MustCompile(`^[a-zA-Z]:[/\\]`)
)

// ParseOptions carries the environment a reference is parsed against.
type ParseOptions struct {
	// DefaultHost replaces github.com for owner/name references.
	DefaultHost string
	// AlternateHosts are additional hosts themes may be fetched from.
	AlternateHosts []string
	// RepositoryURL is the site's own repository; its host is trusted.
	RepositoryURL string
	// Lookup resolves the "latest" ref. When nil, "latest" falls back to HEAD.
	Lookup release.Lookup
	Logger *log.Logger
}

// Reference is the parsed form of a theme locator. It is immutable once
// parsed, apart from the memoized result of Ref.
type Reference struct {
	Raw    string
	Scheme string
	Host   string
	Owner  string
	Name   string
	// RawRef is the ref exactly as given, empty when absent.
	RawRef string

	Local bool
	// Path is the absolute directory of a local theme.
	Path string

	allowed []string
	lookup  release.Lookup
	logger  *log.Logger

	once     sync.Once
	resolved string
}

// Parse turns a user-supplied theme string into a Reference. Grammar problems
// are reported as *InvalidReferenceError; host and existence checks are left
// to Validate so a well-formed but disallowed reference can still be inspected.
func Parse(raw string, opts ParseOptions) (*Reference, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, invalid(raw, "empty theme")
	}

	if isLocalPath(trimmed) {
		return parseLocal(raw, trimmed, opts)
	}

	input := strings.ToLower(trimmed)
	ref := &Reference{
		Raw:    raw,
		Scheme: DefaultScheme,
		Host:   defaultHost(opts),
		lookup: opts.Lookup,
		logger: logging.OrDiscard(opts.Logger),
	}

	themePath := input
	if strings.Contains(input, "://") {
		u, err := url.Parse(input)
		if err != nil {
			return nil, invalid(raw, "malformed URL")
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, invalid(raw, "URL must include a scheme and host")
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return nil, invalid(raw, fmt.Sprintf("unsupported scheme %q", u.Scheme))
		}
		if u.User != nil || u.RawQuery != "" || u.Fragment != "" {
			return nil, invalid(raw, "URL must not carry credentials, a query or a fragment")
		}
		ref.Scheme = u.Scheme
		ref.Host = u.Host
		themePath = u.Path
	}

	m := themeRegex.FindStringSubmatch(themePath)
	if m == nil {
		return nil, invalid(raw, "expected owner/name[@ref]")
	}
	ref.Owner = m[themeRegex.SubexpIndex("owner")]
	ref.Name = m[themeRegex.SubexpIndex("name")]
	ref.RawRef = m[themeRegex.SubexpIndex("ref")]

	if err := checkRef(ref.RawRef); err != nil {
		return nil, invalid(raw, err.Error())
	}

	ref.allowed = allowedHosts(opts)
	return ref, nil
}

func parseLocal(raw, trimmed string, opts ParseOptions) (*Reference, error) {
	expanded := trimmed
	if strings.HasPrefix(expanded, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, invalid(raw, fmt.Sprintf("expanding home directory: %v", err))
		}
		expanded = filepath.Join(home, expanded[2:])
	}

	abs, err := filepath.Abs(expanded)
	if err != nil {
		return nil, invalid(raw, fmt.Sprintf("resolving absolute path: %v", err))
	}

	return &Reference{
		Raw:    raw,
		Owner:  LocalOwner,
		Name:   filepath.Base(abs),
		Local:  true,
		Path:   abs,
		logger: logging.OrDiscard(opts.Logger),
	}, nil
}

// Validate reports why the reference cannot be resolved, or nil.
func (r *Reference) Validate() error {
	if r.Local {
		info, err := os.Stat(r.Path)
		if err != nil {
			if os.IsNotExist(err) {
				return invalid(r.Raw, fmt.Sprintf("local theme path does not exist: %s", r.Path))
			}
			return invalid(r.Raw, fmt.Sprintf("checking local theme path %s: %v", r.Path, err))
		}
		if !info.IsDir() {
			return invalid(r.Raw, fmt.Sprintf("local theme path is not a directory: %s", r.Path))
		}
		return nil
	}

	if r.Owner == "" || r.Name == "" {
		return invalid(r.Raw, "missing owner or name")
	}
	if !r.HostAllowed(r.Host) {
		return invalid(r.Raw, fmt.Sprintf("host %q is not allowed", r.Host))
	}
	return nil
}

// Valid reports whether Validate succeeds.
func (r *Reference) Valid() bool {
	return r.Validate() == nil
}

// HostAllowed reports whether host is in the reference's allow-list. Entries
// match either the full host:port or the bare hostname.
func (r *Reference) HostAllowed(host string) bool {
	host = strings.ToLower(host)
	bare := host
	if h, _, ok := strings.Cut(host, ":"); ok {
		bare = h
	}
	for _, a := range r.allowed {
		if a == host || a == bare {
			return true
		}
	}
	return false
}

// NameWithOwner returns "owner/name".
func (r *Reference) NameWithOwner() string {
	return r.Owner + "/" + r.Name
}

// Ref returns the git ref to fetch. The "latest" sentinel is resolved through
// the release lookup on first call and memoized; any lookup failure is logged
// and yields HEAD.
func (r *Reference) Ref(ctx context.Context) string {
	r.once.Do(func() {
		r.resolved = r.resolveRef(ctx)
	})
	return r.resolved
}

func (r *Reference) resolveRef(ctx context.Context) string {
	if r.RawRef == "" {
		return DefaultRef
	}
	if r.RawRef != LatestRef || r.Local {
		return r.RawRef
	}

	if r.lookup == nil {
		r.logger.Warn("No release lookup configured, falling back to HEAD", "theme", r.NameWithOwner())
		return DefaultRef
	}

	tag, err := r.lookup.LatestTag(ctx, r.Scheme, r.Host, r.Owner, r.Name)
	if err != nil {
		r.logger.Warn("Unable to resolve latest release, falling back to HEAD", "theme", r.NameWithOwner(), "err", err)
		return DefaultRef
	}
	if err := checkRef(tag); err != nil {
		r.logger.Warn("Latest release has an unusable tag, falling back to HEAD", "theme", r.NameWithOwner(), "tag", tag, "err", err)
		return DefaultRef
	}
	r.logger.Debug("Resolved latest release", "theme", r.NameWithOwner(), "tag", tag)
	return tag
}

// String returns the canonical form, which Parse maps back to an equal reference.
func (r *Reference) String() string {
	if r.Local {
		return r.Path
	}
	s := fmt.Sprintf("%s://%s/%s", r.Scheme, r.Host, r.NameWithOwner())
	if r.RawRef != "" {
		s += "@" + r.RawRef
	}
	return s
}

// isLocalPath reports whether s looks like a filesystem path rather than a
// remote locator.
func isLocalPath(s string) bool {
	for _, prefix := range []string{"/", "./", "../", "~/"} {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return driveLetterRegex.MatchString(s)
}

// checkRef rejects refs git itself would never accept and that would let a
// ref walk out of the archive URL path.
func checkRef(ref string) error {
	if ref == "" {
		return nil
	}
	if ref == "." || strings.Contains(ref, "..") {
		return fmt.Errorf("invalid ref %q", ref)
	}
	if strings.ContainsAny(ref, "\\?#") {
		return fmt.Errorf("invalid ref %q", ref)
	}
	return nil
}

func defaultHost(opts ParseOptions) string {
	if h := strings.ToLower(strings.TrimSpace(opts.DefaultHost)); h != "" {
		return h
	}
	return DefaultHost
}

// allowedHosts builds the allow-list: the default host, configured alternates,
// and the host of the site's own repository.
func allowedHosts(opts ParseOptions) []string {
	seen := map[string]bool{}
	var out []string
	add := func(h string) {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" || seen[h] {
			return
		}
		seen[h] = true
		out = append(out, h)
	}

	add(defaultHost(opts))
	for _, h := range opts.AlternateHosts {
		add(h)
	}
	if opts.RepositoryURL != "" {
		if u, err := url.Parse(strings.TrimSpace(opts.RepositoryURL)); err == nil {
			add(u.Host)
		}
	}
	return out
}
