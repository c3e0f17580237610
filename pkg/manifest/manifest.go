// Package manifest reads a theme's gemspec as plain text. The file comes from
// a third party, so it is never evaluated: every field is pulled out with a
// pattern and anything that does not match is ignored.
package manifest

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
)

const (
	// DefaultVersion is reported when the version is absent or not a literal
	// semantic version.
	DefaultVersion = "0.0.0"

	// ThemePrefix is the conventional gem name prefix for themes.
	ThemePrefix = "jekyll-theme-"

	extension = ".gemspec"

	maxManifestBytes = 1 << 20
)

// quoted matches a single- or double-quoted string literal; the content lands
// in group 1 or group 2.
const quoted = `(?:"((?:[^"\\]|\\.)*)"|'((?:[^'\\]|\\.)*)')`

var (
	skipLineRegex   = regexp.MustCompile(`^\s*(?:#|\$|require)`)
	dependencyRegex = regexp.MustCompile(`\badd_(?:runtime_)?dependency\b\(?\s*([^)#]*)`)
	quotedRegex     = regexp.MustCompile(quoted)
	gemNameRegex    = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

	versionRegex     = scalarRegex("version")
	summaryRegex     = scalarRegex("summary")
	descriptionRegex = scalarRegex("description")
	homepageRegex    = scalarRegex("homepage")
	licenseRegex     = regexp.MustCompile(`(?m)^\s*\w+\.licenses?\s*=\s*\[?\s*` + quoted)
	authorsRegex     = regexp.MustCompile(`(?m)^\s*\w+\.authors?\s*=\s*(\[[^\]]*\]|` + quoted + `)`)
	metadataRegex    = regexp.MustCompile(`(?m)^\s*\w+\.metadata\s*=\s*\{([^}]*)\}`)
	metadataSetRegex = regexp.MustCompile(`(?m)^\s*\w+\.metadata\[\s*` + quoted + `\s*\]\s*=\s*` + quoted)
	metadataPairRe   = regexp.MustCompile(quoted + `\s*=>\s*` + quoted)
)

func scalarRegex(field string) *regexp.Regexp {
	return regexp.MustCompile(`(?m)^\s*\w+\.` + field + `\s*=\s*` + quoted)
}

// Dependency is a runtime dependency declared by the manifest. Requirements
// are kept verbatim.
type Dependency struct {
	Name         string   `json:"name" toml:"name"`
	Requirements []string `json:"requirements,omitempty" toml:"requirements,omitempty"`
}

// Manifest is what could be read from a gemspec. Every field has a neutral
// default, so a missing or unreadable field never fails a scan.
type Manifest struct {
	// Path is the file that was read, empty when no candidate existed.
	Path         string            `json:"path,omitempty" toml:"path,omitempty"`
	Version      string            `json:"version" toml:"version"`
	Summary      string            `json:"summary,omitempty" toml:"summary,omitempty"`
	Description  string            `json:"description,omitempty" toml:"description,omitempty"`
	Homepage     string            `json:"homepage,omitempty" toml:"homepage,omitempty"`
	License      string            `json:"license,omitempty" toml:"license,omitempty"`
	Authors      []string          `json:"authors" toml:"authors"`
	Metadata     map[string]string `json:"metadata,omitempty" toml:"metadata,omitempty"`
	Dependencies []Dependency      `json:"dependencies" toml:"dependencies"`
	// Contents holds the trimmed lines that were considered, without blank
	// lines, comments and requires.
	Contents []string `json:"-" toml:"-"`
}

func empty() *Manifest {
	return &Manifest{
		Version:      DefaultVersion,
		Authors:      []string{},
		Metadata:     map[string]string{},
		Dependencies: []Dependency{},
	}
}

// DependencyNames returns the declared dependency names in order.
func (m *Manifest) DependencyNames() []string {
	names := make([]string, 0, len(m.Dependencies))
	for _, d := range m.Dependencies {
		names = append(names, d.Name)
	}
	return names
}

// SemVer returns the parsed version.
func (m *Manifest) SemVer() *semver.Version {
	v, err := semver.NewVersion(m.Version)
	if err != nil {
		return semver.MustParse(DefaultVersion)
	}
	return v
}

// Candidates lists the manifest file names tried for a theme, in order.
func Candidates(themeName string) []string {
	names := []string{themeName + extension}
	if !strings.HasPrefix(themeName, ThemePrefix) {
		names = append(names, ThemePrefix+themeName+extension)
	}
	return names
}

// ScanDir scans the first candidate manifest that exists in root, falling
// back to the first *.gemspec at root in lexical order. When none exists, the
// returned manifest holds only defaults.
func ScanDir(root, themeName string) (*Manifest, error) {
	for _, name := range Candidates(themeName) {
		p := filepath.Join(root, name)
		if isRegular(p) {
			return Scan(p)
		}
	}

	matches, err := filepath.Glob(filepath.Join(root, "*"+extension))
	if err != nil {
		return nil, fmt.Errorf("listing manifests: %w", err)
	}
	sort.Strings(matches)
	for _, p := range matches {
		if isRegular(p) {
			return Scan(p)
		}
	}
	return empty(), nil
}

func isRegular(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

// Scan reads the manifest at path. A missing file yields defaults; only I/O
// failures on an existing file are errors.
func Scan(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return empty(), nil
		}
		return nil, fmt.Errorf("opening manifest: %w", err)
	}
	defer f.Close()

	m, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("reading manifest %s: %w", path, err)
	}
	m.Path = path
	return m, nil
}

// Parse reads a manifest from r. At most 1 MiB is read.
func Parse(r io.Reader) (*Manifest, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxManifestBytes))
	if err != nil {
		return nil, err
	}

	m := empty()
	var kept []string
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" || skipLineRegex.MatchString(line) {
			continue
		}
		if d, ok := parseDependency(stripComment(line)); ok {
			m.Dependencies = append(m.Dependencies, d)
		}
		kept = append(kept, line)
		m.Contents = append(m.Contents, strings.TrimSpace(line))
	}

	content := strings.Join(kept, "\n")
	m.Version = parseVersion(content)
	m.Summary = scalar(summaryRegex, content)
	m.Description = scalar(descriptionRegex, content)
	m.Homepage = scalar(homepageRegex, content)
	m.License = scalar(licenseRegex, content)
	m.Authors = parseAuthors(content)
	m.Metadata = parseMetadata(content)

	return m, nil
}

func parseDependency(line string) (Dependency, bool) {
	match := dependencyRegex.FindStringSubmatch(line)
	if match == nil {
		return Dependency{}, false
	}
	args := quotedStrings(match[1])
	if len(args) == 0 || !gemNameRegex.MatchString(args[0]) {
		return Dependency{}, false
	}
	d := Dependency{Name: args[0]}
	if len(args) > 1 {
		d.Requirements = args[1:]
	}
	return d, true
}

// stripComment cuts line at the first # that is not inside a string literal.
func stripComment(line string) string {
	var quote byte
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case quote != 0 && c == '\\':
			i++
		case quote != 0 && c == quote:
			quote = 0
		case quote != 0:
		case c == '"' || c == '\'':
			quote = c
		case c == '#':
			return line[:i]
		}
	}
	return line
}

func parseVersion(content string) string {
	v := scalar(versionRegex, content)
	if v == "" {
		return DefaultVersion
	}
	if _, err := semver.NewVersion(v); err != nil {
		return DefaultVersion
	}
	return v
}

func parseAuthors(content string) []string {
	match := authorsRegex.FindStringSubmatch(content)
	if match == nil {
		return []string{}
	}
	authors := quotedStrings(match[1])
	if authors == nil {
		return []string{}
	}
	return authors
}

func parseMetadata(content string) map[string]string {
	md := map[string]string{}
	if match := metadataRegex.FindStringSubmatch(content); match != nil {
		for _, pair := range metadataPairRe.FindAllStringSubmatch(match[1], -1) {
			md[pick(pair[1], pair[2])] = pick(pair[3], pair[4])
		}
	}
	for _, set := range metadataSetRegex.FindAllStringSubmatch(content, -1) {
		md[pick(set[1], set[2])] = pick(set[3], set[4])
	}
	return md
}

func scalar(re *regexp.Regexp, content string) string {
	match := re.FindStringSubmatch(content)
	if match == nil {
		return ""
	}
	return pick(match[1], match[2])
}

func quotedStrings(s string) []string {
	var out []string
	for _, m := range quotedRegex.FindAllStringSubmatch(s, -1) {
		out = append(out, pick(m[1], m[2]))
	}
	return out
}

// pick returns whichever alternation group matched, unescaped.
func pick(double, single string) string {
	if double != "" {
		return unescape(double)
	}
	return unescape(single)
}

var unescaper = strings.NewReplacer(`\\`, `\`, `\"`, `"`, `\'`, `'`)

func unescape(s string) string {
	return unescaper.Replace(s)
}
