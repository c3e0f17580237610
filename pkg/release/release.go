package release

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultAPIHost is the API host used when the theme lives on github.com.
	DefaultAPIHost = "api.github.com"

	// maxJSONResponseBytes bounds the release payload we are willing to decode.
	maxJSONResponseBytes = 10 << 20

	defaultTimeout = 30 * time.Second
)

// ErrNoRelease is returned when the repository has no published release.
var ErrNoRelease = errors.New("no release found")

// Lookup resolves the tag of the most recent release of a repository.
type Lookup interface {
	LatestTag(ctx context.Context, scheme, host, owner, name string) (string, error)
}

type (
	// GitHubLookup queries a GitHub (or GitHub Enterprise) releases API.
	GitHubLookup struct {
		httpClient *http.Client
		baseURL    string // overrides the host-derived API base when set
		token      string
		userAgent  string
	}

	// Option configures a GitHubLookup.
	Option func(*GitHubLookup)

	latestRelease struct {
		TagName string `json:"tag_name"`
	}
)

var _ Lookup = &GitHubLookup{}

// WithHTTPClient sets the client used for API requests.
func WithHTTPClient(c *http.Client) Option {
	return func(g *GitHubLookup) {
		g.httpClient = c
	}
}

// WithBaseURL pins the API base instead of deriving it from the theme host.
func WithBaseURL(base string) Option {
	return func(g *GitHubLookup) {
		g.baseURL = strings.TrimRight(base, "/")
	}
}

// WithToken authenticates API requests.
func WithToken(token string) Option {
	return func(g *GitHubLookup) {
		g.token = token
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) Option {
	return func(g *GitHubLookup) {
		g.userAgent = ua
	}
}

// NewGitHubLookup creates a GitHubLookup. Without WithHTTPClient a client
// with a 30 second timeout is used so a stalled API never blocks resolution.
func NewGitHubLookup(opts ...Option) *GitHubLookup {
	g := &GitHubLookup{
		httpClient: &http.Client{Timeout: defaultTimeout},
		userAgent:  "remotetheme",
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// APIBase returns the releases API root for a theme host: api.github.com for
// github.com, and the /api/v3 prefix on the host itself for enterprise installs.
func (g *GitHubLookup) APIBase(scheme, host string) string {
	if g.baseURL != "" {
		return g.baseURL
	}
	if scheme == "" {
		scheme = "https"
	}
	if strings.EqualFold(host, "github.com") {
		return "https://" + DefaultAPIHost
	}
	return fmt.Sprintf("%s://%s/api/v3", scheme, host)
}

// LatestTag returns the tag_name of the latest release for owner/name.
func (g *GitHubLookup) LatestTag(ctx context.Context, scheme, host, owner, name string) (string, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/releases/latest", g.APIBase(scheme, host), owner, name)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", g.userAgent)
	if g.token != "" {
		req.Header.Set("Authorization", "token "+g.token)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("requesting latest release: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return "", ErrNoRelease
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("requesting latest release: unexpected status %d", resp.StatusCode)
	}

	var rel latestRelease
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxJSONResponseBytes)).Decode(&rel); err != nil {
		return "", fmt.Errorf("decoding latest release: %w", err)
	}

	tag := strings.TrimSpace(rel.TagName)
	if tag == "" {
		return "", ErrNoRelease
	}
	return tag, nil
}
