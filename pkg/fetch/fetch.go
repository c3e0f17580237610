package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/remotetheme/remotetheme/pkg/logging"
	"github.com/remotetheme/remotetheme/pkg/theme"
)

const (
	// MaxFileSize is the largest archive accepted, 1 GiB.
	MaxFileSize int64 = 1 << 30

	// MaxRedirects is the number of redirects followed before giving up.
	MaxRedirects = 10

	DefaultTimeout   = 10 * time.Minute
	DefaultUserAgent = "remotetheme (+https://github.com/remotetheme/remotetheme)"
	DefaultAccept    = "application/vnd.github.v3+json"

	codeloadPrefix = "codeload."
	tempPattern    = "remote-theme-*.zip"
)

// Options configures a Fetcher. Zero values select the defaults.
type Options struct {
	// Headers are sent with every request and win over the baseline
	// User-Agent, Accept and Authorization values.
	Headers map[string]string
	// AuthToken is sent as "Authorization: token <AuthToken>".
	AuthToken    string
	UserAgent    string
	Timeout      time.Duration
	MaxSize      int64
	MaxRedirects int
	// TempDir holds scratch archives. Empty means os.TempDir.
	TempDir string
	// Transport replaces the default proxy-aware transport.
	Transport http.RoundTripper
	Logger    *log.Logger
}

// Archive is a downloaded scratch archive on disk. The caller owns the file.
type Archive struct {
	Path   string
	URL    string
	Size   int64
	SHA256 string
}

// Remove deletes the scratch file.
func (a *Archive) Remove() error {
	if a == nil || a.Path == "" {
		return nil
	}
	if err := os.Remove(a.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Fetcher downloads theme archives, following redirects itself so every hop
// is checked against the reference's host allow-list.
type Fetcher struct {
	client       *http.Client
	headers      http.Header
	maxSize      int64
	maxRedirects int
	tempDir      string
	logger       *log.Logger
}

// New creates a Fetcher.
func New(opts Options) *Fetcher {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxSize := opts.MaxSize
	if maxSize <= 0 {
		maxSize = MaxFileSize
	}
	maxRedirects := opts.MaxRedirects
	if maxRedirects <= 0 {
		maxRedirects = MaxRedirects
	}
	transport := opts.Transport
	if transport == nil {
		transport = defaultTransport()
	}

	return &Fetcher{
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		headers:      baseHeaders(opts),
		maxSize:      maxSize,
		maxRedirects: maxRedirects,
		tempDir:      opts.TempDir,
		logger:       logging.OrDiscard(opts.Logger),
	}
}

func defaultTransport() *http.Transport {
	return &http.Transport{
		Proxy: ProxyFromEnvironment(),
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 60 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		ForceAttemptHTTP2:     true,
	}
}

func baseHeaders(opts Options) http.Header {
	h := http.Header{}
	ua := opts.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	h.Set("User-Agent", ua)
	h.Set("Accept", DefaultAccept)
	if opts.AuthToken != "" {
		h.Set("Authorization", "token "+opts.AuthToken)
	}
	for k, v := range opts.Headers {
		h.Set(k, v)
	}
	return h
}

// ArchiveURL returns the zip download URL for ref at gitRef. github.com
// archives come from its codeload host; other hosts serve
// owner/name/archive/<ref>.zip themselves.
func ArchiveURL(ref *theme.Reference, gitRef string) string {
	segments := strings.Split(gitRef, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	escaped := strings.Join(segments, "/")

	if strings.EqualFold(ref.Host, theme.DefaultHost) {
		return fmt.Sprintf("%s://%s%s/%s/%s/zip/%s", ref.Scheme, codeloadPrefix, ref.Host, ref.Owner, ref.Name, escaped)
	}
	return fmt.Sprintf("%s://%s/%s/%s/archive/%s.zip", ref.Scheme, ref.Host, ref.Owner, ref.Name, escaped)
}

// Fetch downloads the archive for ref into a scratch file. Any failure is
// reported as a *DownloadError and leaves no scratch file behind.
func (f *Fetcher) Fetch(ctx context.Context, ref *theme.Reference) (*Archive, error) {
	if ref.Local {
		return nil, fmt.Errorf("cannot download local theme %s", ref.Path)
	}

	gitRef := ref.Ref(ctx)
	target, err := url.Parse(ArchiveURL(ref, gitRef))
	if err != nil {
		return nil, downloadError(ref.String(), "Invalid archive URL: %v", err)
	}
	origin := target.Host
	headers := f.headers.Clone()

	f.logger.Debug("Downloading", "url", target.String())

	for hops := 0; ; hops++ {
		resp, err := f.get(ctx, target, headers)
		if err != nil {
			return nil, err
		}

		if isRedirect(resp.StatusCode) {
			drain(resp)
			if hops >= f.maxRedirects {
				return nil, downloadError(target.String(), "Too many redirects")
			}
			next, err := f.redirectTarget(ref, resp)
			if err != nil {
				return nil, err
			}
			if !strings.EqualFold(next.Host, origin) {
				headers.Del("Authorization")
			}
			f.logger.Debug("Following redirect", "from", target.String(), "to", next.String())
			target = next
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			drain(resp)
			return nil, statusError(target.String(), resp.StatusCode, statusText(resp))
		}

		return f.save(resp, target.String())
	}
}

func (f *Fetcher) get(ctx context.Context, target *url.URL, headers http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), http.NoBody)
	if err != nil {
		return nil, requestError(target.String(), err)
	}
	req.Header = headers.Clone()

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, requestError(target.String(), unwrapURLError(err))
	}
	return resp, nil
}

func (f *Fetcher) redirectTarget(ref *theme.Reference, resp *http.Response) (*url.URL, error) {
	from := resp.Request.URL.String()
	loc := resp.Header.Get("Location")
	if loc == "" {
		return nil, downloadError(from, "Redirect without a Location header")
	}
	next, err := resp.Request.URL.Parse(loc)
	if err != nil {
		return nil, downloadError(from, "Invalid redirect location %q", loc)
	}
	if next.Scheme != "http" && next.Scheme != "https" {
		return nil, downloadError(from, "Redirect to unsupported scheme %q", next.Scheme)
	}
	if !redirectAllowed(ref, next.Host) {
		return nil, downloadError(from, "Redirect to disallowed host %s", next.Hostname())
	}
	return next, nil
}

// redirectAllowed accepts the reference's allowed hosts and their codeload
// subdomains.
func redirectAllowed(ref *theme.Reference, host string) bool {
	if ref.HostAllowed(host) {
		return true
	}
	lower := strings.ToLower(host)
	return strings.HasPrefix(lower, codeloadPrefix) && ref.HostAllowed(strings.TrimPrefix(lower, codeloadPrefix))
}

func (f *Fetcher) save(resp *http.Response, source string) (_ *Archive, err error) {
	defer resp.Body.Close()

	if resp.ContentLength > f.maxSize {
		return nil, sizeError(source, f.maxSize)
	}

	tmp, err := os.CreateTemp(f.tempDir, tempPattern)
	if err != nil {
		return nil, downloadError(source, "Creating scratch file: %v", err)
	}
	defer func() {
		if closeErr := tmp.Close(); closeErr != nil && err == nil {
			err = downloadError(source, "Closing scratch file: %v", closeErr)
		}
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), io.LimitReader(resp.Body, f.maxSize+1))
	if err != nil {
		return nil, requestError(source, err)
	}
	if n > f.maxSize {
		return nil, sizeError(source, f.maxSize)
	}
	if resp.ContentLength >= 0 && n != resp.ContentLength {
		return nil, downloadError(source, "Incomplete download: got %d of %d bytes", n, resp.ContentLength)
	}

	f.logger.Debug("Downloaded archive", "url", source, "bytes", n, "path", tmp.Name())
	return &Archive{
		Path:   tmp.Name(),
		URL:    source,
		Size:   n,
		SHA256: hex.EncodeToString(h.Sum(nil)),
	}, nil
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// statusText returns the reason phrase of resp, e.g. "Not Found".
func statusText(resp *http.Response) string {
	if _, text, ok := strings.Cut(resp.Status, " "); ok && text != "" {
		return text
	}
	return http.StatusText(resp.StatusCode)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

// unwrapURLError strips the *url.Error wrapper so messages read
// "Request failed with dial tcp ..." rather than repeating method and URL.
func unwrapURLError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Err
	}
	return err
}
