package release

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLatestTag(t *testing.T) {
	tests := map[string]struct {
		status  int
		body    string
		want    string
		wantErr bool
		noRel   bool
	}{
		"tag present": {
			status: http.StatusOK,
			body:   `{"tag_name": "v0.6.0", "name": "Primer 0.6.0"}`,
			want:   "v0.6.0",
		},
		"not found": {
			status:  http.StatusNotFound,
			body:    `{"message": "Not Found"}`,
			wantErr: true,
			noRel:   true,
		},
		"server error": {
			status:  http.StatusInternalServerError,
			wantErr: true,
		},
		"malformed json": {
			status:  http.StatusOK,
			body:    `{"tag_name": `,
			wantErr: true,
		},
		"empty tag": {
			status:  http.StatusOK,
			body:    `{"tag_name": "  "}`,
			wantErr: true,
			noRel:   true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			var gotPath, gotAuth string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotPath = r.URL.Path
				gotAuth = r.Header.Get("Authorization")
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			l := NewGitHubLookup(WithBaseURL(srv.URL), WithToken("secret"))
			got, err := l.LatestTag(context.Background(), "https", "github.com", "pages-themes", "primer")
			if (err != nil) != tc.wantErr {
				t.Fatalf("LatestTag() error = %v, wantErr = %v", err, tc.wantErr)
			}
			if tc.noRel && !errors.Is(err, ErrNoRelease) {
				t.Errorf("LatestTag() error = %v, want ErrNoRelease", err)
			}
			if got != tc.want {
				t.Errorf("LatestTag() = %q, want %q", got, tc.want)
			}
			if gotPath != "/repos/pages-themes/primer/releases/latest" {
				t.Errorf("request path = %q", gotPath)
			}
			if gotAuth != "token secret" {
				t.Errorf("Authorization = %q, want %q", gotAuth, "token secret")
			}
		})
	}
}

func TestLatestTagUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	l := NewGitHubLookup(WithBaseURL(base))
	if _, err := l.LatestTag(context.Background(), "https", "github.com", "foo", "bar"); err == nil {
		t.Fatal("expected error for closed server")
	}
}

func TestAPIBase(t *testing.T) {
	tests := map[string]struct {
		scheme string
		host   string
		want   string
	}{
		"github.com": {
			scheme: "https",
			host:   "github.com",
			want:   "https://api.github.com",
		},
		"enterprise": {
			scheme: "https",
			host:   "ghe.example.com",
			want:   "https://ghe.example.com/api/v3",
		},
		"enterprise over http": {
			scheme: "http",
			host:   "ghe.internal:8080",
			want:   "http://ghe.internal:8080/api/v3",
		},
		"missing scheme": {
			host: "ghe.example.com",
			want: "https://ghe.example.com/api/v3",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			got := NewGitHubLookup().APIBase(tc.scheme, tc.host)
			if got != tc.want {
				t.Errorf("APIBase(%q, %q) = %q, want %q", tc.scheme, tc.host, got, tc.want)
			}
		})
	}
}
