package github

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func TestPickRuntimeArchive(t *testing.T) {
	t.Run("matches tag in archive name", func(t *testing.T) {
		assets := []ReleaseAsset{
			{Name: "wine-lutris-GE-Proton8-26-x86_64.tar.xz.sha512sum"},
			{Name: "wine-lutris-GE-Proton8-25-x86_64.tar.xz"},
			{Name: "wine-lutris-GE-Proton8-26-x86_64.tar.xz"},
		}
		got := PickRuntimeArchive(assets, "GE-Proton8-26")
		if got == nil || got.Name != "wine-lutris-GE-Proton8-26-x86_64.tar.xz" {
			t.Fatalf("PickRuntimeArchive=%v, want the 8-26 archive", got)
		}
	})

	t.Run("skips other architectures", func(t *testing.T) {
		assets := []ReleaseAsset{
			{Name: "wine-GE-8-i686.tar.xz"},
			{Name: "wine-GE-8-x86_64.tar.xz"},
		}
		got := PickRuntimeArchive(assets, "unrelated")
		if got == nil || got.Name != "wine-GE-8-x86_64.tar.xz" {
			t.Fatalf("PickRuntimeArchive=%v, want x86_64 archive", got)
		}
	})

	t.Run("ambiguous multiple archives returns nil", func(t *testing.T) {
		assets := []ReleaseAsset{
			{Name: "a.tar.xz"},
			{Name: "b.tar.xz"},
		}
		if got := PickRuntimeArchive(assets, "1.0.0"); got != nil {
			t.Fatalf("PickRuntimeArchive should be nil for ambiguous archives, got %v", got)
		}
	})
}

func TestSelectLatestResult(t *testing.T) {
	releases := []Release{
		{
			TagName: "GE-Proton8-9",
			Assets: []ReleaseAsset{
				{Name: "wine-lutris-GE-Proton8-9-x86_64.tar.xz", BrowserDownloadURL: "https://example.test/8-9.tar.xz", Size: 10},
			},
		},
		{
			TagName:    "GE-Proton9-1",
			Prerelease: true,
			Assets: []ReleaseAsset{
				{Name: "wine-lutris-GE-Proton9-1-x86_64.tar.xz", BrowserDownloadURL: "https://example.test/9-1.tar.xz"},
			},
		},
		{
			TagName: "GE-Proton8-26",
			Assets: []ReleaseAsset{
				{Name: "wine-lutris-GE-Proton8-26-x86_64.tar.xz", BrowserDownloadURL: "https://example.test/8-26.tar.xz", Size: 20},
			},
		},
		{
			TagName: "GE-Proton8-30",
			Assets:  []ReleaseAsset{{Name: "sources.zip"}},
		},
	}

	got, err := selectLatestResult(releases)
	if err != nil {
		t.Fatalf("selectLatestResult failed: %v", err)
	}
	if got.Version != "GE-Proton8-26" {
		t.Fatalf("version=%q want=GE-Proton8-26", got.Version)
	}
	if got.URL != "https://example.test/8-26.tar.xz" || got.Size != 20 {
		t.Fatalf("unexpected result %+v", got)
	}
}

func TestSelectLatestResultNoArchive(t *testing.T) {
	_, err := selectLatestResult([]Release{{TagName: "1.0", Assets: []ReleaseAsset{{Name: "x.zip"}}}})
	if err == nil {
		t.Fatalf("expected error when no release carries an archive")
	}
}

func TestFetchLatestRelease(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/owner/repo/releases" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("per_page"); got != "25" {
			t.Errorf("unexpected per_page query: %s", got)
		}
		if got := r.Header.Get("Authorization"); got != "token test-token" {
			t.Errorf("unexpected Authorization header: %q", got)
		}

		releases := []Release{
			{
				TagName: "GE-Proton8-26",
				Assets: []ReleaseAsset{
					{
						Name:               "wine-lutris-GE-Proton8-26-x86_64.tar.xz",
						BrowserDownloadURL: "https://example.test/runtime.tar.xz",
						Size:               42,
					},
				},
			},
		}
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(releases); err != nil {
			t.Errorf("encoding response: %v", err)
		}
	}))
	defer server.Close()

	parsed, err := url.Parse(server.URL)
	if err != nil {
		t.Fatalf("url.Parse failed: %v", err)
	}

	oldClient := githubHTTPClient
	githubHTTPClient = &http.Client{
		Transport: &rewriteHostTransport{
			host: parsed.Host,
			rt:   server.Client().Transport,
		},
	}
	t.Cleanup(func() { githubHTTPClient = oldClient })

	got, err := FetchLatestRelease(context.Background(), "owner/repo", "test-token")
	if err != nil {
		t.Fatalf("FetchLatestRelease failed: %v", err)
	}
	if got.Version != "GE-Proton8-26" {
		t.Fatalf("version=%q want=GE-Proton8-26", got.Version)
	}
	if got.Filename != "wine-lutris-GE-Proton8-26-x86_64.tar.xz" {
		t.Fatalf("filename=%q", got.Filename)
	}
}

type rewriteHostTransport struct {
	host string
	rt   http.RoundTripper
}

func (t *rewriteHostTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	cloned := req.Clone(req.Context())
	cloned.URL.Scheme = "http"
	cloned.URL.Host = t.host
	return t.rt.RoundTrip(cloned)
}
