package manifest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/caedis/gamelauncher/internal/semver"
)

const sampleIndex = `{
  "game": {
    "latest": {
      "version": "4.7.0",
      "archive": {"url": "https://cdn.test/GenshinImpact_4.7.0.zip", "size": 1000, "unpacked_size": 2000},
      "voices": [{"locale": "en-us", "archive": {"url": "https://cdn.test/Audio_English_4.7.0.zip", "size": 300}}],
      "diffs": [
        {
          "from": "4.6.0",
          "archive": {"url": "https://cdn.test/game_4.6.0_4.7.0_hdiff.zip", "size": 100},
          "voices": [{"locale": "en-us", "archive": {"url": "https://cdn.test/en-us_4.6.0_4.7.0_hdiff.zip", "size": 30}}]
        }
      ]
    },
    "predownload": {
      "version": "4.8.0",
      "archive": {"url": "https://cdn.test/GenshinImpact_4.8.0.zip", "size": 1100},
      "diffs": [{"from": "4.7.0", "archive": {"url": "https://cdn.test/game_4.7.0_4.8.0_hdiff.zip", "size": 110}}]
    }
  }
}`

func TestFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/game.json" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(sampleIndex))
	}))
	defer server.Close()

	idx, err := Fetch(context.Background(), server.Client(), server.URL+"/game.json")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if got := idx.Game.Latest.Version; got != semver.MustParseVersion("4.7.0") {
		t.Fatalf("latest version = %s", got)
	}
	if idx.Game.Predownload == nil || idx.Game.Predownload.Version.String() != "4.8.0" {
		t.Fatalf("unexpected predownload: %+v", idx.Game.Predownload)
	}

	d, ok := idx.Game.Latest.DiffFrom(semver.MustParseVersion("4.6.0"))
	if !ok || d.Archive.Size != 100 {
		t.Fatalf("DiffFrom(4.6.0) = %+v, %t", d, ok)
	}
	if _, ok := idx.Game.Latest.DiffFrom(semver.MustParseVersion("4.5.0")); ok {
		t.Fatalf("DiffFrom(4.5.0) should not exist")
	}

	voice, ok := Voice(d.Voices, "en-us")
	if !ok || voice.Size != 30 {
		t.Fatalf("Voice(en-us) = %+v, %t", voice, ok)
	}
}

func TestFetchHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	if _, err := Fetch(context.Background(), server.Client(), server.URL); err == nil {
		t.Fatalf("expected error for HTTP 502")
	}
}
