package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/caedis/gamelauncher/internal/semver"
)

// Index is the remote version index for one game edition.
type Index struct {
	Game GameIndex `json:"game"`
}

type GameIndex struct {
	Latest Release `json:"latest"`
	// Predownload announces the next version ahead of its release.
	Predownload *Release `json:"predownload,omitempty"`
}

type Release struct {
	Version semver.Version `json:"version"`
	Archive Archive        `json:"archive"`
	Voices  []VoiceArchive `json:"voices,omitempty"`
	// Diffs are incremental archives from older installed versions.
	Diffs []Diff `json:"diffs,omitempty"`
	// ResourcesURL is the base URL individual game files are served from.
	ResourcesURL string           `json:"resources_url,omitempty"`
	Integrity    []IntegrityEntry `json:"integrity,omitempty"`
}

type Diff struct {
	From    semver.Version `json:"from"`
	Archive Archive        `json:"archive"`
	Voices  []VoiceArchive `json:"voices,omitempty"`
}

type Archive struct {
	URL          string `json:"url"`
	Size         int64  `json:"size"`
	UnpackedSize int64  `json:"unpacked_size,omitempty"`
}

type VoiceArchive struct {
	Locale  string  `json:"locale"`
	Archive Archive `json:"archive"`
}

// IntegrityEntry describes one installed file for repair.
type IntegrityEntry struct {
	Path string `json:"path"`
	MD5  string `json:"md5"`
	Size int64  `json:"size"`
}

// Voice returns the archive for locale, if the release ships one.
func Voice(voices []VoiceArchive, locale string) (Archive, bool) {
	for _, v := range voices {
		if v.Locale == locale {
			return v.Archive, true
		}
	}
	return Archive{}, false
}

// DiffFrom returns the incremental diff starting at version v.
func (r Release) DiffFrom(v semver.Version) (Diff, bool) {
	for _, d := range r.Diffs {
		if d.From == v {
			return d, true
		}
	}
	return Diff{}, false
}

// Fetch downloads and parses the version index.
func Fetch(ctx context.Context, client *http.Client, url string) (*Index, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching version index: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching version index: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading version index: %w", err)
	}

	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("parsing version index: %w", err)
	}

	return &idx, nil
}
