package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/caedis/gamelauncher/internal/semver"
)

// Release is the subset of GitHub's release API response we need.
type Release struct {
	TagName    string         `json:"tag_name"`
	Prerelease bool           `json:"prerelease"`
	Assets     []ReleaseAsset `json:"assets"`
}

// ReleaseAsset represents a downloadable file attached to a GitHub release.
type ReleaseAsset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
	Size               int64  `json:"size"`
}

// LatestResult holds the result of a GitHub latest-release lookup.
type LatestResult struct {
	Version  string
	Filename string
	URL      string
	Size     int64
}

const (
	releasesPerPage = 25
	runtimeExt      = ".tar.xz"
)

var githubHTTPClient = http.DefaultClient

// PickRuntimeArchive selects the runtime build archive from a release's assets.
// Checksum files and other architectures are skipped; when several archives
// remain, the one naming the tag wins.
func PickRuntimeArchive(releaseAssets []ReleaseAsset, tag string) *ReleaseAsset {
	tag = strings.ToLower(strings.TrimSpace(tag))

	var archives []*ReleaseAsset
	for i, asset := range releaseAssets {
		name := strings.ToLower(strings.TrimSpace(asset.Name))
		if !strings.HasSuffix(name, runtimeExt) {
			continue
		}
		if strings.Contains(name, "i686") || strings.Contains(name, "aarch64") {
			continue
		}
		if tag != "" && strings.Contains(name, tag) {
			return &releaseAssets[i]
		}
		archives = append(archives, &releaseAssets[i])
	}

	// Only fall back if there's exactly one archive (no ambiguity)
	if len(archives) == 1 {
		return archives[0]
	}
	return nil
}

// FetchLatestRelease fetches recent releases from a GitHub repo and returns
// the highest non-prerelease that ships a runtime archive. token may be empty.
func FetchLatestRelease(ctx context.Context, repo, token string) (*LatestResult, error) {
	apiURL := fmt.Sprintf("https://api.github.com/repos/%s/releases?per_page=%d", repo, releasesPerPage)
	releases, err := fetchReleases(ctx, apiURL, token)
	if err != nil {
		return nil, err
	}

	best, err := selectLatestResult(releases)
	if err != nil {
		return nil, fmt.Errorf("repo %s: %w", repo, err)
	}
	return best, nil
}

func fetchReleases(ctx context.Context, apiURL, token string) ([]Release, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if token != "" {
		req.Header.Set("Authorization", "token "+token)
	}

	resp, err := githubHTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	var releases []Release
	if err := json.NewDecoder(resp.Body).Decode(&releases); err != nil {
		return nil, err
	}
	return releases, nil
}

func selectLatestResult(releases []Release) (*LatestResult, error) {
	var best *LatestResult
	for _, rel := range releases {
		tag := strings.TrimSpace(rel.TagName)
		if tag == "" || rel.Prerelease || isPreReleaseTag(tag) {
			continue
		}
		if best != nil && semver.CompareTags(tag, best.Version) <= 0 {
			continue
		}
		asset := PickRuntimeArchive(rel.Assets, tag)
		if asset == nil {
			continue
		}

		downloadURL := strings.TrimSpace(asset.BrowserDownloadURL)
		if downloadURL == "" {
			continue
		}

		best = &LatestResult{
			Version:  tag,
			Filename: strings.TrimSpace(asset.Name),
			URL:      downloadURL,
			Size:     asset.Size,
		}
	}

	if best == nil {
		return nil, fmt.Errorf("no non-prerelease with %s asset found", runtimeExt)
	}
	return best, nil
}

func isPreReleaseTag(tag string) bool {
	tag = strings.ToLower(strings.TrimSpace(tag))
	return strings.HasSuffix(tag, "-pre") || strings.Contains(tag, "-rc")
}
