package patch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/caedis/gamelauncher/internal/semver"
)

type Kind string

const (
	UnityPlayer Kind = "unity_player"
	Xlua        Kind = "xlua"
)

// Status describes whether a patch can be applied to the current game build.
type Status interface {
	status() string
}

type NotAvailable struct{}

// Outdated means the patch only supports an older game build.
type Outdated struct {
	Current semver.Version `json:"current"`
}

// Preparation means the patch is being ported to a new game build.
type Preparation struct{}

type Testing struct {
	Version semver.Version `json:"version"`
}

type Available struct {
	Version semver.Version `json:"version"`
}

func (NotAvailable) status() string { return "not_available" }
func (Outdated) status() string     { return "outdated" }
func (Preparation) status() string  { return "preparation" }
func (Testing) status() string      { return "testing" }
func (Available) status() string    { return "available" }

// StatusName returns the lowercase name of s.
func StatusName(s Status) string { return s.status() }

// Actionable reports whether the user may apply a patch with status s.
func Actionable(s Status) bool {
	switch s.(type) {
	case Testing, Available:
		return true
	case NotAvailable, Outdated, Preparation:
		return false
	default:
		panic(fmt.Sprintf("patch: unknown status %T", s))
	}
}

// Blocking reports whether status s prevents launching with a mandatory patch.
func Blocking(s Status) bool {
	switch s.(type) {
	case Outdated, Preparation:
		return true
	case NotAvailable, Testing, Available:
		return false
	default:
		panic(fmt.Sprintf("patch: unknown status %T", s))
	}
}

// Info is the state of one patch for the configured game.
type Info struct {
	Kind     Kind
	Status   Status
	Revision string
	URL      string
	Size     int64
}

// MarkerName is the file written into the game folder once a patch is applied.
func MarkerName(k Kind) string { return ".patch-" + string(k) }

// IsApplied compares the on-disk marker in installPath with the patch revision.
func (i Info) IsApplied(fsys afero.Fs, installPath string) (bool, error) {
	data, err := afero.ReadFile(fsys, filepath.Join(installPath, MarkerName(i.Kind)))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading %s patch marker: %w", i.Kind, err)
	}
	return i.Revision != "" && strings.TrimSpace(string(data)) == i.Revision, nil
}

type infoJSON struct {
	Kind     Kind            `json:"kind"`
	Status   string          `json:"status"`
	Version  *semver.Version `json:"version,omitempty"`
	Revision string          `json:"revision,omitempty"`
	URL      string          `json:"url,omitempty"`
	Size     int64           `json:"size,omitempty"`
}

func (i Info) MarshalJSON() ([]byte, error) {
	if i.Status == nil {
		i.Status = NotAvailable{}
	}
	out := infoJSON{Kind: i.Kind, Status: i.Status.status(), Revision: i.Revision, URL: i.URL, Size: i.Size}
	switch s := i.Status.(type) {
	case Outdated:
		out.Version = &s.Current
	case Testing:
		out.Version = &s.Version
	case Available:
		out.Version = &s.Version
	}
	return json.Marshal(out)
}

func (i *Info) UnmarshalJSON(data []byte) error {
	var in infoJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	var v semver.Version
	if in.Version != nil {
		v = *in.Version
	}
	status, err := parseStatus(in.Status, v)
	if err != nil {
		return err
	}
	*i = Info{Kind: in.Kind, Status: status, Revision: in.Revision, URL: in.URL, Size: in.Size}
	return nil
}

func parseStatus(name string, v semver.Version) (Status, error) {
	switch name {
	case "not_available", "":
		return NotAvailable{}, nil
	case "outdated":
		return Outdated{Current: v}, nil
	case "preparation":
		return Preparation{}, nil
	case "testing":
		return Testing{Version: v}, nil
	case "available", "stable":
		return Available{Version: v}, nil
	default:
		return nil, fmt.Errorf("unknown patch status %q", name)
	}
}

// Entry is one patch as published in the patch index.
type Entry struct {
	// GameVersion is the game build the patch was made for.
	GameVersion semver.Version `json:"game_version"`
	Status      string         `json:"status"`
	Revision    string         `json:"revision"`
	URL         string         `json:"url"`
	Size        int64          `json:"size,omitempty"`
}

type Index struct {
	UnityPlayer *Entry `json:"unity_player,omitempty"`
	Xlua        *Entry `json:"xlua,omitempty"`
}

// Info derives the patch state for a game whose latest build is gameVersion.
func (idx *Index) Info(kind Kind, gameVersion semver.Version) (Info, error) {
	var e *Entry
	switch kind {
	case UnityPlayer:
		e = idx.UnityPlayer
	case Xlua:
		e = idx.Xlua
	default:
		return Info{}, fmt.Errorf("unknown patch kind %q", kind)
	}

	info := Info{Kind: kind, Status: NotAvailable{}}
	if e == nil {
		return info, nil
	}
	info.Revision, info.URL, info.Size = e.Revision, e.URL, e.Size

	if e.Status == "preparation" {
		info.Status = Preparation{}
		return info, nil
	}
	if e.GameVersion.Compare(gameVersion) < 0 {
		info.Status = Outdated{Current: e.GameVersion}
		return info, nil
	}
	status, err := parseStatus(e.Status, e.GameVersion)
	if err != nil {
		return Info{}, fmt.Errorf("%s: %w", kind, err)
	}
	info.Status = status
	return info, nil
}

// FetchIndex downloads and parses the patch index.
func FetchIndex(ctx context.Context, client *http.Client, url string) (*Index, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching patch index: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching patch index: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading patch index: %w", err)
	}

	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("parsing patch index: %w", err)
	}
	return &idx, nil
}
