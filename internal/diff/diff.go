package diff

import (
	"encoding/json"
	"fmt"
	"path"

	"github.com/caedis/gamelauncher/internal/manifest"
	"github.com/caedis/gamelauncher/internal/semver"
)

type TargetKind string

const (
	TargetGame  TargetKind = "game"
	TargetVoice TargetKind = "voice"
)

// Target identifies the artifact a diff describes.
type Target struct {
	Kind   TargetKind `json:"kind"`
	Locale string     `json:"locale,omitempty"`
}

func Game() Target { return Target{Kind: TargetGame} }

func Voice(locale string) Target { return Target{Kind: TargetVoice, Locale: locale} }

func (t Target) String() string {
	if t.Kind == TargetVoice {
		return "voice " + t.Locale
	}
	return string(t.Kind)
}

type Archive struct {
	URL            string `json:"url"`
	DownloadedSize int64  `json:"downloaded_size"`
	UnpackedSize   int64  `json:"unpacked_size,omitempty"`
}

// Meta is shared by every diff variant.
type Meta struct {
	Target      Target  `json:"target"`
	Archive     Archive `json:"archive"`
	InstallPath string  `json:"install_path"`
}

func (m Meta) meta() Meta { return m }

// FileName is the name the archive is staged under in the temp folder.
// It doubles as the resume marker.
func (m Meta) FileName() string {
	if m.Archive.URL == "" {
		return ""
	}
	return path.Base(m.Archive.URL)
}

func (m Meta) SizeEstimate() int64 { return m.Archive.DownloadedSize }

// VersionDiff relates an installed artifact to the remote index.
type VersionDiff interface {
	meta() Meta
	FileName() string
	SizeEstimate() int64
}

type Latest struct {
	Meta
	Current semver.Version
}

type Predownload struct {
	Meta
	Current semver.Version
	Latest  semver.Version
}

type Diff struct {
	Meta
	Current semver.Version
	Latest  semver.Version
}

type Outdated struct {
	Meta
	Current semver.Version
	Latest  semver.Version
}

type NotInstalled struct {
	Meta
	Latest semver.Version
}

// MetaOf returns the shared metadata of d.
func MetaOf(d VersionDiff) Meta { return d.meta() }

// Kind returns the lowercase variant name of d.
func Kind(d VersionDiff) string {
	switch d.(type) {
	case *Latest:
		return "latest"
	case *Predownload:
		return "predownload"
	case *Diff:
		return "diff"
	case *Outdated:
		return "outdated"
	case *NotInstalled:
		return "not_installed"
	default:
		panic(fmt.Sprintf("diff: unknown variant %T", d))
	}
}

// StagedFunc reports whether an archive of the given name is fully present
// in the temp folder.
type StagedFunc func(fileName string, size int64) bool

// Input gathers what Compute needs for one target.
type Input struct {
	Target      Target
	Installed   *semver.Version
	Index       manifest.GameIndex
	InstallPath string
	Staged      StagedFunc
}

// Compute classifies the installed version of a target against the index.
func Compute(in Input) (VersionDiff, error) {
	latest := in.Index.Latest
	meta := Meta{Target: in.Target, InstallPath: in.InstallPath}

	if in.Installed == nil {
		a, ok := pick(in.Target, latest.Archive, latest.Voices)
		if !ok {
			return nil, fmt.Errorf("index has no %s archive for %s", in.Target, latest.Version)
		}
		meta.Archive = a
		return &NotInstalled{Meta: meta, Latest: latest.Version}, nil
	}
	current := *in.Installed

	if current.Compare(latest.Version) >= 0 {
		if pre := in.Index.Predownload; pre != nil {
			if d, ok := pre.DiffFrom(current); ok {
				if a, ok := pick(in.Target, d.Archive, d.Voices); ok {
					meta.Archive = a
					if in.Staged == nil || !in.Staged(meta.FileName(), a.DownloadedSize) {
						return &Predownload{Meta: meta, Current: current, Latest: pre.Version}, nil
					}
				}
			}
		}
		return &Latest{Meta: Meta{Target: in.Target, InstallPath: in.InstallPath}, Current: current}, nil
	}

	if d, ok := latest.DiffFrom(current); ok {
		if a, ok := pick(in.Target, d.Archive, d.Voices); ok {
			meta.Archive = a
			return &Diff{Meta: meta, Current: current, Latest: latest.Version}, nil
		}
	}
	return &Outdated{Meta: meta, Current: current, Latest: latest.Version}, nil
}

func pick(t Target, game manifest.Archive, voices []manifest.VoiceArchive) (Archive, bool) {
	a := game
	if t.Kind == TargetVoice {
		var ok bool
		if a, ok = manifest.Voice(voices, t.Locale); !ok {
			return Archive{}, false
		}
	}
	if a.URL == "" {
		return Archive{}, false
	}
	return Archive{URL: a.URL, DownloadedSize: a.Size, UnpackedSize: a.UnpackedSize}, true
}

type record struct {
	Kind    string          `json:"kind"`
	Meta    Meta            `json:"meta"`
	Current *semver.Version `json:"current,omitempty"`
	Latest  *semver.Version `json:"latest,omitempty"`
}

// Encode renders d as JSON with a kind discriminator.
func Encode(d VersionDiff) ([]byte, error) {
	r := record{Kind: Kind(d), Meta: d.meta()}
	switch v := d.(type) {
	case *Latest:
		r.Current = &v.Current
	case *Predownload:
		r.Current, r.Latest = &v.Current, &v.Latest
	case *Diff:
		r.Current, r.Latest = &v.Current, &v.Latest
	case *Outdated:
		r.Current, r.Latest = &v.Current, &v.Latest
	case *NotInstalled:
		r.Latest = &v.Latest
	}
	return json.Marshal(r)
}

// Decode parses output of Encode.
func Decode(data []byte) (VersionDiff, error) {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parsing version diff: %w", err)
	}
	var cur, lat semver.Version
	if r.Current != nil {
		cur = *r.Current
	}
	if r.Latest != nil {
		lat = *r.Latest
	}
	switch r.Kind {
	case "latest":
		return &Latest{Meta: r.Meta, Current: cur}, nil
	case "predownload":
		return &Predownload{Meta: r.Meta, Current: cur, Latest: lat}, nil
	case "diff":
		return &Diff{Meta: r.Meta, Current: cur, Latest: lat}, nil
	case "outdated":
		return &Outdated{Meta: r.Meta, Current: cur, Latest: lat}, nil
	case "not_installed":
		return &NotInstalled{Meta: r.Meta, Latest: lat}, nil
	default:
		return nil, fmt.Errorf("unknown version diff kind %q", r.Kind)
	}
}
