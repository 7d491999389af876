// Package install probes and mutates a local game installation.
package install

import (
	"bufio"
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/caedis/gamelauncher/internal/config"
	"github.com/caedis/gamelauncher/internal/diff"
	"github.com/caedis/gamelauncher/internal/manifest"
	"github.com/caedis/gamelauncher/internal/semver"
)

const (
	versionFile = ".version"
	// DeleteListFile lists files an update removes, one relative path per line.
	DeleteListFile = "deletefiles.txt"
)

var voiceFolders = map[string]string{
	"en-us": "English(US)",
	"ja-jp": "Japanese",
	"ko-kr": "Korean",
	"zh-cn": "Chinese",
}

// Layout describes where a game installation keeps its files.
type Layout struct {
	fs      afero.Fs
	Root    string
	DataDir string
}

func NewLayout(fsys afero.Fs, root, edition string) Layout {
	data := "GenshinImpact_Data"
	if edition == config.EditionChina {
		data = "YuanShen_Data"
	}
	return Layout{fs: fsys, Root: root, DataDir: filepath.Join(root, data)}
}

// VoiceDir is the folder holding the voice pack for locale.
func (l Layout) VoiceDir(locale string) (string, error) {
	folder, ok := voiceFolders[locale]
	if !ok {
		return "", fmt.Errorf("unsupported voice locale %q", locale)
	}
	return filepath.Join(l.DataDir, "StreamingAssets", "AudioAssets", folder), nil
}

func (l Layout) markerPath(t diff.Target) (string, error) {
	if t.Kind == diff.TargetVoice {
		dir, err := l.VoiceDir(t.Locale)
		if err != nil {
			return "", err
		}
		return filepath.Join(dir, versionFile), nil
	}
	return filepath.Join(l.Root, versionFile), nil
}

// InstalledVersion reads the version marker of t. It returns nil when the
// artifact is not installed.
func (l Layout) InstalledVersion(t diff.Target) (*semver.Version, error) {
	p, err := l.markerPath(t)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(l.fs, p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s version: %w", t, err)
	}
	v, err := semver.ParseVersion(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("%s version marker: %w", t, err)
	}
	return &v, nil
}

// WriteVersion records v as the installed version of t.
func (l Layout) WriteVersion(t diff.Target, v semver.Version) error {
	p, err := l.markerPath(t)
	if err != nil {
		return err
	}
	if err := l.fs.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	if err := afero.WriteFile(l.fs, p, []byte(v.String()+"\n"), 0o644); err != nil {
		return fmt.Errorf("writing %s version: %w", t, err)
	}
	return nil
}

// RemoveVoice deletes the voice pack for locale.
func (l Layout) RemoveVoice(locale string) error {
	dir, err := l.VoiceDir(locale)
	if err != nil {
		return err
	}
	if err := l.fs.RemoveAll(dir); err != nil {
		return fmt.Errorf("removing voice %s: %w", locale, err)
	}
	return nil
}

// ApplyDeleteList removes the files named in the root's deletefiles.txt and
// then the list itself. A missing list is not an error.
func (l Layout) ApplyDeleteList() ([]string, error) {
	listPath := filepath.Join(l.Root, DeleteListFile)
	data, err := afero.ReadFile(l.fs, listPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", DeleteListFile, err)
	}

	var removed []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		rel := strings.TrimSpace(sc.Text())
		if rel == "" {
			continue
		}
		cleaned := filepath.Clean(filepath.FromSlash(rel))
		if filepath.IsAbs(cleaned) || strings.HasPrefix(cleaned, "..") {
			return removed, fmt.Errorf("%s: refusing to delete %q", DeleteListFile, rel)
		}
		if err := l.fs.Remove(filepath.Join(l.Root, cleaned)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("deleting %s: %w", rel, err)
		}
		removed = append(removed, rel)
	}
	if err := sc.Err(); err != nil {
		return removed, err
	}
	if err := l.fs.Remove(listPath); err != nil {
		return removed, fmt.Errorf("removing %s: %w", DeleteListFile, err)
	}
	return removed, nil
}

// Verify checks installed files against the integrity list and returns the
// entries that are missing or do not match.
func (l Layout) Verify(ctx context.Context, entries []manifest.IntegrityEntry, workers int, onProgress func(done, total int64)) ([]manifest.IntegrityEntry, error) {
	if workers < 1 {
		workers = 4
	}
	var (
		mu     sync.Mutex
		broken []manifest.IntegrityEntry
		done   int64
	)
	total := int64(len(entries))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, e := range entries {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			ok, err := l.matches(e)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			if !ok {
				broken = append(broken, e)
			}
			done++
			if onProgress != nil {
				onProgress(done, total)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return broken, nil
}

func (l Layout) matches(e manifest.IntegrityEntry) (bool, error) {
	f, err := l.fs.Open(filepath.Join(l.Root, filepath.FromSlash(e.Path)))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("opening %s: %w", e.Path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return false, err
	}
	if e.Size > 0 && info.Size() != e.Size {
		return false, nil
	}
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return false, fmt.Errorf("hashing %s: %w", e.Path, err)
	}
	return strings.EqualFold(hex.EncodeToString(h.Sum(nil)), e.MD5), nil
}
