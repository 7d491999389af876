package launcher

import (
	"context"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"

	"github.com/caedis/gamelauncher/internal/config"
	"github.com/caedis/gamelauncher/internal/diff"
	"github.com/caedis/gamelauncher/internal/install"
	"github.com/caedis/gamelauncher/internal/manifest"
	"github.com/caedis/gamelauncher/internal/migrate"
	"github.com/caedis/gamelauncher/internal/patch"
	"github.com/caedis/gamelauncher/internal/wine"
)

const indexTTL = 5 * time.Minute

// LocalSources answers resolver questions from the filesystem and the remote
// indexes. Fetched indexes are cached for a few minutes.
type LocalSources struct {
	fs      afero.Fs
	dataDir string
	client  *http.Client
	clock   clockwork.Clock

	mu       sync.Mutex
	game     *manifest.Index
	gameURL  string
	gameAt   time.Time
	patches  *patch.Index
	patchURL string
	patchAt  time.Time
}

func NewLocalSources(fsys afero.Fs, dataDir string, client *http.Client, clock clockwork.Clock) *LocalSources {
	if client == nil {
		client = http.DefaultClient
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &LocalSources{fs: fsys, dataDir: dataDir, client: client, clock: clock}
}

// Invalidate drops cached indexes so the next resolution refetches them.
func (s *LocalSources) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.game, s.patches = nil, nil
}

// GameIndex returns the remote version index for cfg.
func (s *LocalSources) GameIndex(ctx context.Context, cfg config.Config) (*manifest.Index, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	url := cfg.Components.IndexURL
	if s.game != nil && s.gameURL == url && s.clock.Since(s.gameAt) < indexTTL {
		return s.game, nil
	}
	idx, err := manifest.Fetch(ctx, s.client, url)
	if err != nil {
		return nil, err
	}
	s.game, s.gameURL, s.gameAt = idx, url, s.clock.Now()
	return idx, nil
}

func (s *LocalSources) patchIndex(ctx context.Context, cfg config.Config) (*patch.Index, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	url := cfg.Patch.IndexURL
	if s.patches != nil && s.patchURL == url && s.clock.Since(s.patchAt) < indexTTL {
		return s.patches, nil
	}
	idx, err := patch.FetchIndex(ctx, s.client, url)
	if err != nil {
		return nil, err
	}
	s.patches, s.patchURL, s.patchAt = idx, url, s.clock.Now()
	return idx, nil
}

func (s *LocalSources) LegacyLayout(_ context.Context, cfg config.Config) (*migrate.Legacy, error) {
	return migrate.Detect(s.fs, cfg, s.dataDir)
}

func (s *LocalSources) SelectedRuntime(_ context.Context, cfg config.Config) (*wine.Runtime, error) {
	return wine.Selected(s.fs, cfg.Game.Wine.Builds, cfg.Game.Wine.Selected)
}

func (s *LocalSources) PrefixExists(_ context.Context, cfg config.Config, _ wine.Runtime) (bool, error) {
	return wine.PrefixExists(s.fs, cfg.Game.Wine.Prefix)
}

func (s *LocalSources) GameDiff(ctx context.Context, cfg config.Config) (diff.VersionDiff, error) {
	return s.targetDiff(ctx, cfg, diff.Game())
}

func (s *LocalSources) VoiceDiff(ctx context.Context, cfg config.Config, locale string) (diff.VersionDiff, error) {
	return s.targetDiff(ctx, cfg, diff.Voice(locale))
}

func (s *LocalSources) targetDiff(ctx context.Context, cfg config.Config, t diff.Target) (diff.VersionDiff, error) {
	idx, err := s.GameIndex(ctx, cfg)
	if err != nil {
		return nil, err
	}
	layout := install.NewLayout(s.fs, cfg.Game.Path, cfg.Launcher.Edition)
	installed, err := layout.InstalledVersion(t)
	if err != nil {
		return nil, err
	}
	tempDir := cfg.TempDir()
	return diff.Compute(diff.Input{
		Target:      t,
		Installed:   installed,
		Index:       idx.Game,
		InstallPath: cfg.Game.Path,
		Staged: func(name string, size int64) bool {
			return StagedBytes(s.fs, tempDir, name) == size && size > 0
		},
	})
}

func (s *LocalSources) PatchInfo(ctx context.Context, cfg config.Config, kind patch.Kind) (patch.Info, error) {
	game, err := s.GameIndex(ctx, cfg)
	if err != nil {
		return patch.Info{}, err
	}
	idx, err := s.patchIndex(ctx, cfg)
	if err != nil {
		return patch.Info{}, err
	}
	return idx.Info(kind, game.Game.Latest.Version)
}

func (s *LocalSources) IsPatchApplied(_ context.Context, cfg config.Config, info patch.Info) (bool, error) {
	return info.IsApplied(s.fs, cfg.Game.Path)
}

// StagedBytes is the size of the archive name already present in tempDir.
func StagedBytes(fsys afero.Fs, tempDir, name string) int64 {
	if name == "" {
		return 0
	}
	info, err := fsys.Stat(filepath.Join(tempDir, name))
	if err != nil {
		return 0
	}
	return info.Size()
}

// Resumable reports whether a download for d was started but not finished.
func Resumable(fsys afero.Fs, tempDir string, d diff.VersionDiff) bool {
	n := StagedBytes(fsys, tempDir, d.FileName())
	return n > 0 && (d.SizeEstimate() == 0 || n < d.SizeEstimate())
}
