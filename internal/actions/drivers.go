package actions

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/caedis/gamelauncher/internal/archive"
	"github.com/caedis/gamelauncher/internal/config"
	"github.com/caedis/gamelauncher/internal/diff"
	"github.com/caedis/gamelauncher/internal/downloader"
	"github.com/caedis/gamelauncher/internal/install"
	"github.com/caedis/gamelauncher/internal/launcher"
	"github.com/caedis/gamelauncher/internal/migrate"
	"github.com/caedis/gamelauncher/internal/patch"
	"github.com/caedis/gamelauncher/internal/progress"
	"github.com/caedis/gamelauncher/internal/semver"
	"github.com/caedis/gamelauncher/internal/wine"
)

func (d *Dispatcher) config() config.Config {
	return d.deps.Config.GetOrDefault()
}

func (d *Dispatcher) runtime(cfg config.Config) (wine.Runtime, error) {
	rt, err := wine.Selected(d.deps.FS, cfg.Game.Wine.Builds, cfg.Game.Wine.Selected)
	if err != nil {
		return wine.Runtime{}, err
	}
	if rt == nil {
		return wine.Runtime{}, fmt.Errorf("no runtime selected")
	}
	return *rt, nil
}

func (d *Dispatcher) launch(ctx context.Context, sink progress.Sink) error {
	cfg := d.config()
	rt, err := d.runtime(cfg)
	if err != nil {
		return err
	}
	sink.Update(0, 0)
	return d.deps.Exec.Run(ctx, wine.Command{
		Runtime: rt,
		Prefix:  cfg.Game.Wine.Prefix,
		Args:    []string{cfg.GameExecutable()},
		Dir:     cfg.Game.Path,
	})
}

func (d *Dispatcher) migrate(ctx context.Context, st launcher.FolderMigrationRequired, sink progress.Sink) error {
	l := migrate.Legacy{From: st.From, To: st.To, CleanupFolder: st.CleanupFolder}
	if err := migrate.Move(ctx, d.deps.FS, l, sink.Update); err != nil {
		return fmt.Errorf("moving game folder: %w", err)
	}
	return nil
}

func (d *Dispatcher) createPrefix(ctx context.Context, sink progress.Sink) error {
	cfg := d.config()
	rt, err := d.runtime(cfg)
	if err != nil {
		return err
	}
	if err := d.deps.FS.MkdirAll(cfg.Game.Wine.Prefix, 0o755); err != nil {
		return fmt.Errorf("creating prefix folder: %w", err)
	}
	sink.Update(0, 0)
	if err := wine.InitPrefix(ctx, d.deps.Exec, rt, cfg.Game.Wine.Prefix); err != nil {
		return fmt.Errorf("creating prefix: %w", err)
	}
	return nil
}

func (d *Dispatcher) downloadRuntime(ctx context.Context, sink progress.Sink) error {
	cfg := d.config()
	sink.Update(0, 0)
	rel, err := d.deps.LatestRuntime(ctx, cfg.Components.WineRepo)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Offline: fall back to the newest build already unpacked.
		if rt, ok := d.newestInstalledRuntime(cfg); ok {
			d.deps.Log.Warn().Err(err).Str("runtime", rt.Name).Msg("runtime lookup failed, selecting installed build")
			return d.selectRuntime(rt.Name)
		}
		return fmt.Errorf("looking up runtime release: %w", err)
	}

	staged := filepath.Join(cfg.TempDir(), rel.Filename)
	if err := d.dl.Fetch(ctx, rel.URL, staged, rel.Size, sink.Update); err != nil {
		return err
	}
	name, err := archive.ExtractTarXz(ctx, d.deps.FS, staged, cfg.Game.Wine.Builds, sink.Update)
	if err != nil {
		return fmt.Errorf("unpacking %s: %w", rel.Filename, err)
	}
	rt, err := wine.Selected(d.deps.FS, cfg.Game.Wine.Builds, name)
	if err != nil {
		return err
	}
	if rt == nil {
		return fmt.Errorf("%s does not contain a runtime build", rel.Filename)
	}

	if err := d.selectRuntime(name); err != nil {
		return err
	}
	removeStaged(d.deps.FS, staged)
	return nil
}

func (d *Dispatcher) selectRuntime(name string) error {
	cfg := d.config()
	cfg.Game.Wine.Selected = name
	if err := d.deps.Config.UpdateRaw(cfg); err != nil {
		return fmt.Errorf("selecting runtime %s: %w", name, err)
	}
	return nil
}

func (d *Dispatcher) newestInstalledRuntime(cfg config.Config) (wine.Runtime, bool) {
	builds, err := wine.Installed(d.deps.FS, cfg.Game.Wine.Builds)
	if err != nil || len(builds) == 0 {
		return wine.Runtime{}, false
	}
	newest := builds[0]
	for _, b := range builds[1:] {
		if semver.CompareTags(b.Name, newest.Name) > 0 {
			newest = b
		}
	}
	return newest, true
}

// installDiff downloads the archive of m, unpacks it over the install
// folder and records latest as the installed version.
func (d *Dispatcher) installDiff(m diff.Meta, latest semver.Version) driver {
	return func(ctx context.Context, sink progress.Sink) error {
		cfg := d.config()
		if m.FileName() == "" {
			return fmt.Errorf("%s: index has no archive", m.Target)
		}
		staged := filepath.Join(cfg.TempDir(), m.FileName())
		if err := d.dl.Fetch(ctx, m.Archive.URL, staged, m.SizeEstimate(), sink.Update); err != nil {
			return err
		}
		if err := archive.ExtractZip(ctx, d.deps.FS, staged, m.InstallPath, sink.Update); err != nil {
			return fmt.Errorf("unpacking %s: %w", m.FileName(), err)
		}

		layout := install.NewLayout(d.deps.FS, m.InstallPath, cfg.Launcher.Edition)
		removed, err := layout.ApplyDeleteList()
		if err != nil {
			return err
		}
		if len(removed) > 0 {
			d.deps.Log.Debug().Int("files", len(removed)).Msg("removed files dropped by update")
		}
		if err := layout.WriteVersion(m.Target, latest); err != nil {
			return err
		}
		removeStaged(d.deps.FS, staged)
		return nil
	}
}

func (d *Dispatcher) predownload(ctx context.Context, st launcher.PredownloadAvailable, sink progress.Sink) error {
	cfg := d.config()
	items := st.Voices
	if st.Game != nil {
		items = append([]*diff.Predownload{st.Game}, st.Voices...)
	}
	for _, p := range items {
		staged := filepath.Join(cfg.TempDir(), p.FileName())
		if err := d.dl.Fetch(ctx, p.Archive.URL, staged, p.SizeEstimate(), sink.Update); err != nil {
			return fmt.Errorf("predownloading %s: %w", p.Target, err)
		}
	}
	return nil
}

func (d *Dispatcher) applyPatch(ctx context.Context, info patch.Info, sink progress.Sink) error {
	cfg := d.config()
	if info.URL == "" {
		return fmt.Errorf("%s patch has no download", info.Kind)
	}
	staged := filepath.Join(cfg.TempDir(), filepath.Base(info.URL))
	if err := d.dl.Fetch(ctx, info.URL, staged, info.Size, sink.Update); err != nil {
		return err
	}
	if err := archive.ExtractZip(ctx, d.deps.FS, staged, cfg.Game.Path, sink.Update); err != nil {
		return fmt.Errorf("applying %s patch: %w", info.Kind, err)
	}
	// The marker goes last so an interrupted apply is retried.
	marker := filepath.Join(cfg.Game.Path, patch.MarkerName(info.Kind))
	if err := afero.WriteFile(d.deps.FS, marker, []byte(info.Revision+"\n"), 0o644); err != nil {
		return fmt.Errorf("writing %s patch marker: %w", info.Kind, err)
	}
	removeStaged(d.deps.FS, staged)
	return nil
}

func (d *Dispatcher) repair(ctx context.Context, sink progress.Sink) error {
	cfg := d.config()
	sink.Update(0, 0)
	idx, err := d.deps.GameIndex(ctx, cfg)
	if err != nil {
		return err
	}
	rel := idx.Game.Latest
	if len(rel.Integrity) == 0 || rel.ResourcesURL == "" {
		return fmt.Errorf("index has no integrity data for %s", rel.Version)
	}

	layout := install.NewLayout(d.deps.FS, cfg.Game.Path, cfg.Launcher.Edition)
	broken, err := layout.Verify(ctx, rel.Integrity, 4, sink.Update)
	if err != nil {
		return fmt.Errorf("verifying files: %w", err)
	}
	d.deps.Log.Info().Int("checked", len(rel.Integrity)).Int("broken", len(broken)).Msg("verified game files")
	if len(broken) == 0 {
		return nil
	}

	base := strings.TrimSuffix(rel.ResourcesURL, "/")
	downloads := make([]downloader.Download, 0, len(broken))
	for _, e := range broken {
		downloads = append(downloads, downloader.Download{
			URL:  base + "/" + strings.TrimPrefix(e.Path, "/"),
			Path: filepath.Join(cfg.Game.Path, filepath.FromSlash(e.Path)),
			Size: e.Size,
		})
	}
	for _, dl := range downloads {
		if err := d.deps.FS.MkdirAll(filepath.Dir(dl.Path), 0o755); err != nil {
			return err
		}
	}

	results := d.dl.Run(ctx, downloads, 4, func(p downloader.Progress) {
		sink.Update(p.Completed, p.Total)
	})
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Download.Path, r.Err))
		}
	}
	return errors.Join(errs...)
}

// removeStaged drops an installed archive. A leftover only costs disk space.
func removeStaged(fsys afero.Fs, path string) {
	_ = fsys.Remove(path)
}
