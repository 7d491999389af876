// Package migrate relocates installations left in the old default layout.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/caedis/gamelauncher/internal/config"
	"github.com/caedis/gamelauncher/internal/logging"
)

// Legacy describes a game folder that has to move before anything else runs.
type Legacy struct {
	From string `json:"from"`
	To   string `json:"to"`
	// CleanupFolder is removed after a successful move. Empty means none.
	CleanupFolder string `json:"cleanup_folder,omitempty"`
}

// LegacyGameDir is where old releases installed the game, inside a prefix
// that lived in the data folder.
func LegacyGameDir(dataDir string) string {
	return filepath.Join(dataDir, "game", "drive_c", "Program Files", "Genshin Impact")
}

// Detect returns the pending migration, or nil when the old layout is absent.
func Detect(fsys afero.Fs, cfg config.Config, dataDir string) (*Legacy, error) {
	from := LegacyGameDir(dataDir)
	info, err := fsys.Stat(from)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("checking legacy layout: %w", err)
	}
	if !info.IsDir() || filepath.Clean(from) == filepath.Clean(cfg.Game.Path) {
		return nil, nil
	}

	l := &Legacy{From: from, To: cfg.Game.Path}
	oldPrefix := filepath.Join(dataDir, "game")
	if filepath.Clean(oldPrefix) != filepath.Clean(cfg.Game.Wine.Prefix) {
		l.CleanupFolder = oldPrefix
	}
	return l, nil
}

// Move relocates l.From to l.To. It renames when possible and otherwise
// copies, verifies the copy, and only then deletes the source. On failure
// the source is left untouched.
func Move(ctx context.Context, fsys afero.Fs, l Legacy, onProgress func(done, total int64)) error {
	if onProgress == nil {
		onProgress = func(int64, int64) {}
	}
	if err := fsys.MkdirAll(filepath.Dir(l.To), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(l.To), err)
	}

	exists, err := afero.Exists(fsys, l.To)
	if err != nil {
		return err
	}
	if !exists {
		if err := fsys.Rename(l.From, l.To); err == nil {
			logging.Debugf("Verbose: migrate renamed %s -> %s\n", l.From, l.To)
			onProgress(1, 1)
			return cleanup(fsys, l)
		}
		logging.Debugf("Verbose: migrate rename failed, copying instead\n")
	}

	files, total, err := scan(fsys, l.From)
	if err != nil {
		return err
	}
	var done int64
	onProgress(0, total)
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := copyFile(fsys, filepath.Join(l.From, rel), filepath.Join(l.To, rel))
		if err != nil {
			return err
		}
		done += n
		onProgress(done, total)
	}

	if err := verify(fsys, l.From, l.To, files); err != nil {
		return err
	}
	if err := fsys.RemoveAll(l.From); err != nil {
		return fmt.Errorf("removing %s: %w", l.From, err)
	}
	return cleanup(fsys, l)
}

func cleanup(fsys afero.Fs, l Legacy) error {
	if l.CleanupFolder == "" {
		return nil
	}
	if err := fsys.RemoveAll(l.CleanupFolder); err != nil {
		return fmt.Errorf("removing %s: %w", l.CleanupFolder, err)
	}
	return nil
}

func scan(fsys afero.Fs, root string) ([]string, int64, error) {
	var files []string
	var total int64
	err := afero.Walk(fsys, root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		files = append(files, rel)
		total += info.Size()
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("scanning %s: %w", root, err)
	}
	return files, total, nil
}

func copyFile(fsys afero.Fs, src, dst string) (int64, error) {
	in, err := fsys.Open(src)
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return 0, err
	}
	if err := fsys.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, err
	}
	out, err := fsys.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", dst, err)
	}
	n, err := io.Copy(out, in)
	closeErr := out.Close()
	if err != nil {
		return n, fmt.Errorf("copying %s: %w", src, err)
	}
	if closeErr != nil {
		return n, fmt.Errorf("closing %s: %w", dst, closeErr)
	}
	return n, nil
}

func verify(fsys afero.Fs, from, to string, files []string) error {
	for _, rel := range files {
		a, err := fsys.Stat(filepath.Join(from, rel))
		if err != nil {
			return err
		}
		b, err := fsys.Stat(filepath.Join(to, rel))
		if err != nil {
			return fmt.Errorf("verifying %s: %w", rel, err)
		}
		if a.Size() != b.Size() {
			return fmt.Errorf("verifying %s: size %d, want %d", rel, b.Size(), a.Size())
		}
	}
	return nil
}
