// Package wine locates compatibility runtime builds and their prefixes.
package wine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/caedis/gamelauncher/internal/logging"
)

// Runtime is an unpacked runtime build.
type Runtime struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

func (r Runtime) Wine64() string { return filepath.Join(r.Path, "bin", "wine64") }

// Selected returns the runtime called name under buildsDir, or nil when no
// runtime is selected or the build is missing its wine64 binary.
func Selected(fsys afero.Fs, buildsDir, name string) (*Runtime, error) {
	if name == "" {
		return nil, nil
	}
	r := Runtime{Name: name, Path: filepath.Join(buildsDir, name)}
	_, err := fsys.Stat(r.Wine64())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("checking runtime %s: %w", name, err)
	}
	return &r, nil
}

// Installed lists runtime builds present in buildsDir.
func Installed(fsys afero.Fs, buildsDir string) ([]Runtime, error) {
	entries, err := afero.ReadDir(fsys, buildsDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []Runtime
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		r, err := Selected(fsys, buildsDir, e.Name())
		if err != nil {
			return nil, err
		}
		if r != nil {
			out = append(out, *r)
		}
	}
	return out, nil
}

// PrefixExists reports whether prefix has been initialized by wineboot.
func PrefixExists(fsys afero.Fs, prefix string) (bool, error) {
	_, err := fsys.Stat(filepath.Join(prefix, "system.reg"))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking prefix: %w", err)
	}
	return true, nil
}

// Command is a process to run inside a prefix.
type Command struct {
	Runtime Runtime
	Prefix  string
	Args    []string
	Dir     string
}

// Executor runs runtime commands. Tests substitute a recorder.
type Executor interface {
	Run(ctx context.Context, c Command) error
}

// ExecExecutor runs commands with os/exec.
type ExecExecutor struct{}

func (ExecExecutor) Run(ctx context.Context, c Command) error {
	cmd := exec.CommandContext(ctx, c.Runtime.Wine64(), c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), "WINEPREFIX="+c.Prefix)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	logging.Debugf("Verbose: exec %s %v prefix=%s\n", cmd.Path, c.Args, c.Prefix)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("running %s: %w", filepath.Base(cmd.Path), err)
	}
	return nil
}

// InitPrefix creates prefix with wineboot.
func InitPrefix(ctx context.Context, ex Executor, r Runtime, prefix string) error {
	return ex.Run(ctx, Command{Runtime: r, Prefix: prefix, Args: []string{"wineboot", "-i"}})
}
