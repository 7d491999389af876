package migrate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caedis/gamelauncher/internal/config"
)

func seedLegacy(t *testing.T, fs afero.Fs, dataDir string) string {
	t.Helper()
	from := LegacyGameDir(dataDir)
	require.NoError(t, afero.WriteFile(fs, filepath.Join(from, "GenshinImpact.exe"), []byte("exe"), 0o755))
	require.NoError(t, afero.WriteFile(fs, filepath.Join(from, "GenshinImpact_Data", "data.unity3d"), []byte("0123456789"), 0o644))
	require.NoError(t, afero.WriteFile(fs, filepath.Join(from, "GenshinImpact_Data", "z.blk"), []byte("zz"), 0o644))
	require.NoError(t, afero.WriteFile(fs, filepath.Join(dataDir, "game", "system.reg"), []byte("reg"), 0o644))
	return from
}

func TestDetect(t *testing.T) {
	fs := afero.NewMemMapFs()
	cfg := config.Default("/data")

	l, err := Detect(fs, cfg, "/data")
	require.NoError(t, err)
	assert.Nil(t, l)

	from := seedLegacy(t, fs, "/data")
	l, err = Detect(fs, cfg, "/data")
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.Equal(t, from, l.From)
	assert.Equal(t, cfg.Game.Path, l.To)
	assert.Equal(t, "/data/game", l.CleanupFolder)

	cfg.Game.Wine.Prefix = "/data/game"
	l, err = Detect(fs, cfg, "/data")
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.Empty(t, l.CleanupFolder, "the old prefix is still in use")
}

func TestMoveRename(t *testing.T) {
	fs := afero.NewMemMapFs()
	cfg := config.Default("/data")
	seedLegacy(t, fs, "/data")

	l, err := Detect(fs, cfg, "/data")
	require.NoError(t, err)
	require.NoError(t, Move(context.Background(), fs, *l, nil))

	data, err := afero.ReadFile(fs, filepath.Join(cfg.Game.Path, "GenshinImpact_Data", "data.unity3d"))
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(data))

	exists, err := afero.Exists(fs, "/data/game")
	require.NoError(t, err)
	assert.False(t, exists)

	l, err = Detect(fs, cfg, "/data")
	require.NoError(t, err)
	assert.Nil(t, l)
}

func TestMoveCopiesIntoExistingDestination(t *testing.T) {
	fs := afero.NewMemMapFs()
	cfg := config.Default("/data")
	from := seedLegacy(t, fs, "/data")
	require.NoError(t, fs.MkdirAll(cfg.Game.Path, 0o755))

	l, err := Detect(fs, cfg, "/data")
	require.NoError(t, err)

	var last [2]int64
	require.NoError(t, Move(context.Background(), fs, *l, func(done, total int64) {
		last = [2]int64{done, total}
	}))
	assert.Equal(t, [2]int64{15, 15}, last)

	exists, err := afero.Exists(fs, from)
	require.NoError(t, err)
	assert.False(t, exists)

	data, err := afero.ReadFile(fs, filepath.Join(cfg.Game.Path, "GenshinImpact.exe"))
	require.NoError(t, err)
	assert.Equal(t, "exe", string(data))
}

// failingFs fails to create files whose name contains fail.
type failingFs struct {
	afero.Fs
	fail string
}

func (f failingFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if flag&os.O_CREATE != 0 && strings.Contains(name, f.fail) {
		return nil, errors.New("disk full")
	}
	return f.Fs.OpenFile(name, flag, perm)
}

func TestMoveFailureKeepsSource(t *testing.T) {
	mem := afero.NewMemMapFs()
	cfg := config.Default("/data")
	from := seedLegacy(t, mem, "/data")
	require.NoError(t, mem.MkdirAll(cfg.Game.Path, 0o755))

	fs := failingFs{Fs: mem, fail: "z.blk"}
	l, err := Detect(fs, cfg, "/data")
	require.NoError(t, err)
	require.Error(t, Move(context.Background(), fs, *l, nil))

	for _, rel := range []string{"GenshinImpact.exe", "GenshinImpact_Data/data.unity3d", "GenshinImpact_Data/z.blk"} {
		exists, err := afero.Exists(mem, filepath.Join(from, rel))
		require.NoError(t, err)
		assert.True(t, exists, rel)
	}

	again, err := Detect(mem, cfg, "/data")
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, l.From, again.From)
	assert.Equal(t, l.To, again.To)
}
