package install

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caedis/gamelauncher/internal/config"
	"github.com/caedis/gamelauncher/internal/diff"
	"github.com/caedis/gamelauncher/internal/manifest"
	"github.com/caedis/gamelauncher/internal/semver"
)

func TestVersionMarkers(t *testing.T) {
	fs := afero.NewMemMapFs()
	l := NewLayout(fs, "/game", config.EditionGlobal)

	v, err := l.InstalledVersion(diff.Game())
	require.NoError(t, err)
	assert.Nil(t, v, "fresh layout has no game")

	require.NoError(t, l.WriteVersion(diff.Game(), semver.MustParseVersion("4.7.0")))
	require.NoError(t, l.WriteVersion(diff.Voice("ja-jp"), semver.MustParseVersion("4.6.0")))

	v, err = l.InstalledVersion(diff.Game())
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, "4.7.0", v.String())

	v, err = l.InstalledVersion(diff.Voice("ja-jp"))
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, "4.6.0", v.String())

	exists, err := afero.Exists(fs, "/game/GenshinImpact_Data/StreamingAssets/AudioAssets/Japanese/.version")
	require.NoError(t, err)
	assert.True(t, exists)

	v, err = l.InstalledVersion(diff.Voice("en-us"))
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestChinaEditionDataDir(t *testing.T) {
	l := NewLayout(afero.NewMemMapFs(), "/game", config.EditionChina)
	dir, err := l.VoiceDir("zh-cn")
	require.NoError(t, err)
	assert.Equal(t, "/game/YuanShen_Data/StreamingAssets/AudioAssets/Chinese", dir)

	_, err = l.VoiceDir("xx-yy")
	require.Error(t, err)
}

func TestCorruptVersionMarker(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/game/.version", []byte("garbage"), 0o644))

	_, err := NewLayout(fs, "/game", config.EditionGlobal).InstalledVersion(diff.Game())
	require.Error(t, err)
}

func TestRemoveVoice(t *testing.T) {
	fs := afero.NewMemMapFs()
	l := NewLayout(fs, "/game", config.EditionGlobal)
	require.NoError(t, l.WriteVersion(diff.Voice("ko-kr"), semver.MustParseVersion("4.7.0")))

	require.NoError(t, l.RemoveVoice("ko-kr"))
	v, err := l.InstalledVersion(diff.Voice("ko-kr"))
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestApplyDeleteList(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/game/old.dll", []byte("x"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/game/data/old.blk", []byte("x"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/game/keep.dll", []byte("x"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/game/deletefiles.txt", []byte("old.dll\n\ndata/old.blk\nmissing.txt\n"), 0o644))

	removed, err := NewLayout(fs, "/game", config.EditionGlobal).ApplyDeleteList()
	require.NoError(t, err)
	assert.Equal(t, []string{"old.dll", "data/old.blk", "missing.txt"}, removed)

	for _, p := range []string{"/game/old.dll", "/game/data/old.blk", "/game/deletefiles.txt"} {
		exists, err := afero.Exists(fs, p)
		require.NoError(t, err)
		assert.False(t, exists, p)
	}
	exists, err := afero.Exists(fs, "/game/keep.dll")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestApplyDeleteListRejectsEscape(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/game/deletefiles.txt", []byte("../etc/passwd\n"), 0o644))

	_, err := NewLayout(fs, "/game", config.EditionGlobal).ApplyDeleteList()
	require.Error(t, err)
}

func sum(s string) string {
	h := md5.Sum([]byte(s))
	return hex.EncodeToString(h[:])
}

func TestVerify(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/game/good.bin", []byte("good"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/game/bad.bin", []byte("tampered"), 0o644))

	entries := []manifest.IntegrityEntry{
		{Path: "good.bin", MD5: sum("good"), Size: 4},
		{Path: "bad.bin", MD5: sum("original"), Size: 8},
		{Path: "gone.bin", MD5: sum("x"), Size: 1},
	}

	var last int64
	broken, err := NewLayout(fs, "/game", config.EditionGlobal).Verify(context.Background(), entries, 2, func(done, total int64) {
		last = done
		assert.Equal(t, int64(3), total)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), last)

	var paths []string
	for _, e := range broken {
		paths = append(paths, e.Path)
	}
	assert.ElementsMatch(t, []string{"bad.bin", "gone.bin"}, paths)
}
