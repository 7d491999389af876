package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

func writeZip(t *testing.T, fs afero.Fs, name string, files map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for n, body := range files {
		w, err := zw.Create(n)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, afero.WriteFile(fs, name, buf.Bytes(), 0o644))
}

func TestExtractZip(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeZip(t, fs, "/tmp/game.zip", map[string]string{
		"GenshinImpact.exe":          "exe",
		"GenshinImpact_Data/a.blk":   "block",
		"GenshinImpact_Data/sub/b.x": "bb",
	})
	require.NoError(t, afero.WriteFile(fs, "/game/GenshinImpact.exe", []byte("old executable"), 0o644))

	var last [2]int64
	err := ExtractZip(context.Background(), fs, "/tmp/game.zip", "/game", func(done, total int64) {
		last = [2]int64{done, total}
	})
	require.NoError(t, err)
	assert.Equal(t, [2]int64{10, 10}, last)

	data, err := afero.ReadFile(fs, "/game/GenshinImpact.exe")
	require.NoError(t, err)
	assert.Equal(t, "exe", string(data))

	data, err = afero.ReadFile(fs, "/game/GenshinImpact_Data/sub/b.x")
	require.NoError(t, err)
	assert.Equal(t, "bb", string(data))
}

func TestExtractZipRejectsTraversal(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeZip(t, fs, "/tmp/evil.zip", map[string]string{"../outside.txt": "x"})

	err := ExtractZip(context.Background(), fs, "/tmp/evil.zip", "/game", nil)
	require.ErrorIs(t, err, ErrUnsafePath)
}

func TestExtractZipCanceled(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeZip(t, fs, "/tmp/game.zip", map[string]string{"a": "a"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, ExtractZip(ctx, fs, "/tmp/game.zip", "/game", nil), context.Canceled)
}

func TestExtractTarXz(t *testing.T) {
	var buf bytes.Buffer
	xw, err := xz.NewWriter(&buf)
	require.NoError(t, err)
	tw := tar.NewWriter(xw)

	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "lutris-GE-Proton8-26-x86_64/", Typeflag: tar.TypeDir, Mode: 0o755}))
	body := []byte("#!/bin/sh\n")
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name:     "lutris-GE-Proton8-26-x86_64/bin/wine64",
		Typeflag: tar.TypeReg,
		Mode:     0o755,
		Size:     int64(len(body)),
	}))
	_, err = tw.Write(body)
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, xw.Close())

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/tmp/runtime.tar.xz", buf.Bytes(), 0o644))

	var calls int
	top, err := ExtractTarXz(context.Background(), fs, "/tmp/runtime.tar.xz", "/runners", func(done, total int64) {
		calls++
		assert.LessOrEqual(t, done, total)
	})
	require.NoError(t, err)
	assert.Equal(t, "lutris-GE-Proton8-26-x86_64", top)
	assert.Positive(t, calls)

	data, err := afero.ReadFile(fs, "/runners/lutris-GE-Proton8-26-x86_64/bin/wine64")
	require.NoError(t, err)
	assert.Equal(t, body, data)

	info, err := fs.Stat("/runners/lutris-GE-Proton8-26-x86_64/bin/wine64")
	require.NoError(t, err)
	assert.Equal(t, 0o755, int(info.Mode().Perm()))
}

type tarEntry struct {
	name, link, body string
}

func writeTarXz(t *testing.T, fs afero.Fs, name string, entries []tarEntry) {
	t.Helper()
	var buf bytes.Buffer
	xw, err := xz.NewWriter(&buf)
	require.NoError(t, err)
	tw := tar.NewWriter(xw)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: 0o644}
		switch {
		case e.link != "":
			hdr.Typeflag = tar.TypeSymlink
			hdr.Linkname = e.link
			hdr.Mode = 0o777
		default:
			hdr.Typeflag = tar.TypeReg
			hdr.Size = int64(len(e.body))
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if hdr.Typeflag == tar.TypeReg {
			_, err := tw.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	require.NoError(t, xw.Close())
	require.NoError(t, afero.WriteFile(fs, name, buf.Bytes(), 0o644))
}

func TestExtractTarXzRejectsEscapingLinks(t *testing.T) {
	tests := []struct {
		name    string
		entries func(outside string) []tarEntry
	}{
		{
			name: "absolute link target",
			entries: func(outside string) []tarEntry {
				return []tarEntry{
					{name: "rt/esc", link: outside},
					{name: "rt/esc/evil.txt", body: "pwned"},
				}
			},
		},
		{
			name: "relative link leaving the root",
			entries: func(string) []tarEntry {
				return []tarEntry{
					{name: "rt/esc", link: "../../outside"},
					{name: "rt/esc/evil.txt", body: "pwned"},
				}
			},
		},
		{
			name: "write through an in-root link",
			entries: func(string) []tarEntry {
				return []tarEntry{
					{name: "rt/deep/up", link: ".."},
					{name: "rt/deep/up/evil.txt", body: "pwned"},
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			outside := filepath.Join(root, "outside")
			require.NoError(t, os.MkdirAll(outside, 0o755))

			fs := afero.NewOsFs()
			archivePath := filepath.Join(root, "runtime.tar.xz")
			writeTarXz(t, fs, archivePath, tt.entries(outside))

			_, err := ExtractTarXz(context.Background(), fs, archivePath, filepath.Join(root, "runners"), nil)
			require.ErrorIs(t, err, ErrUnsafePath)

			_, statErr := os.Stat(filepath.Join(outside, "evil.txt"))
			assert.True(t, os.IsNotExist(statErr), "file written outside the destination")
			_, statErr = os.Stat(filepath.Join(root, "runners", "rt", "evil.txt"))
			assert.True(t, os.IsNotExist(statErr), "file written through a link")
		})
	}
}

func TestExtractTarXzKeepsInternalLinks(t *testing.T) {
	root := t.TempDir()
	fs := afero.NewOsFs()
	archivePath := filepath.Join(root, "runtime.tar.xz")
	writeTarXz(t, fs, archivePath, []tarEntry{
		{name: "rt/lib64/libwine.so.1", body: "elf"},
		{name: "rt/lib64/libwine.so", link: "libwine.so.1"},
		{name: "rt/bin/wine", link: "../lib64/libwine.so.1"},
	})

	dest := filepath.Join(root, "runners")
	top, err := ExtractTarXz(context.Background(), fs, archivePath, dest, nil)
	require.NoError(t, err)
	assert.Equal(t, "rt", top)

	target, err := os.Readlink(filepath.Join(dest, "rt", "bin", "wine"))
	require.NoError(t, err)
	assert.Equal(t, "../lib64/libwine.so.1", target)

	data, err := os.ReadFile(filepath.Join(dest, "rt", "lib64", "libwine.so"))
	require.NoError(t, err)
	assert.Equal(t, "elf", string(data))
}

func TestExtractReplacesLinkAtTarget(t *testing.T) {
	root := t.TempDir()
	outside := filepath.Join(root, "outside.txt")
	require.NoError(t, os.WriteFile(outside, []byte("keep"), 0o644))

	dest := filepath.Join(root, "game")
	require.NoError(t, os.MkdirAll(dest, 0o755))
	require.NoError(t, os.Symlink(outside, filepath.Join(dest, "config.ini")))

	fs := afero.NewOsFs()
	writeZip(t, fs, filepath.Join(root, "game.zip"), map[string]string{"config.ini": "new"})
	require.NoError(t, ExtractZip(context.Background(), fs, filepath.Join(root, "game.zip"), dest, nil))

	data, err := os.ReadFile(outside)
	require.NoError(t, err)
	assert.Equal(t, "keep", string(data))

	info, err := os.Lstat(filepath.Join(dest, "config.ini"))
	require.NoError(t, err)
	assert.Zero(t, info.Mode()&os.ModeSymlink)
}
