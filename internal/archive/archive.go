// Package archive unpacks downloaded game archives and runtime builds.
package archive

import (
	"archive/tar"
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/ulikunitz/xz"
)

// ProgressFunc receives bytes done and bytes total.
type ProgressFunc func(done, total int64)

// ErrUnsafePath is returned for entries escaping the destination folder.
var ErrUnsafePath = errors.New("archive entry escapes destination")

const bufSize = 256 * 1024

// ExtractZip unpacks the zip at archivePath into dest, overwriting existing
// files. Progress is reported in uncompressed bytes.
func ExtractZip(ctx context.Context, fsys afero.Fs, archivePath, dest string, onProgress ProgressFunc) error {
	if onProgress == nil {
		onProgress = func(int64, int64) {}
	}
	f, err := fsys.Open(archivePath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", filepath.Base(archivePath), err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", filepath.Base(archivePath), err)
	}
	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		return fmt.Errorf("reading %s: %w", filepath.Base(archivePath), err)
	}

	var total, done int64
	for _, zf := range zr.File {
		total += int64(zf.UncompressedSize64)
	}
	onProgress(0, total)

	buf := make([]byte, bufSize)
	for _, zf := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		target, err := safeJoin(dest, zf.Name)
		if err != nil {
			return err
		}
		if err := checkParents(fsys, dest, zf.Name); err != nil {
			return err
		}
		if zf.FileInfo().IsDir() {
			if err := fsys.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}

		rc, err := zf.Open()
		if err != nil {
			return fmt.Errorf("opening %s in archive: %w", zf.Name, err)
		}
		err = writeFile(ctx, fsys, target, zf.Mode(), rc, buf, func(n int64) {
			done += n
			onProgress(done, total)
		})
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// ExtractTarXz unpacks a .tar.xz into dest and returns the name of the
// archive's top-level folder. Progress is reported in compressed bytes read.
func ExtractTarXz(ctx context.Context, fsys afero.Fs, archivePath, dest string, onProgress ProgressFunc) (string, error) {
	if onProgress == nil {
		onProgress = func(int64, int64) {}
	}
	f, err := fsys.Open(archivePath)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", filepath.Base(archivePath), err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", filepath.Base(archivePath), err)
	}
	total := info.Size()
	counter := &countingReader{r: f, onRead: func(n int64) { onProgress(n, total) }}

	xr, err := xz.NewReader(counter)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", filepath.Base(archivePath), err)
	}
	tr := tar.NewReader(xr)
	onProgress(0, total)

	var top string
	buf := make([]byte, bufSize)
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", filepath.Base(archivePath), err)
		}

		name := path.Clean(strings.TrimPrefix(hdr.Name, "./"))
		if name == "." {
			continue
		}
		if top == "" {
			top = strings.SplitN(name, "/", 2)[0]
		}
		target, err := safeJoin(dest, name)
		if err != nil {
			return "", err
		}
		if err := checkParents(fsys, dest, name); err != nil {
			return "", err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := fsys.MkdirAll(target, 0o755); err != nil {
				return "", err
			}
		case tar.TypeReg:
			if err := writeFile(ctx, fsys, target, hdr.FileInfo().Mode(), tr, buf, nil); err != nil {
				return "", err
			}
		case tar.TypeSymlink:
			linker, ok := fsys.(afero.Linker)
			if !ok {
				continue
			}
			if err := checkLink(name, hdr.Linkname); err != nil {
				return "", err
			}
			if err := fsys.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return "", err
			}
			_ = fsys.Remove(target)
			if err := linker.SymlinkIfPossible(hdr.Linkname, target); err != nil {
				return "", fmt.Errorf("linking %s: %w", name, err)
			}
		}
	}
	if top == "" {
		return "", fmt.Errorf("%s is empty", filepath.Base(archivePath))
	}
	return top, nil
}

func writeFile(ctx context.Context, fsys afero.Fs, target string, mode os.FileMode, src io.Reader, buf []byte, onChunk func(int64)) error {
	if err := fsys.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	perm := mode.Perm()
	if perm == 0 {
		perm = 0o644
	}
	// Replace a symlink at target instead of writing through it.
	if isSymlink(fsys, target) {
		if err := fsys.Remove(target); err != nil {
			return fmt.Errorf("replacing link %s: %w", target, err)
		}
	}
	out, err := fsys.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("creating %s: %w", target, err)
	}
	for {
		if err := ctx.Err(); err != nil {
			out.Close()
			return err
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				out.Close()
				return fmt.Errorf("writing %s: %w", target, werr)
			}
			if onChunk != nil {
				onChunk(int64(n))
			}
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			out.Close()
			return fmt.Errorf("extracting %s: %w", target, rerr)
		}
	}
	return out.Close()
}

func safeJoin(dest, name string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return filepath.Join(dest, cleaned), nil
}

// checkLink rejects absolute link targets and targets that leave the archive
// root when resolved from the link's folder.
func checkLink(name, linkname string) error {
	if linkname == "" || path.IsAbs(linkname) || filepath.IsAbs(linkname) {
		return fmt.Errorf("%w: %s -> %s", ErrUnsafePath, name, linkname)
	}
	resolved := path.Join(path.Dir(name), linkname)
	if resolved == ".." || strings.HasPrefix(resolved, "../") {
		return fmt.Errorf("%w: %s -> %s", ErrUnsafePath, name, linkname)
	}
	return nil
}

// checkParents refuses entries whose parent folders under dest include a
// symlink, so nothing is created through a link.
func checkParents(fsys afero.Fs, dest, name string) error {
	dir := path.Dir(path.Clean(filepath.ToSlash(name)))
	if dir == "." || dir == "/" {
		return nil
	}
	current := dest
	for _, part := range strings.Split(dir, "/") {
		current = filepath.Join(current, part)
		if isSymlink(fsys, current) {
			return fmt.Errorf("%w: %s passes through link %s", ErrUnsafePath, name, current)
		}
	}
	return nil
}

func isSymlink(fsys afero.Fs, p string) bool {
	lst, ok := fsys.(afero.Lstater)
	if !ok {
		return false
	}
	info, _, err := lst.LstatIfPossible(p)
	return err == nil && info.Mode()&os.ModeSymlink != 0
}

type countingReader struct {
	r      io.Reader
	n      int64
	onRead func(int64)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	if n > 0 {
		c.onRead(c.n)
	}
	return n, err
}
