package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/spf13/afero"

	"github.com/caedis/gamelauncher/internal/logging"
)

const chunkSize = 256 * 1024

// ProgressFunc receives bytes done and bytes total. A total of zero means the
// size is unknown.
type ProgressFunc func(done, total int64)

type Downloader struct {
	fs     afero.Fs
	client *http.Client
}

func New(fs afero.Fs, client *http.Client) *Downloader {
	if client == nil {
		client = http.DefaultClient
	}
	return &Downloader{fs: fs, client: client}
}

// Fetch downloads url to destPath. An existing partial file at destPath is
// resumed with a Range request instead of being restarted. expected may be
// zero when the size is not known in advance.
func (d *Downloader) Fetch(ctx context.Context, url, destPath string, expected int64, onProgress ProgressFunc) error {
	if onProgress == nil {
		onProgress = func(int64, int64) {}
	}
	if err := d.fs.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(destPath), err)
	}

	var offset int64
	if info, err := d.fs.Stat(destPath); err == nil {
		offset = info.Size()
	}
	if expected > 0 && offset == expected {
		logging.Debugf("Verbose: download already complete file=%s\n", filepath.Base(destPath))
		onProgress(offset, expected)
		return nil
	}
	if expected > 0 && offset > expected {
		logging.Debugf("Verbose: discarding oversized partial file=%s size=%d\n", filepath.Base(destPath), offset)
		offset = 0
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request for %s: %w", filepath.Base(destPath), err)
	}
	if offset > 0 {
		req.Header.Set("Range", "bytes="+strconv.FormatInt(offset, 10)+"-")
	}
	logging.Debugf("Verbose: download start file=%s offset=%d url=%s\n", filepath.Base(destPath), offset, url)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", filepath.Base(destPath), err)
	}
	defer resp.Body.Close()

	flags := os.O_CREATE | os.O_WRONLY
	switch resp.StatusCode {
	case http.StatusPartialContent:
		flags |= os.O_APPEND
	case http.StatusOK:
		// Server ignored the range; start over.
		offset = 0
		flags |= os.O_TRUNC
	case http.StatusRequestedRangeNotSatisfiable:
		if offset > 0 {
			onProgress(offset, offset)
			return nil
		}
		fallthrough
	default:
		return fmt.Errorf("downloading %s: HTTP %d", filepath.Base(destPath), resp.StatusCode)
	}

	total := expected
	if total == 0 && resp.ContentLength > 0 {
		total = offset + resp.ContentLength
	}

	f, err := d.fs.OpenFile(destPath, flags, 0o644)
	if err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Base(destPath), err)
	}

	done := offset
	onProgress(done, total)
	err = copyChunks(ctx, f, resp.Body, func(n int64) {
		done += n
		onProgress(done, total)
	})
	closeErr := f.Close()
	if err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(destPath), err)
	}
	if closeErr != nil {
		return fmt.Errorf("closing %s: %w", filepath.Base(destPath), closeErr)
	}
	if expected > 0 && done != expected {
		return fmt.Errorf("downloading %s: got %d bytes, want %d", filepath.Base(destPath), done, expected)
	}
	logging.Debugf("Verbose: download complete file=%s\n", filepath.Base(destPath))
	return nil
}

// copyChunks copies src to dst, checking ctx between chunks.
func copyChunks(ctx context.Context, dst io.Writer, src io.Reader, onChunk func(int64)) error {
	buf := make([]byte, chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
			onChunk(int64(n))
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Download is one file of a batch.
type Download struct {
	URL  string
	Path string
	Size int64
}

type Result struct {
	Download Download
	Err      error
}

type Progress struct {
	Completed int64
	Total     int64
}

// Run downloads files concurrently with the given concurrency. Each file is
// written to a .tmp sibling and renamed into place. It calls onProgress after
// each finished download.
func (d *Downloader) Run(ctx context.Context, downloads []Download, concurrency int, onProgress func(Progress)) []Result {
	if concurrency < 1 {
		concurrency = 4
	}

	total := int64(len(downloads))
	var completed atomic.Int64

	results := make([]Result, len(downloads))
	work := make(chan int, len(downloads))

	for i := range downloads {
		work <- i
	}
	close(work)

	var wg sync.WaitGroup
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range work {
				dl := downloads[i]
				err := d.fetchAtomic(ctx, dl)
				results[i] = Result{Download: dl, Err: err}

				n := completed.Add(1)
				if onProgress != nil {
					onProgress(Progress{Completed: n, Total: total})
				}
			}
		}()
	}

	wg.Wait()
	return results
}

func (d *Downloader) fetchAtomic(ctx context.Context, dl Download) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tmpPath := dl.Path + ".tmp"
	// A stale .tmp from an earlier batch would be resumed as if valid.
	_ = d.fs.Remove(tmpPath)

	if err := d.Fetch(ctx, dl.URL, tmpPath, dl.Size, nil); err != nil {
		_ = d.fs.Remove(tmpPath)
		return err
	}
	if err := d.fs.Rename(tmpPath, dl.Path); err != nil {
		_ = d.fs.Remove(tmpPath)
		return fmt.Errorf("finalizing %s: %w", filepath.Base(dl.Path), err)
	}
	return nil
}
