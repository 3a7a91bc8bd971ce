package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/a-h/airgap/airgaperr"
	"github.com/a-h/airgap/artifactcache"
	"github.com/a-h/airgap/httpclient"
)

// Downloader fetches one Item at a time: cache-hit
// short-circuit, HTTP range-resume from a local partial file, incremental
// checksum verification, and atomic insertion into the artifact cache.
type Downloader struct {
	http    *httpclient.Client
	cache   *artifactcache.Cache
	tempDir string
}

func NewDownloader(client *httpclient.Client, cache *artifactcache.Cache, tempDir string) *Downloader {
	return &Downloader{http: client, cache: cache, tempDir: tempDir}
}

// ProgressFunc is called periodically during a fetch.
type ProgressFunc func(bytesDone, bytesTotal int64, speed float64)

// Fetch downloads item into the cache: cache lookup first, then a
// range-resumed streaming GET, checksum verification, and atomic insert.
func (d *Downloader) Fetch(ctx context.Context, item *Item, onProgress ProgressFunc) error {
	filename := FilenameFromURL(item.URL)
	key := artifactcache.KeyFor(item.Coord, filename)

	if entry, ok, err := d.cache.Lookup(ctx, key, item.ExpectedChecksum); err == nil && ok {
		item.setStatus(Skipped)
		item.setProgress(entry.Size, entry.Size, 0)
		if onProgress != nil {
			onProgress(entry.Size, entry.Size, 0)
		}
		return nil
	}

	if err := os.MkdirAll(d.tempDir, 0o755); err != nil {
		return airgaperr.New(airgaperr.IOError, item.Coord, item.URL, err)
	}
	partialPath := filepath.Join(d.tempDir, item.ID+".part")

	item.setStatus(Downloading)

	resumeFrom := int64(0)
	if info, err := os.Stat(partialPath); err == nil {
		resumeFrom = info.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, item.URL, nil)
	if err != nil {
		return airgaperr.New(airgaperr.Internal, item.Coord, item.URL, err)
	}
	if resumeFrom > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", resumeFrom))
	}

	resp, err := d.http.Do(ctx, req)
	if err != nil {
		return airgaperr.New(airgaperr.Network, item.Coord, item.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		kind := airgaperr.HTTP4xx
		if resp.StatusCode == http.StatusNotFound {
			kind = airgaperr.NotFound
		}
		if resp.StatusCode >= 500 {
			kind = airgaperr.Network
		}
		return airgaperr.New(kind, item.Coord, item.URL, fmt.Errorf("http %d", resp.StatusCode))
	}

	flags := os.O_CREATE | os.O_WRONLY
	if resp.StatusCode == http.StatusPartialContent {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
		resumeFrom = 0
	}

	f, err := os.OpenFile(partialPath, flags, 0o644)
	if err != nil {
		return airgaperr.New(airgaperr.IOError, item.Coord, item.URL, err)
	}

	hasher, err := newHasher(item.Algorithm)
	if err != nil {
		f.Close()
		return airgaperr.New(airgaperr.Internal, item.Coord, item.URL, err)
	}
	if resumeFrom > 0 {
		if err := rehashExisting(partialPath, hasher); err != nil {
			f.Close()
			return airgaperr.New(airgaperr.IOError, item.Coord, item.URL, err)
		}
	}

	total := resumeFrom + resp.ContentLength
	if resp.ContentLength < 0 {
		total = 0
	}

	written, err := d.streamWithProgress(ctx, f, resp.Body, hasher, resumeFrom, total, onProgress, item)
	closeErr := f.Close()
	if err != nil {
		return err
	}
	if closeErr != nil {
		return airgaperr.New(airgaperr.IOError, item.Coord, item.URL, closeErr)
	}

	digest := hexDigest(hasher)
	if item.ExpectedChecksum != "" && digest != item.ExpectedChecksum {
		os.Remove(partialPath)
		return airgaperr.New(airgaperr.ChecksumMismatch, item.Coord, item.URL,
			fmt.Errorf("got %s, want %s", digest, item.ExpectedChecksum))
	}

	final, err := os.Open(partialPath)
	if err != nil {
		return airgaperr.New(airgaperr.IOError, item.Coord, item.URL, err)
	}
	if _, err := d.cache.Insert(ctx, key, final, written, digest, item.Algorithm); err != nil {
		return airgaperr.New(airgaperr.IOError, item.Coord, item.URL, err)
	}
	os.Remove(partialPath)

	item.setStatus(Completed)
	item.setProgress(written, written, 0)
	return nil
}

// streamWithProgress copies src into both dst and hasher, reporting
// progress every progressInterval or progressBytes, whichever comes
// first, with an EWMA-smoothed instantaneous speed.
func (d *Downloader) streamWithProgress(ctx context.Context, dst io.Writer, src io.Reader, hasher io.Writer, start, total int64, onProgress ProgressFunc, item *Item) (int64, error) {
	buf := make([]byte, 32*1024)
	done := start
	sinceReport := int64(0)
	lastReport := time.Now()
	speed := newEWMA()

	w := io.MultiWriter(dst, hasher)
	for {
		if ctx.Err() != nil {
			return done, airgaperr.New(airgaperr.Cancelled, item.Coord, item.URL, ctx.Err())
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return done, airgaperr.New(airgaperr.IOError, item.Coord, item.URL, werr)
			}
			done += int64(n)
			sinceReport += int64(n)

			elapsed := time.Since(lastReport)
			if sinceReport >= progressBytes || elapsed >= progressInterval {
				rate := speed.sample(float64(sinceReport) / max(elapsed.Seconds(), 0.001))
				item.setProgress(done, total, rate)
				if onProgress != nil {
					onProgress(done, total, rate)
				}
				sinceReport = 0
				lastReport = time.Now()
			}
		}
		if rerr == io.EOF {
			return done, nil
		}
		if rerr != nil {
			return done, airgaperr.New(airgaperr.Network, item.Coord, item.URL, rerr)
		}
	}
}

func rehashExisting(path string, hasher io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(hasher, f)
	return err
}

// FilenameFromURL extracts the final path segment of a download URL,
// stripping any query string; the orchestrator uses it to derive the
// artifact-cache key for its already-cached filter.
func FilenameFromURL(rawURL string) string {
	for i := len(rawURL) - 1; i >= 0; i-- {
		if rawURL[i] == '/' {
			name := rawURL[i+1:]
			if idx := indexByte(name, '?'); idx >= 0 {
				name = name[:idx]
			}
			if name != "" {
				return name
			}
			break
		}
	}
	return "artifact"
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

