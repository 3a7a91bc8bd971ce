package artifactcache

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/a-h/airgap/coordinate"
)

// manifestKey is the on-disk location of the cache manifest, relative to
// the cache root.
const manifestKey = "manifest.json"

// Entry is one CacheEntry, owned exclusively by the cache and
// evicted by LRU.
type Entry struct {
	Key            string    `json:"key"`
	FilePath       string    `json:"file_path"`
	Size           int64     `json:"size"`
	Checksum       string    `json:"checksum"`
	Algorithm      string    `json:"algorithm"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	AccessCount    int64     `json:"access_count"`
}

// manifest is the JSON document persisted at manifestKey.
type manifest struct {
	Version   string           `json:"version"`
	CreatedAt time.Time        `json:"created_at"`
	Entries   map[string]Entry `json:"entries"`
	TotalSize int64            `json:"total_size"`
}

func newManifest() manifest {
	return manifest{Version: "1.0", CreatedAt: now(), Entries: make(map[string]Entry)}
}

func loadManifest(ctx context.Context, s Storage) (manifest, error) {
	r, ok, err := s.Read(ctx, manifestKey)
	if err != nil {
		return manifest{}, fmt.Errorf("artifactcache: read manifest: %w", err)
	}
	if !ok {
		return newManifest(), nil
	}
	defer r.Close()
	body, err := io.ReadAll(r)
	if err != nil {
		return manifest{}, fmt.Errorf("artifactcache: read manifest: %w", err)
	}
	var m manifest
	if err := json.Unmarshal(body, &m); err != nil {
		return manifest{}, fmt.Errorf("artifactcache: decode manifest: %w", err)
	}
	if m.Entries == nil {
		m.Entries = make(map[string]Entry)
	}
	return m, nil
}

// saveManifest persists m via Storage.Write, which implementations write
// via temp-file-then-rename (FileSystem) for atomicity.
func saveManifest(ctx context.Context, s Storage, m manifest) error {
	body, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("artifactcache: encode manifest: %w", err)
	}
	return s.Write(ctx, manifestKey, io.NopCloser(strings.NewReader(string(body))))
}

var now = time.Now

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// sanitizeName replaces characters that are unsafe as a path segment,
// e.g. the colon in Maven's "groupId:artifactId".
func sanitizeName(name string) string {
	return unsafeNameChars.ReplaceAllString(name, "_")
}

// KeyFor computes the content-addressed path for a coordinate's download
// filename: {ecosystem}/{sanitized_name}/{version}/{filename}.
func KeyFor(coord coordinate.Coordinate, filename string) string {
	return strings.Join([]string{
		string(coord.Ecosystem),
		sanitizeName(coord.Name),
		sanitizeName(coord.Version),
		filename,
	}, "/")
}
