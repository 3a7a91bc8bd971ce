package artifactcache

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
)

// DefaultMaxSize caps the cache at 5 GiB unless configured otherwise.
const DefaultMaxSize = 5 << 30

// evictionHysteresis is the fraction of MaxSize eviction targets: going
// down to 90% rather than just under the cap avoids an
// evict-then-immediately-refill cycle right at the boundary.
const evictionHysteresis = 0.90

// Cache is the content-addressed artifact cache. A single
// writer lock protects the manifest; concurrent inserts of distinct
// entries never collide on the filesystem because their final paths
// differ.
type Cache struct {
	storage Storage
	maxSize int64

	mu sync.Mutex
}

func New(storage Storage, maxSize int64) *Cache {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Cache{storage: storage, maxSize: maxSize}
}

// Lookup reports whether key is cached and, if a checksum is given, that
// it matches — callers use this to skip a download entirely. It also
// updates last_accessed_at/access_count for LRU.
func (c *Cache) Lookup(ctx context.Context, key, expectedChecksum string) (Entry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, err := loadManifest(ctx, c.storage)
	if err != nil {
		return Entry{}, false, err
	}
	entry, ok := m.Entries[key]
	if !ok {
		return Entry{}, false, nil
	}
	if expectedChecksum != "" && entry.Checksum != expectedChecksum {
		return Entry{}, false, nil
	}

	entry.LastAccessedAt = now()
	entry.AccessCount++
	m.Entries[key] = entry
	if err := saveManifest(ctx, c.storage, m); err != nil {
		return Entry{}, false, err
	}
	return entry, true, nil
}

// Open returns a reader for a cached entry's bytes.
func (c *Cache) Open(ctx context.Context, key string) (io.ReadCloser, bool, error) {
	return c.storage.Read(ctx, key)
}

// Insert stores data under key, recording size/checksum/algorithm in the
// manifest, and evicts least-recently-accessed entries if total_size now
// exceeds MaxSize, so the total never stays above the cap between
// operations.
func (c *Cache) Insert(ctx context.Context, key string, data io.ReadCloser, size int64, checksum, algorithm string) (Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.storage.Write(ctx, key, data); err != nil {
		return Entry{}, fmt.Errorf("artifactcache: insert %s: %w", key, err)
	}

	m, err := loadManifest(ctx, c.storage)
	if err != nil {
		return Entry{}, err
	}

	if old, existed := m.Entries[key]; existed {
		m.TotalSize -= old.Size
	}
	entry := Entry{
		Key:            key,
		FilePath:       key,
		Size:           size,
		Checksum:       checksum,
		Algorithm:      algorithm,
		CreatedAt:      now(),
		LastAccessedAt: now(),
		AccessCount:    1,
	}
	m.Entries[key] = entry
	m.TotalSize += size

	if err := c.evictLocked(ctx, &m); err != nil {
		return Entry{}, err
	}
	if err := saveManifest(ctx, c.storage, m); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// evictLocked removes least-recently-accessed entries until total_size is
// under evictionHysteresis*MaxSize; caller holds c.mu.
func (c *Cache) evictLocked(ctx context.Context, m *manifest) error {
	if m.TotalSize <= c.maxSize {
		return nil
	}
	target := int64(float64(c.maxSize) * evictionHysteresis)

	type candidate struct {
		key   string
		entry Entry
	}
	candidates := make([]candidate, 0, len(m.Entries))
	for k, e := range m.Entries {
		candidates = append(candidates, candidate{k, e})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].entry.LastAccessedAt.Before(candidates[j].entry.LastAccessedAt)
	})

	for _, cand := range candidates {
		if m.TotalSize <= target {
			break
		}
		if err := c.storage.Delete(ctx, cand.key); err != nil {
			return fmt.Errorf("artifactcache: evict %s: %w", cand.key, err)
		}
		delete(m.Entries, cand.key)
		m.TotalSize -= cand.entry.Size
	}
	return nil
}

// Stats reports aggregate cache size, overall and per ecosystem.
type Stats struct {
	TotalSize    int64
	EntryCount   int
	PerEcosystem map[string]EcosystemStats
}

type EcosystemStats struct {
	TotalSize  int64
	EntryCount int
}

func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, err := loadManifest(ctx, c.storage)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{TotalSize: m.TotalSize, EntryCount: len(m.Entries), PerEcosystem: make(map[string]EcosystemStats)}
	for key, e := range m.Entries {
		eco := ecosystemOf(key)
		s := stats.PerEcosystem[eco]
		s.TotalSize += e.Size
		s.EntryCount++
		stats.PerEcosystem[eco] = s
	}
	return stats, nil
}

// Clear removes every cached entry.
func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, err := loadManifest(ctx, c.storage)
	if err != nil {
		return err
	}
	for key := range m.Entries {
		if err := c.storage.Delete(ctx, key); err != nil {
			return fmt.Errorf("artifactcache: clear %s: %w", key, err)
		}
	}
	return saveManifest(ctx, c.storage, newManifest())
}

func ecosystemOf(key string) string {
	for i, r := range key {
		if r == '/' {
			return key[:i]
		}
	}
	return key
}
