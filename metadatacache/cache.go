package metadatacache

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/a-h/kv"
	"golang.org/x/sync/singleflight"
)

// Record is what's persisted per cache key: the raw fetched bytes plus the
// time they were fetched, used for TTL comparison.
type Record struct {
	FetchedAt time.Time `json:"fetched_at"`
	Body      []byte    `json:"body"`
}

func (r Record) Stale(ttl time.Duration) bool {
	return time.Since(r.FetchedAt) > ttl
}

// TTLs per ecosystem: package indexes move fast, POMs and repodata are
// immutable-ish and can live longer.
var DefaultTTL = map[string]time.Duration{
	"pypi":  10 * time.Minute,
	"npm":   10 * time.Minute,
	"maven": 60 * time.Minute,
	"conda": 60 * time.Minute,
	"yum":   10 * time.Minute,
}

type memEntry struct {
	key    string
	record Record
}

// Cache is the two-tier shared metadata cache: an in-process bounded LRU in
// front of a disk-backed kv.Store, with single-flight collapsing of
// concurrent misses for the same (ecosystem, url) key.
type Cache struct {
	mu       sync.Mutex
	lru      *list.List
	index    map[string]*list.Element
	maxItems int

	disk  kv.Store
	group singleflight.Group
}

// New constructs a Cache. disk may be nil, in which case only the
// in-process tier is used (useful for tests).
func New(disk kv.Store, maxMemoryItems int) *Cache {
	if maxMemoryItems <= 0 {
		maxMemoryItems = 2048
	}
	return &Cache{
		lru:      list.New(),
		index:    make(map[string]*list.Element),
		maxItems: maxMemoryItems,
		disk:     disk,
	}
}

// Key builds the (ecosystem, url) cache key.
func Key(ecosystem, url string) string {
	sum := sha256.Sum256([]byte(url))
	return path.Join("/metadatacache", ecosystem, hex.EncodeToString(sum[:]))
}

// Fetch returns cached bytes for key if present and not stale under ttl;
// otherwise it calls fetch exactly once even under concurrent callers
// requesting the same key (single-flight), stores the
// result, and returns it.
func (c *Cache) Fetch(ctx context.Context, key string, ttl time.Duration, fetch func(ctx context.Context) ([]byte, error)) (body []byte, fromCache bool, err error) {
	if rec, ok := c.memGet(key); ok && !rec.Stale(ttl) {
		return rec.Body, true, nil
	}

	if rec, ok, derr := c.diskGet(ctx, key); derr == nil && ok && !rec.Stale(ttl) {
		c.memPut(key, rec)
		return rec.Body, true, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		b, ferr := fetch(ctx)
		if ferr != nil {
			return nil, ferr
		}
		rec := Record{FetchedAt: now(), Body: b}
		c.memPut(key, rec)
		if perr := c.diskPut(ctx, key, rec); perr != nil {
			return rec, fmt.Errorf("metadatacache: persist %q: %w", key, perr)
		}
		return rec, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(Record).Body, false, nil
}

// Invalidate drops key from both tiers, used by cache.clear() callers.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	c.mu.Lock()
	if el, ok := c.index[key]; ok {
		c.lru.Remove(el)
		delete(c.index, key)
	}
	c.mu.Unlock()
	if c.disk == nil {
		return nil
	}
	_, err := c.disk.Delete(ctx, key)
	return err
}

func (c *Cache) memGet(key string) (Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.index[key]
	if !ok {
		return Record{}, false
	}
	c.lru.MoveToFront(el)
	return el.Value.(*memEntry).record, true
}

func (c *Cache) memPut(key string, rec Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.index[key]; ok {
		el.Value.(*memEntry).record = rec
		c.lru.MoveToFront(el)
		return
	}
	el := c.lru.PushFront(&memEntry{key: key, record: rec})
	c.index[key] = el
	for c.lru.Len() > c.maxItems {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		c.lru.Remove(oldest)
		delete(c.index, oldest.Value.(*memEntry).key)
	}
}

func (c *Cache) diskGet(ctx context.Context, key string) (Record, bool, error) {
	if c.disk == nil {
		return Record{}, false, nil
	}
	var rec Record
	_, ok, err := c.disk.Get(ctx, key, &rec)
	return rec, ok, err
}

func (c *Cache) diskPut(ctx context.Context, key string, rec Record) error {
	if c.disk == nil {
		return nil
	}
	return c.disk.Put(ctx, key, -1, rec)
}

var now = time.Now
