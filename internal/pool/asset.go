package pool

import (
	"container/list"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Loader produces the decoded asset for a key along with its byte
// cost. Invoked only on cache miss.
type Loader[V any] func() (V, int64, error)

// AssetPool caches decoded visual assets under strict LRU eviction,
// bounded by both an entry-count cap and a total byte budget:
// whichever is exceeded first evicts least-recently-used entries until
// the pool is back under both. Concurrent loads of the same key are
// collapsed to one loader call.
type AssetPool[V any] struct {
	logger *slog.Logger
	group  singleflight.Group

	mu         sync.Mutex
	maxEntries int
	maxBytes   int64
	entries    map[string]*list.Element
	lru        *list.List // front = most recently used
	bytes      int64

	hits      int64
	misses    int64
	evictions int64
	loadFails int64
}

type assetEntry[V any] struct {
	key   string
	value V
	size  int64
}

// AssetStats describes pool occupancy and effectiveness.
type AssetStats struct {
	Entries    int
	Bytes      int64
	MaxEntries int
	MaxBytes   int64
	Hits       int64
	Misses     int64
	Evictions  int64
	LoadFails  int64
	HitRate    float64
}

// NewAssetPool creates an asset pool with the given caps.
func NewAssetPool[V any](maxEntries int, maxBytes int64, logger *slog.Logger) *AssetPool[V] {
	if logger == nil {
		logger = slog.Default()
	}
	return &AssetPool[V]{
		logger:     logger,
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
		entries:    make(map[string]*list.Element),
		lru:        list.New(),
	}
}

// Get returns the cached asset for key or invokes load and caches the
// result. The returned value is borrowed: callers must not retain it
// past the point where they would re-Get it.
func (p *AssetPool[V]) Get(key string, load Loader[V]) (V, error) {
	p.mu.Lock()
	if el, ok := p.entries[key]; ok {
		p.lru.MoveToFront(el)
		p.hits++
		v := el.Value.(*assetEntry[V]).value
		p.mu.Unlock()
		return v, nil
	}
	p.misses++
	p.mu.Unlock()

	// Collapse concurrent loads of the same key into one loader call.
	v, err, _ := p.group.Do(key, func() (interface{}, error) {
		value, size, err := load()
		if err != nil {
			return nil, err
		}
		p.insert(key, value, size)
		return value, nil
	})
	if err != nil {
		p.mu.Lock()
		p.loadFails++
		p.mu.Unlock()
		var zero V
		return zero, err
	}

	return v.(V), nil
}

// Peek reports whether key is cached without touching recency.
func (p *AssetPool[V]) Peek(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.entries[key]
	return ok
}

// Resize swaps the caps, evicting oldest entries until the pool is
// under both new limits.
func (p *AssetPool[V]) Resize(maxEntries int, maxBytes int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.maxEntries = maxEntries
	p.maxBytes = maxBytes
	p.evictLocked()
}

// Stats returns pool counters.
func (p *AssetPool[V]) Stats() AssetStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	total := p.hits + p.misses
	rate := 0.0
	if total > 0 {
		rate = float64(p.hits) / float64(total)
	}
	return AssetStats{
		Entries:    len(p.entries),
		Bytes:      p.bytes,
		MaxEntries: p.maxEntries,
		MaxBytes:   p.maxBytes,
		Hits:       p.hits,
		Misses:     p.misses,
		Evictions:  p.evictions,
		LoadFails:  p.loadFails,
		HitRate:    rate,
	}
}

func (p *AssetPool[V]) insert(key string, value V, size int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if el, ok := p.entries[key]; ok {
		// Lost a race with another insert for the same key.
		entry := el.Value.(*assetEntry[V])
		p.bytes += size - entry.size
		entry.value = value
		entry.size = size
		p.lru.MoveToFront(el)
		p.evictLocked()
		return
	}

	el := p.lru.PushFront(&assetEntry[V]{key: key, value: value, size: size})
	p.entries[key] = el
	p.bytes += size
	p.evictLocked()
}

// evictLocked removes LRU entries until under both caps.
func (p *AssetPool[V]) evictLocked() {
	for (p.maxEntries > 0 && len(p.entries) > p.maxEntries) ||
		(p.maxBytes > 0 && p.bytes > p.maxBytes) {
		back := p.lru.Back()
		if back == nil {
			return
		}
		entry := back.Value.(*assetEntry[V])
		p.lru.Remove(back)
		delete(p.entries, entry.key)
		p.bytes -= entry.size
		p.evictions++
	}
}
