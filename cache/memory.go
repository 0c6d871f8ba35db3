package cache

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/drummonds/pdftiles/metrics"
	"github.com/drummonds/pdftiles/tile"
)

// MemoryCache holds rendered tiles in two generations plus a separate thumbnail list.
//
// Tiles requested during the current visible pass are active; everything else is passive and
// is evicted first. Within a generation the tile with the largest order goes first.
type MemoryCache struct {
	mu       sync.Mutex
	active   *generation
	passive  *generation
	capacity int

	// thumbnails is FIFO: it is only ever read with Contains, which does not touch recency.
	thumbnails *lru.Cache[tile.Key, *tile.Tile]

	pool *BitmapPool
}

// NewMemoryCache builds a cache holding up to capacity tiles and thumbnailCapacity thumbnails.
func NewMemoryCache(capacity, thumbnailCapacity int, pool *BitmapPool) (*MemoryCache, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("memory cache capacity must be positive, got %d", capacity)
	}
	m := &MemoryCache{
		active:   newGeneration(),
		passive:  newGeneration(),
		capacity: capacity,
		pool:     pool,
	}
	thumbs, err := lru.NewWithEvict(thumbnailCapacity, func(_ tile.Key, t *tile.Tile) {
		metrics.MemoryCacheEvictions.WithLabelValues(metrics.GenerationThumbnail).Inc()
		t.Release(m.release)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create thumbnail cache: %w", err)
	}
	m.thumbnails = thumbs
	return m, nil
}

func (m *MemoryCache) release(b *tile.Bitmap) {
	if m.pool != nil {
		m.pool.Release(b)
	}
}

// BeginPass demotes every active tile to passive.
func (m *MemoryCache) BeginPass() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.active.heap {
		m.passive.push(e.tile)
	}
	m.active.reset()
}

// LookupOrPromote reports whether the tile is cached. A passive hit moves it back to active with
// the new order.
func (m *MemoryCache) LookupOrPromote(key tile.Key, order int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t := m.passive.remove(key); t != nil {
		t.Order = order
		m.active.push(t)
		metrics.MemoryCacheLookups.WithLabelValues(metrics.ResultHit).Inc()
		return true
	}
	if m.active.get(key) != nil {
		metrics.MemoryCacheLookups.WithLabelValues(metrics.ResultHit).Inc()
		return true
	}
	metrics.MemoryCacheLookups.WithLabelValues(metrics.ResultMiss).Inc()
	return false
}

// Insert adds a rendered tile as active, evicting the least important tiles when full.
// A tile with an already cached key replaces the old one.
func (m *MemoryCache) Insert(t *tile.Tile) {
	m.mu.Lock()
	var freed []*tile.Tile
	for _, g := range []*generation{m.active, m.passive} {
		if old := g.remove(t.Key); old != nil && old != t {
			freed = append(freed, old)
		}
	}
	for m.active.Len()+m.passive.Len() >= m.capacity {
		if victim := m.passive.popLeastImportant(); victim != nil {
			metrics.MemoryCacheEvictions.WithLabelValues(metrics.GenerationPassive).Inc()
			freed = append(freed, victim)
			continue
		}
		if victim := m.active.popLeastImportant(); victim != nil {
			metrics.MemoryCacheEvictions.WithLabelValues(metrics.GenerationActive).Inc()
			freed = append(freed, victim)
			continue
		}
		break
	}
	m.active.push(t)
	m.mu.Unlock()

	for _, f := range freed {
		f.Release(m.release)
	}
}

// Get returns the cached tile for key without changing its generation
func (m *MemoryCache) Get(key tile.Key) (*tile.Tile, bool) {
	if key.Thumbnail {
		return m.thumbnails.Peek(key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if t := m.active.get(key); t != nil {
		return t, true
	}
	if t := m.passive.get(key); t != nil {
		return t, true
	}
	return nil, false
}

// ContainsThumbnail reports whether a thumbnail for key is cached
func (m *MemoryCache) ContainsThumbnail(key tile.Key) bool {
	return m.thumbnails.Contains(key)
}

// CacheThumbnail stores a thumbnail. When one with the same key exists the new bitmap is released.
func (m *MemoryCache) CacheThumbnail(t *tile.Tile) {
	if present, _ := m.thumbnails.ContainsOrAdd(t.Key, t); present {
		t.Release(m.release)
	}
}

// Range calls fn for every cached page tile while holding the lock, passive tiles first
// so callers drawing in order paint fresher tiles on top.
func (m *MemoryCache) Range(fn func(*tile.Tile) bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.passive.each(fn) {
		m.active.each(fn)
	}
}

// RangeThumbnails calls fn for every cached thumbnail, oldest first
func (m *MemoryCache) RangeThumbnails(fn func(*tile.Tile) bool) {
	for _, t := range m.thumbnails.Values() {
		if !fn(t) {
			return
		}
	}
}

// Len is the number of cached page tiles
func (m *MemoryCache) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active.Len() + m.passive.Len()
}

// ActiveLen is the number of tiles requested during the current pass
func (m *MemoryCache) ActiveLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active.Len()
}

// ThumbnailLen is the number of cached thumbnails
func (m *MemoryCache) ThumbnailLen() int { return m.thumbnails.Len() }

// Recycle empties the cache, returning every bitmap to the pool.
func (m *MemoryCache) Recycle() {
	m.mu.Lock()
	var freed []*tile.Tile
	for _, g := range []*generation{m.active, m.passive} {
		for _, e := range g.heap {
			freed = append(freed, e.tile)
		}
		g.reset()
	}
	m.mu.Unlock()
	for _, t := range freed {
		t.Release(m.release)
	}
	m.thumbnails.Purge()
}
