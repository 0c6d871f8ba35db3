package cache

import (
	"log/slog"
	"sync"

	"github.com/drummonds/pdftiles/metrics"
	"github.com/drummonds/pdftiles/tile"
)

// Logger is global since we will need it everywhere
var Logger = slog.Default()

// PoolStats describes what the pool currently holds
type PoolStats struct {
	Free  map[tile.Format]int
	Bytes int
}

// BitmapPool keeps released bitmaps per pixel format for reuse.
type BitmapPool struct {
	mu          sync.Mutex
	free        map[tile.Format][]*tile.Bitmap
	maxPerFmt   int
	maxBytes    int
	pooledBytes int
}

// NewBitmapPool creates a pool that keeps up to maxPerFormat bitmaps of each format,
// ignoring bitmaps larger than maxBitmapBytes.
func NewBitmapPool(maxPerFormat, maxBitmapBytes int) *BitmapPool {
	return &BitmapPool{
		free:      make(map[tile.Format][]*tile.Bitmap),
		maxPerFmt: maxPerFormat,
		maxBytes:  maxBitmapBytes,
	}
}

// Acquire returns a white bitmap of exactly width x height, reused when one is pooled.
func (p *BitmapPool) Acquire(width, height int, format tile.Format) *tile.Bitmap {
	p.mu.Lock()
	list := p.free[format]
	for i, b := range list {
		if b.Width == width && b.Height == height {
			list[i] = list[len(list)-1]
			list[len(list)-1] = nil
			p.free[format] = list[:len(list)-1]
			p.pooledBytes -= b.ByteCount()
			p.mu.Unlock()
			metrics.BitmapPoolAllocations.WithLabelValues(metrics.ResultHit).Inc()
			b.Fill()
			return b
		}
	}
	p.mu.Unlock()

	metrics.BitmapPoolAllocations.WithLabelValues(metrics.ResultMiss).Inc()
	b := tile.NewBitmap(width, height, format)
	b.Fill()
	return b
}

// Release offers b back to the pool. The caller must not use b afterwards.
func (p *BitmapPool) Release(b *tile.Bitmap) {
	if b == nil || b.ByteCount() == 0 || b.ByteCount() > p.maxBytes {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	list := p.free[b.Format]
	if len(list) >= p.maxPerFmt {
		return
	}
	for _, existing := range list {
		if existing == b {
			Logger.Warn("Bitmap released twice", "format", b.Format, "width", b.Width, "height", b.Height)
			return
		}
	}
	p.free[b.Format] = append(list, b)
	p.pooledBytes += b.ByteCount()
}

// Clear drops every pooled bitmap
func (p *BitmapPool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free = make(map[tile.Format][]*tile.Bitmap)
	p.pooledBytes = 0
}

// Stats returns the per-format free counts
func (p *BitmapPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	stats := PoolStats{Free: make(map[tile.Format]int), Bytes: p.pooledBytes}
	for f, list := range p.free {
		stats.Free[f] = len(list)
	}
	return stats
}
