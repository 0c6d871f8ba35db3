// Package metrics exposes prometheus collectors for the tile pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	Namespace = "pdftiles"

	LabelSource     = "source"
	LabelGeneration = "generation"
	LabelResult     = "result"
	LabelStatus     = "status"
)

const (
	SourceEngine = "engine"
	SourceDisk   = "disk"

	GenerationActive    = "active"
	GenerationPassive   = "passive"
	GenerationThumbnail = "thumbnail"

	ResultHit  = "hit"
	ResultMiss = "miss"
)

var TilesRendered = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: Namespace,
	Subsystem: "scheduler",
	Name:      "tiles_total",
	Help:      "Tiles produced by the render scheduler, by source",
}, []string{LabelSource})

var RenderDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: Namespace,
	Subsystem: "scheduler",
	Name:      "render_duration_seconds",
	Help:      "Time spent in the native engine per tile",
	Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
})

var JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: Namespace,
	Subsystem: "scheduler",
	Name:      "jobs_total",
	Help:      "Render jobs by final status",
}, []string{LabelStatus})

var PageErrors = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: Namespace,
	Subsystem: "document",
	Name:      "page_errors_total",
	Help:      "Pages that failed to open or render",
})

var MemoryCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: Namespace,
	Subsystem: "memory_cache",
	Name:      "lookups_total",
	Help:      "Memory cache lookups by result",
}, []string{LabelResult})

var MemoryCacheEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: Namespace,
	Subsystem: "memory_cache",
	Name:      "evictions_total",
	Help:      "Tiles evicted from memory, by generation",
}, []string{LabelGeneration})

var DiskCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: Namespace,
	Subsystem: "disk_cache",
	Name:      "lookups_total",
	Help:      "Disk cache lookups by result",
}, []string{LabelResult})

var DiskCacheBytes = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: Namespace,
	Subsystem: "disk_cache",
	Name:      "bytes",
	Help:      "Bytes used by the disk cache after the last scan",
})

var DiskCacheEvictedBytes = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: Namespace,
	Subsystem: "disk_cache",
	Name:      "evicted_bytes_total",
	Help:      "Bytes removed by disk cache eviction",
})

var DiskCacheErrors = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: Namespace,
	Subsystem: "disk_cache",
	Name:      "errors_total",
	Help:      "Disk cache I/O errors, recovered as misses or dropped writes",
})

var BitmapPoolAllocations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: Namespace,
	Subsystem: "bitmap_pool",
	Name:      "acquisitions_total",
	Help:      "Bitmap acquisitions, hit when a pooled buffer was reused",
}, []string{LabelResult})
