package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/drummonds/pdftiles/cache"
	"github.com/drummonds/pdftiles/config"
	"github.com/drummonds/pdftiles/engine/pdfrenderer"
	"github.com/drummonds/pdftiles/layout"
	"github.com/drummonds/pdftiles/tile"
)

// ViewState is what a view needs to come back to the same place after being recreated
type ViewState struct {
	Page    int
	Zoom    float64
	OffsetX float64
	OffsetY float64
	// PagePosition is where the viewport center falls inside Page along the scroll axis, in [0,1]
	PagePosition float64
}

// Viewer is the entry point for a view: it owns the caches and the render worker of one document.
type Viewer struct {
	doc       *Document
	cfg       config.TileConfig
	pool      *cache.BitmapPool
	cache     *cache.MemoryCache
	scheduler *Scheduler
	loader    *PagesLoader

	// set when the viewer opened them itself
	renderer pdfrenderer.Renderer
	disk     *cache.DiskCache

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.Mutex
	x, y, zoom    float64
	width, height int
	closed        bool
}

// LayoutParams derives layout parameters for a viewport of w x h pixels
func LayoutParams(cfg config.TileConfig, w, h int) layout.Params {
	return layout.Params{
		Viewport:    layout.Size{Width: w, Height: h},
		Fit:         layout.ParseFitPolicy(cfg.FitPolicy),
		Vertical:    cfg.SwipeVertical,
		Spacing:     cfg.PageSpacing,
		AutoSpacing: cfg.AutoSpacing,
		FitEachPage: cfg.FitEachPage,
	}
}

// OpenViewer opens src with the configured renderer and disk cache and returns a viewer for a
// w x h viewport. The viewer owns everything it opened.
func OpenViewer(cfg config.TileConfig, src Source, password string, w, h int) (*Viewer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	renderer, err := pdfrenderer.NewRenderer(cfg.Renderer)
	if err != nil {
		return nil, err
	}
	doc, err := Open(renderer, src, Options{Password: password, Layout: LayoutParams(cfg, w, h)})
	if err != nil {
		renderer.Close()
		return nil, err
	}

	var disk *cache.DiskCache
	if cfg.DiskCacheEnabled {
		disk, err = cache.NewDiskCache(afero.NewOsFs(), cfg.DiskCachePath, cache.DiskOptions{
			MaxBytes:      cfg.DiskCacheMaxBytes,
			QueueSize:     cfg.DiskCacheQueue,
			EvictInterval: cfg.DiskCacheEvictInterval,
		})
		if err != nil {
			// rendering still works without the disk tier
			Logger.Warn("Disk tile cache unavailable", "path", cfg.DiskCachePath, "error", err)
			disk = nil
		} else if cfg.DiskCacheSweep != "" {
			if err := disk.StartSweeper(cfg.DiskCacheSweep); err != nil {
				Logger.Warn("Disk cache sweeper not started", "error", err)
			}
		}
	}

	v, err := NewViewer(doc, cfg, disk)
	if err != nil {
		doc.Close()
		if disk != nil {
			disk.Close()
		}
		renderer.Close()
		return nil, err
	}
	v.renderer = renderer
	v.disk = disk
	return v, nil
}

// NewViewer builds the caches and starts the render worker for an open document. disk may be nil.
func NewViewer(doc *Document, cfg config.TileConfig, disk *cache.DiskCache) (*Viewer, error) {
	pool := cache.NewBitmapPool(cfg.PoolSize, cfg.PoolMaxBitmapBytes)
	mem, err := cache.NewMemoryCache(cfg.CacheSize, cfg.ThumbnailCacheSize, pool)
	if err != nil {
		return nil, err
	}
	scheduler := NewScheduler(doc, disk, pool, cfg.ResultQueue)
	loader := NewPagesLoader(doc, mem, scheduler, LoaderConfig{
		TileSize:       cfg.TileSize,
		ThumbnailRatio: cfg.ThumbnailRatio,
		Budget:         cfg.CacheSize,
		PreloadOffset:  cfg.PreloadOffset,
		PreloadPages:   cfg.PreloadPages,
		BestQuality:    cfg.BestQuality,
		Annotations:    cfg.AnnotationRendering,
	})

	v := &Viewer{
		doc:       doc,
		cfg:       cfg,
		pool:      pool,
		cache:     mem,
		scheduler: scheduler,
		loader:    loader,
		zoom:      cfg.MinZoom,
	}
	if lay := doc.Layout(); lay != nil {
		v.width, v.height = lay.Params.Viewport.Width, lay.Params.Viewport.Height
	}

	ctx, cancel := context.WithCancel(context.Background())
	v.cancel = cancel
	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		scheduler.Run(ctx)
	}()
	return v, nil
}

// Document returns the viewed document
func (v *Viewer) Document() *Document { return v.doc }

// Cache returns the memory tile cache, for drawing
func (v *Viewer) Cache() *cache.MemoryCache { return v.cache }

// Results delivers rendered tiles and page failures; pass each one to Accept
func (v *Viewer) Results() <-chan tile.Result { return v.scheduler.Results() }

func (v *Viewer) clampZoom(zoom float64) float64 {
	return math.Min(math.Max(zoom, v.cfg.MinZoom), v.cfg.MaxZoom)
}

// clampOffset keeps a scroll offset inside the content, centering content smaller than the view.
func clampOffset(offset, content, view float64) float64 {
	if content <= view {
		return -(view - content) / 2
	}
	return math.Min(math.Max(offset, 0), content-view)
}

// contentSize is the document extent at zoom as (width, height)
func contentSize(lay *layout.Layout, zoom float64) (float64, float64) {
	if lay.Params.Vertical {
		return lay.CrossLen(zoom), lay.DocLen(zoom)
	}
	return lay.DocLen(zoom), lay.CrossLen(zoom)
}

// OnViewportChanged moves the viewport and requests the tiles it now shows. Queued jobs from the
// previous position are dropped. It returns the jobs that were enqueued.
func (v *Viewer) OnViewportChanged(x, y, zoom float64) []tile.Job {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	lay := v.doc.Layout()
	v.zoom = v.clampZoom(zoom)
	cw, ch := contentSize(lay, v.zoom)
	v.x = clampOffset(x, cw, float64(v.width))
	v.y = clampOffset(y, ch, float64(v.height))
	vp := Viewport{X: v.x, Y: v.y, Width: float64(v.width), Height: float64(v.height), Zoom: v.zoom}
	v.mu.Unlock()

	v.scheduler.Clear()
	v.cache.BeginPass()
	return v.loader.Load(vp)
}

// OnSizeChanged relayouts the document for a new viewport size, keeping the point at the
// center of the view in place.
func (v *Viewer) OnSizeChanged(w, h int) []tile.Job {
	v.mu.Lock()
	if v.closed || w <= 0 || h <= 0 {
		v.mu.Unlock()
		return nil
	}
	old := v.doc.Layout()
	ow, oh := contentSize(old, v.zoom)
	relX, relY := 0.0, 0.0
	if ow > 0 {
		relX = (v.x + float64(v.width)/2) / ow
	}
	if oh > 0 {
		relY = (v.y + float64(v.height)/2) / oh
	}
	v.width, v.height = w, h
	lay := v.doc.Relayout(LayoutParams(v.cfg, w, h))
	nw, nh := contentSize(lay, v.zoom)
	x := relX*nw - float64(w)/2
	y := relY*nh - float64(h)/2
	zoom := v.zoom
	v.mu.Unlock()

	Logger.Debug("Viewport resized", "width", w, "height", h)
	return v.OnViewportChanged(x, y, zoom)
}

// RequestTile queues a single job outside of a viewport pass
func (v *Viewer) RequestTile(job tile.Job) {
	if job.ID.IsZero() {
		job.ID = tile.NewJobID(time.Now())
	}
	v.scheduler.Enqueue(job)
}

// Accept hands a delivered result to the memory cache. Failed results return their page error.
func (v *Viewer) Accept(res tile.Result) error {
	switch res.Status {
	case tile.StatusRendered, tile.StatusCacheHit:
		if res.Tile == nil {
			return nil
		}
		v.mu.Lock()
		closed := v.closed
		v.mu.Unlock()
		if closed {
			res.Tile.Release(v.pool.Release)
			return ErrClosed
		}
		if res.Tile.Thumbnail {
			v.cache.CacheThumbnail(res.Tile)
		} else {
			v.cache.Insert(res.Tile)
		}
		return nil
	case tile.StatusFailed:
		Logger.Warn("Page could not be rendered", "page", res.Job.Page, "error", res.Err)
		return res.Err
	default:
		return nil
	}
}

// DrainResults accepts every result already delivered without blocking and returns the failures
func (v *Viewer) DrainResults() (accepted int, failures []error) {
	for {
		select {
		case res := <-v.scheduler.Results():
			if err := v.Accept(res); err != nil {
				failures = append(failures, err)
				continue
			}
			accepted++
		default:
			return accepted, failures
		}
	}
}

// CurrentPage is the page under the center of the viewport
func (v *Viewer) CurrentPage() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.currentPageLocked()
}

func (v *Viewer) currentPageLocked() int {
	lay := v.doc.Layout()
	center := v.y + float64(v.height)/2
	if !lay.Params.Vertical {
		center = v.x + float64(v.width)/2
	}
	return lay.PageAtOffset(center, v.zoom)
}

// Position returns the clamped scroll offsets and zoom
func (v *Viewer) Position() (x, y, zoom float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.x, v.y, v.zoom
}

// SaveState captures the current page, zoom and offsets
func (v *Viewer) SaveState() ViewState {
	v.mu.Lock()
	defer v.mu.Unlock()
	lay := v.doc.Layout()
	page := v.currentPageLocked()
	center := v.y + float64(v.height)/2
	if !lay.Params.Vertical {
		center = v.x + float64(v.width)/2
	}
	pos := 0.0
	if length := lay.PageLength(page, v.zoom); length > 0 {
		pos = (center - lay.PageOffset(page, v.zoom)) / length
	}
	return ViewState{Page: page, Zoom: v.zoom, OffsetX: v.x, OffsetY: v.y, PagePosition: pos}
}

// RestoreState moves back to a saved state. The page wins over the saved offset along the
// scroll axis, so a state survives a relayout.
func (v *Viewer) RestoreState(s ViewState) []tile.Job {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	lay := v.doc.Layout()
	zoom := v.clampZoom(s.Zoom)
	page := v.doc.ValidPage(s.Page)
	center := lay.PageOffset(page, zoom) + s.PagePosition*lay.PageLength(page, zoom)
	x, y := s.OffsetX, center-float64(v.height)/2
	if !lay.Params.Vertical {
		x, y = center-float64(v.width)/2, s.OffsetY
	}
	v.mu.Unlock()
	return v.OnViewportChanged(x, y, zoom)
}

// Close stops rendering, returns every bitmap to the pool and closes the document. It is safe
// to call more than once.
func (v *Viewer) Close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	v.mu.Unlock()

	v.scheduler.Stop()
	v.cancel()
	v.wg.Wait()
drain:
	for {
		select {
		case res := <-v.scheduler.Results():
			if res.Tile != nil {
				res.Tile.Release(v.pool.Release)
			}
		default:
			break drain
		}
	}
	v.cache.Recycle()
	v.pool.Clear()

	var errs []error
	if err := v.doc.Close(); err != nil {
		errs = append(errs, err)
	}
	if v.disk != nil {
		v.disk.StopSweeper()
		if err := v.disk.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if v.renderer != nil {
		if err := v.renderer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
