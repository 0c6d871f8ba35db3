package engine

import (
	"math"
	"time"

	"github.com/drummonds/pdftiles/cache"
	"github.com/drummonds/pdftiles/layout"
	"github.com/drummonds/pdftiles/tile"
)

// LoaderConfig are the tiling parameters of a PagesLoader
type LoaderConfig struct {
	TileSize       float64
	ThumbnailRatio float64
	// Budget caps the tiles requested per pass
	Budget        int
	PreloadOffset float64
	PreloadPages  int
	BestQuality   bool
	Annotations   bool
}

// Viewport is the visible window in document pixels. X and Y are the scroll position of its
// top-left corner, Zoom the scale applied to the layout.
type Viewport struct {
	X, Y          float64
	Width, Height float64
	Zoom          float64
}

// PagesLoader turns a viewport into render jobs for the tiles it shows.
type PagesLoader struct {
	doc       *Document
	cache     *cache.MemoryCache
	scheduler *Scheduler
	cfg       LoaderConfig
}

// NewPagesLoader wires a loader to the memory cache and the scheduler it feeds
func NewPagesLoader(doc *Document, mem *cache.MemoryCache, scheduler *Scheduler, cfg LoaderConfig) *PagesLoader {
	return &PagesLoader{doc: doc, cache: mem, scheduler: scheduler, cfg: cfg}
}

type pageRect struct {
	x0, y0, x1, y1 float64
}

func (r pageRect) empty() bool { return r.x1 <= r.x0 || r.y1 <= r.y0 }

// ComputeVisibleCells lists every job needed to draw vp, most important first: thumbnails of the
// visible pages, then their tiles, then thumbnails of the pages around them.
func (l *PagesLoader) ComputeVisibleCells(vp Viewport) []tile.Job {
	lay := l.doc.Layout()
	if lay == nil || lay.PageCount() == 0 || vp.Zoom <= 0 {
		return nil
	}
	vertical := lay.Params.Vertical

	view := pageRect{x0: vp.X, y0: vp.Y, x1: vp.X + vp.Width, y1: vp.Y + vp.Height}
	if vertical {
		view.y0 -= l.cfg.PreloadOffset
		view.y1 += l.cfg.PreloadOffset
	} else {
		view.x0 -= l.cfg.PreloadOffset
		view.x1 += l.cfg.PreloadOffset
	}
	start, end := view.x0, view.x1
	if vertical {
		start, end = view.y0, view.y1
	}
	first, last, ok := lay.PageRange(start, end, vp.Zoom)
	if !ok {
		return nil
	}

	now := time.Now()
	var jobs []tile.Job
	for page := first; page <= last; page++ {
		jobs = append(jobs, l.thumbnailJob(lay, page, now))
	}

	order := 1
	budget := l.cfg.Budget
	for page := first; page <= last && budget > 0; page++ {
		var cells []tile.Job
		cells, order = l.pageCells(lay, page, view, vp.Zoom, order, budget, now)
		budget -= len(cells)
		jobs = append(jobs, cells...)
	}

	for off := l.cfg.PreloadPages; off >= 1; off-- {
		if p := first - off; p >= 0 {
			jobs = append(jobs, l.thumbnailJob(lay, p, now))
		}
	}
	for off := 1; off <= l.cfg.PreloadPages; off++ {
		if p := last + off; p < lay.PageCount() {
			jobs = append(jobs, l.thumbnailJob(lay, p, now))
		}
	}
	return jobs
}

// pageCells emits the grid cells of page that intersect view, row-major, numbering them from order
func (l *PagesLoader) pageCells(lay *layout.Layout, page int, view pageRect, zoom float64, order, budget int, now time.Time) ([]tile.Job, int) {
	size := lay.ScaledPageSize(page, zoom)
	if size.Width <= 0 || size.Height <= 0 {
		return nil, order
	}
	left, top := lay.SecondaryOffset(page, zoom), lay.PageOffset(page, zoom)
	if !lay.Params.Vertical {
		left, top = top, left
	}

	// view in page-local pixels
	vis := pageRect{
		x0: math.Max(view.x0-left, 0),
		y0: math.Max(view.y0-top, 0),
		x1: math.Min(view.x1-left, size.Width),
		y1: math.Min(view.y1-top, size.Height),
	}
	if vis.empty() {
		return nil, order
	}

	cols := max(1, int(math.Ceil(size.Width/l.cfg.TileSize)))
	rows := max(1, int(math.Ceil(size.Height/l.cfg.TileSize)))
	colW, rowH := size.Width/float64(cols), size.Height/float64(rows)
	firstCol, lastCol := cellSpan(vis.x0, vis.x1, colW, cols)
	firstRow, lastRow := cellSpan(vis.y0, vis.y1, rowH, rows)

	var cells []tile.Job
	for row := firstRow; row <= lastRow; row++ {
		for col := firstCol; col <= lastCol; col++ {
			if len(cells) >= budget {
				return cells, order
			}
			bounds := tile.RectF{
				Left:   float64(col) / float64(cols),
				Top:    float64(row) / float64(rows),
				Right:  float64(col+1) / float64(cols),
				Bottom: float64(row+1) / float64(rows),
			}
			cells = append(cells, tile.Job{
				ID:          tile.NewJobID(now),
				Page:        page,
				Width:       l.cfg.TileSize,
				Height:      l.cfg.TileSize,
				Bounds:      bounds,
				Order:       order,
				Zoom:        zoom,
				BestQuality: l.cfg.BestQuality,
				Annotations: l.cfg.Annotations,
			})
			order++
		}
	}
	return cells, order
}

// cellSpan returns the first and last of n cells of size step touched by [from, to)
func cellSpan(from, to, step float64, n int) (int, int) {
	first := int(math.Floor(from / step))
	last := int(math.Ceil(to/step)) - 1
	return min(max(first, 0), n-1), min(max(last, 0), n-1)
}

func (l *PagesLoader) thumbnailJob(lay *layout.Layout, page int, now time.Time) tile.Job {
	size := lay.PageSize(page)
	return tile.Job{
		ID:          tile.NewJobID(now),
		Page:        page,
		Width:       size.Width * l.cfg.ThumbnailRatio,
		Height:      size.Height * l.cfg.ThumbnailRatio,
		Bounds:      tile.FullPage,
		Thumbnail:   true,
		Order:       0,
		Annotations: l.cfg.Annotations,
	}
}

// Load enqueues the jobs for vp that the memory cache cannot serve and returns them.
// Cached tiles are promoted into the current pass.
func (l *PagesLoader) Load(vp Viewport) []tile.Job {
	var queued []tile.Job
	for _, job := range l.ComputeVisibleCells(vp) {
		if job.Thumbnail {
			if l.cache.ContainsThumbnail(job.Key()) {
				continue
			}
		} else if l.cache.LookupOrPromote(job.Key(), job.Order) {
			continue
		}
		l.scheduler.Enqueue(job)
		queued = append(queued, job)
	}
	Logger.Debug("Viewport loaded", "zoom", vp.Zoom, "x", vp.X, "y", vp.Y, "queued", len(queued))
	return queued
}
