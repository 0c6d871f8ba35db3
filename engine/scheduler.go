package engine

import (
	"context"
	"fmt"
	"image"
	"math"
	"sync"
	"time"

	"github.com/drummonds/pdftiles/cache"
	"github.com/drummonds/pdftiles/metrics"
	"github.com/drummonds/pdftiles/tile"
)

// minScratchSize is the smallest edge of the reusable render buffer
const minScratchSize = 512

// Scheduler renders queued jobs one at a time on a single worker goroutine.
type Scheduler struct {
	doc     *Document
	disk    *cache.DiskCache // nil disables the disk tier
	pool    *cache.BitmapPool
	results chan tile.Result

	mu       sync.Mutex
	queue    []tile.Job
	running  bool
	halt     chan struct{} // closed by Stop, replaced by Start
	reported map[int]bool  // pages whose failure was already delivered
	wake     chan struct{}

	// scratch is only touched by the worker
	scratch *image.NRGBA
}

// NewScheduler creates a running scheduler delivering into a channel of resultQueue slots
func NewScheduler(doc *Document, disk *cache.DiskCache, pool *cache.BitmapPool, resultQueue int) *Scheduler {
	if resultQueue <= 0 {
		resultQueue = 1
	}
	return &Scheduler{
		doc:      doc,
		disk:     disk,
		pool:     pool,
		results:  make(chan tile.Result, resultQueue),
		running:  true,
		halt:     make(chan struct{}),
		reported: make(map[int]bool),
		wake:     make(chan struct{}, 1),
	}
}

// Results is where rendered tiles and page failures are delivered
func (s *Scheduler) Results() <-chan tile.Result { return s.results }

// Enqueue appends a job. Jobs are processed in arrival order.
func (s *Scheduler) Enqueue(job tile.Job) {
	s.mu.Lock()
	s.queue = append(s.queue, job)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Clear drops every job not yet picked up by the worker
func (s *Scheduler) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.queue)
	for _, job := range s.queue {
		metrics.JobsProcessed.WithLabelValues(string(tile.StatusDiscarded)).Inc()
		Logger.Debug("Dropping stale job", "job", job.ID, "page", job.Page)
	}
	s.queue = s.queue[:0]
	return n
}

// Pending is the number of queued jobs
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Start resumes delivery after Stop
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		s.running = true
		s.halt = make(chan struct{})
	}
}

// Stop drops queued jobs and discards the results of jobs already in flight
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.running {
		s.running = false
		close(s.halt)
	}
	s.mu.Unlock()
	s.Clear()
}

// Running reports whether results are being delivered
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) next() (tile.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return tile.Job{}, false
	}
	job := s.queue[0]
	s.queue = s.queue[1:]
	return job, true
}

// Run processes jobs until ctx is cancelled
func (s *Scheduler) Run(ctx context.Context) {
	Logger.Debug("Render worker started", "document", s.doc.Hash())
	defer Logger.Debug("Render worker stopped", "document", s.doc.Hash())
	for {
		job, ok := s.next()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-s.wake:
				continue
			}
		}
		res := s.process(job)
		if !s.deliver(ctx, res) {
			s.discard(res)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// deliver hands a result to the owner, blocking while the result channel is full
func (s *Scheduler) deliver(ctx context.Context, res tile.Result) bool {
	s.mu.Lock()
	running, halt := s.running, s.halt
	s.mu.Unlock()
	if res.Status == tile.StatusDiscarded || !running {
		return false
	}
	if res.Status == tile.StatusFailed {
		s.mu.Lock()
		page := s.doc.DocumentPage(res.Job.Page)
		already := s.reported[page]
		s.reported[page] = true
		s.mu.Unlock()
		if already {
			metrics.JobsProcessed.WithLabelValues(string(tile.StatusFailed)).Inc()
			return false
		}
	}
	select {
	case s.results <- res:
		metrics.JobsProcessed.WithLabelValues(string(res.Status)).Inc()
		return true
	case <-halt:
		return false
	case <-ctx.Done():
		return false
	}
}

func (s *Scheduler) discard(res tile.Result) {
	if res.Tile != nil {
		res.Tile.Release(s.pool.Release)
	}
	if res.Status != tile.StatusFailed {
		metrics.JobsProcessed.WithLabelValues(string(tile.StatusDiscarded)).Inc()
	}
}

// process renders one job. A panic inside the engine becomes a page failure.
func (s *Scheduler) process(job tile.Job) (res tile.Result) {
	res = tile.Result{Job: job}
	defer func() {
		if r := recover(); r != nil {
			Logger.Error("Recovered from panic while rendering", "page", job.Page, "panic", r)
			res = s.failed(job, s.doc.RecordPageError(job.Page, fmt.Errorf("render panic: %v", r)))
		}
	}()

	w, h := job.PixelSize()
	if w <= 0 || h <= 0 || job.Bounds.Empty() {
		res.Status = tile.StatusDiscarded
		return res
	}
	if err := s.doc.PageError(job.Page); err != nil {
		return s.failed(job, err)
	}
	format := tile.FormatFor(job.BestQuality)

	var diskKey string
	if s.disk != nil && !job.Thumbnail {
		diskKey = cache.Key(s.doc.Hash(), s.doc.DocumentPage(job.Page), job.Bounds, job.Zoom)
		if img, ok := s.disk.Load(diskKey); ok {
			if b := img.Bounds(); b.Dx() == w && b.Dy() == h {
				bitmap := s.pool.Acquire(w, h, format)
				bitmap.CopyFrom(img)
				metrics.TilesRendered.WithLabelValues(metrics.SourceDisk).Inc()
				res.Status = tile.StatusCacheHit
				res.Tile = &tile.Tile{Key: job.Key(), Bitmap: bitmap, Order: job.Order}
				return res
			}
			Logger.Debug("Cached tile has the wrong size, rendering", "page", job.Page, "key", diskKey)
		}
	}

	if err := s.doc.OpenPage(job.Page); err != nil {
		return s.failed(job, err)
	}
	start := time.Now()
	dst := s.scratchFor(w, h)
	if err := s.doc.RenderRegion(job.Page, dst, renderBounds(job.Bounds, w, h), job.Annotations); err != nil {
		return s.failed(job, err)
	}
	metrics.RenderDuration.Observe(time.Since(start).Seconds())
	metrics.TilesRendered.WithLabelValues(metrics.SourceEngine).Inc()

	if diskKey != "" {
		s.disk.SaveAsync(diskKey, dst)
	}
	bitmap := s.pool.Acquire(w, h, format)
	bitmap.CopyFrom(dst)
	res.Status = tile.StatusRendered
	res.Tile = &tile.Tile{Key: job.Key(), Bitmap: bitmap, Order: job.Order}
	return res
}

func (s *Scheduler) failed(job tile.Job, err error) tile.Result {
	return tile.Result{Job: job, Status: tile.StatusFailed, Err: err}
}

// scratchFor returns a w x h view of the render buffer, growing it when needed. It never shrinks.
func (s *Scheduler) scratchFor(w, h int) *image.NRGBA {
	cw, ch := 0, 0
	if s.scratch != nil {
		cw, ch = s.scratch.Rect.Dx(), s.scratch.Rect.Dy()
	}
	if w > cw || h > ch {
		s.scratch = image.NewNRGBA(image.Rect(0, 0, max(w, cw, minScratchSize), max(h, ch, minScratchSize)))
	}
	return s.scratch.SubImage(image.Rect(0, 0, w, h)).(*image.NRGBA)
}

// renderBounds places the whole page so that the relative region rel lands on a w x h buffer
func renderBounds(rel tile.RectF, w, h int) image.Rectangle {
	pageW := float64(w) / rel.Width()
	pageH := float64(h) / rel.Height()
	x := int(math.Round(-rel.Left * pageW))
	y := int(math.Round(-rel.Top * pageH))
	return image.Rect(x, y, x+int(math.Round(pageW)), y+int(math.Round(pageH)))
}
