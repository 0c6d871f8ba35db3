package engine

import (
	"math"
	"testing"

	"github.com/drummonds/pdftiles/cache"
	"github.com/drummonds/pdftiles/engine/pdfrenderer/pdfrenderertest"
	"github.com/drummonds/pdftiles/tile"
)

func testLoaderConfig() LoaderConfig {
	return LoaderConfig{
		TileSize:       512,
		ThumbnailRatio: 0.5,
		Budget:         150,
		PreloadPages:   1,
		BestQuality:    true,
	}
}

func newTestLoader(t *testing.T, doc *Document, cfg LoaderConfig) (*PagesLoader, *cache.MemoryCache, *Scheduler) {
	t.Helper()
	pool := cache.NewBitmapPool(16, 4<<20)
	mem, err := cache.NewMemoryCache(150, 20, pool)
	if err != nil {
		t.Fatal(err)
	}
	s := NewScheduler(doc, nil, pool, 16)
	return NewPagesLoader(doc, mem, s, cfg), mem, s
}

// ten 1000x1000 pages in a 1000x2000 viewport scrolled to the top of page 1
func tenPageScenario(t *testing.T) (*Document, Viewport) {
	r := pdfrenderertest.New(10, 1000, 1000)
	doc, err := Open(r, BytesSource("ten pages"), Options{Layout: tenPageLayout()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { doc.Close() })
	return doc, Viewport{X: 0, Y: 1000, Width: 1000, Height: 2000, Zoom: 1}
}

func TestComputeVisibleCells_TenPageScenario(t *testing.T) {
	doc, vp := tenPageScenario(t)
	loader, _, _ := newTestLoader(t, doc, testLoaderConfig())

	jobs := loader.ComputeVisibleCells(vp)
	if len(jobs) != 12 {
		t.Fatalf("got %d jobs, want 8 tiles + 4 thumbnails", len(jobs))
	}

	for i, page := range []int{1, 2} {
		if !jobs[i].Thumbnail || jobs[i].Page != page || jobs[i].Order != 0 {
			t.Errorf("job %d = page %d thumbnail=%v, want thumbnail of page %d", i, jobs[i].Page, jobs[i].Thumbnail, page)
		}
		if jobs[i].Width != 500 || jobs[i].Height != 500 || jobs[i].Bounds != tile.FullPage {
			t.Errorf("thumbnail %d is %vx%v %s", i, jobs[i].Width, jobs[i].Height, jobs[i].Bounds)
		}
	}

	tiles := jobs[2:10]
	perPage := map[int]int{}
	for i, job := range tiles {
		if job.Thumbnail {
			t.Fatalf("job %d should be a tile", i+2)
		}
		if job.Order != i+1 {
			t.Errorf("tile %d has order %d, want %d", i, job.Order, i+1)
		}
		if job.Width != 512 || job.Height != 512 {
			t.Errorf("tile %d renders at %vx%v", i, job.Width, job.Height)
		}
		perPage[job.Page]++
	}
	if perPage[1] != 4 || perPage[2] != 4 {
		t.Errorf("tiles per page = %v, want 4 on pages 1 and 2", perPage)
	}

	for i, page := range []int{0, 3} {
		job := jobs[10+i]
		if !job.Thumbnail || job.Page != page {
			t.Errorf("preload job %d = page %d thumbnail=%v, want page %d", i, job.Page, job.Thumbnail, page)
		}
	}
}

func TestComputeVisibleCells_GridCoversPage(t *testing.T) {
	r := pdfrenderertest.New(1, 600, 800)
	doc := openTestDoc(t, r, 600, 800)
	loader, _, _ := newTestLoader(t, doc, testLoaderConfig())

	for _, zoom := range []float64{1, 1.7, 2.3, 4} {
		jobs := loader.ComputeVisibleCells(Viewport{Width: 1e5, Height: 1e5, Zoom: zoom})
		area := 0.0
		seen := map[tile.Key]bool{}
		for _, job := range jobs {
			if job.Thumbnail {
				continue
			}
			b := job.Bounds
			if b.Left < 0 || b.Top < 0 || b.Right > 1 || b.Bottom > 1 || b.Empty() {
				t.Fatalf("zoom %v: bounds %s outside the page", zoom, b)
			}
			if seen[job.Key()] {
				t.Fatalf("zoom %v: duplicate cell %s", zoom, b)
			}
			seen[job.Key()] = true
			area += b.Width() * b.Height()
		}
		if math.Abs(area-1) > 1e-9 {
			t.Errorf("zoom %v: cells cover %v of the page, want 1", zoom, area)
		}
		cols := math.Ceil(600 * zoom / 512)
		rows := math.Ceil(800 * zoom / 512)
		if len(seen) != int(cols*rows) {
			t.Errorf("zoom %v: %d cells, want %vx%v", zoom, len(seen), cols, rows)
		}
	}
}

func TestComputeVisibleCells_Budget(t *testing.T) {
	doc, vp := tenPageScenario(t)
	cfg := testLoaderConfig()
	cfg.Budget = 3
	loader, _, _ := newTestLoader(t, doc, cfg)

	tiles := 0
	for _, job := range loader.ComputeVisibleCells(vp) {
		if !job.Thumbnail {
			tiles++
		}
	}
	if tiles != 3 {
		t.Errorf("got %d tiles, want the budget of 3", tiles)
	}
}

func TestComputeVisibleCells_OutsideDocument(t *testing.T) {
	doc, _ := tenPageScenario(t)
	loader, _, _ := newTestLoader(t, doc, testLoaderConfig())
	if jobs := loader.ComputeVisibleCells(Viewport{Y: 50000, Width: 1000, Height: 2000, Zoom: 1}); len(jobs) != 0 {
		t.Errorf("viewport past the end produced %d jobs", len(jobs))
	}
}

func TestLoad_SecondPassHitsMemoryCache(t *testing.T) {
	doc, vp := tenPageScenario(t)
	loader, mem, s := newTestLoader(t, doc, testLoaderConfig())
	pool := cache.NewBitmapPool(16, 4<<20)

	mem.BeginPass()
	queued := loader.Load(vp)
	if len(queued) != 12 || s.Pending() != 12 {
		t.Fatalf("first pass queued %d (%d pending), want 12", len(queued), s.Pending())
	}
	for _, job := range queued {
		w, h := job.PixelSize()
		tl := &tile.Tile{Key: job.Key(), Bitmap: pool.Acquire(w, h, tile.FormatRGBA8888), Order: job.Order}
		if job.Thumbnail {
			mem.CacheThumbnail(tl)
		} else {
			mem.Insert(tl)
		}
	}
	s.Clear()

	mem.BeginPass()
	if again := loader.Load(vp); len(again) != 0 {
		t.Errorf("second pass queued %d jobs, want 0", len(again))
	}
	if mem.ActiveLen() != 8 {
		t.Errorf("ActiveLen = %d, want every visible tile promoted back", mem.ActiveLen())
	}
	if s.Pending() != 0 {
		t.Errorf("%d jobs pending after a fully cached pass", s.Pending())
	}
}
