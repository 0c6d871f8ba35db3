package engine

import (
	"errors"
	"image"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/drummonds/pdftiles/cache"
	"github.com/drummonds/pdftiles/engine/pdfrenderer/pdfrenderertest"
	"github.com/drummonds/pdftiles/tile"
)

func tileJob(page int, bounds tile.RectF, size float64) tile.Job {
	return tile.Job{
		ID:          tile.NewJobID(time.Now()),
		Page:        page,
		Width:       size,
		Height:      size,
		Bounds:      bounds,
		Order:       1,
		Zoom:        1,
		BestQuality: true,
	}
}

func TestScheduler_RendersTile(t *testing.T) {
	r := pdfrenderertest.New(3, 100, 100)
	doc := openTestDoc(t, r, 100, 100)
	pool := cache.NewBitmapPool(4, 1<<20)
	s := NewScheduler(doc, nil, pool, 4)
	runScheduler(t, s)

	s.Enqueue(tileJob(2, tile.RectF{Left: 0.5, Top: 0, Right: 1, Bottom: 0.5}, 32))
	res := collect(t, s.Results(), 1)[0]
	if res.Status != tile.StatusRendered || res.Err != nil {
		t.Fatalf("status = %s, err = %v", res.Status, res.Err)
	}
	b := res.Tile.Bitmap
	if b.Width != 32 || b.Height != 32 || b.Format != tile.FormatRGBA8888 {
		t.Fatalf("unexpected bitmap %dx%d %s", b.Width, b.Height, b.Format)
	}
	want := pdfrenderertest.PageColor(2)
	for _, off := range []int{0, len(b.Pix) - 4} {
		if got := b.Pix[off : off+4]; got[0] != want.R || got[1] != want.G || got[2] != want.B {
			t.Errorf("pixel at %d = %v, want %v", off, got, want)
		}
	}
	if res.Tile.Key != (tile.Key{Page: 2, Bounds: tile.RectF{Left: 0.5, Top: 0, Right: 1, Bottom: 0.5}}) {
		t.Errorf("tile key = %+v", res.Tile.Key)
	}
}

func TestRenderBounds_PlacesRegion(t *testing.T) {
	got := renderBounds(tile.RectF{Left: 0.5, Top: 0.5, Right: 1, Bottom: 1}, 100, 100)
	if want := image.Rect(-100, -100, 100, 100); got != want {
		t.Errorf("renderBounds = %v, want %v", got, want)
	}
	got = renderBounds(tile.FullPage, 64, 48)
	if want := image.Rect(0, 0, 64, 48); got != want {
		t.Errorf("renderBounds(full page) = %v, want %v", got, want)
	}
}

func TestScheduler_DiskHitSkipsEngine(t *testing.T) {
	r := pdfrenderertest.New(2, 100, 100)
	doc := openTestDoc(t, r, 100, 100)
	disk, err := cache.NewDiskCache(afero.NewMemMapFs(), "/tiles", cache.DiskOptions{MaxBytes: 10 << 20})
	if err != nil {
		t.Fatal(err)
	}
	defer disk.Close()
	pool := cache.NewBitmapPool(4, 1<<20)
	s := NewScheduler(doc, disk, pool, 4)
	runScheduler(t, s)

	job := tileJob(1, tile.FullPage, 16)
	s.Enqueue(job)
	first := collect(t, s.Results(), 1)[0]
	if first.Status != tile.StatusRendered {
		t.Fatalf("first pass status = %s, err = %v", first.Status, first.Err)
	}
	disk.Flush()

	s.Enqueue(job)
	second := collect(t, s.Results(), 1)[0]
	if second.Status != tile.StatusCacheHit {
		t.Fatalf("second pass status = %s, want %s", second.Status, tile.StatusCacheHit)
	}
	if n := r.Calls("render"); n != 1 {
		t.Errorf("engine rendered %d times, want 1", n)
	}
	if string(second.Tile.Bitmap.Pix) != string(first.Tile.Bitmap.Pix) {
		t.Error("disk tile differs from the rendered tile")
	}

	thumb := tileJob(1, tile.FullPage, 16)
	thumb.Thumbnail = true
	s.Enqueue(thumb)
	if res := collect(t, s.Results(), 1)[0]; res.Status != tile.StatusRendered {
		t.Errorf("thumbnails should bypass the disk tier, got %s", res.Status)
	}
}

func TestScheduler_PageErrorReportedOnce(t *testing.T) {
	r := pdfrenderertest.New(3, 100, 100)
	r.FailRender[2] = true
	doc := openTestDoc(t, r, 100, 100)
	s := NewScheduler(doc, nil, cache.NewBitmapPool(4, 1<<20), 8)
	runScheduler(t, s)

	for i := 0; i < 3; i++ {
		s.Enqueue(tileJob(2, tile.FullPage, 16))
	}
	s.Enqueue(tileJob(1, tile.FullPage, 16))

	results := collect(t, s.Results(), 2)
	if results[0].Status != tile.StatusFailed {
		t.Fatalf("first result = %s, want failed", results[0].Status)
	}
	var pre *PageRenderError
	if !errors.As(results[0].Err, &pre) || pre.Page != 2 {
		t.Errorf("expected PageRenderError for page 2, got %v", results[0].Err)
	}
	if results[1].Status != tile.StatusRendered || results[1].Job.Page != 1 {
		t.Errorf("second result = %s for page %d", results[1].Status, results[1].Job.Page)
	}
	select {
	case res := <-s.Results():
		t.Errorf("unexpected extra result %s for page %d", res.Status, res.Job.Page)
	default:
	}
	if n := r.Calls("render:2"); n != 1 {
		t.Errorf("failed page reached the engine %d times, want 1", n)
	}
}

func TestScheduler_StopDiscardsInFlight(t *testing.T) {
	r := pdfrenderertest.New(1, 100, 100)
	r.Block = make(chan struct{})
	doc := openTestDoc(t, r, 100, 100)
	pool := cache.NewBitmapPool(4, 1<<20)
	s := NewScheduler(doc, nil, pool, 4)
	runScheduler(t, s)

	s.Enqueue(tileJob(0, tile.FullPage, 16))
	deadline := time.Now().Add(5 * time.Second)
	for s.Pending() > 0 {
		if time.Now().After(deadline) {
			t.Fatal("worker never picked up the job")
		}
		time.Sleep(time.Millisecond)
	}
	s.Stop()
	s.Enqueue(tileJob(0, tile.FullPage, 16))
	s.Stop()
	close(r.Block)

	for pool.Stats().Free[tile.FormatRGBA8888] == 0 {
		if time.Now().After(deadline) {
			t.Fatal("discarded bitmap never returned to the pool")
		}
		time.Sleep(time.Millisecond)
	}
	select {
	case res := <-s.Results():
		t.Errorf("stopped scheduler delivered %s", res.Status)
	case <-time.After(50 * time.Millisecond):
	}
	if s.Running() {
		t.Error("scheduler should report stopped")
	}
}

func TestScheduler_ClearDropsQueued(t *testing.T) {
	doc := openTestDoc(t, pdfrenderertest.New(1, 100, 100), 100, 100)
	s := NewScheduler(doc, nil, cache.NewBitmapPool(4, 1<<20), 4)
	for i := 0; i < 5; i++ {
		s.Enqueue(tileJob(0, tile.FullPage, 16))
	}
	if n := s.Clear(); n != 5 || s.Pending() != 0 {
		t.Errorf("Clear dropped %d, %d pending", n, s.Pending())
	}
}

func TestScheduler_ScratchGrowsNeverShrinks(t *testing.T) {
	doc := openTestDoc(t, pdfrenderertest.New(1, 100, 100), 100, 100)
	s := NewScheduler(doc, nil, cache.NewBitmapPool(4, 1<<20), 1)

	steps := []struct {
		w, h         int
		wantW, wantH int
	}{
		{100, 100, 512, 512},
		{800, 300, 800, 512},
		{100, 100, 800, 512},
		{200, 900, 800, 900},
	}
	for _, st := range steps {
		sub := s.scratchFor(st.w, st.h)
		if sub.Rect.Dx() != st.w || sub.Rect.Dy() != st.h {
			t.Errorf("view %dx%d, want %dx%d", sub.Rect.Dx(), sub.Rect.Dy(), st.w, st.h)
		}
		if s.scratch.Rect.Dx() != st.wantW || s.scratch.Rect.Dy() != st.wantH {
			t.Errorf("after %dx%d scratch is %v, want %dx%d", st.w, st.h, s.scratch.Rect, st.wantW, st.wantH)
		}
	}
}

func TestScheduler_PanickingPageFailsFast(t *testing.T) {
	r := pdfrenderertest.New(3, 100, 100)
	r.PanicRender[1] = true
	doc := openTestDoc(t, r, 100, 100)
	s := NewScheduler(doc, nil, cache.NewBitmapPool(4, 1<<20), 8)

	for i := 0; i < 3; i++ {
		res := s.process(tileJob(1, tile.FullPage, 16))
		if res.Status != tile.StatusFailed {
			t.Fatalf("attempt %d: status = %s, want failed", i, res.Status)
		}
		var pre *PageRenderError
		if !errors.As(res.Err, &pre) || pre.Page != 1 {
			t.Errorf("attempt %d: expected PageRenderError for page 1, got %v", i, res.Err)
		}
	}
	if !doc.PageHasError(1) {
		t.Error("panicking page should be recorded as failed")
	}
	if n := r.Calls("render:1"); n != 1 {
		t.Errorf("panicking page reached the engine %d times, want 1", n)
	}
	if res := s.process(tileJob(0, tile.FullPage, 16)); res.Status != tile.StatusRendered {
		t.Errorf("healthy page status = %s, err = %v", res.Status, res.Err)
	}
}

func TestScheduler_StopWhileResultsFull(t *testing.T) {
	r := pdfrenderertest.New(1, 100, 100)
	doc := openTestDoc(t, r, 100, 100)
	pool := cache.NewBitmapPool(4, 1<<20)
	s := NewScheduler(doc, nil, pool, 1)
	runScheduler(t, s)

	s.Enqueue(tileJob(0, tile.FullPage, 16))
	s.Enqueue(tileJob(0, tile.FullPage, 16))
	// the second result waits on the full channel
	deadline := time.Now().Add(5 * time.Second)
	for s.Pending() > 0 || r.Calls("render") < 2 {
		if time.Now().After(deadline) {
			t.Fatal("worker never rendered both jobs")
		}
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	s.Stop()

	first := collect(t, s.Results(), 1)[0]
	if first.Status != tile.StatusRendered {
		t.Fatalf("first result = %s", first.Status)
	}
	for pool.Stats().Free[tile.FormatRGBA8888] == 0 {
		if time.Now().After(deadline) {
			t.Fatal("blocked result was never discarded")
		}
		time.Sleep(time.Millisecond)
	}
	select {
	case res := <-s.Results():
		t.Errorf("stopped scheduler delivered %s", res.Status)
	case <-time.After(50 * time.Millisecond):
	}
}
