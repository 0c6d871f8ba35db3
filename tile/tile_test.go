package tile

import (
	"image"
	"image/color"
	"testing"
	"time"
)

func TestBitmap_RGB565RoundTrip(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	src.SetNRGBA(0, 0, color.NRGBA{R: 0xff, G: 0, B: 0, A: 0xff})
	src.SetNRGBA(1, 0, color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff})

	b := NewBitmap(2, 1, FormatRGB565)
	b.CopyFrom(src)
	if b.ByteCount() != 4 {
		t.Fatalf("ByteCount = %d, want 4", b.ByteCount())
	}
	out := b.NRGBA()
	if got := out.NRGBAAt(0, 0); got != (color.NRGBA{R: 0xff, G: 0, B: 0, A: 0xff}) {
		t.Errorf("red came back as %v", got)
	}
	if got := out.NRGBAAt(1, 0); got != (color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}) {
		t.Errorf("white came back as %v", got)
	}
}

func TestBitmap_CopyFromSubImage(t *testing.T) {
	big := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	big.SetNRGBA(2, 3, color.NRGBA{R: 9, G: 8, B: 7, A: 0xff})
	sub := big.SubImage(image.Rect(2, 3, 4, 5)).(*image.NRGBA)

	b := NewBitmap(2, 2, FormatRGBA8888)
	b.CopyFrom(sub)
	if got := b.NRGBA().NRGBAAt(0, 0); got != (color.NRGBA{R: 9, G: 8, B: 7, A: 0xff}) {
		t.Errorf("top-left pixel = %v", got)
	}
}

func TestTile_ReleaseOnce(t *testing.T) {
	tl := &Tile{Bitmap: NewBitmap(1, 1, FormatRGBA8888)}
	released := 0
	tl.Release(func(*Bitmap) { released++ })
	tl.Release(func(*Bitmap) { released++ })
	if released != 1 || tl.Bitmap != nil {
		t.Errorf("released %d times, bitmap %v", released, tl.Bitmap)
	}
}

func TestJob_KeyAndIDs(t *testing.T) {
	now := time.Now()
	a := Job{ID: NewJobID(now), Page: 3, Bounds: FullPage, Width: 511.6, Height: 10.2}
	b := Job{ID: NewJobID(now), Page: 3, Bounds: FullPage}
	if a.Key() != b.Key() {
		t.Error("jobs for the same region should share a key")
	}
	if a.ID.Compare(b.ID) >= 0 {
		t.Error("job ids should be monotonic")
	}
	if w, h := a.PixelSize(); w != 512 || h != 10 {
		t.Errorf("PixelSize = %dx%d, want 512x10", w, h)
	}
}
