// Package tile holds the value types shared by the layout, cache and render packages.
package tile

import "fmt"

// RectF is a rectangle in page-relative coordinates, each edge in [0,1].
type RectF struct {
	Left   float64
	Top    float64
	Right  float64
	Bottom float64
}

// FullPage covers the whole page
var FullPage = RectF{Left: 0, Top: 0, Right: 1, Bottom: 1}

// Width returns the relative width
func (r RectF) Width() float64 { return r.Right - r.Left }

// Height returns the relative height
func (r RectF) Height() float64 { return r.Bottom - r.Top }

// Empty reports whether the rectangle has no area
func (r RectF) Empty() bool { return r.Right <= r.Left || r.Bottom <= r.Top }

func (r RectF) String() string {
	return fmt.Sprintf("[%g,%g,%g,%g]", r.Left, r.Top, r.Right, r.Bottom)
}

// Key identifies a tile. Two tiles with the same key are the same tile regardless of pixels.
type Key struct {
	Page      int
	Bounds    RectF
	Thumbnail bool
}

// Tile is a rendered rectangular sub-region of a page
type Tile struct {
	Key
	Bitmap *Bitmap
	// Order is the cache order of the pass that last requested the tile, lower is more important.
	Order int
}

// Release hands the bitmap back to fn and clears the tile's reference to it.
func (t *Tile) Release(fn func(*Bitmap)) {
	if t == nil || t.Bitmap == nil {
		return
	}
	b := t.Bitmap
	t.Bitmap = nil
	fn(b)
}
