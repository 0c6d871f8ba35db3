package tile

import (
	"image"
	"image/color"
)

// Format is the pixel layout of a Bitmap
type Format int

const (
	// FormatRGBA8888 stores non-premultiplied RGBA, 4 bytes per pixel
	FormatRGBA8888 Format = iota
	// FormatRGB565 stores 16-bit little-endian RGB, 2 bytes per pixel
	FormatRGB565
)

// BytesPerPixel returns the storage size of one pixel
func (f Format) BytesPerPixel() int {
	if f == FormatRGB565 {
		return 2
	}
	return 4
}

func (f Format) String() string {
	if f == FormatRGB565 {
		return "rgb565"
	}
	return "rgba8888"
}

// FormatFor picks the bitmap format for a quality setting
func FormatFor(bestQuality bool) Format {
	if bestQuality {
		return FormatRGBA8888
	}
	return FormatRGB565
}

// Bitmap is a pooled pixel buffer
type Bitmap struct {
	Format Format
	Width  int
	Height int
	Pix    []byte
}

// NewBitmap allocates a bitmap, pixels are zeroed
func NewBitmap(width, height int, format Format) *Bitmap {
	return &Bitmap{
		Format: format,
		Width:  width,
		Height: height,
		Pix:    make([]byte, width*height*format.BytesPerPixel()),
	}
}

// Stride is the number of bytes per row
func (b *Bitmap) Stride() int { return b.Width * b.Format.BytesPerPixel() }

// ByteCount is the size of the pixel buffer
func (b *Bitmap) ByteCount() int { return len(b.Pix) }

// Fill sets every pixel to opaque white
func (b *Bitmap) Fill() {
	for i := range b.Pix {
		b.Pix[i] = 0xff
	}
}

// CopyFrom converts src into b. src must be exactly b.Width x b.Height.
func (b *Bitmap) CopyFrom(src *image.NRGBA) {
	bounds := src.Bounds()
	w, h := min(bounds.Dx(), b.Width), min(bounds.Dy(), b.Height)
	for y := 0; y < h; y++ {
		srcRow := src.Pix[src.PixOffset(bounds.Min.X, bounds.Min.Y+y):]
		dstRow := b.Pix[y*b.Stride():]
		if b.Format == FormatRGBA8888 {
			copy(dstRow[:w*4], srcRow[:w*4])
			continue
		}
		for x := 0; x < w; x++ {
			r, g, bl := srcRow[x*4], srcRow[x*4+1], srcRow[x*4+2]
			v := uint16(r>>3)<<11 | uint16(g>>2)<<5 | uint16(bl>>3)
			dstRow[x*2] = byte(v)
			dstRow[x*2+1] = byte(v >> 8)
		}
	}
}

// NRGBA returns the bitmap as an image. RGBA bitmaps share their buffer, RGB565 ones are expanded into a copy.
func (b *Bitmap) NRGBA() *image.NRGBA {
	rect := image.Rect(0, 0, b.Width, b.Height)
	if b.Format == FormatRGBA8888 {
		return &image.NRGBA{Pix: b.Pix, Stride: b.Stride(), Rect: rect}
	}
	img := image.NewNRGBA(rect)
	for y := 0; y < b.Height; y++ {
		for x := 0; x < b.Width; x++ {
			o := y*b.Stride() + x*2
			v := uint16(b.Pix[o]) | uint16(b.Pix[o+1])<<8
			r := byte(v>>11) & 0x1f
			g := byte(v>>5) & 0x3f
			bl := byte(v) & 0x1f
			img.SetNRGBA(x, y, color.NRGBA{R: r<<3 | r>>2, G: g<<2 | g>>4, B: bl<<3 | bl>>2, A: 0xff})
		}
	}
	return img
}
