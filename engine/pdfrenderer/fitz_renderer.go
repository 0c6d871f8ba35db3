package pdfrenderer

import (
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/go-fitz"
)

// FitzRenderer implements rendering using go-fitz (requires CGo and MuPDF).
// MuPDF gives no character geometry through go-fitz, so the text layer comes from the content stream.
type FitzRenderer struct {
}

// NewFitzRenderer creates a new Fitz-based renderer
func NewFitzRenderer() (*FitzRenderer, error) {
	return &FitzRenderer{}, nil
}

// OpenDocument loads a document from memory. go-fitz cannot authenticate, so encrypted
// documents always fail with ErrPasswordRequired.
func (r *FitzRenderer) OpenDocument(data []byte, password string) (Document, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		if errors.Is(err, fitz.ErrNeedsPassword) {
			return nil, fmt.Errorf("%w: %v", ErrPasswordRequired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if password != "" {
		Logger.Warn("MuPDF renderer ignores document passwords")
	}
	return &fitzDocument{doc: doc, data: data}, nil
}

// Close cleans up resources (no-op for Fitz renderer as each document owns its context)
func (r *FitzRenderer) Close() error {
	return nil
}

type fitzDocument struct {
	doc    *fitz.Document
	data   []byte
	text   *contentText
	raster pageRaster
}

// pageRaster keeps the last full-page raster so the tiles of one page at one zoom share it
type pageRaster struct {
	page, w, h int
	img        image.Image
}

func (c *pageRaster) get(page, w, h int, draw func() (image.Image, error)) (image.Image, error) {
	if c.img != nil && c.page == page && c.w == w && c.h == h {
		return c.img, nil
	}
	c.img = nil
	img, err := draw()
	if err != nil {
		return nil, err
	}
	c.page, c.w, c.h, c.img = page, w, h, img
	return img, nil
}

func (c *pageRaster) reset() { c.img = nil }

func (d *fitzDocument) PageCount() int { return d.doc.NumPage() }

func (d *fitzDocument) PageSize(index int) (float64, float64, error) {
	bound, err := d.doc.Bound(index)
	if err != nil {
		return 0, 0, fmt.Errorf("unable to get size of page %d: %w", index, err)
	}
	return float64(bound.Dx()), float64(bound.Dy()), nil
}

func (d *fitzDocument) OpenPage(index int) (Page, error) {
	w, h, err := d.PageSize(index)
	if err != nil {
		return nil, err
	}
	return &fitzPage{d: d, index: index, width: w, height: h}, nil
}

func (d *fitzDocument) Bookmarks() ([]Bookmark, error) {
	outlines, err := d.doc.ToC()
	if err != nil {
		return nil, fmt.Errorf("unable to read table of contents: %w", err)
	}
	if len(outlines) == 0 {
		return nil, nil
	}
	minLevel := outlines[0].Level
	for _, o := range outlines {
		minLevel = min(minLevel, o.Level)
	}
	roots, _ := buildOutline(outlines, 0, minLevel)
	return roots, nil
}

// buildOutline rebuilds the bookmark tree from go-fitz's flattened, level-annotated list
func buildOutline(outlines []fitz.Outline, i, level int) ([]Bookmark, int) {
	var out []Bookmark
	for i < len(outlines) {
		o := outlines[i]
		if o.Level < level {
			break
		}
		if o.Level > level && len(out) > 0 {
			children, next := buildOutline(outlines, i, o.Level)
			last := &out[len(out)-1]
			last.Children = append(last.Children, children...)
			i = next
			continue
		}
		out = append(out, Bookmark{Title: o.Title, Page: o.Page})
		i++
	}
	return out, i
}

func (d *fitzDocument) Close() error {
	d.raster.reset()
	return d.doc.Close()
}

func (d *fitzDocument) contentText() (*contentText, error) {
	if d.text == nil {
		ct, err := newContentText(d.data)
		if err != nil {
			return nil, err
		}
		d.text = ct
	}
	return d.text, nil
}

type fitzPage struct {
	d             *fitzDocument
	index         int
	width, height float64
}

func (p *fitzPage) Render(dst *image.NRGBA, startX, startY, sizeX, sizeY int, annotations bool) error {
	fillWhite(dst)
	if sizeX <= 0 || sizeY <= 0 || p.width <= 0 {
		return nil
	}
	full, err := p.d.raster.get(p.index, sizeX, sizeY, func() (image.Image, error) {
		img, err := p.d.doc.ImageDPI(p.index, 72*float64(sizeX)/p.width)
		if err != nil {
			return nil, err
		}
		if b := img.Bounds(); b.Dx() != sizeX || b.Dy() != sizeY {
			return imaging.Resize(img, sizeX, sizeY, imaging.Lanczos), nil
		}
		return img, nil
	})
	if err != nil {
		return fmt.Errorf("unable to render page %d: %w", p.index, err)
	}

	w, h := dst.Bounds().Dx(), dst.Bounds().Dy()
	region := imaging.Crop(full, image.Rect(-startX, -startY, -startX+w, -startY+h))
	rb := region.Bounds()
	offX, offY := max(startX, 0), max(startY, 0)
	if offX >= w || rb.Empty() {
		return nil
	}
	for y := 0; y < rb.Dy() && offY+y < h; y++ {
		src := region.Pix[region.PixOffset(0, y) : region.PixOffset(0, y)+min(rb.Dx(), w-offX)*4]
		copy(dst.Pix[dst.PixOffset(dst.Rect.Min.X+offX, dst.Rect.Min.Y+offY+y):], src)
	}
	return nil
}

func (p *fitzPage) Links() ([]Link, error) {
	links, err := p.d.doc.Links(p.index)
	if err != nil {
		return nil, fmt.Errorf("unable to read links of page %d: %w", p.index, err)
	}
	out := make([]Link, 0, len(links))
	for _, l := range links {
		out = append(out, Link{DestPage: -1, URI: l.URI})
	}
	return out, nil
}

func (p *fitzPage) Text() (TextPage, error) {
	ct, err := p.d.contentText()
	if err != nil {
		return nil, err
	}
	tp, err := ct.page(p.index)
	if err != nil {
		return nil, err
	}
	return tp, nil
}

func (p *fitzPage) PageToDevice(startX, startY, sizeX, sizeY int, r RectF) RectF {
	return pageToDevice(p.width, p.height, startX, startY, sizeX, sizeY, r)
}

func (p *fitzPage) DeviceToPage(startX, startY, sizeX, sizeY int, x, y int) (float64, float64) {
	return deviceToPage(p.width, p.height, startX, startY, sizeX, sizeY, x, y)
}

func (p *fitzPage) Close() error { return nil }
