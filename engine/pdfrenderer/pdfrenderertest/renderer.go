// Package pdfrenderertest provides an in-memory pdfrenderer.Renderer for tests.
package pdfrenderertest

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"strings"
	"sync"

	"github.com/drummonds/pdftiles/engine/pdfrenderer"
)

// ErrInjected is the error returned for pages configured to fail
var ErrInjected = errors.New("injected page failure")

// Renderer produces documents whose pages render a colour derived from the page index.
type Renderer struct {
	Pages []pdfrenderer.RectF // only Right (width) and Top (height) are used
	// Password, when set, must be supplied to open the document
	Password string
	// Corrupt makes every open fail with pdfrenderer.ErrCorrupt
	Corrupt bool
	// FailOpen and FailRender name pages whose open or render fails
	FailOpen   map[int]bool
	FailRender map[int]bool
	// PanicRender names pages whose render panics
	PanicRender map[int]bool
	// PageText is returned by the text layer, keyed by page
	PageText map[int]string
	// Block, when set, is received from before every render
	Block chan struct{}

	mu     sync.Mutex
	calls  map[string]int
	docs   []*Document
	closed bool
}

// New creates a renderer with count pages of width x height points
func New(count int, width, height float64) *Renderer {
	r := &Renderer{FailOpen: map[int]bool{}, FailRender: map[int]bool{}, PanicRender: map[int]bool{}, PageText: map[int]string{}}
	for i := 0; i < count; i++ {
		r.Pages = append(r.Pages, pdfrenderer.RectF{Right: width, Top: height})
	}
	return r
}

func (r *Renderer) count(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = map[string]int{}
	}
	r.calls[name]++
}

// Calls returns how often an operation ran, e.g. "render", "open_page:3"
func (r *Renderer) Calls(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[name]
}

// Documents returns every document opened so far
func (r *Renderer) Documents() []*Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Document(nil), r.docs...)
}

// PageColor is the fill colour of a rendered page
func PageColor(page int) color.NRGBA {
	return color.NRGBA{R: byte(page * 37), G: byte(page * 11), B: 200, A: 0xff}
}

func (r *Renderer) OpenDocument(data []byte, password string) (pdfrenderer.Document, error) {
	r.count("open_document")
	if r.Corrupt {
		return nil, fmt.Errorf("%w: bad header", pdfrenderer.ErrCorrupt)
	}
	if r.Password != "" && password != r.Password {
		return nil, pdfrenderer.ErrPasswordRequired
	}
	d := &Document{r: r, open: map[int]int{}}
	r.mu.Lock()
	r.docs = append(r.docs, d)
	r.mu.Unlock()
	return d, nil
}

func (r *Renderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// Document is a fake open document
type Document struct {
	r      *Renderer
	mu     sync.Mutex
	open   map[int]int
	closed int
}

// OpenPages is the number of page handles not yet closed
func (d *Document) OpenPages() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.open {
		n += c
	}
	return n
}

// CloseCount is how often Close was called
func (d *Document) CloseCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *Document) PageCount() int { return len(d.r.Pages) }

func (d *Document) PageSize(index int) (float64, float64, error) {
	if index < 0 || index >= len(d.r.Pages) {
		return 0, 0, fmt.Errorf("page %d out of range", index)
	}
	p := d.r.Pages[index]
	return p.Right, p.Top, nil
}

func (d *Document) OpenPage(index int) (pdfrenderer.Page, error) {
	d.r.count(fmt.Sprintf("open_page:%d", index))
	if d.r.FailOpen[index] {
		return nil, ErrInjected
	}
	w, h, err := d.PageSize(index)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.open[index]++
	d.mu.Unlock()
	return &Page{d: d, index: index, width: w, height: h}, nil
}

func (d *Document) Bookmarks() ([]pdfrenderer.Bookmark, error) {
	var out []pdfrenderer.Bookmark
	for i := range d.r.Pages {
		out = append(out, pdfrenderer.Bookmark{Title: fmt.Sprintf("Page %d", i+1), Page: i})
	}
	return out, nil
}

func (d *Document) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed++
	return nil
}

// Page is a fake open page
type Page struct {
	d             *Document
	index         int
	width, height float64
}

// Render paints the visible part of the page with PageColor and leaves the rest white
func (p *Page) Render(dst *image.NRGBA, startX, startY, sizeX, sizeY int, annotations bool) error {
	if p.d.r.Block != nil {
		<-p.d.r.Block
	}
	p.d.r.count("render")
	p.d.r.count(fmt.Sprintf("render:%d", p.index))
	if p.d.r.FailRender[p.index] {
		return ErrInjected
	}
	if p.d.r.PanicRender[p.index] {
		panic(fmt.Sprintf("render of page %d blew up", p.index))
	}
	c := PageColor(p.index)
	b := dst.Bounds()
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			px := color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
			if x >= startX && x < startX+sizeX && y >= startY && y < startY+sizeY {
				px = c
			}
			dst.SetNRGBA(b.Min.X+x, b.Min.Y+y, px)
		}
	}
	return nil
}

func (p *Page) Links() ([]pdfrenderer.Link, error) {
	return []pdfrenderer.Link{{
		Bounds:   pdfrenderer.RectF{Left: 10, Top: p.height - 10, Right: 110, Bottom: p.height - 30},
		DestPage: (p.index + 1) % len(p.d.r.Pages),
	}}, nil
}

func (p *Page) Text() (pdfrenderer.TextPage, error) {
	return &TextPage{text: []rune(p.d.r.PageText[p.index])}, nil
}

func (p *Page) PageToDevice(startX, startY, sizeX, sizeY int, r pdfrenderer.RectF) pdfrenderer.RectF {
	sx, sy := float64(sizeX)/p.width, float64(sizeY)/p.height
	return pdfrenderer.RectF{
		Left:   float64(startX) + r.Left*sx,
		Top:    float64(startY) + (p.height-r.Top)*sy,
		Right:  float64(startX) + r.Right*sx,
		Bottom: float64(startY) + (p.height-r.Bottom)*sy,
	}
}

func (p *Page) DeviceToPage(startX, startY, sizeX, sizeY int, x, y int) (float64, float64) {
	return float64(x-startX) * p.width / float64(sizeX), p.height - float64(y-startY)*p.height/float64(sizeY)
}

func (p *Page) Close() error {
	p.d.mu.Lock()
	defer p.d.mu.Unlock()
	p.d.open[p.index]--
	return nil
}

// TextPage lays characters out on one line, 10 points each
type TextPage struct {
	text []rune
}

func (t *TextPage) CharCount() int { return len(t.text) }

func (t *TextPage) Text() (string, error) { return string(t.text), nil }

func (t *TextPage) TextRange(start, count int) (string, error) {
	end := min(start+count, len(t.text))
	if start < 0 || start > end {
		return "", fmt.Errorf("range %d+%d out of bounds", start, count)
	}
	return string(t.text[start:end]), nil
}

func (t *TextPage) CharIndexAt(x, y, tolX, tolY float64) int {
	i := int(x / 10)
	if x < 0 || i >= len(t.text) {
		return -1
	}
	return i
}

func (t *TextPage) TextRects(start, count int) ([]pdfrenderer.RectF, error) {
	if count <= 0 {
		return nil, nil
	}
	return []pdfrenderer.RectF{{Left: float64(start) * 10, Top: 20, Right: float64(start+count) * 10, Bottom: 10}}, nil
}

func (t *TextPage) Search(query string, matchCase, wholeWord bool) ([]pdfrenderer.Match, error) {
	hay, needle := string(t.text), query
	if !matchCase {
		hay, needle = strings.ToLower(hay), strings.ToLower(needle)
	}
	var matches []pdfrenderer.Match
	if needle == "" {
		return nil, nil
	}
	runes := []rune(hay)
	n := []rune(needle)
	for i := 0; i+len(n) <= len(runes); i++ {
		if string(runes[i:i+len(n)]) == needle {
			matches = append(matches, pdfrenderer.Match{Start: i, Count: len(n)})
		}
	}
	return matches, nil
}

func (t *TextPage) Close() error { return nil }
