package engine

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"

	"github.com/drummonds/pdftiles/engine/pdfrenderer"
	"github.com/drummonds/pdftiles/layout"
	"github.com/drummonds/pdftiles/metrics"
)

// charTolerance is the slack, in points, when hit-testing characters
const charTolerance = 5.0

// Options control how a document is opened
type Options struct {
	Password string
	// UserPages selects and orders document pages; nil shows every page once.
	UserPages []int
	Layout    layout.Params
}

// Document owns a native document and its page handles. All native calls go through mu.
type Document struct {
	mu       sync.Mutex
	native   pdfrenderer.Document
	hash     string
	closed   bool
	pages    map[int]pdfrenderer.Page // by document page
	pageErrs map[int]*PageRenderError // by document page

	userPages     []int // nil means identity
	documentPages int
	original      []layout.Size // by display page

	layout atomic.Pointer[layout.Layout]
}

// Open reads src and opens it with renderer. Failures are returned as *OpenError.
func Open(renderer pdfrenderer.Renderer, src Source, opts Options) (*Document, error) {
	data, err := src.ReadAll()
	if err != nil {
		return nil, &OpenError{Kind: OpenErrorIO, Err: err}
	}
	native, err := renderer.OpenDocument(data, opts.Password)
	if err != nil {
		kind := OpenErrorCorrupt
		if errors.Is(err, pdfrenderer.ErrPasswordRequired) {
			kind = OpenErrorWrongPassword
		}
		Logger.Error("Unable to open document", "kind", kind, "error", err)
		return nil, &OpenError{Kind: kind, Err: err}
	}

	d := &Document{
		native:        native,
		hash:          calculateHash(data),
		pages:         make(map[int]pdfrenderer.Page),
		pageErrs:      make(map[int]*PageRenderError),
		documentPages: native.PageCount(),
	}
	if opts.UserPages != nil {
		d.userPages = d.validUserPages(deleteDuplicatedPages(opts.UserPages))
	}

	// duplicated pages share one size lookup
	sizes := make(map[int]layout.Size)
	d.original = make([]layout.Size, d.PageCount())
	for i := range d.original {
		docPage := d.DocumentPage(i)
		size, ok := sizes[docPage]
		if !ok {
			w, h, err := native.PageSize(docPage)
			if err != nil {
				Logger.Warn("Unable to read page size, page will be empty", "page", docPage, "error", err)
			}
			size = layout.Size{Width: int(w), Height: int(h)}
			sizes[docPage] = size
		}
		d.original[i] = size
	}
	d.Relayout(opts.Layout)
	Logger.Info("Document opened", "hash", d.hash, "pages", d.PageCount(), "documentPages", d.documentPages)
	return d, nil
}

// deleteDuplicatedPages collapses runs of the same page
func deleteDuplicatedPages(pages []int) []int {
	out := make([]int, 0, len(pages))
	for i, p := range pages {
		if i > 0 && pages[i-1] == p {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (d *Document) validUserPages(pages []int) []int {
	out := pages[:0]
	for _, p := range pages {
		if p < 0 || p >= d.documentPages {
			Logger.Warn("Ignoring user page outside the document", "page", p, "documentPages", d.documentPages)
			continue
		}
		out = append(out, p)
	}
	return out
}

// Hash is the md5 of the document content
func (d *Document) Hash() string { return d.hash }

// PageCount is the number of displayed pages
func (d *Document) PageCount() int {
	if d.userPages != nil {
		return len(d.userPages)
	}
	return d.documentPages
}

// DocumentPage maps a displayed page to the native page index, -1 when out of range
func (d *Document) DocumentPage(page int) int {
	if page < 0 || page >= d.PageCount() {
		return -1
	}
	if d.userPages != nil {
		return d.userPages[page]
	}
	return page
}

// ValidPage clamps page into the displayed range
func (d *Document) ValidPage(page int) int {
	if page <= 0 {
		return 0
	}
	if n := d.PageCount(); page >= n {
		return n - 1
	}
	return page
}

// PageSize returns the original size of a displayed page
func (d *Document) PageSize(page int) layout.Size {
	if page < 0 || page >= len(d.original) {
		return layout.Size{}
	}
	return d.original[page]
}

// Layout returns the current geometry snapshot
func (d *Document) Layout() *layout.Layout { return d.layout.Load() }

// Relayout rebuilds geometry for new layout parameters and publishes it
func (d *Document) Relayout(p layout.Params) *layout.Layout {
	l := layout.Compute(p, d.original)
	d.layout.Store(l)
	return l
}

// PageHasError reports whether a displayed page previously failed to open or render
func (d *Document) PageHasError(page int) bool {
	return d.PageError(page) != nil
}

// PageError returns the recorded failure of a page, if any
func (d *Document) PageError(page int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if pre, failed := d.pageErrs[d.DocumentPage(page)]; failed {
		return pre
	}
	return nil
}

// RecordPageError marks a page as failed so later work on it fails fast. The first recorded error wins.
func (d *Document) RecordPageError(page int, err error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	docPage := d.DocumentPage(page)
	if docPage < 0 {
		return &PageRenderError{Page: page, Err: err}
	}
	if pre, failed := d.pageErrs[docPage]; failed {
		return pre
	}
	return d.recordErrorLocked(page, docPage, err)
}

func (d *Document) recordErrorLocked(page, docPage int, err error) *PageRenderError {
	var pre *PageRenderError
	if !errors.As(err, &pre) {
		pre = &PageRenderError{Page: page, Err: err}
	}
	d.pageErrs[docPage] = pre
	metrics.PageErrors.Inc()
	Logger.Warn("Page failed, it will not be retried", "page", page, "documentPage", docPage, "error", err)
	return pre
}

// checkLocked resolves a displayed page, failing fast for closed documents and errored pages
func (d *Document) checkLocked(page int) (int, error) {
	if d.closed {
		return -1, ErrClosed
	}
	docPage := d.DocumentPage(page)
	if docPage < 0 {
		return -1, &PageRenderError{Page: page, Err: ErrPageOutOfRange}
	}
	if pre, failed := d.pageErrs[docPage]; failed {
		return docPage, pre
	}
	return docPage, nil
}

// OpenPage makes a page resident. Opening an open page is a no-op.
func (d *Document) OpenPage(page int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	docPage, err := d.checkLocked(page)
	if err != nil {
		return err
	}
	if _, ok := d.pages[docPage]; ok {
		return nil
	}
	p, err := d.native.OpenPage(docPage)
	if err != nil {
		return d.recordErrorLocked(page, docPage, err)
	}
	d.pages[docPage] = p
	return nil
}

// RenderRegion draws a resident page into dst, scaled to fill bounds (which may extend past dst).
func (d *Document) RenderRegion(page int, dst *image.NRGBA, bounds image.Rectangle, annotations bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	docPage, err := d.checkLocked(page)
	if err != nil {
		return err
	}
	p, ok := d.pages[docPage]
	if !ok {
		return &PageRenderError{Page: page, Err: fmt.Errorf("page not opened")}
	}
	if err := p.Render(dst, bounds.Min.X, bounds.Min.Y, bounds.Dx(), bounds.Dy(), annotations); err != nil {
		return d.recordErrorLocked(page, docPage, err)
	}
	return nil
}

// withPage runs fn on a page, opening and closing a transient handle when it is not resident
func (d *Document) withPage(page int, fn func(pdfrenderer.Page) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	docPage, err := d.checkLocked(page)
	if err != nil {
		return err
	}
	if p, ok := d.pages[docPage]; ok {
		return fn(p)
	}
	p, err := d.native.OpenPage(docPage)
	if err != nil {
		return d.recordErrorLocked(page, docPage, err)
	}
	defer func() {
		if err := p.Close(); err != nil {
			Logger.Debug("Failed closing transient page", "page", page, "error", err)
		}
	}()
	return fn(p)
}

func (d *Document) withText(page int, fn func(pdfrenderer.TextPage) error) error {
	return d.withPage(page, func(p pdfrenderer.Page) error {
		tp, err := p.Text()
		if err != nil {
			return err
		}
		defer tp.Close()
		return fn(tp)
	})
}

// Links returns the links of a page
func (d *Document) Links(page int) ([]pdfrenderer.Link, error) {
	var links []pdfrenderer.Link
	err := d.withPage(page, func(p pdfrenderer.Page) error {
		var err error
		links, err = p.Links()
		return err
	})
	return links, err
}

// PageText returns all text on a page
func (d *Document) PageText(page int) (string, error) {
	var text string
	err := d.withText(page, func(tp pdfrenderer.TextPage) error {
		var err error
		text, err = tp.Text()
		return err
	})
	return text, err
}

// PageTextRange returns count characters starting at start
func (d *Document) PageTextRange(page, start, count int) (string, error) {
	var text string
	err := d.withText(page, func(tp pdfrenderer.TextPage) error {
		var err error
		text, err = tp.TextRange(start, count)
		return err
	})
	return text, err
}

// CharIndexAt returns the character under a page-space point, -1 when there is none
func (d *Document) CharIndexAt(page int, x, y float64) (int, error) {
	idx := -1
	err := d.withText(page, func(tp pdfrenderer.TextPage) error {
		idx = tp.CharIndexAt(x, y, charTolerance, charTolerance)
		return nil
	})
	return idx, err
}

// TextRects returns the page-space rectangles covering a character range
func (d *Document) TextRects(page, start, count int) ([]pdfrenderer.RectF, error) {
	var rects []pdfrenderer.RectF
	err := d.withText(page, func(tp pdfrenderer.TextPage) error {
		var err error
		rects, err = tp.TextRects(start, count)
		return err
	})
	return rects, err
}

// PageMatch is a search hit with the rectangles it covers
type PageMatch struct {
	pdfrenderer.Match
	Rects []pdfrenderer.RectF
}

// SearchPage finds query on one page
func (d *Document) SearchPage(page int, query string, matchCase, wholeWord bool) ([]PageMatch, error) {
	var out []PageMatch
	err := d.withText(page, func(tp pdfrenderer.TextPage) error {
		matches, err := tp.Search(query, matchCase, wholeWord)
		if err != nil {
			return err
		}
		for _, m := range matches {
			rects, err := tp.TextRects(m.Start, m.Count)
			if err != nil {
				return err
			}
			out = append(out, PageMatch{Match: m, Rects: rects})
		}
		return nil
	})
	return out, err
}

// MapPageRectToDevice maps a page-space rectangle into a page drawn at bounds
func (d *Document) MapPageRectToDevice(page int, bounds image.Rectangle, r pdfrenderer.RectF) (pdfrenderer.RectF, error) {
	var out pdfrenderer.RectF
	err := d.withPage(page, func(p pdfrenderer.Page) error {
		out = p.PageToDevice(bounds.Min.X, bounds.Min.Y, bounds.Dx(), bounds.Dy(), r)
		return nil
	})
	return out, err
}

// MapDeviceToPage maps a device pixel of a page drawn at bounds back to page space
func (d *Document) MapDeviceToPage(page int, bounds image.Rectangle, x, y int) (float64, float64, error) {
	var px, py float64
	err := d.withPage(page, func(p pdfrenderer.Page) error {
		px, py = p.DeviceToPage(bounds.Min.X, bounds.Min.Y, bounds.Dx(), bounds.Dy(), x, y)
		return nil
	})
	return px, py, err
}

// Bookmarks returns the document outline
func (d *Document) Bookmarks() ([]pdfrenderer.Bookmark, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}
	return d.native.Bookmarks()
}

// Close closes every page handle and then the document. Later calls do nothing.
func (d *Document) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	for docPage, p := range d.pages {
		if err := p.Close(); err != nil {
			Logger.Warn("Failed closing page", "page", docPage, "error", err)
		}
	}
	d.pages = nil
	if err := d.native.Close(); err != nil {
		return fmt.Errorf("unable to close document: %w", err)
	}
	Logger.Debug("Document closed", "hash", d.hash)
	return nil
}
