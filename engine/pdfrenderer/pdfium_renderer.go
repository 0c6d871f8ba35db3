package pdfrenderer

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/klippa-app/go-pdfium"
	"github.com/klippa-app/go-pdfium/enums"
	pdfium_errors "github.com/klippa-app/go-pdfium/errors"
	"github.com/klippa-app/go-pdfium/references"
	"github.com/klippa-app/go-pdfium/requests"
	"github.com/klippa-app/go-pdfium/responses"
	"github.com/klippa-app/go-pdfium/webassembly"
)

// PDFiumRenderer implements rendering using go-pdfium with WebAssembly (pure Go, no CGo)
type PDFiumRenderer struct {
	// one instance serves every document, calls into it are serialized
	mu       sync.Mutex
	pool     pdfium.Pool
	instance pdfium.Pdfium
}

// NewPDFiumRenderer creates a new PDFium-based renderer using WebAssembly
func NewPDFiumRenderer() (*PDFiumRenderer, error) {
	pool, err := webassembly.Init(webassembly.Config{
		MinIdle:  1,
		MaxIdle:  1,
		MaxTotal: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PDFium WebAssembly: %w", err)
	}

	instance, err := pool.GetInstance(time.Second * 30)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to get PDFium instance: %w", err)
	}

	return &PDFiumRenderer{
		pool:     pool,
		instance: instance,
	}, nil
}

// OpenDocument loads a document from memory
func (r *PDFiumRenderer) OpenDocument(data []byte, password string) (Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req := &requests.OpenDocument{File: &data}
	if password != "" {
		req.Password = &password
	}
	doc, err := r.instance.OpenDocument(req)
	if err != nil {
		switch {
		case errors.Is(err, pdfium_errors.ErrPassword):
			return nil, fmt.Errorf("%w: %v", ErrPasswordRequired, err)
		case errors.Is(err, pdfium_errors.ErrFormat), errors.Is(err, pdfium_errors.ErrFile):
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		return nil, fmt.Errorf("unable to open PDF document: %w", err)
	}

	pageCount, err := r.instance.FPDF_GetPageCount(&requests.FPDF_GetPageCount{Document: doc.Document})
	if err != nil {
		r.instance.FPDF_CloseDocument(&requests.FPDF_CloseDocument{Document: doc.Document})
		return nil, fmt.Errorf("unable to get page count: %w", err)
	}
	return &pdfiumDocument{r: r, doc: doc.Document, pageCount: pageCount.PageCount}, nil
}

// Close cleans up resources used by the PDFium renderer
func (r *PDFiumRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pool != nil {
		r.pool.Close()
		r.pool = nil
	}
	r.instance = nil
	return nil
}

type pdfiumDocument struct {
	r         *PDFiumRenderer
	doc       references.FPDF_DOCUMENT
	pageCount int
}

func (d *pdfiumDocument) PageCount() int { return d.pageCount }

func (d *pdfiumDocument) PageSize(index int) (float64, float64, error) {
	d.r.mu.Lock()
	defer d.r.mu.Unlock()
	size, err := d.r.instance.FPDF_GetPageSizeByIndex(&requests.FPDF_GetPageSizeByIndex{Document: d.doc, Index: index})
	if err != nil {
		return 0, 0, fmt.Errorf("unable to get size of page %d: %w", index, err)
	}
	return size.Width, size.Height, nil
}

func (d *pdfiumDocument) OpenPage(index int) (Page, error) {
	d.r.mu.Lock()
	defer d.r.mu.Unlock()
	page, err := d.r.instance.FPDF_LoadPage(&requests.FPDF_LoadPage{Document: d.doc, Index: index})
	if err != nil {
		return nil, fmt.Errorf("unable to load page %d: %w", index, err)
	}
	size, err := d.r.instance.FPDF_GetPageSizeByIndex(&requests.FPDF_GetPageSizeByIndex{Document: d.doc, Index: index})
	if err != nil {
		d.r.instance.FPDF_ClosePage(&requests.FPDF_ClosePage{Page: page.Page})
		return nil, fmt.Errorf("unable to get size of page %d: %w", index, err)
	}
	return &pdfiumPage{d: d, page: page.Page, width: size.Width, height: size.Height}, nil
}

func (d *pdfiumDocument) Bookmarks() ([]Bookmark, error) {
	d.r.mu.Lock()
	defer d.r.mu.Unlock()
	resp, err := d.r.instance.GetBookmarks(&requests.GetBookmarks{Document: d.doc})
	if err != nil {
		return nil, fmt.Errorf("unable to read bookmarks: %w", err)
	}
	return convertBookmarks(resp.Bookmarks), nil
}

func convertBookmarks(in []responses.GetBookmarksBookmark) []Bookmark {
	out := make([]Bookmark, 0, len(in))
	for _, b := range in {
		page := -1
		if b.DestInfo != nil {
			page = b.DestInfo.PageIndex
		}
		out = append(out, Bookmark{Title: b.Title, Page: page, Children: convertBookmarks(b.Children)})
	}
	return out
}

func (d *pdfiumDocument) Close() error {
	d.r.mu.Lock()
	defer d.r.mu.Unlock()
	if _, err := d.r.instance.FPDF_CloseDocument(&requests.FPDF_CloseDocument{Document: d.doc}); err != nil {
		return fmt.Errorf("unable to close document: %w", err)
	}
	return nil
}

type pdfiumPage struct {
	d             *pdfiumDocument
	page          references.FPDF_PAGE
	width, height float64
}

func (p *pdfiumPage) ref() requests.Page {
	return requests.Page{ByReference: &p.page}
}

func (p *pdfiumPage) Render(dst *image.NRGBA, startX, startY, sizeX, sizeY int, annotations bool) error {
	p.d.r.mu.Lock()
	defer p.d.r.mu.Unlock()
	inst := p.d.r.instance

	w, h := dst.Bounds().Dx(), dst.Bounds().Dy()
	bitmap, err := inst.FPDFBitmap_Create(&requests.FPDFBitmap_Create{Width: w, Height: h, Alpha: 1})
	if err != nil {
		return fmt.Errorf("unable to create bitmap: %w", err)
	}
	defer inst.FPDFBitmap_Destroy(&requests.FPDFBitmap_Destroy{Bitmap: bitmap.Bitmap})

	if _, err := inst.FPDFBitmap_FillRect(&requests.FPDFBitmap_FillRect{
		Bitmap: bitmap.Bitmap, Left: 0, Top: 0, Width: w, Height: h, Color: 0xFFFFFFFF,
	}); err != nil {
		return fmt.Errorf("unable to clear bitmap: %w", err)
	}

	flags := enums.FPDF_RENDER_FLAG_REVERSE_BYTE_ORDER
	if annotations {
		flags |= enums.FPDF_RENDER_FLAG_ANNOT
	}
	if _, err := inst.FPDF_RenderPageBitmap(&requests.FPDF_RenderPageBitmap{
		Bitmap: bitmap.Bitmap,
		Page:   p.ref(),
		StartX: startX,
		StartY: startY,
		SizeX:  sizeX,
		SizeY:  sizeY,
		Flags:  flags,
	}); err != nil {
		return fmt.Errorf("unable to render page: %w", err)
	}

	buf, err := inst.FPDFBitmap_GetBuffer(&requests.FPDFBitmap_GetBuffer{Bitmap: bitmap.Bitmap})
	if err != nil {
		return fmt.Errorf("unable to read bitmap: %w", err)
	}
	stride, err := inst.FPDFBitmap_GetStride(&requests.FPDFBitmap_GetStride{Bitmap: bitmap.Bitmap})
	if err != nil {
		return fmt.Errorf("unable to read bitmap stride: %w", err)
	}
	for y := 0; y < h; y++ {
		src := buf.Buffer[y*stride.Stride : y*stride.Stride+w*4]
		copy(dst.Pix[dst.PixOffset(dst.Rect.Min.X, dst.Rect.Min.Y+y):], src)
	}
	return nil
}

func (p *pdfiumPage) Links() ([]Link, error) {
	p.d.r.mu.Lock()
	defer p.d.r.mu.Unlock()
	inst := p.d.r.instance

	var links []Link
	pos := 0
	for {
		resp, err := inst.FPDFLink_Enumerate(&requests.FPDFLink_Enumerate{Page: p.ref(), StartPos: pos})
		if err != nil {
			return nil, fmt.Errorf("unable to enumerate links: %w", err)
		}
		if resp.Link == nil || resp.NextStartPos == nil {
			break
		}
		link, err := p.link(inst, *resp.Link)
		if err != nil {
			return nil, err
		}
		links = append(links, link)
		pos = *resp.NextStartPos
	}
	return links, nil
}

// link resolves one annotation link, either a destination in this document or a URI action
func (p *pdfiumPage) link(inst pdfium.Pdfium, ref references.FPDF_LINK) (Link, error) {
	link := Link{DestPage: -1}
	rect, err := inst.FPDFLink_GetAnnotRect(&requests.FPDFLink_GetAnnotRect{Link: ref})
	if err != nil {
		return link, fmt.Errorf("unable to read link rect: %w", err)
	}
	if rect.Rect != nil {
		link.Bounds = RectF{
			Left:   float64(rect.Rect.Left),
			Top:    float64(rect.Rect.Top),
			Right:  float64(rect.Rect.Right),
			Bottom: float64(rect.Rect.Bottom),
		}
	}

	dest, err := inst.FPDFLink_GetDest(&requests.FPDFLink_GetDest{Document: p.d.doc, Link: ref})
	if err != nil {
		return link, fmt.Errorf("unable to read link destination: %w", err)
	}
	if dest.Dest != nil {
		link.DestPage = p.destPage(inst, *dest.Dest)
		return link, nil
	}

	action, err := inst.FPDFLink_GetAction(&requests.FPDFLink_GetAction{Link: ref})
	if err != nil {
		return link, fmt.Errorf("unable to read link action: %w", err)
	}
	if action.Action == nil {
		return link, nil
	}
	kind, err := inst.FPDFAction_GetType(&requests.FPDFAction_GetType{Action: *action.Action})
	if err != nil {
		return link, fmt.Errorf("unable to read link action type: %w", err)
	}
	switch kind.Type {
	case enums.FPDF_ACTION_ACTION_GOTO:
		target, err := inst.FPDFAction_GetDest(&requests.FPDFAction_GetDest{Document: p.d.doc, Action: *action.Action})
		if err == nil && target.Dest != nil {
			link.DestPage = p.destPage(inst, *target.Dest)
		}
	case enums.FPDF_ACTION_ACTION_URI:
		uri, err := inst.FPDFAction_GetURIPath(&requests.FPDFAction_GetURIPath{Document: p.d.doc, Action: *action.Action})
		if err != nil {
			return link, fmt.Errorf("unable to read link uri: %w", err)
		}
		if uri.URIPath != nil {
			link.URI = *uri.URIPath
		}
	}
	return link, nil
}

func (p *pdfiumPage) destPage(inst pdfium.Pdfium, dest references.FPDF_DEST) int {
	resp, err := inst.FPDFDest_GetDestPageIndex(&requests.FPDFDest_GetDestPageIndex{Document: p.d.doc, Dest: dest})
	if err != nil || resp.Index < 0 {
		return -1
	}
	return resp.Index
}

func (p *pdfiumPage) Text() (TextPage, error) {
	p.d.r.mu.Lock()
	defer p.d.r.mu.Unlock()
	tp, err := p.d.r.instance.FPDFText_LoadPage(&requests.FPDFText_LoadPage{Page: p.ref()})
	if err != nil {
		return nil, fmt.Errorf("unable to load text page: %w", err)
	}
	return &pdfiumTextPage{p: p, tp: tp.TextPage}, nil
}

func (p *pdfiumPage) PageToDevice(startX, startY, sizeX, sizeY int, r RectF) RectF {
	return pageToDevice(p.width, p.height, startX, startY, sizeX, sizeY, r)
}

func (p *pdfiumPage) DeviceToPage(startX, startY, sizeX, sizeY int, x, y int) (float64, float64) {
	return deviceToPage(p.width, p.height, startX, startY, sizeX, sizeY, x, y)
}

func (p *pdfiumPage) Close() error {
	p.d.r.mu.Lock()
	defer p.d.r.mu.Unlock()
	if _, err := p.d.r.instance.FPDF_ClosePage(&requests.FPDF_ClosePage{Page: p.page}); err != nil {
		return fmt.Errorf("unable to close page: %w", err)
	}
	return nil
}

type pdfiumTextPage struct {
	p  *pdfiumPage
	tp references.FPDF_TEXTPAGE
}

func (t *pdfiumTextPage) lock() (pdfium.Pdfium, func()) {
	t.p.d.r.mu.Lock()
	return t.p.d.r.instance, t.p.d.r.mu.Unlock
}

func (t *pdfiumTextPage) CharCount() int {
	inst, unlock := t.lock()
	defer unlock()
	resp, err := inst.FPDFText_CountChars(&requests.FPDFText_CountChars{TextPage: t.tp})
	if err != nil {
		return 0
	}
	return resp.Count
}

func (t *pdfiumTextPage) Text() (string, error) {
	return t.TextRange(0, t.CharCount())
}

func (t *pdfiumTextPage) TextRange(start, count int) (string, error) {
	inst, unlock := t.lock()
	defer unlock()
	resp, err := inst.FPDFText_GetText(&requests.FPDFText_GetText{TextPage: t.tp, StartIndex: start, Count: count})
	if err != nil {
		return "", fmt.Errorf("unable to read text: %w", err)
	}
	return resp.Text, nil
}

func (t *pdfiumTextPage) CharIndexAt(x, y, tolX, tolY float64) int {
	inst, unlock := t.lock()
	defer unlock()
	resp, err := inst.FPDFText_GetCharIndexAtPos(&requests.FPDFText_GetCharIndexAtPos{
		TextPage: t.tp, X: x, Y: y, XTolerance: tolX, YTolerance: tolY,
	})
	if err != nil {
		return -1
	}
	return resp.CharIndex
}

func (t *pdfiumTextPage) TextRects(start, count int) ([]RectF, error) {
	inst, unlock := t.lock()
	defer unlock()
	n, err := inst.FPDFText_CountRects(&requests.FPDFText_CountRects{TextPage: t.tp, StartIndex: start, Count: count})
	if err != nil {
		return nil, fmt.Errorf("unable to count text rects: %w", err)
	}
	rects := make([]RectF, 0, n.Count)
	for i := 0; i < n.Count; i++ {
		r, err := inst.FPDFText_GetRect(&requests.FPDFText_GetRect{TextPage: t.tp, Index: i})
		if err != nil {
			return nil, fmt.Errorf("unable to read text rect %d: %w", i, err)
		}
		rects = append(rects, RectF{Left: r.Left, Top: r.Top, Right: r.Right, Bottom: r.Bottom})
	}
	return rects, nil
}

func (t *pdfiumTextPage) Search(query string, matchCase, wholeWord bool) ([]Match, error) {
	inst, unlock := t.lock()
	defer unlock()
	var flags requests.FPDFText_FindStartFlag
	if matchCase {
		flags |= requests.FPDFText_FindStartFlag_MATCHCASE
	}
	if wholeWord {
		flags |= requests.FPDFText_FindStartFlag_MATCHWHOLEWORD
	}
	search, err := inst.FPDFText_FindStart(&requests.FPDFText_FindStart{TextPage: t.tp, Find: query, Flags: flags})
	if err != nil {
		return nil, fmt.Errorf("unable to start search: %w", err)
	}
	defer inst.FPDFText_FindClose(&requests.FPDFText_FindClose{Search: search.Search})

	var matches []Match
	for {
		next, err := inst.FPDFText_FindNext(&requests.FPDFText_FindNext{Search: search.Search})
		if err != nil || !next.GotMatch {
			break
		}
		idx, err := inst.FPDFText_GetSchResultIndex(&requests.FPDFText_GetSchResultIndex{Search: search.Search})
		if err != nil {
			return matches, fmt.Errorf("unable to read search result: %w", err)
		}
		count, err := inst.FPDFText_GetSchCount(&requests.FPDFText_GetSchCount{Search: search.Search})
		if err != nil {
			return matches, fmt.Errorf("unable to read search result: %w", err)
		}
		matches = append(matches, Match{Start: idx.Index, Count: count.Count})
	}
	return matches, nil
}

func (t *pdfiumTextPage) Close() error {
	inst, unlock := t.lock()
	defer unlock()
	if _, err := inst.FPDFText_ClosePage(&requests.FPDFText_ClosePage{TextPage: t.tp}); err != nil {
		return fmt.Errorf("unable to close text page: %w", err)
	}
	return nil
}
