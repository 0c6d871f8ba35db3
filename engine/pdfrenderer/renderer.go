package pdfrenderer

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
)

// Logger is global since we will need it everywhere
var Logger = slog.Default()

var (
	// ErrPasswordRequired is returned when a document is encrypted and the password is missing or wrong
	ErrPasswordRequired = errors.New("password required or incorrect")
	// ErrCorrupt is returned for data the engine cannot parse as a PDF
	ErrCorrupt = errors.New("document is corrupt or not a PDF")
	// ErrUnsupported is returned by adapters for capabilities their engine lacks
	ErrUnsupported = errors.New("not supported by this renderer")
)

// RectF is a rectangle in PDF page space (points, origin bottom-left) or device pixels
type RectF struct {
	Left, Top, Right, Bottom float64
}

// Link is an annotation link on a page
type Link struct {
	Bounds RectF
	// DestPage is the target page index, -1 when the link points outside the document
	DestPage int
	URI      string
}

// Bookmark is one outline entry
type Bookmark struct {
	Title    string
	Page     int
	Children []Bookmark
}

// Match is one search hit as a character range in the page text
type Match struct {
	Start int
	Count int
}

// Renderer opens documents with a native PDF engine
type Renderer interface {
	// OpenDocument parses data, password may be empty
	OpenDocument(data []byte, password string) (Document, error)

	// Close cleans up any resources used by the renderer
	Close() error
}

// Document is an open native document. Implementations need not be safe for concurrent use.
type Document interface {
	PageCount() int
	// PageSize returns the page size in points
	PageSize(index int) (width, height float64, err error)
	OpenPage(index int) (Page, error)
	Bookmarks() ([]Bookmark, error)
	Close() error
}

// Page is an open native page
type Page interface {
	// Render draws the whole page scaled to sizeX x sizeY with its top-left corner at (startX, startY)
	// relative to dst, clipped to dst. dst is filled white first.
	Render(dst *image.NRGBA, startX, startY, sizeX, sizeY int, annotations bool) error
	Links() ([]Link, error)
	Text() (TextPage, error)
	// PageToDevice maps a page-space rectangle into the device rectangle the page is drawn to
	PageToDevice(startX, startY, sizeX, sizeY int, r RectF) RectF
	// DeviceToPage maps a device pixel back to page space
	DeviceToPage(startX, startY, sizeX, sizeY int, x, y int) (float64, float64)
	Close() error
}

// TextPage is the text layer of a page
type TextPage interface {
	CharCount() int
	Text() (string, error)
	TextRange(start, count int) (string, error)
	// CharIndexAt returns the character at a page-space point, -1 if there is none
	CharIndexAt(x, y, tolX, tolY float64) int
	// TextRects returns the page-space rectangles covering a character range
	TextRects(start, count int) ([]RectF, error)
	Search(query string, matchCase, wholeWord bool) ([]Match, error)
	Close() error
}

// NewRenderer creates the renderer named by kind: "pdfium" (pure Go, no CGo) or "fitz" (MuPDF, CGo)
func NewRenderer(kind string) (Renderer, error) {
	switch kind {
	case "", "pdfium":
		r, err := NewPDFiumRenderer()
		if err != nil {
			return nil, err
		}
		Logger.Info("PDF renderer ready", "renderer", "pdfium")
		return r, nil
	case "fitz":
		r, err := NewFitzRenderer()
		if err != nil {
			return nil, err
		}
		Logger.Info("PDF renderer ready", "renderer", "fitz")
		return r, nil
	default:
		return nil, fmt.Errorf("unknown renderer %q", kind)
	}
}

// fillWhite clears dst to opaque white
func fillWhite(dst *image.NRGBA) {
	b := dst.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := dst.Pix[dst.PixOffset(b.Min.X, y):dst.PixOffset(b.Max.X, y)]
		for i := range row {
			row[i] = 0xff
		}
	}
}

// pageToDevice is the unrotated linear mapping shared by adapters without a native one
func pageToDevice(pageW, pageH float64, startX, startY, sizeX, sizeY int, r RectF) RectF {
	sx, sy := float64(sizeX)/pageW, float64(sizeY)/pageH
	return RectF{
		Left:   float64(startX) + r.Left*sx,
		Top:    float64(startY) + (pageH-r.Top)*sy,
		Right:  float64(startX) + r.Right*sx,
		Bottom: float64(startY) + (pageH-r.Bottom)*sy,
	}
}

func deviceToPage(pageW, pageH float64, startX, startY, sizeX, sizeY int, x, y int) (float64, float64) {
	px := float64(x-startX) * pageW / float64(sizeX)
	py := pageH - float64(y-startY)*pageH/float64(sizeY)
	return px, py
}
