package pdfrenderer

import (
	"bytes"
	"fmt"
	"math"
	"unicode"

	"github.com/ledongthuc/pdf"
)

// contentText reads positioned glyphs from page content streams
type contentText struct {
	reader *pdf.Reader
}

func newContentText(data []byte) (ct *contentText, err error) {
	defer func() {
		if r := recover(); r != nil {
			ct, err = nil, fmt.Errorf("unable to read PDF content: %v", r)
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("unable to read PDF content: %w", err)
	}
	return &contentText{reader: reader}, nil
}

func (c *contentText) page(index int) (tp *glyphTextPage, err error) {
	// the content parser panics on malformed streams
	defer func() {
		if r := recover(); r != nil {
			tp, err = nil, fmt.Errorf("unable to parse text of page %d: %v", index, r)
		}
	}()
	p := c.reader.Page(index + 1)
	if p.V.IsNull() {
		return nil, fmt.Errorf("page %d not found", index)
	}
	tp = &glyphTextPage{}
	for _, t := range p.Content().Text {
		r := RectF{Left: t.X, Top: t.Y + t.FontSize, Right: t.X + t.W, Bottom: t.Y}
		for _, ch := range t.S {
			tp.runes = append(tp.runes, ch)
			tp.rects = append(tp.rects, r)
		}
	}
	return tp, nil
}

// glyphTextPage keeps one page-space rectangle per rune
type glyphTextPage struct {
	runes []rune
	rects []RectF
}

func (t *glyphTextPage) CharCount() int { return len(t.runes) }

func (t *glyphTextPage) Text() (string, error) { return string(t.runes), nil }

func (t *glyphTextPage) TextRange(start, count int) (string, error) {
	start, end := t.clamp(start, count)
	return string(t.runes[start:end]), nil
}

func (t *glyphTextPage) clamp(start, count int) (int, int) {
	start = max(0, min(start, len(t.runes)))
	end := len(t.runes)
	if count >= 0 {
		end = min(start+count, len(t.runes))
	}
	return start, end
}

func (t *glyphTextPage) CharIndexAt(x, y, tolX, tolY float64) int {
	best, bestDist := -1, math.MaxFloat64
	for i, r := range t.rects {
		if x < r.Left-tolX || x > r.Right+tolX || y < r.Bottom-tolY || y > r.Top+tolY {
			continue
		}
		cx, cy := (r.Left+r.Right)/2, (r.Top+r.Bottom)/2
		if d := math.Hypot(x-cx, y-cy); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// TextRects merges consecutive glyphs on the same baseline into one rectangle
func (t *glyphTextPage) TextRects(start, count int) ([]RectF, error) {
	start, end := t.clamp(start, count)
	var out []RectF
	for i := start; i < end; i++ {
		r := t.rects[i]
		if n := len(out); n > 0 && out[n-1].Bottom == r.Bottom && r.Left >= out[n-1].Left {
			out[n-1].Right = math.Max(out[n-1].Right, r.Right)
			out[n-1].Top = math.Max(out[n-1].Top, r.Top)
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (t *glyphTextPage) Search(query string, matchCase, wholeWord bool) ([]Match, error) {
	needle := []rune(query)
	if len(needle) == 0 {
		return nil, nil
	}
	hay := t.runes
	if !matchCase {
		needle = lowerRunes(needle)
		hay = lowerRunes(t.runes)
	}
	isWord := func(i int) bool {
		return i >= 0 && i < len(hay) && (unicode.IsLetter(hay[i]) || unicode.IsDigit(hay[i]))
	}
	var matches []Match
	for i := 0; i+len(needle) <= len(hay); i++ {
		if !runesEqual(hay[i:i+len(needle)], needle) {
			continue
		}
		if wholeWord && (isWord(i-1) || isWord(i+len(needle))) {
			continue
		}
		matches = append(matches, Match{Start: i, Count: len(needle)})
		i += len(needle) - 1
	}
	return matches, nil
}

func lowerRunes(in []rune) []rune {
	out := make([]rune, len(in))
	for i, r := range in {
		out[i] = unicode.ToLower(r)
	}
	return out
}

func runesEqual(a, b []rune) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (t *glyphTextPage) Close() error { return nil }
