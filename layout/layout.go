// Package layout computes page sizes and offsets along the scroll axis.
package layout

import (
	"math"
	"sort"
)

// FitPolicy decides which viewport dimension pages are scaled against
type FitPolicy int

const (
	FitWidth FitPolicy = iota
	FitHeight
	FitBoth
)

// ParseFitPolicy maps a config string to a policy, unknown values fall back to FitWidth
func ParseFitPolicy(s string) FitPolicy {
	switch s {
	case "height":
		return FitHeight
	case "both":
		return FitBoth
	default:
		return FitWidth
	}
}

func (p FitPolicy) String() string {
	switch p {
	case FitHeight:
		return "height"
	case FitBoth:
		return "both"
	default:
		return "width"
	}
}

// Size is an integer page or viewport size in pixels
type Size struct {
	Width  int
	Height int
}

// SizeF is a scaled page size
type SizeF struct {
	Width  float64
	Height float64
}

// Params are the inputs of a layout pass
type Params struct {
	Viewport    Size
	Fit         FitPolicy
	Vertical    bool
	Spacing     float64 // fixed gap between pages, in pixels
	AutoSpacing bool
	FitEachPage bool
}

// Layout is an immutable snapshot of document geometry at zoom 1.
type Layout struct {
	Params        Params
	Original      []Size
	Sizes         []SizeF
	Offsets       []float64
	Spacing       []float64 // only populated with AutoSpacing
	Length        float64
	MaxPageWidth  float64
	MaxPageHeight float64
}

// Compute builds the layout of pages for the given viewport and policy.
func Compute(p Params, pages []Size) *Layout {
	l := &Layout{
		Params:   p,
		Original: append([]Size(nil), pages...),
		Sizes:    make([]SizeF, len(pages)),
		Offsets:  make([]float64, len(pages)),
	}
	if len(pages) == 0 {
		return l
	}

	calc := newSizeCalculator(p, pages)
	for i, page := range pages {
		s := calc.calculate(page)
		l.Sizes[i] = s
		l.MaxPageWidth = math.Max(l.MaxPageWidth, s.Width)
		l.MaxPageHeight = math.Max(l.MaxPageHeight, s.Height)
	}

	if p.AutoSpacing {
		l.Spacing = make([]float64, len(pages))
		viewLen := float64(p.Viewport.Width)
		if p.Vertical {
			viewLen = float64(p.Viewport.Height)
		}
		for i := range pages {
			sp := math.Max(0, viewLen-l.axisLen(i))
			if i < len(pages)-1 {
				sp += p.Spacing
			}
			l.Spacing[i] = sp
		}
	}

	last := len(pages) - 1
	offset := 0.0
	for i := range pages {
		size := l.axisLen(i)
		if p.AutoSpacing {
			offset += l.Spacing[i] / 2
			if i == 0 && last > 0 {
				offset -= p.Spacing / 2
			} else if i == last && last > 0 {
				offset += p.Spacing / 2
			}
			l.Offsets[i] = offset
			offset += size + l.Spacing[i]/2
		} else {
			l.Offsets[i] = offset
			offset += size + p.Spacing
		}
	}

	for i := range pages {
		l.Length += l.axisLen(i)
		if p.AutoSpacing {
			l.Length += l.Spacing[i]
		}
	}
	if !p.AutoSpacing {
		l.Length += p.Spacing * float64(last)
	}
	return l
}

func (l *Layout) axisLen(i int) float64 {
	if l.Params.Vertical {
		return l.Sizes[i].Height
	}
	return l.Sizes[i].Width
}

// PageCount is the number of laid out pages
func (l *Layout) PageCount() int { return len(l.Sizes) }

// PageSize returns the zoom 1 size of page i, 0x0 when out of range
func (l *Layout) PageSize(i int) SizeF {
	if i < 0 || i >= len(l.Sizes) {
		return SizeF{}
	}
	return l.Sizes[i]
}

// ScaledPageSize returns the size of page i at zoom
func (l *Layout) ScaledPageSize(i int, zoom float64) SizeF {
	s := l.PageSize(i)
	return SizeF{Width: s.Width * zoom, Height: s.Height * zoom}
}

// MaxPageSize is the largest width and height over all pages
func (l *Layout) MaxPageSize() SizeF {
	return SizeF{Width: l.MaxPageWidth, Height: l.MaxPageHeight}
}

// PageOffset is the start of page i along the scroll axis
func (l *Layout) PageOffset(i int, zoom float64) float64 {
	if i < 0 || i >= len(l.Offsets) {
		return 0
	}
	return l.Offsets[i] * zoom
}

// PageLength is the size of page i along the scroll axis
func (l *Layout) PageLength(i int, zoom float64) float64 {
	if i < 0 || i >= len(l.Sizes) {
		return 0
	}
	return l.axisLen(i) * zoom
}

// PageSpacing is the gap attributed to page i
func (l *Layout) PageSpacing(i int, zoom float64) float64 {
	if l.Params.AutoSpacing {
		if i < 0 || i >= len(l.Spacing) {
			return 0
		}
		return l.Spacing[i] * zoom
	}
	return l.Params.Spacing * zoom
}

// DocLen is the total document length along the scroll axis
func (l *Layout) DocLen(zoom float64) float64 { return l.Length * zoom }

// CrossLen is the document extent across the scroll axis
func (l *Layout) CrossLen(zoom float64) float64 {
	if l.Params.Vertical {
		return l.MaxPageWidth * zoom
	}
	return l.MaxPageHeight * zoom
}

// SecondaryOffset centers page i across the scroll axis against the widest (or tallest) page.
func (l *Layout) SecondaryOffset(i int, zoom float64) float64 {
	s := l.PageSize(i)
	if l.Params.Vertical {
		return zoom * (l.MaxPageWidth - s.Width) / 2
	}
	return zoom * (l.MaxPageHeight - s.Height) / 2
}

// PageAtOffset returns the page whose leading edge (minus half its spacing) precedes offset.
func (l *Layout) PageAtOffset(offset, zoom float64) int {
	current := 0
	for i := range l.Offsets {
		start := l.Offsets[i]*zoom - l.PageSpacing(i, zoom)/2
		if start >= offset {
			break
		}
		current++
	}
	if current--; current < 0 {
		return 0
	}
	return current
}

// PageRange returns the first and last pages intersecting [start, end). ok is false when none do.
func (l *Layout) PageRange(start, end, zoom float64) (first, last int, ok bool) {
	n := len(l.Offsets)
	if n == 0 || end <= start {
		return 0, 0, false
	}
	first = sort.Search(n, func(i int) bool {
		return l.PageOffset(i, zoom)+l.PageLength(i, zoom) > start
	})
	last = sort.Search(n, func(i int) bool {
		return l.PageOffset(i, zoom) >= end
	}) - 1
	if first >= n || last < first {
		return 0, 0, false
	}
	return first, last, true
}
