package layout

import "math"

type sizeCalculator struct {
	fit         FitPolicy
	fitEach     bool
	view        Size
	widthRatio  float64
	heightRatio float64
}

func newSizeCalculator(p Params, pages []Size) *sizeCalculator {
	c := &sizeCalculator{fit: p.Fit, fitEach: p.FitEachPage, view: p.Viewport}
	var maxWidth, maxHeight Size
	for _, s := range pages {
		if s.Width > maxWidth.Width {
			maxWidth = s
		}
		if s.Height > maxHeight.Height {
			maxHeight = s
		}
	}
	c.computeRatios(maxWidth, maxHeight)
	return c
}

func (c *sizeCalculator) computeRatios(maxWidthPage, maxHeightPage Size) {
	vw, vh := float64(c.view.Width), float64(c.view.Height)
	switch c.fit {
	case FitHeight:
		h := fitHeight(maxHeightPage, vh)
		if maxHeightPage.Height > 0 {
			c.heightRatio = h.Height / float64(maxHeightPage.Height)
		}
		w := fitHeight(maxWidthPage, float64(maxWidthPage.Height)*c.heightRatio)
		if maxWidthPage.Width > 0 {
			c.widthRatio = w.Width / float64(maxWidthPage.Width)
		}
	case FitBoth:
		w := fitBoth(maxWidthPage, vw, vh)
		localWidthRatio := 0.0
		if maxWidthPage.Width > 0 {
			localWidthRatio = w.Width / float64(maxWidthPage.Width)
		}
		h := fitBoth(maxHeightPage, float64(maxHeightPage.Width)*localWidthRatio, vh)
		if maxHeightPage.Height > 0 {
			c.heightRatio = h.Height / float64(maxHeightPage.Height)
		}
		w = fitBoth(maxWidthPage, vw, float64(maxWidthPage.Height)*c.heightRatio)
		if maxWidthPage.Width > 0 {
			c.widthRatio = w.Width / float64(maxWidthPage.Width)
		}
	default:
		w := fitWidth(maxWidthPage, vw)
		if maxWidthPage.Width > 0 {
			c.widthRatio = w.Width / float64(maxWidthPage.Width)
		}
	}
}

func (c *sizeCalculator) calculate(page Size) SizeF {
	if page.Width <= 0 || page.Height <= 0 {
		return SizeF{}
	}
	maxWidth := float64(page.Width) * c.widthRatio
	maxHeight := float64(page.Height) * c.heightRatio
	if c.fitEach {
		maxWidth, maxHeight = float64(c.view.Width), float64(c.view.Height)
	}
	switch c.fit {
	case FitHeight:
		return fitHeight(page, maxHeight)
	case FitBoth:
		return fitBoth(page, maxWidth, maxHeight)
	default:
		return fitWidth(page, maxWidth)
	}
}

func fitWidth(page Size, maxWidth float64) SizeF {
	if page.Width <= 0 {
		return SizeF{}
	}
	ratio := float64(page.Width) / float64(page.Height)
	return SizeF{Width: maxWidth, Height: math.Floor(maxWidth / ratio)}
}

func fitHeight(page Size, maxHeight float64) SizeF {
	if page.Height <= 0 {
		return SizeF{}
	}
	ratio := float64(page.Height) / float64(page.Width)
	return SizeF{Width: math.Floor(maxHeight / ratio), Height: maxHeight}
}

func fitBoth(page Size, maxWidth, maxHeight float64) SizeF {
	if page.Width <= 0 || page.Height <= 0 {
		return SizeF{}
	}
	ratio := float64(page.Width) / float64(page.Height)
	w := maxWidth
	h := math.Floor(maxWidth / ratio)
	if h > maxHeight {
		h = maxHeight
		w = math.Floor(maxHeight * ratio)
	}
	return SizeF{Width: w, Height: h}
}
