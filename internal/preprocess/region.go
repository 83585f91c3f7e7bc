/**
 * Regions of interest on a card frame
 *
 * Regions are fractional so they scale to any capture resolution.
 */

package preprocess

import (
	"fmt"
	"image"
	"math"
)

// Region is a named rectangle expressed as fractions of the frame size
type Region struct {
	Name   string
	Top    float64
	Bottom float64
	Left   float64
	Right  float64

	// Minimum pixel size of the crop; bands on tiny frames are grown to this size
	MinWidth  int
	MinHeight int

	// Binarize marks bands that go through grayscale/blur/Otsu before OCR
	Binarize bool
}

// NameBand is the title line near the top of the card
var NameBand = Region{
	Name:      "name",
	Top:       0.08,
	Bottom:    0.22,
	Left:      0,
	Right:     1,
	MinHeight: 10,
	Binarize:  true,
}

// NumberBand is the bottom-right corner carrying the collector number
var NumberBand = Region{
	Name:      "number",
	Top:       0.78,
	Bottom:    0.96,
	Left:      0.58,
	Right:     0.98,
	MinWidth:  20,
	MinHeight: 10,
}

// Validate checks the fractions describe a non-empty rectangle inside the frame
func (r Region) Validate() error {
	inUnit := func(v float64) bool { return v >= 0 && v <= 1 }
	if !inUnit(r.Top) || !inUnit(r.Bottom) || !inUnit(r.Left) || !inUnit(r.Right) {
		return fmt.Errorf("region %s: fractions must be within [0,1]", r.Name)
	}
	if r.Top >= r.Bottom || r.Left >= r.Right {
		return fmt.Errorf("region %s: empty rectangle", r.Name)
	}
	return nil
}

// Rect maps the region onto concrete frame bounds, clamped to the frame
func (r Region) Rect(bounds image.Rectangle) image.Rectangle {
	w, h := bounds.Dx(), bounds.Dy()

	x0 := scale(w, r.Left)
	y0 := scale(h, r.Top)
	x1 := scale(w, r.Right)
	y1 := scale(h, r.Bottom)

	if x1-x0 < r.MinWidth {
		x1 = x0 + r.MinWidth
	}
	if y1-y0 < r.MinHeight {
		y1 = y0 + r.MinHeight
	}

	rect := image.Rect(x0, y0, x1, y1).Add(bounds.Min)
	return rect.Intersect(bounds)
}

// scale floors size*frac, absorbing float error such as 0.58*1000 = 579.999...
func scale(size int, frac float64) int {
	return int(math.Floor(float64(size)*frac + 1e-9))
}
