package imaging

import (
	"image"
)

// DefaultThreshold is the brightness threshold below which a channel sample
// counts as content rather than background.
const DefaultThreshold = 240

// Bounds is the axis-aligned bounding box of detected content, inclusive on
// all four edges.
type Bounds struct {
	MinX, MinY, MaxX, MaxY int
}

// Width returns the inclusive pixel width of the box
func (b Bounds) Width() int {
	return b.MaxX - b.MinX + 1
}

// Height returns the inclusive pixel height of the box
func (b Bounds) Height() int {
	return b.MaxY - b.MinY + 1
}

// ContentBounds scans every pixel once, row-major, and returns the bounding
// box of all pixels whose red, green, or blue sample is strictly below
// threshold. The second return value is false when no pixel qualifies; the
// caller must then leave the image unmodified.
//
// No sampling or early exit: any later pixel could extend the box.
func ContentBounds(img image.Image, threshold uint8) (Bounds, bool) {
	r := img.Bounds()
	minX, minY := r.Max.X, r.Max.Y
	maxX, maxY := r.Min.X-1, r.Min.Y-1

	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			cr, cg, cb, _ := img.At(x, y).RGBA()
			// RGBA returns 16-bit samples; compare in 8-bit space
			if uint8(cr>>8) < threshold || uint8(cg>>8) < threshold || uint8(cb>>8) < threshold {
				if x < minX {
					minX = x
				}
				if x > maxX {
					maxX = x
				}
				if y < minY {
					minY = y
				}
				if y > maxY {
					maxY = y
				}
			}
		}
	}

	if minX > maxX || minY > maxY {
		return Bounds{}, false
	}
	return Bounds{MinX: minX, MinY: minY, MaxX: maxX, MaxY: maxY}, true
}
