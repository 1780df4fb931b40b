package imaging

import (
	"bytes"
	"image"
	_ "image/jpeg"
	"image/png"

	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"
)

// BorderPercentage computes the detected border size as a percentage of the
// perimeter unit 2*(width+height). Border thickness is counted in pixels on
// each of the four sides.
func BorderPercentage(img image.Image, b Bounds) float64 {
	r := img.Bounds()
	left := b.MinX - r.Min.X
	right := r.Max.X - 1 - b.MaxX
	top := b.MinY - r.Min.Y
	bottom := r.Max.Y - 1 - b.MaxY

	borderPixels := left + right + top + bottom
	perimeterUnit := 2 * (r.Dx() + r.Dy())
	if perimeterUnit == 0 {
		return 0
	}
	return 100 * float64(borderPixels) / float64(perimeterUnit)
}

// TrimBorders crops img to its content bounding box. Borders below 1% of the
// perimeter unit are treated as negligible and left alone; this avoids
// destructive over-cropping of near-full-bleed images. Returns the input
// image unchanged (same pointer) when no crop applies.
func TrimBorders(img image.Image, threshold uint8) image.Image {
	b, ok := ContentBounds(img, threshold)
	if !ok {
		return img
	}

	if BorderPercentage(img, b) < 1 {
		return img
	}

	crop := image.Rect(b.MinX, b.MinY, b.MaxX+1, b.MaxY+1)
	dst := image.NewRGBA(image.Rect(0, 0, crop.Dx(), crop.Dy()))
	draw.Draw(dst, dst.Bounds(), img, crop.Min, draw.Src)
	return dst
}

// CoverResize scales img to exactly width x height using a cover/center-crop
// fit: the centered source region matching the target aspect ratio is scaled
// to fill the whole target box, cropping overflow symmetrically rather than
// letterboxing.
func CoverResize(img image.Image, width, height int) image.Image {
	sb := img.Bounds()
	sw, sh := sb.Dx(), sb.Dy()
	if sw == width && sh == height {
		return img
	}

	srcW, srcH := sw, sh
	if sw*height > sh*width {
		// source is wider than the target aspect: crop left/right
		srcW = sh * width / height
	} else {
		// source is taller: crop top/bottom
		srcH = sw * height / width
	}
	x0 := sb.Min.X + (sw-srcW)/2
	y0 := sb.Min.Y + (sh-srcH)/2
	srcRect := image.Rect(x0, y0, x0+srcW, y0+srcH)

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, srcRect, draw.Src, nil)
	return dst
}

// Normalize applies border trimming and, when both target dimensions are
// positive, exact-dimension enforcement to encoded image bytes. It is
// best-effort: any decode or encode failure returns the original bytes
// unchanged, and an untouched image round-trips byte-identical.
func Normalize(data []byte, targetWidth, targetHeight int, threshold uint8) []byte {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		log.Debug().Err(err).Msg("Skipping post-processing: undecodable image")
		return data
	}

	out := TrimBorders(img, threshold)
	if targetWidth > 0 && targetHeight > 0 {
		out = CoverResize(out, targetWidth, targetHeight)
	}
	if out == img {
		return data
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		log.Debug().Err(err).Str("format", format).Msg("Skipping post-processing: encode failed")
		return data
	}
	return buf.Bytes()
}
