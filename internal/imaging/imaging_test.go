package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"pgregory.net/rapid"
)

// newCanvas returns a w x h image filled with the given color
func newCanvas(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

// paintRect fills the given rectangle with a color
func paintRect(img *image.RGBA, r image.Rectangle, c color.Color) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.Set(x, y, c)
		}
	}
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("Failed to encode test image: %v", err)
	}
	return buf.Bytes()
}

func TestContentBounds_AllWhiteHasNoContent(t *testing.T) {
	img := newCanvas(50, 40, color.White)

	_, ok := ContentBounds(img, DefaultThreshold)
	if ok {
		t.Error("Expected no content in an all-white image")
	}
}

func TestContentBounds_NearWhiteBackgroundHasNoContent(t *testing.T) {
	// All channels at the threshold value: not strictly below, so background
	img := newCanvas(30, 30, color.RGBA{R: 240, G: 240, B: 240, A: 255})

	_, ok := ContentBounds(img, DefaultThreshold)
	if ok {
		t.Error("Expected pixels at the threshold value to count as background")
	}
}

func TestContentBounds_SingleChannelBelowThresholdIsContent(t *testing.T) {
	img := newCanvas(30, 30, color.White)
	// Only blue is below 240
	img.Set(10, 12, color.RGBA{R: 255, G: 255, B: 239, A: 255})

	b, ok := ContentBounds(img, DefaultThreshold)
	if !ok {
		t.Fatal("Expected one channel below threshold to count as content")
	}
	if b.MinX != 10 || b.MaxX != 10 || b.MinY != 12 || b.MaxY != 12 {
		t.Errorf("Expected single-pixel box at (10,12), got %+v", b)
	}
}

func TestContentBounds_BoxSpansScatteredContent(t *testing.T) {
	img := newCanvas(100, 80, color.White)
	img.Set(5, 7, color.Black)
	img.Set(90, 60, color.Black)

	b, ok := ContentBounds(img, DefaultThreshold)
	if !ok {
		t.Fatal("Expected content to be found")
	}
	want := Bounds{MinX: 5, MinY: 7, MaxX: 90, MaxY: 60}
	if b != want {
		t.Errorf("Expected box %+v, got %+v", want, b)
	}
	if b.Width() != 86 || b.Height() != 54 {
		t.Errorf("Expected inclusive size 86x54, got %dx%d", b.Width(), b.Height())
	}
}

func TestContentBounds_PropertyBoxContainsAllContent(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		w := rapid.IntRange(4, 64).Draw(rt, "w")
		h := rapid.IntRange(4, 64).Draw(rt, "h")
		img := newCanvas(w, h, color.White)

		n := rapid.IntRange(1, 10).Draw(rt, "n")
		type pt struct{ x, y int }
		pts := make([]pt, 0, n)
		for i := 0; i < n; i++ {
			x := rapid.IntRange(0, w-1).Draw(rt, "x")
			y := rapid.IntRange(0, h-1).Draw(rt, "y")
			img.Set(x, y, color.Black)
			pts = append(pts, pt{x, y})
		}

		b, ok := ContentBounds(img, DefaultThreshold)
		if !ok {
			rt.Fatal("Expected content to be found")
		}
		for _, p := range pts {
			if p.x < b.MinX || p.x > b.MaxX || p.y < b.MinY || p.y > b.MaxY {
				rt.Errorf("Content pixel (%d,%d) outside box %+v", p.x, p.y, b)
			}
		}
		// Box edges must themselves touch content
		if b.MinX < 0 || b.MaxX >= w || b.MinY < 0 || b.MaxY >= h {
			rt.Errorf("Box %+v exceeds image bounds %dx%d", b, w, h)
		}
	})
}

func TestTrimBorders_NegligibleBorderLeftAlone(t *testing.T) {
	// 1px border on each side of a 200x200 image:
	// 100 * 4 / 800 = 0.5% < 1%, so no crop
	img := newCanvas(200, 200, color.White)
	paintRect(img, image.Rect(1, 1, 199, 199), color.Black)

	out := TrimBorders(img, DefaultThreshold)
	if out != image.Image(img) {
		t.Error("Expected sub-1% border to be left alone")
	}
}

func TestTrimBorders_SignificantBorderCropped(t *testing.T) {
	// 20px border on each side of 100x100: 80*4/400 = 20% >= 1%
	img := newCanvas(100, 100, color.White)
	paintRect(img, image.Rect(20, 20, 80, 80), color.Black)

	out := TrimBorders(img, DefaultThreshold)
	b := out.Bounds()
	if b.Dx() != 60 || b.Dy() != 60 {
		t.Errorf("Expected 60x60 cropped image, got %dx%d", b.Dx(), b.Dy())
	}

	// The crop must keep every content pixel
	if _, ok := ContentBounds(out, DefaultThreshold); !ok {
		t.Error("Expected cropped image to retain content")
	}
}

func TestTrimBorders_AllWhiteUnchanged(t *testing.T) {
	img := newCanvas(64, 64, color.White)
	out := TrimBorders(img, DefaultThreshold)
	if out != image.Image(img) {
		t.Error("Expected an all-white image to be returned unchanged")
	}
}

func TestBorderPercentage_Asymmetric(t *testing.T) {
	// 100x100, content at columns 10..89, rows 0..99:
	// left=10 right=10 top=0 bottom=0 -> 20/400 = 5%
	img := newCanvas(100, 100, color.White)
	paintRect(img, image.Rect(10, 0, 90, 100), color.Black)

	b, ok := ContentBounds(img, DefaultThreshold)
	if !ok {
		t.Fatal("Expected content to be found")
	}
	got := BorderPercentage(img, b)
	if got != 5 {
		t.Errorf("Expected border percentage 5, got %v", got)
	}
}

func TestCoverResize_ExactDimensions(t *testing.T) {
	cases := []struct {
		name       string
		srcW, srcH int
		dstW, dstH int
	}{
		{"upscale square", 100, 100, 256, 256},
		{"wide to square", 400, 100, 128, 128},
		{"tall to wide", 100, 400, 320, 180},
		{"downscale", 1024, 1024, 64, 64},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			img := newCanvas(tc.srcW, tc.srcH, color.RGBA{R: 30, G: 60, B: 90, A: 255})
			out := CoverResize(img, tc.dstW, tc.dstH)
			b := out.Bounds()
			if b.Dx() != tc.dstW || b.Dy() != tc.dstH {
				t.Errorf("Expected %dx%d, got %dx%d", tc.dstW, tc.dstH, b.Dx(), b.Dy())
			}
		})
	}
}

func TestCoverResize_MatchingDimensionsReturnsInput(t *testing.T) {
	img := newCanvas(64, 48, color.White)
	out := CoverResize(img, 64, 48)
	if out != image.Image(img) {
		t.Error("Expected matching dimensions to return the input image")
	}
}

func TestCoverResize_CentersCrop(t *testing.T) {
	// Left half red, right half blue; cover-fit to a square keeps the
	// centered region so both halves survive at the edges
	img := newCanvas(200, 100, color.White)
	paintRect(img, image.Rect(0, 0, 100, 100), color.RGBA{R: 200, A: 255})
	paintRect(img, image.Rect(100, 0, 200, 100), color.RGBA{B: 200, A: 255})

	out := CoverResize(img, 100, 100)
	left, _, _, _ := out.At(1, 50).RGBA()
	_, _, rightB, _ := out.At(98, 50).RGBA()
	if left == 0 {
		t.Error("Expected red content at the left edge of the centered crop")
	}
	if rightB == 0 {
		t.Error("Expected blue content at the right edge of the centered crop")
	}
}

func TestNormalize_UndecodableReturnsOriginal(t *testing.T) {
	data := []byte("not an image at all")
	out := Normalize(data, 100, 100, DefaultThreshold)
	if !bytes.Equal(out, data) {
		t.Error("Expected undecodable data to pass through unchanged")
	}
}

func TestNormalize_NoOpIsByteIdentical(t *testing.T) {
	// All-white image, no target dimensions: neither trim nor resize
	// applies, so the exact input bytes come back
	data := encodePNG(t, newCanvas(32, 32, color.White))
	out := Normalize(data, 0, 0, DefaultThreshold)
	if !bytes.Equal(out, data) {
		t.Error("Expected a no-op normalization to return byte-identical data")
	}
}

func TestNormalize_EnforcesTargetDimensions(t *testing.T) {
	src := newCanvas(300, 200, color.White)
	paintRect(src, image.Rect(50, 50, 250, 150), color.Black)
	data := encodePNG(t, src)

	out := Normalize(data, 128, 128, DefaultThreshold)
	img, _, err := image.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("Failed to decode normalized image: %v", err)
	}
	if img.Bounds().Dx() != 128 || img.Bounds().Dy() != 128 {
		t.Errorf("Expected 128x128 output, got %dx%d", img.Bounds().Dx(), img.Bounds().Dy())
	}
}

func TestNormalize_PropertyOutputMatchesRequestedSize(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		srcW := rapid.IntRange(8, 128).Draw(rt, "srcW")
		srcH := rapid.IntRange(8, 128).Draw(rt, "srcH")
		dstW := rapid.IntRange(8, 96).Draw(rt, "dstW")
		dstH := rapid.IntRange(8, 96).Draw(rt, "dstH")

		src := newCanvas(srcW, srcH, color.White)
		paintRect(src, image.Rect(srcW/4, srcH/4, srcW/4*3, srcH/4*3), color.Black)

		var buf bytes.Buffer
		if err := png.Encode(&buf, src); err != nil {
			rt.Fatalf("Failed to encode: %v", err)
		}

		out := Normalize(buf.Bytes(), dstW, dstH, DefaultThreshold)
		img, _, err := image.Decode(bytes.NewReader(out))
		if err != nil {
			rt.Fatalf("Failed to decode: %v", err)
		}
		if img.Bounds().Dx() != dstW || img.Bounds().Dy() != dstH {
			rt.Errorf("Expected %dx%d, got %dx%d", dstW, dstH, img.Bounds().Dx(), img.Bounds().Dy())
		}
	})
}
