package prompt

import (
	"fmt"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func f64(v float64) *float64 { return &v }
func i64(v int64) *int64     { return &v }
func iptr(v int) *int        { return &v }

func TestSimplifyRatio(t *testing.T) {
	cases := []struct {
		w, h int
		want string
	}{
		{1920, 1080, "16:9"},
		{1080, 1920, "9:16"},
		{1024, 768, "4:3"},
		{768, 1024, "3:4"},
		{2560, 1080, "64:27"},
		{3440, 1440, "43:18"},
		{1000, 1000, "1:1"},
		{1366, 768, "683:384"},
		{0, 100, ""},
		{100, -1, ""},
	}
	for _, tc := range cases {
		if got := SimplifyRatio(tc.w, tc.h); got != tc.want {
			t.Errorf("SimplifyRatio(%d, %d) = %q, want %q", tc.w, tc.h, got, tc.want)
		}
	}
}

func TestSimplifyRatio_PropertyLowestTerms(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		w := rapid.IntRange(1, 8192).Draw(rt, "w")
		h := rapid.IntRange(1, 8192).Draw(rt, "h")

		ratio := SimplifyRatio(w, h)
		var rw, rh int
		if _, err := fmt.Sscanf(ratio, "%d:%d", &rw, &rh); err != nil {
			rt.Fatalf("Unparseable ratio %q: %v", ratio, err)
		}
		if GCD(rw, rh) != 1 {
			rt.Errorf("Ratio %q not in lowest terms", ratio)
		}
		// Simplification preserves the proportion exactly
		if rw*h != rh*w {
			rt.Errorf("Ratio %q does not preserve %d:%d", ratio, w, h)
		}
	})
}

func TestRatioLabel(t *testing.T) {
	labeled := map[string]string{
		"16:9": "cinematic",
		"9:16": "mobile",
		"4:3":  "classic",
		"3:4":  "portrait",
		"21:9": "ultra-wide",
		"1:1":  "square",
	}
	for ratio, want := range labeled {
		if got := RatioLabel(ratio); got != want {
			t.Errorf("RatioLabel(%q) = %q, want %q", ratio, got, want)
		}
	}
	for _, ratio := range []string{"64:27", "683:384", "5:4", ""} {
		if got := RatioLabel(ratio); got != "" {
			t.Errorf("RatioLabel(%q) = %q, want empty", ratio, got)
		}
	}
}

func TestBuildGenerate_WithoutDimensionsIsBodyOnly(t *testing.T) {
	c := NewComposer()
	out := c.BuildGenerate("a lighthouse at dusk", Settings{})

	if out != "a lighthouse at dusk" {
		t.Errorf("Expected bare body without dimensions, got %q", out)
	}
	if strings.Contains(out, "IMAGE SPECIFICATION") {
		t.Error("Expected no directive block without dimensions")
	}
}

func TestBuildGenerate_DirectiveRestatesExactSize(t *testing.T) {
	c := NewComposer()
	out := c.BuildGenerate("a lighthouse at dusk", Settings{
		Width:  iptr(1024),
		Height: iptr(1024),
	})

	if !strings.HasPrefix(out, "IMAGE SPECIFICATION:") {
		t.Error("Expected the directive block to lead the prompt")
	}
	if !strings.Contains(out, "1024×1024") {
		t.Error("Expected the exact pixel size in the directive")
	}
	if !strings.Contains(out, "1:1") || !strings.Contains(out, "square") {
		t.Error("Expected the simplified ratio with its label")
	}
	if !strings.Contains(out, "a lighthouse at dusk") {
		t.Error("Expected the user text in the body")
	}
	critIdx := strings.Index(out, "CRITICAL REQUIREMENTS:")
	if critIdx < 0 {
		t.Fatal("Expected a CRITICAL REQUIREMENTS block")
	}
	// The size must be restated after the body, not only in the header
	if !strings.Contains(out[critIdx:], "1024×1024") {
		t.Error("Expected the closing block to restate the exact size")
	}
}

func TestBuildGenerate_UnlabeledRatioOmitsLabel(t *testing.T) {
	c := NewComposer()
	out := c.BuildGenerate("abstract shapes", Settings{
		Width:  iptr(2560),
		Height: iptr(1080),
	})

	if !strings.Contains(out, "64:27") {
		t.Error("Expected the simplified ratio 64:27")
	}
	for _, label := range []string{"cinematic", "mobile", "classic", "portrait", "ultra-wide", "square"} {
		if strings.Contains(out, label) {
			t.Errorf("Expected no ratio label for 64:27, found %q", label)
		}
	}
}

func TestBuildGenerate_TemperatureTiers(t *testing.T) {
	c := NewComposer()
	cases := []struct {
		temp   float64
		phrase string
	}{
		{0.2, "photographic detail"},
		{0.5, "photographic detail"},
		{0.7, "balanced, natural style"},
		{1.0, "balanced, natural style"},
		{1.2, "artistic, stylized"},
		{1.5, "artistic, stylized"},
		{1.8, "surreal, experimental"},
	}
	for _, tc := range cases {
		out := c.BuildGenerate("a cat", Settings{Temperature: f64(tc.temp)})
		if !strings.Contains(out, tc.phrase) {
			t.Errorf("Temperature %v: expected phrase %q in %q", tc.temp, tc.phrase, out)
		}
	}
}

func TestBuildGenerate_NoTemperatureNoGuidance(t *testing.T) {
	c := NewComposer()
	out := c.BuildGenerate("a cat", Settings{})
	if strings.Contains(out, "Render") {
		t.Errorf("Expected no creative guidance without temperature, got %q", out)
	}
}

func TestBuildGenerate_SeedBecomesStyleReference(t *testing.T) {
	c := NewComposer()
	out := c.BuildGenerate("a cat", Settings{Seed: i64(424242)})

	if !strings.Contains(out, "Style reference code: 424242") {
		t.Errorf("Expected the seed folded into the text, got %q", out)
	}
}

func TestBuildEdit_MaskRestriction(t *testing.T) {
	c := NewComposer()
	withMask := c.BuildEdit("make the sky purple", true, Settings{})
	if !strings.Contains(withMask, "ONLY within the white (masked) regions") {
		t.Error("Expected the mask restriction clause with a mask")
	}
	if !strings.Contains(withMask, "preserved exactly") {
		t.Error("Expected the preservation clause with a mask")
	}

	withoutMask := c.BuildEdit("make the sky purple", false, Settings{})
	if strings.Contains(withoutMask, "masked") {
		t.Error("Expected no mask clause without a mask")
	}
	if !strings.Contains(withoutMask, "make the sky purple") {
		t.Error("Expected the instruction in the edit prompt")
	}
}

func TestBuildEdit_DiffersFromGenerate(t *testing.T) {
	c := NewComposer()
	s := Settings{Width: iptr(512), Height: iptr(512)}
	gen := c.BuildGenerate("a red balloon", s)
	edit := c.BuildEdit("a red balloon", false, s)

	if gen == edit {
		t.Error("Expected distinct templates for generate and edit")
	}
	if !strings.Contains(edit, "512×512") {
		t.Error("Expected the exact size in the edit prompt too")
	}
}

func TestBuildSegment(t *testing.T) {
	c := NewComposer()
	out := c.BuildSegment("the dog")

	for _, want := range []string{"Segment the provided image", "the dog", `"label"`, `"box_2d"`, `"mask"`} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in segment prompt %q", want, out)
		}
	}

	noQuery := c.BuildSegment("")
	if strings.Contains(noQuery, "focusing on") {
		t.Error("Expected no focus clause without a query")
	}
}

func TestBuildGenerate_PropertyAlwaysContainsUserText(t *testing.T) {
	c := NewComposer()
	rapid.Check(t, func(rt *rapid.T) {
		text := rapid.StringMatching(`[a-zA-Z][a-zA-Z ]{0,40}[a-zA-Z]`).Draw(rt, "text")
		s := Settings{}
		if rapid.Bool().Draw(rt, "hasTemp") {
			s.Temperature = f64(rapid.Float64Range(0, 2).Draw(rt, "temp"))
		}
		if rapid.Bool().Draw(rt, "hasSeed") {
			s.Seed = i64(rapid.Int64Range(0, 1<<40).Draw(rt, "seed"))
		}
		if rapid.Bool().Draw(rt, "hasDims") {
			s.Width = iptr(rapid.IntRange(1, 4096).Draw(rt, "w"))
			s.Height = iptr(rapid.IntRange(1, 4096).Draw(rt, "h"))
		}

		out := c.BuildGenerate(text, s)
		if !strings.Contains(out, strings.TrimSpace(text)) {
			rt.Errorf("Expected user text %q in output %q", text, out)
		}
		if s.Width != nil {
			size := fmt.Sprintf("%d×%d", *s.Width, *s.Height)
			if strings.Count(out, size) < 2 {
				rt.Errorf("Expected size %s stated at least twice in %q", size, out)
			}
		}
	})
}
