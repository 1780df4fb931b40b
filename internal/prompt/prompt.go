package prompt

import (
	"fmt"
	"strings"
)

// Settings are the structured knobs accompanying a free-form instruction.
// The provider has no native seed parameter; a seed is folded into the
// prompt text as a style-reference hint.
type Settings struct {
	Temperature *float64
	Seed        *int64
	Width       *int
	Height      *int
}

// Composer turns a free-form instruction plus settings into the literal
// provider-facing prompt text.
type Composer struct{}

// NewComposer creates a new prompt composer
func NewComposer() *Composer {
	return &Composer{}
}

// ratioLabels maps simplified W:H ratios to human labels. Unmapped ratios
// stay unlabeled.
var ratioLabels = map[string]string{
	"16:9": "cinematic",
	"9:16": "mobile",
	"4:3":  "classic",
	"3:4":  "portrait",
	"21:9": "ultra-wide",
	"1:1":  "square",
}

// GCD returns the greatest common divisor via the Euclidean algorithm
func GCD(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// SimplifyRatio reduces width:height by their greatest common divisor
func SimplifyRatio(width, height int) string {
	if width <= 0 || height <= 0 {
		return ""
	}
	d := GCD(width, height)
	return fmt.Sprintf("%d:%d", width/d, height/d)
}

// RatioLabel returns the human label for a simplified ratio, or ""
func RatioLabel(ratio string) string {
	return ratioLabels[ratio]
}

// creativeGuidance selects the phrasing tier for a temperature value
func creativeGuidance(t float64) string {
	switch {
	case t <= 0.5:
		return "Render with precise, photographic detail: accurate lighting, true-to-life textures and faithful composition."
	case t <= 1.0:
		return "Render in a balanced, natural style with believable colors and composition."
	case t <= 1.5:
		return "Render with an artistic, stylized interpretation; expressive color and form are welcome."
	default:
		return "Render with a surreal, experimental aesthetic; push well beyond realistic constraints."
	}
}

// BuildGenerate composes the instruction for a fresh generation. When exact
// dimensions are requested, the body is wrapped in a directive block and a
// closing CRITICAL REQUIREMENTS block that both restate the pixel size. The
// redundancy is intentional: the downstream renderer honors size hints
// unreliably.
func (c *Composer) BuildGenerate(text string, s Settings) string {
	body := c.enhance(text, s)

	if s.Width == nil || s.Height == nil {
		return body
	}
	w, h := *s.Width, *s.Height

	ratio := SimplifyRatio(w, h)
	ratioDesc := ratio
	if label := RatioLabel(ratio); label != "" {
		ratioDesc = fmt.Sprintf("%s, %s", ratio, label)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "IMAGE SPECIFICATION: generate an image of exactly %d×%d pixels (aspect ratio %s).\n", w, h, ratioDesc)
	b.WriteString("The content must span the full canvas edge-to-edge. Do not add borders, frames, white margins, or letterboxing of any kind.\n")
	b.WriteString("\n")
	b.WriteString(body)
	b.WriteString("\n\n")
	b.WriteString("CRITICAL REQUIREMENTS:\n")
	fmt.Fprintf(&b, "- The output image must measure exactly %d×%d pixels.\n", w, h)
	b.WriteString("- Fill the entire canvas; no padding, no empty margins.")
	return b.String()
}

// BuildEdit composes the instruction for an edit request. With a mask,
// changes are restricted to masked (white) pixels and all other pixels must
// be preserved exactly.
func (c *Composer) BuildEdit(instruction string, hasMask bool, s Settings) string {
	var b strings.Builder
	b.WriteString("Edit the provided image according to this instruction: ")
	b.WriteString(c.enhance(instruction, s))

	if hasMask {
		b.WriteString("\n\nA mask image is provided. Apply changes ONLY within the white (masked) regions of the mask. Every pixel outside the masked regions must be preserved exactly as in the original image.")
	} else {
		b.WriteString("\n\nPreserve the overall composition of the original image; change only what the instruction requires.")
	}

	if s.Width != nil && s.Height != nil {
		fmt.Fprintf(&b, "\n\nThe output image must measure exactly %d×%d pixels with content spanning the full canvas, no borders or letterboxing.", *s.Width, *s.Height)
	}
	return b.String()
}

// BuildSegment composes the instruction for a segmentation request. The
// provider answers with a JSON text part rather than image parts.
func (c *Composer) BuildSegment(query string) string {
	var b strings.Builder
	b.WriteString("Segment the provided image")
	if query != "" {
		fmt.Fprintf(&b, ", focusing on: %s", query)
	}
	b.WriteString(".\n")
	b.WriteString("Respond with JSON only: an array of objects, one per detected segment, each with\n")
	b.WriteString(`"label" (string), "box_2d" (four integers [x, y, w, h] in pixel coordinates) and "mask" (base64-encoded PNG mask image, white where the segment applies).`)
	return b.String()
}

// enhance appends the creative-tier guidance and seed hint to the user text
func (c *Composer) enhance(text string, s Settings) string {
	parts := make([]string, 0, 3)
	if s.Temperature != nil {
		parts = append(parts, creativeGuidance(*s.Temperature))
	}
	parts = append(parts, strings.TrimSpace(text))
	if s.Seed != nil {
		parts = append(parts, fmt.Sprintf("Style reference code: %d. Keep the visual style consistent with this reference.", *s.Seed))
	}
	return strings.Join(parts, " ")
}
