package scene

import (
	"regexp"
	"strings"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/colornames"

	"refinery/internal/pkg/errors"
)

// Color is an RGB triple with components in [0,1]. Values are used as-is in
// lighting; there is no sRGB decode step.
type Color struct {
	R, G, B float32
}

// Hex builds a Color from a 0xRRGGBB literal.
func Hex(v uint32) Color {
	return Color{
		R: float32((v>>16)&0xff) / 255,
		G: float32((v>>8)&0xff) / 255,
		B: float32(v&0xff) / 255,
	}
}

// Vec3 returns the color as a vector for shading math.
func (c Color) Vec3() mgl32.Vec3 {
	return mgl32.Vec3{c.R, c.G, c.B}
}

// Hex formats the color as #rrggbb.
func (c Color) Hex() string {
	return colorful.Color{R: float64(c.R), G: float64(c.G), B: float64(c.B)}.Clamped().Hex()
}

// colorful.Hex scans with Sscanf and ignores trailing or missing digits.
var hexColor = regexp.MustCompile(`^#([0-9a-f]{3}|[0-9a-f]{6})$`)

// ParseColor accepts "#rgb", "#rrggbb", "0xrrggbb" and CSS color names.
func ParseColor(field, s string) (Color, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if v == "" {
		return Color{}, errors.InvalidConfig(field, "color is empty")
	}
	if rest, ok := strings.CutPrefix(v, "0x"); ok {
		v = "#" + rest
	}
	if strings.HasPrefix(v, "#") {
		if !hexColor.MatchString(v) {
			return Color{}, errors.InvalidConfig(field, "unparsable color "+strings.TrimSpace(s))
		}
		c, err := colorful.Hex(v)
		if err != nil || !c.IsValid() {
			return Color{}, errors.InvalidConfig(field, "unparsable color "+strings.TrimSpace(s))
		}
		return Color{R: float32(c.R), G: float32(c.G), B: float32(c.B)}, nil
	}
	if named, ok := colornames.Map[v]; ok {
		c, _ := colorful.MakeColor(named)
		return Color{R: float32(c.R), G: float32(c.G), B: float32(c.B)}, nil
	}
	return Color{}, errors.InvalidConfig(field, "unknown color "+strings.TrimSpace(s))
}

// parseOptionalColor returns nil for an empty string.
func parseOptionalColor(field, s string) (*Color, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	c, err := ParseColor(field, s)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
