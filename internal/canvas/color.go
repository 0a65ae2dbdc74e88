package canvas

import (
	"fmt"
	"strconv"
	"strings"
)

// Color is a 24-bit RGB color with an 8-bit alpha channel.
type Color struct {
	R, G, B, A uint8
}

var (
	// Background is what every cell without a stored color reads as.
	Background = RGB(0xFF, 0xFF, 0xFF)

	// Palette is the default set of paint colors offered to players.
	Palette = []Color{
		RGB(0xF4, 0x43, 0x36), // red
		RGB(0x4C, 0xAF, 0x50), // green
		RGB(0x21, 0x96, 0xF3), // blue
		RGB(0xFF, 0xC1, 0x07), // amber
		RGB(0x9C, 0x27, 0xB0), // purple
	}
)

// RGB returns an opaque color.
func RGB(r, g, b uint8) Color {
	return Color{R: r, G: g, B: b, A: 0xFF}
}

// ParseHex parses "#RRGGBB" or "#AARRGGBB". Anything else, including an
// invalid digit, yields Background and false.
func ParseHex(s string) (Color, bool) {
	s = strings.TrimSpace(s)
	hex, ok := strings.CutPrefix(s, "#")
	if !ok || (len(hex) != 6 && len(hex) != 8) {
		return Background, false
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return Background, false
	}

	c := Color{
		R: uint8(v >> 16),
		G: uint8(v >> 8),
		B: uint8(v),
		A: 0xFF,
	}
	if len(hex) == 8 {
		c.A = uint8(v >> 24)
	}
	return c, true
}

// MustParseHex is ParseHex for literals known to be valid.
func MustParseHex(s string) Color {
	c, ok := ParseHex(s)
	if !ok {
		panic(fmt.Sprintf("canvas: invalid color %q", s))
	}
	return c
}

// Hex formats the color as uppercase "#RRGGBB". Alpha is not encoded.
func (c Color) Hex() string {
	return fmt.Sprintf("#%02X%02X%02X", c.R, c.G, c.B)
}

// Opaque returns c with full alpha.
func (c Color) Opaque() Color {
	c.A = 0xFF
	return c
}

func (c Color) String() string {
	return c.Hex()
}
