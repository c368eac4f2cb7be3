// Package rgba holds the 8-bit RGBA color used throughout the engine and its
// canonical "#rrggbbaa" representation.
package rgba

import (
	"encoding/hex"
	"fmt"
	"math"
	"strings"

	"github.com/crazy3lf/colorconv"
	"github.com/rotisserie/eris"

	"github.com/cybre/emotive-engine/internal/utils"
)

// ErrInvalidHex is returned when a string is not a full 8-digit hex color.
var ErrInvalidHex = eris.New("invalid hex color")

var (
	// Transparent is fully transparent black.
	Transparent = Color{}
	// Neutral is the fallback used when no color source has produced a value yet.
	Neutral = Color{R: 0x41, G: 0xfd, B: 0xfe, A: 0xcc}
)

// Color is an 8-bit per channel RGBA value.
type Color struct {
	R uint8
	G uint8
	B uint8
	A uint8
}

// Parse decodes "#rrggbbaa" (the leading '#' is optional, case-insensitive).
// Short and 6-digit forms are rejected.
func Parse(s string) (Color, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(raw) != 8 {
		return Color{}, eris.Wrapf(ErrInvalidHex, "%q must have 8 hex digits", s)
	}

	var buf [4]byte
	if _, err := hex.Decode(buf[:], []byte(raw)); err != nil {
		return Color{}, eris.Wrapf(ErrInvalidHex, "%q: %v", s, err)
	}

	return Color{R: buf[0], G: buf[1], B: buf[2], A: buf[3]}, nil
}

// MustParse is Parse for compile-time constants; it panics on malformed input.
func MustParse(s string) Color {
	c, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return c
}

// Hex returns the lowercase "#rrggbbaa" form.
func (c Color) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x%02x", c.R, c.G, c.B, c.A)
}

// RGBHex returns the lowercase "#rrggbb" form, dropping alpha.
func (c Color) RGBHex() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

func (c Color) String() string {
	return c.Hex()
}

// MarshalText implements encoding.TextMarshaler.
func (c Color) MarshalText() ([]byte, error) {
	return []byte(c.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler so colors can be configured as strings.
func (c *Color) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// WithAlpha returns c with its alpha channel replaced.
func (c Color) WithAlpha(a uint8) Color {
	c.A = a
	return c
}

// Scale multiplies the RGB channels by factor, truncating and clamping to 255.
// Negative factors behave like zero. Alpha is left untouched.
func (c Color) Scale(factor float64) Color {
	if factor < 0 || math.IsNaN(factor) {
		factor = 0
	}
	scale := func(v uint8) uint8 {
		return uint8(utils.Clamp(math.Floor(float64(v)*factor), 0, 255))
	}
	return Color{R: scale(c.R), G: scale(c.G), B: scale(c.B), A: c.A}
}

// Lerp interpolates every channel independently between from and to, rounding
// to the nearest integer. t is clamped to [0, 1].
func Lerp(from, to Color, t float64) Color {
	t = utils.Clamp(t, 0.0, 1.0)
	mix := func(a, b uint8) uint8 {
		return utils.ClampByte(float64(a) + (float64(b)-float64(a))*t)
	}
	return Color{
		R: mix(from.R, to.R),
		G: mix(from.G, to.G),
		B: mix(from.B, to.B),
		A: mix(from.A, to.A),
	}
}

// HSV returns hue in degrees and saturation/value in [0, 1].
func (c Color) HSV() (float64, float64, float64) {
	return colorconv.RGBToHSV(c.R, c.G, c.B)
}

// Uniforms is the normalized tuple handed to shader consumers.
type Uniforms struct {
	R    float64
	G    float64
	B    float64
	Beat float64
}

// Uniforms converts the RGB channels to [0, 1] floats and the beat flag to 0 or 1.
func (c Color) Uniforms(beat bool) Uniforms {
	u := Uniforms{
		R: float64(c.R) / 255.0,
		G: float64(c.G) / 255.0,
		B: float64(c.B) / 255.0,
	}
	if beat {
		u.Beat = 1
	}
	return u
}
