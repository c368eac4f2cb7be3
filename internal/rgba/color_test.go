package rgba

import (
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	c, err := Parse("#11AAff80")
	require.NoError(t, err)
	assert.Equal(t, Color{R: 0x11, G: 0xaa, B: 0xff, A: 0x80}, c)
	assert.Equal(t, "#11aaff80", c.Hex())

	c, err = Parse("41fdfecc")
	require.NoError(t, err)
	assert.Equal(t, Neutral, c)
}

func TestParseRejectsPartialForms(t *testing.T) {
	for _, in := range []string{"", "#fff", "#ffffff", "#fffffffff", "#gg0000ff"} {
		_, err := Parse(in)
		assert.True(t, eris.Is(err, ErrInvalidHex), in)
	}
}

func TestUnmarshalText(t *testing.T) {
	var c Color
	require.NoError(t, c.UnmarshalText([]byte("#112233cc")))
	assert.Equal(t, "#112233cc", c.String())
	assert.Equal(t, "#112233", c.RGBHex())
	assert.Error(t, c.UnmarshalText([]byte("#123")))
}

func TestScaleStaysInRange(t *testing.T) {
	colors := []Color{
		{},
		{R: 255, G: 255, B: 255, A: 255},
		{R: 0x80, G: 0x80, B: 0x80, A: 0xcc},
		{R: 1, G: 200, B: 254, A: 7},
	}
	factors := []float64{0, 0.5, 1, 1.45, 3, 1000, -2}

	for _, c := range colors {
		for _, f := range factors {
			scaled := c.Scale(f)
			assert.Equal(t, c.A, scaled.A)
			if f <= 0 {
				assert.Equal(t, Color{A: c.A}, scaled)
			}
			if f >= 1 {
				assert.GreaterOrEqual(t, scaled.R, c.R)
			}
		}
	}

	assert.Equal(t, Color{R: 185, G: 185, B: 185, A: 0xff}, MustParse("#808080ff").Scale(1.45))
	assert.Equal(t, Color{R: 255, G: 255, B: 255}, Color{R: 200, G: 250, B: 255}.Scale(1.45))
}

func TestLerp(t *testing.T) {
	a := MustParse("#00000000")
	b := MustParse("#ff8040c8")

	assert.Equal(t, a, Lerp(a, b, 0))
	assert.Equal(t, b, Lerp(a, b, 1))
	assert.Equal(t, b, Lerp(a, b, 2))
	assert.Equal(t, Color{R: 128, G: 64, B: 32, A: 100}, Lerp(a, b, 0.5))
}

func TestUniforms(t *testing.T) {
	u := MustParse("#ff0080cc").Uniforms(true)
	assert.InDelta(t, 1.0, u.R, 1e-9)
	assert.InDelta(t, 0.0, u.G, 1e-9)
	assert.InDelta(t, 128.0/255.0, u.B, 1e-9)
	assert.Equal(t, 1.0, u.Beat)
	assert.Equal(t, 0.0, MustParse("#ff0080cc").Uniforms(false).Beat)
}
