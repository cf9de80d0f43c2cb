package pipeline

import (
	"math"

	"github.com/astrolab/starcap/frame"
)

// converter broadcasts a corrected single-channel frame to three channels,
// applying per-channel linear gain and a shared gamma.  Unity settings take
// a fast path that is an exact copy, so a no-op pipeline does not distort
// the data.  Lookup tables are rebuilt only when the knobs change.
type converter struct {
	gainR, gainG, gainB float64
	gamma               float64
	lutR, lutG, lutB    []uint16
}

func (c *converter) convert(src *frame.Buffer, dst *frame.RGB48, s Settings) {
	dst.Resize(src.W, src.H)
	if s.GainR == 1 && s.GainG == 1 && s.GainB == 1 && s.Gamma == 1 {
		for i, v := range src.Pix {
			j := i * 3
			dst.Pix[j] = v
			dst.Pix[j+1] = v
			dst.Pix[j+2] = v
		}
		return
	}
	if c.lutR == nil || s.GainR != c.gainR || s.GainG != c.gainG ||
		s.GainB != c.gainB || s.Gamma != c.gamma {
		c.rebuild(s)
	}
	for i, v := range src.Pix {
		j := i * 3
		dst.Pix[j] = c.lutR[v]
		dst.Pix[j+1] = c.lutG[v]
		dst.Pix[j+2] = c.lutB[v]
	}
}

func (c *converter) rebuild(s Settings) {
	c.gainR, c.gainG, c.gainB, c.gamma = s.GainR, s.GainG, s.GainB, s.Gamma
	c.lutR = buildLUT(s.GainR, s.Gamma)
	c.lutG = buildLUT(s.GainG, s.Gamma)
	c.lutB = buildLUT(s.GainB, s.Gamma)
}

func buildLUT(gain, gamma float64) []uint16 {
	lut := make([]uint16, 65536)
	for i := range lut {
		f := float64(i) / 65535
		if gamma != 1 && gamma > 0 {
			f = math.Pow(f, 1/gamma)
		}
		f *= gain * 65535
		switch {
		case f <= 0:
			lut[i] = 0
		case f >= 65535:
			lut[i] = 65535
		default:
			lut[i] = uint16(f + 0.5)
		}
	}
	return lut
}
