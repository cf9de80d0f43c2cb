/*Package calib implements black-frame calibration for a raw sensor stream.

A calibration cycle accumulates a sequence of dark frames into a per-pixel
black level map, flags statistical outliers ("bad pixels"), and thereafter
repairs those pixels and subtracts the black map from every live frame.

All arithmetic stays within the sensor bit depth; the accumulator is a wider
integer clamped at its maximum, division rounds rather than truncates, and
black subtraction clamps at zero.
*/
package calib

import (
	"math"

	"github.com/astrolab/starcap/frame"
)

// badPixelSigma is the outlier threshold in standard deviations above the
// global dark mean.
const badPixelSigma = 4

// Calibrator accumulates dark frames and corrects live frames.  It is used
// from a single goroutine (the consumer context); it is not thread safe.
type Calibrator struct {
	w, h int

	// accumulation state, valid while capturing
	sum   []uint32
	count int

	// running sample statistics across every pixel of every accumulated
	// frame, used to derive the bad pixel threshold
	nSamples  float64
	sampleSum float64
	sampleSq  float64

	// results of the last completed cycle; fixed until the next cycle
	black     []uint16
	blackMean uint16
	bad       []int

	capturing bool
}

// New returns an empty Calibrator.  Until a black cycle completes,
// Correct is a no-op.
func New() *Calibrator {
	return &Calibrator{}
}

// Capturing reports whether a black accumulation cycle is in progress.
func (c *Calibrator) Capturing() bool {
	return c.capturing
}

// Frames returns the number of dark frames accumulated in the last or
// current cycle.
func (c *Calibrator) Frames() int {
	return c.count
}

// BadPixels returns the linear indices flagged by the last completed cycle.
func (c *Calibrator) BadPixels() []int {
	return c.bad
}

// BlackMean returns the rounded global mean of the last black map.
func (c *Calibrator) BlackMean() uint16 {
	return c.blackMean
}

// Black returns the per-pixel black level at a linear index, zero before the
// first completed cycle.
func (c *Calibrator) Black(i int) uint16 {
	if c.black == nil {
		return 0
	}
	return c.black[i]
}

// StartBlack begins a new accumulation cycle sized to the given resolution,
// discarding any previous calibration.
func (c *Calibrator) StartBlack(w, h int) {
	c.w, c.h = w, h
	c.sum = make([]uint32, w*h)
	c.count = 0
	c.nSamples = 0
	c.sampleSum = 0
	c.sampleSq = 0
	c.capturing = true
}

// Accumulate adds one dark frame to the running black sum.  Per-pixel sums
// clamp at the maximum representable value rather than wrapping.
func (c *Calibrator) Accumulate(b *frame.Buffer) {
	if !c.capturing || len(b.Pix) != len(c.sum) {
		return
	}
	for i, v := range b.Pix {
		if c.sum[i] > math.MaxUint32-uint32(v) {
			c.sum[i] = math.MaxUint32
		} else {
			c.sum[i] += uint32(v)
		}
		f := float64(v)
		c.sampleSum += f
		c.sampleSq += f * f
	}
	c.nSamples += float64(len(b.Pix))
	c.count++
}

// FinishBlack ends the accumulation cycle: divides the sum matrix by the
// frame count (rounded), derives the bad pixel threshold as the global dark
// mean plus 4 standard deviations, replaces flagged pixels in the black map
// with the global mean, and records their locations.  The black map and bad
// pixel list then remain fixed until the next cycle.
//
// With zero frames accumulated the calibrator reverts to the no-op state.
func (c *Calibrator) FinishBlack() {
	c.capturing = false
	if c.count == 0 {
		c.black = nil
		c.bad = nil
		c.blackMean = 0
		return
	}
	n := uint32(c.count)
	black := make([]uint16, len(c.sum))
	for i, s := range c.sum {
		q := (s + n/2) / n
		if q > 65535 {
			q = 65535
		}
		black[i] = uint16(q)
	}

	mean := c.sampleSum / c.nSamples
	variance := c.sampleSq/c.nSamples - mean*mean
	std := 0.0
	if variance > 0 {
		std = math.Sqrt(variance)
	}
	thr := mean + badPixelSigma*std
	c.blackMean = uint16(mean + 0.5)

	bad := []int{}
	for i, v := range black {
		if float64(v) > thr {
			black[i] = c.blackMean
			bad = append(bad, i)
		}
	}
	c.black = black
	c.bad = bad
	c.sum = nil
}

// Correct repairs the recorded bad pixels in a live frame and subtracts the
// black map, clamping negative results to zero.  It must not be called while
// a black cycle is capturing.  Before the first completed cycle it is a
// no-op.
func (c *Calibrator) Correct(b *frame.Buffer) {
	if c.black == nil || len(b.Pix) != len(c.black) {
		return
	}
	c.repairBad(b)
	for i, v := range b.Pix {
		blk := c.black[i]
		if v <= blk {
			b.Pix[i] = 0
		} else {
			b.Pix[i] = v - blk
		}
	}
}

// repairBad replaces each recorded bad pixel with the average of its four
// cardinal neighbors two pixels away, preserving the sensor's 2x2
// color-filter phase.  Horizontal neighbors wrap across the row; pixels
// within two rows of the top or bottom edge take the global black mean
// instead (no vertical wraparound).
func (c *Calibrator) repairBad(b *frame.Buffer) {
	w, h := c.w, c.h
	for _, idx := range c.bad {
		row := idx / w
		col := idx % w
		if row < 2 || row >= h-2 {
			b.Set(row, col, c.blackMean)
			continue
		}
		up := uint32(b.At(row-2, col))
		down := uint32(b.At(row+2, col))
		left := uint32(b.At(row, (col-2+w)%w))
		right := uint32(b.At(row, (col+2)%w))
		b.Set(row, col, uint16((up+down+left+right+2)/4))
	}
}
