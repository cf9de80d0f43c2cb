/*Package exposure implements the closed-loop exposure controller.

The controller keeps the frame's brightest pixel near a target headroom
below saturation using two tiers: a fast proportional correction for grossly
wrong exposures and a slow hysteretic stepper driven by a pair of decaying
occupancy counters.  The two-tier split avoids oscillating on single noisy
frames while still recovering quickly from large errors.
*/
package exposure

import (
	"math"
	"sync/atomic"

	"github.com/astrolab/starcap/camera"
)

// Control law constants, in DN of the 16-bit sample range unless noted.
const (
	// DimCeiling is the peak below which the fast proportional correction
	// engages.
	DimCeiling = 50000

	// FastTarget is the peak the proportional correction rescales toward.
	FastTarget = 56000

	// OverLevel is the peak above which a frame counts as too bright.
	OverLevel = 61000

	// Increment is added to one occupancy counter per frame.
	Increment = 10

	// Decay is the per-frame multiplier applied to both counters.
	Decay = 0.97

	// TripLevel is the counter value at which fine stepping engages.
	TripLevel = 100

	// RescaleTo is the value the larger counter is scaled back to after a
	// trip, preserving the ratio, so the counters cannot grow without bound.
	RescaleTo = 90

	// CoarseDivisor sizes the fine step as exposure/CoarseDivisor.
	CoarseDivisor = 10

	// FineDivisor sizes the step once both counters show activity, meaning
	// the loop is already close to balanced.
	FineDivisor = 300

	// balanceBand is how close the counters may be before a step is
	// suppressed as oscillation rather than signal.  One increment: a
	// single frame of disagreement is not a trend.
	balanceBand = Increment
)

// Controller adjusts sensor exposure so the brightest pixel hovers near the
// target headroom.  It is driven once per frame from the consumer context
// and pushes decisions to the device through the narrow Setter.  Exposure
// may be read from any goroutine.
type Controller struct {
	dev camera.Setter

	// exposure in microseconds.  Written only by the consumer context,
	// read atomically by status reporters on other goroutines.
	exposure int64

	over, under float64
}

// New returns a Controller starting from the given exposure in microseconds.
func New(dev camera.Setter, initial int64) *Controller {
	return &Controller{dev: dev, exposure: camera.ClampExposure(initial)}
}

// Exposure returns the controller's current exposure in microseconds.
func (c *Controller) Exposure() int64 {
	return atomic.LoadInt64(&c.exposure)
}

// Override forces the exposure, clamped to the device bounds, and resets the
// occupancy counters.  Used when the operator sets exposure manually.
func (c *Controller) Override(us int64) error {
	exp := camera.ClampExposure(us)
	atomic.StoreInt64(&c.exposure, exp)
	c.over = 0
	c.under = 0
	return c.dev.SetExposure(exp)
}

// Update runs one control step against the frame's maximum sample value.
// When auto exposure is disabled the counters are reset and nothing else
// happens.  A hi of zero is a degenerate frame and is skipped.
func (c *Controller) Update(hi uint16, enabled bool) error {
	if !enabled {
		c.over = 0
		c.under = 0
		return nil
	}
	if hi == 0 {
		return nil
	}
	exp := atomic.LoadInt64(&c.exposure)

	if hi < DimCeiling {
		// grossly underexposed: rescale proportionally toward the target
		// and let the fine loop take over on later frames
		exp = camera.ClampExposure(int64(float64(exp) * FastTarget / float64(hi)))
		atomic.StoreInt64(&c.exposure, exp)
		return c.dev.SetExposure(exp)
	}

	c.over *= Decay
	c.under *= Decay
	if hi > OverLevel {
		c.over += Increment
	} else {
		c.under += Increment
	}

	if c.over < TripLevel && c.under < TripLevel {
		return nil
	}

	var err error
	if math.Abs(c.over-c.under) >= balanceBand {
		step := exp / CoarseDivisor
		if c.over > 5 && c.under > 5 {
			// both sides active: the loop is nearly balanced, step gently
			step = exp / FineDivisor
		}
		if step == 0 {
			step = 1
		}
		if c.over > c.under {
			exp -= step
		} else {
			exp += step
		}
		exp = camera.ClampExposure(exp)
		atomic.StoreInt64(&c.exposure, exp)
		err = c.dev.SetExposure(exp)
	}

	// scale the larger counter back to RescaleTo, preserving the ratio
	hiC := c.over
	if c.under > hiC {
		hiC = c.under
	}
	f := RescaleTo / hiC
	c.over *= f
	c.under *= f
	return err
}
