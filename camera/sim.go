package camera

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// SimStar is a synthetic point source rendered by the simulation camera.
type SimStar struct {
	// X, Y is the source center in pixel coordinates.
	X, Y float64

	// Flux is the peak signal rate at the source center in DN per
	// microsecond of exposure.
	Flux float64
}

// Sim is a software simulation camera.  It renders a star field with a
// Gaussian point-spread function, a fixed-pattern black level, optional hot
// pixels, and Gaussian read noise.  Peak signal scales linearly with the
// programmed exposure until saturation.
//
// Sim is safe for concurrent use by the acquisition loop and the HTTP
// control surface.
type Sim struct {
	mu sync.Mutex

	w, h     int
	exposure int64 // microseconds

	// Stars is the synthetic field.
	Stars []SimStar

	// Sigma is the PSF standard deviation in pixels.
	Sigma float64

	// BlackLevel is the fixed per-pixel offset in DN.
	BlackLevel uint16

	// HotPixels are linear indices of sensor elements stuck far above the
	// black level.
	HotPixels []int

	// Noise is the standard deviation of the additive read noise in DN.
	Noise float64

	// SkyRate is the uniform background signal rate in DN per microsecond.
	SkyRate float64

	// Latency is how long PollStatus reports Working after
	// StartAcquisition.  Zero completes immediately; the test suite relies
	// on that.
	Latency time.Duration

	// FailNext makes the next N acquisitions report Failure, for fault
	// injection in tests.
	FailNext int

	rng       *rand.Rand
	acquiring bool
	started   time.Time
	ready     bool
	failed    bool
}

// NewSim returns a simulation camera of the given resolution.  The seed
// fixes the noise stream so tests are reproducible.
func NewSim(w, h int, seed int64) *Sim {
	return &Sim{
		w:        w,
		h:        h,
		exposure: 10000,
		Sigma:    2.0,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// SetExposure programs the exposure time in microseconds, clamped to the
// supported range.
func (s *Sim) SetExposure(us int64) error {
	s.mu.Lock()
	s.exposure = ClampExposure(us)
	s.mu.Unlock()
	return nil
}

// GetExposure reads back the programmed exposure time in microseconds.
func (s *Sim) GetExposure() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exposure, nil
}

// Res returns the sensor resolution.
func (s *Sim) Res() (int, int, error) {
	return s.w, s.h, nil
}

// StartAcquisition begins a simulated exposure.
func (s *Sim) StartAcquisition() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acquiring = true
	s.ready = false
	s.started = time.Now()
	if s.FailNext > 0 {
		s.FailNext--
		s.failed = true
	} else {
		s.failed = false
	}
	return nil
}

// PollStatus reports Working until the configured latency has elapsed, then
// Success (or Failure if a fault was injected).
func (s *Sim) PollStatus() AcqStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.acquiring {
		return Failure
	}
	if time.Since(s.started) < s.Latency {
		return Working
	}
	if s.failed {
		s.acquiring = false
		return Failure
	}
	s.ready = true
	return Success
}

// AbortAcquisition cancels the exposure in flight.
func (s *Sim) AbortAcquisition() error {
	s.mu.Lock()
	s.acquiring = false
	s.ready = false
	s.mu.Unlock()
	return nil
}

// ReadFrame renders the completed frame into dst.
func (s *Sim) ReadFrame(dst []uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return ErrNoFrame
	}
	s.acquiring = false
	s.ready = false

	exp := float64(s.exposure)
	sky := s.SkyRate * exp
	twoSigSq := 2 * s.Sigma * s.Sigma
	for i := range dst {
		v := float64(s.BlackLevel) + sky
		if s.Noise > 0 {
			v += s.rng.NormFloat64() * s.Noise
		}
		dst[i] = clampDN(v)
	}
	for _, st := range s.Stars {
		amp := st.Flux * exp
		// render out to 5 sigma
		r := int(s.Sigma*5) + 1
		x0, y0 := int(st.X), int(st.Y)
		for y := y0 - r; y <= y0+r; y++ {
			if y < 0 || y >= s.h {
				continue
			}
			for x := x0 - r; x <= x0+r; x++ {
				if x < 0 || x >= s.w {
					continue
				}
				dx := float64(x) - st.X
				dy := float64(y) - st.Y
				v := amp * math.Exp(-(dx*dx+dy*dy)/twoSigSq)
				i := y*s.w + x
				dst[i] = clampDN(float64(dst[i]) + v)
			}
		}
	}
	for _, i := range s.HotPixels {
		if i >= 0 && i < len(dst) {
			dst[i] = clampDN(float64(s.BlackLevel) + 20000)
		}
	}
	return nil
}

func clampDN(v float64) uint16 {
	if v <= 0 {
		return 0
	}
	if v >= 65535 {
		return 65535
	}
	return uint16(v)
}
