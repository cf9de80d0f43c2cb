/*Package stardetect locates point sources in a corrected frame.

The pipeline per frame: collapse to an intensity-only view, estimate the
smoothly varying local background with a sliding-window median and subtract
it (flattening vignetting and sky glow while keeping point sources), then
repeatedly take the brightest remaining pixel, grow a box around it until a
density criterion is met, centroid it, and erase it before the next search.

The half-height/13% growth rule approximates the point where a symmetric
roughly-Gaussian PSF's edge sits at 2-3 standard deviations from its peak,
so the centroid window is mostly signal; the noise it does include is
assumed symmetric and self-cancelling.

Known limitation: overlapping or touching sources can merge, or one can
suppress the other, depending on extraction order.  This is an accepted
approximation of the algorithm, not a defect.
*/
package stardetect

import (
	"github.com/astrolab/starcap/frame"
)

// Star is one detected source.
type Star struct {
	// X, Y is the intensity-weighted centroid in pixel coordinates.
	X float64 `json:"x"`
	Y float64 `json:"y"`

	// Radius is the half-width of the bounding box the centroid was
	// computed over.
	Radius int `json:"radius"`

	// SumX, SumY and Flux are the raw weighted-position and intensity
	// accumulators the centroid derives from.
	SumX float64 `json:"sumX"`
	SumY float64 `json:"sumY"`
	Flux float64 `json:"flux"`
}

// Result is an ordered list of detections, brightest-first by extraction
// order.  It is rebuilt from scratch every frame; there is no cross-frame
// identity tracking.
type Result []Star

// Detector finds stars in corrected frames.  The zero value is not usable;
// New returns one with production parameters.  Fields may be overridden
// before first use (the tests shrink the window to fit synthetic images).
//
// A Detector reuses internal scratch buffers and must be used from a single
// goroutine.
type Detector struct {
	// BackgroundRadius is the local median window radius.
	BackgroundRadius int

	// MaxStars bounds the number of extraction iterations per frame.
	MaxStars int

	// MaxRadius bounds blob growth, and doubles as the edge margin the
	// brightest-pixel search keeps from every border.
	MaxRadius int

	// MinBright is the minimum accumulated count of half-height pixels for
	// a candidate to be kept; smaller blobs are discarded as noise.
	MinBright int

	// DensityPercent is the bright-fraction floor, in percent of box area,
	// at which box growth stops.
	DensityPercent int

	// ThresholdSigma scales the standard deviation in the detection
	// threshold (mean + ThresholdSigma*sigma of the flattened image).
	ThresholdSigma float64

	gray frame.Buffer
	bg   frame.Buffer
}

// New returns a Detector with production parameters: an 81-wide median
// window, at most 12 stars, 30 pixel blobs, 5 pixel minimum, 13% density
// cutoff, and a mean+2-sigma threshold.
func New() *Detector {
	return &Detector{
		BackgroundRadius: 40,
		MaxStars:         12,
		MaxRadius:        30,
		MinBright:        5,
		DensityPercent:   13,
		ThresholdSigma:   2,
	}
}

// Detect runs the full pipeline on a corrected three-channel frame.
func (d *Detector) Detect(im *frame.RGB48) Result {
	im.Gray(&d.gray)
	return d.DetectGray(&d.gray)
}

// DetectGray runs background subtraction and extraction on an intensity
// image in place (the buffer is consumed as extraction scratch).
func (d *Detector) DetectGray(g *frame.Buffer) Result {
	localMedian(g, &d.bg, d.BackgroundRadius)
	for i, v := range g.Pix {
		bg := d.bg.Pix[i]
		if v <= bg {
			g.Pix[i] = 0
		} else {
			g.Pix[i] = v - bg
		}
	}

	st := g.Statistics()
	thr := st.Mean + d.ThresholdSigma*st.Std

	res := Result{}
	for i := 0; i < d.MaxStars; i++ {
		peak, prow, pcol := d.brightestInterior(g)
		if float64(peak) <= thr {
			// the remaining field is noise
			break
		}
		star, ok := d.extract(g, peak, prow, pcol)
		if ok {
			res = append(res, star)
		}
	}
	return res
}

// brightestInterior scans for the maximum sample at least MaxRadius from
// every edge, so a blob grown around it always stays in bounds.
func (d *Detector) brightestInterior(g *frame.Buffer) (peak uint16, row, col int) {
	m := d.MaxRadius
	for y := m; y < g.H-m; y++ {
		base := y * g.W
		for x := m; x < g.W-m; x++ {
			if v := g.Pix[base+x]; v > peak {
				peak, row, col = v, y, x
			}
		}
	}
	return peak, row, col
}

// extract grows the half-height box around a candidate peak, centroids it if
// it is large enough, and erases the box from the image either way.
func (d *Detector) extract(g *frame.Buffer, peak uint16, prow, pcol int) (Star, bool) {
	half := peak / 2
	bright := 1 // the peak itself
	r := 1
	for ; r <= d.MaxRadius; r++ {
		bright += d.countRing(g, prow, pcol, r, half)
		area := (2*r + 1) * (2*r + 1)
		if bright*100 <= area*d.DensityPercent {
			break
		}
	}
	if r > d.MaxRadius {
		r = d.MaxRadius
	}

	var star Star
	keep := bright >= d.MinBright
	if keep {
		var sx, sy, flux float64
		for y := prow - r; y <= prow+r; y++ {
			for x := pcol - r; x <= pcol+r; x++ {
				v := float64(g.At(y, x))
				sx += v * float64(x)
				sy += v * float64(y)
				flux += v
			}
		}
		star = Star{Radius: r, SumX: sx, SumY: sy, Flux: flux}
		if flux > 0 {
			star.X = sx / flux
			star.Y = sy / flux
		} else {
			star.X = float64(pcol)
			star.Y = float64(prow)
			keep = false
		}
	}

	// erase so later iterations cannot rediscover this source
	for y := prow - r; y <= prow+r; y++ {
		for x := pcol - r; x <= pcol+r; x++ {
			g.Set(y, x, 0)
		}
	}
	return star, keep
}

// countRing counts the pixels on the perimeter of the box of the given
// radius around (row, col) that are at least the half-height value.
func (d *Detector) countRing(g *frame.Buffer, row, col, radius int, half uint16) int {
	n := 0
	for x := col - radius; x <= col+radius; x++ {
		if g.At(row-radius, x) >= half {
			n++
		}
		if g.At(row+radius, x) >= half {
			n++
		}
	}
	for y := row - radius + 1; y <= row+radius-1; y++ {
		if g.At(y, col-radius) >= half {
			n++
		}
		if g.At(y, col+radius) >= half {
			n++
		}
	}
	return n
}
