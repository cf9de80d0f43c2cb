package stardetect

import (
	"sort"

	"github.com/astrolab/starcap/frame"
)

// localMedian fills dst with the sliding-window median of src over a square
// window of the given radius.
//
// The window is swept in boustrophedon order: a full vertical sweep per
// column, alternating direction, then one column step right.  Each move adds
// and removes exactly one window edge (2*radius+1 samples), so the histogram
// update is O(window edge) per output pixel instead of O(window area).  A
// running cursor into the 16-bit histogram tracks the median candidate
// between moves.
//
// Border pixels, within radius of any edge, are not computed directly; they
// replicate the nearest computed interior value.
func localMedian(src, dst *frame.Buffer, radius int) {
	w, h := src.W, src.H
	dst.Resize(w, h)
	win := 2*radius + 1
	if w < win || h < win {
		fillGlobalMedian(src, dst)
		return
	}
	rank := (win*win - 1) / 2

	var hist [65536]int
	below := 0 // samples strictly less than med
	med := 0

	add := func(v uint16) {
		hist[v]++
		if int(v) < med {
			below++
		}
	}
	remove := func(v uint16) {
		hist[v]--
		if int(v) < med {
			below--
		}
	}
	// reposition the cursor so that below <= rank < below+hist[med]
	seek := func() {
		for below > rank {
			med--
			below -= hist[med]
		}
		for below+hist[med] <= rank {
			below += hist[med]
			med++
		}
	}

	cx, cy := radius, radius
	for y := 0; y < win; y++ {
		for x := 0; x < win; x++ {
			add(src.At(y, x))
		}
	}
	seek()
	dst.Set(cy, cx, uint16(med))

	down := true
	for {
		switch {
		case down && cy < h-radius-1:
			// one step down: row leaving above, row entering below
			for x := cx - radius; x <= cx+radius; x++ {
				remove(src.At(cy-radius, x))
				add(src.At(cy+radius+1, x))
			}
			cy++
		case !down && cy > radius:
			for x := cx - radius; x <= cx+radius; x++ {
				remove(src.At(cy+radius, x))
				add(src.At(cy-radius-1, x))
			}
			cy--
		default:
			// column finished: step right and reverse the sweep
			if cx == w-radius-1 {
				replicateBorders(dst, radius)
				return
			}
			for y := cy - radius; y <= cy+radius; y++ {
				remove(src.At(y, cx-radius))
				add(src.At(y, cx+radius+1))
			}
			cx++
			down = !down
		}
		seek()
		dst.Set(cy, cx, uint16(med))
	}
}

// replicateBorders fills the uncomputed frame border by clamping to the
// nearest interior row/column.
func replicateBorders(dst *frame.Buffer, radius int) {
	w, h := dst.W, dst.H
	clampI := func(v, lo, hi int) int {
		if v < lo {
			return lo
		}
		if v > hi {
			return hi
		}
		return v
	}
	for y := 0; y < h; y++ {
		cy := clampI(y, radius, h-radius-1)
		for x := 0; x < w; x++ {
			if y >= radius && y < h-radius && x >= radius && x < w-radius {
				x = w - radius - 1 // skip the interior span
				continue
			}
			dst.Set(y, x, dst.At(cy, clampI(x, radius, w-radius-1)))
		}
	}
}

// fillGlobalMedian handles frames smaller than the window: every output
// pixel takes the median of the whole frame.
func fillGlobalMedian(src, dst *frame.Buffer) {
	tmp := make([]uint16, len(src.Pix))
	copy(tmp, src.Pix)
	sort.Slice(tmp, func(i, j int) bool { return tmp[i] < tmp[j] })
	m := tmp[(len(tmp)-1)/2]
	for i := range dst.Pix {
		dst.Pix[i] = m
	}
}
