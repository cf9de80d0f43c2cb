package stardetect

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/astrolab/starcap/frame"
)

// bruteMedian is the obvious O(window area) reference: sort every window.
// Border pixels replicate the nearest interior value, matching localMedian's
// contract.
func bruteMedian(src, dst *frame.Buffer, radius int) {
	w, h := src.W, src.H
	dst.Resize(w, h)
	clampI := func(v, lo, hi int) int {
		if v < lo {
			return lo
		}
		if v > hi {
			return hi
		}
		return v
	}
	window := make([]uint16, 0, (2*radius+1)*(2*radius+1))
	for y := radius; y < h-radius; y++ {
		for x := radius; x < w-radius; x++ {
			window = window[:0]
			for wy := y - radius; wy <= y+radius; wy++ {
				for wx := x - radius; wx <= x+radius; wx++ {
					window = append(window, src.At(wy, wx))
				}
			}
			sort.Slice(window, func(i, j int) bool { return window[i] < window[j] })
			dst.Set(y, x, window[(len(window)-1)/2])
		}
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if y >= radius && y < h-radius && x >= radius && x < w-radius {
				continue
			}
			dst.Set(y, x, dst.At(clampI(y, radius, h-radius-1), clampI(x, radius, w-radius-1)))
		}
	}
}

func TestLocalMedianMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	cases := []struct{ w, h, radius int }{
		{12, 9, 1},
		{16, 16, 2},
		{25, 13, 3},
		{9, 30, 2},
	}
	for _, tc := range cases {
		src := frame.NewBuffer(tc.w, tc.h)
		for i := range src.Pix {
			src.Pix[i] = uint16(rng.Intn(65536))
		}
		var fast, slow frame.Buffer
		localMedian(src, &fast, tc.radius)
		bruteMedian(src, &slow, tc.radius)
		for i := range fast.Pix {
			if fast.Pix[i] != slow.Pix[i] {
				t.Errorf("%dx%d r=%d: pixel (%d,%d) = %d, brute force says %d",
					tc.w, tc.h, tc.radius, i/tc.w, i%tc.w, fast.Pix[i], slow.Pix[i])
			}
		}
	}
}

func TestLocalMedianConstantImage(t *testing.T) {
	src := frame.NewBuffer(20, 20)
	for i := range src.Pix {
		src.Pix[i] = 777
	}
	var dst frame.Buffer
	localMedian(src, &dst, 3)
	for i, v := range dst.Pix {
		if v != 777 {
			t.Fatalf("pixel %d = %d on a constant image", i, v)
		}
	}
}

func TestLocalMedianSmallFrameFallsBackToGlobal(t *testing.T) {
	// 5x5 frame with a 7-wide window: every output is the frame median
	src := frame.NewBuffer(5, 5)
	for i := range src.Pix {
		src.Pix[i] = uint16(i) // median of 0..24 is 12
	}
	var dst frame.Buffer
	localMedian(src, &dst, 3)
	for i, v := range dst.Pix {
		if v != 12 {
			t.Errorf("pixel %d = %d, want global median 12", i, v)
		}
	}
}
