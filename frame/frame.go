/*Package frame contains the pixel buffer types passed through the capture
pipeline.

A Buffer holds one sample per sensor element as uint16, strided by the frame
width.  Indexing is bounds-checked and goes through (row, col) rather than
raw offset arithmetic so the color-filter phase math in the calibration code
stays legible.
*/
package frame

import (
	"fmt"
	"math"
)

// Buffer is a single-channel 2-D pixel matrix with one uint16 sample per
// sensor element.  Exactly one execution context may write to a Buffer at a
// time; ownership moves between contexts through exchange.Exchange only.
type Buffer struct {
	// Pix is the sample data in row-major order, strided by W.
	Pix []uint16

	// W is the width in pixels.
	W int

	// H is the height in pixels.
	H int
}

// NewBuffer allocates a zeroed Buffer of the given dimensions.
func NewBuffer(w, h int) *Buffer {
	return &Buffer{Pix: make([]uint16, w*h), W: w, H: h}
}

// At returns the sample at (row, col).  Panics if out of bounds.
func (b *Buffer) At(row, col int) uint16 {
	b.boundsCheck(row, col)
	return b.Pix[row*b.W+col]
}

// Set writes the sample at (row, col).  Panics if out of bounds.
func (b *Buffer) Set(row, col int, v uint16) {
	b.boundsCheck(row, col)
	b.Pix[row*b.W+col] = v
}

func (b *Buffer) boundsCheck(row, col int) {
	if row < 0 || row >= b.H || col < 0 || col >= b.W {
		panic(fmt.Sprintf("frame: index (%d,%d) out of bounds for %dx%d buffer", row, col, b.W, b.H))
	}
}

// Size is the size of the pixel data in bytes.
func (b *Buffer) Size() int {
	return len(b.Pix) * 2
}

// Resize reallocates the pixel data if the dimensions have changed.  The
// contents after a resize are zero.  Buffers are reused across frames until
// the device resolution changes.
func (b *Buffer) Resize(w, h int) {
	if b.W == w && b.H == h && b.Pix != nil {
		return
	}
	b.Pix = make([]uint16, w*h)
	b.W = w
	b.H = h
}

// Max returns the largest sample in the buffer, zero for an empty buffer.
func (b *Buffer) Max() uint16 {
	var hi uint16
	for _, v := range b.Pix {
		if v > hi {
			hi = v
		}
	}
	return hi
}

// Stats holds per-frame intensity statistics.
type Stats struct {
	// Mean is the average sample value.
	Mean float64

	// Std is the standard deviation of the sample values.
	Std float64

	// Max is the largest sample value.
	Max uint16
}

// Statistics computes the mean, standard deviation and max over the buffer.
func (b *Buffer) Statistics() Stats {
	return computeStats(b.Pix)
}

func computeStats(pix []uint16) Stats {
	s := Stats{}
	if len(pix) == 0 {
		return s
	}
	var sum, sumSq float64
	for _, v := range pix {
		f := float64(v)
		sum += f
		sumSq += f * f
		if v > s.Max {
			s.Max = v
		}
	}
	n := float64(len(pix))
	s.Mean = sum / n
	variance := sumSq/n - s.Mean*s.Mean
	if variance > 0 {
		s.Std = math.Sqrt(variance)
	}
	return s
}

// RGB48 is a three-channel 2-D pixel matrix, 16 bits per channel, samples
// interleaved R,G,B in row-major order.  Channel order is not meaningful to
// the pipeline, only consistency.
type RGB48 struct {
	// Pix is the sample data, 3 samples per pixel, strided by 3*W.
	Pix []uint16

	// W is the width in pixels.
	W int

	// H is the height in pixels.
	H int
}

// NewRGB48 allocates a zeroed RGB48 of the given dimensions.
func NewRGB48(w, h int) *RGB48 {
	return &RGB48{Pix: make([]uint16, 3*w*h), W: w, H: h}
}

// At returns the three channel samples at (row, col).
func (im *RGB48) At(row, col int) (r, g, b uint16) {
	i := (row*im.W + col) * 3
	return im.Pix[i], im.Pix[i+1], im.Pix[i+2]
}

// Set writes the three channel samples at (row, col).
func (im *RGB48) Set(row, col int, r, g, b uint16) {
	i := (row*im.W + col) * 3
	im.Pix[i] = r
	im.Pix[i+1] = g
	im.Pix[i+2] = b
}

// Resize reallocates the pixel data if the dimensions have changed.
func (im *RGB48) Resize(w, h int) {
	if im.W == w && im.H == h && im.Pix != nil {
		return
	}
	im.Pix = make([]uint16, 3*w*h)
	im.W = w
	im.H = h
}

// Gray fills dst with the unweighted average of the three channels at every
// pixel, resizing dst to match.  Plain mean, not a luminance weighting, so
// every channel contributes equally to photometry.
func (im *RGB48) Gray(dst *Buffer) {
	dst.Resize(im.W, im.H)
	n := im.W * im.H
	for i := 0; i < n; i++ {
		j := i * 3
		s := uint32(im.Pix[j]) + uint32(im.Pix[j+1]) + uint32(im.Pix[j+2])
		dst.Pix[i] = uint16(s / 3)
	}
}
