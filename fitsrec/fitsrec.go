// Package fitsrec contains an image recorder that saves corrected frames to
// FITS files with incrementing filenames in yyyy-mm-dd subfolders, carrying
// the detected star centroids in the header.
package fitsrec

import (
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/astrogo/fitsio"

	"github.com/astrolab/starcap/frame"
	"github.com/astrolab/starcap/stardetect"
)

// Recorder records image sequences.  It satisfies the pipeline's FrameSink.
// Frames arrive from the consumer context while the HTTP wrapper changes the
// destination on the fly, so all state is guarded by one mutex.
type Recorder struct {
	mu sync.Mutex

	// counter is the internally incrementing file counter
	counter int

	// root is the folder sequences are written under
	root string

	// prefix is the filename prefix
	prefix string

	// enabled gates writing
	enabled bool

	// timeFldr is the subfolder with yyyy-mm-dd format
	timeFldr string

	gray frame.Buffer
}

// NewRecorder returns a disabled Recorder writing under root with the given
// filename prefix.
func NewRecorder(root, prefix string) *Recorder {
	return &Recorder{root: root, prefix: prefix}
}

// Root returns the folder sequences are written under.
func (r *Recorder) Root() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.root
}

// SetRoot changes the destination folder and creates today's subfolder under
// it, reporting any creation error.
func (r *Recorder) SetRoot(root string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.root = root
	r.updateFolder()
	_, err := r.mkDir()
	return err
}

// Prefix returns the filename prefix.
func (r *Recorder) Prefix() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.prefix
}

// SetPrefix changes the filename prefix and resets the counter, so the next
// frame rescans the folder for the new sequence.
func (r *Recorder) SetPrefix(prefix string) {
	r.mu.Lock()
	r.prefix = prefix
	r.counter = 0
	r.mu.Unlock()
}

// Enabled reports whether the recorder is writing frames.
func (r *Recorder) Enabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled
}

// SetEnabled turns recording on or off.
func (r *Recorder) SetEnabled(b bool) {
	r.mu.Lock()
	r.enabled = b
	r.mu.Unlock()
}

// updateFolder checks the current time and updates the folder name.  Callers
// hold mu.
func (r *Recorder) updateFolder() {
	now := time.Now()
	y, m, d := now.Year(), now.Month(), now.Day()
	r.timeFldr = fmt.Sprintf("%04d-%02d-%02d", y, m, d)
}

// mkDir makes the folder and returns it.  Callers hold mu.
func (r *Recorder) mkDir() (string, error) {
	fldr := path.Join(r.root, r.timeFldr)
	err := os.MkdirAll(fldr, 0777)
	return fldr, err
}

// Idle satisfies the sink interface; the recorder has no housekeeping.
func (r *Recorder) Idle() {}

// HandleFrame writes the frame to the next file in the sequence when the
// recorder is enabled.
func (r *Recorder) HandleFrame(im *frame.RGB48, stars stardetect.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.enabled {
		return
	}
	r.updateFolder()
	fldr, err := r.mkDir()
	if err != nil {
		return
	}
	if r.counter == 0 {
		r.incr()
	}
	fn := path.Join(fldr, fmt.Sprintf("%s%06d.fits", r.prefix, r.counter))
	fid, err := os.Create(fn)
	if err != nil {
		return
	}
	defer fid.Close()
	if err := WriteFITS(fid, im, &r.gray, stars); err == nil {
		r.counter++
	}
}

// incr updates the filename counter by scanning the folder.  If there is an
// error, the counter is not incremented.  Callers hold mu.
func (r *Recorder) incr() {
	dn, _ := r.mkDir()
	files, err := ioutil.ReadDir(dn)
	if err != nil {
		return
	}
	count := 0
	for _, file := range files {
		// skip directories, non-fits, and wrong prefix
		if file.IsDir() {
			continue
		}
		fn := file.Name()
		if !strings.HasSuffix(fn, ".fits") || !strings.HasPrefix(fn, r.prefix) {
			continue
		}
		bit := strings.TrimSuffix(strings.TrimPrefix(fn, r.prefix), ".fits")
		n, err := strconv.Atoi(bit)
		if err != nil {
			return
		}
		if count < n {
			count = n
		}
	}
	r.counter = count + 1
}

// WriteFITS streams a 16-bit FITS image of the frame's intensity view to w.
// gray is caller-provided scratch.  Star centroids go into the header as
// STARXnn/STARYnn cards.
func WriteFITS(w io.Writer, im *frame.RGB48, gray *frame.Buffer, stars stardetect.Result) error {
	im.Gray(gray)
	cards := []fitsio.Card{
		{Name: "BZERO", Value: 32768},
		{Name: "BSCALE", Value: 1.0},
		{Name: "NSTARS", Value: len(stars)},
	}
	for i, s := range stars {
		cards = append(cards,
			fitsio.Card{Name: fmt.Sprintf("STARX%02d", i+1), Value: s.X},
			fitsio.Card{Name: fmt.Sprintf("STARY%02d", i+1), Value: s.Y},
		)
	}

	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	img := fitsio.NewImage(16, []int{gray.W, gray.H})
	defer img.Close()
	if err := img.Header().Append(cards...); err != nil {
		return err
	}
	ints := make([]int16, len(gray.Pix))
	for i, v := range gray.Pix {
		ints[i] = int16(int32(v) - 32768)
	}
	if err := img.Write(ints); err != nil {
		return err
	}
	return fits.Write(img)
}
