package fitsrec

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"os"
	"path"
	"sync"
	"testing"
	"time"

	"github.com/astrolab/starcap/frame"
	"github.com/astrolab/starcap/stardetect"
)

func testFrame() *frame.RGB48 {
	im := frame.NewRGB48(8, 6)
	for i := range im.Pix {
		im.Pix[i] = uint16(i)
	}
	return im
}

func dateFolder(root string) string {
	now := time.Now()
	return path.Join(root, fmt.Sprintf("%04d-%02d-%02d", now.Year(), now.Month(), now.Day()))
}

func TestWriteFITSHeader(t *testing.T) {
	var buf bytes.Buffer
	var gray frame.Buffer
	stars := stardetect.Result{{X: 3.5, Y: 2.25, Flux: 1000}}
	if err := WriteFITS(&buf, testFrame(), &gray, stars); err != nil {
		t.Fatal(err)
	}
	b := buf.Bytes()
	if !bytes.HasPrefix(b, []byte("SIMPLE")) {
		t.Error("output does not begin with a FITS primary header")
	}
	for _, card := range []string{"BZERO", "NSTARS", "STARX01", "STARY01"} {
		if !bytes.Contains(b[:2880*2], []byte(card)) {
			t.Errorf("header missing %s card", card)
		}
	}
}

func TestDisabledRecorderWritesNothing(t *testing.T) {
	dir, err := ioutil.TempDir("", "fitsrec")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	r := NewRecorder(dir, "img")
	r.HandleFrame(testFrame(), nil)
	files, _ := ioutil.ReadDir(dir)
	if len(files) != 0 {
		t.Errorf("disabled recorder created %d entries", len(files))
	}
}

func TestRecorderWritesSequence(t *testing.T) {
	dir, err := ioutil.TempDir("", "fitsrec")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	r := NewRecorder(dir, "img")
	r.SetEnabled(true)
	im := testFrame()
	r.HandleFrame(im, nil)
	r.HandleFrame(im, nil)

	fldr := dateFolder(dir)
	for _, want := range []string{"img000001.fits", "img000002.fits"} {
		if _, err := os.Stat(path.Join(fldr, want)); err != nil {
			t.Errorf("expected %s: %v", want, err)
		}
	}
}

func TestIncrResumesAfterExistingFiles(t *testing.T) {
	dir, err := ioutil.TempDir("", "fitsrec")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	fldr := dateFolder(dir)
	if err := os.MkdirAll(fldr, 0777); err != nil {
		t.Fatal(err)
	}
	if err := ioutil.WriteFile(path.Join(fldr, "img000041.fits"), []byte("x"), 0666); err != nil {
		t.Fatal(err)
	}

	r := NewRecorder(dir, "img")
	r.SetEnabled(true)
	r.HandleFrame(testFrame(), nil)
	if _, err := os.Stat(path.Join(fldr, "img000042.fits")); err != nil {
		t.Errorf("sequence did not resume after existing file: %v", err)
	}
}

// Recording runs in the consumer context while the HTTP wrapper retargets
// the recorder; meaningful under the race detector.
func TestConcurrentControlDuringRecording(t *testing.T) {
	dir, err := ioutil.TempDir("", "fitsrec")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	alt, err := ioutil.TempDir("", "fitsrec")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(alt)

	r := NewRecorder(dir, "img")
	r.SetEnabled(true)
	im := testFrame()

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				r.HandleFrame(im, nil)
			}
		}
	}()

	for i := 0; i < 200; i++ {
		r.SetEnabled(i%2 == 0)
		r.SetPrefix(fmt.Sprintf("seq%d", i%3))
		root := dir
		if i%2 == 1 {
			root = alt
		}
		if err := r.SetRoot(root); err != nil {
			t.Fatal(err)
		}
		_ = r.Root()
		_ = r.Prefix()
		_ = r.Enabled()
	}
	close(done)
	wg.Wait()
}
