/*Package pipeline runs the capture loop: a producer context that owns the
device and fills raw frames, and a consumer context that calibrates,
analyzes and hands results to the output sinks.

The frame exchange is the only shared-memory boundary between the two
contexts.  The settings store is the only other shared state; both loops
take a by-value snapshot of it at the top of each iteration and never hold
its lock across processing work.
*/
package pipeline

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"golang.org/x/time/rate"

	"github.com/astrolab/starcap/calib"
	"github.com/astrolab/starcap/camera"
	"github.com/astrolab/starcap/exchange"
	"github.com/astrolab/starcap/exposure"
	"github.com/astrolab/starcap/frame"
	"github.com/astrolab/starcap/stardetect"
)

// pollInterval is how often the producer polls acquisition status while an
// exposure integrates; it bounds shutdown latency during long exposures.
const pollInterval = time.Millisecond

// DefaultSwapTimeout is the consumer-side rendezvous timeout.  A timeout is
// not an error: it is when the consumer services housekeeping between
// frames.
const DefaultSwapTimeout = 50 * time.Millisecond

// FrameSink receives each processed frame.  HandleFrame is called from the
// consumer context; the frame and result are only valid for the duration of
// the call.  Idle is called during housekeeping, rate-limited, when no frame
// arrived within the swap timeout.
type FrameSink interface {
	HandleFrame(im *frame.RGB48, stars stardetect.Result)
	Idle()
}

// Pipeline owns both execution contexts and the glue between them.
type Pipeline struct {
	cam      camera.Camera
	x        *exchange.Exchange
	settings *SettingsStore
	cal      *calib.Calibrator
	ctl      *exposure.Controller
	det      *stardetect.Detector
	sinks    []FrameSink

	// SwapTimeout is the consumer rendezvous timeout.  Set before Start.
	SwapTimeout time.Duration

	refresh *rate.Limiter

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	rgb  frame.RGB48
	conv converter

	frames       uint64 // processed frames, atomic
	faults       uint64 // consecutive device faults, atomic
	lastOverride int64

	// pubMu guards the snapshots published by the consumer for other
	// goroutines (HTTP status, tests); the calibrator and detector
	// themselves are consumer-context only.
	pubMu   sync.Mutex
	last    stardetect.Result
	calStat CalibStatus
}

// CalibStatus is a point-in-time snapshot of the calibration state,
// published once per frame.
type CalibStatus struct {
	// Capturing reports whether a black accumulation cycle is in progress.
	Capturing bool

	// Frames is the dark frame count of the current or last cycle.
	Frames int

	// BadPixels is the flagged pixel count of the last completed cycle.
	BadPixels int

	// BlackMean is the global mean of the last black map.
	BlackMean uint16
}

// New builds a pipeline around a device.  The two frame buffers are sized to
// the device's current resolution and reused until it changes.
func New(cam camera.Camera, settings *SettingsStore, sinks ...FrameSink) (*Pipeline, error) {
	w, h, err := cam.Res()
	if err != nil {
		return nil, err
	}
	exp, err := cam.GetExposure()
	if err != nil {
		return nil, err
	}
	p := &Pipeline{
		cam:         cam,
		x:           exchange.New(frame.NewBuffer(w, h), frame.NewBuffer(w, h)),
		settings:    settings,
		cal:         calib.New(),
		ctl:         exposure.New(cam, exp),
		det:         stardetect.New(),
		sinks:       sinks,
		SwapTimeout: DefaultSwapTimeout,
		refresh:     rate.NewLimiter(rate.Limit(30), 1),
		stop:        make(chan struct{}),
	}
	return p, nil
}

// Settings returns the pipeline's settings store.
func (p *Pipeline) Settings() *SettingsStore {
	return p.settings
}

// CalibStatus returns the published calibration snapshot.  Safe from any
// goroutine.
func (p *Pipeline) CalibStatus() CalibStatus {
	p.pubMu.Lock()
	defer p.pubMu.Unlock()
	return p.calStat
}

// Exposure returns the controller's current exposure in microseconds.
func (p *Pipeline) Exposure() int64 {
	return p.ctl.Exposure()
}

// Frames returns the number of frames processed so far.
func (p *Pipeline) Frames() uint64 {
	return atomic.LoadUint64(&p.frames)
}

// Stars returns the most recent detection result.
func (p *Pipeline) Stars() stardetect.Result {
	p.pubMu.Lock()
	defer p.pubMu.Unlock()
	out := make(stardetect.Result, len(p.last))
	copy(out, p.last)
	return out
}

func (p *Pipeline) setStars(r stardetect.Result) {
	p.pubMu.Lock()
	p.last = r
	p.pubMu.Unlock()
}

// publishCalib snapshots the calibrator state for cross-goroutine readers.
// Called only from the consumer context.
func (p *Pipeline) publishCalib() {
	st := CalibStatus{
		Capturing: p.cal.Capturing(),
		Frames:    p.cal.Frames(),
		BadPixels: len(p.cal.BadPixels()),
		BlackMean: p.cal.BlackMean(),
	}
	p.pubMu.Lock()
	p.calStat = st
	p.pubMu.Unlock()
}

// Start launches the producer and consumer contexts.
func (p *Pipeline) Start() {
	p.wg.Add(2)
	go p.produce()
	go p.consume()
}

// Stop sets the stop flag, aborts any in-flight acquisition, releases both
// rendezvous points and waits for both contexts to exit.  Cancellation only
// happens at rendezvous boundaries; a frame already inside the processing
// chain completes.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		close(p.stop)
		p.cam.AbortAcquisition()
		p.x.Unblock()
	})
	p.wg.Wait()
}

// stopping checks the shared stop flag.  This is how a released rendezvous
// is told apart from a normal partner swap.
func (p *Pipeline) stopping() bool {
	select {
	case <-p.stop:
		return true
	default:
		return false
	}
}

// produce fills frames from the device and hands them across the exchange.
// Device faults do not swap a buffer; the producer keeps its buffer and
// retries under exponential backoff.
func (p *Pipeline) produce() {
	defer p.wg.Done()
	buf := p.x.Acquire(exchange.Producer).(*frame.Buffer)
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxInterval = time.Second
	bo.MaxElapsedTime = 0
	for !p.stopping() {
		if !p.acquire(buf) {
			if p.stopping() {
				return
			}
			n := atomic.AddUint64(&p.faults, 1)
			if n == 3 {
				// three consecutive faults: the device collaborator treats
				// the camera as gone, nothing more for this loop to decide
				log.Println("pipeline: three consecutive device faults")
			}
			if !p.sleep(bo.NextBackOff()) {
				return
			}
			continue
		}
		atomic.StoreUint64(&p.faults, 0)
		bo.Reset()
		next, _ := p.x.Swap(exchange.Producer, buf, 0)
		if p.stopping() {
			return
		}
		buf = next.(*frame.Buffer)
	}
}

// acquire runs one start/poll/read cycle, staying responsive to shutdown
// for the full exposure duration.
func (p *Pipeline) acquire(buf *frame.Buffer) bool {
	if err := p.cam.StartAcquisition(); err != nil {
		log.Printf("pipeline: start acquisition: %v", err)
		return false
	}
	for {
		switch p.cam.PollStatus() {
		case camera.Working:
			if p.stopping() {
				p.cam.AbortAcquisition()
				return false
			}
			time.Sleep(pollInterval)
		case camera.Success:
			if err := p.cam.ReadFrame(buf.Pix); err != nil {
				log.Printf("pipeline: read frame: %v", err)
				return false
			}
			return true
		case camera.Failure:
			return false
		}
	}
}

// sleep waits for d or until the stop flag is set, reporting false on stop.
func (p *Pipeline) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-p.stop:
		return false
	}
}

// consume swaps for completed frames with a short timeout so housekeeping
// keeps running between frames, then drives the per-frame chain.
func (p *Pipeline) consume() {
	defer p.wg.Done()
	buf := p.x.Acquire(exchange.Consumer).(*frame.Buffer)
	for {
		got, ok := p.x.Swap(exchange.Consumer, buf, p.SwapTimeout)
		if p.stopping() {
			return
		}
		if !ok {
			if p.refresh.Allow() {
				for _, s := range p.sinks {
					s.Idle()
				}
			}
			continue
		}
		buf = got.(*frame.Buffer)
		p.process(buf)
	}
}

// process runs one frame through calibration, exposure control, conversion
// and detection.  Settings are copied in once at the top; nothing here may
// touch the store again.
func (p *Pipeline) process(buf *frame.Buffer) {
	s := p.settings.Snapshot()

	if s.CaptureBlack {
		if !p.cal.Capturing() {
			p.cal.StartBlack(buf.W, buf.H)
			log.Println("pipeline: black capture started")
		}
		p.cal.Accumulate(buf)
	} else {
		if p.cal.Capturing() {
			p.cal.FinishBlack()
			log.Printf("pipeline: black capture done, %d frames, %d bad pixels",
				p.cal.Frames(), len(p.cal.BadPixels()))
		}
		p.cal.Correct(buf)
	}
	p.publishCalib()

	if !s.AutoExposure && s.Exposure != 0 && s.Exposure != p.lastOverride {
		if err := p.ctl.Override(s.Exposure); err != nil {
			log.Printf("pipeline: exposure override: %v", err)
		}
		p.lastOverride = s.Exposure
	}
	if err := p.ctl.Update(buf.Max(), s.AutoExposure); err != nil {
		log.Printf("pipeline: exposure update: %v", err)
	}

	p.conv.convert(buf, &p.rgb, s)

	var stars stardetect.Result
	if s.DetectStars {
		stars = p.det.Detect(&p.rgb)
	}
	p.setStars(stars)
	atomic.AddUint64(&p.frames, 1)
	for _, sink := range p.sinks {
		sink.HandleFrame(&p.rgb, stars)
	}
}
