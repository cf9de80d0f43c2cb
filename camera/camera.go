/*Package camera describes the narrow interface the capture pipeline uses to
drive a sensor.

The pipeline never touches device registers; everything goes through an
opaque handle implementing Camera.  The package also contains Sim, a
software simulation camera used by the test suite and for bench operation
without hardware, behind the same interface a real backend would implement.
*/
package camera

import "errors"

// AcqStatus is the state of an in-flight acquisition.
type AcqStatus int

const (
	// Working means the exposure is still integrating.
	Working AcqStatus = iota

	// Success means a frame is ready to read.
	Success

	// Failure means the acquisition failed and no frame will be produced.
	Failure
)

func (s AcqStatus) String() string {
	switch s {
	case Working:
		return "working"
	case Success:
		return "success"
	case Failure:
		return "failure"
	}
	return "unknown"
}

// ErrNoFrame is generated when ReadFrame is called without a successful
// acquisition to read.
var ErrNoFrame = errors.New("camera: no completed acquisition to read")

// Exposure bounds in microseconds.  Configuration outside these bounds is
// clamped, not rejected.
const (
	// MinExposure is the shortest programmable exposure, 100 microseconds.
	MinExposure = 100

	// MaxExposure is the longest programmable exposure, 30 seconds.
	MaxExposure = 30000000
)

// ClampExposure clamps an exposure duration in microseconds to the
// programmable range.
func ClampExposure(us int64) int64 {
	if us < MinExposure {
		return MinExposure
	}
	if us > MaxExposure {
		return MaxExposure
	}
	return us
}

// Setter is the slim write-side interface the exposure controller needs.
type Setter interface {
	// SetExposure programs the exposure time in microseconds.  Out of range
	// values are clamped by the implementation.
	SetExposure(us int64) error
}

// Camera is the full device interface used by the acquisition loop.
type Camera interface {
	Setter

	// GetExposure reads back the programmed exposure time in microseconds.
	GetExposure() (int64, error)

	// Res returns the sensor resolution as (width, height).
	Res() (int, int, error)

	// StartAcquisition begins integrating a frame.
	StartAcquisition() error

	// PollStatus reports the state of the acquisition in flight.  The
	// producer polls this while remaining responsive to shutdown.
	PollStatus() AcqStatus

	// ReadFrame copies the completed frame into dst, which must be sized to
	// the sensor resolution.  dst is a strided row-major slice.
	ReadFrame(dst []uint16) error

	// AbortAcquisition cancels an in-flight acquisition.  Called on
	// shutdown while an exposure is integrating.
	AbortAcquisition() error
}
