package pipeline

import "sync"

// Settings is the operator-facing knob set, consumed read-only by both
// execution contexts once per iteration.  It is always passed by value so no
// ambient shared mutable state exists during computation.
type Settings struct {
	// AutoExposure enables the closed-loop exposure controller.
	AutoExposure bool

	// Exposure is the manual exposure override in microseconds, applied
	// when AutoExposure is off.  Zero means no override.
	Exposure int64

	// CaptureBlack accumulates incoming frames into the black map while
	// set; clearing it finalizes the calibration cycle.
	CaptureBlack bool

	// DetectStars enables the star detector.
	DetectStars bool

	// GainR, GainG, GainB are linear per-channel display gains.
	GainR, GainG, GainB float64

	// Gamma is the display gamma; 1 is linear.
	Gamma float64
}

// DefaultSettings returns unity-gain, linear, everything-off settings.
func DefaultSettings() Settings {
	return Settings{
		GainR: 1,
		GainG: 1,
		GainB: 1,
		Gamma: 1,
	}
}

// SettingsStore guards the settings with a mutex.  Readers copy the whole
// struct out; writers (the configuration-input context: HTTP handlers, the
// console) mutate under the lock.  The lock is never held across processing
// work.
type SettingsStore struct {
	mu sync.Mutex
	s  Settings
}

// NewSettingsStore returns a store holding the given settings.
func NewSettingsStore(s Settings) *SettingsStore {
	return &SettingsStore{s: s}
}

// Snapshot returns a copy of the current settings.
func (st *SettingsStore) Snapshot() Settings {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.s
}

// Update applies fn to the settings under the lock.
func (st *SettingsStore) Update(fn func(*Settings)) {
	st.mu.Lock()
	fn(&st.s)
	st.mu.Unlock()
}
