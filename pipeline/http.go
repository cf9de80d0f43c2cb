package pipeline

import (
	"encoding/json"
	"go/types"
	"net/http"
	"time"

	"goji.io/pat"

	"github.com/astrolab/starcap/server"
)

// HTTPWrapper exposes the pipeline's settings and results over HTTP.  It is
// the "third context" of the design: a lower-priority configuration input
// that only ever touches the settings store and read-only status, never the
// processing internals.
type HTTPWrapper struct {
	p  *Pipeline
	rt server.RouteTable
}

// NewHTTPWrapper returns a wrapper with the standard route table populated.
func NewHTTPWrapper(p *Pipeline) *HTTPWrapper {
	w := &HTTPWrapper{p: p}
	w.rt = server.RouteTable{
		pat.Get("/exposure-time"):  w.GetExposureTime,
		pat.Post("/exposure-time"): w.SetExposureTime,

		pat.Get("/auto-exposure"):  w.getFlag(func(s Settings) bool { return s.AutoExposure }),
		pat.Post("/auto-exposure"): w.setFlag(func(s *Settings, b bool) { s.AutoExposure = b }),

		pat.Get("/capture-black"):  w.getFlag(func(s Settings) bool { return s.CaptureBlack }),
		pat.Post("/capture-black"): w.setFlag(func(s *Settings, b bool) { s.CaptureBlack = b }),

		pat.Get("/star-detection"):  w.getFlag(func(s Settings) bool { return s.DetectStars }),
		pat.Post("/star-detection"): w.setFlag(func(s *Settings, b bool) { s.DetectStars = b }),

		pat.Get("/gain"):  w.GetGain,
		pat.Post("/gain"): w.SetGain,

		pat.Get("/gamma"):  w.GetGamma,
		pat.Post("/gamma"): w.SetGamma,

		pat.Get("/stars"):  w.GetStars,
		pat.Get("/status"): w.GetStatus,
	}
	return w
}

// RT satisfies server.HTTPer.
func (h *HTTPWrapper) RT() server.RouteTable {
	return h.rt
}

// SetExposureTime sets the manual exposure override on a POST request.  It
// accepts either a query parameter exposureTime parseable by
// time.ParseDuration, or a JSON payload with key f64 holding seconds.
func (h *HTTPWrapper) SetExposureTime(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	texp := q.Get("exposureTime")
	var d time.Duration
	var err error
	if texp == "" {
		f := server.FloatT{}
		err = json.NewDecoder(r.Body).Decode(&f)
		defer r.Body.Close()
		d = time.Duration(f.F64 * 1e9) // s => ns
	} else {
		d, err = time.ParseDuration(texp)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	us := d.Microseconds()
	h.p.Settings().Update(func(s *Settings) { s.Exposure = us })
	w.WriteHeader(http.StatusOK)
}

// GetExposureTime returns the current exposure in seconds.
func (h *HTTPWrapper) GetExposureTime(w http.ResponseWriter, r *http.Request) {
	sec := float64(h.p.Exposure()) / 1e6
	hp := server.HumanPayload{T: types.Float64, Float: sec}
	hp.EncodeAndRespond(w, r)
}

func (h *HTTPWrapper) getFlag(read func(Settings) bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b := read(h.p.Settings().Snapshot())
		hp := server.HumanPayload{T: types.Bool, Bool: b}
		hp.EncodeAndRespond(w, r)
	}
}

func (h *HTTPWrapper) setFlag(write func(*Settings, bool)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b := server.BoolT{}
		err := json.NewDecoder(r.Body).Decode(&b)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.p.Settings().Update(func(s *Settings) { write(s, b.Bool) })
		w.WriteHeader(http.StatusOK)
	}
}

// GainT is the JSON shape of the per-channel gain triple.
type GainT struct {
	R float64 `json:"r"`
	G float64 `json:"g"`
	B float64 `json:"b"`
}

// GetGain returns the per-channel gains.
func (h *HTTPWrapper) GetGain(w http.ResponseWriter, r *http.Request) {
	s := h.p.Settings().Snapshot()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(GainT{R: s.GainR, G: s.GainG, B: s.GainB})
}

// SetGain sets the per-channel gains from a JSON triple.  Non-positive
// values are clamped to zero.
func (h *HTTPWrapper) SetGain(w http.ResponseWriter, r *http.Request) {
	g := GainT{}
	err := json.NewDecoder(r.Body).Decode(&g)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if g.R < 0 {
		g.R = 0
	}
	if g.G < 0 {
		g.G = 0
	}
	if g.B < 0 {
		g.B = 0
	}
	h.p.Settings().Update(func(s *Settings) {
		s.GainR, s.GainG, s.GainB = g.R, g.G, g.B
	})
	w.WriteHeader(http.StatusOK)
}

// GetGamma returns the display gamma.
func (h *HTTPWrapper) GetGamma(w http.ResponseWriter, r *http.Request) {
	s := h.p.Settings().Snapshot()
	hp := server.HumanPayload{T: types.Float64, Float: s.Gamma}
	hp.EncodeAndRespond(w, r)
}

// SetGamma sets the display gamma from a JSON f64.  Non-positive values are
// clamped to 1 (linear).
func (h *HTTPWrapper) SetGamma(w http.ResponseWriter, r *http.Request) {
	f := server.FloatT{}
	err := json.NewDecoder(r.Body).Decode(&f)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if f.F64 <= 0 {
		f.F64 = 1
	}
	h.p.Settings().Update(func(s *Settings) { s.Gamma = f.F64 })
	w.WriteHeader(http.StatusOK)
}

// GetStars returns the most recent detection result as JSON.
func (h *HTTPWrapper) GetStars(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.p.Stars())
}

// StatusT is the JSON shape of the pipeline status report.
type StatusT struct {
	Frames      uint64 `json:"frames"`
	ExposureUs  int64  `json:"exposureUs"`
	BadPixels   int    `json:"badPixels"`
	BlackFrames int    `json:"blackFrames"`
	Capturing   bool   `json:"capturingBlack"`
}

// GetStatus returns a status summary.  Everything it reads is a published
// snapshot or an atomic, so it is safe against the running consumer.
func (h *HTTPWrapper) GetStatus(w http.ResponseWriter, r *http.Request) {
	cal := h.p.CalibStatus()
	st := StatusT{
		Frames:      h.p.Frames(),
		ExposureUs:  h.p.Exposure(),
		BadPixels:   cal.BadPixels,
		BlackFrames: cal.Frames,
		Capturing:   cal.Capturing,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(st)
}
