package pipeline_test

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"goji.io"

	"github.com/astrolab/starcap/camera"
	"github.com/astrolab/starcap/pipeline"
	"github.com/astrolab/starcap/server"
)

// controlMux builds a pipeline (not started) with its HTTP surface bound.
func controlMux(t *testing.T) (*pipeline.Pipeline, *goji.Mux) {
	t.Helper()
	cam := camera.NewSim(8, 8, 1)
	p, err := pipeline.New(cam, pipeline.NewSettingsStore(pipeline.DefaultSettings()))
	if err != nil {
		t.Fatal(err)
	}
	mux := goji.NewMux()
	pipeline.NewHTTPWrapper(p).RT().Bind(mux)
	return p, mux
}

func TestExposureTimeRoundTrip(t *testing.T) {
	p, mux := controlMux(t)

	// POST by duration query parameter
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("POST", "/exposure-time?exposureTime=250ms", nil))
	if w.Code != 200 {
		t.Fatalf("post status = %d: %s", w.Code, w.Body.String())
	}
	if s := p.Settings().Snapshot(); s.Exposure != 250000 {
		t.Errorf("exposure setting = %d us, want 250000", s.Exposure)
	}

	// POST by JSON seconds
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("POST", "/exposure-time", strings.NewReader(`{"f64": 0.5}`)))
	if w.Code != 200 {
		t.Fatalf("json post status = %d", w.Code)
	}
	if s := p.Settings().Snapshot(); s.Exposure != 500000 {
		t.Errorf("exposure setting = %d us, want 500000", s.Exposure)
	}

	// GET returns the controller's exposure in seconds
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("GET", "/exposure-time", nil))
	var f server.FloatT
	if err := json.NewDecoder(w.Body).Decode(&f); err != nil {
		t.Fatal(err)
	}
	if f.F64 != 0.01 { // the sim starts at 10000 us
		t.Errorf("exposure = %v s, want 0.01", f.F64)
	}
}

func TestExposureTimeBadDuration(t *testing.T) {
	_, mux := controlMux(t)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("POST", "/exposure-time?exposureTime=bogus", nil))
	if w.Code != 400 {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestFlagEndpoints(t *testing.T) {
	p, mux := controlMux(t)
	for _, ep := range []string{"/auto-exposure", "/capture-black", "/star-detection"} {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest("POST", ep, strings.NewReader(`{"bool": true}`)))
		if w.Code != 200 {
			t.Fatalf("%s post status = %d", ep, w.Code)
		}
		w = httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest("GET", ep, nil))
		var b server.BoolT
		if err := json.NewDecoder(w.Body).Decode(&b); err != nil || !b.Bool {
			t.Errorf("%s readback: %v %v", ep, err, b.Bool)
		}
	}
	s := p.Settings().Snapshot()
	if !s.AutoExposure || !s.CaptureBlack || !s.DetectStars {
		t.Errorf("settings after toggles: %+v", s)
	}
}

func TestGainClampsNegatives(t *testing.T) {
	p, mux := controlMux(t)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("POST", "/gain", strings.NewReader(`{"r": 2, "g": -1, "b": 0.5}`)))
	if w.Code != 200 {
		t.Fatalf("status = %d", w.Code)
	}
	s := p.Settings().Snapshot()
	if s.GainR != 2 || s.GainG != 0 || s.GainB != 0.5 {
		t.Errorf("gains = (%v, %v, %v), want (2, 0, 0.5)", s.GainR, s.GainG, s.GainB)
	}
}

func TestGammaNonPositiveResetsToLinear(t *testing.T) {
	p, mux := controlMux(t)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("POST", "/gamma", strings.NewReader(`{"f64": -3}`)))
	if w.Code != 200 {
		t.Fatalf("status = %d", w.Code)
	}
	if s := p.Settings().Snapshot(); s.Gamma != 1 {
		t.Errorf("gamma = %v, want 1", s.Gamma)
	}
}

func TestStatusReport(t *testing.T) {
	_, mux := controlMux(t)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("GET", "/status", nil))
	body := w.Body.String()
	if !strings.Contains(body, `"blackFrames"`) {
		t.Errorf("status report missing blackFrames key: %s", body)
	}
	var st pipeline.StatusT
	if err := json.NewDecoder(strings.NewReader(body)).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.ExposureUs != 10000 {
		t.Errorf("exposureUs = %d, want the sim default 10000", st.ExposureUs)
	}
	if st.Frames != 0 || st.Capturing {
		t.Errorf("fresh pipeline status: %+v", st)
	}
}

func TestStarsEndpointEmpty(t *testing.T) {
	_, mux := controlMux(t)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("GET", "/stars", nil))
	if body := strings.TrimSpace(w.Body.String()); body != "[]" {
		t.Errorf("stars body = %q, want empty list", body)
	}
}

// TestStatusReadsDuringCapture hammers the status surface while the consumer
// mutates the exposure loop and calibrator every frame.  Its value is under
// the race detector: every read here must go through an atomic or a
// published snapshot.
func TestStatusReadsDuringCapture(t *testing.T) {
	cam := newFakeCam(4, 4, 0)
	cam.exp = 1000
	cam.setRender(func(exp int64, dst []uint16) {
		v := 7 * exp
		if v > 65535 {
			v = 65535
		}
		for i := range dst {
			dst[i] = uint16(v)
		}
	})
	settings := passthroughSettings()
	settings.Update(func(s *pipeline.Settings) { s.AutoExposure = true })
	p, err := pipeline.New(cam, settings)
	if err != nil {
		t.Fatal(err)
	}
	mux := goji.NewMux()
	pipeline.NewHTTPWrapper(p).RT().Bind(mux)

	p.Start()
	defer p.Stop()

	stop := make(chan struct{})
	go func() {
		// flip black capture on and off so both calibrator transitions run
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			on := i%2 == 0
			settings.Update(func(s *pipeline.Settings) { s.CaptureBlack = on })
			time.Sleep(time.Millisecond)
		}
	}()

	for i := 0; i < 500; i++ {
		_ = p.Exposure()
		_ = p.CalibStatus()
		_ = p.Stars()
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest("GET", "/status", nil))
		if w.Code != 200 {
			t.Fatalf("status read %d failed: %d", i, w.Code)
		}
	}
	close(stop)
}
