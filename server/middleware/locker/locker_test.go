package locker_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"goji.io"
	"goji.io/pat"

	"github.com/astrolab/starcap/server"
	"github.com/astrolab/starcap/server/middleware/locker"
)

func testMux(l *locker.Locker) *goji.Mux {
	rt := server.RouteTable{
		pat.Get("/knob"): func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		},
	}
	locker.Inject(rtHTTPer{rt}, l)
	mux := goji.NewMux()
	mux.Use(l.Check)
	rt.Bind(mux)
	return mux
}

type rtHTTPer struct{ rt server.RouteTable }

func (r rtHTTPer) RT() server.RouteTable { return r.rt }

func TestLockedSurfaceBounces(t *testing.T) {
	l := locker.New()
	mux := testMux(l)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("GET", "/knob", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("unlocked request status = %d", w.Code)
	}

	l.Lock()
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("GET", "/knob", nil))
	if w.Code != http.StatusLocked {
		t.Errorf("locked request status = %d, want 423", w.Code)
	}

	// the lock route stays reachable, so the surface can be reopened
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("POST", "/lock", strings.NewReader(`{"bool": false}`)))
	if w.Code != http.StatusOK {
		t.Fatalf("unlock request status = %d", w.Code)
	}
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("GET", "/knob", nil))
	if w.Code != http.StatusOK {
		t.Errorf("post-unlock request status = %d", w.Code)
	}
}
