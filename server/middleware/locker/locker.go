// Package locker provides an HTTP middleware that can reject writes to a
// control surface with 423 (Locked).  The capture console locks the surface
// while a calibration cycle runs so no one disturbs the settings mid-capture.
package locker

import (
	"encoding/json"
	"go/types"
	"net/http"
	"strings"

	"goji.io/pat"

	"github.com/astrolab/starcap/server"
)

// Locker gates a route table.  It behaves like a mutex without the blocking:
// requests to protected paths bounce with 423 while it is held.
type Locker struct {
	isLocked bool

	// DoNotProtect is a list of path substrings the lock does not apply to.
	// The lock route itself must stay reachable or the surface could never
	// be unlocked again.
	DoNotProtect []string
}

// New returns a Locker with the lock route itself exempt.
func New() *Locker {
	return &Locker{DoNotProtect: []string{"lock"}}
}

// Lock closes the control surface.
func (l *Locker) Lock() {
	l.isLocked = true
}

// Unlock reopens the control surface.
func (l *Locker) Unlock() {
	l.isLocked = false
}

// Locked reports whether the surface is closed.
func (l *Locker) Locked() bool {
	return l.isLocked
}

// Check is the middleware: while locked, any request to a path that is not
// exempt is answered with http.StatusLocked and never reaches the handler.
func (l *Locker) Check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.Locked() {
			protected := true
			for _, str := range l.DoNotProtect {
				if strings.Contains(r.URL.Path, str) {
					protected = false
					break
				}
			}
			if protected {
				w.WriteHeader(http.StatusLocked)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// HTTPSet locks or unlocks based on a JSON bool in the request body.
func (l *Locker) HTTPSet(w http.ResponseWriter, r *http.Request) {
	b := server.BoolT{}
	err := json.NewDecoder(r.Body).Decode(&b)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if b.Bool {
		l.Lock()
	} else {
		l.Unlock()
	}
	w.WriteHeader(http.StatusOK)
}

// HTTPGet returns the lock state as JSON.
func (l *Locker) HTTPGet(w http.ResponseWriter, r *http.Request) {
	hp := server.HumanPayload{T: types.Bool, Bool: l.Locked()}
	hp.EncodeAndRespond(w, r)
}

// Inject adds the lock route to an HTTPer's table.
func Inject(other server.HTTPer, l *Locker) {
	rt := other.RT()
	rt[pat.Get("/lock")] = l.HTTPGet
	rt[pat.Post("/lock")] = l.HTTPSet
}
