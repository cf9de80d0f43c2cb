package fitsrec

import (
	"encoding/json"
	"go/types"
	"net/http"

	"goji.io/pat"

	"github.com/astrolab/starcap/server"
)

// HTTPWrapper is an HTTP layer over a recorder that allows the folder,
// prefix and enable flag to be changed on the fly.
//
// It does not implement server.HTTPer itself; it offers an Inject method so
// its routes ride along on another HTTPer's table.
type HTTPWrapper struct {
	*Recorder
}

// NewHTTPWrapper returns an HTTP wrapper around a recorder.
func NewHTTPWrapper(r *Recorder) HTTPWrapper {
	return HTTPWrapper{r}
}

// SetRoot updates the root folder of the recorder.
func (h HTTPWrapper) SetRoot(w http.ResponseWriter, r *http.Request) {
	str := server.StrT{}
	err := json.NewDecoder(r.Body).Decode(&str)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err = h.Recorder.SetRoot(str.Str); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// GetRoot returns the recorder's root folder as JSON.
func (h HTTPWrapper) GetRoot(w http.ResponseWriter, r *http.Request) {
	hp := server.HumanPayload{T: types.String, String: h.Recorder.Root()}
	hp.EncodeAndRespond(w, r)
}

// SetPrefix updates the filename prefix and resets the counter.
func (h HTTPWrapper) SetPrefix(w http.ResponseWriter, r *http.Request) {
	str := server.StrT{}
	err := json.NewDecoder(r.Body).Decode(&str)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.Recorder.SetPrefix(str.Str)
	w.WriteHeader(http.StatusOK)
}

// GetPrefix returns the recorder's prefix as JSON.
func (h HTTPWrapper) GetPrefix(w http.ResponseWriter, r *http.Request) {
	hp := server.HumanPayload{T: types.String, String: h.Recorder.Prefix()}
	hp.EncodeAndRespond(w, r)
}

// SetEnabled turns recording on or off.
func (h HTTPWrapper) SetEnabled(w http.ResponseWriter, r *http.Request) {
	bT := server.BoolT{}
	err := json.NewDecoder(r.Body).Decode(&bT)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.Recorder.SetEnabled(bT.Bool)
	w.WriteHeader(http.StatusOK)
}

// GetEnabled returns whether the recorder is writing.
func (h HTTPWrapper) GetEnabled(w http.ResponseWriter, r *http.Request) {
	hp := server.HumanPayload{T: types.Bool, Bool: h.Recorder.Enabled()}
	hp.EncodeAndRespond(w, r)
}

// Inject adds the autowrite routes to the HTTPer's table.
func (h HTTPWrapper) Inject(other server.HTTPer) {
	rt := other.RT()
	rt[pat.Post("/autowrite/root")] = h.SetRoot
	rt[pat.Get("/autowrite/root")] = h.GetRoot
	rt[pat.Post("/autowrite/prefix")] = h.SetPrefix
	rt[pat.Get("/autowrite/prefix")] = h.GetPrefix
	rt[pat.Post("/autowrite/enabled")] = h.SetEnabled
	rt[pat.Get("/autowrite/enabled")] = h.GetEnabled
}
