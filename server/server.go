// Package server contains the HTTP plumbing shared by the control wrappers:
// route tables bound to goji muxes and the JSON payload envelopes used for
// scalar get/set endpoints.
package server

import (
	"encoding/json"
	"fmt"
	"go/types"
	"log"
	"net/http"

	"goji.io"
	"goji.io/pat"
)

// RouteTable maps goji patterns to handlers.
type RouteTable map[*pat.Pattern]http.HandlerFunc

// Bind attaches every route in the table to the mux.
func (rt RouteTable) Bind(mux *goji.Mux) {
	for p, h := range rt {
		mux.HandleFunc(p, h)
	}
}

// Endpoints lists the route patterns in the table.
func (rt RouteTable) Endpoints() []string {
	eps := make([]string, 0, len(rt))
	for p := range rt {
		eps = append(eps, p.String())
	}
	return eps
}

// HTTPer is a type which exposes its functionality over a RouteTable
// that can be bound to a mux.
type HTTPer interface {
	RT() RouteTable
}

// FloatT is a JSON envelope for a single float64.
type FloatT struct {
	F64 float64 `json:"f64"`
}

// IntT is a JSON envelope for a single int.
type IntT struct {
	Int int `json:"int"`
}

// StrT is a JSON envelope for a single string.
type StrT struct {
	Str string `json:"str"`
}

// BoolT is a JSON envelope for a single bool.
type BoolT struct {
	Bool bool `json:"bool"`
}

// HumanPayload is a struct that enables client-friendly encoding of scalar
// responses: one concrete field is populated and T says which.
type HumanPayload struct {
	// T is the type of the payload.
	T types.BasicKind

	// Int holds the value if T is types.Int.
	Int int

	// Float holds the value if T is types.Float64.
	Float float64

	// String holds the value if T is types.String.
	String string

	// Bool holds the value if T is types.Bool.
	Bool bool
}

// EncodeAndRespond writes the payload to w as JSON in the matching envelope.
func (hp HumanPayload) EncodeAndRespond(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	var err error
	switch hp.T {
	case types.Int:
		err = json.NewEncoder(w).Encode(IntT{Int: hp.Int})
	case types.Float64:
		err = json.NewEncoder(w).Encode(FloatT{F64: hp.Float})
	case types.String:
		err = json.NewEncoder(w).Encode(StrT{Str: hp.String})
	case types.Bool:
		err = json.NewEncoder(w).Encode(BoolT{Bool: hp.Bool})
	default:
		err = fmt.Errorf("unsupported payload type %v", hp.T)
	}
	if err != nil {
		log.Println(err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
