package undulator

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"tailscale.com/tsweb"

	"github.com/banshee-data/undulator/internal/httputil"
	"github.com/banshee-data/undulator/internal/lut"
)

type requestView struct {
	Energy       float64 `json:"energy"`
	Harmonic     int     `json:"harmonic"`
	Polarization string  `json:"polarization"`
}

func viewOf(r Request) requestView {
	return requestView{Energy: r.Energy, Harmonic: r.Harmonic, Polarization: r.Polarization.String()}
}

type stateView struct {
	Current   requestView        `json:"current"`
	Requested requestView        `json:"requested"`
	Snapshot  map[string]float64 `json:"snapshot"`
	Known     bool               `json:"known"`
	Stale     bool               `json:"stale"`
	Moving    bool               `json:"moving"`
	Locked    []string           `json:"locked"`
	Positions map[string]float64 `json:"positions"`
}

func (c *Calculator) view() stateView {
	s := c.State()
	v := stateView{
		Current:   viewOf(s.Current),
		Requested: viewOf(s.Requested),
		Snapshot:  map[string]float64{},
		Known:     s.Known,
		Stale:     s.Stale,
		Moving:    c.virtual.IsMoving(),
		Locked:    c.opts.Locks.Locked(),
		Positions: map[string]float64{c.virtual.Name(): c.virtual.Position().Value},
	}
	axes := c.opts.Axes
	v.Snapshot[axes.Gap.Name()] = s.Snapshot.Gap
	v.Snapshot[axes.MutualPhase.Name()] = s.Snapshot.MutualPhase
	if axes.OpposingPhase != nil {
		v.Snapshot[axes.OpposingPhase.Name()] = s.Snapshot.OpposingPhase
	}
	for _, ax := range c.virtual.Dependents() {
		v.Positions[ax.Name()] = ax.Position().Value
	}
	return v
}

// ParseRequest builds a Request from text fields. An empty harmonic means 1.
func ParseRequest(energy, harmonic, polarization string) (Request, error) {
	e, err := strconv.ParseFloat(strings.TrimSpace(energy), 64)
	if err != nil {
		return Request{}, fmt.Errorf("bad energy %q", energy)
	}
	h := 1
	if harmonic = strings.TrimSpace(harmonic); harmonic != "" {
		if h, err = strconv.Atoi(harmonic); err != nil {
			return Request{}, fmt.Errorf("bad harmonic %q", harmonic)
		}
	}
	p, err := lut.ParsePolarization(polarization)
	if err != nil {
		return Request{}, err
	}
	return Request{Energy: e, Harmonic: h, Polarization: p}, nil
}

// AttachAdminRoutes registers state, move and stop endpoints under
// /debug/undulator.
func (c *Calculator) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.Handle("undulator", "Undulator state, locks and axis positions (?refresh=1)", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("refresh") != "" {
			if _, err := c.Refresh(r.Context()); err != nil {
				httputil.WriteError(w, err)
				return
			}
		}
		httputil.WriteJSON(w, http.StatusOK, c.view())
	}))

	debug.HandleSilentFunc("undulator/move", func(w http.ResponseWriter, r *http.Request) {
		if !httputil.RequireMethod(w, r, http.MethodPost) {
			return
		}
		req, err := ParseRequest(r.FormValue("energy"), r.FormValue("harmonic"), r.FormValue("polarization"))
		if err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		// The move outlives the request.
		move, err := c.MoveTo(context.Background(), req)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		legs := make([][2]float64, 0, len(move.Legs()))
		for _, l := range move.Legs() {
			legs = append(legs, [2]float64{l.A, l.B})
		}
		httputil.WriteJSON(w, http.StatusAccepted, map[string]any{"request": viewOf(req), "legs": legs})
	})

	debug.HandleSilentFunc("undulator/stop", func(w http.ResponseWriter, r *http.Request) {
		if !httputil.RequireMethod(w, r, http.MethodPost) {
			return
		}
		if err := c.Stop(); err != nil {
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, c.view())
	})
}
