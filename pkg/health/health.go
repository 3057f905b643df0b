// Package health tracks process readiness for the health endpoints.
package health

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
)

// Readiness state machine.
const (
	stateStarting int32 = iota
	stateReady
	stateDraining
)

// Checker tracks the readiness of the bridge. It starts in the Starting
// state, becomes Ready once the persisted-session bootstrap completes, and
// Draining when shutdown begins. Safe for concurrent use.
type Checker struct {
	state    atomic.Int32
	sessions atomic.Pointer[func() int]
}

// NewChecker creates a Checker in the Starting state.
func NewChecker() *Checker {
	return &Checker{}
}

// SetSessionGauge registers a callback reporting the live session count,
// included in readiness responses.
func (c *Checker) SetSessionGauge(gauge func() int) {
	c.sessions.Store(&gauge)
}

// SetReady transitions to the Ready state.
func (c *Checker) SetReady() {
	c.state.Store(stateReady)
}

// SetDraining transitions to the Draining state.
func (c *Checker) SetDraining() {
	c.state.Store(stateDraining)
}

// IsReady returns true when the state is Ready.
func (c *Checker) IsReady() bool {
	return c.state.Load() == stateReady
}

// State returns the current state as a human-readable string.
func (c *Checker) State() string {
	switch c.state.Load() {
	case stateReady:
		return "ready"
	case stateDraining:
		return "draining"
	default:
		return "starting"
	}
}

type healthResponse struct {
	Status   string `json:"status"`
	Sessions *int   `json:"sessions,omitempty"`
}

// LivenessHandler always responds 200 OK. Use for K8s livenessProbe
// (/healthz).
func (*Checker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
	}
}

// ReadinessHandler responds 200 when ready and 503 while starting or
// draining. Use for K8s readinessProbe (/readyz).
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := healthResponse{Status: c.State()}
		if gauge := c.sessions.Load(); gauge != nil {
			n := (*gauge)()
			resp.Sessions = &n
		}

		if c.IsReady() {
			writeJSON(w, http.StatusOK, resp)
			return
		}
		writeJSON(w, http.StatusServiceUnavailable, resp)
	}
}

func writeJSON(w http.ResponseWriter, code int, v healthResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
