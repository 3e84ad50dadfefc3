// Package status serves the supervisor's health and child state over HTTP.
package status

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dshills/tandem/internal/process"
)

// Source is what the status endpoints report on.
type Source interface {
	State() process.Lifecycle
	Snapshot() []process.Info
}

// Response is the body of every endpoint.
type Response struct {
	Status   string         `json:"status"`
	State    string         `json:"state"`
	Children []process.Info `json:"children,omitempty"`
}

// NewRouter returns the status routes:
//
//	GET /healthz  200 while the supervisor is running, 503 otherwise
//	GET /readyz   200 while running with every child alive, 503 otherwise
//	GET /status   200 with the lifecycle state and every child
func NewRouter(src Source) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", healthz(src))
	r.Get("/readyz", readyz(src))
	r.Get("/status", statusHandler(src))
	return r
}

func healthz(src Source) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		state := src.State()
		if state != process.LifecycleRunning {
			writeJSON(w, http.StatusServiceUnavailable, Response{Status: "unavailable", State: state.String()})
			return
		}
		writeJSON(w, http.StatusOK, Response{Status: "ok", State: state.String()})
	}
}

func readyz(src Source) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		state := src.State()
		children := src.Snapshot()
		if state != process.LifecycleRunning || !allRunning(children) {
			writeJSON(w, http.StatusServiceUnavailable, Response{Status: "not_ready", State: state.String(), Children: children})
			return
		}
		writeJSON(w, http.StatusOK, Response{Status: "ready", State: state.String(), Children: children})
	}
}

func statusHandler(src Source) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, Response{Status: "ok", State: src.State().String(), Children: src.Snapshot()})
	}
}

func allRunning(children []process.Info) bool {
	if len(children) == 0 {
		return false
	}
	for _, c := range children {
		if c.State != process.StateRunning.String() {
			return false
		}
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
