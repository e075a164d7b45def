// Package status renders a JSON health snapshot of the daemon's dispatcher and drift
// state.
package status

import (
	"encoding/json"
	"net/http"

	"rasc/pkg/dispatch"
)

// Controller exposes the status surface required by the health handler.
type Controller interface {
	ActionCounts() map[dispatch.State]int
	DriftState() string
}

// Snapshot captures the controller status returned by the handler.
type Snapshot struct {
	DriftState string         `json:"driftState"`
	Actions    map[string]int `json:"actions"`
}

// Handler renders controller health information as JSON.
type Handler struct {
	controller Controller
}

// NewHandler constructs a Handler that proxies controller status.
func NewHandler(controller Controller) *Handler {
	return &Handler{controller: controller}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(writer http.ResponseWriter, _ *http.Request) {
	if h == nil || h.controller == nil {
		http.Error(writer, "controller unavailable", http.StatusServiceUnavailable)

		return
	}

	counts := h.controller.ActionCounts()

	snapshot := Snapshot{
		DriftState: h.controller.DriftState(),
		Actions:    make(map[string]int, len(counts)),
	}

	for state, count := range counts {
		snapshot.Actions[string(state)] = count
	}

	payload, err := json.Marshal(snapshot)
	if err != nil {
		http.Error(writer, "marshal status", http.StatusInternalServerError)

		return
	}

	writer.Header().Set("Content-Type", "application/json")
	_, _ = writer.Write(payload)
}
