// Package api provides the admin HTTP surface an external orchestrator drives to
// register devices, issue and cancel actions, and watch action events.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"rasc/pkg/dispatch"
	"rasc/pkg/probe"
)

// Controller is the core boundary this router drives: register a device, issue and
// cancel actions against it, and stream the dispatcher's events.
type Controller interface {
	RegisterDevice(ctx context.Context, host string, portLow, portHigh int) (probe.DeviceHandle, error)
	IssueAction(ctx context.Context, handle probe.DeviceHandle, actionKey string, command map[string]any) (string, error)
	CancelAction(actionID string)
	Subscribe(buffer int) <-chan dispatch.Event
}

// Server is the admin HTTP API over a Controller.
type Server struct {
	controller Controller
	log        *zap.Logger
}

// NewServer constructs a Server. A nil logger uses zap.NewNop.
func NewServer(controller Controller, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}

	return &Server{controller: controller, log: log}
}

// Handler returns the chi router with every admin route mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealthz)
	r.Post("/devices", s.handleRegisterDevice)
	r.Post("/actions", s.handleIssueAction)
	r.Delete("/actions/{id}", s.handleCancelAction)
	r.Get("/actions/{id}/events", s.handleActionEvents)

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type registerDeviceRequest struct {
	Host     string `json:"host"`
	PortLow  int    `json:"port_low"`
	PortHigh int    `json:"port_high"`
}

func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req registerDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decode request: %v", err))
		return
	}

	handle, err := s.controller.RegisterDevice(r.Context(), req.Host, req.PortLow, req.PortHigh)
	if err != nil {
		s.log.Warn("register device failed", zap.String("host", req.Host), zap.Error(err))
		writeError(w, http.StatusNotFound, err.Error())

		return
	}

	writeJSON(w, http.StatusOK, handle)
}

type issueActionRequest struct {
	Handle    probe.DeviceHandle `json:"handle"`
	ActionKey string             `json:"action_key"`
	Command   map[string]any     `json:"command"`
}

func (s *Server) handleIssueAction(w http.ResponseWriter, r *http.Request) {
	var req issueActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decode request: %v", err))
		return
	}

	actionID, err := s.controller.IssueAction(r.Context(), req.Handle, req.ActionKey, req.Command)
	if err != nil {
		s.log.Warn("issue action failed", zap.String("entity", req.Handle.EntityID), zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())

		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"action_id": actionID})
}

func (s *Server) handleCancelAction(w http.ResponseWriter, r *http.Request) {
	actionID := chi.URLParam(r, "id")
	s.controller.CancelAction(actionID)
	w.WriteHeader(http.StatusNoContent)
}

// handleActionEvents streams every dispatcher event matching {id} as server-sent
// events until the client disconnects.
func (s *Server) handleActionEvents(w http.ResponseWriter, r *http.Request) {
	actionID := chi.URLParam(r, "id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := s.controller.Subscribe(16)
	ctx := r.Context()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}

			if ev.ActionID != actionID {
				continue
			}

			body, err := json.Marshal(ev)
			if err != nil {
				continue
			}

			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, body)
			flusher.Flush()

			if ev.Kind == dispatch.KindComplete || ev.Kind == dispatch.KindFail {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
