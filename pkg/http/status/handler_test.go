package status_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"rasc/pkg/dispatch"
	status "rasc/pkg/http/status"
)

type stubController struct {
	drift  string
	counts map[dispatch.State]int
}

func (s *stubController) ActionCounts() map[dispatch.State]int { return s.counts }

func (s *stubController) DriftState() string { return s.drift }

func TestHandlerReturnsSnapshot(t *testing.T) {
	t.Parallel()

	controller := &stubController{
		drift: "SHIFTED",
		counts: map[dispatch.State]int{
			dispatch.StateRunning:  3,
			dispatch.StateComplete: 10,
			dispatch.StateFailed:   1,
		},
	}

	handler := status.NewHandler(controller)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/healthz", nil)

	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d", recorder.Code)
	}

	if got := recorder.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("expected application/json content type, got %q", got)
	}

	var snapshot status.Snapshot

	decodeErr := json.Unmarshal(recorder.Body.Bytes(), &snapshot)
	if decodeErr != nil {
		t.Fatalf("failed to decode response: %v", decodeErr)
	}

	if snapshot.DriftState != "SHIFTED" {
		t.Fatalf("expected drift state SHIFTED, got %q", snapshot.DriftState)
	}

	if snapshot.Actions[string(dispatch.StateRunning)] != 3 {
		t.Fatalf("expected 3 running actions, got %d", snapshot.Actions[string(dispatch.StateRunning)])
	}

	if snapshot.Actions[string(dispatch.StateFailed)] != 1 {
		t.Fatalf("expected 1 failed action, got %d", snapshot.Actions[string(dispatch.StateFailed)])
	}
}

func TestHandlerWithoutControllerReturnsServiceUnavailable(t *testing.T) {
	t.Parallel()

	handler := status.NewHandler(nil)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/healthz", nil)

	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 Service Unavailable, got %d", recorder.Code)
	}
}
