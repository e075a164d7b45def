package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"rasc/pkg/dispatch"
	"rasc/pkg/probe"
)

type fakeController struct {
	registerErr  error
	issuedID     string
	issueErr     error
	cancelled    string
	subscription chan dispatch.Event
}

func (f *fakeController) RegisterDevice(_ context.Context, host string, portLow, portHigh int) (probe.DeviceHandle, error) {
	if f.registerErr != nil {
		return probe.DeviceHandle{}, f.registerErr
	}

	return probe.DeviceHandle{EntityID: host, Addr: host}, nil
}

func (f *fakeController) IssueAction(_ context.Context, _ probe.DeviceHandle, _ string, _ map[string]any) (string, error) {
	if f.issueErr != nil {
		return "", f.issueErr
	}

	return f.issuedID, nil
}

func (f *fakeController) CancelAction(actionID string) {
	f.cancelled = actionID
}

func (f *fakeController) Subscribe(_ int) <-chan dispatch.Event {
	return f.subscription
}

func TestHandleRegisterDeviceReturnsHandle(t *testing.T) {
	t.Parallel()

	controller := &fakeController{}
	srv := NewServer(controller, nil)

	body, _ := json.Marshal(registerDeviceRequest{Host: "10.0.0.5", PortLow: 9999, PortHigh: 9999})
	req := httptest.NewRequest(http.MethodPost, "/devices", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var handle probe.DeviceHandle
	if err := json.Unmarshal(rec.Body.Bytes(), &handle); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if handle.EntityID != "10.0.0.5" {
		t.Fatalf("expected handle for 10.0.0.5, got %q", handle.EntityID)
	}
}

func TestHandleIssueActionReturnsAccepted(t *testing.T) {
	t.Parallel()

	controller := &fakeController{issuedID: "action-123"}
	srv := NewServer(controller, nil)

	body, _ := json.Marshal(issueActionRequest{ActionKey: "turn_on", Command: map[string]any{"on_off": 1}})
	req := httptest.NewRequest(http.MethodPost, "/actions", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if resp["action_id"] != "action-123" {
		t.Fatalf("expected action-123, got %q", resp["action_id"])
	}
}

func TestHandleCancelActionInvokesController(t *testing.T) {
	t.Parallel()

	controller := &fakeController{}
	srv := NewServer(controller, nil)

	req := httptest.NewRequest(http.MethodDelete, "/actions/abc", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}

	if controller.cancelled != "abc" {
		t.Fatalf("expected CancelAction to be called with abc, got %q", controller.cancelled)
	}
}

func TestHandleActionEventsFiltersByID(t *testing.T) {
	t.Parallel()

	events := make(chan dispatch.Event, 2)
	events <- dispatch.Event{ActionID: "other", Kind: dispatch.KindAck}
	events <- dispatch.Event{ActionID: "abc", Kind: dispatch.KindComplete}

	controller := &fakeController{subscription: events}
	srv := NewServer(controller, nil)

	req := httptest.NewRequest(http.MethodGet, "/actions/abc/events", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if !bytes.Contains(rec.Body.Bytes(), []byte(`"ActionID":"abc"`)) {
		t.Fatalf("expected the stream to include the matching action event, got %s", rec.Body.String())
	}
}
