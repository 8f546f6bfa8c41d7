package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) statusResponse {
	t.Helper()
	var resp statusResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp
}

func TestHealth(t *testing.T) {
	s := NewServer("127.0.0.1", 0)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	if got := decode(t, rec).Status; got != "ok" {
		t.Errorf("body status: got %q, want ok", got)
	}
}

func TestReady(t *testing.T) {
	s := NewServer("127.0.0.1", 0)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("no probe: got %d, want 200", rec.Code)
	}

	ready := false
	s.SetReadyFunc(func() (bool, string) {
		if ready {
			return true, "running"
		}
		return false, "starting"
	})

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("not ready: got %d, want 503", rec.Code)
	}
	if resp := decode(t, rec); resp.Status != "not ready" || resp.State != "starting" {
		t.Errorf("body: got %+v", resp)
	}

	ready = true
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("ready: got %d, want 200", rec.Code)
	}
	if resp := decode(t, rec); resp.State != "running" {
		t.Errorf("state: got %q, want running", resp.State)
	}
}

func TestHandleMountsExtraRoutes(t *testing.T) {
	s := NewServer("127.0.0.1", 0)
	s.Handle("/metrics", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("status: got %d, want 418", rec.Code)
	}
}

func TestStartStop(t *testing.T) {
	s := NewServer("127.0.0.1", 0)
	errc := make(chan error, 1)
	go func() { errc <- s.Start() }()
	time.Sleep(50 * time.Millisecond)

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			t.Errorf("Start: got %v, want ErrServerClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return")
	}
}
