// Package health serves the gateway's HTTP surface: liveness, readiness and
// any extra handlers the gateway mounts (metrics, event webhooks).
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// ReadyFunc reports whether the service can do its job, plus a short state
// label for the response body.
type ReadyFunc func() (ready bool, state string)

type Server struct {
	server    *http.Server
	mux       *http.ServeMux
	startTime time.Time

	mu    sync.RWMutex
	ready ReadyFunc
}

type statusResponse struct {
	Status string `json:"status"`
	State  string `json:"state,omitempty"`
	Uptime string `json:"uptime"`
}

func NewServer(host string, port int) *Server {
	s := &Server{
		mux:       http.NewServeMux(),
		startTime: time.Now(),
	}
	s.mux.HandleFunc("/health", s.healthHandler)
	s.mux.HandleFunc("/ready", s.readyHandler)
	s.server = &http.Server{
		Addr:              net.JoinHostPort(host, strconv.Itoa(port)),
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// SetReadyFunc installs the readiness probe. Without one /ready always
// answers ready.
func (s *Server) SetReadyFunc(fn ReadyFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = fn
}

// Handle mounts h at pattern. Call before Start.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) Addr() string {
	return s.server.Addr
}

// Start blocks serving until Stop; it returns http.ErrServerClosed then.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("health server shutdown: %w", err)
	}
	return nil
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Status: "ok",
		Uptime: time.Since(s.startTime).Truncate(time.Second).String(),
	})
}

func (s *Server) readyHandler(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	fn := s.ready
	s.mu.RUnlock()

	ready, state := true, ""
	if fn != nil {
		ready, state = fn()
	}

	resp := statusResponse{
		Status: "ready",
		State:  state,
		Uptime: time.Since(s.startTime).Truncate(time.Second).String(),
	}
	code := http.StatusOK
	if !ready {
		resp.Status = "not ready"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
