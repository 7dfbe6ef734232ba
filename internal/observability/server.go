package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// ServerOptions configures the ops HTTP server.
type ServerOptions struct {
	Addr   string
	Ready  func() bool              // nil means always ready
	Status func() map[string]string // pool -> pipeline state, reported by /readyz
	Logger *zap.Logger
}

// Server exposes /metrics, /healthz and /readyz.
type Server struct {
	srv    *http.Server
	ready  func() bool
	status func() map[string]string
	logger *zap.Logger
}

// NewServer creates the ops server. It does not listen until Run.
func NewServer(opts ServerOptions) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ready := opts.Ready
	if ready == nil {
		ready = func() bool { return true }
	}

	s := &Server{ready: ready, status: opts.Status, logger: logger}
	s.srv = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Router returns the ops routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet)
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("ops server listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	ready := s.ready()
	body := map[string]any{"ready": ready}
	if s.status != nil {
		body["pools"] = s.status()
	}

	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, body)
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
