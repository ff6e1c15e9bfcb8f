package status

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/promirror/promirror/internal/activation"
	"github.com/promirror/promirror/internal/config"
	"github.com/promirror/promirror/internal/mirror"
)

// Snapshot is the JSON document served for GET /status
type Snapshot struct {
	Watching bool           `json:"watching"`
	LastRun  *mirror.Result `json:"last_run,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// Server exposes the watch daemon over HTTP: health and last-run status
// plus an authenticated endpoint to force a sync.
type Server struct {
	cfg      *config.Config
	logger   *slog.Logger
	token    []byte
	trigger  func()
	snapshot func() Snapshot
}

// NewServer creates a status server. trigger schedules a sync run and
// snapshot reports the daemon's current view.
func NewServer(cfg *config.Config, logger *slog.Logger, trigger func(), snapshot func() Snapshot) (*Server, error) {
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		trigger:  trigger,
		snapshot: snapshot,
	}

	if cfg.Watch.AuthTokenFile != "" {
		token, err := os.ReadFile(cfg.Watch.AuthTokenFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read auth token file: %w", err)
		}
		s.token = []byte(strings.TrimSpace(string(token)))
	}

	return s, nil
}

// Start runs the HTTP server until ctx is cancelled. Listeners handed over
// via systemd socket activation take precedence over watch.status_addr.
func (s *Server) Start(ctx context.Context) error {
	listener, err := s.listener()
	if err != nil {
		return err
	}

	server := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status server starting", "addr", listener.Addr().String())
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down status server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) listener() (net.Listener, error) {
	listeners, err := activation.Listeners()
	if err != nil {
		return nil, fmt.Errorf("failed to check socket activation: %w", err)
	}
	if len(listeners) > 0 {
		s.logger.Info("using socket-activated listener")
		return listeners[0], nil
	}

	// Activation env targeting another process yields no listeners; without
	// a configured address we must not fall through to an ephemeral port.
	if s.cfg.Watch.StatusAddr == "" {
		return nil, fmt.Errorf("no socket-activated listener adopted and watch.status_addr is not configured")
	}

	listener, err := net.Listen("tcp", s.cfg.Watch.StatusAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", s.cfg.Watch.StatusAddr, err)
	}
	return listener, nil
}

// Handler returns the HTTP routes of the status server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/sync", s.handleSync)
	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintln(w, "ok")
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.snapshot()); err != nil {
		s.logger.Error("failed to encode status response", "error", err)
	}
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.logger.Warn("rejecting non-POST sync request", "method", r.Method)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !s.authorized(r) {
		s.logger.Warn("rejecting sync request with invalid token", "remote", r.RemoteAddr)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	s.logger.Info("sync requested via status server", "remote", r.RemoteAddr)
	s.trigger()

	w.WriteHeader(http.StatusAccepted)
	_, _ = fmt.Fprintln(w, "Sync triggered")
}

// authorized validates the bearer token in constant time. Without a
// configured token file every caller is allowed.
func (s *Server) authorized(r *http.Request) bool {
	if len(s.token) == 0 {
		return true
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return false
	}
	presented := []byte(strings.TrimPrefix(auth, "Bearer "))

	return subtle.ConstantTimeCompare(presented, s.token) == 1
}
