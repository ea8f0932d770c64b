// Package admin serves the local HTTP API backing the UI and CLI status
// command.
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/attachebot/attache/internal/config"
	"github.com/attachebot/attache/internal/store"
	"github.com/attachebot/attache/internal/tools"
)

// Transports is the slice of the channel layer the API exposes.
type Transports interface {
	WhatsAppStatus() string
	TelegramConnected() bool
	// Disconnect logs WhatsApp out, wipes credentials and releases the
	// session lock. It returns before any reconnect attempt.
	Disconnect(ctx context.Context) error
}

// Server is the admin HTTP API.
type Server struct {
	cfg        *config.Config
	store      *store.Store
	status     tools.StatusFunc
	transports Transports
	httpSrv    *http.Server
}

// New creates the server.
func New(cfg *config.Config, s *store.Store, status tools.StatusFunc, transports Transports) *Server {
	srv := &Server{cfg: cfg, store: s, status: status, transports: transports}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", srv.handleStatus)
	mux.HandleFunc("POST /api/disconnect", srv.handleDisconnect)
	mux.HandleFunc("GET /api/contacts", srv.handleContacts)
	mux.HandleFunc("GET /api/messages", srv.handleMessages)
	mux.HandleFunc("GET /api/stats", srv.handleStats)
	mux.HandleFunc("PUT /api/profile/ai", srv.handlePutAIProfile)
	mux.HandleFunc("PUT /api/profile/user", srv.handlePutUserProfile)

	srv.httpSrv = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler: mux,
	}
	return srv
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("admin API listening", "addr", s.httpSrv.Addr)
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	snapshot := s.status()
	out := map[string]any{
		"transport1": map[string]any{"status": s.transports.WhatsAppStatus()},
		"transport2": map[string]any{"connected": s.transports.TelegramConnected()},
		"pipeline":   snapshot,
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.transports.Disconnect(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleContacts(w http.ResponseWriter, _ *http.Request) {
	contacts, err := s.store.ListContacts(200)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, contacts)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	if address == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("address query parameter is required"))
		return
	}
	logs, err := s.store.RecentMessages(address, 200)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	total, users, agents, err := s.store.MessageStats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	depth, _ := s.store.QueueDepth()
	pendingReports, _ := s.store.PendingReports()
	writeJSON(w, http.StatusOK, map[string]any{
		"messages_total":  total,
		"messages_user":   users,
		"messages_agent":  agents,
		"queue_depth":     depth,
		"pending_reports": pendingReports,
	})
}

func (s *Server) handlePutAIProfile(w http.ResponseWriter, r *http.Request) {
	var p store.AIProfile
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.store.PutAIProfile(&p); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handlePutUserProfile(w http.ResponseWriter, r *http.Request) {
	var p store.UserProfile
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.store.PutUserProfile(&p); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
