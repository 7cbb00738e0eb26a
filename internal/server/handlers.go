// Package server exposes the local REST and WebSocket surface the UI layer
// talks to. Application writes land here, go through the durable store
// synchronously and are queued for upload as a side effect.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"ledgersync/internal/db"
	"ledgersync/internal/errors"
	"ledgersync/internal/logging"
	"ledgersync/internal/models"
	"ledgersync/internal/sync"
)

// Server serves the local application API.
type Server struct {
	store       *db.Store
	engine      *sync.Engine
	hub         *Hub
	keyMaterial string
	httpSrv     *http.Server
}

// New creates a Server bound to addr.
func New(addr string, store *db.Store, engine *sync.Engine, hub *Hub, keyMaterial string) *Server {
	s := &Server{
		store:       store,
		engine:      engine,
		hub:         hub,
		keyMaterial: keyMaterial,
	}
	s.httpSrv = &http.Server{Addr: addr, Handler: s.routes()}
	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	logging.Info("local API listening", logging.Fields{"addr": s.httpSrv.Addr})
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)

	mux.HandleFunc("GET /sync/status", s.handleSyncStatus)
	mux.HandleFunc("POST /sync/now", s.handleSyncNow)
	mux.HandleFunc("PUT /sync/offline", s.handleOfflineMode)
	mux.HandleFunc("GET /sync/deadletters", s.handleDeadLetters)
	mux.HandleFunc("POST /sync/credentials", s.handleSetCredential)
	mux.HandleFunc("DELETE /sync/credentials", s.handleClearCredential)

	mux.HandleFunc("POST /api/invoices", s.handleCreateInvoice)
	mux.HandleFunc("GET /api/invoices", s.handleListInvoices)
	mux.HandleFunc("GET /api/invoices/{id}", s.handleGetInvoice)
	mux.HandleFunc("PUT /api/invoices/{id}", s.handleUpdateInvoice)
	mux.HandleFunc("DELETE /api/invoices/{id}", s.handleDeleteInvoice)

	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("POST /api/sessions/{id}/messages", s.handleCreateMessage)
	mux.HandleFunc("GET /api/sessions/{id}/messages", s.handleListMessages)

	mux.HandleFunc("POST /api/queries", s.handleCreateQueryLog)
	mux.HandleFunc("GET /api/queries", s.handleListQueryLogs)

	mux.HandleFunc("GET /ws", s.hub.ServeWS)

	return mux
}

// Handler exposes the route table for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": "ledgersync"})
}

// =====================================================
// Sync Endpoints
// =====================================================

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.Stats()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleSyncNow(w http.ResponseWriter, r *http.Request) {
	result, err := s.engine.ForceSync(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if result == nil {
		// Another pass holds the guard; the trigger coalesced into it.
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "coalesced": true})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"uploaded":      result.Uploaded,
		"upload_failed": result.UploadFailed,
		"dead_lettered": result.DeadLettered,
		"downloaded":    result.Downloaded,
		"applied":       result.Applied,
		"duration_ms":   result.Duration().Milliseconds(),
	})
}

func (s *Server) handleOfflineMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.Wrap(errors.ErrInvalid, "invalid request body", err))
		return
	}
	if err := s.engine.SetOfflineMode(req.Enabled); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "offline_mode": req.Enabled})
}

func (s *Server) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	letters, err := s.store.ListDeadLetters(100)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": letters})
}

func (s *Server) handleSetCredential(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.Wrap(errors.ErrInvalid, "invalid request body", err))
		return
	}
	if req.Token == "" {
		writeError(w, errors.New(errors.ErrValidation, "token is required"))
		return
	}
	if err := s.store.SetCredential(req.Token, s.keyMaterial); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleClearCredential(w http.ResponseWriter, r *http.Request) {
	if err := s.store.ClearCredential(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// =====================================================
// Invoice Endpoints
// =====================================================

func (s *Server) handleCreateInvoice(w http.ResponseWriter, r *http.Request) {
	var inv models.Invoice
	if err := json.NewDecoder(r.Body).Decode(&inv); err != nil {
		writeError(w, errors.Wrap(errors.ErrInvalid, "invalid request body", err))
		return
	}
	if inv.Customer == "" {
		writeError(w, errors.New(errors.ErrValidation, "customer is required"))
		return
	}
	if err := s.store.CreateInvoice(&inv); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, &inv)
}

func (s *Server) handleListInvoices(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	offset := queryInt(r, "offset", 0)
	invoices, err := s.store.ListInvoices(limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": invoices})
}

func (s *Server) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	inv, err := s.store.GetInvoice(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (s *Server) handleUpdateInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var inv models.Invoice
	if err := json.NewDecoder(r.Body).Decode(&inv); err != nil {
		writeError(w, errors.Wrap(errors.ErrInvalid, "invalid request body", err))
		return
	}
	inv.ID = id
	if err := s.store.UpdateInvoice(&inv); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &inv)
}

func (s *Server) handleDeleteInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.DeleteInvoice(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// =====================================================
// Chat Endpoints
// =====================================================

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var cs models.ChatSession
	if err := json.NewDecoder(r.Body).Decode(&cs); err != nil {
		writeError(w, errors.Wrap(errors.ErrInvalid, "invalid request body", err))
		return
	}
	if err := s.store.CreateChatSession(&cs); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, &cs)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.ListChatSessions(queryInt(r, "limit", 100))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": sessions})
}

func (s *Server) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	sessionID, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var m models.ChatMessage
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		writeError(w, errors.Wrap(errors.ErrInvalid, "invalid request body", err))
		return
	}
	m.SessionID = sessionID
	if m.Sender == "" {
		m.Sender = "user"
	}
	if err := s.store.CreateChatMessage(&m); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, &m)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	sessionID, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	msgs, err := s.store.ListChatMessages(sessionID, queryInt(r, "limit", 500))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": msgs})
}

// =====================================================
// Query Log Endpoints
// =====================================================

func (s *Server) handleCreateQueryLog(w http.ResponseWriter, r *http.Request) {
	var q models.QueryLog
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		writeError(w, errors.Wrap(errors.ErrInvalid, "invalid request body", err))
		return
	}
	if q.Query == "" {
		writeError(w, errors.New(errors.ErrValidation, "query is required"))
		return
	}
	if err := s.store.CreateQueryLog(&q); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, &q)
}

func (s *Server) handleListQueryLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := s.store.ListQueryLogs(queryInt(r, "limit", 100))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": logs})
}

// =====================================================
// Helpers
// =====================================================

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New(errors.ErrInvalid, "invalid id in path")
	}
	return id, nil
}

func queryInt(r *http.Request, key string, fallback int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errors.CodeOf(err) {
	case errors.ErrNotFound:
		status = http.StatusNotFound
	case errors.ErrInvalid, errors.ErrValidation:
		status = http.StatusBadRequest
	case errors.ErrSyncOffline:
		status = http.StatusServiceUnavailable
	case errors.ErrSyncFailed, errors.ErrSyncTransport:
		status = http.StatusBadGateway
	}

	writeJSON(w, status, map[string]any{
		"error": err.Error(),
		"code":  string(errors.CodeOf(err)),
	})
}
