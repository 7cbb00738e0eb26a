// Package server tests for the local REST surface.
package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ledgersync/internal/db"
	"ledgersync/internal/models"
	"ledgersync/internal/sync"
)

func newTestServer(t *testing.T) (*Server, *db.Store) {
	t.Helper()

	database, err := db.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.NewMigrator(database.DB).Up(); err != nil {
		t.Fatalf("Up() error = %v", err)
	}
	store := db.NewStore(database)

	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.Write([]byte(`{"data":[]}`))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(remote.Close)

	client := sync.NewClient(remote.URL, 5*time.Second, nil)
	engine, err := sync.NewEngine(store, client, sync.NewBroadcaster(), sync.DefaultConfig())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}

	hub := NewHub()
	t.Cleanup(hub.Close)

	return New("localhost:0", store, engine, hub, "test-key"), store
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

// TestHealth verifies the liveness endpoint.
func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/api/health", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

// TestInvoiceLifecycle verifies create, get, update, delete through the
// REST surface and the queue side effects.
func TestInvoiceLifecycle(t *testing.T) {
	s, store := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/invoices", map[string]any{
		"customer": "Acme", "amount": 125.50,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}
	var created models.Invoice
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode created invoice: %v", err)
	}
	if created.ID == 0 {
		t.Fatal("created invoice has no id")
	}
	if created.Currency != "USD" {
		t.Errorf("currency = %q, want default USD", created.Currency)
	}

	rec = doJSON(t, s, http.MethodGet, fmt.Sprintf("/api/invoices/%d", created.ID), nil)
	if rec.Code != http.StatusOK {
		t.Errorf("get status = %d, want 200", rec.Code)
	}

	created.Amount = 200
	rec = doJSON(t, s, http.MethodPut, fmt.Sprintf("/api/invoices/%d", created.ID), created)
	if rec.Code != http.StatusOK {
		t.Errorf("update status = %d, want 200", rec.Code)
	}

	rec = doJSON(t, s, http.MethodDelete, fmt.Sprintf("/api/invoices/%d", created.ID), nil)
	if rec.Code != http.StatusOK {
		t.Errorf("delete status = %d, want 200", rec.Code)
	}

	// Each mutation queued one entry.
	n, _ := store.QueueCount()
	if n != 3 {
		t.Errorf("queue count = %d, want 3", n)
	}
}

// TestInvoiceErrors verifies validation and not-found mappings.
func TestInvoiceErrors(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/invoices", map[string]any{"amount": 10})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing customer status = %d, want 400", rec.Code)
	}

	rec = doJSON(t, s, http.MethodGet, "/api/invoices/999", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing invoice status = %d, want 404", rec.Code)
	}

	rec = doJSON(t, s, http.MethodGet, "/api/invoices/abc", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want 400", rec.Code)
	}
}

// TestChatEndpoints verifies session and message creation.
func TestChatEndpoints(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/sessions", map[string]any{"title": "planning"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create session status = %d", rec.Code)
	}
	var cs models.ChatSession
	json.Unmarshal(rec.Body.Bytes(), &cs)

	rec = doJSON(t, s, http.MethodPost, fmt.Sprintf("/api/sessions/%d/messages", cs.ID),
		map[string]any{"body": "hello"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create message status = %d", rec.Code)
	}

	rec = doJSON(t, s, http.MethodGet, fmt.Sprintf("/api/sessions/%d/messages", cs.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list messages status = %d", rec.Code)
	}
	var envelope struct {
		Data []models.ChatMessage `json:"data"`
	}
	json.Unmarshal(rec.Body.Bytes(), &envelope)
	if len(envelope.Data) != 1 || envelope.Data[0].Body != "hello" {
		t.Errorf("messages = %+v", envelope.Data)
	}
}

// TestSyncNow verifies the manual trigger returns a pass summary and maps
// offline to 503.
func TestSyncNow(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/sync/now", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("sync now status = %d, body %s", rec.Code, rec.Body.String())
	}

	s.engine.SetOnline(false)
	rec = doJSON(t, s, http.MethodPost, "/sync/now", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("offline sync now status = %d, want 503", rec.Code)
	}
}

// TestSyncStatus verifies the statistics endpoint.
func TestSyncStatus(t *testing.T) {
	s, store := newTestServer(t)

	if err := store.CreateInvoice(&models.Invoice{Customer: "Acme"}); err != nil {
		t.Fatalf("CreateInvoice() error = %v", err)
	}

	rec := doJSON(t, s, http.MethodGet, "/sync/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var stats models.SyncStats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.PendingCount != 1 {
		t.Errorf("pending = %d, want 1", stats.PendingCount)
	}
}

// TestOfflineModeEndpoint verifies the forced-offline toggle.
func TestOfflineModeEndpoint(t *testing.T) {
	s, store := newTestServer(t)

	rec := doJSON(t, s, http.MethodPut, "/sync/offline", map[string]any{"enabled": true})
	if rec.Code != http.StatusOK {
		t.Fatalf("offline toggle status = %d", rec.Code)
	}

	enabled, err := store.OfflineMode()
	if err != nil || !enabled {
		t.Errorf("offline mode = %v err = %v, want true", enabled, err)
	}

	rec = doJSON(t, s, http.MethodPost, "/sync/now", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("sync in offline mode status = %d, want 503", rec.Code)
	}
}

// TestCredentialEndpoints verifies set and clear round-trips through the
// sealed settings store.
func TestCredentialEndpoints(t *testing.T) {
	s, store := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/sync/credentials", map[string]any{"token": ""})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty token status = %d, want 400", rec.Code)
	}

	rec = doJSON(t, s, http.MethodPost, "/sync/credentials", map[string]any{"token": "tok-1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("set credential status = %d", rec.Code)
	}

	token, ok, err := store.Credential("test-key")
	if err != nil || !ok || token != "tok-1" {
		t.Errorf("stored credential = %q ok=%v err=%v", token, ok, err)
	}

	rec = doJSON(t, s, http.MethodDelete, "/sync/credentials", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("clear credential status = %d", rec.Code)
	}
	if _, ok, _ := store.Credential("test-key"); ok {
		t.Error("credential should be cleared")
	}
}

// TestDeadLetterEndpoint verifies parked entries are inspectable.
func TestDeadLetterEndpoint(t *testing.T) {
	s, store := newTestServer(t)

	if err := store.CreateQueryLog(&models.QueryLog{Query: "q"}); err != nil {
		t.Fatalf("CreateQueryLog() error = %v", err)
	}
	entries, _ := store.PendingQueue(1)
	if err := store.MoveToDeadLetter(entries[0], "remote rejected"); err != nil {
		t.Fatalf("MoveToDeadLetter() error = %v", err)
	}

	rec := doJSON(t, s, http.MethodGet, "/sync/deadletters", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("dead letters status = %d", rec.Code)
	}
	var envelope struct {
		Data []models.DeadLetter `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(envelope.Data) != 1 || envelope.Data[0].LastError != "remote rejected" {
		t.Errorf("dead letters = %+v", envelope.Data)
	}
}
