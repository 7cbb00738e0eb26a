// Package db tests for store CRUD and queue-writer semantics.
package db

import (
	"testing"
	"time"

	"ledgersync/internal/errors"
	"ledgersync/internal/models"
)

// newTestStore opens a migrated store on a throwaway database.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	database, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })

	migrator := NewMigrator(database.DB)
	if err := migrator.Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if err := migrator.Up(); err != nil {
		t.Fatalf("Up() error = %v", err)
	}

	return NewStore(database)
}

// TestCreateUser_queuesInsert verifies a create lands the row, marks it dirty
// and appends exactly one INSERT queue entry in the same transaction.
func TestCreateUser_queuesInsert(t *testing.T) {
	store := newTestStore(t)

	u := &models.User{Name: "Ada", Email: "ada@example.com"}
	if err := store.CreateUser(u); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if u.ID == 0 {
		t.Fatal("CreateUser() did not assign an id")
	}

	got, err := store.GetUser(u.ID)
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if got.IsSynced {
		t.Error("new user should be dirty")
	}

	entries, err := store.PendingQueue(10)
	if err != nil {
		t.Fatalf("PendingQueue() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("queue length = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.Operation != models.OpInsert {
		t.Errorf("operation = %v, want INSERT", e.Operation)
	}
	if e.TableName != "users" {
		t.Errorf("table = %q, want users", e.TableName)
	}
	if e.RecordID != u.ID {
		t.Errorf("record id = %d, want %d", e.RecordID, u.ID)
	}
	if e.EventID == "" {
		t.Error("queue entry has no event id")
	}
	if len(e.Payload) == 0 {
		t.Error("INSERT queue entry has no payload")
	}
}

// TestUpdateInvoice_marksDirtyAndQueues verifies an update re-dirties a
// previously synced record and queues an UPDATE.
func TestUpdateInvoice_marksDirtyAndQueues(t *testing.T) {
	store := newTestStore(t)

	inv := &models.Invoice{Customer: "Acme", Amount: 150}
	if err := store.CreateInvoice(inv); err != nil {
		t.Fatalf("CreateInvoice() error = %v", err)
	}
	if err := store.MarkSynced(models.KindInvoice, inv.ID, time.Now()); err != nil {
		t.Fatalf("MarkSynced() error = %v", err)
	}

	inv.Amount = 175
	if err := store.UpdateInvoice(inv); err != nil {
		t.Fatalf("UpdateInvoice() error = %v", err)
	}

	got, err := store.GetInvoice(inv.ID)
	if err != nil {
		t.Fatalf("GetInvoice() error = %v", err)
	}
	if got.IsSynced {
		t.Error("updated invoice should be dirty again")
	}
	if got.Amount != 175 {
		t.Errorf("amount = %v, want 175", got.Amount)
	}

	entries, err := store.PendingQueue(10)
	if err != nil {
		t.Fatalf("PendingQueue() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("queue length = %d, want 2", len(entries))
	}
	if entries[1].Operation != models.OpUpdate {
		t.Errorf("second entry = %v, want UPDATE", entries[1].Operation)
	}
}

// TestDeleteInvoice_queuesDeleteWithoutPayload verifies the row is gone
// locally while a DELETE entry remains queued for upload.
func TestDeleteInvoice_queuesDeleteWithoutPayload(t *testing.T) {
	store := newTestStore(t)

	inv := &models.Invoice{Customer: "Acme", Amount: 10}
	if err := store.CreateInvoice(inv); err != nil {
		t.Fatalf("CreateInvoice() error = %v", err)
	}
	if err := store.DeleteInvoice(inv.ID); err != nil {
		t.Fatalf("DeleteInvoice() error = %v", err)
	}

	if _, err := store.GetInvoice(inv.ID); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("GetInvoice() after delete error = %v, want NOT_FOUND", err)
	}

	entries, err := store.PendingQueue(10)
	if err != nil {
		t.Fatalf("PendingQueue() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("queue length = %d, want 2", len(entries))
	}
	del := entries[1]
	if del.Operation != models.OpDelete {
		t.Errorf("operation = %v, want DELETE", del.Operation)
	}
	if len(del.Payload) != 0 {
		t.Errorf("DELETE payload length = %d, want 0", len(del.Payload))
	}
}

// TestUpdateMissingRecord verifies updates and deletes against absent rows
// report NOT_FOUND and enqueue nothing.
func TestUpdateMissingRecord(t *testing.T) {
	store := newTestStore(t)

	if err := store.UpdateUser(&models.User{ID: 99, Name: "ghost"}); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("UpdateUser() error = %v, want NOT_FOUND", err)
	}
	if err := store.DeleteUser(99); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("DeleteUser() error = %v, want NOT_FOUND", err)
	}

	n, err := store.QueueCount()
	if err != nil {
		t.Fatalf("QueueCount() error = %v", err)
	}
	if n != 0 {
		t.Errorf("queue count = %d, want 0", n)
	}
}

// TestDirtyCount counts unreconciled rows across all tables.
func TestDirtyCount(t *testing.T) {
	store := newTestStore(t)

	u := &models.User{Name: "Ada"}
	if err := store.CreateUser(u); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if err := store.CreateInvoice(&models.Invoice{Customer: "Acme"}); err != nil {
		t.Fatalf("CreateInvoice() error = %v", err)
	}

	n, err := store.DirtyCount()
	if err != nil {
		t.Fatalf("DirtyCount() error = %v", err)
	}
	if n != 2 {
		t.Errorf("dirty count = %d, want 2", n)
	}

	if err := store.MarkSynced(models.KindUser, u.ID, time.Now()); err != nil {
		t.Fatalf("MarkSynced() error = %v", err)
	}
	n, err = store.DirtyCount()
	if err != nil {
		t.Fatalf("DirtyCount() error = %v", err)
	}
	if n != 1 {
		t.Errorf("dirty count after mark = %d, want 1", n)
	}
}

// TestChatMessages_listInSendOrder verifies session message listing.
func TestChatMessages_listInSendOrder(t *testing.T) {
	store := newTestStore(t)

	cs := &models.ChatSession{Title: "budget talk"}
	if err := store.CreateChatSession(cs); err != nil {
		t.Fatalf("CreateChatSession() error = %v", err)
	}

	for _, body := range []string{"first", "second", "third"} {
		m := &models.ChatMessage{SessionID: cs.ID, Sender: "user", Body: body}
		if err := store.CreateChatMessage(m); err != nil {
			t.Fatalf("CreateChatMessage(%q) error = %v", body, err)
		}
	}

	msgs, err := store.ListChatMessages(cs.ID, 10)
	if err != nil {
		t.Fatalf("ListChatMessages() error = %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("message count = %d, want 3", len(msgs))
	}
	if msgs[0].Body != "first" || msgs[2].Body != "third" {
		t.Errorf("messages out of order: %q .. %q", msgs[0].Body, msgs[2].Body)
	}
}

// TestQueryLog_appendOnly verifies the append path and recency listing.
func TestQueryLog_appendOnly(t *testing.T) {
	store := newTestStore(t)

	for _, q := range []string{"revenue by month", "unpaid invoices"} {
		if err := store.CreateQueryLog(&models.QueryLog{Query: q}); err != nil {
			t.Fatalf("CreateQueryLog(%q) error = %v", q, err)
		}
	}

	logs, err := store.ListQueryLogs(10)
	if err != nil {
		t.Fatalf("ListQueryLogs() error = %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("log count = %d, want 2", len(logs))
	}
	if logs[0].Query != "unpaid invoices" {
		t.Errorf("newest log = %q, want %q", logs[0].Query, "unpaid invoices")
	}
}
