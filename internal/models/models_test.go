// Package models tests for entity serialization and queue entry helpers.
package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestInvoice_jsonExcludesSyncState verifies local bookkeeping columns never
// leak onto the wire.
func TestInvoice_jsonExcludesSyncState(t *testing.T) {
	inv := Invoice{
		ID: 1, Customer: "Acme", Amount: 99.5, Currency: "USD",
		Status: InvoiceStatusSent, LastSync: 12345, IsSynced: true,
	}

	data, err := json.Marshal(inv)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))

	assert.Equal(t, "Acme", raw["customer"])
	assert.NotContains(t, raw, "last_sync")
	assert.NotContains(t, raw, "is_synced")
	assert.NotContains(t, raw, "notes", "empty notes should be omitted")
}

// TestSyncQueueEntry_kind verifies table resolution on queue entries.
func TestSyncQueueEntry_kind(t *testing.T) {
	entry := SyncQueueEntry{TableName: "invoices", Operation: OpInsert}
	kind, ok := entry.Kind()
	require.True(t, ok)
	assert.Equal(t, KindInvoice, kind)

	orphan := SyncQueueEntry{TableName: "dropped_table"}
	_, ok = orphan.Kind()
	assert.False(t, ok)
}

// TestTouch verifies the update stamp moves forward.
func TestTouch(t *testing.T) {
	inv := Invoice{UpdatedAt: 1000}
	before := time.Now().Unix()
	inv.Touch()

	assert.GreaterOrEqual(t, inv.UpdatedAt, before)
	assert.Equal(t, inv.UpdatedAt, inv.UpdatedAtTime().Unix())
}

// TestDeadLetter_failedAtTime verifies the timestamp helper.
func TestDeadLetter_failedAtTime(t *testing.T) {
	d := DeadLetter{FailedAt: 1700000000}
	assert.Equal(t, int64(1700000000), d.FailedAtTime().Unix())
}
