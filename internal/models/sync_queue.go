// Package models provides data model definitions for the ledgersync core.
package models

import (
	"encoding/json"
	"time"
)

// SyncQueueEntry is one pending mutation awaiting upload. Entries drain in
// FIFO order on the autoincrement ID so an UPDATE never races ahead of the
// INSERT that created its record.
type SyncQueueEntry struct {
	ID         int64           `db:"id" json:"id"`
	EventID    string          `db:"event_id" json:"event_id"` // uuid, sent as idempotency key
	TableName  string          `db:"table_name" json:"table_name"`
	RecordID   int64           `db:"record_id" json:"record_id"`
	Operation  Operation       `db:"operation" json:"operation"`
	Payload    json.RawMessage `db:"payload" json:"payload"`
	RetryCount int             `db:"retry_count" json:"retry_count"`
	CreatedAt  int64           `db:"created_at" json:"created_at"`
}

// Kind resolves the entry's table to its entity kind.
func (e *SyncQueueEntry) Kind() (Kind, bool) {
	return KindForTable(e.TableName)
}

// DeadLetter is a queue entry that exhausted its retry budget. It is kept
// for operator recovery instead of being dropped.
type DeadLetter struct {
	ID         int64           `db:"id" json:"id"`
	EventID    string          `db:"event_id" json:"event_id"`
	TableName  string          `db:"table_name" json:"table_name"`
	RecordID   int64           `db:"record_id" json:"record_id"`
	Operation  Operation       `db:"operation" json:"operation"`
	Payload    json.RawMessage `db:"payload" json:"payload"`
	RetryCount int             `db:"retry_count" json:"retry_count"`
	LastError  string          `db:"last_error" json:"last_error"`
	CreatedAt  int64           `db:"created_at" json:"created_at"`
	FailedAt   int64           `db:"failed_at" json:"failed_at"`
}

// FailedAtTime returns the FailedAt as time.Time.
func (d *DeadLetter) FailedAtTime() time.Time {
	return time.Unix(d.FailedAt, 0)
}
