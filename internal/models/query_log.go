// Package models provides data model definitions for the ledgersync core.
package models

import "time"

// QueryLog records a search or lookup the user performed while offline, so
// the remote service can keep usage history consistent across devices.
type QueryLog struct {
	ID        int64  `db:"id" json:"id"`
	UserID    int64  `db:"user_id" json:"user_id"`
	Query     string `db:"query" json:"query"`
	CreatedAt int64  `db:"created_at" json:"created_at"`
	UpdatedAt int64  `db:"updated_at" json:"updated_at"`
	LastSync  int64  `db:"last_sync" json:"-"`
	IsSynced  bool   `db:"is_synced" json:"-"`
}

// TableName returns the table name for QueryLog.
func (QueryLog) TableName() string {
	return "query_logs"
}

// Time returns the CreatedAt as time.Time.
func (q *QueryLog) Time() time.Time {
	return time.Unix(q.CreatedAt, 0)
}
