// Package models provides data model definitions for the ledgersync core.
package models

// Settings keys owned by the sync orchestrator.
const (
	SettingLastFullSync      = "last_full_sync"
	SettingLastSyncTimestamp = "last_sync_timestamp"
	SettingLastSuccessful    = "last_successful_sync"
	SettingOfflineMode       = "offline_mode"
	SettingAPIToken          = "api_token" // stored encrypted
)

// Setting is one row of the key-value settings table.
type Setting struct {
	Key       string `db:"key" json:"key"`
	Value     string `db:"value" json:"value"`
	UpdatedAt int64  `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for Setting.
func (Setting) TableName() string {
	return "settings"
}

// SyncStats is derived on demand, never persisted.
type SyncStats struct {
	PendingCount    int    `json:"pending_count"`
	DeadLetterCount int    `json:"dead_letter_count"`
	LastSuccessful  int64  `json:"last_successful_sync,omitempty"`
	Online          bool   `json:"online"`
	Syncing         bool   `json:"syncing"`
	OfflineMode     bool   `json:"offline_mode"`
	Status          string `json:"status"`
}
