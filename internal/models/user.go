// Package models provides data model definitions for the ledgersync core.
package models

import "time"

// User represents an account mirrored from the remote service.
type User struct {
	ID        int64  `db:"id" json:"id"`
	Name      string `db:"name" json:"name"`
	Email     string `db:"email" json:"email"`
	Phone     string `db:"phone" json:"phone,omitempty"`
	CreatedAt int64  `db:"created_at" json:"created_at"`
	UpdatedAt int64  `db:"updated_at" json:"updated_at"`
	LastSync  int64  `db:"last_sync" json:"-"`
	IsSynced  bool   `db:"is_synced" json:"-"`
}

// TableName returns the table name for User.
func (User) TableName() string {
	return "users"
}

// Touch updates the UpdatedAt timestamp.
func (u *User) Touch() {
	u.UpdatedAt = time.Now().Unix()
}
