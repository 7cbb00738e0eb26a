// Package models provides data model definitions for the ledgersync core.
package models

import "time"

// Invoice statuses mirror the remote service's lifecycle.
const (
	InvoiceStatusDraft = "draft"
	InvoiceStatusSent  = "sent"
	InvoiceStatusPaid  = "paid"
	InvoiceStatusVoid  = "void"
)

// Invoice represents a billable document created in the field.
type Invoice struct {
	ID        int64   `db:"id" json:"id"`
	UserID    int64   `db:"user_id" json:"user_id"`
	Customer  string  `db:"customer" json:"customer"`
	Amount    float64 `db:"amount" json:"amount"`
	Currency  string  `db:"currency" json:"currency"`
	Status    string  `db:"status" json:"status"`
	Notes     string  `db:"notes" json:"notes,omitempty"`
	IssuedAt  int64   `db:"issued_at" json:"issued_at"`
	CreatedAt int64   `db:"created_at" json:"created_at"`
	UpdatedAt int64   `db:"updated_at" json:"updated_at"`
	LastSync  int64   `db:"last_sync" json:"-"`
	IsSynced  bool    `db:"is_synced" json:"-"`
}

// TableName returns the table name for Invoice.
func (Invoice) TableName() string {
	return "invoices"
}

// Touch updates the UpdatedAt timestamp.
func (i *Invoice) Touch() {
	i.UpdatedAt = time.Now().Unix()
}

// UpdatedAtTime returns the UpdatedAt as time.Time.
func (i *Invoice) UpdatedAtTime() time.Time {
	return time.Unix(i.UpdatedAt, 0)
}
