// Package models provides data model definitions for the ledgersync core.
package models

import "fmt"

// Kind is the closed set of syncable entity kinds. Adding a table means
// adding a variant here plus its arms in the store and the API client, all
// checked at compile time.
type Kind int

const (
	KindUser Kind = iota
	KindChatSession
	KindChatMessage
	KindInvoice
	KindQueryLog
)

// Kinds returns all syncable entity kinds in download order. Parents come
// before children so foreign keys resolve during a pull.
func Kinds() []Kind {
	return []Kind{KindUser, KindChatSession, KindChatMessage, KindInvoice, KindQueryLog}
}

// Table returns the local table name for the kind.
func (k Kind) Table() string {
	switch k {
	case KindUser:
		return "users"
	case KindChatSession:
		return "chat_sessions"
	case KindChatMessage:
		return "chat_messages"
	case KindInvoice:
		return "invoices"
	case KindQueryLog:
		return "query_logs"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	return k.Table()
}

// KindForTable maps a table name back to its kind.
func KindForTable(table string) (Kind, bool) {
	for _, k := range Kinds() {
		if k.Table() == table {
			return k, true
		}
	}
	return 0, false
}

// Operation is a queued mutation type.
type Operation string

const (
	OpInsert Operation = "INSERT"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

// Valid reports whether the operation is one of the known mutation types.
func (o Operation) Valid() bool {
	switch o {
	case OpInsert, OpUpdate, OpDelete:
		return true
	}
	return false
}
