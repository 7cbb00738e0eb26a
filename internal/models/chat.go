// Package models provides data model definitions for the ledgersync core.
package models

import "time"

// ChatSession groups chat messages under a single conversation.
type ChatSession struct {
	ID        int64  `db:"id" json:"id"`
	UserID    int64  `db:"user_id" json:"user_id"`
	Title     string `db:"title" json:"title"`
	CreatedAt int64  `db:"created_at" json:"created_at"`
	UpdatedAt int64  `db:"updated_at" json:"updated_at"`
	LastSync  int64  `db:"last_sync" json:"-"`
	IsSynced  bool   `db:"is_synced" json:"-"`
}

// TableName returns the table name for ChatSession.
func (ChatSession) TableName() string {
	return "chat_sessions"
}

// Touch updates the UpdatedAt timestamp.
func (s *ChatSession) Touch() {
	s.UpdatedAt = time.Now().Unix()
}

// ChatMessage is a single message inside a chat session.
type ChatMessage struct {
	ID        int64  `db:"id" json:"id"`
	SessionID int64  `db:"session_id" json:"session_id"`
	Sender    string `db:"sender" json:"sender"` // "user" or "assistant"
	Body      string `db:"body" json:"body"`
	CreatedAt int64  `db:"created_at" json:"created_at"`
	UpdatedAt int64  `db:"updated_at" json:"updated_at"`
	LastSync  int64  `db:"last_sync" json:"-"`
	IsSynced  bool   `db:"is_synced" json:"-"`
}

// TableName returns the table name for ChatMessage.
func (ChatMessage) TableName() string {
	return "chat_messages"
}

// Touch updates the UpdatedAt timestamp.
func (m *ChatMessage) Touch() {
	m.UpdatedAt = time.Now().Unix()
}
