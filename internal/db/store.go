// Package db provides CRUD store operations for the ledgersync data models.
//
// Every mutation against a syncable table runs in a single transaction that
// writes the row, clears its is_synced flag and appends one sync_queue
// entry. Local writes never depend on network state; they fail only on
// storage errors, which propagate to the caller.
package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ledgersync/internal/errors"
	"ledgersync/internal/models"
)

// Store provides typed operations over the durable store.
type Store struct {
	db  *DB
	now func() time.Time
}

// NewStore creates a new Store instance.
func NewStore(db *DB) *Store {
	return &Store{db: db, now: time.Now}
}

// SetClock overrides the store clock. Used by tests.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// DB exposes the underlying handle for read-only queries in tests.
func (s *Store) DB() *sql.DB {
	return s.db.DB
}

func (s *Store) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(errors.ErrStorage, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrStorage, "failed to commit transaction", err)
	}
	return nil
}

// enqueue appends one sync_queue entry inside the caller's transaction.
// payload is the record snapshot for INSERT/UPDATE and nil for DELETE.
func (s *Store) enqueue(tx *sql.Tx, kind models.Kind, recordID int64, op models.Operation, payload any) error {
	var raw []byte
	if payload != nil {
		var err error
		raw, err = json.Marshal(payload)
		if err != nil {
			return errors.Wrap(errors.ErrInternal, "failed to marshal queue payload", err)
		}
	}

	query := `INSERT INTO sync_queue (event_id, table_name, record_id, operation, payload, retry_count, created_at)
			  VALUES (?, ?, ?, ?, ?, 0, ?)`
	_, err := tx.Exec(query, uuid.New().String(), kind.Table(), recordID, string(op), raw, s.now().Unix())
	if err != nil {
		return errors.Wrap(errors.ErrStorage, "failed to enqueue mutation", err)
	}
	return nil
}

// MarkSynced stamps a record as reconciled after a successful upload.
func (s *Store) MarkSynced(kind models.Kind, id int64, syncTime time.Time) error {
	query := fmt.Sprintf("UPDATE %s SET is_synced = 1, last_sync = ? WHERE id = ?", kind.Table())
	if _, err := s.db.Exec(query, syncTime.Unix(), id); err != nil {
		return errors.Wrap(errors.ErrStorage, "failed to mark record synced", err)
	}
	return nil
}

// DirtyCount returns the number of records with unreconciled local changes
// across all syncable tables.
func (s *Store) DirtyCount() (int, error) {
	total := 0
	for _, kind := range models.Kinds() {
		var n int
		query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE is_synced = 0", kind.Table())
		if err := s.db.QueryRow(query).Scan(&n); err != nil {
			return 0, errors.Wrap(errors.ErrStorage, "failed to count dirty records", err)
		}
		total += n
	}
	return total, nil
}

// =====================================================
// User Operations
// =====================================================

// CreateUser inserts a user and queues it for upload.
func (s *Store) CreateUser(u *models.User) error {
	now := s.now().Unix()
	u.CreatedAt, u.UpdatedAt = now, now
	u.IsSynced = false

	return s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`INSERT INTO users (name, email, phone, created_at, updated_at, last_sync, is_synced)
							 VALUES (?, ?, ?, ?, ?, 0, 0)`,
			u.Name, u.Email, u.Phone, u.CreatedAt, u.UpdatedAt)
		if err != nil {
			return errors.Wrap(errors.ErrStorage, "failed to insert user", err)
		}
		u.ID, err = res.LastInsertId()
		if err != nil {
			return errors.Wrap(errors.ErrStorage, "failed to read insert id", err)
		}
		return s.enqueue(tx, models.KindUser, u.ID, models.OpInsert, u)
	})
}

// UpdateUser updates a user, marks it dirty and queues the change.
func (s *Store) UpdateUser(u *models.User) error {
	u.UpdatedAt = s.now().Unix()
	u.IsSynced = false

	return s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`UPDATE users SET name = ?, email = ?, phone = ?, updated_at = ?, is_synced = 0 WHERE id = ?`,
			u.Name, u.Email, u.Phone, u.UpdatedAt, u.ID)
		if err != nil {
			return errors.Wrap(errors.ErrStorage, "failed to update user", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errors.New(errors.ErrNotFound, fmt.Sprintf("user %d not found", u.ID))
		}
		return s.enqueue(tx, models.KindUser, u.ID, models.OpUpdate, u)
	})
}

// DeleteUser removes a user locally and queues the delete.
func (s *Store) DeleteUser(id int64) error {
	return s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`DELETE FROM users WHERE id = ?`, id)
		if err != nil {
			return errors.Wrap(errors.ErrStorage, "failed to delete user", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errors.New(errors.ErrNotFound, fmt.Sprintf("user %d not found", id))
		}
		return s.enqueue(tx, models.KindUser, id, models.OpDelete, nil)
	})
}

// GetUser retrieves a user by ID.
func (s *Store) GetUser(id int64) (*models.User, error) {
	var u models.User
	err := s.db.QueryRow(`SELECT id, name, email, phone, created_at, updated_at, last_sync, is_synced
						  FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &u.CreatedAt, &u.UpdatedAt, &u.LastSync, &u.IsSynced)
	if err == sql.ErrNoRows {
		return nil, errors.New(errors.ErrNotFound, fmt.Sprintf("user %d not found", id))
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "failed to get user", err)
	}
	return &u, nil
}

// =====================================================
// ChatSession Operations
// =====================================================

// CreateChatSession inserts a chat session and queues it for upload.
func (s *Store) CreateChatSession(cs *models.ChatSession) error {
	now := s.now().Unix()
	cs.CreatedAt, cs.UpdatedAt = now, now
	cs.IsSynced = false

	return s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`INSERT INTO chat_sessions (user_id, title, created_at, updated_at, last_sync, is_synced)
							 VALUES (?, ?, ?, ?, 0, 0)`,
			cs.UserID, cs.Title, cs.CreatedAt, cs.UpdatedAt)
		if err != nil {
			return errors.Wrap(errors.ErrStorage, "failed to insert chat session", err)
		}
		cs.ID, err = res.LastInsertId()
		if err != nil {
			return errors.Wrap(errors.ErrStorage, "failed to read insert id", err)
		}
		return s.enqueue(tx, models.KindChatSession, cs.ID, models.OpInsert, cs)
	})
}

// UpdateChatSession updates a session title and queues the change.
func (s *Store) UpdateChatSession(cs *models.ChatSession) error {
	cs.UpdatedAt = s.now().Unix()
	cs.IsSynced = false

	return s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`UPDATE chat_sessions SET user_id = ?, title = ?, updated_at = ?, is_synced = 0 WHERE id = ?`,
			cs.UserID, cs.Title, cs.UpdatedAt, cs.ID)
		if err != nil {
			return errors.Wrap(errors.ErrStorage, "failed to update chat session", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errors.New(errors.ErrNotFound, fmt.Sprintf("chat session %d not found", cs.ID))
		}
		return s.enqueue(tx, models.KindChatSession, cs.ID, models.OpUpdate, cs)
	})
}

// DeleteChatSession removes a session locally and queues the delete.
func (s *Store) DeleteChatSession(id int64) error {
	return s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`DELETE FROM chat_sessions WHERE id = ?`, id)
		if err != nil {
			return errors.Wrap(errors.ErrStorage, "failed to delete chat session", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errors.New(errors.ErrNotFound, fmt.Sprintf("chat session %d not found", id))
		}
		return s.enqueue(tx, models.KindChatSession, id, models.OpDelete, nil)
	})
}

// GetChatSession retrieves a chat session by ID.
func (s *Store) GetChatSession(id int64) (*models.ChatSession, error) {
	var cs models.ChatSession
	err := s.db.QueryRow(`SELECT id, user_id, title, created_at, updated_at, last_sync, is_synced
						  FROM chat_sessions WHERE id = ?`, id).
		Scan(&cs.ID, &cs.UserID, &cs.Title, &cs.CreatedAt, &cs.UpdatedAt, &cs.LastSync, &cs.IsSynced)
	if err == sql.ErrNoRows {
		return nil, errors.New(errors.ErrNotFound, fmt.Sprintf("chat session %d not found", id))
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "failed to get chat session", err)
	}
	return &cs, nil
}

// ListChatSessions returns sessions ordered by most recent activity.
func (s *Store) ListChatSessions(limit int) ([]*models.ChatSession, error) {
	rows, err := s.db.Query(`SELECT id, user_id, title, created_at, updated_at, last_sync, is_synced
							 FROM chat_sessions ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "failed to list chat sessions", err)
	}
	defer rows.Close()

	var sessions []*models.ChatSession
	for rows.Next() {
		var cs models.ChatSession
		if err := rows.Scan(&cs.ID, &cs.UserID, &cs.Title, &cs.CreatedAt, &cs.UpdatedAt, &cs.LastSync, &cs.IsSynced); err != nil {
			return nil, errors.Wrap(errors.ErrStorage, "failed to scan chat session", err)
		}
		sessions = append(sessions, &cs)
	}
	return sessions, rows.Err()
}

// =====================================================
// ChatMessage Operations
// =====================================================

// CreateChatMessage inserts a message and queues it for upload.
func (s *Store) CreateChatMessage(m *models.ChatMessage) error {
	now := s.now().Unix()
	m.CreatedAt, m.UpdatedAt = now, now
	m.IsSynced = false

	return s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`INSERT INTO chat_messages (session_id, sender, body, created_at, updated_at, last_sync, is_synced)
							 VALUES (?, ?, ?, ?, ?, 0, 0)`,
			m.SessionID, m.Sender, m.Body, m.CreatedAt, m.UpdatedAt)
		if err != nil {
			return errors.Wrap(errors.ErrStorage, "failed to insert chat message", err)
		}
		m.ID, err = res.LastInsertId()
		if err != nil {
			return errors.Wrap(errors.ErrStorage, "failed to read insert id", err)
		}
		return s.enqueue(tx, models.KindChatMessage, m.ID, models.OpInsert, m)
	})
}

// UpdateChatMessage updates a message body and queues the change.
func (s *Store) UpdateChatMessage(m *models.ChatMessage) error {
	m.UpdatedAt = s.now().Unix()
	m.IsSynced = false

	return s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`UPDATE chat_messages SET session_id = ?, sender = ?, body = ?, updated_at = ?, is_synced = 0 WHERE id = ?`,
			m.SessionID, m.Sender, m.Body, m.UpdatedAt, m.ID)
		if err != nil {
			return errors.Wrap(errors.ErrStorage, "failed to update chat message", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errors.New(errors.ErrNotFound, fmt.Sprintf("chat message %d not found", m.ID))
		}
		return s.enqueue(tx, models.KindChatMessage, m.ID, models.OpUpdate, m)
	})
}

// DeleteChatMessage removes a message locally and queues the delete.
func (s *Store) DeleteChatMessage(id int64) error {
	return s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`DELETE FROM chat_messages WHERE id = ?`, id)
		if err != nil {
			return errors.Wrap(errors.ErrStorage, "failed to delete chat message", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errors.New(errors.ErrNotFound, fmt.Sprintf("chat message %d not found", id))
		}
		return s.enqueue(tx, models.KindChatMessage, id, models.OpDelete, nil)
	})
}

// ListChatMessages returns the messages of a session in send order.
func (s *Store) ListChatMessages(sessionID int64, limit int) ([]*models.ChatMessage, error) {
	rows, err := s.db.Query(`SELECT id, session_id, sender, body, created_at, updated_at, last_sync, is_synced
							 FROM chat_messages WHERE session_id = ? ORDER BY id ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "failed to list chat messages", err)
	}
	defer rows.Close()

	var msgs []*models.ChatMessage
	for rows.Next() {
		var m models.ChatMessage
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Sender, &m.Body, &m.CreatedAt, &m.UpdatedAt, &m.LastSync, &m.IsSynced); err != nil {
			return nil, errors.Wrap(errors.ErrStorage, "failed to scan chat message", err)
		}
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

// =====================================================
// Invoice Operations
// =====================================================

// CreateInvoice inserts an invoice and queues it for upload.
func (s *Store) CreateInvoice(inv *models.Invoice) error {
	now := s.now().Unix()
	inv.CreatedAt, inv.UpdatedAt = now, now
	inv.IsSynced = false
	if inv.Status == "" {
		inv.Status = models.InvoiceStatusDraft
	}
	if inv.Currency == "" {
		inv.Currency = "USD"
	}

	return s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`INSERT INTO invoices (user_id, customer, amount, currency, status, notes, issued_at, created_at, updated_at, last_sync, is_synced)
							 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0)`,
			inv.UserID, inv.Customer, inv.Amount, inv.Currency, inv.Status, inv.Notes, inv.IssuedAt, inv.CreatedAt, inv.UpdatedAt)
		if err != nil {
			return errors.Wrap(errors.ErrStorage, "failed to insert invoice", err)
		}
		inv.ID, err = res.LastInsertId()
		if err != nil {
			return errors.Wrap(errors.ErrStorage, "failed to read insert id", err)
		}
		return s.enqueue(tx, models.KindInvoice, inv.ID, models.OpInsert, inv)
	})
}

// UpdateInvoice updates an invoice, marks it dirty and queues the change.
func (s *Store) UpdateInvoice(inv *models.Invoice) error {
	inv.UpdatedAt = s.now().Unix()
	inv.IsSynced = false

	return s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`UPDATE invoices SET user_id = ?, customer = ?, amount = ?, currency = ?, status = ?, notes = ?, issued_at = ?, updated_at = ?, is_synced = 0
							 WHERE id = ?`,
			inv.UserID, inv.Customer, inv.Amount, inv.Currency, inv.Status, inv.Notes, inv.IssuedAt, inv.UpdatedAt, inv.ID)
		if err != nil {
			return errors.Wrap(errors.ErrStorage, "failed to update invoice", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errors.New(errors.ErrNotFound, fmt.Sprintf("invoice %d not found", inv.ID))
		}
		return s.enqueue(tx, models.KindInvoice, inv.ID, models.OpUpdate, inv)
	})
}

// DeleteInvoice removes an invoice locally and queues the delete.
func (s *Store) DeleteInvoice(id int64) error {
	return s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`DELETE FROM invoices WHERE id = ?`, id)
		if err != nil {
			return errors.Wrap(errors.ErrStorage, "failed to delete invoice", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errors.New(errors.ErrNotFound, fmt.Sprintf("invoice %d not found", id))
		}
		return s.enqueue(tx, models.KindInvoice, id, models.OpDelete, nil)
	})
}

// GetInvoice retrieves an invoice by ID.
func (s *Store) GetInvoice(id int64) (*models.Invoice, error) {
	var inv models.Invoice
	err := s.db.QueryRow(`SELECT id, user_id, customer, amount, currency, status, notes, issued_at, created_at, updated_at, last_sync, is_synced
						  FROM invoices WHERE id = ?`, id).
		Scan(&inv.ID, &inv.UserID, &inv.Customer, &inv.Amount, &inv.Currency, &inv.Status, &inv.Notes,
			&inv.IssuedAt, &inv.CreatedAt, &inv.UpdatedAt, &inv.LastSync, &inv.IsSynced)
	if err == sql.ErrNoRows {
		return nil, errors.New(errors.ErrNotFound, fmt.Sprintf("invoice %d not found", id))
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "failed to get invoice", err)
	}
	return &inv, nil
}

// ListInvoices returns invoices ordered by most recent change.
func (s *Store) ListInvoices(limit, offset int) ([]*models.Invoice, error) {
	rows, err := s.db.Query(`SELECT id, user_id, customer, amount, currency, status, notes, issued_at, created_at, updated_at, last_sync, is_synced
							 FROM invoices ORDER BY updated_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "failed to list invoices", err)
	}
	defer rows.Close()

	var invoices []*models.Invoice
	for rows.Next() {
		var inv models.Invoice
		if err := rows.Scan(&inv.ID, &inv.UserID, &inv.Customer, &inv.Amount, &inv.Currency, &inv.Status, &inv.Notes,
			&inv.IssuedAt, &inv.CreatedAt, &inv.UpdatedAt, &inv.LastSync, &inv.IsSynced); err != nil {
			return nil, errors.Wrap(errors.ErrStorage, "failed to scan invoice", err)
		}
		invoices = append(invoices, &inv)
	}
	return invoices, rows.Err()
}

// =====================================================
// QueryLog Operations
// =====================================================

// CreateQueryLog appends a query log entry and queues it for upload. The
// query log is append-only; it is never updated locally.
func (s *Store) CreateQueryLog(q *models.QueryLog) error {
	now := s.now().Unix()
	q.CreatedAt, q.UpdatedAt = now, now
	q.IsSynced = false

	return s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`INSERT INTO query_logs (user_id, query, created_at, updated_at, last_sync, is_synced)
							 VALUES (?, ?, ?, ?, 0, 0)`,
			q.UserID, q.Query, q.CreatedAt, q.UpdatedAt)
		if err != nil {
			return errors.Wrap(errors.ErrStorage, "failed to insert query log", err)
		}
		q.ID, err = res.LastInsertId()
		if err != nil {
			return errors.Wrap(errors.ErrStorage, "failed to read insert id", err)
		}
		return s.enqueue(tx, models.KindQueryLog, q.ID, models.OpInsert, q)
	})
}

// ListQueryLogs returns the most recent query log entries.
func (s *Store) ListQueryLogs(limit int) ([]*models.QueryLog, error) {
	rows, err := s.db.Query(`SELECT id, user_id, query, created_at, updated_at, last_sync, is_synced
							 FROM query_logs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "failed to list query logs", err)
	}
	defer rows.Close()

	var logs []*models.QueryLog
	for rows.Next() {
		var q models.QueryLog
		if err := rows.Scan(&q.ID, &q.UserID, &q.Query, &q.CreatedAt, &q.UpdatedAt, &q.LastSync, &q.IsSynced); err != nil {
			return nil, errors.Wrap(errors.ErrStorage, "failed to scan query log", err)
		}
		logs = append(logs, &q)
	}
	return logs, rows.Err()
}
