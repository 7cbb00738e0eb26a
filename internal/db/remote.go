// Package db: applying downloaded remote records to the local store.
package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"ledgersync/internal/errors"
	"ledgersync/internal/models"
)

// ApplyRemote merges one downloaded record into the local store using
// last-writer-wins at whole-record granularity: if no local row exists the
// record is inserted as already synced; if one exists, the remote row
// replaces it only when its timestamp is strictly later. Returns whether the
// local store changed.
//
// A record that was dirtied locally and also changed remotely in the same
// window can have its local edits overwritten here when the remote timestamp
// is newer. That race is accepted; the queue entry still uploads the stale
// snapshot and the server applies its own ordering.
func (s *Store) ApplyRemote(kind models.Kind, payload []byte, syncTime time.Time) (bool, error) {
	switch kind {
	case models.KindUser:
		var u models.User
		if err := json.Unmarshal(payload, &u); err != nil {
			return false, errors.Wrap(errors.ErrValidation, "malformed remote user", err)
		}
		return s.applyRemoteRow(kind, u.ID, lwwTimestamp(u.UpdatedAt, u.CreatedAt), syncTime, func(tx *sql.Tx, exists bool) error {
			if exists {
				_, err := tx.Exec(`UPDATE users SET name = ?, email = ?, phone = ?, created_at = ?, updated_at = ?, last_sync = ?, is_synced = 1 WHERE id = ?`,
					u.Name, u.Email, u.Phone, u.CreatedAt, u.UpdatedAt, syncTime.Unix(), u.ID)
				return err
			}
			_, err := tx.Exec(`INSERT INTO users (id, name, email, phone, created_at, updated_at, last_sync, is_synced)
							   VALUES (?, ?, ?, ?, ?, ?, ?, 1)`,
				u.ID, u.Name, u.Email, u.Phone, u.CreatedAt, u.UpdatedAt, syncTime.Unix())
			return err
		})

	case models.KindChatSession:
		var cs models.ChatSession
		if err := json.Unmarshal(payload, &cs); err != nil {
			return false, errors.Wrap(errors.ErrValidation, "malformed remote chat session", err)
		}
		return s.applyRemoteRow(kind, cs.ID, lwwTimestamp(cs.UpdatedAt, cs.CreatedAt), syncTime, func(tx *sql.Tx, exists bool) error {
			if exists {
				_, err := tx.Exec(`UPDATE chat_sessions SET user_id = ?, title = ?, created_at = ?, updated_at = ?, last_sync = ?, is_synced = 1 WHERE id = ?`,
					cs.UserID, cs.Title, cs.CreatedAt, cs.UpdatedAt, syncTime.Unix(), cs.ID)
				return err
			}
			_, err := tx.Exec(`INSERT INTO chat_sessions (id, user_id, title, created_at, updated_at, last_sync, is_synced)
							   VALUES (?, ?, ?, ?, ?, ?, 1)`,
				cs.ID, cs.UserID, cs.Title, cs.CreatedAt, cs.UpdatedAt, syncTime.Unix())
			return err
		})

	case models.KindChatMessage:
		var m models.ChatMessage
		if err := json.Unmarshal(payload, &m); err != nil {
			return false, errors.Wrap(errors.ErrValidation, "malformed remote chat message", err)
		}
		return s.applyRemoteRow(kind, m.ID, lwwTimestamp(m.UpdatedAt, m.CreatedAt), syncTime, func(tx *sql.Tx, exists bool) error {
			if exists {
				_, err := tx.Exec(`UPDATE chat_messages SET session_id = ?, sender = ?, body = ?, created_at = ?, updated_at = ?, last_sync = ?, is_synced = 1 WHERE id = ?`,
					m.SessionID, m.Sender, m.Body, m.CreatedAt, m.UpdatedAt, syncTime.Unix(), m.ID)
				return err
			}
			_, err := tx.Exec(`INSERT INTO chat_messages (id, session_id, sender, body, created_at, updated_at, last_sync, is_synced)
							   VALUES (?, ?, ?, ?, ?, ?, ?, 1)`,
				m.ID, m.SessionID, m.Sender, m.Body, m.CreatedAt, m.UpdatedAt, syncTime.Unix())
			return err
		})

	case models.KindInvoice:
		var inv models.Invoice
		if err := json.Unmarshal(payload, &inv); err != nil {
			return false, errors.Wrap(errors.ErrValidation, "malformed remote invoice", err)
		}
		return s.applyRemoteRow(kind, inv.ID, lwwTimestamp(inv.UpdatedAt, inv.CreatedAt), syncTime, func(tx *sql.Tx, exists bool) error {
			if exists {
				_, err := tx.Exec(`UPDATE invoices SET user_id = ?, customer = ?, amount = ?, currency = ?, status = ?, notes = ?, issued_at = ?, created_at = ?, updated_at = ?, last_sync = ?, is_synced = 1 WHERE id = ?`,
					inv.UserID, inv.Customer, inv.Amount, inv.Currency, inv.Status, inv.Notes, inv.IssuedAt,
					inv.CreatedAt, inv.UpdatedAt, syncTime.Unix(), inv.ID)
				return err
			}
			_, err := tx.Exec(`INSERT INTO invoices (id, user_id, customer, amount, currency, status, notes, issued_at, created_at, updated_at, last_sync, is_synced)
							   VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
				inv.ID, inv.UserID, inv.Customer, inv.Amount, inv.Currency, inv.Status, inv.Notes,
				inv.IssuedAt, inv.CreatedAt, inv.UpdatedAt, syncTime.Unix())
			return err
		})

	case models.KindQueryLog:
		var q models.QueryLog
		if err := json.Unmarshal(payload, &q); err != nil {
			return false, errors.Wrap(errors.ErrValidation, "malformed remote query log", err)
		}
		return s.applyRemoteRow(kind, q.ID, lwwTimestamp(q.UpdatedAt, q.CreatedAt), syncTime, func(tx *sql.Tx, exists bool) error {
			if exists {
				_, err := tx.Exec(`UPDATE query_logs SET user_id = ?, query = ?, created_at = ?, updated_at = ?, last_sync = ?, is_synced = 1 WHERE id = ?`,
					q.UserID, q.Query, q.CreatedAt, q.UpdatedAt, syncTime.Unix(), q.ID)
				return err
			}
			_, err := tx.Exec(`INSERT INTO query_logs (id, user_id, query, created_at, updated_at, last_sync, is_synced)
							   VALUES (?, ?, ?, ?, ?, ?, 1)`,
				q.ID, q.UserID, q.Query, q.CreatedAt, q.UpdatedAt, syncTime.Unix())
			return err
		})
	}

	return false, errors.New(errors.ErrInvalid, fmt.Sprintf("unknown entity kind %d", int(kind)))
}

// applyRemoteRow runs the shared LWW decision for one record and calls
// upsert when the remote copy should land.
func (s *Store) applyRemoteRow(kind models.Kind, id int64, remoteTS int64, syncTime time.Time, upsert func(tx *sql.Tx, exists bool) error) (bool, error) {
	if id <= 0 {
		return false, errors.New(errors.ErrValidation, "remote record has no id")
	}

	var localUpdated, localCreated int64
	query := fmt.Sprintf("SELECT updated_at, created_at FROM %s WHERE id = ?", kind.Table())
	err := s.db.QueryRow(query, id).Scan(&localUpdated, &localCreated)

	exists := true
	switch {
	case err == sql.ErrNoRows:
		exists = false
	case err != nil:
		return false, errors.Wrap(errors.ErrStorage, "failed to read local record", err)
	}

	if exists && remoteTS <= lwwTimestamp(localUpdated, localCreated) {
		// Local copy is as new or newer; keep it.
		return false, nil
	}

	applyErr := s.withTx(func(tx *sql.Tx) error {
		if err := upsert(tx, exists); err != nil {
			return errors.Wrap(errors.ErrStorage, "failed to apply remote record", err)
		}
		return nil
	})
	if applyErr != nil {
		return false, applyErr
	}
	return true, nil
}

// lwwTimestamp picks updated_at, falling back to created_at when a record
// was never updated.
func lwwTimestamp(updated, created int64) int64 {
	if updated != 0 {
		return updated
	}
	return created
}
