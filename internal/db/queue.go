// Package db: sync queue and dead-letter persistence.
package db

import (
	"database/sql"
	"fmt"
	"time"

	"ledgersync/internal/errors"
	"ledgersync/internal/models"
)

// PendingQueue returns queue entries in FIFO order, capped at limit so one
// sync pass never turns into an unbounded network burst.
func (s *Store) PendingQueue(limit int) ([]*models.SyncQueueEntry, error) {
	rows, err := s.db.Query(`SELECT id, event_id, table_name, record_id, operation, payload, retry_count, created_at
							 FROM sync_queue ORDER BY id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "failed to read sync queue", err)
	}
	defer rows.Close()

	var entries []*models.SyncQueueEntry
	for rows.Next() {
		entry, err := scanQueueEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func scanQueueEntry(rows *sql.Rows) (*models.SyncQueueEntry, error) {
	var e models.SyncQueueEntry
	var op string
	var payload []byte
	if err := rows.Scan(&e.ID, &e.EventID, &e.TableName, &e.RecordID, &op, &payload, &e.RetryCount, &e.CreatedAt); err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "failed to scan queue entry", err)
	}
	e.Operation = models.Operation(op)
	e.Payload = payload
	return &e, nil
}

// RemoveQueueEntry deletes a queue entry. Idempotent: removing an entry that
// is already gone is not an error.
func (s *Store) RemoveQueueEntry(id int64) error {
	if _, err := s.db.Exec(`DELETE FROM sync_queue WHERE id = ?`, id); err != nil {
		return errors.Wrap(errors.ErrStorage, "failed to remove queue entry", err)
	}
	return nil
}

// IncrementRetry bumps the retry counter of a queue entry. Idempotent on a
// missing entry.
func (s *Store) IncrementRetry(id int64) error {
	if _, err := s.db.Exec(`UPDATE sync_queue SET retry_count = retry_count + 1 WHERE id = ?`, id); err != nil {
		return errors.Wrap(errors.ErrStorage, "failed to increment retry count", err)
	}
	return nil
}

// QueueCount returns the number of pending queue entries.
func (s *Store) QueueCount() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sync_queue`).Scan(&n); err != nil {
		return 0, errors.Wrap(errors.ErrStorage, "failed to count queue entries", err)
	}
	return n, nil
}

// CompleteQueueEntry finalizes a successfully uploaded entry: the queue row
// is deleted and, for non-DELETE operations, the source record is stamped
// as reconciled. Both happen in one transaction.
func (s *Store) CompleteQueueEntry(entry *models.SyncQueueEntry, syncTime time.Time) error {
	return s.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM sync_queue WHERE id = ?`, entry.ID); err != nil {
			return errors.Wrap(errors.ErrStorage, "failed to remove queue entry", err)
		}
		if entry.Operation == models.OpDelete {
			return nil
		}
		kind, ok := entry.Kind()
		if !ok {
			return errors.New(errors.ErrInvalid, "queue entry for unknown table "+entry.TableName)
		}
		query := fmt.Sprintf("UPDATE %s SET is_synced = 1, last_sync = ? WHERE id = ?", kind.Table())
		if _, err := tx.Exec(query, syncTime.Unix(), entry.RecordID); err != nil {
			return errors.Wrap(errors.ErrStorage, "failed to mark record synced", err)
		}
		return nil
	})
}

// MoveToDeadLetter moves an exhausted queue entry into the dead_letter table
// in one transaction, keeping it recoverable by an operator instead of
// dropping it.
func (s *Store) MoveToDeadLetter(entry *models.SyncQueueEntry, lastError string) error {
	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO dead_letter (event_id, table_name, record_id, operation, payload, retry_count, last_error, created_at, failed_at)
						   VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			entry.EventID, entry.TableName, entry.RecordID, string(entry.Operation), []byte(entry.Payload),
			entry.RetryCount, lastError, entry.CreatedAt, s.now().Unix())
		if err != nil {
			return errors.Wrap(errors.ErrStorage, "failed to insert dead letter", err)
		}
		if _, err := tx.Exec(`DELETE FROM sync_queue WHERE id = ?`, entry.ID); err != nil {
			return errors.Wrap(errors.ErrStorage, "failed to remove exhausted queue entry", err)
		}
		return nil
	})
}

// SweepExhausted moves any queue entry already past the retry ceiling into
// the dead_letter table. This is the safety net for entries that were added
// but never drained by a pass.
func (s *Store) SweepExhausted(maxRetries int) (int, error) {
	rows, err := s.db.Query(`SELECT id, event_id, table_name, record_id, operation, payload, retry_count, created_at
							 FROM sync_queue WHERE retry_count >= ? ORDER BY id ASC`, maxRetries)
	if err != nil {
		return 0, errors.Wrap(errors.ErrStorage, "failed to find exhausted entries", err)
	}

	var exhausted []*models.SyncQueueEntry
	for rows.Next() {
		entry, err := scanQueueEntry(rows)
		if err != nil {
			rows.Close()
			return 0, err
		}
		exhausted = append(exhausted, entry)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, errors.Wrap(errors.ErrStorage, "failed to iterate exhausted entries", err)
	}

	for _, entry := range exhausted {
		if err := s.MoveToDeadLetter(entry, "retry ceiling reached before drain"); err != nil {
			return 0, err
		}
	}
	return len(exhausted), nil
}

// PurgeDeadLetters deletes dead letters that failed before the cutoff.
func (s *Store) PurgeDeadLetters(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM dead_letter WHERE failed_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, errors.Wrap(errors.ErrStorage, "failed to purge dead letters", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ListDeadLetters returns the most recent dead letters for inspection.
func (s *Store) ListDeadLetters(limit int) ([]*models.DeadLetter, error) {
	rows, err := s.db.Query(`SELECT id, event_id, table_name, record_id, operation, payload, retry_count, last_error, created_at, failed_at
							 FROM dead_letter ORDER BY failed_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "failed to list dead letters", err)
	}
	defer rows.Close()

	var letters []*models.DeadLetter
	for rows.Next() {
		var d models.DeadLetter
		var op string
		var payload []byte
		if err := rows.Scan(&d.ID, &d.EventID, &d.TableName, &d.RecordID, &op, &payload, &d.RetryCount, &d.LastError, &d.CreatedAt, &d.FailedAt); err != nil {
			return nil, errors.Wrap(errors.ErrStorage, "failed to scan dead letter", err)
		}
		d.Operation = models.Operation(op)
		d.Payload = payload
		letters = append(letters, &d)
	}
	return letters, rows.Err()
}

// DeadLetterCount returns the number of dead letters on hand.
func (s *Store) DeadLetterCount() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM dead_letter`).Scan(&n); err != nil {
		return 0, errors.Wrap(errors.ErrStorage, "failed to count dead letters", err)
	}
	return n, nil
}
