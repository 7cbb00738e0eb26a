// Package sync: the sync orchestrator.
//
// The engine owns the sync state machine (idle, syncing, success, failed,
// offline) and runs bidirectional passes: drain the queue upload-first, then
// pull remote changes per table with last-writer-wins merge, then clean up.
// Exactly one pass runs at a time; concurrent triggers are silent no-ops.
package sync

import (
	"context"
	"fmt"
	"time"

	"ledgersync/internal/db"
	"ledgersync/internal/errors"
	"ledgersync/internal/logging"
	"ledgersync/internal/models"
	syncstd "sync"
)

// Config tunes one engine instance.
type Config struct {
	PageSize      int           // queue entries drained per pass
	MaxRetries    int           // upload attempts before dead-letter
	Retention     time.Duration // dead-letter retention
	InitialWindow time.Duration // download window when no prior sync exists
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		PageSize:      50,
		MaxRetries:    3,
		Retention:     7 * 24 * time.Hour,
		InitialWindow: 30 * 24 * time.Hour,
	}
}

// Result summarizes one completed pass.
type Result struct {
	StartedAt    time.Time
	FinishedAt   time.Time
	Initial      bool
	Uploaded     int
	UploadFailed int
	DeadLettered int
	Downloaded   int
	Applied      int
	Swept        int
	Purged       int64
}

// Duration returns the wall time of the pass.
func (r *Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Engine reconciles the local store with the remote API.
type Engine struct {
	store  *db.Store
	client *Client
	bus    *Broadcaster
	cfg    Config
	now    func() time.Time

	mu          syncstd.Mutex
	syncing     bool
	online      bool
	offlineMode bool
	lastResult  *Result
}

// NewEngine creates an Engine. The offline-mode flag is loaded from the
// settings table so a forced-offline choice survives restarts.
func NewEngine(store *db.Store, client *Client, bus *Broadcaster, cfg Config) (*Engine, error) {
	offlineMode, err := store.OfflineMode()
	if err != nil {
		return nil, err
	}
	e := &Engine{
		store:       store,
		client:      client,
		bus:         bus,
		cfg:         cfg,
		now:         time.Now,
		online:      true, // assume reachable until the monitor reports otherwise
		offlineMode: offlineMode,
	}
	if offlineMode {
		bus.Publish(StatusOffline)
	}
	return e, nil
}

// SetClock overrides the engine clock. Used by tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// SetOnline records a connectivity transition from the monitor. Going
// offline never interrupts an in-flight pass; the pass fails naturally at
// its next network call.
func (e *Engine) SetOnline(online bool) {
	e.mu.Lock()
	e.online = online
	syncing := e.syncing
	offlineMode := e.offlineMode
	e.mu.Unlock()

	if syncing {
		return
	}
	if !online || offlineMode {
		e.bus.Publish(StatusOffline)
	} else {
		e.bus.Publish(StatusIdle)
	}
}

// Online reports whether the engine may reach the network right now.
func (e *Engine) Online() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.online && !e.offlineMode
}

// Syncing reports whether a pass is in flight.
func (e *Engine) Syncing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.syncing
}

// SetOfflineMode persists the user's offline-mode choice. While enabled,
// automatic triggers are suppressed and ForceSync fails.
func (e *Engine) SetOfflineMode(enabled bool) error {
	if err := e.store.SetOfflineMode(enabled); err != nil {
		return err
	}

	e.mu.Lock()
	e.offlineMode = enabled
	syncing := e.syncing
	online := e.online
	e.mu.Unlock()

	if syncing {
		return nil
	}
	if enabled || !online {
		e.bus.Publish(StatusOffline)
	} else {
		e.bus.Publish(StatusIdle)
	}
	return nil
}

// LastResult returns the most recent completed pass, or nil.
func (e *Engine) LastResult() *Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastResult
}

// ForceSync runs a pass on behalf of the user. It fails with SYNC_OFFLINE
// when the engine is offline and propagates pass errors so the UI can offer
// a retry. A pass already in flight absorbs the call silently.
func (e *Engine) ForceSync(ctx context.Context) (*Result, error) {
	return e.Sync(ctx)
}

// TrySync runs a pass on behalf of an automatic trigger. Failures are
// swallowed here; they remain observable through the status stream.
func (e *Engine) TrySync(ctx context.Context) {
	if !e.Online() {
		logging.Debug("skipping sync trigger while offline", nil)
		return
	}
	if _, err := e.Sync(ctx); err != nil {
		logging.Error("background sync failed", err, nil)
	}
}

// Sync runs one bidirectional pass: upload the queue, download per-table
// changes, clean up, stamp settings. Returns (nil, nil) when another pass
// already holds the guard.
func (e *Engine) Sync(ctx context.Context) (*Result, error) {
	if !e.Online() {
		return nil, errors.New(errors.ErrSyncOffline, "cannot sync while offline")
	}

	e.mu.Lock()
	if e.syncing {
		e.mu.Unlock()
		logging.Debug("sync already in progress, trigger coalesced", nil)
		return nil, nil
	}
	e.syncing = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.syncing = false
		e.mu.Unlock()
	}()

	e.bus.Publish(StatusSyncing)

	result, err := e.pass(ctx)
	result.FinishedAt = e.now()

	e.mu.Lock()
	e.lastResult = result
	e.mu.Unlock()

	if err != nil {
		e.bus.Publish(StatusFailed)
		e.settle()
		logging.Error("sync pass failed", err, logging.Fields{
			"uploaded":   result.Uploaded,
			"downloaded": result.Downloaded,
		})
		return result, err
	}

	e.bus.Publish(StatusSuccess)
	e.settle()
	logging.Info("sync pass completed", logging.Fields{
		"initial":       result.Initial,
		"uploaded":      result.Uploaded,
		"upload_failed": result.UploadFailed,
		"dead_lettered": result.DeadLettered,
		"downloaded":    result.Downloaded,
		"applied":       result.Applied,
		"duration_ms":   result.Duration().Milliseconds(),
	})
	return result, nil
}

// settle moves the observable state back to its steady value after a pass.
func (e *Engine) settle() {
	if e.Online() {
		e.bus.Publish(StatusIdle)
	} else {
		e.bus.Publish(StatusOffline)
	}
}

func (e *Engine) pass(ctx context.Context) (*Result, error) {
	started := e.now()
	result := &Result{StartedAt: started, FinishedAt: started}

	_, hasFullSync, err := e.store.Setting(models.SettingLastFullSync)
	if err != nil {
		return result, err
	}
	result.Initial = !hasFullSync

	// A first-ever run is a pure download; there is nothing reconciled yet
	// and the queue drains on the next pass.
	if !result.Initial {
		if err := e.uploadPhase(ctx, result); err != nil {
			return result, err
		}
	}

	since := started.Add(-e.cfg.InitialWindow)
	if last, ok, err := e.store.TimeSetting(models.SettingLastSyncTimestamp); err != nil {
		return result, err
	} else if ok {
		since = last
	}

	if err := e.downloadPhase(ctx, since, result); err != nil {
		return result, err
	}

	if err := e.cleanup(result); err != nil {
		return result, err
	}

	now := e.now()
	if err := e.store.SetTimeSetting(models.SettingLastSyncTimestamp, now); err != nil {
		return result, err
	}
	if result.Initial {
		if err := e.store.SetTimeSetting(models.SettingLastFullSync, now); err != nil {
			return result, err
		}
	}
	if err := e.store.SetTimeSetting(models.SettingLastSuccessful, now); err != nil {
		return result, err
	}

	return result, nil
}

// uploadPhase drains the queue in FIFO order, one entry at a time so an
// UPDATE never overtakes the INSERT that created its record. A failed entry
// is retried on later passes until the ceiling, then moved to dead_letter;
// per-entry failures do not abort the pass.
func (e *Engine) uploadPhase(ctx context.Context, result *Result) error {
	entries, err := e.store.PendingQueue(e.cfg.PageSize)
	if err != nil {
		return err
	}

	syncTime := e.now()
	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return errors.Wrap(errors.ErrSyncFailed, "upload phase interrupted", ctx.Err())
		default:
		}

		uploadErr := e.client.Upload(ctx, entry)
		if uploadErr == nil {
			if err := e.store.CompleteQueueEntry(entry, syncTime); err != nil {
				return err
			}
			result.Uploaded++
			continue
		}

		result.UploadFailed++
		entry.RetryCount++
		if entry.RetryCount >= e.cfg.MaxRetries {
			if err := e.store.MoveToDeadLetter(entry, uploadErr.Error()); err != nil {
				return err
			}
			result.DeadLettered++
			logging.Warn("queue entry exhausted retries, moved to dead letter", logging.Fields{
				"event_id": entry.EventID,
				"table":    entry.TableName,
				"record":   entry.RecordID,
				"op":       string(entry.Operation),
			})
			continue
		}

		if err := e.store.IncrementRetry(entry.ID); err != nil {
			return err
		}
		logging.Warn("upload failed, will retry", logging.Fields{
			"event_id": entry.EventID,
			"table":    entry.TableName,
			"retry":    entry.RetryCount,
			"error":    uploadErr.Error(),
		})
	}
	return nil
}

// downloadPhase pulls per-table changes since the last pass and merges them
// with last-writer-wins. A transport failure aborts the pass; uploads
// already committed stay committed.
func (e *Engine) downloadPhase(ctx context.Context, since time.Time, result *Result) error {
	syncTime := e.now()
	for _, kind := range models.Kinds() {
		records, err := e.client.Changes(ctx, kind, since)
		if err != nil {
			return errors.Wrap(errors.ErrSyncFailed, fmt.Sprintf("download of %s aborted", kind.Table()), err)
		}
		result.Downloaded += len(records)

		for _, record := range records {
			applied, err := e.store.ApplyRemote(kind, record, syncTime)
			if err != nil {
				if errors.Is(err, errors.ErrValidation) {
					logging.Warn("skipping malformed remote record", logging.Fields{
						"table": kind.Table(),
						"error": err.Error(),
					})
					continue
				}
				return err
			}
			if applied {
				result.Applied++
			}
		}
	}
	return nil
}

// cleanup runs the post-pass maintenance sweep: queue entries past the
// ceiling that never drained move to dead_letter, and dead letters past the
// retention window are purged.
func (e *Engine) cleanup(result *Result) error {
	swept, err := e.store.SweepExhausted(e.cfg.MaxRetries)
	if err != nil {
		return err
	}
	result.Swept = swept

	purged, err := e.store.PurgeDeadLetters(e.now().Add(-e.cfg.Retention))
	if err != nil {
		return err
	}
	result.Purged = purged
	return nil
}

// Stats assembles the on-demand sync statistics.
func (e *Engine) Stats() (*models.SyncStats, error) {
	pending, err := e.store.QueueCount()
	if err != nil {
		return nil, err
	}
	dead, err := e.store.DeadLetterCount()
	if err != nil {
		return nil, err
	}

	stats := &models.SyncStats{
		PendingCount:    pending,
		DeadLetterCount: dead,
		Online:          e.Online(),
		Syncing:         e.Syncing(),
		Status:          string(e.bus.Last()),
	}

	e.mu.Lock()
	stats.OfflineMode = e.offlineMode
	e.mu.Unlock()

	if last, ok, err := e.store.TimeSetting(models.SettingLastSuccessful); err != nil {
		return nil, err
	} else if ok {
		stats.LastSuccessful = last.Unix()
	}
	return stats, nil
}
