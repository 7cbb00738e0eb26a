// Package scheduler wires the sync engine to its automatic triggers: the
// connectivity monitor's online edge and a periodic background timer.
package scheduler

import (
	"context"
	"sync"
	"time"

	"ledgersync/internal/logging"
	"ledgersync/internal/netmon"
	syncpkg "ledgersync/internal/sync"
)

// Scheduler owns the background trigger loop.
type Scheduler struct {
	engine   *syncpkg.Engine
	monitor  *netmon.Monitor
	interval time.Duration

	mu        sync.Mutex
	isRunning bool
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// New creates a Scheduler. interval is the periodic background nudge; the
// connectivity edge remains the primary trigger.
func New(engine *syncpkg.Engine, monitor *netmon.Monitor, interval time.Duration) *Scheduler {
	return &Scheduler{
		engine:   engine,
		monitor:  monitor,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the trigger loop. Calling Start on a running scheduler is
// a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	transitions, cancel := s.monitor.Subscribe()
	s.engine.SetOnline(s.monitor.Online())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case online, ok := <-transitions:
				if !ok {
					return
				}
				s.engine.SetOnline(online)
				if online {
					// Edge-triggered: coming back online starts a pass
					// immediately instead of waiting for the timer.
					go s.engine.TrySync(ctx)
				}
			case <-ticker.C:
				if s.engine.Syncing() {
					logging.Debug("periodic trigger skipped, sync in progress", nil)
					continue
				}
				go s.engine.TrySync(ctx)
			}
		}
	}()

	logging.Info("sync scheduler started", logging.Fields{"interval": s.interval.String()})
}

// Stop halts the trigger loop. An in-flight pass is not interrupted.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	logging.Info("sync scheduler stopped", nil)
}

// IsRunning reports whether the trigger loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}
