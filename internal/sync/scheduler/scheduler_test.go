// Package scheduler tests for the automatic sync triggers.
package scheduler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"ledgersync/internal/db"
	"ledgersync/internal/netmon"
	syncpkg "ledgersync/internal/sync"
)

func newTestEngine(t *testing.T, calls *atomic.Int64) *syncpkg.Engine {
	t.Helper()

	database, err := db.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.NewMigrator(database.DB).Up(); err != nil {
		t.Fatalf("Up() error = %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"data":[]}`))
	}))
	t.Cleanup(srv.Close)

	store := db.NewStore(database)
	client := syncpkg.NewClient(srv.URL, 5*time.Second, nil)
	engine, err := syncpkg.NewEngine(store, client, syncpkg.NewBroadcaster(), syncpkg.DefaultConfig())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return engine
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

// TestScheduler_onlineEdgeTriggersSync verifies an offline-to-online
// transition starts a pass without waiting for the timer.
func TestScheduler_onlineEdgeTriggersSync(t *testing.T) {
	var calls atomic.Int64
	engine := newTestEngine(t, &calls)

	monitor := netmon.New(func(ctx context.Context) bool { return false }, time.Hour)
	monitor.Set(false)

	s := New(engine, monitor, time.Hour)
	s.Start(context.Background())
	defer s.Stop()

	if !s.IsRunning() {
		t.Fatal("IsRunning() = false after Start")
	}
	if calls.Load() != 0 {
		t.Errorf("sync ran while offline, %d calls", calls.Load())
	}

	monitor.Set(true)
	waitFor(t, func() bool { return calls.Load() > 0 })
}

// TestScheduler_offlineSuppressesTicker verifies periodic triggers skip
// while the engine is offline.
func TestScheduler_offlineSuppressesTicker(t *testing.T) {
	var calls atomic.Int64
	engine := newTestEngine(t, &calls)

	monitor := netmon.New(func(ctx context.Context) bool { return false }, time.Hour)
	monitor.Set(false)

	s := New(engine, monitor, 20*time.Millisecond)
	s.Start(context.Background())
	defer s.Stop()

	time.Sleep(100 * time.Millisecond)
	if calls.Load() != 0 {
		t.Errorf("offline ticker made %d network calls, want 0", calls.Load())
	}
}

// TestScheduler_periodicTrigger verifies the background timer fires passes
// while online.
func TestScheduler_periodicTrigger(t *testing.T) {
	var calls atomic.Int64
	engine := newTestEngine(t, &calls)

	monitor := netmon.New(func(ctx context.Context) bool { return true }, time.Hour)
	monitor.Set(true)

	s := New(engine, monitor, 20*time.Millisecond)
	s.Start(context.Background())
	defer s.Stop()

	waitFor(t, func() bool { return calls.Load() > 0 })
}

// TestScheduler_startStopIdempotent verifies double Start and double Stop
// are safe.
func TestScheduler_startStopIdempotent(t *testing.T) {
	var calls atomic.Int64
	engine := newTestEngine(t, &calls)

	monitor := netmon.New(func(ctx context.Context) bool { return true }, time.Hour)
	monitor.Set(true)

	s := New(engine, monitor, time.Hour)
	ctx := context.Background()
	s.Start(ctx)
	s.Start(ctx)
	s.Stop()
	s.Stop()

	if s.IsRunning() {
		t.Error("IsRunning() = true after Stop")
	}
}
