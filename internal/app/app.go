// Package app is the composition root: it builds the full daemon from a
// Config and owns the component lifecycle. Construction is explicit and
// ordered; Shutdown tears everything down in reverse.
package app

import (
	"context"
	"time"

	"ledgersync/internal/config"
	"ledgersync/internal/crypto"
	"ledgersync/internal/db"
	"ledgersync/internal/errors"
	"ledgersync/internal/logging"
	"ledgersync/internal/netmon"
	"ledgersync/internal/server"
	"ledgersync/internal/sync"
	"ledgersync/internal/sync/scheduler"
)

// App holds the assembled daemon.
type App struct {
	Config    *config.Config
	DB        *db.DB
	Store     *db.Store
	Client    *sync.Client
	Bus       *sync.Broadcaster
	Engine    *sync.Engine
	Monitor   *netmon.Monitor
	Scheduler *scheduler.Scheduler
	Hub       *server.Hub
	Server    *server.Server

	forwardCancel []func()
}

// New assembles the daemon: open and migrate the database, then wire the
// store, sync engine, connectivity monitor, scheduler, and local API.
// Nothing is started; call Start.
func New(cfg *config.Config) (*App, error) {
	logging.Init(logging.Config{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})

	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "failed to open database", err)
	}

	migrator := db.NewMigrator(database.DB)
	if err := migrator.Initialize(); err != nil {
		database.Close()
		return nil, err
	}
	if err := migrator.Up(); err != nil {
		database.Close()
		return nil, err
	}

	store := db.NewStore(database)
	keyMaterial := crypto.MachineKey(cfg.DataDir)

	tokens := sync.TokenFunc(func() (string, bool) {
		token, ok, err := store.Credential(keyMaterial)
		if err != nil {
			logging.Error("failed to load credential", err, nil)
			return "", false
		}
		return token, ok
	})

	client := sync.NewClient(cfg.Remote.BaseURL, cfg.HTTPTimeout(), tokens)
	bus := sync.NewBroadcaster()

	engine, err := sync.NewEngine(store, client, bus, sync.Config{
		PageSize:      cfg.Sync.PageSize,
		MaxRetries:    cfg.Sync.MaxRetries,
		Retention:     time.Duration(cfg.Sync.RetentionDays) * 24 * time.Hour,
		InitialWindow: time.Duration(cfg.Sync.InitialWindowDays) * 24 * time.Hour,
	})
	if err != nil {
		database.Close()
		return nil, err
	}

	probeURLs := cfg.Remote.ProbeURLs
	if len(probeURLs) == 0 {
		probeURLs = []string{cfg.Remote.BaseURL + "/api/health"}
	}
	monitor := netmon.New(netmon.HTTPProbe(probeURLs, cfg.HTTPTimeout()), cfg.ProbeInterval())

	hub := server.NewHub()
	srv := server.New(cfg.ListenAddr, store, engine, hub, keyMaterial)

	return &App{
		Config:    cfg,
		DB:        database,
		Store:     store,
		Client:    client,
		Bus:       bus,
		Engine:    engine,
		Monitor:   monitor,
		Scheduler: scheduler.New(engine, monitor, cfg.SyncInterval()),
		Hub:       hub,
		Server:    srv,
	}, nil
}

// Start launches the monitor, scheduler, event forwarding, and local API
// server. The server runs in the background; errors land in the returned
// channel.
func (a *App) Start(ctx context.Context) <-chan error {
	a.Monitor.Start(ctx)
	a.Scheduler.Start(ctx)
	a.forwardEvents(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Server.Start()
	}()

	logging.Info("ledgersync started", logging.Fields{
		"listen":   a.Config.ListenAddr,
		"remote":   a.Config.Remote.BaseURL,
		"data_dir": a.Config.DataDir,
	})
	return errCh
}

// forwardEvents bridges the status stream and connectivity transitions onto
// the WebSocket hub so UI clients see them live.
func (a *App) forwardEvents(ctx context.Context) {
	statusCh, cancelStatus := a.Bus.Subscribe()
	onlineCh, cancelOnline := a.Monitor.Subscribe()
	a.forwardCancel = append(a.forwardCancel, cancelStatus, cancelOnline)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case status, ok := <-statusCh:
				if !ok {
					return
				}
				a.Hub.Broadcast(server.EventSyncStatus, map[string]any{"status": string(status)})
				if status == sync.StatusSuccess || status == sync.StatusFailed {
					if result := a.Engine.LastResult(); result != nil {
						a.Hub.Broadcast(server.EventSyncResult, map[string]any{
							"uploaded":      result.Uploaded,
							"upload_failed": result.UploadFailed,
							"dead_lettered": result.DeadLettered,
							"downloaded":    result.Downloaded,
							"applied":       result.Applied,
							"duration_ms":   result.Duration().Milliseconds(),
						})
					}
				}
			case online, ok := <-onlineCh:
				if !ok {
					return
				}
				a.Hub.Broadcast(server.EventConnectivity, map[string]any{"online": online})
			}
		}
	}()
}

// Shutdown stops components in reverse construction order. An in-flight sync
// pass is not interrupted; the scheduler stops feeding new ones.
func (a *App) Shutdown(ctx context.Context) error {
	var firstErr error

	if err := a.Server.Shutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	a.Hub.Close()
	a.Scheduler.Stop()
	a.Monitor.Stop()
	for _, cancel := range a.forwardCancel {
		cancel()
	}
	if err := a.DB.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	logging.Info("ledgersync stopped", nil)
	return firstErr
}
