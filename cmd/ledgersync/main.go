package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"ledgersync/internal/app"
	"ledgersync/internal/config"
	"ledgersync/internal/db"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// defaultPaths resolves the per-user config and data locations.
func defaultPaths() (confPath, dataDir string, err error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", "", fmt.Errorf("resolving config dir: %w", err)
	}
	return filepath.Join(base, "ledgersync", "config.toml"),
		filepath.Join(base, "ledgersync", "data"), nil
}

// loadConfig reads the config from --config or the default location.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		defPath, _, err := defaultPaths()
		if err != nil {
			return nil, err
		}
		path = defPath
	}
	cfg, err := config.ReadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

var rootCmd = &cobra.Command{
	Use:   "ledgersync",
	Short: "Offline-first sync daemon for the local ledger database",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		remote, _ := cmd.Flags().GetString("remote")

		defPath, dataDir, err := defaultPaths()
		if err != nil {
			return err
		}
		path := configPath
		if path == "" {
			path = defPath
		}

		cfg := config.Default(dataDir)
		cfg.Remote.BaseURL = remote

		if err := config.Init(path, cfg); err != nil {
			return fmt.Errorf("initializing config: %w", err)
		}

		fmt.Printf("Configuration written to %s\n", path)
		fmt.Printf("Data dir: %s\n", dataDir)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Data dir:      %s\n", cfg.DataDir)
		fmt.Printf("Listen addr:   %s\n", cfg.ListenAddr)
		fmt.Printf("Remote:        %s\n", cfg.Remote.BaseURL)
		fmt.Printf("Sync interval: %s\n", cfg.SyncInterval())
		fmt.Printf("Page size:     %d\n", cfg.Sync.PageSize)
		fmt.Printf("Max retries:   %d\n", cfg.Sync.MaxRetries)
		return nil
	},
}

// serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		a, err := app.New(cfg)
		if err != nil {
			return fmt.Errorf("initializing: %w", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		errCh := a.Start(ctx)

		select {
		case <-ctx.Done():
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("server failed: %w", err)
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.Shutdown(shutdownCtx)
	},
}

// sync command
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync pass and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		a, err := app.New(cfg)
		if err != nil {
			return fmt.Errorf("initializing: %w", err)
		}
		ctx := context.Background()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			a.Shutdown(shutdownCtx)
		}()

		result, err := a.Engine.ForceSync(ctx)
		if err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}
		if result == nil {
			fmt.Println("Sync already in progress.")
			return nil
		}

		fmt.Printf("Uploaded:     %d (failed %d, dead-lettered %d)\n",
			result.Uploaded, result.UploadFailed, result.DeadLettered)
		fmt.Printf("Downloaded:   %d (applied %d)\n", result.Downloaded, result.Applied)
		fmt.Printf("Duration:     %s\n", result.Duration().Truncate(time.Millisecond))
		return nil
	},
}

// status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		a, err := app.New(cfg)
		if err != nil {
			return fmt.Errorf("initializing: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			a.Shutdown(shutdownCtx)
		}()

		stats, err := a.Engine.Stats()
		if err != nil {
			return err
		}
		dirty, err := a.Store.DirtyCount()
		if err != nil {
			return err
		}

		fmt.Printf("Pending queue:  %d\n", stats.PendingCount)
		fmt.Printf("Dirty rows:     %d\n", dirty)
		fmt.Printf("Dead letters:   %d\n", stats.DeadLetterCount)
		fmt.Printf("Offline mode:   %v\n", stats.OfflineMode)
		if stats.LastSuccessful > 0 {
			fmt.Printf("Last success:   %s\n", time.Unix(stats.LastSuccessful, 0).Format("2006-01-02 15:04:05"))
		} else {
			fmt.Println("Last success:   never")
		}
		return nil
	},
}

// migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		database, err := db.Open(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer database.Close()

		migrator := db.NewMigrator(database.DB)
		if err := migrator.Initialize(); err != nil {
			return err
		}
		if err := migrator.Up(); err != nil {
			return err
		}

		version, err := migrator.CurrentVersion()
		if err != nil {
			return err
		}
		fmt.Printf("Schema at version %d\n", version)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configInitCmd.Flags().String("remote", "http://localhost:8080", "Remote API base URL")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(migrateCmd)
}
