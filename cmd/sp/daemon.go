package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/syncpoint/internal/daemon"
	"github.com/steveyegge/syncpoint/internal/dashboard"
	"github.com/steveyegge/syncpoint/internal/metrics"
	"github.com/steveyegge/syncpoint/internal/schedule"
	"github.com/steveyegge/syncpoint/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Sync periodically in the foreground",
	Long: `Run the sync daemon in the foreground until interrupted.

The daemon will:
  1. Sync every resource in the manifest right away
  2. Sync again every interval, skipping ticks while the endpoint is unreachable
  3. Retry sooner with exponential backoff after a sync that needs a retry
  4. Register resources added to the manifest while it runs
  5. Serve the dashboard when --dashboard is set

For production use, run the daemon under a process manager.`,
	Run: func(cmd *cobra.Command, args []string) {
		withDashboard, _ := cmd.Flags().GetBool("dashboard")
		if cmd.Flags().Changed("port") {
			cfg.Dashboard.Port, _ = cmd.Flags().GetInt("port")
		}
		if cmd.Flags().Changed("interval") {
			cfg.Interval, _ = cmd.Flags().GetDuration("interval")
		}

		database := openStore()
		defer database.Close()

		coord := newCoordinator()

		connected, err := schedule.Reachable(cfg.Endpoint, 5*time.Second)
		if err != nil {
			fatalf("%v", err)
		}

		m := metrics.New()
		config := &daemon.Config{
			ManifestPath:     cfg.Manifest,
			Interval:         cfg.Interval,
			DebounceInterval: 100 * time.Millisecond,
			InitialBackoff:   cfg.Backoff.Initial,
			MaxBackoff:       cfg.Backoff.Max,
			Connected:        connected,
			Metrics:          m,
			Logger:           logger,
		}
		if withDashboard {
			config.Dashboard = dashboard.NewServer(&dashboard.Config{
				Port:    cfg.Dashboard.Port,
				Syncer:  coord,
				Metrics: m.Handler(),
				Logger:  logger,
			})
		}

		d, err := daemon.NewWithConfig(database, coord, config)
		if err != nil {
			fatalf("creating daemon: %v", err)
		}

		fmt.Printf("%s Starting sync daemon...\n", ui.RenderAccent("🚀"))
		fmt.Printf("   Endpoint: %s\n", cfg.Endpoint)
		fmt.Printf("   Manifest: %s\n", cfg.Manifest)
		fmt.Printf("   Interval: %s\n", cfg.Interval)
		fmt.Printf("   Cache: %s\n", cfg.Database)
		if withDashboard {
			fmt.Printf("   Dashboard: http://localhost:%d\n", cfg.Dashboard.Port)
		}
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		// Start blocks until the signal.
		if err := d.Start(ctx); err != nil {
			fatalf("daemon stopped with error: %v", err)
		}
		fmt.Println("Daemon stopped")
	},
}

func init() {
	daemonCmd.Flags().Bool("dashboard", false, "Serve the dashboard")
	daemonCmd.Flags().IntP("port", "p", 8080, "Dashboard port (default from dashboard.port)")
	daemonCmd.Flags().Duration("interval", time.Hour, "Sync interval (default from interval)")
	rootCmd.AddCommand(daemonCmd)
}
