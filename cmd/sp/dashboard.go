package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/steveyegge/syncpoint/internal/daemon"
	"github.com/steveyegge/syncpoint/internal/dashboard"
	"github.com/steveyegge/syncpoint/internal/metrics"
	spsync "github.com/steveyegge/syncpoint/internal/sync"
)

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	GroupID: "advanced",
	Short:   "Start the real-time WebSocket dashboard",
	Long: `Start a WebSocket dashboard server for monitoring syncs in real-time.

The dashboard runs its own coordinator over the manifest resources. It does
not sync on a schedule; POST /sync starts a sync, or joins the running one.

WebSocket messages include:
- status: sent on connect, with the last outcome and whether a sync is running
- sync_result: the outcome of every sync
- sync_update: a sync succeeded and the cache may hold new records

Example usage:
  sp dashboard                   # Start on the configured port (default 8080)
  sp dashboard --port 9000       # Start on custom port

Connect with a WebSocket client:
  ws://localhost:8080/ws

Trigger a sync:
  curl -X POST http://localhost:8080/sync`,
	Run: func(cmd *cobra.Command, args []string) {
		if cmd.Flags().Changed("port") {
			cfg.Dashboard.Port, _ = cmd.Flags().GetInt("port")
		}

		m := loadManifest()
		database := openStore()
		defer database.Close()

		coord := newCoordinator()
		defer coord.Close()
		registerManifest(coord, m, database)

		reg := metrics.New()
		if err := reg.TrackSyncing(coord.IsSyncing); err != nil {
			fatalf("%v", err)
		}

		server := dashboard.NewServer(&dashboard.Config{
			Port:    cfg.Dashboard.Port,
			Syncer:  coord,
			Metrics: reg.Handler(),
			Logger:  logger,
		})
		if err := server.Start(); err != nil {
			fatalf("failed to start dashboard: %v", err)
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		results, cancelResults := coord.Results().Subscribe(spsync.DefaultFeedBuffer)
		defer cancelResults()
		updates, cancelUpdates := coord.Updates().Subscribe(spsync.DefaultFeedBuffer)
		defer cancelUpdates()
		recorded, cancelRecorded := coord.Results().Subscribe(spsync.DefaultFeedBuffer)
		defer cancelRecorded()

		go dashboard.NewHandler(server, logger).Run(ctx, results, updates)
		go func() {
			for out := range recorded {
				reg.Observe(out)
				if err := database.RecordRun(context.Background(), daemon.RunRecord(out)); err != nil {
					fmt.Fprintf(os.Stderr, "Warning: failed to record run: %v\n", err)
				}
			}
		}()

		addr := server.GetAddr()
		fmt.Printf("Dashboard server started on http://%s\n", addr)
		fmt.Printf("WebSocket endpoint: ws://%s/ws\n", addr)
		fmt.Printf("Health check: http://%s/health\n", addr)
		fmt.Println("\nPress Ctrl+C to stop...")

		<-ctx.Done()

		fmt.Println("\nShutting down dashboard server...")
		if err := server.Stop(); err != nil {
			fatalf("during shutdown: %v", err)
		}

		fmt.Println("Dashboard server stopped")
	},
}

func init() {
	dashboardCmd.Flags().IntP("port", "p", 8080, "Port to listen on (default from dashboard.port)")
	rootCmd.AddCommand(dashboardCmd)
}
