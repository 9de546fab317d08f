package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/syncpoint/internal/daemon"
	spsync "github.com/steveyegge/syncpoint/internal/sync"
	"github.com/steveyegge/syncpoint/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Run one sync in the foreground",
	Long: `Run one sync execution over every resource in the manifest.

Each round merges the pending request of every resource into a single
GraphQL call. Resources that report another page take part in the next
round; the execution ends when none do. Cursors and records are saved as
each page arrives, so an interrupted sync resumes where it stopped.

Exits non-zero when the execution needs a retry.`,
	Run: func(cmd *cobra.Command, args []string) {
		m := loadManifest()
		database := openStore()
		defer database.Close()

		coord := newCoordinator()
		defer coord.Close()
		registerManifest(coord, m, database)

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		fmt.Printf("%s Syncing %d resources from %s...\n", ui.RenderAccent("🔄"), len(m.Resources), cfg.Endpoint)

		out, err := coord.Sync(ctx)
		if err != nil {
			fatalf("sync interrupted: %v", err)
		}

		if err := database.RecordRun(context.Background(), daemon.RunRecord(out)); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to record run: %v\n", err)
		}

		printOutcome(out)

		counts, err := database.CountRecords(context.Background())
		if err == nil && len(counts) > 0 {
			fmt.Println("\nRecords:")
			for _, name := range m.Names() {
				fmt.Printf("   %s: %d\n", name, counts[name])
			}
		}
		fmt.Printf("\nCache: %s\n", cfg.Database)

		if !out.Succeeded() {
			closeLogger()
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

func printOutcome(out spsync.Outcome) {
	if out.Succeeded() {
		fmt.Printf("%s Sync complete in %v (%d rounds)\n",
			ui.RenderPass("✓"), out.Duration().Round(time.Millisecond), out.Rounds)
	} else {
		fmt.Printf("%s Sync needs retry after %d rounds: %v\n",
			ui.RenderWarn("⚠"), out.Rounds, out.Err)
	}

	names := make([]string, 0, len(out.Participants))
	for name := range out.Participants {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("   %s: %s\n", name, ui.RenderStatus(string(out.Participants[name])))
	}
}
