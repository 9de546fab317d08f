package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/syncpoint/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show cache status",
	Long: `Display the current status of the local cache.

Shows:
  - Cache file location and size
  - Number of records per resource
  - Stored cursors
  - Recent sync runs`,
	Run: func(cmd *cobra.Command, args []string) {
		runs, _ := cmd.Flags().GetInt("runs")

		info, err := os.Stat(cfg.Database)
		if os.IsNotExist(err) {
			fmt.Printf("\n%s Cache not initialized\n", ui.RenderWarn("⚠"))
			fmt.Printf("   Run 'sp sync' to create the cache\n\n")
			return
		}
		if err != nil {
			fatalf("checking cache: %v", err)
		}

		database := openStore()
		defer database.Close()
		ctx := context.Background()

		counts, err := database.CountRecords(ctx)
		if err != nil {
			fatalf("counting records: %v", err)
		}
		cursors, err := database.Cursors().List(ctx)
		if err != nil {
			fatalf("listing cursors: %v", err)
		}
		recent, err := database.RecentRuns(ctx, runs)
		if err != nil {
			fatalf("listing runs: %v", err)
		}

		fmt.Printf("\n%s Cache Status\n\n", ui.RenderAccent("📊"))
		fmt.Printf("Location: %s\n", cfg.Database)
		fmt.Printf("Size: %s\n", formatSize(info.Size()))
		fmt.Printf("Modified: %s\n", info.ModTime().Format("2006-01-02 15:04:05"))

		fmt.Printf("\n%s\n", ui.RenderBold("Records"))
		if len(counts) == 0 {
			fmt.Printf("   %s\n", ui.RenderMuted("none"))
		}
		names := make([]string, 0, len(counts))
		for name := range counts {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("   %s: %d\n", name, counts[name])
		}

		fmt.Printf("\n%s\n", ui.RenderBold("Cursors"))
		if len(cursors) == 0 {
			fmt.Printf("   %s\n", ui.RenderMuted("none"))
		}
		for _, c := range cursors {
			fmt.Printf("   %s: %s %s\n", c.Key, c.Value,
				ui.RenderMuted(c.UpdatedAt.Local().Format("2006-01-02 15:04:05")))
		}

		fmt.Printf("\n%s\n", ui.RenderBold("Recent runs"))
		if len(recent) == 0 {
			fmt.Printf("   %s\n", ui.RenderMuted("none"))
		}
		for _, run := range recent {
			line := fmt.Sprintf("   %s  %s  %d rounds  %v",
				run.StartedAt.Local().Format("2006-01-02 15:04:05"),
				ui.RenderStatus(run.Status),
				run.Rounds,
				run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
			if run.Error != "" {
				line += "  " + ui.RenderMuted(run.Error)
			}
			fmt.Println(line)
		}
		fmt.Println()
	},
}

func init() {
	statusCmd.Flags().Int("runs", 5, "Number of recent runs to show")
	rootCmd.AddCommand(statusCmd)
}

func formatSize(size int64) string {
	switch {
	case size > 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
	case size > 1024:
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	default:
		return fmt.Sprintf("%d bytes", size)
	}
}
