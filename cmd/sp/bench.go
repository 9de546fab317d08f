package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/steveyegge/syncpoint/internal/loadtest"
	"github.com/steveyegge/syncpoint/internal/ui"
)

var benchCmd = &cobra.Command{
	Use:     "bench",
	GroupID: "maint",
	Short:   "Load test the sync engine against an in-process server",
	Long: `Run concurrent syncs against a simulated API and a scratch cache.

No network is used. The simulated API pages every resource, so each
execution runs one round per page. Callers that start while an execution
is running join it instead of starting another, which shows up as fewer
executions than syncs.

Examples:
  # Default: 10 resources x 5 pages x 50 nodes, 20 callers
  sp bench

  # Slow API, many callers
  sp bench --callers 100 --latency 50ms

  # Output as JSON
  sp bench --json
`,
	Run:  runBench,
	Args: cobra.NoArgs,
}

func init() {
	d := loadtest.DefaultScenario()
	benchCmd.Flags().Int("resources", d.Resources, "Number of resources")
	benchCmd.Flags().Int("pages", d.Pages, "Pages per resource")
	benchCmd.Flags().Int("page-size", d.PageSize, "Nodes per page")
	benchCmd.Flags().Duration("latency", 0, "Simulated latency per call")
	benchCmd.Flags().Int("callers", 20, "Number of concurrent callers")
	benchCmd.Flags().Int("syncs", 5, "Syncs per caller")
	benchCmd.Flags().Bool("json", false, "Output results as JSON")
	rootCmd.AddCommand(benchCmd)
}

func runBench(cmd *cobra.Command, args []string) {
	var s loadtest.Scenario
	s.Resources, _ = cmd.Flags().GetInt("resources")
	s.Pages, _ = cmd.Flags().GetInt("pages")
	s.PageSize, _ = cmd.Flags().GetInt("page-size")
	s.Latency, _ = cmd.Flags().GetDuration("latency")
	callers, _ := cmd.Flags().GetInt("callers")
	syncs, _ := cmd.Flags().GetInt("syncs")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	if callers <= 0 {
		fatalf("--callers must be positive")
	}
	if syncs <= 0 {
		fatalf("--syncs must be positive")
	}

	dir, err := os.MkdirTemp("", "sp-bench-")
	if err != nil {
		fatalf("creating scratch directory: %v", err)
	}
	defer os.RemoveAll(dir)

	env, err := loadtest.Setup(filepath.Join(dir, "bench.db"), s, logger)
	if err != nil {
		fatalf("%v", err)
	}
	defer env.Close()

	if !jsonOutput {
		fmt.Printf("%s Running %d callers x %d syncs over %d resources (%d pages x %d nodes)...\n\n",
			ui.RenderAccent("⏱"), callers, syncs, s.Resources, s.Pages, s.PageSize)
	}

	stats, err := env.RunConcurrentSyncs(callers, syncs)
	if err != nil {
		fatalf("%v", err)
	}
	verifyErr := env.VerifyCache(context.Background())

	if jsonOutput {
		data, err := stats.JSON()
		if err != nil {
			fatalf("encoding results: %v", err)
		}
		fmt.Println(string(data))
	} else {
		stats.PrintStats()
		fmt.Println()
	}

	if verifyErr != nil {
		fatalf("cache check failed: %v", verifyErr)
	}
	if !jsonOutput {
		fmt.Printf("%s Cache holds every page\n", ui.RenderPass("✓"))
	}
}
