package main

import (
	"context"
	"fmt"

	gojson "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/steveyegge/syncpoint/internal/ui"
)

var cursorCmd = &cobra.Command{
	Use:     "cursor",
	GroupID: "maint",
	Short:   "Inspect and reset stored cursors",
	Long: `Inspect and reset the cursors that record how far each resource has paged.

Resetting a cursor makes the next sync fetch that resource from its first
page. Cached records are kept and overwritten as pages arrive again.`,
}

var cursorListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored cursors",
	Run: func(cmd *cobra.Command, args []string) {
		jsonOutput, _ := cmd.Flags().GetBool("json")

		database := openStore()
		defer database.Close()

		entries, err := database.Cursors().List(context.Background())
		if err != nil {
			fatalf("listing cursors: %v", err)
		}

		if jsonOutput {
			type entry struct {
				Key       string `json:"key"`
				Value     string `json:"value"`
				UpdatedAt string `json:"updated_at"`
			}
			out := make([]entry, 0, len(entries))
			for _, e := range entries {
				out = append(out, entry{Key: e.Key, Value: e.Value, UpdatedAt: e.UpdatedAt.Format("2006-01-02T15:04:05Z07:00")})
			}
			data, err := gojson.MarshalIndent(out, "", "  ")
			if err != nil {
				fatalf("encoding cursors: %v", err)
			}
			fmt.Println(string(data))
			return
		}

		if len(entries) == 0 {
			fmt.Println("No cursors stored")
			return
		}
		for _, e := range entries {
			fmt.Printf("%s  %s  %s\n", ui.RenderBold(e.Key), e.Value,
				ui.RenderMuted(e.UpdatedAt.Local().Format("2006-01-02 15:04:05")))
		}
	},
}

var cursorResetCmd = &cobra.Command{
	Use:   "reset [key...]",
	Short: "Reset cursors so resources sync from the first page",
	Long: `Reset one or more cursors by key, or every cursor with --all.

Examples:
  sp cursor reset experiences
  sp cursor reset --all`,
	Run: func(cmd *cobra.Command, args []string) {
		all, _ := cmd.Flags().GetBool("all")
		if all == (len(args) > 0) {
			fatalf("pass cursor keys or --all")
		}

		database := openStore()
		defer database.Close()
		cursors := database.Cursors()
		ctx := context.Background()

		if all {
			n, err := cursors.DeleteAll(ctx)
			if err != nil {
				fatalf("resetting cursors: %v", err)
			}
			fmt.Printf("%s Reset %d cursors\n", ui.RenderPass("✓"), n)
			return
		}

		for _, key := range args {
			_, ok, err := cursors.Get(ctx, key)
			if err != nil {
				fatalf("reading cursor %s: %v", key, err)
			}
			if !ok {
				fmt.Printf("%s No cursor %s\n", ui.RenderWarn("⚠"), key)
				continue
			}
			if err := cursors.Delete(ctx, key); err != nil {
				fatalf("resetting cursor %s: %v", key, err)
			}
			fmt.Printf("%s Reset %s\n", ui.RenderPass("✓"), key)
		}
	},
}

func init() {
	cursorListCmd.Flags().Bool("json", false, "Output as JSON")
	cursorResetCmd.Flags().Bool("all", false, "Reset every cursor")

	cursorCmd.AddCommand(cursorListCmd)
	cursorCmd.AddCommand(cursorResetCmd)
	rootCmd.AddCommand(cursorCmd)
}
