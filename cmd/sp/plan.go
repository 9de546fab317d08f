package main

import (
	"context"
	"fmt"
	"os"

	gojson "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/steveyegge/syncpoint/internal/cursor"
	"github.com/steveyegge/syncpoint/internal/query"
	"github.com/steveyegge/syncpoint/internal/resource"
	"github.com/steveyegge/syncpoint/internal/ui"
)

var planCmd = &cobra.Command{
	Use:     "plan",
	GroupID: "advanced",
	Short:   "Print the first-round request without sending it",
	Long: `Print the merged document and variables the next sync would send first.

Cursors come from the cache when it exists, so the plan shows where each
resource resumes. With --fresh the stored cursors are ignored.

The merged document is parsed to catch syntax errors in resource bodies.
It is not validated against the server schema.`,
	Run: func(cmd *cobra.Command, args []string) {
		fresh, _ := cmd.Flags().GetBool("fresh")
		jsonOutput, _ := cmd.Flags().GetBool("json")

		m := loadManifest()

		var cursors cursor.Store = cursor.NewMemory()
		if !fresh {
			if _, err := os.Stat(cfg.Database); err == nil {
				database := openStore()
				defer database.Close()
				cursors = database.Cursors()
			}
		}

		participants, err := resource.Participants(m, cursors, nil, logger)
		if err != nil {
			fatalf("%v", err)
		}

		ctx := context.Background()
		var requests []query.Request
		for _, p := range participants {
			if req := p.InitialRequest(ctx); req != nil {
				requests = append(requests, *req)
			}
		}
		if len(requests) == 0 {
			fmt.Printf("%s No resources to sync\n", ui.RenderWarn("⚠"))
			return
		}

		doc := query.Merge(requests)
		checkErr := query.Check(doc)

		if jsonOutput {
			out := map[string]interface{}{
				"query":     doc.Query,
				"variables": doc.Variables,
				"fragments": doc.Fragments,
				"valid":     checkErr == nil,
			}
			if checkErr != nil {
				out["error"] = checkErr.Error()
			}
			data, err := gojson.MarshalIndent(out, "", "  ")
			if err != nil {
				fatalf("encoding plan: %v", err)
			}
			fmt.Println(string(data))
		} else {
			fmt.Printf("%s\n%s\n\n", ui.RenderBold("Query"), doc.Query)

			vars, err := gojson.MarshalIndent(doc.Variables, "", "  ")
			if err != nil {
				fatalf("encoding variables: %v", err)
			}
			fmt.Printf("%s\n%s\n", ui.RenderBold("Variables"), vars)

			if len(doc.Fragments) > 0 {
				fmt.Printf("\n%s\n", ui.RenderBold("Fragments"))
				for _, f := range doc.Fragments {
					fmt.Printf("   %s\n", f)
				}
			}
			fmt.Println()
		}

		if checkErr != nil {
			fatalf("%v", checkErr)
		}
		if !jsonOutput {
			fmt.Printf("%s Document parses (%d resources)\n", ui.RenderPass("✓"), len(requests))
		}
	},
}

func init() {
	planCmd.Flags().Bool("fresh", false, "Ignore stored cursors")
	planCmd.Flags().Bool("json", false, "Output as JSON")
	rootCmd.AddCommand(planCmd)
}
