// Command sp keeps a local cache of a GraphQL API in sync.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/steveyegge/syncpoint/internal/config"
	"github.com/steveyegge/syncpoint/internal/logging"
	"github.com/steveyegge/syncpoint/internal/ui"
)

var (
	cfgFile string
	v       = config.New()

	// cfg and logger are resolved in PersistentPreRunE.
	cfg         *config.Config
	logger      = zap.NewNop()
	closeLogger = func() {}
)

var rootCmd = &cobra.Command{
	Use:   "sp",
	Short: "sp - incremental GraphQL sync into a local cache",
	Long: `sp batches the queries of every registered resource into one GraphQL
request per round, pages each resource from its stored cursor, and saves
the results into a local SQLite cache.

Resources are declared in a YAML manifest (resources.yaml by default).
Settings come from syncpoint.toml, SYNCPOINT_* environment variables and
flags, in increasing order of precedence.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(v, cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded

		logCfg := logging.DefaultConfig()
		logCfg.Level = cfg.Log.Level
		logCfg.File = cfg.Log.File
		l, closeFn, err := logging.New(logCfg)
		if err != nil {
			return err
		}
		logger = l
		closeLogger = closeFn
		return nil
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "advanced", Title: "Advanced Commands:"},
		&cobra.Group{ID: "maint", Title: "Maintenance Commands:"},
	)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Config file (default: syncpoint.toml on the search path)")
	flags.String("endpoint", "", "GraphQL endpoint URL")
	flags.String("token", "", "Credential sent with every request")
	flags.String("database", "", "Cache database path")
	flags.String("manifest", "", "Resource manifest path")
	flags.String("log-level", "", "Log level: debug, info, warn, error")
	flags.String("log-file", "", "Write JSON logs to this rotating file")

	for key, name := range map[string]string{
		config.KeyEndpoint: "endpoint",
		config.KeyToken:    "token",
		config.KeyDatabase: "database",
		config.KeyManifest: "manifest",
		config.KeyLogLevel: "log-level",
		config.KeyLogFile:  "log-file",
	} {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", name, err))
		}
	}
}

func main() {
	err := rootCmd.Execute()
	closeLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderFail("Error:"), err)
		os.Exit(1)
	}
}
