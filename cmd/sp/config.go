package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/steveyegge/syncpoint/internal/config"
	"github.com/steveyegge/syncpoint/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "maint",
	Short:   "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a starter syncpoint.toml",
	Long: `Write a starter config file (default: ./syncpoint.toml).

When stdin is a terminal, the endpoint, token, interval and log level are
prompted for. Otherwise the current settings are written as they are.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		force, _ := cmd.Flags().GetBool("force")
		path := "syncpoint.toml"
		if len(args) == 1 {
			path = args[0]
		}

		if _, err := os.Stat(path); err == nil && !force {
			fatalf("%s already exists (use --force to overwrite)", path)
		}

		c := *cfg
		if term.IsTerminal(int(os.Stdin.Fd())) {
			if err := promptConfig(&c); err != nil {
				if errors.Is(err, huh.ErrUserAborted) {
					fmt.Println("Aborted")
					return
				}
				fatalf("%v", err)
			}
		}

		if err := config.WriteFile(path, &c); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), path)
		if c.Endpoint == "" {
			fmt.Printf("   Set endpoint before running 'sp sync'\n")
		}
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the resolved configuration",
	Run: func(cmd *cobra.Command, args []string) {
		source := v.ConfigFileUsed()
		if source == "" {
			source = ui.RenderMuted("(defaults and environment only)")
		}

		token := ""
		if cfg.Token != "" {
			token = "********"
		}

		fmt.Printf("Config file: %s\n\n", source)
		fmt.Printf("%s = %s\n", config.KeyEndpoint, cfg.Endpoint)
		fmt.Printf("%s = %s\n", config.KeyToken, token)
		fmt.Printf("%s = %s\n", config.KeyDatabase, cfg.Database)
		fmt.Printf("%s = %s\n", config.KeyManifest, cfg.Manifest)
		fmt.Printf("%s = %s\n", config.KeyInterval, cfg.Interval)
		fmt.Printf("%s = %s\n", config.KeyTimeout, cfg.Timeout)
		fmt.Printf("%s = %s\n", config.KeyLogFile, cfg.Log.File)
		fmt.Printf("%s = %s\n", config.KeyLogLevel, cfg.Log.Level)
		fmt.Printf("%s = %d\n", config.KeyDashboardPort, cfg.Dashboard.Port)
		fmt.Printf("%s = %s\n", config.KeyBackoffInitial, cfg.Backoff.Initial)
		fmt.Printf("%s = %s\n", config.KeyBackoffMax, cfg.Backoff.Max)

		if err := cfg.Validate(); err != nil {
			fmt.Printf("\n%s %v\n", ui.RenderWarn("⚠"), err)
		}
	},
}

func init() {
	configInitCmd.Flags().Bool("force", false, "Overwrite an existing file")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}

// promptConfig asks for the settings most installs change.
func promptConfig(c *config.Config) error {
	interval := c.Interval.String()
	port := strconv.Itoa(c.Dashboard.Port)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("GraphQL endpoint").
				Placeholder("https://api.example.com/graphql").
				Value(&c.Endpoint).
				Validate(validateEndpoint),
			huh.NewInput().
				Title("Token").
				Description("Sent with every request. Leave empty for none.").
				EchoMode(huh.EchoModePassword).
				Value(&c.Token),
			huh.NewInput().
				Title("Resource manifest").
				Value(&c.Manifest),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Sync interval").
				Value(&interval).
				Validate(func(s string) error {
					d, err := time.ParseDuration(s)
					if err != nil {
						return err
					}
					if d <= 0 {
						return fmt.Errorf("interval must be positive")
					}
					return nil
				}),
			huh.NewSelect[string]().
				Title("Log level").
				Options(huh.NewOptions("debug", "info", "warn", "error")...).
				Value(&c.Log.Level),
			huh.NewInput().
				Title("Dashboard port").
				Value(&port).
				Validate(func(s string) error {
					n, err := strconv.Atoi(s)
					if err != nil || n < 0 || n > 65535 {
						return fmt.Errorf("port must be 0-65535")
					}
					return nil
				}),
		),
	)

	if err := form.Run(); err != nil {
		return err
	}

	d, err := time.ParseDuration(interval)
	if err != nil {
		return err
	}
	c.Interval = d
	n, err := strconv.Atoi(port)
	if err != nil {
		return err
	}
	c.Dashboard.Port = n
	return nil
}

func validateEndpoint(s string) error {
	if s == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("endpoint must be an http or https URL")
	}
	return nil
}
