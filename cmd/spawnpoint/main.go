package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/spawnpoint/spawnpoint/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	flagConfig   string
	flagLogLevel string
	flagLogJSON  bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "spawnpoint",
	Short: "Spawnpoint - On-demand CTF challenge instances",
	Long: `Spawnpoint deploys per-player containers for CTF challenge tasks.

Players trade a username for a bearer token, deploy isolated instances
of the published tasks, and reach them through a host port or a traefik
hostname. A reaper stops every instance when its time runs out.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log.Init(log.Config{
			Level:      log.Level(flagLogLevel),
			JSONOutput: flagLogJSON,
		})
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Spawnpoint version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to Config.toml (default: walk up from the working directory)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().BoolVar(&flagLogJSON, "log-json", true, "Emit JSON logs (false for console output)")

	rootCmd.AddCommand(gatewayCmd)
	rootCmd.AddCommand(reaperCmd)
	rootCmd.AddCommand(allCmd)
	rootCmd.AddCommand(migrateCmd)
}
