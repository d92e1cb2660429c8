package main

import (
	"fmt"
	"os"

	"github.com/cuemby/gamefeed/pkg/log"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "gamefeed",
	Short: "gamefeed - game feed event pipeline",
	Long: `gamefeed ingests a live stream of game-state and player-state events,
classifies game phases, watches the stream for gaps and disconnects,
records complete games and persists every event into partitioned storage.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, _ := cmd.Flags().GetString("log-level")
		jsonOutput, _ := cmd.Flags().GetBool("log-json")
		log.Init(log.Config{
			Level:      log.ParseLevel(level),
			JSONOutput: jsonOutput,
			Output:     os.Stderr,
		})
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Print(versionString())
	},
}

func versionString() string {
	return fmt.Sprintf("gamefeed version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
}

func init() {
	rootCmd.SetVersionTemplate(versionString())

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Write logs as JSON")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(manifestCmd)
	rootCmd.AddCommand(partitionsCmd)
}
