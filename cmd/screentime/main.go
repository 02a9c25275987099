// Package main is the CLI entry point for screentime.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/eliteGoblin/focusd/screentime/internal/plugin"
)

var (
	// Version info (set via ldflags)
	Version   = "0.3.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "screentime",
	Short: "Screen time control - blocks selected apps for a while",
	Long: `screentime blocks a set of applications for a fixed duration.
While a block is active a background daemon watches the foreground app and
covers blocked apps with an overlay. Blocks survive restarts and reboots,
can be paused, and can be scheduled ahead of time.`,
	Version:       Version,
	SilenceUsage:  true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

var (
	dataDirFlag string
	configFlag  string
	jsonOutput  bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "State directory (default depends on execution mode)")
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Config file, YAML or TOML (default <data-dir>/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print results as JSON")

	rootCmd.AddCommand(versionCmd)
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("screentime %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}

// report prints a Result and converts a failed one into a command error.
func report(res plugin.Result, human func(data any)) error {
	if jsonOutput {
		out, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
	} else if res.Status && human != nil {
		human(res.Data)
	}
	if !res.Status {
		return fmt.Errorf("%s", res.Error)
	}
	return nil
}
