// boxcore - event-driven routing core demo host.
// Loads workflow documents, wires the decks, and runs the machine loop.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=v1.0.0" ./cmd/boxcore/
var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:     "boxcore",
	Short:   "boxcore - event-driven routing core",
	Long:    "boxcore routes events through deck processing stages over shared SPSC rings.",
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
