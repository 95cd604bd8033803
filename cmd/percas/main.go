// Command percas runs a single Percas cache node: the data plane, the
// control plane, the gossip engine, and the cache engine, all in one
// process.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is the build version, overridden at link time via
// -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "percas",
	Short:   "Percas - a distributed content-addressable key-value cache",
	Version: Version,
}

func init() {
	rootCmd.AddCommand(startCmd)
}
