package main

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Version info injected via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

func resolvedVersion() string {
	if Version != "dev" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return Version
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("leaseflow %s (%s)\n", resolvedVersion(), Commit)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
