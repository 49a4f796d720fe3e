package cmd

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
)

// Version is stamped by the release build; dev builds report "dev".
var Version = "dev"

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "grove",
	Short: "Grove: live filesystem-to-instance-tree synchronization",
	Long: "Grove mirrors a project directory into a live instance tree and\n" +
		"streams incremental patches to connected clients.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func newLogger() hclog.Logger {
	level := hclog.Info
	if verbose {
		level = hclog.Debug
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:  "grove",
		Level: level,
	})
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
