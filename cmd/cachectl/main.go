package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:           "cachectl",
		Short:         "Cache manager control tool",
		Long:          "Serve cache metrics and the admin API, and inspect or invalidate persisted cache entries",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "Path to a YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (overrides configuration)")

	rootCmd.AddCommand(
		serveCmd(opts),
		invalidateCmd(opts),
		keysCmd(opts),
		clearCmd(opts),
	)
	return rootCmd
}
