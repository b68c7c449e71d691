package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

type options struct {
	ConfigPath string
}

func main() {
	opt := &options{}
	root := &cobra.Command{
		Use:           "chat",
		Short:         "Book conversation service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opt.ConfigPath, "config", "", "Path to config.yaml (defaults to $CHAT_CONFIG, then ./config.yaml)")

	root.AddCommand(
		newServeCommand(opt),
		newMigrateCommand(opt),
		&cobra.Command{
			Use:   "version",
			Short: "Print the build version",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version)
			},
		},
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}
}
