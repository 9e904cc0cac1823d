package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	var serverURL string

	cmd := &cobra.Command{
		Use:           "easel",
		Short:         "Easel gateway control CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the configuration file")
	cmd.PersistentFlags().StringVar(&serverURL, "server", "", "Daemon base URL (default derived from config)")

	ctx := newCommandContext(&configPath, &serverURL)
	cmd.AddCommand(newStatusCommand(ctx))
	cmd.AddCommand(newJobsCommand(ctx))
	cmd.AddCommand(newSessionsCommand(ctx))
	cmd.AddCommand(newConfigCommand(ctx))
	return cmd
}
