// Package cmd implements the callkitd command line.
package cmd

import "github.com/spf13/cobra"

// Version is set at build time with -ldflags.
var Version = "dev"

type rootOptions struct {
	configPath string
}

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "callkitd",
		Short:         "callkitd: SIP account, call and voice agent server",
		Long:          "callkitd manages SIP accounts and calls, hosts voice agents with short-term memory, and streams every state change to HTTP clients.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default: ./callkit.toml or ~/.config/callkit/callkit.toml)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newServeCmd(opts),
		newConfigCmd(opts),
	)

	return rootCmd
}
