package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vinayprograms/callkit/config"
)

func newConfigCmd(opts *rootOptions) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as TOML",
		Long:  "Print the configuration after defaults, the config file and CALLKIT_* environment overrides are applied. Secrets are never printed.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(viper.New(), opts.configPath)
			if err != nil {
				return err
			}
			out, err := cfg.EncodeTOML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := config.Load(viper.New(), opts.configPath); err != nil {
				return err
			}
			_, err := cmd.OutOrStdout().Write([]byte("configuration ok\n"))
			return err
		},
	})

	return configCmd
}
