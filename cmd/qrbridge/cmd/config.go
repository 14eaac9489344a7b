package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/qrbridge/internal/config"
)

func newConfigCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage qrbridge configuration",
		Long: `Create and inspect qrbridge configuration files.

Configuration is resolved from flags, QRBRIDGE_* environment variables,
the config file and built-in defaults, in that order.`,
		// Config subcommands load without validation.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a.loader = config.NewLoaderWith(a.v)
			cfg, err := a.loader.LoadWithoutValidation(a.cfgFile)
			if err != nil {
				return fmt.Errorf("error loading configuration: %w", err)
			}
			a.cfg = cfg
			a.installLogger(cmd, cfg.SlogLevel())
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newConfigInitCommand(a), newConfigShowCommand(a), newConfigPathsCommand())
	return cmd
}

func newConfigInitCommand(a *app) *cobra.Command {
	var (
		file  string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with the default settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			written, err := config.GenerateDefaultConfigFile(file, force)
			if err != nil {
				return err
			}
			a.logger.Info("Configuration file written", "file", written)
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", written)
			return err
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "target file (default qrbridge.yaml)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func newConfigShowCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration",
		Long: `Print the configuration after merging flags, environment, config file and
defaults. YAML is printed unless --output json is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format := outputFormatYAML
			if a.cfg.Output.Format == outputFormatJSON {
				format = outputFormatJSON
			}
			if used := a.loader.GetConfigFileUsed(); used != "" {
				a.logger.Info("Using config file", "file", used)
			}
			if err := writeStructured(cmd.OutOrStdout(), format, a.cfg); err != nil {
				return err
			}
			return a.cfg.Validate()
		},
	}
}

func newConfigPathsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "List the directories searched for qrbridge.yaml",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, p := range config.GetConfigSearchPaths() {
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), p); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
