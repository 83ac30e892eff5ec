package main

import (
	"fmt"

	"github.com/danmuck/voltshift/internal/config"
	"github.com/danmuck/voltshift/internal/daemon"
	"github.com/danmuck/voltshift/internal/logging"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	simulate   bool
	socketPath string
}

func newRootCmd() *cobra.Command {
	var opts rootOptions
	cmd := &cobra.Command{
		Use:           "voltshiftd",
		Short:         "Privileged MSR and OC mailbox broker",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.ConfigureRuntime()
			cfg, err := resolveConfig(cmd, opts)
			if err != nil {
				return err
			}
			return daemon.NewService(cfg, opts.configPath).Run()
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "TOML config file")
	cmd.Flags().BoolVar(&opts.simulate, "simulate", false, "serve an in-memory register file")
	cmd.Flags().StringVar(&opts.socketPath, "socket", "", "override socket_path")
	cmd.AddCommand(newConfigCmd())
	return cmd
}

// resolveConfig loads the config file when given, then applies flags that
// were set explicitly.
func resolveConfig(cmd *cobra.Command, opts rootOptions) (config.Config, error) {
	cfg := config.DefaultConfig()
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	if cmd.Flags().Changed("simulate") {
		cfg.Simulate = opts.simulate
	}
	if cmd.Flags().Changed("socket") {
		cfg.SocketPath = opts.socketPath
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func newConfigCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "config [path]",
		Short: "Print the default config, or write it to path",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				_, err := fmt.Fprint(cmd.OutOrStdout(), config.Template())
				return err
			}
			if err := config.WriteTemplate(args[0], force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}
