package main

import (
	"fmt"

	"github.com/CloudNativeWorks/cnw-commercial-sdk/internal/config"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
}

// load reads the config file, applies CNW_* overrides and validates the result.
func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "cnw-commercial",
		Short: "CloudNativeWorks commercial gateway and signing tools",
		Long: `cnw-commercial serves the verified /api/commercial namespace in front of
the plugin store, SaaS, license and update backends. It also signs URLs,
encrypts endpoint ciphertexts and shows how endpoints resolve.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file path")

	cmd.AddCommand(
		newServeCmd(opts),
		newSignCmd(),
		newEncryptEndpointCmd(),
		newResolveCmd(),
		newVersionCmd(),
	)
	return cmd
}
