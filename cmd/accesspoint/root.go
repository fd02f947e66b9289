package main

import (
	"github.com/spf13/cobra"

	"github.com/rdehuyss/oxalis/internal/config"
)

type rootOptions struct {
	ConfigPath string
}

func newRootCmd() *cobra.Command {
	var opts rootOptions

	cmd := &cobra.Command{
		Use:           "accesspoint",
		Short:         "PEPPOL outbound access point",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "configuration file (YAML); built-in defaults when empty")

	cmd.AddCommand(newServeCmd(&opts))
	cmd.AddCommand(newLookupCmd(&opts))
	cmd.AddCommand(newValidateCmd(&opts))
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func (o *rootOptions) load() (*config.Config, error) {
	if o.ConfigPath == "" {
		return config.Default(), nil
	}
	return config.Load(o.ConfigPath)
}

func newValidateCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration file and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := root.load(); err != nil {
				return err
			}
			cmd.Println("configuration is valid")
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("accesspoint %s (build %s, %s)\n", version, buildID, buildTime)
		},
	}
}
