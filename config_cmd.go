package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/driveindex/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides, secrets redacted",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow,
	})

	return cmd
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	if resolvedCfg == nil {
		return errors.New("no configuration loaded")
	}

	if flagJSON {
		return printJSON(cmd.OutOrStdout(), resolvedCfg.Redacted())
	}

	return config.RenderEffective(resolvedCfg, resolvedCfgPath, cmd.OutOrStdout())
}
