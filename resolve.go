package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newID2PathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "id2path <encrypted-id>",
		Short: "Map an encrypted id to its path route",
		Args:  cobra.ExactArgs(1),
		RunE:  runID2Path,
	}
}

func newFindPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "findpath <id>",
		Short: "Map a raw Drive id to its path route or fallback route",
		Long: `Walk up from a raw Drive id until a configured root is reached and print
the "/{n}:{path}" route. Items outside every root print the fallback route
carrying the encrypted id instead.`,
		Args: cobra.ExactArgs(1),
		RunE: runFindPath,
	}
}

type routeOutput struct {
	Path string `json:"path"`
}

func runID2Path(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	x, _, err := openIndex(ctx)
	if err != nil {
		return err
	}

	route, err := x.IDToPath(ctx, flagRoot, args[0])
	if err != nil {
		return fmt.Errorf("resolving id: %w", err)
	}

	return printRoute(cmd, route)
}

func runFindPath(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	x, _, err := openIndex(ctx)
	if err != nil {
		return err
	}

	route, err := x.FindPath(ctx, flagRoot, args[0])
	if err != nil {
		return fmt.Errorf("finding path: %w", err)
	}

	return printRoute(cmd, route)
}

func printRoute(cmd *cobra.Command, route string) error {
	if flagJSON {
		return printJSON(cmd.OutOrStdout(), routeOutput{Path: route})
	}

	fmt.Fprintln(cmd.OutOrStdout(), route)

	return nil
}
