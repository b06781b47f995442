package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/driveindex/internal/config"
	"github.com/tonimelisma/driveindex/internal/userstore"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage login users",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add <username>",
		Short: "Add a user to the SQLite user store; the password is read from stdin",
		Args:  cobra.ExactArgs(1),
		RunE:  runUserAdd,
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List users configured in [[user]] tables",
		Args:  cobra.NoArgs,
		RunE:  runUserList,
	})

	return cmd
}

func runUserAdd(cmd *cobra.Command, args []string) error {
	if resolvedCfg.LoginDatabase != config.LoginDatabaseSQLite {
		return errors.New(`user add needs login_database = "sqlite"; add [[user]] tables to the config file instead`)
	}

	password, err := readSecret(cmd.InOrStdin())
	if err != nil {
		return err
	}

	logger := buildLogger()

	store, err := userstore.OpenSQLite(cmd.Context(), resolvedCfg.UserDBFile(), logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Create(cmd.Context(), args[0], password); err != nil {
		return fmt.Errorf("adding user %q: %w", args[0], err)
	}

	logger.Debug("user added", slog.String("username", args[0]))
	statusf("Added user %s\n", args[0])

	return nil
}

func runUserList(cmd *cobra.Command, _ []string) error {
	names := staticUsers(resolvedCfg).Usernames()

	if flagJSON {
		return printJSON(cmd.OutOrStdout(), names)
	}

	for _, n := range names {
		fmt.Fprintln(cmd.OutOrStdout(), n)
	}

	return nil
}

func staticUsers(cfg *config.Config) *userstore.Static {
	users := make([]userstore.User, 0, len(cfg.Users))
	for _, u := range cfg.Users {
		users = append(users, userstore.User{Username: u.Username, Password: u.Password})
	}

	return userstore.NewStatic(users)
}
