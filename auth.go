package main

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/driveindex/internal/auth"
	"github.com/tonimelisma/driveindex/internal/config"
	"github.com/tonimelisma/driveindex/internal/credfile"
	"github.com/tonimelisma/driveindex/internal/index"
)

// credentialsDir is the directory under the config dir that 'auth import'
// writes to.
const credentialsDir = "credentials"

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Check and import Drive credentials",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "check [credential...]",
		Short: "Exchange a token for each credential and report the result",
		RunE:  runAuthCheck,
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "import <name> <file|->",
		Short: "Store a service account key or authorized_user file",
		Long: `Validate a Google credential JSON file (a service account key or an
authorized_user file written by gcloud) and store it with owner-only
permissions in the config directory. The matching [credential.<name>]
table is printed for pasting into the config file.`,
		Args: cobra.ExactArgs(2),
		RunE: runAuthImport,
	})

	return cmd
}

type authCheckResult struct {
	Credential string    `json:"credential"`
	Kind       string    `json:"kind,omitempty"`
	OK         bool      `json:"ok"`
	ExpiresAt  time.Time `json:"expires_at,omitzero"`
	Error      string    `json:"error,omitempty"`
}

func runAuthCheck(cmd *cobra.Command, args []string) error {
	logger := buildLogger()
	ctx := cmd.Context()

	names := args
	if len(names) == 0 {
		names = slices.Sorted(maps.Keys(resolvedCfg.Credentials))
	}

	if len(names) == 0 {
		return errors.New("no credentials configured")
	}

	manager := auth.NewManager(index.NewHTTPClient(resolvedCfg.Timeouts()), resolvedCfg.TokenURL, logger)
	results := make([]authCheckResult, 0, len(names))
	failed := 0

	for _, name := range names {
		res := authCheckResult{Credential: name}

		cred, err := resolvedCfg.Credential(name)
		if err == nil {
			res.Kind = cred.Kind()

			var tok auth.Token
			if tok, err = manager.Token(ctx, cred); err == nil {
				res.OK = true
				res.ExpiresAt = tok.ExpiresAt.UTC()
			}
		}

		if err != nil {
			res.Error = err.Error()
			failed++
		}

		results = append(results, res)
	}

	if flagJSON {
		if err := printJSON(cmd.OutOrStdout(), results); err != nil {
			return err
		}
	} else {
		rows := make([][]string, 0, len(results))

		for _, r := range results {
			status := "ok"
			if !r.OK {
				status = r.Error
			}

			rows = append(rows, []string{r.Credential, r.Kind, status})
		}

		printTable(cmd.OutOrStdout(), []string{"CREDENTIAL", "KIND", "STATUS"}, rows)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d credentials failed", failed, len(results))
	}

	return nil
}

func runAuthImport(cmd *cobra.Command, args []string) error {
	name, src := args[0], args[1]

	var (
		data []byte
		err  error
	)

	if src == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(src)
	}

	if err != nil {
		return fmt.Errorf("reading credential: %w", err)
	}

	dir := config.DefaultConfigDir()
	if dir == "" {
		return errors.New("cannot determine config directory")
	}

	dest := filepath.Join(dir, credentialsDir, name+".json")
	if err := credfile.Save(dest, data); err != nil {
		return err
	}

	statusf("Saved credential to %s\n", dest)
	fmt.Fprintf(cmd.OutOrStdout(), "[credential.%s]\nservice_account_file = %q\n", name, dest)

	return nil
}
