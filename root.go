package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/driveindex/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagRoot       int
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// resolvedCfg holds the effective configuration loaded by PersistentPreRunE,
// and resolvedCfgPath the file it came from. Commands listed in
// skipConfigCommands run without them.
var (
	resolvedCfg     *config.Config
	resolvedCfgPath string
)

// logFile is the open log_file, if any, closed by main on exit.
var logFile io.Closer

// skipConfigCommands lists commands that must work without a valid config:
// keygen produces the keys a config needs, and reload only signals a
// running server. Uses CommandPath() for explicit matching.
var skipConfigCommands = map[string]bool{
	"driveindex keygen": true,
	"driveindex reload": true,
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "driveindex",
		Short:   "Google Drive index server",
		Long:    "Serve Google Drive folders over HTTP with encrypted ids and signed download links.",
		Version: version,
		// Silence Cobra's default error/usage printing; main handles it.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if skipConfigCommands[cmd.CommandPath()] {
				return nil
			}

			return loadConfig(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().IntVarP(&flagRoot, "root", "r", 0, "root index for path commands")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")
	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	cmd.AddCommand(newLsCmd())
	cmd.AddCommand(newStatCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newID2PathCmd())
	cmd.AddCommand(newFindPathCmd())
	cmd.AddCommand(newLinkCmd())
	cmd.AddCommand(newSessionCmd())
	cmd.AddCommand(newAuthCmd())
	cmd.AddCommand(newUserCmd())
	cmd.AddCommand(newKeygenCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newReloadCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// loadConfig resolves the effective configuration from the override chain
// and stores the result in resolvedCfg for use by subcommands.
func loadConfig(cmd *cobra.Command) error {
	cli := config.CLIOverrides{
		ConfigPath: flagConfigPath,
	}

	if f := cmd.Flags().Lookup("listen"); f != nil && f.Changed {
		addr := f.Value.String()
		cli.ListenAddr = &addr
	}

	cfg, path, err := config.Resolve(config.ReadEnvOverrides(), cli)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	resolvedCfg = cfg
	resolvedCfgPath = path

	return nil
}

// buildLogger creates an slog.Logger configured by the resolved config and
// CLI flags. Config-file log level provides the baseline; --verbose and
// --quiet override it because CLI flags always win.
func buildLogger() *slog.Logger {
	level := slog.LevelInfo
	format := "auto"
	out := io.Writer(os.Stderr)

	if resolvedCfg != nil {
		if l, err := config.ParseLogLevel(resolvedCfg.LogLevel); err == nil {
			level = l
		}

		format = resolvedCfg.LogFormat

		if path := resolvedCfg.LogFilePath(); path != "" && logFile == nil {
			f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Warning: cannot open log file %s: %v\n", path, err)
			} else {
				logFile = f
			}
		}
	}

	if w, ok := logFile.(io.Writer); ok {
		out = w
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	return newLogger(out, format, level)
}

// newLogger picks the handler for format. "auto" writes text to terminals
// and JSON everywhere else.
func newLogger(w io.Writer, format string, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	if format == "json" || (format != "text" && !isTerminal(w)) {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
