package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/driveindex/internal/config"
)

// Global flag reset pattern: newRootCmd() binds flags via VarP helpers,
// which reset the global flag variables to their zero values. Tests either
// set globals after newRootCmd() returns, or let Cobra parse them through
// cmd.SetArgs() + cmd.Execute().

const (
	testCryptoKey = "0123456789abcdef0123456789abcdef"
	testHMACKey   = "test-hmac-key"
)

// writeTestConfig writes a minimal valid config with keys and one root and
// returns its path.
func writeTestConfig(t *testing.T, extra string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	content := `crypto_base_key = "` + testCryptoKey + `"
hmac_base_key = "` + testHMACKey + `"
log_level = "warn"
` + extra + `
[[root]]
id = "root"
name = "My Drive"
credential = "main"

[credential.main]
client_id = "id"
client_secret = "secret"
refresh_token = "refresh"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

// saveGlobals restores the CLI globals a test touches.
func saveGlobals(t *testing.T) {
	t.Helper()

	oldCfg, oldPath := resolvedCfg, resolvedCfgPath
	oldConfig, oldJSON := flagConfigPath, flagJSON
	oldVerbose, oldQuiet := flagVerbose, flagQuiet

	t.Cleanup(func() {
		resolvedCfg, resolvedCfgPath = oldCfg, oldPath
		flagConfigPath, flagJSON = oldConfig, oldJSON
		flagVerbose, flagQuiet = oldVerbose, oldQuiet
	})
}

// --- buildLogger tests ---

func TestBuildLogger_Default(t *testing.T) {
	saveGlobals(t)

	resolvedCfg = nil
	flagVerbose = false
	flagQuiet = false

	logger := buildLogger()

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))
}

func TestBuildLogger_ConfigDebug(t *testing.T) {
	saveGlobals(t)

	resolvedCfg = &config.Config{LoggingConfig: config.LoggingConfig{LogLevel: "debug"}}
	flagVerbose = false
	flagQuiet = false

	logger := buildLogger()

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))
}

func TestBuildLogger_VerboseOverrides(t *testing.T) {
	saveGlobals(t)

	// Config says error, --verbose wins.
	resolvedCfg = &config.Config{LoggingConfig: config.LoggingConfig{LogLevel: "error"}}
	flagVerbose = true
	flagQuiet = false

	logger := buildLogger()

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))
}

func TestBuildLogger_QuietOverrides(t *testing.T) {
	saveGlobals(t)

	resolvedCfg = &config.Config{LoggingConfig: config.LoggingConfig{LogLevel: "debug"}}
	flagVerbose = false
	flagQuiet = true

	logger := buildLogger()

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelError))
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelWarn))
}

func TestNewLogger_Formats(t *testing.T) {
	tests := []struct {
		format string
		json   bool
	}{
		{"json", true},
		{"text", false},
		// A buffer is not a terminal.
		{"auto", true},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer

			newLogger(&buf, tt.format, slog.LevelInfo).Info("hello", slog.String("k", "v"))

			var rec map[string]any
			err := json.Unmarshal(buf.Bytes(), &rec)

			if tt.json {
				require.NoError(t, err)
				assert.Equal(t, "hello", rec["msg"])
				assert.Equal(t, "v", rec["k"])
			} else {
				assert.Error(t, err)
				assert.Contains(t, buf.String(), "msg=hello")
			}
		})
	}
}

func TestBuildLogger_WritesToLogFile(t *testing.T) {
	saveGlobals(t)

	oldLogFile := logFile
	t.Cleanup(func() {
		if logFile != nil && logFile != oldLogFile {
			logFile.Close()
		}

		logFile = oldLogFile
	})

	path := filepath.Join(t.TempDir(), "driveindex.log")
	resolvedCfg = &config.Config{LoggingConfig: config.LoggingConfig{
		LogLevel:  "info",
		LogFile:   path,
		LogFormat: "json",
	}}
	flagVerbose = false
	flagQuiet = false
	logFile = nil

	buildLogger().Info("to file")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"to file"`)
}

// --- Cobra structure tests ---

func TestNewRootCmd_Subcommands(t *testing.T) {
	cmd := newRootCmd()

	expected := []string{
		"ls", "stat", "search", "get", "id2path", "findpath", "link", "session",
		"auth", "user", "keygen", "serve", "reload", "config",
	}

	names := make(map[string]bool)
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestNewRootCmd_PersistentFlags(t *testing.T) {
	cmd := newRootCmd()

	for _, name := range []string{"config", "root", "json", "verbose", "quiet"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), "expected persistent flag %q not found", name)
	}
}

func TestNewRootCmd_MutualExclusivity(t *testing.T) {
	// keygen skips config loading, so only the flag conflict can fail.
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--verbose", "--quiet", "keygen"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "none of the others can be")
}

func TestSkipConfigCommands_UsesCommandPath(t *testing.T) {
	cmd := newRootCmd()

	for _, args := range [][]string{{"keygen"}, {"reload"}} {
		sub, _, err := cmd.Find(args)
		require.NoError(t, err)

		assert.True(t, skipConfigCommands[sub.CommandPath()],
			"CommandPath %q should be in skipConfigCommands", sub.CommandPath())
		assert.NoError(t, cmd.PersistentPreRunE(sub, nil))
	}

	assert.False(t, skipConfigCommands["keygen"], "bare names must not be in skipConfigCommands")
}

// --- loadConfig tests ---

func TestLoadConfig_ValidTOML(t *testing.T) {
	saveGlobals(t)

	path := writeTestConfig(t, "")

	cmd := newRootCmd()
	flagConfigPath = path

	require.NoError(t, loadConfig(cmd))
	require.NotNil(t, resolvedCfg)

	assert.Equal(t, path, resolvedCfgPath)
	assert.Equal(t, testCryptoKey, resolvedCfg.CryptoBaseKey)
	require.Len(t, resolvedCfg.Roots, 1)
	assert.Equal(t, "My Drive", resolvedCfg.Roots[0].Name)
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	saveGlobals(t)

	cmd := newRootCmd()
	flagConfigPath = filepath.Join(t.TempDir(), "nonexistent.toml")

	require.NoError(t, loadConfig(cmd))
	assert.Equal(t, config.DefaultConfig().ListenAddr, resolvedCfg.ListenAddr)
	assert.Empty(t, resolvedCfg.Roots)
}

func TestLoadConfig_InvalidConfig(t *testing.T) {
	saveGlobals(t)

	path := writeTestConfig(t, `download_mode = "proxy"`)

	cmd := newRootCmd()
	flagConfigPath = path

	err := loadConfig(cmd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "download_mode")
}

func TestLoadConfig_ListenFlagOverrides(t *testing.T) {
	saveGlobals(t)

	path := writeTestConfig(t, `listen_addr = "127.0.0.1:9000"`)

	// --listen lives on serve; loadConfig looks it up on the running command.
	cmd := newRootCmd()
	serve, _, err := cmd.Find([]string{"serve"})
	require.NoError(t, err)
	require.NoError(t, serve.Flags().Set("listen", "0.0.0.0:8443"))

	flagConfigPath = path

	require.NoError(t, loadConfig(serve))
	assert.Equal(t, "0.0.0.0:8443", resolvedCfg.ListenAddr)
}

// --- config show ---

func TestConfigShow_RedactsSecrets(t *testing.T) {
	saveGlobals(t)

	path := writeTestConfig(t, "")

	for _, args := range [][]string{
		{"--config", path, "config", "show"},
		{"--config", path, "--json", "config", "show"},
	} {
		var out bytes.Buffer

		cmd := newRootCmd()
		cmd.SetOut(&out)
		cmd.SetArgs(args)
		require.NoError(t, cmd.Execute())

		assert.NotContains(t, out.String(), testCryptoKey)
		assert.NotContains(t, out.String(), testHMACKey)
		assert.NotContains(t, out.String(), `"refresh"`)
		assert.Contains(t, out.String(), "My Drive")
	}
}
