package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Validation range constants.
const (
	minPageSize       = 1
	maxPageSize       = 1000 // Drive API maximum for files.list
	minExpiryDays     = 1
	minLoginDays      = 1
	minConnectTimeout = 1 * time.Second
	minDataTimeout    = 5 * time.Second
	ivBytes           = 16
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass. Keys may be
// empty here; commands that need them call Keys, which fails when unset.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateLink(&cfg.LinkConfig)...)
	errs = append(errs, validateListing(&cfg.ListingConfig)...)
	errs = append(errs, validateKeys(&cfg.KeysConfig)...)
	errs = append(errs, validateLogin(cfg)...)
	errs = append(errs, validateServer(&cfg.ServerConfig)...)
	errs = append(errs, validateLogging(&cfg.LoggingConfig)...)
	errs = append(errs, validateNetwork(&cfg.NetworkConfig)...)
	errs = append(errs, validateRoots(cfg)...)
	errs = append(errs, validateCredentials(cfg.Credentials)...)

	return errors.Join(errs...)
}

func validateLink(l *LinkConfig) []error {
	var errs []error

	if l.FileLinkExpiryDays < minExpiryDays {
		errs = append(errs, fmt.Errorf("file_link_expiry_days: must be >= %d, got %d",
			minExpiryDays, l.FileLinkExpiryDays))
	}

	switch l.DownloadMode {
	case DownloadModePath, DownloadModeID:
	default:
		errs = append(errs, fmt.Errorf("download_mode: must be %q or %q, got %q",
			DownloadModePath, DownloadModeID, l.DownloadMode))
	}

	return errs
}

func validateListing(l *ListingConfig) []error {
	var errs []error

	errs = append(errs, checkRange("files_list_page_size", l.FilesListPageSize, minPageSize, maxPageSize)...)
	errs = append(errs, checkRange("search_result_list_page_size", l.SearchResultListPageSize, minPageSize, maxPageSize)...)

	if l.PathCacheSize < 0 {
		errs = append(errs, fmt.Errorf("path_cache_size: must be >= 0, got %d", l.PathCacheSize))
	}

	return errs
}

func checkRange(name string, v, lo, hi int) []error {
	if v < lo || v > hi {
		return []error{fmt.Errorf("%s: must be between %d and %d, got %d", name, lo, hi, v)}
	}

	return nil
}

func validateKeys(k *KeysConfig) []error {
	var errs []error

	if k.CryptoBaseKey != "" {
		switch len(k.CryptoBaseKey) {
		case 16, 24, 32:
		default:
			errs = append(errs, fmt.Errorf("crypto_base_key: must be 16, 24 or 32 bytes, got %d",
				len(k.CryptoBaseKey)))
		}
	}

	if k.EncryptIV != "" {
		if _, err := decodeIV(k.EncryptIV); err != nil {
			errs = append(errs, fmt.Errorf("encrypt_iv: %w", err))
		}
	}

	return errs
}

func decodeIV(s string) ([]byte, error) {
	iv, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("must be hex: %w", err)
	}

	if len(iv) != ivBytes {
		return nil, fmt.Errorf("must be %d bytes (%d hex characters), got %d bytes", ivBytes, 2*ivBytes, len(iv))
	}

	return iv, nil
}

func validateLogin(cfg *Config) []error {
	var errs []error

	l := &cfg.LoginConfig

	if l.LoginDays < minLoginDays {
		errs = append(errs, fmt.Errorf("login_days: must be >= %d, got %d", minLoginDays, l.LoginDays))
	}

	switch l.LoginDatabase {
	case LoginDatabaseLocal:
		if l.EnableSignup {
			errs = append(errs, fmt.Errorf("enable_signup: requires login_database = %q", LoginDatabaseSQLite))
		}

		// Per-user login state lives in the sqlite store.
		if l.SingleSession {
			errs = append(errs, fmt.Errorf("single_session: requires login_database = %q", LoginDatabaseSQLite))
		}

		if l.IPChangedAction {
			errs = append(errs, fmt.Errorf("ip_changed_action: requires login_database = %q", LoginDatabaseSQLite))
		}
	case LoginDatabaseSQLite:
		if l.UserDBPath == "" {
			errs = append(errs, errors.New("user_db_path: must not be empty with login_database = \"sqlite\""))
		}
	default:
		errs = append(errs, fmt.Errorf("login_database: must be %q or %q, got %q",
			LoginDatabaseLocal, LoginDatabaseSQLite, l.LoginDatabase))
	}

	seen := make(map[string]bool, len(cfg.Users))

	for i, u := range cfg.Users {
		if u.Username == "" || u.Password == "" {
			errs = append(errs, fmt.Errorf("user[%d]: username and password are required", i))
			continue
		}

		if seen[u.Username] {
			errs = append(errs, fmt.Errorf("user[%d]: duplicate username %q", i, u.Username))
		}

		seen[u.Username] = true
	}

	return errs
}

func validateServer(s *ServerConfig) []error {
	if s.ListenAddr == "" {
		return []error{errors.New("listen_addr: must not be empty")}
	}

	return nil
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if _, err := ParseLogLevel(l.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}

	switch l.LogFormat {
	case "auto", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format: must be one of auto, text, json; got %q", l.LogFormat))
	}

	return errs
}

// ParseLogLevel maps a config log level name to a slog level.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("must be one of debug, info, warn, error; got %q", s)
	}
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	errs = append(errs, validateDuration("connect_timeout", n.ConnectTimeout, minConnectTimeout)...)
	errs = append(errs, validateDuration("data_timeout", n.DataTimeout, minDataTimeout)...)

	return errs
}

func validateDuration(name, s string, minimum time.Duration) []error {
	d, err := time.ParseDuration(s)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", name, s, err)}
	}

	if d < minimum {
		return []error{fmt.Errorf("%s: must be >= %s, got %s", name, minimum, d)}
	}

	return nil
}

func validateRoots(cfg *Config) []error {
	var errs []error

	for i, r := range cfg.Roots {
		if r.ID == "" {
			errs = append(errs, fmt.Errorf("root[%d]: id is required", i))
		}

		if r.Credential == "" {
			errs = append(errs, fmt.Errorf("root[%d]: credential is required", i))
			continue
		}

		if _, ok := cfg.Credentials[r.Credential]; !ok {
			errs = append(errs, fmt.Errorf("root[%d]: unknown credential %q", i, r.Credential))
		}
	}

	return errs
}

func validateCredentials(creds map[string]CredentialConfig) []error {
	var errs []error

	for _, name := range sortedCredentialNames(creds) {
		c := creds[name]

		set := 0

		if c.RefreshToken != "" || c.ClientID != "" || c.ClientSecret != "" {
			set++

			if c.RefreshToken == "" || c.ClientID == "" || c.ClientSecret == "" {
				errs = append(errs, fmt.Errorf(
					"credential %q: client_id, client_secret and refresh_token must all be set", name))
			}
		}

		if c.ServiceAccountFile != "" {
			set++
		}

		if c.ServiceAccountJSON != "" {
			set++
		}

		if set != 1 {
			errs = append(errs, fmt.Errorf(
				"credential %q: set exactly one of refresh_token, service_account_file, service_account_json", name))
		}
	}

	return errs
}
