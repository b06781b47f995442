package config

import "path/filepath"

// Default values for configuration options. These are layer 0 of the
// override chain.
const (
	defaultFileLinkExpiryDays = 7
	defaultDownloadMode       = DownloadModePath
	defaultListPageSize       = 100
	defaultSearchPageSize     = 50
	defaultLoginDays          = 7
	defaultLoginDatabase      = LoginDatabaseLocal
	defaultListenAddr         = "127.0.0.1:8080"
	defaultClientIPHeader     = "CF-Connecting-IP"
	defaultLogLevel           = "info"
	defaultLogFormat          = "auto"
	defaultConnectTimeout     = "10s"
	defaultDataTimeout        = "60s"
	userDBFileName            = "users.db"
)

// Download modes.
const (
	DownloadModePath = "path"
	DownloadModeID   = "id"
)

// Credential store backends.
const (
	LoginDatabaseLocal  = "local"
	LoginDatabaseSQLite = "sqlite"
)

// DefaultConfig returns a Config populated with all default values.
// This is used both as the starting point for TOML decoding (so unset
// fields retain defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		LinkConfig: LinkConfig{
			FileLinkExpiryDays: defaultFileLinkExpiryDays,
			DownloadMode:       defaultDownloadMode,
		},
		ListingConfig: ListingConfig{
			FilesListPageSize:        defaultListPageSize,
			SearchResultListPageSize: defaultSearchPageSize,
		},
		LoginConfig: LoginConfig{
			LoginDays:     defaultLoginDays,
			LoginDatabase: defaultLoginDatabase,
			UserDBPath:    defaultUserDBPath(),
		},
		ServerConfig: ServerConfig{
			ListenAddr:     defaultListenAddr,
			ClientIPHeader: defaultClientIPHeader,
		},
		LoggingConfig: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		NetworkConfig: NetworkConfig{
			ConnectTimeout: defaultConnectTimeout,
			DataTimeout:    defaultDataTimeout,
		},
		Credentials: make(map[string]CredentialConfig),
	}
}

func defaultUserDBPath() string {
	dir := DefaultDataDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, userDBFileName)
}
