// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for driveindex. Values are layered as
// defaults -> config file -> environment -> CLI flags.
//
// Global settings are flat top-level keys. Roots are an array of [[root]]
// tables, credentials are named [credential.<name>] tables, and the static
// user list is an array of [[user]] tables.
package config

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	LinkConfig
	ListingConfig
	KeysConfig
	LoginConfig
	ServerConfig
	LoggingConfig
	NetworkConfig

	Roots       []RootConfig                `toml:"root"`
	Credentials map[string]CredentialConfig `toml:"credential"`
	Users       []UserConfig                `toml:"user"`
}

// LinkConfig controls capability link issuance and download serving.
type LinkConfig struct {
	FileLinkExpiryDays int    `toml:"file_link_expiry_days"`
	EnableIPLock       bool   `toml:"enable_ip_lock"`
	DownloadMode       string `toml:"download_mode"`
	EnableCORSFileDown bool   `toml:"enable_cors_file_down"`
}

// ListingConfig controls page sizes, search scope, and the path cache.
type ListingConfig struct {
	FilesListPageSize        int  `toml:"files_list_page_size"`
	SearchResultListPageSize int  `toml:"search_result_list_page_size"`
	SearchAllDrives          bool `toml:"search_all_drives"`
	PathCacheSize            int  `toml:"path_cache_size"`
}

// KeysConfig holds the pre-shared secrets for links and sessions. The
// crypto and HMAC keys are used as raw bytes; encrypt_iv is hex and, when
// set, switches the cipher to fixed-IV mode.
type KeysConfig struct {
	CryptoBaseKey string `toml:"crypto_base_key"`
	HMACBaseKey   string `toml:"hmac_base_key"`
	EncryptIV     string `toml:"encrypt_iv"`
}

// LoginConfig controls browser sessions and the credential store.
type LoginConfig struct {
	EnableLogin              bool   `toml:"enable_login"`
	EnableSignup             bool   `toml:"enable_signup"`
	LoginDays                int    `toml:"login_days"`
	LoginDatabase            string `toml:"login_database"`
	UserDBPath               string `toml:"user_db_path"`
	DisableAnonymousDownload bool   `toml:"disable_anonymous_download"`

	// SingleSession keeps only each user's latest session valid.
	SingleSession bool `toml:"single_session"`
	// IPChangedAction ends a session used from an address other than the
	// one it logged in from.
	IPChangedAction bool `toml:"ip_changed_action"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	ListenAddr     string `toml:"listen_addr"`
	ClientIPHeader string `toml:"client_ip_header"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFile   string `toml:"log_file"`
	LogFormat string `toml:"log_format"`
}

// NetworkConfig controls HTTP client behavior and upstream endpoints.
// token_url and api_endpoint exist for tests and private deployments.
type NetworkConfig struct {
	ConnectTimeout string `toml:"connect_timeout"`
	DataTimeout    string `toml:"data_timeout"`
	UserAgent      string `toml:"user_agent"`
	TokenURL       string `toml:"token_url"`
	APIEndpoint    string `toml:"api_endpoint"`
}

// RootConfig is one [[root]] entry. Its position in the file is the root's
// index in /{n}: routes.
type RootConfig struct {
	ID          string `toml:"id"`
	Name        string `toml:"name"`
	ProtectLink bool   `toml:"protect_link"`
	Credential  string `toml:"credential"`
}

// CredentialConfig is one [credential.<name>] table. Exactly one of the
// refresh-token triple, service_account_file, or service_account_json is set.
type CredentialConfig struct {
	ClientID           string `toml:"client_id"`
	ClientSecret       string `toml:"client_secret"`
	RefreshToken       string `toml:"refresh_token"`
	ServiceAccountFile string `toml:"service_account_file"`
	ServiceAccountJSON string `toml:"service_account_json"`
}

// UserConfig is one [[user]] entry of the static credential store.
type UserConfig struct {
	Username string `toml:"username"`
	Password string `toml:"password"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to zero value".
type CLIOverrides struct {
	ConfigPath string  // --config flag (empty = use default)
	ListenAddr *string // --listen flag
}
