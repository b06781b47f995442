package config

import (
	"fmt"
	"io"
)

const redacted = "(set)"

// RenderEffective writes the resolved configuration as a human-readable
// annotated summary to w. This powers the "config show" command. Secrets
// are never printed; set secrets render as "(set)".
func RenderEffective(cfg *Config, path string, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (%s)\n\n", path)

	renderLinkSection(ew, cfg)
	renderListingSection(ew, &cfg.ListingConfig)
	renderKeysSection(ew, &cfg.KeysConfig)
	renderLoginSection(ew, &cfg.LoginConfig, len(cfg.Users))
	renderServerSection(ew, cfg)
	renderRoots(ew, cfg)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops, so callers can chain
// printf calls without checking each one individually.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func secret(s string) string {
	if s == "" {
		return ""
	}

	return redacted
}

func renderLinkSection(ew *errWriter, cfg *Config) {
	ew.printf("[links]\n")
	ew.printf("  file_link_expiry_days = %d\n", cfg.FileLinkExpiryDays)
	ew.printf("  enable_ip_lock        = %t\n", cfg.EnableIPLock)
	ew.printf("  download_mode         = %q\n", cfg.DownloadMode)
	ew.printf("  enable_cors_file_down = %t\n", cfg.EnableCORSFileDown)
	ew.printf("\n")
}

func renderListingSection(ew *errWriter, l *ListingConfig) {
	ew.printf("[listing]\n")
	ew.printf("  files_list_page_size         = %d\n", l.FilesListPageSize)
	ew.printf("  search_result_list_page_size = %d\n", l.SearchResultListPageSize)
	ew.printf("  search_all_drives            = %t\n", l.SearchAllDrives)
	ew.printf("  path_cache_size              = %d\n", l.PathCacheSize)
	ew.printf("\n")
}

func renderKeysSection(ew *errWriter, k *KeysConfig) {
	ew.printf("[keys]\n")
	ew.printf("  crypto_base_key = %q\n", secret(k.CryptoBaseKey))
	ew.printf("  hmac_base_key   = %q\n", secret(k.HMACBaseKey))

	if k.EncryptIV != "" {
		ew.printf("  encrypt_iv      = %q\n", redacted)
	}

	ew.printf("\n")
}

func renderLoginSection(ew *errWriter, l *LoginConfig, users int) {
	ew.printf("[login]\n")
	ew.printf("  enable_login               = %t\n", l.EnableLogin)
	ew.printf("  enable_signup              = %t\n", l.EnableSignup)
	ew.printf("  login_days                 = %d\n", l.LoginDays)
	ew.printf("  login_database             = %q\n", l.LoginDatabase)

	if l.LoginDatabase == LoginDatabaseSQLite {
		ew.printf("  user_db_path               = %q\n", l.UserDBPath)
	} else {
		ew.printf("  users                      = %d\n", users)
	}

	ew.printf("  disable_anonymous_download = %t\n", l.DisableAnonymousDownload)
	ew.printf("  single_session             = %t\n", l.SingleSession)
	ew.printf("  ip_changed_action          = %t\n", l.IPChangedAction)
	ew.printf("\n")
}

func renderServerSection(ew *errWriter, cfg *Config) {
	ew.printf("[server]\n")
	ew.printf("  listen_addr      = %q\n", cfg.ListenAddr)
	ew.printf("  client_ip_header = %q\n", cfg.ClientIPHeader)
	ew.printf("  log_level        = %q\n", cfg.LogLevel)
	ew.printf("  log_format       = %q\n", cfg.LogFormat)

	if cfg.LogFile != "" {
		ew.printf("  log_file         = %q\n", cfg.LogFile)
	}

	ew.printf("  connect_timeout  = %q\n", cfg.ConnectTimeout)
	ew.printf("  data_timeout     = %q\n", cfg.DataTimeout)

	if cfg.UserAgent != "" {
		ew.printf("  user_agent       = %q\n", cfg.UserAgent)
	}

	if cfg.TokenURL != "" {
		ew.printf("  token_url        = %q\n", cfg.TokenURL)
	}

	if cfg.APIEndpoint != "" {
		ew.printf("  api_endpoint     = %q\n", cfg.APIEndpoint)
	}
}

func renderRoots(ew *errWriter, cfg *Config) {
	for i, r := range cfg.Roots {
		ew.printf("\n[[root]] # %d\n", i)
		ew.printf("  id           = %q\n", r.ID)
		ew.printf("  name         = %q\n", r.Name)
		ew.printf("  protect_link = %t\n", r.ProtectLink)
		ew.printf("  credential   = %q\n", r.Credential)
	}

	for _, name := range sortedCredentialNames(cfg.Credentials) {
		c := cfg.Credentials[name]

		ew.printf("\n[credential.%s]\n", name)

		switch {
		case c.ServiceAccountFile != "":
			ew.printf("  service_account_file = %q\n", c.ServiceAccountFile)
		case c.ServiceAccountJSON != "":
			ew.printf("  service_account_json = %q\n", redacted)
		default:
			ew.printf("  client_id     = %q\n", c.ClientID)
			ew.printf("  client_secret = %q\n", secret(c.ClientSecret))
			ew.printf("  refresh_token = %q\n", secret(c.RefreshToken))
		}
	}
}

// Redacted returns a copy of cfg with every secret replaced by "(set)",
// for machine-readable output.
func (c *Config) Redacted() *Config {
	out := *c

	out.CryptoBaseKey = secret(c.CryptoBaseKey)
	out.HMACBaseKey = secret(c.HMACBaseKey)
	out.EncryptIV = secret(c.EncryptIV)

	out.Roots = append([]RootConfig(nil), c.Roots...)

	out.Credentials = make(map[string]CredentialConfig, len(c.Credentials))
	for name, cred := range c.Credentials {
		cred.ClientSecret = secret(cred.ClientSecret)
		cred.RefreshToken = secret(cred.RefreshToken)
		cred.ServiceAccountJSON = secret(cred.ServiceAccountJSON)
		out.Credentials[name] = cred
	}

	out.Users = make([]UserConfig, len(c.Users))
	for i, u := range c.Users {
		out.Users[i] = UserConfig{Username: u.Username, Password: secret(u.Password)}
	}

	return &out
}
