package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig        = "DRIVEINDEX_CONFIG"
	EnvCryptoBaseKey = "DRIVEINDEX_CRYPTO_BASE_KEY"
	EnvHMACBaseKey   = "DRIVEINDEX_HMAC_BASE_KEY"
	EnvLogLevel      = "DRIVEINDEX_LOG_LEVEL"
)

// EnvOverrides holds values derived from environment variables. Keys can be
// supplied here so they never have to be written to the config file.
type EnvOverrides struct {
	ConfigPath    string // DRIVEINDEX_CONFIG: override config file path
	CryptoBaseKey string // DRIVEINDEX_CRYPTO_BASE_KEY
	HMACBaseKey   string // DRIVEINDEX_HMAC_BASE_KEY
	LogLevel      string // DRIVEINDEX_LOG_LEVEL
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; Resolve applies the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:    os.Getenv(EnvConfig),
		CryptoBaseKey: os.Getenv(EnvCryptoBaseKey),
		HMACBaseKey:   os.Getenv(EnvHMACBaseKey),
		LogLevel:      os.Getenv(EnvLogLevel),
	}
}

// apply copies the non-empty overrides onto cfg.
func (e EnvOverrides) apply(cfg *Config) {
	if e.CryptoBaseKey != "" {
		cfg.CryptoBaseKey = e.CryptoBaseKey
	}

	if e.HMACBaseKey != "" {
		cfg.HMACBaseKey = e.HMACBaseKey
	}

	if e.LogLevel != "" {
		cfg.LogLevel = e.LogLevel
	}
}
