package config

import (
	"errors"
	"fmt"
	"time"
)

// Errors returned by Keys.
var (
	ErrMissingCryptoKey = errors.New("config: crypto_base_key is not set")
	ErrMissingHMACKey   = errors.New("config: hmac_base_key is not set")
)

// Keys is the decoded key material for links and sessions.
type Keys struct {
	Crypto []byte
	HMAC   []byte
	IV     []byte // nil selects random per-message IVs
}

// Keys returns the decoded link and session keys, failing when either
// key is unset.
func (c *Config) Keys() (Keys, error) {
	if c.CryptoBaseKey == "" {
		return Keys{}, ErrMissingCryptoKey
	}

	if c.HMACBaseKey == "" {
		return Keys{}, ErrMissingHMACKey
	}

	k := Keys{
		Crypto: []byte(c.CryptoBaseKey),
		HMAC:   []byte(c.HMACBaseKey),
	}

	if c.EncryptIV != "" {
		iv, err := decodeIV(c.EncryptIV)
		if err != nil {
			return Keys{}, fmt.Errorf("encrypt_iv: %w", err)
		}

		k.IV = iv
	}

	return k, nil
}

// LinkTTL is how long minted download links stay valid.
func (c *Config) LinkTTL() time.Duration {
	return time.Duration(c.FileLinkExpiryDays) * 24 * time.Hour
}

// SessionTTL is how long login sessions stay valid.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.LoginDays) * 24 * time.Hour
}

// Timeouts returns the parsed connect and data timeouts. Validate has
// already rejected malformed values, so parse errors fall back to defaults.
func (c *Config) Timeouts() (connect, data time.Duration) {
	connect, err := time.ParseDuration(c.ConnectTimeout)
	if err != nil {
		connect, _ = time.ParseDuration(defaultConnectTimeout)
	}

	data, err = time.ParseDuration(c.DataTimeout)
	if err != nil {
		data, _ = time.ParseDuration(defaultDataTimeout)
	}

	return connect, data
}
