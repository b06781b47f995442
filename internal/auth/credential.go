package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Credential kinds, also used as metric and log labels.
const (
	KindRefreshToken   = "refresh_token"
	KindServiceAccount = "service_account"
)

// Credential is a long-lived secret that Manager exchanges for bearer tokens.
// The set of implementations is closed: RefreshToken and ServiceAccount.
type Credential interface {
	Kind() string

	// cacheKey returns a stable digest identifying the credential.
	cacheKey() string
}

// RefreshToken is an OAuth client plus a user refresh token.
type RefreshToken struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
}

// Kind implements Credential.
func (RefreshToken) Kind() string { return KindRefreshToken }

func (c RefreshToken) cacheKey() string {
	return digest(KindRefreshToken, c.ClientID, c.ClientSecret, c.RefreshToken)
}

// ServiceAccount is a Google service-account JSON key file.
type ServiceAccount struct {
	JSONKey []byte
}

// Kind implements Credential.
func (ServiceAccount) Kind() string { return KindServiceAccount }

func (c ServiceAccount) cacheKey() string {
	return digest(KindServiceAccount, string(c.JSONKey))
}

func digest(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}

	return hex.EncodeToString(h.Sum(nil))
}

// serviceAccountKey is the subset of a Google JSON key the assertion needs.
type serviceAccountKey struct {
	Type        string `json:"type"`
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
}

func parseServiceAccountKey(data []byte) (serviceAccountKey, error) {
	var k serviceAccountKey
	if err := json.Unmarshal(data, &k); err != nil {
		return k, fmt.Errorf("%w: decoding service account key: %w", ErrInvalidCredential, err)
	}

	if k.Type != "" && k.Type != "service_account" {
		return k, fmt.Errorf("%w: key type is %q, want service_account", ErrInvalidCredential, k.Type)
	}

	if k.ClientEmail == "" || k.PrivateKey == "" {
		return k, fmt.Errorf("%w: service account key needs client_email and private_key", ErrInvalidCredential)
	}

	return k, nil
}
