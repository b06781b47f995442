// Package credfile reads and writes Google credential JSON files: service
// account keys and "authorized_user" refresh-token files as written by gcloud.
// Files are turned into auth.Credential values; their contents are never logged.
package credfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tonimelisma/driveindex/internal/auth"
)

// FilePerms restricts credential files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the credentials directory.
const DirPerms = 0o700

// Credential file types, from the "type" field.
const (
	TypeServiceAccount = "service_account"
	TypeAuthorizedUser = "authorized_user"
)

// ErrUnsupported is returned for JSON files of an unknown credential type.
var ErrUnsupported = errors.New("credfile: unsupported credential type")

// header is the part of a credential file every type shares.
type header struct {
	Type         string `json:"type"`
	ClientEmail  string `json:"client_email"`
	PrivateKey   string `json:"private_key"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RefreshToken string `json:"refresh_token"`
}

// Load reads a credential file from disk.
func Load(path string) (auth.Credential, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("credfile: reading %s: %w", path, err)
	}

	cred, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("credfile: %s: %w", path, err)
	}

	return cred, nil
}

// Parse decodes a credential file's contents. A file without a "type" field
// is accepted as a service account key when it carries client_email and
// private_key.
func Parse(data []byte) (auth.Credential, error) {
	var h header
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("decoding: %w", err)
	}

	typ := h.Type
	if typ == "" && h.ClientEmail != "" && h.PrivateKey != "" {
		typ = TypeServiceAccount
	}

	switch typ {
	case TypeServiceAccount:
		if h.ClientEmail == "" || h.PrivateKey == "" {
			return nil, errors.New("service account key needs client_email and private_key")
		}

		return auth.ServiceAccount{JSONKey: data}, nil
	case TypeAuthorizedUser:
		if h.RefreshToken == "" {
			return nil, errors.New("authorized_user file has no refresh_token")
		}

		return auth.RefreshToken{
			ClientID:     h.ClientID,
			ClientSecret: h.ClientSecret,
			RefreshToken: h.RefreshToken,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, h.Type)
	}
}

// Save validates data as a credential file and writes it atomically
// (write-to-temp + rename) with 0600 permissions.
func Save(path string, data []byte) error {
	if _, err := Parse(data); err != nil {
		return fmt.Errorf("credfile: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DirPerms); err != nil {
		return fmt.Errorf("credfile: creating directory %s: %w", dir, err)
	}

	// Same directory guarantees same filesystem for rename(2).
	tmp, err := os.CreateTemp(dir, ".credential-*.tmp")
	if err != nil {
		return fmt.Errorf("credfile: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("credfile: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("credfile: writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("credfile: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("credfile: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("credfile: renaming: %w", err)
	}

	success = true

	return nil
}
