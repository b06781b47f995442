package config

import (
	"fmt"
	"sort"

	"github.com/tonimelisma/driveindex/internal/auth"
	"github.com/tonimelisma/driveindex/internal/credfile"
)

// Credential builds the auth credential for the named [credential.<name>]
// table, reading service_account_file from disk when set.
func (c *Config) Credential(name string) (auth.Credential, error) {
	cc, ok := c.Credentials[name]
	if !ok {
		return nil, fmt.Errorf("config: unknown credential %q", name)
	}

	switch {
	case cc.ServiceAccountFile != "":
		cred, err := credfile.Load(expandTilde(cc.ServiceAccountFile))
		if err != nil {
			return nil, fmt.Errorf("credential %q: %w", name, err)
		}

		return cred, nil
	case cc.ServiceAccountJSON != "":
		cred, err := credfile.Parse([]byte(cc.ServiceAccountJSON))
		if err != nil {
			return nil, fmt.Errorf("credential %q: %w", name, err)
		}

		return cred, nil
	default:
		return auth.RefreshToken{
			ClientID:     cc.ClientID,
			ClientSecret: cc.ClientSecret,
			RefreshToken: cc.RefreshToken,
		}, nil
	}
}

func sortedCredentialNames(creds map[string]CredentialConfig) []string {
	names := make([]string, 0, len(creds))
	for name := range creds {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}
