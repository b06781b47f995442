package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_UnknownKey_TopLevel(t *testing.T) {
	path := writeTestConfig(t, `
unknown_section = "value"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config key")
}

func TestLoad_UnknownKey_Suggestion(t *testing.T) {
	path := writeTestConfig(t, `file_link_expiry_day = 3`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `did you mean "file_link_expiry_days"?`)
}

func TestLoad_UnknownKey_NoSuggestion(t *testing.T) {
	path := writeTestConfig(t, `completely_unrelated_setting = true`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown config key "completely_unrelated_setting"`)
	assert.NotContains(t, err.Error(), "did you mean")
}

func TestLoad_UnknownKey_InRoot(t *testing.T) {
	path := writeTestConfig(t, `
[[root]]
id = "root"
credential = "main"
protect_links = true

[credential.main]
client_id = "a"
client_secret = "b"
refresh_token = "c"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[[root]]")
	assert.Contains(t, err.Error(), `"protect_link"`)
}

func TestLoad_UnknownKey_InCredential(t *testing.T) {
	path := writeTestConfig(t, `
[credential.main]
client_id = "a"
client_secret = "b"
refresh_tokn = "c"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[credential.main]")
	assert.Contains(t, err.Error(), `"refresh_token"`)
}

func TestLoad_UnknownKey_InUser(t *testing.T) {
	path := writeTestConfig(t, `
[[user]]
username = "alice"
password = "pw"
pass = "x"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[[user]]")
}

func TestLevenshtein(t *testing.T) {
	assert.Equal(t, 0, levenshtein("abc", "abc"))
	assert.Equal(t, 3, levenshtein("", "abc"))
	assert.Equal(t, 3, levenshtein("abc", ""))
	assert.Equal(t, 1, levenshtein("log_level", "log_levl"))
	assert.Equal(t, 3, levenshtein("kitten", "sitting"))
}

func TestClosestMatch(t *testing.T) {
	known := sortedKeys(knownGlobalKeys)

	assert.Equal(t, "listen_addr", closestMatch("listen_adr", known))
	assert.Empty(t, closestMatch("zzzzzzzzzzzzzz", known))
}
