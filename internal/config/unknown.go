package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/BurntSushi/toml"
)

// Suggestions further than this many edits away are not offered.
const maxLevenshteinDistance = 3

// knownGlobalKeys lists every top-level key Config decodes, plus the
// three table names.
var knownGlobalKeys = map[string]bool{
	// Link settings
	"file_link_expiry_days": true, "enable_ip_lock": true, "download_mode": true,
	"enable_cors_file_down": true,
	// Listing settings
	"files_list_page_size": true, "search_result_list_page_size": true,
	"search_all_drives": true, "path_cache_size": true,
	// Keys
	"crypto_base_key": true, "hmac_base_key": true, "encrypt_iv": true,
	// Login settings
	"enable_login": true, "enable_signup": true, "login_days": true,
	"login_database": true, "user_db_path": true, "disable_anonymous_download": true,
	"single_session": true, "ip_changed_action": true,
	// Server settings
	"listen_addr": true, "client_ip_header": true,
	// Logging settings
	"log_level": true, "log_file": true, "log_format": true,
	// Network settings
	"connect_timeout": true, "data_timeout": true, "user_agent": true,
	"token_url": true, "api_endpoint": true,
	// Tables
	"root": true, "credential": true, "user": true,
}

// Valid keys inside the nested tables.
var (
	knownRootKeys = map[string]bool{
		"id": true, "name": true, "protect_link": true, "credential": true,
	}
	knownCredentialKeys = map[string]bool{
		"client_id": true, "client_secret": true, "refresh_token": true,
		"service_account_file": true, "service_account_json": true,
	}
	knownUserKeys = map[string]bool{
		"username": true, "password": true,
	}
)

func sortedKeys(m map[string]bool) []string {
	return slices.Sorted(maps.Keys(m))
}

// checkUnknownKeys turns every key toml left undecoded into an error,
// with a "did you mean?" hint where a near match exists. Duplicate messages
// are reported once.
func checkUnknownKeys(md *toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	var errs []error

	seen := make(map[string]bool)

	for _, key := range undecoded {
		err := unknownKeyError(key)
		if err == nil || seen[err.Error()] {
			continue
		}

		seen[err.Error()] = true
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// unknownKeyError describes one undecoded key. Keys inside [[root]],
// [credential.<name>] and [[user]] tables are checked against that table's
// own key set.
func unknownKeyError(key toml.Key) error {
	section := key[0]

	var (
		known map[string]bool
		where string
		leaf  string
	)

	switch {
	case section == "root" && len(key) > 1:
		known, where, leaf = knownRootKeys, "[[root]]", key[1]
	case section == "user" && len(key) > 1:
		known, where, leaf = knownUserKeys, "[[user]]", key[1]
	case section == "credential" && len(key) > 2:
		known, where, leaf = knownCredentialKeys, fmt.Sprintf("[credential.%s]", key[1]), key[2]
	case section == "credential" && len(key) == 2:
		return nil // the table itself; its keys are reported individually
	default:
		known, where, leaf = knownGlobalKeys, "", section
	}

	if known[leaf] {
		return nil
	}

	prefix := "unknown config key"
	if where != "" {
		prefix = "unknown key in " + where
	}

	if suggestion := closestMatch(leaf, sortedKeys(known)); suggestion != "" {
		return fmt.Errorf("%s %q: did you mean %q?", prefix, leaf, suggestion)
	}

	return fmt.Errorf("%s %q", prefix, leaf)
}

// closestMatch returns the key in known nearest to unknown, or "" when
// none is within maxLevenshteinDistance. Ties go to the earlier key.
func closestMatch(unknown string, known []string) string {
	best, bestDist := "", maxLevenshteinDistance+1

	for _, k := range known {
		if d := levenshtein(unknown, k); d < bestDist {
			best, bestDist = k, d
		}
	}

	return best
}

func levenshtein(a, b string) int {
	row := make([]int, len(b)+1)
	for j := range row {
		row[j] = j
	}

	for i := 1; i <= len(a); i++ {
		diag := row[0]
		row[0] = i

		for j := 1; j <= len(b); j++ {
			up := row[j]

			sub := diag
			if a[i-1] != b[j-1] {
				sub++
			}

			row[j] = min(row[j-1]+1, up+1, sub)
			diag = up
		}
	}

	return row[len(b)]
}
