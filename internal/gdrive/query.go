package gdrive

import (
	"regexp"
	"strings"
)

var (
	// Operators, quotes and path characters are dropped from search keywords.
	searchStrip = regexp.MustCompile(`!=|['"=<>/\\:]`)
	// Separators split keywords.
	searchSplit = regexp.MustCompile(`[,，|(){}]`)
)

// escapeQuery makes s safe inside a single-quoted Drive query literal.
// Backslashes are escaped before quotes so the quote escapes survive, and
// control characters are removed.
func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "'", `\'`)

	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}

		return r
	}, s)
}

// SearchTerms sanitizes a user search string into individual terms.
func SearchTerms(keyword string) []string {
	keyword = searchStrip.ReplaceAllString(keyword, "")
	keyword = searchSplit.ReplaceAllString(keyword, " ")

	return strings.Fields(keyword)
}

// childQuery selects the live children of parentID.
func childQuery(parentID string) string {
	return "'" + escapeQuery(parentID) + "' in parents and trashed = false"
}

// listQuery selects visible children of parentID: not trashed, not a
// shortcut and not the password marker.
func listQuery(parentID string) string {
	return childQuery(parentID) + visibleFilter
}

const visibleFilter = " and name != '" + PasswordMarker + "' and mimeType != '" + MimeShortcut + "'"

// findQuery selects a child by exact name. folderOnly restricts the match to
// folders; otherwise shortcuts are excluded.
func findQuery(parentID, name string, folderOnly bool) string {
	q := childQuery(parentID) + " and name = '" + escapeQuery(name) + "'"
	if folderOnly {
		return q + " and mimeType = '" + MimeFolder + "'"
	}

	return q + " and mimeType != '" + MimeShortcut + "'"
}

// searchQuery matches files whose name contains every term.
func searchQuery(terms []string) string {
	var b strings.Builder

	b.WriteString("trashed = false")
	b.WriteString(visibleFilter)

	for _, t := range terms {
		b.WriteString(" and name contains '")
		b.WriteString(escapeQuery(t))
		b.WriteString("'")
	}

	return b.String()
}
