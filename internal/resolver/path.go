package resolver

import (
	"net/url"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// splitPath splits an escaped slash path into decoded, NFC-normalized
// segment names. Empty segments are dropped. ok is false when a segment is
// not valid percent-encoding.
func splitPath(p string) (segs []string, ok bool) {
	for _, raw := range strings.Split(p, "/") {
		if raw == "" {
			continue
		}

		name, err := url.PathUnescape(raw)
		if err != nil {
			return nil, false
		}

		segs = append(segs, norm.NFC.String(name))
	}

	return segs, true
}

// dirKey is the path-cache key of a directory: "/" or "/a/b/".
func dirKey(segs []string) string {
	if len(segs) == 0 {
		return "/"
	}

	return "/" + strings.Join(segs, "/") + "/"
}

// EscapePath escapes each segment of a human-readable slash path so it can be
// passed to the resolver. Slashes stay separators.
func EscapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, s := range parts {
		parts[i] = url.PathEscape(s)
	}

	return strings.Join(parts, "/")
}

// joinEscaped builds "/a/b" from display names, escaping each.
func joinEscaped(names []string) string {
	var b strings.Builder

	for _, n := range names {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(n))
	}

	return b.String()
}
