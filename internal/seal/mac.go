package seal

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// fieldSeparator joins claim values into the canonical string that is signed.
const fieldSeparator = "|"

// MAC computes HMAC-SHA256 tags over pipe-delimited plaintext fields.
type MAC struct {
	key []byte
}

// NewMAC returns a MAC keyed with the given secret.
func NewMAC(key []byte) *MAC {
	return &MAC{key: append([]byte(nil), key...)}
}

// Sum returns the lowercase hex tag of fields joined by "|".
func (m *MAC) Sum(fields ...string) string {
	return hex.EncodeToString(m.sum(fields))
}

// Verify reports whether tag is the hex tag of fields. The comparison time
// does not depend on where the first mismatching byte is.
func (m *MAC) Verify(tag string, fields ...string) bool {
	got, err := hex.DecodeString(strings.ToLower(tag))
	if err != nil {
		return false
	}

	return hmac.Equal(got, m.sum(fields))
}

func (m *MAC) sum(fields []string) []byte {
	h := hmac.New(sha256.New, m.key)
	h.Write([]byte(strings.Join(fields, fieldSeparator)))

	return h.Sum(nil)
}
