package capability

import (
	"strconv"
	"strings"
	"time"

	"github.com/tonimelisma/driveindex/internal/metrics"
	"github.com/tonimelisma/driveindex/internal/seal"
)

const sessionSeparator = "|"

// Session is the verified content of a session token. The credentials must
// still be checked against the credential store; the token itself has no MAC.
type Session struct {
	Username  string
	Password  string
	ExpiresAt time.Time
}

// SessionCodec mints and parses browser session tokens of the form
// enc(username)|enc(password)|enc(expiry-ms).
type SessionCodec struct {
	cipher *seal.Cipher
	now    func() time.Time
}

// NewSessionCodec creates a SessionCodec.
func NewSessionCodec(cipher *seal.Cipher) *SessionCodec {
	return &SessionCodec{cipher: cipher, now: time.Now}
}

// Mint issues a session token valid for ttl.
func (c *SessionCodec) Mint(username, password string, ttl time.Duration) (string, error) {
	expiry := strconv.FormatInt(c.now().Add(ttl).UnixMilli(), 10)

	parts := make([]string, 0, 3)

	for _, v := range []string{username, password, expiry} {
		enc, err := c.cipher.Encrypt(v)
		if err != nil {
			return "", err
		}

		parts = append(parts, enc)
	}

	return strings.Join(parts, sessionSeparator), nil
}

// Verify decodes token and checks its expiry.
func (c *SessionCodec) Verify(token string) (Session, bool) {
	s, ok := c.verify(token)
	metrics.RecordCapabilityVerification("session", ok)

	return s, ok
}

func (c *SessionCodec) verify(token string) (Session, bool) {
	parts := strings.Split(token, sessionSeparator)
	if len(parts) != 3 {
		return Session{}, false
	}

	plain := make([]string, 0, 3)

	for _, p := range parts {
		v, err := c.cipher.Decrypt(p)
		if err != nil {
			return Session{}, false
		}

		plain = append(plain, v)
	}

	expiryMs, err := strconv.ParseInt(plain[2], 10, 64)
	if err != nil || expiryMs < c.now().UnixMilli() {
		return Session{}, false
	}

	if plain[0] == "" {
		return Session{}, false
	}

	return Session{Username: plain[0], Password: plain[1], ExpiresAt: time.UnixMilli(expiryMs)}, true
}
