// Package capability mints and verifies capability links and session tokens.
//
// A download link carries the encrypted file id, the encrypted expiry in
// epoch milliseconds, optionally the encrypted client IP it is bound to, and
// an HMAC over the plaintext values. A session token carries the encrypted
// username, password and expiry. Verification never explains why a token
// was rejected: malformed input, decryption failure, expiry and a bad MAC
// all yield the same invalid result.
package capability

import (
	"net/url"
	"strconv"
	"time"

	"github.com/tonimelisma/driveindex/internal/metrics"
	"github.com/tonimelisma/driveindex/internal/seal"
)

// DownloadPath is the route download links point at.
const DownloadPath = "/download.aspx"

// Query parameter names of a download link.
const (
	ParamFile   = "file"
	ParamExpiry = "expiry"
	ParamIP     = "ip"
	ParamMAC    = "mac"
)

// Link is a minted download capability.
type Link struct {
	File      string // encrypted file id
	Expiry    string // encrypted expiry, epoch milliseconds
	IP        string // encrypted bound IP, empty when unbound
	MAC       string // hex HMAC over id|expiry[|ip]
	ExpiresAt time.Time
}

// Query returns the link as URL query values.
func (l Link) Query() url.Values {
	v := url.Values{
		ParamFile:   {l.File},
		ParamExpiry: {l.Expiry},
		ParamMAC:    {l.MAC},
	}

	if l.IP != "" {
		v.Set(ParamIP, l.IP)
	}

	return v
}

// URL returns the link as a path with query, relative to the server root.
func (l Link) URL() string {
	return DownloadPath + "?" + l.Query().Encode()
}

// LinkFromQuery reads a link's parameters from query values.
func LinkFromQuery(v url.Values) Link {
	return Link{
		File:   v.Get(ParamFile),
		Expiry: v.Get(ParamExpiry),
		IP:     v.Get(ParamIP),
		MAC:    v.Get(ParamMAC),
	}
}

// Claims are the verified contents of a download link.
type Claims struct {
	FileID    string
	ExpiresAt time.Time
	BoundIP   string
}

// LinkCodec mints and verifies download links and wraps ids for listings.
type LinkCodec struct {
	cipher    *seal.Cipher
	mac       *seal.MAC
	ttl       time.Duration
	requireIP bool

	now func() time.Time
}

// NewLinkCodec creates a LinkCodec whose links live for ttl. With requireIP,
// links minted for a known client IP are bound to it, and unbound links are
// rejected when the verifying request has a known IP.
func NewLinkCodec(cipher *seal.Cipher, mac *seal.MAC, ttl time.Duration, requireIP bool) *LinkCodec {
	return &LinkCodec{
		cipher:    cipher,
		mac:       mac,
		ttl:       ttl,
		requireIP: requireIP,
		now:       time.Now,
	}
}

// RequireIP reports whether links are bound to client IPs by default.
func (c *LinkCodec) RequireIP() bool { return c.requireIP }

// Mint issues a link for fileID. A non-empty bindIP binds the link to that
// client address.
func (c *LinkCodec) Mint(fileID, bindIP string) (Link, error) {
	return c.MintUntil(fileID, bindIP, c.now().Add(c.ttl))
}

// MintUntil issues a link for fileID that expires at expiresAt.
func (c *LinkCodec) MintUntil(fileID, bindIP string, expiresAt time.Time) (Link, error) {
	expiry := strconv.FormatInt(expiresAt.UnixMilli(), 10)

	encID, err := c.cipher.Encrypt(fileID)
	if err != nil {
		return Link{}, err
	}

	encExpiry, err := c.cipher.Encrypt(expiry)
	if err != nil {
		return Link{}, err
	}

	link := Link{
		File:      encID,
		Expiry:    encExpiry,
		ExpiresAt: time.UnixMilli(expiresAt.UnixMilli()),
	}

	if bindIP != "" {
		if link.IP, err = c.cipher.Encrypt(bindIP); err != nil {
			return Link{}, err
		}

		link.MAC = c.mac.Sum(fileID, expiry, bindIP)
	} else {
		link.MAC = c.mac.Sum(fileID, expiry)
	}

	metrics.RecordLinkMinted()

	return link, nil
}

// Verify checks link for a request from clientIP. Expiry is checked before
// the MAC. A link is accepted while its expiry is not before now, to the
// millisecond.
func (c *LinkCodec) Verify(link Link, clientIP string) (Claims, bool) {
	claims, ok := c.verify(link, clientIP)
	metrics.RecordCapabilityVerification("link", ok)

	return claims, ok
}

func (c *LinkCodec) verify(link Link, clientIP string) (Claims, bool) {
	if link.File == "" || link.Expiry == "" || link.MAC == "" {
		return Claims{}, false
	}

	fileID, err := c.cipher.Decrypt(link.File)
	if err != nil {
		return Claims{}, false
	}

	rawExpiry, err := c.cipher.Decrypt(link.Expiry)
	if err != nil {
		return Claims{}, false
	}

	expiryMs, err := strconv.ParseInt(rawExpiry, 10, 64)
	if err != nil {
		return Claims{}, false
	}

	if expiryMs < c.now().UnixMilli() {
		return Claims{}, false
	}

	fields := []string{fileID, strconv.FormatInt(expiryMs, 10)}

	var boundIP string

	switch {
	case link.IP != "":
		if boundIP, err = c.cipher.Decrypt(link.IP); err != nil || boundIP != clientIP {
			return Claims{}, false
		}

		fields = append(fields, boundIP)
	case c.requireIP && clientIP != "":
		return Claims{}, false
	}

	if !c.mac.Verify(link.MAC, fields...) {
		return Claims{}, false
	}

	return Claims{FileID: fileID, ExpiresAt: time.UnixMilli(expiryMs), BoundIP: boundIP}, true
}

// EncryptID wraps a file or drive id for use outside the process.
func (c *LinkCodec) EncryptID(id string) (string, error) {
	return c.cipher.Encrypt(id)
}

// DecryptID unwraps an id produced by EncryptID.
func (c *LinkCodec) DecryptID(enc string) (string, bool) {
	id, err := c.cipher.Decrypt(enc)
	if err != nil || id == "" {
		return "", false
	}

	return id, true
}
