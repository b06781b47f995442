package seal

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultAssertionLifetime is the exp-iat window of a service-account assertion.
const DefaultAssertionLifetime = time.Hour

// ErrPrivateKey is returned when a PEM private key cannot be parsed.
var ErrPrivateKey = errors.New("seal: invalid private key")

// AssertionClaims are the claims of a JWT-bearer grant assertion.
type AssertionClaims struct {
	Issuer   string // service account client_email
	Scope    string
	Audience string // token endpoint
	IssuedAt time.Time
	Lifetime time.Duration // zero means DefaultAssertionLifetime
}

// ParseRSAPrivateKey parses a PKCS#1 or PKCS#8 PEM private key. Keys pasted
// into config files with literal "\n" sequences are accepted.
func ParseRSAPrivateKey(pemKey string) (*rsa.PrivateKey, error) {
	if !strings.Contains(pemKey, "\n") && strings.Contains(pemKey, `\n`) {
		pemKey = strings.ReplaceAll(pemKey, `\n`, "\n")
	}

	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(pemKey))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPrivateKey, err)
	}

	return key, nil
}

// SignAssertion builds header {alg:RS256,typ:JWT}, the claims
// {iss, scope, aud, iat, exp}, and signs base64url(header).base64url(payload)
// with RSA-SHA256.
func SignAssertion(key *rsa.PrivateKey, c AssertionClaims) (string, error) {
	lifetime := c.Lifetime
	if lifetime <= 0 {
		lifetime = DefaultAssertionLifetime
	}

	iat := c.IssuedAt.Unix()

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":   c.Issuer,
		"scope": c.Scope,
		"aud":   c.Audience,
		"iat":   iat,
		"exp":   iat + int64(lifetime/time.Second),
	})

	signed, err := tok.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("seal: signing assertion: %w", err)
	}

	return signed, nil
}
