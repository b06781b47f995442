// Package seal holds the cryptographic primitives used by capability links,
// session tokens and service-account assertions: AES-CBC encryption of short
// strings, HMAC-SHA256 integrity tags and RS256-signed JWT assertions.
//
// Nothing here logs. Callers decide how failures surface; the capability
// codecs turn every error from this package into a plain "invalid" result.
package seal

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

// Sentinel errors. Use errors.Is to check.
var (
	ErrKeySize    = errors.New("seal: key must be 16, 24 or 32 bytes")
	ErrIVSize     = errors.New("seal: iv must be 16 bytes")
	ErrCiphertext = errors.New("seal: malformed ciphertext")
	ErrPadding    = errors.New("seal: invalid padding")
)

// Cipher encrypts short UTF-8 strings with AES in CBC mode and PKCS#7 padding.
//
// With a fixed IV every message is encrypted under the same key and IV, which
// keeps the output byte-compatible with links issued by older deployments but
// leaks equal prefixes. Without one, each message gets a random IV that is
// prepended to the ciphertext.
type Cipher struct {
	block cipher.Block
	iv    []byte
}

// NewCipher builds a Cipher from a raw key. iv may be nil to select random
// per-message IVs.
func NewCipher(key, iv []byte) (*Cipher, error) {
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("%w: got %d", ErrKeySize, len(key))
	}

	if iv != nil && len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("%w: got %d", ErrIVSize, len(iv))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("seal: creating block cipher: %w", err)
	}

	c := &Cipher{block: block}
	if iv != nil {
		c.iv = bytes.Clone(iv)
	}

	return c, nil
}

// FixedIV reports whether the cipher runs in fixed-IV compatibility mode.
func (c *Cipher) FixedIV() bool {
	return c.iv != nil
}

// Encrypt returns the standard base64 encoding of the ciphertext of plaintext.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	padded := pad([]byte(plaintext))

	iv := c.iv
	prefix := 0

	if iv == nil {
		iv = make([]byte, aes.BlockSize)
		if _, err := rand.Read(iv); err != nil {
			return "", fmt.Errorf("seal: generating iv: %w", err)
		}

		prefix = aes.BlockSize
	}

	out := make([]byte, prefix+len(padded))
	copy(out, iv[:prefix])
	cipher.NewCBCEncrypter(c.block, iv).CryptBlocks(out[prefix:], padded)

	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt.
func (c *Cipher) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCiphertext, err)
	}

	iv := c.iv
	if iv == nil {
		if len(raw) < aes.BlockSize {
			return "", ErrCiphertext
		}

		iv, raw = raw[:aes.BlockSize], raw[aes.BlockSize:]
	}

	if len(raw) == 0 || len(raw)%aes.BlockSize != 0 {
		return "", ErrCiphertext
	}

	plain := make([]byte, len(raw))
	cipher.NewCBCDecrypter(c.block, iv).CryptBlocks(plain, raw)

	unpadded, err := unpad(plain)
	if err != nil {
		return "", err
	}

	return string(unpadded), nil
}

func pad(b []byte) []byte {
	n := aes.BlockSize - len(b)%aes.BlockSize
	return append(bytes.Clone(b), bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte) ([]byte, error) {
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, ErrPadding
	}

	for _, v := range b[len(b)-n:] {
		if int(v) != n {
			return nil, ErrPadding
		}
	}

	return b[:len(b)-n], nil
}
