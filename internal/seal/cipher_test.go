package seal

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testKey = []byte("3225f86e99e205347b4310e437253bfd")
	testIV  = []byte{247, 254, 106, 195, 32, 148, 131, 244, 222, 133, 26, 182, 20, 138, 215, 81}
)

func TestCipher_FixedIVRoundTrip(t *testing.T) {
	c, err := NewCipher(testKey, testIV)
	require.NoError(t, err)
	assert.True(t, c.FixedIV())

	for _, plain := range []string{"", "1a2b3c", "exactly-16-bytes", "ünïcødé file id ✓"} {
		enc, err := c.Encrypt(plain)
		require.NoError(t, err)

		dec, err := c.Decrypt(enc)
		require.NoError(t, err)
		assert.Equal(t, plain, dec)
	}
}

func TestCipher_FixedIVIsDeterministic(t *testing.T) {
	c, err := NewCipher(testKey, testIV)
	require.NoError(t, err)

	a, err := c.Encrypt("file-id")
	require.NoError(t, err)
	b, err := c.Encrypt("file-id")
	require.NoError(t, err)

	assert.Equal(t, a, b)

	raw, err := base64.StdEncoding.DecodeString(a)
	require.NoError(t, err)
	assert.Len(t, raw, 16)
}

func TestCipher_RandomIV(t *testing.T) {
	c, err := NewCipher(testKey, nil)
	require.NoError(t, err)
	assert.False(t, c.FixedIV())

	a, err := c.Encrypt("file-id")
	require.NoError(t, err)
	b, err := c.Encrypt("file-id")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	raw, err := base64.StdEncoding.DecodeString(a)
	require.NoError(t, err)
	assert.Len(t, raw, 32, "iv block followed by one ciphertext block")

	for _, enc := range []string{a, b} {
		dec, err := c.Decrypt(enc)
		require.NoError(t, err)
		assert.Equal(t, "file-id", dec)
	}
}

func TestNewCipher_RejectsBadSizes(t *testing.T) {
	_, err := NewCipher([]byte("short"), nil)
	require.ErrorIs(t, err, ErrKeySize)

	_, err = NewCipher(testKey, []byte("tiny"))
	require.ErrorIs(t, err, ErrIVSize)
}

func TestCipher_DecryptMalformed(t *testing.T) {
	fixed, err := NewCipher(testKey, testIV)
	require.NoError(t, err)

	random, err := NewCipher(testKey, nil)
	require.NoError(t, err)

	tests := []struct {
		name  string
		c     *Cipher
		input string
	}{
		{"not base64", fixed, "%%%"},
		{"empty", fixed, ""},
		{"partial block", fixed, base64.StdEncoding.EncodeToString([]byte("abc"))},
		{"random iv only", random, base64.StdEncoding.EncodeToString(testIV)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.c.Decrypt(tt.input)
			assert.ErrorIs(t, err, ErrCiphertext)
		})
	}
}

func TestCipher_WrongKeyFailsOrGarbles(t *testing.T) {
	a, err := NewCipher(testKey, testIV)
	require.NoError(t, err)

	b, err := NewCipher([]byte("ffffffffffffffffffffffffffffffff"), testIV)
	require.NoError(t, err)

	enc, err := a.Encrypt("secret-id")
	require.NoError(t, err)

	dec, err := b.Decrypt(enc)
	if err == nil {
		assert.NotEqual(t, "secret-id", dec)
	}
}

func TestUnpad(t *testing.T) {
	_, err := unpad([]byte{1, 2, 3, 0})
	require.ErrorIs(t, err, ErrPadding)

	_, err = unpad([]byte{1, 2, 3, 17})
	require.ErrorIs(t, err, ErrPadding)

	_, err = unpad([]byte{1, 3, 2, 2, 3})
	require.ErrorIs(t, err, ErrPadding)

	out, err := unpad([]byte{'a', 'b', 2, 2})
	require.NoError(t, err)
	assert.Equal(t, []byte("ab"), out)
}
