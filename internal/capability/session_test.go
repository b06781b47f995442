package capability

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/driveindex/internal/seal"
)

func newTestSessionCodec(t *testing.T) (*SessionCodec, *time.Time) {
	t.Helper()

	c, err := seal.NewCipher(testCryptoKey, testIV)
	require.NoError(t, err)

	now := time.UnixMilli(1_700_000_000_000)
	codec := NewSessionCodec(c)
	codec.now = func() time.Time { return now }

	return codec, &now
}

func TestSession_RoundTrip(t *testing.T) {
	codec, now := newTestSessionCodec(t)

	token, err := codec.Mint("alice", "s3cret|pw", 3*24*time.Hour)
	require.NoError(t, err)
	assert.Len(t, strings.Split(token, "|"), 3)
	assert.NotContains(t, token, "alice")

	s, ok := codec.Verify(token)
	require.True(t, ok)
	assert.Equal(t, "alice", s.Username)
	assert.Equal(t, "s3cret|pw", s.Password)
	assert.Equal(t, now.Add(3*24*time.Hour), s.ExpiresAt)
}

func TestSession_Expired(t *testing.T) {
	codec, now := newTestSessionCodec(t)

	token, err := codec.Mint("alice", "pw", time.Hour)
	require.NoError(t, err)

	*now = now.Add(time.Hour)

	_, ok := codec.Verify(token)
	assert.True(t, ok, "valid through its expiry millisecond")

	*now = now.Add(time.Millisecond)

	_, ok = codec.Verify(token)
	assert.False(t, ok)
}

func TestSession_Malformed(t *testing.T) {
	codec, _ := newTestSessionCodec(t)

	good, err := codec.Mint("alice", "pw", time.Hour)
	require.NoError(t, err)

	parts := strings.Split(good, "|")

	emptyUser, err := codec.Mint("", "pw", time.Hour)
	require.NoError(t, err)

	enc, err := codec.cipher.Encrypt("tomorrow")
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"two parts", parts[0] + "|" + parts[1]},
		{"four parts", good + "|" + parts[0]},
		{"garbage part", parts[0] + "|" + parts[1] + "|@@@"},
		{"non-numeric expiry", parts[0] + "|" + parts[1] + "|" + enc},
		{"empty username", emptyUser},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := codec.Verify(tt.token)
			assert.False(t, ok)
		})
	}
}
