package seal

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMAC_SumMatchesHMACOverJoinedFields(t *testing.T) {
	key := []byte("4d1fbf294186b82d74fff2494c04012364200263d6a36123db0bd08d6be1423c")
	m := NewMAC(key)

	h := hmac.New(sha256.New, key)
	h.Write([]byte("file-1|1700000000000"))
	want := hex.EncodeToString(h.Sum(nil))

	assert.Equal(t, want, m.Sum("file-1", "1700000000000"))
	assert.Len(t, want, 64)
}

func TestMAC_Verify(t *testing.T) {
	m := NewMAC([]byte("k"))
	tag := m.Sum("a", "b", "c")

	assert.True(t, m.Verify(tag, "a", "b", "c"))
	assert.True(t, m.Verify(strings.ToUpper(tag), "a", "b", "c"))
	assert.False(t, m.Verify(tag, "a", "b"))
	assert.False(t, m.Verify(tag, "a|b", "d"))
	assert.False(t, m.Verify("zz", "a", "b", "c"))
	assert.False(t, m.Verify("", "a", "b", "c"))
}

func TestMAC_EverySingleCharFlipRejected(t *testing.T) {
	m := NewMAC([]byte("k"))
	tag := m.Sum("id", "123")

	for i := range len(tag) {
		flipped := []byte(tag)
		if flipped[i] == '0' {
			flipped[i] = '1'
		} else {
			flipped[i] = '0'
		}

		assert.False(t, m.Verify(string(flipped), "id", "123"), "flip at %d", i)
	}
}

func TestNewMAC_CopiesKey(t *testing.T) {
	key := []byte("key")
	m := NewMAC(key)
	tag := m.Sum("x")

	key[0] = 'X'
	assert.Equal(t, tag, m.Sum("x"))
}
