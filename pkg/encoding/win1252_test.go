package encoding

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWin1252RoundTrip(t *testing.T) {
	raw := FromUTF8("Ação café")
	assert.Equal(t, []byte{'A', 0xe7, 0xe3, 'o', ' ', 'c', 'a', 'f', 0xe9}, raw)
	assert.Equal(t, "Ação café", ToUTF8(raw))
}

func TestToUTF8DecodesEveryByte(t *testing.T) {
	assert.Equal(t, "olá", ToUTF8([]byte{' ', ' ', 'o', 'l', 0xe1, ' '}))
	assert.Equal(t, "", ToUTF8(nil))

	// C3 A9 is "é" in UTF-8 but two characters in WIN1252.
	assert.Equal(t, "Ã©", ToUTF8([]byte{0xc3, 0xa9}))
	assert.Equal(t, "Ã©", ToUTF8(FromUTF8("Ã©")))
}

func TestFromUTF8ReplacesUnmappable(t *testing.T) {
	assert.Equal(t, []byte("a?b"), FromUTF8("a漢b"))
}
