package solana

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendShortvec(t *testing.T) {
	cases := []struct {
		n    uint16
		want []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x01}},
		{127, []byte{0x7f}},
		{128, []byte{0x80, 0x01}},
		{255, []byte{0xff, 0x01}},
		{16383, []byte{0xff, 0x7f}},
		{16384, []byte{0x80, 0x80, 0x01}},
		{65535, []byte{0xff, 0xff, 0x03}},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, AppendShortvec(nil, c.n), "n=%d", c.n)
	}
}

func TestDecodeShortvec(t *testing.T) {
	for _, n := range []uint16{0, 1, 127, 128, 255, 16383, 16384, 65535} {
		enc := AppendShortvec(nil, n)
		got, consumed, err := DecodeShortvec(append(enc, 0xaa, 0xbb))
		require.NoError(t, err)
		assert.Equal(t, int(n), got)
		assert.Equal(t, len(enc), consumed)
	}
}

func TestDecodeShortvecOverflow(t *testing.T) {
	_, _, err := DecodeShortvec([]byte{0x80, 0x80, 0x80, 0x01})
	assert.ErrorIs(t, err, ErrShortvecOverflow)

	// Truncated continuation.
	_, _, err = DecodeShortvec([]byte{0x80})
	assert.ErrorIs(t, err, ErrShortvecOverflow)

	// Three continuation bytes can exceed 16 bits.
	_, _, err = DecodeShortvec([]byte{0xff, 0xff, 0x7f})
	assert.ErrorIs(t, err, ErrShortvecOverflow)
}
