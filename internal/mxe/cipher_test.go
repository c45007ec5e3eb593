package mxe

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = bytes.Repeat([]byte{0x42}, 32)

func TestAEADCipher_RoundTrip(t *testing.T) {
	c, err := NewAEADCipher(testSecret)
	require.NoError(t, err)

	blob, err := c.Seal("market-a", EncodeBet(1, 500))
	require.NoError(t, err)
	assert.Len(t, blob, NonceSize+BetPlaintextLen+16)

	pt, err := c.Open("market-a", blob)
	require.NoError(t, err)
	assert.Equal(t, EncodeBet(1, 500), pt)
}

func TestAEADCipher_ScopedToMarket(t *testing.T) {
	c, err := NewAEADCipher(testSecret)
	require.NoError(t, err)

	blob, err := c.Seal("market-a", EncodeBet(0, 1))
	require.NoError(t, err)
	_, err = c.Open("market-b", blob)
	assert.Error(t, err)
}

func TestAEADCipher_Rejects(t *testing.T) {
	c, err := NewAEADCipher(testSecret)
	require.NoError(t, err)
	blob, err := c.Seal("m", EncodeBet(0, 1))
	require.NoError(t, err)

	tampered := append([]byte{}, blob...)
	tampered[len(tampered)-1] ^= 1

	_, err = c.Open("m", tampered)
	assert.Error(t, err)
	_, err = c.Open("m", blob[:NonceSize])
	assert.ErrorIs(t, err, ErrShortCiphertext)

	_, err = NewAEADCipher([]byte("short"))
	assert.Error(t, err)
}

func TestPlainCipher_Copies(t *testing.T) {
	in := []byte{1, 2, 3}
	out, err := PlainCipher{}.Open("m", in)
	require.NoError(t, err)
	out[0] = 9
	assert.Equal(t, byte(1), in[0])
}
