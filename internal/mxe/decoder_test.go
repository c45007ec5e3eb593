package mxe

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBetDecoder_Decode(t *testing.T) {
	dec := NewBetDecoder(PlainCipher{}, "m")

	tests := []struct {
		name    string
		blob    []byte
		want    DecryptedBet
		wantErr error
		reason  string
	}{
		{"yes", EncodeBet(1, 100), DecryptedBet{Depositor: "alice", Choice: 1, Stake: 100}, nil, ""},
		{"no", EncodeBet(0, 1), DecryptedBet{Depositor: "alice", Choice: 0, Stake: 1}, nil, ""},
		{"empty", nil, DecryptedBet{}, ErrBadLength, "malformed payload"},
		{"truncated", EncodeBet(1, 100)[:5], DecryptedBet{}, ErrBadLength, "malformed payload"},
		{"too long", append(EncodeBet(1, 100), 0), DecryptedBet{}, ErrBadLength, "malformed payload"},
		{"bad choice", EncodeBet(2, 100), DecryptedBet{}, ErrBadChoice, "invalid choice"},
		{"zero stake", EncodeBet(1, 0), DecryptedBet{}, ErrZeroStake, "zero stake"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := dec.Decode("alice", tc.blob)
			if tc.wantErr == nil {
				require.NoError(t, err)
				assert.Equal(t, tc.want, got)
				return
			}
			var de *DecodeError
			require.True(t, errors.As(err, &de))
			assert.ErrorIs(t, err, tc.wantErr)
			assert.Equal(t, "alice", de.Depositor)
			assert.Equal(t, tc.reason, de.Reason())
		})
	}
}

func TestBetDecoder_AuthenticationFailure(t *testing.T) {
	c, err := NewAEADCipher(testSecret)
	require.NoError(t, err)
	dec := NewBetDecoder(c, "m")

	_, err = dec.Decode("bob", []byte("definitely not a sealed blob at all"))
	var de *DecodeError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "authentication failed", de.Reason())
}

func TestBetDecoder_NeverPanics(t *testing.T) {
	dec := NewBetDecoder(PlainCipher{}, "m")
	for n := 0; n < 64; n++ {
		blob := make([]byte, n)
		for i := range blob {
			blob[i] = byte(i * 37)
		}
		assert.NotPanics(t, func() { _, _ = dec.Decode("x", blob) })
	}
}
