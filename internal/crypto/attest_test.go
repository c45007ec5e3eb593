package crypto

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func newTestAttester(t *testing.T) *Attester {
	t.Helper()
	a, err := NewAttester(testKey)
	require.NoError(t, err)
	return a
}

func TestAttest_VerifiesAgainstAuthority(t *testing.T) {
	a := newTestAttester(t)
	msg := []byte("result bytes")

	sig, err := a.Attest(msg)
	require.NoError(t, err)
	require.Len(t, sig, SignatureLen)
	assert.NoError(t, VerifyAttestation(msg, sig, a.Authority()))
}

func TestAttest_Deterministic(t *testing.T) {
	a := newTestAttester(t)
	s1, err := a.Attest([]byte("x"))
	require.NoError(t, err)
	s2, err := a.Attest([]byte("x"))
	require.NoError(t, err)
	assert.Equal(t, s1, s2)
}

func TestVerifyAttestation_Rejects(t *testing.T) {
	a := newTestAttester(t)
	msg := []byte("result bytes")
	sig, err := a.Attest(msg)
	require.NoError(t, err)

	other, err := GenerateKey()
	require.NoError(t, err)
	stranger, err := NewAttester(other)
	require.NoError(t, err)
	forged, err := stranger.Attest(msg)
	require.NoError(t, err)

	garbled := append([]byte{}, sig...)
	garbled[10] ^= 0xff

	badV := append([]byte{}, sig...)
	badV[64] = 31

	tests := []struct {
		name      string
		msg       []byte
		sig       []byte
		authority string
	}{
		{"forged by another key", msg, forged, a.Authority()},
		{"garbled signature", msg, garbled, a.Authority()},
		{"tampered bytes", []byte("result bytez"), sig, a.Authority()},
		{"wrong authority", msg, sig, stranger.Authority()},
		{"short signature", msg, sig[:64], a.Authority()},
		{"bad recovery id", msg, badV, a.Authority()},
		{"invalid authority", msg, sig, "not-an-address"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, VerifyAttestation(tc.msg, tc.sig, tc.authority))
		})
	}
}

func TestVerifyAttestation_RejectsHighS(t *testing.T) {
	a := newTestAttester(t)
	msg := []byte("malleable")
	sig, err := a.Attest(msg)
	require.NoError(t, err)

	n := ethcrypto.S256().Params().N
	s := new(big.Int).SetBytes(sig[32:64])
	highS := new(big.Int).Sub(n, s)

	flipped := make([]byte, SignatureLen)
	copy(flipped, sig[:32])
	highS.FillBytes(flipped[32:64])
	flipped[64] = 27 + (1 - (sig[64] - 27))

	assert.ErrorIs(t, VerifyAttestation(msg, flipped, a.Authority()), ErrBadSignature)
}

func TestKeyFile_RoundTrip(t *testing.T) {
	data, err := EncryptKey("0x"+testKey, "hunter2")
	require.NoError(t, err)

	got, err := DecryptKey(data, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, testKey, got)

	_, err = DecryptKey(data, "wrong")
	assert.Error(t, err)
}

func TestLoadAttester_Sources(t *testing.T) {
	want := newTestAttester(t).Authority()

	a, err := LoadAttester(KeyConfig{RawPrivateKey: "0x" + testKey})
	require.NoError(t, err)
	assert.Equal(t, want, a.Authority())

	data, err := EncryptKey(testKey, "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "authority.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	a, err = LoadAttester(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"})
	require.NoError(t, err)
	assert.Equal(t, want, a.Authority())

	_, err = LoadKey(KeyConfig{})
	assert.Error(t, err)

	a, err = LoadAttester(KeyConfig{Ephemeral: true})
	require.NoError(t, err)
	assert.NotEqual(t, want, a.Authority())
}

func TestHMACAuth_Verify(t *testing.T) {
	h := &HMACAuth{Key: "key-1", Secret: "s3cret"}
	now := time.Unix(1_700_000_000, 0)
	hdr := h.HeadersAt("POST", "/v1/transfers", `{"amount":1}`, now.Unix())

	assert.Equal(t, "key-1", hdr[HeaderAPIKey])
	assert.True(t, h.Verify("POST", "/v1/transfers", `{"amount":1}`, hdr[HeaderTimestamp], hdr[HeaderSignature], now, time.Minute))
	assert.False(t, h.Verify("POST", "/v1/transfers", `{"amount":2}`, hdr[HeaderTimestamp], hdr[HeaderSignature], now, time.Minute))
	assert.False(t, h.Verify("POST", "/v1/transfers", `{"amount":1}`, hdr[HeaderTimestamp], hdr[HeaderSignature], now.Add(time.Hour), time.Minute))
	assert.NotContains(t, h.String(), "s3cret")
}
