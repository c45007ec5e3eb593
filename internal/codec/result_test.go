package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/alanyoungcy/sealedmarket/internal/domain"
)

func sampleResult() domain.MarketResult {
	return domain.MarketResult{
		MarketID:      "0x1111111111111111111111111111111111111111",
		WinningChoice: domain.ChoiceYes,
		TotalPool:     1000,
		FeeAmount:     20,
		Dust:          1,
		Payouts: []domain.Payout{
			{Recipient: "0xaaaa", Amount: 326},
			{Recipient: "0xbbbb", Amount: 653},
		},
		Excluded: []domain.Exclusion{
			{Depositor: "0xcccc", Reason: "authentication failed"},
		},
		Timestamp: -42,
	}
}

func TestEncodeResult_RoundTrip(t *testing.T) {
	r := sampleResult()
	b := EncodeResult(r)

	got, err := DecodeResult(b)
	require.NoError(t, err)
	assert.Equal(t, r, got)
}

func TestEncodeResult_Deterministic(t *testing.T) {
	a := EncodeResult(sampleResult())
	b := EncodeResult(sampleResult())
	assert.Equal(t, a, b)
}

func TestEncodeResult_ZeroScalarsPresent(t *testing.T) {
	b := EncodeResult(domain.MarketResult{MarketID: "m"})

	seen := map[protowire.Number]bool{}
	rest := b
	for len(rest) > 0 {
		num, typ, n := protowire.ConsumeTag(rest)
		require.Greater(t, n, 0)
		rest = rest[n:]
		m := protowire.ConsumeFieldValue(num, typ, rest)
		require.Greater(t, m, 0)
		rest = rest[m:]
		seen[num] = true
	}
	for _, f := range []protowire.Number{1, 2, 3, 4, 5, 6, 7} {
		assert.True(t, seen[f], "field %d missing", f)
	}
}

func TestEncodeResult_OrderSensitive(t *testing.T) {
	r := sampleResult()
	swapped := sampleResult()
	swapped.Payouts[0], swapped.Payouts[1] = swapped.Payouts[1], swapped.Payouts[0]
	assert.NotEqual(t, EncodeResult(r), EncodeResult(swapped))
}

func TestDecodeResult_Rejects(t *testing.T) {
	valid := EncodeResult(sampleResult())

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"truncated", valid[:len(valid)-3]},
		{"trailing garbage", append(append([]byte{}, valid...), 0xff)},
		{"unknown field", protowire.AppendVarint(protowire.AppendTag(append([]byte{}, valid...), 15, protowire.VarintType), 1)},
		{"wrong wire type", protowire.AppendString(protowire.AppendTag(nil, fieldVersion, protowire.BytesType), "x")},
		{"bad version", encodeWithVersion(sampleResult(), 2)},
		{"choice out of range", func() []byte {
			r := sampleResult()
			r.WinningChoice = 7
			return EncodeResult(r)
		}()},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeResult(tc.data)
			assert.Error(t, err)
		})
	}
}

func TestDecodeResult_NonCanonical(t *testing.T) {
	// Fields out of order decode cleanly but do not match the canonical form.
	var b []byte
	b = appendString(b, fieldMarketID, "m")
	b = appendVarint(b, fieldVersion, Version)
	b = appendVarint(b, fieldWinningChoice, 0)
	b = appendVarint(b, fieldTotalPool, 0)
	b = appendVarint(b, fieldFeeAmount, 0)
	b = appendVarint(b, fieldDust, 0)
	b = appendVarint(b, fieldTimestamp, 0)

	_, err := DecodeResult(b)
	assert.ErrorIs(t, err, ErrNonCanonical)
}

// encodeWithVersion re-encodes r with a different version number.
func encodeWithVersion(r domain.MarketResult, version uint64) []byte {
	full := EncodeResult(r)
	_, _, n := protowire.ConsumeTag(full)
	_, m := protowire.ConsumeVarint(full[n:])
	b := appendVarint(nil, fieldVersion, version)
	return append(b, full[n+m:]...)
}
